// Package history is an optional sqlite ledger of emitted run results. Besides
// the raw result it keeps the update date seen for every section, so a later
// run can tell whether a section changed without being told the known date.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/chrono"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/result"
	"chartwatch/pkg/migrations"

	"github.com/google/uuid"
)

//go:embed schema.sql
var Schema string

const report_record = "record"

// Entry is one recorded run.
type Entry struct {
	ID        string
	Command   string
	RunDate   string
	CreatedAt time.Time
	Success   bool
	Error     string
	Result    json.RawMessage
}

type Store struct {
	db    *sql.DB
	tel   telemetry.API
	clock chrono.API
}

// Open opens or creates the ledger at path, ":memory:" is accepted.
func Open(ctx context.Context, path string, tel telemetry.API, clock chrono.API) (*Store, error) {
	db, err := migrations.OpenAndMigrateDB(ctx, Schema, path)
	if err != nil {
		return nil, err
	}
	return New(db, tel, clock), nil
}

func New(db *sql.DB, tel telemetry.API, clock chrono.API) *Store {
	assert.NotNil(db)
	assert.NotNil(tel)
	assert.NotNil(clock)
	return &Store{
		db:    db,
		tel:   telemetry.NewScopedAPI("history", tel),
		clock: clock,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, command string, run *result.Run) (string, error) {
	data, err := json.Marshal(run)
	if err != nil {
		return "", fmt.Errorf("encode run: %w", err)
	}
	id := uuid.NewString()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO runs (id, command, run_date, created_at, success, error, result)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, command, run.Date, s.clock.Now().UnixMilli(), run.Success, result.Str(run.Error), string(data),
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for _, key := range run.Keys() {
		entry, _ := run.Entry(key)
		research, ok := entry.(result.Research)
		if !ok || research.DateOnPage == nil {
			continue
		}
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO section_dates (run_id, key, date_on_page) VALUES (?, ?, ?)`,
			id, key, *research.DateOnPage,
		)
		if err != nil {
			return "", fmt.Errorf("insert date of %s: %w", key, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return "", err
	}
	s.tel.ReportDebug(report_record, id, command, run.Success)
	return id, nil
}

// List returns up to limit runs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, command, run_date, created_at, success, error, result
		FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e         Entry
			createdAt int64
			errText   sql.NullString
			data      string
		)
		err := rows.Scan(&e.ID, &e.Command, &e.RunDate, &createdAt, &e.Success, &errText, &data)
		if err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(createdAt).In(s.clock.Location())
		e.Error = errText.String
		e.Result = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}

// KnownDates maps every section key to the date recorded by the most recent
// successful run that saw it.
func (s *Store) KnownDates(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT d.key, d.date_on_page
		FROM section_dates d JOIN runs r ON r.id = d.run_id
		WHERE r.success = 1
		ORDER BY r.created_at DESC, r.rowid DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key, date string
		err := rows.Scan(&key, &date)
		if err != nil {
			return nil, err
		}
		if _, seen := out[key]; !seen {
			out[key] = date
		}
	}
	return out, rows.Err()
}
