// Package result is the single JSON object a run writes to stdout.
package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
)

// Str returns nil for the empty string, which is how absent fields are encoded.
func Str(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Research is the entry of a members-site section.
type Research struct {
	DateOnPage  *string `json:"date_on_page"`
	IsNew       bool    `json:"is_new"`
	FilePath    *string `json:"file_path"`
	Credential  *string `json:"credential"`
	ResourceURL *string `json:"resource_url"`
}

// Scan is the entry of a scan job.
type Scan struct {
	CSVPath       *string  `json:"csv_path"`
	ImagePath     *string  `json:"image_path"`
	StockCount    int      `json:"stock_count"`
	Symbols       []string `json:"symbols"`
	ChartlistName *string  `json:"chartlist_name"`
}

// EmptyScan is the entry of a scan that matched nothing or failed.
func EmptyScan(chartlist string) Scan {
	return Scan{Symbols: []string{}, ChartlistName: Str(chartlist)}
}

var reserved = []string{"success", "error", "date", "data_dir"}

// Run is the whole result. Job entries keep the order they were set in.
type Run struct {
	Success bool
	Error   string
	Date    string
	DataDir string

	order   []string
	entries map[string]any
}

func NewRun(date, dataDir string) *Run {
	return &Run{
		Date:    date,
		DataDir: dataDir,
		entries: map[string]any{},
	}
}

// Set adds or replaces the entry of key.
func (r *Run) Set(key string, entry any) error {
	if slices.Contains(reserved, key) {
		return fmt.Errorf("job key %q collides with a result field", key)
	}
	if _, ok := r.entries[key]; !ok {
		r.order = append(r.order, key)
	}
	r.entries[key] = entry
	return nil
}

func (r *Run) Entry(key string) (any, bool) {
	e, ok := r.entries[key]
	return e, ok
}

func (r *Run) Keys() []string {
	return slices.Clone(r.order)
}

// Fail marks the run unsuccessful with err as the human readable reason.
func (r *Run) Fail(err error) {
	r.Success = false
	if err != nil {
		r.Error = err.Error()
	}
}

func (r *Run) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	fields := []struct {
		key   string
		value any
	}{
		{"success", r.Success},
		{"error", Str(r.Error)},
		{"date", r.Date},
		{"data_dir", r.DataDir},
	}
	for _, f := range fields {
		err := write(f.key, f.value)
		if err != nil {
			return nil, err
		}
	}
	for _, key := range r.order {
		err := write(key, r.entries[key])
		if err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Emit writes r as one line of JSON.
func Emit(w io.Writer, r *Run) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
