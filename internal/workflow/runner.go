// Package workflow drives the scan workbench through a per-job state machine:
// each shared list is unlocked and saved to the account, then scanned with a
// fixed criteria, and its results exported, captured and parsed. Jobs run one at
// a time and a job's faults never leak into the next job.
package workflow

import (
	"context"
	"errors"
	"fmt"

	"chartwatch/internal/browser"
	"chartwatch/internal/components/assert"
	"chartwatch/internal/components/telemetry"
	"chartwatch/internal/download"
	"chartwatch/internal/windows"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	report_transition = "transition"
	report_job        = "job"
	report_run        = "run"
)

var tracer = telemetry.Tracer("chartwatch/workflow")

type Runner struct {
	d         browser.Driver
	tel       telemetry.API
	cfg       Config
	windows   *windows.Manager
	downloads download.Coordinator
}

func NewRunner(d browser.Driver, tel telemetry.API, wm *windows.Manager, downloads download.Coordinator, cfg Config) *Runner {
	assert.NotNil(d)
	assert.NotNil(tel)
	assert.NotNil(wm)
	assert.NotEmptyStr(cfg.ScanURL)
	assert.NotEmptyStr(cfg.LoginURL)
	assert.NotEmptyStr(cfg.OutputDir)
	assert.NotEmptyStr(cfg.DownloadDir)
	if cfg.Criteria == "" {
		cfg.Criteria = DefaultCriteria
	}
	return &Runner{
		d:         d,
		tel:       telemetry.NewScopedAPI("workflow", tel),
		cfg:       cfg,
		windows:   wm,
		downloads: downloads,
	}
}

func (r *Runner) transition(job *ScanJob, to State) {
	from := job.State
	err := job.advance(to)
	if err != nil {
		// a step named an impossible successor, treat it as a job fault
		r.tel.ReportBroken(report_transition, job.Target.Key, err)
		if job.Err == nil {
			job.Err = err
		}
		if !job.State.Terminal() {
			job.State = StateFailed
			job.History = append(job.History, StateFailed)
		}
		return
	}
	r.tel.ReportDebug(report_transition, job.Target.Key, string(from), string(to))
}

func (r *Runner) fault(job *ScanJob, err error) {
	job.Err = fmt.Errorf("%s: %w", job.State, err)
	r.tel.ReportBroken(report_job, job.Target.Key, job.Err)
	r.transition(job, StateCleaningUp)
}

// drive advances job until it reaches pause or a terminal state. The window set
// is leased for the duration and always reconciled before returning.
func (r *Runner) drive(ctx context.Context, job *ScanJob, pause State) {
	lease, err := r.windows.Acquire()
	if err != nil {
		r.fault(job, err)
		r.finish(job)
		return
	}
	defer func() {
		err := lease.Release(ctx)
		if err != nil {
			r.tel.ReportWarning(report_job, job.Target.Key, err)
		}
	}()

	for job.State != pause && !job.State.Terminal() {
		if job.State == StateCleaningUp {
			err := lease.Release(ctx)
			if err != nil {
				r.tel.ReportWarning(report_job, job.Target.Key, err)
			}
			r.finish(job)
			return
		}
		if ctx.Err() != nil {
			r.fault(job, ctx.Err())
			continue
		}

		run := r.stepFor(job.State)
		if run == nil {
			r.fault(job, fmt.Errorf("no step for state %s", job.State))
			continue
		}
		stepCtx, span := tracer.Start(ctx, string(job.State))
		span.SetAttributes(attribute.String("job", job.Target.Key))
		next, err := run(stepCtx, job, lease)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if err != nil {
			r.fault(job, err)
			continue
		}
		r.transition(job, next)
	}
}

func (r *Runner) finish(job *ScanJob) {
	if job.State != StateCleaningUp {
		r.transition(job, StateCleaningUp)
	}
	if job.Err != nil {
		r.transition(job, StateFailed)
		return
	}
	r.transition(job, StateDone)
}

// abandon fails a job that never got to run because the run ended early.
func (r *Runner) abandon(job *ScanJob, err error) {
	if job.State.Terminal() {
		return
	}
	if job.Err == nil {
		job.Err = err
	}
	r.finish(job)
}

// Run processes targets strictly in order and returns one job per target. The
// returned error is only set for faults that end the whole run, every other
// fault is recorded on its job.
func (r *Runner) Run(ctx context.Context, targets []Target) ([]*ScanJob, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	jobs := make([]*ScanJob, len(targets))
	for i, t := range targets {
		jobs[i] = NewScanJob(t)
	}

	unlocked := 0
	for _, job := range jobs {
		r.tel.ReportDebug(report_run, "unlocking", job.Target.Key)
		r.drive(ctx, job, StateLoggingIn)
		if job.State == StateLoggingIn {
			unlocked++
		}
	}
	if unlocked == 0 {
		span.SetStatus(codes.Error, ErrPrerequisite.Error())
		return jobs, ErrPrerequisite
	}

	for i, job := range jobs {
		if job.State.Terminal() {
			continue
		}
		r.tel.ReportDebug(report_run, "scanning", job.Target.Key, job.ChartlistTitle)
		r.drive(ctx, job, "")

		if errors.Is(job.Err, ErrAuthentication) {
			for _, rest := range jobs[i+1:] {
				r.abandon(rest, job.Err)
			}
			span.SetStatus(codes.Error, job.Err.Error())
			return jobs, job.Err
		}
		r.tel.ReportCount(report_run, int64(job.Result.StockCount))
	}
	return jobs, nil
}
