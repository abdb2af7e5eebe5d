package export

import (
	"context"
	"fmt"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/roster"
)

// Config controls where and when an export writes.
type Config struct {
	Dir string
	// NotifyEmpty sends a notification for days without records.
	NotifyEmpty bool
}

// Result describes one export run.
type Result struct {
	Date       string
	Report     attendance.Report
	CSVPath    string
	LogPath    string
	Submission SubmissionResult
	Empty      bool
	// NotifyErr is set when the notification could not be delivered; the
	// export itself still succeeded.
	NotifyErr error
}

// Option configures an Exporter.
type Option func(*Exporter)

func WithMetrics(rec *metrics.Recorder) Option {
	return func(e *Exporter) { e.metrics = rec }
}

func WithLogger(log logger.Logger) Option {
	return func(e *Exporter) {
		if log != nil {
			e.log = log
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// Exporter produces the end-of-day artifacts from the ledger.
type Exporter struct {
	ledger    *attendance.Ledger
	roster    roster.Source
	submitter Submitter
	notifier  Notifier
	cfg       Config

	metrics *metrics.Recorder
	log     logger.Logger
	now     func() time.Time
}

// New creates an exporter.
func New(ledger *attendance.Ledger, src roster.Source, sub Submitter, notifier Notifier, cfg Config, opts ...Option) *Exporter {
	if cfg.Dir == "" {
		cfg.Dir = "exports"
	}
	e := &Exporter{
		ledger:    ledger,
		roster:    src,
		submitter: sub,
		notifier:  notifier,
		cfg:       cfg,
		log:       logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run exports the current day.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	return e.RunDate(ctx, e.ledger.Today())
}

// RunDate exports date. Running it twice for the same date rewrites the same files.
func (e *Exporter) RunDate(ctx context.Context, date string) (Result, error) {
	res := Result{Date: date}
	loc := e.ledger.Location()

	var records []attendance.Record
	err := e.ledger.Snapshot(ctx, date, func(recs []attendance.Record) error {
		records = recs
		return nil
	})
	if err != nil {
		e.metrics.Export("failed")
		return res, fmt.Errorf("snapshot ledger: %w", err)
	}

	entries, err := e.roster.List(ctx)
	if err != nil {
		e.log.Warn(ctx, "roster unavailable, absentees unknown", logger.Error(err))
		entries = nil
	}
	res.Report = attendance.BuildReport(date, records, entries)

	if len(records) == 0 {
		res.Empty = true
		e.metrics.Export("empty")
		e.log.Info(ctx, "no records to export", logger.String("date", date))
		if e.cfg.NotifyEmpty {
			res.NotifyErr = e.notify(ctx, Summary{Date: date, Report: res.Report, Location: loc, Generated: e.now()})
		}
		return res, nil
	}

	res.CSVPath, err = WriteCSV(e.cfg.Dir, res.Report, loc)
	if err != nil {
		e.metrics.Export("failed")
		return res, fmt.Errorf("write csv: %w", err)
	}
	e.log.Info(ctx, "csv exported", logger.String("path", res.CSVPath), logger.Int("rows", len(res.Report.Rows)))

	res.Submission = SubmitAll(ctx, e.submitter, res.Report.Rows, loc, e.now())
	for _, st := range res.Submission.Statuses {
		if st.OK {
			e.metrics.Submission(metrics.StatusOK)
		} else {
			e.metrics.Submission(metrics.StatusFailed)
		}
	}
	for _, f := range res.Submission.Failed {
		e.log.Warn(ctx, "row submission failed", logger.String("identity", f.Name), logger.String("error", f.Error))
	}

	res.LogPath, err = WriteSubmissionLog(e.cfg.Dir, date, res.Submission)
	if err != nil {
		e.metrics.Export("failed")
		return res, fmt.Errorf("write submission log: %w", err)
	}
	e.log.Info(ctx, "rows submitted",
		logger.Int("succeeded", len(res.Submission.Succeeded)),
		logger.Int("total", res.Submission.Total),
		logger.String("log", res.LogPath))

	res.NotifyErr = e.notify(ctx, Summary{
		Date:       date,
		Report:     res.Report,
		Submission: res.Submission,
		CSVPath:    res.CSVPath,
		Location:   loc,
		Generated:  e.now(),
	})
	e.metrics.Export("ok")
	return res, nil
}

func (e *Exporter) notify(ctx context.Context, s Summary) error {
	if e.notifier == nil {
		return nil
	}
	if err := e.notifier.Notify(ctx, s); err != nil {
		e.metrics.NotifyFailed()
		e.log.Error(ctx, "notification failed", logger.String("date", s.Date), logger.Error(err))
		return err
	}
	return nil
}
