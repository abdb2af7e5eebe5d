// Package app assembles the service components from configuration. It is
// shared by the daemon and the offline tools.
package app

import (
	"context"
	"fmt"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/export"
	"faceattend/internal/faceclient"
	"faceattend/internal/logger"
	"faceattend/internal/metrics"
	"faceattend/internal/queue"
	"faceattend/internal/roster"
	"faceattend/internal/store"
)

// Ledger is an opened ledger and the database behind it.
type Ledger struct {
	*attendance.Ledger
	DB *store.DB // nil for the memory driver
}

// Close releases the database.
func (l *Ledger) Close() error { return l.DB.Close() }

// Healthy reports whether the backing store answers.
func (l *Ledger) Healthy(ctx context.Context) error {
	if l.DB == nil {
		return nil
	}
	if !l.DB.Healthy(ctx) {
		return fmt.Errorf("%s not reachable", l.DB.Driver)
	}
	return nil
}

// OpenLedger opens the configured store, migrates it and wraps it in a ledger.
func OpenLedger(ctx context.Context, cfg config.App) (*Ledger, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var db *store.DB
	var st attendance.Store
	switch cfg.StoreDriver {
	case "memory":
		st = attendance.NewMemoryStore()
	case "sqlite":
		db, err = store.NewSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		db, err = store.NewDB(ctx, cfg.DatabaseURL)
	default:
		err = fmt.Errorf("unknown store_driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, err
	}

	if db != nil {
		repo := attendance.NewRepository(db.Client, db.Driver)
		if err := repo.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		st = repo
	}

	return &Ledger{
		Ledger: attendance.NewLedger(st, attendance.WithLocation(loc)),
		DB:     db,
	}, nil
}

// NewRoster prefers the configured list over the enrollment directory.
func NewRoster(cfg config.App) roster.Source {
	if len(cfg.Roster) > 0 {
		return roster.NewStaticSource(cfg.Roster...)
	}
	return roster.NewDirSource(cfg.KnownFacesDir)
}

// NewSubmitter posts to the configured endpoint or simulates the HR system.
func NewSubmitter(cfg config.App, loc *time.Location) export.Submitter {
	if cfg.SubmitEndpoint != "" {
		return export.NewHTTPSubmitter(cfg.SubmitEndpoint, "", loc)
	}
	return export.NewSimulatedSubmitter(cfg.SubmitFailureRatio, 80*time.Millisecond, 0)
}

// NewNotifier builds the mail notifier; without an SMTP host it only logs.
func NewNotifier(cfg config.App, log logger.Logger) (export.Notifier, error) {
	return export.NewSMTPNotifier(export.SMTPConfig{
		Host:       cfg.SMTPHost,
		Port:       cfg.SMTPPort,
		Username:   cfg.SMTPUsername,
		Password:   cfg.SMTPPassword,
		From:       cfg.SMTPFrom,
		Recipients: cfg.NotifyRecipients,
	}, log)
}

// NewExporter wires the export pipeline around ledger.
func NewExporter(cfg config.App, ledger *attendance.Ledger, rec *metrics.Recorder, log logger.Logger) (*export.Exporter, error) {
	notifier, err := NewNotifier(cfg, log.Named("notify"))
	if err != nil {
		return nil, err
	}
	return export.New(ledger, NewRoster(cfg), NewSubmitter(cfg, ledger.Location()), notifier,
		export.Config{Dir: cfg.ExportsDir, NotifyEmpty: cfg.NotifyEmpty},
		export.WithMetrics(rec),
		export.WithLogger(log.Named("export")),
	), nil
}

// NewFaceClient builds the identity service client.
func NewFaceClient(cfg config.App) *faceclient.Client {
	c := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	c.MockIdentity = cfg.FaceMockIdentity
	if cfg.FaceThreshold > 0 {
		c.Threshold = cfg.FaceThreshold
	}
	return c
}

// NewQueue returns the frame queue and, for the redis backend, its client.
func NewQueue(ctx context.Context, cfg config.App) (queue.Queue, *store.Redis, error) {
	if cfg.QueueBackend == "redis" {
		rdb := store.NewRedis(cfg.RedisAddr)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Client.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis queue at %s unreachable: %w", cfg.RedisAddr, err)
		}
		return queue.NewRedisQueue(rdb.Client, cfg.QueueKey), rdb, nil
	}
	return queue.NewInMemory(cfg.QueueSize), nil, nil
}
