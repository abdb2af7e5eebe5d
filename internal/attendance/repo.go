package attendance

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Driver names as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// Repository persists ledger records in SQLite or Postgres.
type Repository struct {
	db     *sql.DB
	driver string
}

// NewRepository creates a repo for a database opened with driver.
func NewRepository(db *sql.DB, driver string) *Repository {
	return &Repository{db: db, driver: driver}
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS attendance (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		check_in   DATETIME,
		check_out  DATETIME,
		date       TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_name_date ON attendance(name, date);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS attendance (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		check_in   TIMESTAMPTZ,
		check_out  TIMESTAMPTZ,
		date       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_attendance_name_date ON attendance(name, date);
	CREATE INDEX IF NOT EXISTS idx_attendance_date ON attendance(date);
`

// Migrate creates the attendance table when missing.
func (r *Repository) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if r.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Find returns the latest record of identity on date.
func (r *Repository) Find(ctx context.Context, identity, date string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, name, check_in, check_out, date, created_at
		FROM attendance
		WHERE name = ? AND date = ?
		ORDER BY id DESC
		LIMIT 1
	`), identity, date)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Insert writes a new open record.
func (r *Repository) Insert(ctx context.Context, rec *Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	row := r.db.QueryRowContext(ctx, r.rebind(`
		INSERT INTO attendance (name, check_in, date, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id
	`), rec.Identity, rec.CheckIn, rec.Date, rec.CreatedAt)
	return row.Scan(&rec.ID)
}

// SetCheckOut closes the record with id.
func (r *Repository) SetCheckOut(ctx context.Context, id int64, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE attendance SET check_out = ? WHERE id = ?`), at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListByDate returns the records of date ordered by check-in.
func (r *Repository) ListByDate(ctx context.Context, date string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, name, check_in, check_out, date, created_at
		FROM attendance
		WHERE date = ?
		ORDER BY check_in, id
	`), date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec      Record
		checkIn  sql.NullTime
		checkOut sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.Identity, &checkIn, &checkOut, &rec.Date, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if checkIn.Valid {
		rec.CheckIn = checkIn.Time
	}
	if checkOut.Valid {
		t := checkOut.Time
		rec.CheckOut = &t
	}
	return &rec, nil
}

// rebind turns ? placeholders into $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
