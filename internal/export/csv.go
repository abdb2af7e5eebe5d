// Package export turns a day of attendance into its outputs: the CSV sheet,
// the submission to the external HR system and the summary notification.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"faceattend/internal/attendance"
)

// TimeLayout formats timestamps in every exported artifact.
const TimeLayout = "2006-01-02 15:04:05"

var csvHeader = []string{"Employee", "Check In", "Check Out", "Work Hours"}

// CSVRow is one line of an attendance sheet as written.
type CSVRow struct {
	Employee  string
	CheckIn   string
	CheckOut  string
	WorkHours string
}

// CSVName is the file name of the sheet for date.
func CSVName(date string) string { return "asistencias_" + date + ".csv" }

// FormatTime renders t in loc, or "" for a missing timestamp.
func FormatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimeLayout)
}

// WriteCSV writes the report rows to dir and returns the file path.
// An existing sheet for the same date is replaced.
func WriteCSV(dir string, report attendance.Report, loc *time.Location) (string, error) {
	return writeFileAtomic(dir, CSVName(report.Date), func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, r := range report.Rows {
			checkIn := r.CheckIn
			if err := cw.Write([]string{
				r.Identity,
				FormatTime(&checkIn, loc),
				FormatTime(r.CheckOut, loc),
				r.Duration,
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

// ReadCSV parses a sheet written by WriteCSV.
func ReadCSV(path string) ([]CSVRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = len(csvHeader)
	lines, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("parse %s: missing header", filepath.Base(path))
	}
	for i, h := range csvHeader {
		if lines[0][i] != h {
			return nil, fmt.Errorf("parse %s: unexpected column %q", filepath.Base(path), lines[0][i])
		}
	}

	rows := make([]CSVRow, 0, len(lines)-1)
	for _, l := range lines[1:] {
		rows = append(rows, CSVRow{Employee: l[0], CheckIn: l[1], CheckOut: l[2], WorkHours: l[3]})
	}
	return rows, nil
}

// writeFileAtomic writes name in dir through a temp file and a rename, so
// readers never see a partial file.
func writeFileAtomic(dir, name string, write func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create exports dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("rename %s: %w", name, err)
	}
	return path, nil
}
