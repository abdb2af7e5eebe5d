package attendance

import (
	"fmt"
	"time"
)

// ReportRow is one ledger record as it appears in the daily report.
type ReportRow struct {
	Identity string
	CheckIn  time.Time
	CheckOut *time.Time
	// Duration is "HH:MM" for closed records and empty while the day is open.
	Duration string
	Present  bool
}

// Report is the reconciled view of a day: who came, who did not.
type Report struct {
	Date         string
	Rows         []ReportRow
	Absent       []string
	PresentCount int
	AbsentCount  int
}

// BuildReport joins the records of a day with the roster. Rows follow record
// order; absentees follow roster order.
func BuildReport(date string, records []Record, roster []RosterEntry) Report {
	present := make(map[string]struct{}, len(records))
	rows := make([]ReportRow, 0, len(records))
	for _, r := range records {
		present[r.Identity] = struct{}{}
		rows = append(rows, ReportRow{
			Identity: r.Identity,
			CheckIn:  r.CheckIn,
			CheckOut: r.CheckOut,
			Duration: FormatDuration(r.CheckIn, r.CheckOut),
			Present:  true,
		})
	}

	absent := make([]string, 0, len(roster))
	seen := make(map[string]struct{}, len(roster))
	for _, e := range roster {
		if _, ok := present[e.Identity]; ok {
			continue
		}
		if _, dup := seen[e.Identity]; dup {
			continue
		}
		seen[e.Identity] = struct{}{}
		absent = append(absent, e.Identity)
	}

	return Report{
		Date:         date,
		Rows:         rows,
		Absent:       absent,
		PresentCount: len(present),
		AbsentCount:  len(absent),
	}
}

// FormatDuration renders checkOut-checkIn as HH:MM truncated to the minute.
// Missing, zero or inverted timestamps yield "".
func FormatDuration(checkIn time.Time, checkOut *time.Time) string {
	if checkIn.IsZero() || checkOut == nil || checkOut.IsZero() || checkOut.Before(checkIn) {
		return ""
	}
	minutes := int64(checkOut.Sub(checkIn) / time.Minute)
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
