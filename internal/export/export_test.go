package export_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/export"
	"faceattend/internal/logger"
	"faceattend/internal/roster"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 2, h, m, 0, 0, time.UTC)
}

func newLedger() *attendance.Ledger {
	return attendance.NewLedger(attendance.NewMemoryStore(),
		attendance.WithLocation(time.UTC),
		attendance.WithClock(func() time.Time { return at(18, 0) }))
}

// scriptedSubmitter fails the identities listed in fail.
type scriptedSubmitter struct {
	fail map[string]bool
	seen []string
}

func (s *scriptedSubmitter) Submit(_ context.Context, row attendance.ReportRow) (string, error) {
	s.seen = append(s.seen, row.Identity)
	if s.fail[row.Identity] {
		return "", errors.New("employee not found")
	}
	return "hr-" + row.Identity, nil
}

type recordingNotifier struct {
	got []export.Summary
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, s export.Summary) error {
	r.got = append(r.got, s)
	return r.err
}

func TestWriteCSV_RoundTripsLedger(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	_, _ = ledger.Transition(ctx, "Alice", at(9, 0))
	_, _ = ledger.Transition(ctx, "Bob", at(9, 30))
	_, _ = ledger.Transition(ctx, "Alice", at(17, 45))

	recs, err := ledger.ListToday(ctx)
	require.NoError(t, err)
	rep := attendance.BuildReport(ledger.Today(), recs, nil)

	dir := t.TempDir()
	path, err := export.WriteCSV(dir, rep, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "asistencias_2026-03-02.csv"), path)

	rows, err := export.ReadCSV(path)
	require.NoError(t, err)
	require.Len(t, rows, len(recs))
	for i, r := range recs {
		assert.Equal(t, r.Identity, rows[i].Employee)
		assert.Equal(t, r.CheckIn.Format(export.TimeLayout), rows[i].CheckIn)
	}
	assert.Equal(t, export.CSVRow{Employee: "Alice", CheckIn: "2026-03-02 09:00:00", CheckOut: "2026-03-02 17:45:00", WorkHours: "08:45"}, rows[0])
	assert.Equal(t, export.CSVRow{Employee: "Bob", CheckIn: "2026-03-02 09:30:00"}, rows[1])

	raw, _ := os.ReadFile(path)
	assert.True(t, strings.HasPrefix(string(raw), "Employee,Check In,Check Out,Work Hours\n"))
}

func TestWriteCSV_ReplacesPreviousSheet(t *testing.T) {
	dir := t.TempDir()
	first := attendance.Report{Date: "2026-03-02", Rows: []attendance.ReportRow{{Identity: "Alice", CheckIn: at(9, 0)}}}
	second := attendance.Report{Date: "2026-03-02"}

	_, err := export.WriteCSV(dir, first, time.UTC)
	require.NoError(t, err)
	path, err := export.WriteCSV(dir, second, time.UTC)
	require.NoError(t, err)

	rows, err := export.ReadCSV(path)
	require.NoError(t, err)
	assert.Empty(t, rows)

	entries, _ := os.ReadDir(dir)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSubmitAll_ContainsRowFailures(t *testing.T) {
	out := at(17, 0)
	rows := []attendance.ReportRow{
		{Identity: "Alice", CheckIn: at(9, 0), CheckOut: &out, Duration: "08:00"},
		{Identity: "Mallory", CheckIn: at(9, 5)},
		{Identity: "Bob", CheckIn: at(9, 10)},
	}
	sub := &scriptedSubmitter{fail: map[string]bool{"Mallory": true}}

	res := export.SubmitAll(context.Background(), sub, rows, time.UTC, at(18, 0))

	assert.Equal(t, []string{"Alice", "Mallory", "Bob"}, sub.seen)
	assert.Equal(t, 3, res.Total)
	require.Len(t, res.Succeeded, 2)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, export.ActionComplete, res.Succeeded[0].Action)
	assert.Equal(t, export.ActionCheckIn, res.Succeeded[1].Action)
	assert.Equal(t, "hr-Bob", res.Succeeded[1].CorrelationID)
	assert.Equal(t, "Mallory", res.Failed[0].Name)
	assert.False(t, res.Statuses[1].OK)

	path, err := export.WriteSubmissionLog(t.TempDir(), "2026-03-02", res)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.ElementsMatch(t, []string{"exitosos", "errores", "total", "timestamp"}, keys(doc))
	assert.Equal(t, "3", string(doc["total"]))
}

func keys(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestSimulatedSubmitter(t *testing.T) {
	rows := []attendance.ReportRow{{Identity: "Alice"}, {Identity: "Bob"}}

	ok := export.SubmitAll(context.Background(), export.NewSimulatedSubmitter(0, 0, 1), rows, time.UTC, at(18, 0))
	require.Len(t, ok.Succeeded, 2)
	assert.NotEqual(t, ok.Succeeded[0].CorrelationID, ok.Succeeded[1].CorrelationID)
	_, err := uuid.Parse(ok.Succeeded[0].CorrelationID)
	assert.NoError(t, err)

	bad := export.SubmitAll(context.Background(), export.NewSimulatedSubmitter(1, 0, 1), rows, time.UTC, at(18, 0))
	assert.Empty(t, bad.Succeeded)
	assert.Len(t, bad.Failed, 2)
}

func TestHTTPSubmitter(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		if got["employee"] == "Mallory" {
			http.Error(w, "unknown employee", http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"id": 4211}`))
	}))
	defer srv.Close()

	sub := export.NewHTTPSubmitter(srv.URL, "secret", time.UTC)

	id, err := sub.Submit(context.Background(), attendance.ReportRow{Identity: "Alice", CheckIn: at(9, 0)})
	require.NoError(t, err)
	assert.Equal(t, "4211", id)
	assert.Equal(t, "2026-03-02 09:00:00", got["check_in"])

	_, err = sub.Submit(context.Background(), attendance.ReportRow{Identity: "Mallory", CheckIn: at(9, 0)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown employee")
}

func TestSMTPNotifier(t *testing.T) {
	out := at(13, 30)
	csvPath, err := export.WriteCSV(t.TempDir(), attendance.Report{
		Date: "2026-03-02",
		Rows: []attendance.ReportRow{{Identity: "Alice", CheckIn: at(9, 0), CheckOut: &out, Duration: "04:30"}},
	}, time.UTC)
	require.NoError(t, err)

	summary := export.Summary{
		Date: "2026-03-02",
		Report: attendance.Report{
			Date:         "2026-03-02",
			Rows:         []attendance.ReportRow{{Identity: "Alice", CheckIn: at(9, 0), CheckOut: &out, Duration: "04:30"}},
			Absent:       []string{"Bob"},
			PresentCount: 1,
			AbsentCount:  1,
		},
		Submission: export.SubmissionResult{Total: 1, Statuses: []export.RowStatus{{OK: true, CorrelationID: "hr-1"}}},
		CSVPath:    csvPath,
		Location:   time.UTC,
		Generated:  at(18, 0),
	}

	t.Run("sends html with the sheet attached", func(t *testing.T) {
		var msg string
		var rcpt []string
		n, err := export.NewSMTPNotifier(export.SMTPConfig{
			Host: "smtp.example.com", Port: 587, From: "attendance@example.com",
			Recipients: []string{"hr@example.com"},
		}, logger.Nop())
		require.NoError(t, err)
		n.WithSender(func(_ context.Context, addr string, _ smtp.Auth, _ string, to []string, m []byte) error {
			assert.Equal(t, "smtp.example.com:587", addr)
			rcpt = to
			msg = string(m)
			return nil
		}, time.Millisecond)

		require.NoError(t, n.Notify(context.Background(), summary))
		assert.Equal(t, []string{"hr@example.com"}, rcpt)
		assert.Contains(t, msg, "Attendance 2026-03-02")
		assert.Contains(t, msg, `filename="asistencias_2026-03-02.csv"`)
		assert.Contains(t, msg, "text/html")

		html, err := n.Render(summary)
		require.NoError(t, err)
		assert.Contains(t, html, "Alice")
		assert.Contains(t, html, "Bob")
		assert.Contains(t, html, "04:30")
		assert.Contains(t, html, "hr-1")
	})

	t.Run("gives up after retries", func(t *testing.T) {
		calls := 0
		n, err := export.NewSMTPNotifier(export.SMTPConfig{Host: "smtp.example.com", Port: 25, Recipients: []string{"hr@example.com"}}, logger.Nop())
		require.NoError(t, err)
		n.WithSender(func(context.Context, string, smtp.Auth, string, []string, []byte) error {
			calls++
			return errors.New("connection reset")
		}, time.Millisecond)

		err = n.Notify(context.Background(), summary)
		require.Error(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("demo mode without host", func(t *testing.T) {
		n, err := export.NewSMTPNotifier(export.SMTPConfig{}, logger.Nop())
		require.NoError(t, err)
		n.WithSender(func(context.Context, string, smtp.Auth, string, []string, []byte) error {
			t.Fatal("must not send")
			return nil
		}, 0)
		assert.NoError(t, n.Notify(context.Background(), summary))
	})

	t.Run("no recipients", func(t *testing.T) {
		n, err := export.NewSMTPNotifier(export.SMTPConfig{Host: "smtp.example.com", Port: 25}, logger.Nop())
		require.NoError(t, err)
		assert.ErrorIs(t, n.Notify(context.Background(), summary), export.ErrNoRecipients)
	})

	t.Run("silent server times out", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()
		go func() {
			for {
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
			}
		}()

		port := ln.Addr().(*net.TCPAddr).Port
		n, err := export.NewSMTPNotifier(export.SMTPConfig{
			Host: "127.0.0.1", Port: port, From: "attendance@example.com",
			Recipients: []string{"hr@example.com"}, Timeout: 100 * time.Millisecond,
		}, logger.Nop())
		require.NoError(t, err)

		start := time.Now()
		err = n.Notify(context.Background(), summary)
		require.Error(t, err)
		assert.Less(t, time.Since(start), 10*time.Second)
	})

	t.Run("open rows read in progress", func(t *testing.T) {
		n, err := export.NewSMTPNotifier(export.SMTPConfig{}, logger.Nop())
		require.NoError(t, err)
		open := summary
		open.Report.Rows = []attendance.ReportRow{{Identity: "Carol", CheckIn: at(10, 0)}}
		open.Submission = export.SubmissionResult{}

		html, err := n.Render(open)
		require.NoError(t, err)
		assert.Contains(t, html, "Carol")
		assert.Contains(t, html, "in progress")
	})
}

func TestExporter(t *testing.T) {
	ctx := context.Background()

	t.Run("writes sheet, log and notification", func(t *testing.T) {
		ledger := newLedger()
		_, _ = ledger.Transition(ctx, "Alice", at(9, 0))
		_, _ = ledger.Transition(ctx, "Alice", at(13, 30))
		_, _ = ledger.Transition(ctx, "Carol", at(10, 0))

		dir := t.TempDir()
		sub := &scriptedSubmitter{fail: map[string]bool{"Carol": true}}
		notes := &recordingNotifier{}
		exp := export.New(ledger, roster.NewStaticSource("Alice", "Bob", "Carol"), sub, notes,
			export.Config{Dir: dir}, export.WithClock(func() time.Time { return at(18, 0) }))

		res, err := exp.Run(ctx)
		require.NoError(t, err)
		assert.False(t, res.Empty)
		assert.Equal(t, []string{"Bob"}, res.Report.Absent)
		assert.FileExists(t, filepath.Join(dir, "asistencias_2026-03-02.csv"))
		assert.FileExists(t, filepath.Join(dir, "submissions_2026-03-02.json"))
		assert.Len(t, res.Submission.Succeeded, 1)
		assert.Len(t, res.Submission.Failed, 1)

		require.Len(t, notes.got, 1)
		assert.Equal(t, res.CSVPath, notes.got[0].CSVPath)
		assert.Equal(t, 2, notes.got[0].Report.PresentCount)

		again, err := exp.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, res.CSVPath, again.CSVPath)
		entries, _ := os.ReadDir(dir)
		assert.Len(t, entries, 2)
	})

	t.Run("empty day is skipped", func(t *testing.T) {
		dir := t.TempDir()
		notes := &recordingNotifier{}
		exp := export.New(newLedger(), roster.NewStaticSource("Alice"), &scriptedSubmitter{}, notes, export.Config{Dir: dir})

		res, err := exp.Run(ctx)
		require.NoError(t, err)
		assert.True(t, res.Empty)
		assert.Empty(t, notes.got)
		entries, _ := os.ReadDir(dir)
		assert.Empty(t, entries)
	})

	t.Run("empty day is reported when asked", func(t *testing.T) {
		notes := &recordingNotifier{}
		exp := export.New(newLedger(), roster.NewStaticSource("Alice", "Bob"), &scriptedSubmitter{}, notes,
			export.Config{Dir: t.TempDir(), NotifyEmpty: true})

		res, err := exp.Run(ctx)
		require.NoError(t, err)
		require.Len(t, notes.got, 1)
		assert.Equal(t, []string{"Alice", "Bob"}, notes.got[0].Report.Absent)
		assert.Empty(t, res.CSVPath)
	})

	t.Run("notification failure is not fatal", func(t *testing.T) {
		ledger := newLedger()
		_, _ = ledger.Transition(ctx, "Alice", at(9, 0))
		notes := &recordingNotifier{err: errors.New("smtp down")}
		exp := export.New(ledger, roster.NewStaticSource("Alice"), &scriptedSubmitter{}, notes, export.Config{Dir: t.TempDir()})

		res, err := exp.Run(ctx)
		require.NoError(t, err)
		assert.EqualError(t, res.NotifyErr, "smtp down")
		assert.FileExists(t, res.CSVPath)
	})
}
