package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"faceattend/internal/attendance"
)

// Submitter pushes one report row to the external HR system and returns the
// identifier the system assigned to it.
type Submitter interface {
	Submit(ctx context.Context, row attendance.ReportRow) (string, error)
}

// Row actions as reported in the submission log.
const (
	ActionCheckIn  = "check_in"
	ActionComplete = "complete"
)

// SubmittedRow is a row the external system accepted.
type SubmittedRow struct {
	Name          string `json:"name"`
	CheckIn       string `json:"check_in"`
	CheckOut      string `json:"check_out"`
	WorkHours     string `json:"work_hours"`
	Action        string `json:"action"`
	CorrelationID string `json:"correlation_id"`
}

// FailedRow is a row the external system refused.
type FailedRow struct {
	Name    string `json:"name"`
	CheckIn string `json:"check_in"`
	Error   string `json:"error"`
}

// SubmissionResult is the outcome of one batch. It is persisted as the daily
// submission log.
type SubmissionResult struct {
	Succeeded []SubmittedRow `json:"exitosos"`
	Failed    []FailedRow    `json:"errores"`
	Total     int            `json:"total"`
	Timestamp time.Time      `json:"timestamp"`

	// Statuses holds one entry per submitted row, in row order.
	Statuses []RowStatus `json:"-"`
}

// RowStatus is the submission state of one report row.
type RowStatus struct {
	OK            bool
	CorrelationID string
	Err           string
}

// SubmitAll submits every row. A failed row is recorded and the batch goes on.
func SubmitAll(ctx context.Context, s Submitter, rows []attendance.ReportRow, loc *time.Location, now time.Time) SubmissionResult {
	res := SubmissionResult{
		Succeeded: []SubmittedRow{},
		Failed:    []FailedRow{},
		Total:     len(rows),
		Timestamp: now,
		Statuses:  make([]RowStatus, 0, len(rows)),
	}
	for _, r := range rows {
		checkIn := r.CheckIn
		id, err := s.Submit(ctx, r)
		if err != nil {
			res.Failed = append(res.Failed, FailedRow{
				Name:    r.Identity,
				CheckIn: FormatTime(&checkIn, loc),
				Error:   err.Error(),
			})
			res.Statuses = append(res.Statuses, RowStatus{Err: err.Error()})
			continue
		}
		action := ActionCheckIn
		if r.CheckOut != nil {
			action = ActionComplete
		}
		res.Succeeded = append(res.Succeeded, SubmittedRow{
			Name:          r.Identity,
			CheckIn:       FormatTime(&checkIn, loc),
			CheckOut:      FormatTime(r.CheckOut, loc),
			WorkHours:     r.Duration,
			Action:        action,
			CorrelationID: id,
		})
		res.Statuses = append(res.Statuses, RowStatus{OK: true, CorrelationID: id})
	}
	return res
}

// SubmissionLogName is the file name of the submission log for date.
func SubmissionLogName(date string) string { return "submissions_" + date + ".json" }

// WriteSubmissionLog persists res in dir and returns the file path.
func WriteSubmissionLog(dir, date string, res SubmissionResult) (string, error) {
	return writeFileAtomic(dir, SubmissionLogName(date), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	})
}

// SimulatedSubmitter stands in for the HR system: every row gets a fresh
// correlation id after a short delay, and a configurable share of rows fails.
type SimulatedSubmitter struct {
	FailureRatio float64
	Latency      time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulatedSubmitter creates a simulator. seed 0 picks a time-based seed.
func NewSimulatedSubmitter(failureRatio float64, latency time.Duration, seed int64) *SimulatedSubmitter {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedSubmitter{
		FailureRatio: failureRatio,
		Latency:      latency,
		rnd:          rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedSubmitter) Submit(ctx context.Context, row attendance.ReportRow) (string, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	fail := s.FailureRatio > 0 && s.rnd.Float64() < s.FailureRatio
	s.mu.Unlock()
	if fail {
		return "", fmt.Errorf("simulated rejection of %s", row.Identity)
	}
	return uuid.NewString(), nil
}

// HTTPSubmitter posts rows as JSON to an HR system endpoint.
type HTTPSubmitter struct {
	Endpoint string
	Token    string
	HTTP     *http.Client
	Location *time.Location
}

// NewHTTPSubmitter creates a submitter for endpoint.
func NewHTTPSubmitter(endpoint, token string, loc *time.Location) *HTTPSubmitter {
	return &HTTPSubmitter{
		Endpoint: endpoint,
		Token:    token,
		Location: loc,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

type submitRequest struct {
	Employee  string `json:"employee"`
	CheckIn   string `json:"check_in"`
	CheckOut  string `json:"check_out,omitempty"`
	WorkHours string `json:"work_hours,omitempty"`
}

func (h *HTTPSubmitter) Submit(ctx context.Context, row attendance.ReportRow) (string, error) {
	checkIn := row.CheckIn
	body, err := json.Marshal(submitRequest{
		Employee:  row.Identity,
		CheckIn:   FormatTime(&checkIn, h.Location),
		CheckOut:  FormatTime(row.CheckOut, h.Location),
		WorkHours: row.Duration,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("submit rejected %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	id := string(bytes.Trim(out.ID, `"`))
	if id == "" || id == "null" {
		return "", fmt.Errorf("submit response has no id")
	}
	return id, nil
}
