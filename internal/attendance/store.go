package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists ledger records. Uniqueness of (identity, date) is enforced by
// the Ledger, not by the store.
type Store interface {
	// Find returns the latest record of identity on date, or nil when there is none.
	Find(ctx context.Context, identity, date string) (*Record, error)
	// Insert writes a new record and assigns its ID.
	Insert(ctx context.Context, rec *Record) error
	// SetCheckOut closes the record with the given ID.
	SetCheckOut(ctx context.Context, id int64, at time.Time) error
	// ListByDate returns the records of date ordered by check-in.
	ListByDate(ctx context.Context, date string) ([]Record, error)
}

// MemoryStore keeps records in process memory. Used for dev runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []Record
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Find(_ context.Context, identity, date string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		r := m.records[i]
		if r.Identity == identity && r.Date == date {
			return cloneRecord(r), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.records = append(m.records, *cloneRecord(*rec))
	return nil
}

func (m *MemoryStore) SetCheckOut(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			t := at
			m.records[i].CheckOut = &t
			return nil
		}
	}
	return ErrRecordNotFound
}

func (m *MemoryStore) ListByDate(_ context.Context, date string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.Date == date {
			out = append(out, *cloneRecord(r))
		}
	}
	sortByCheckIn(out)
	return out, nil
}

func cloneRecord(r Record) *Record {
	c := r
	if r.CheckOut != nil {
		t := *r.CheckOut
		c.CheckOut = &t
	}
	return &c
}

func sortByCheckIn(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CheckIn.Before(recs[j].CheckIn)
	})
}
