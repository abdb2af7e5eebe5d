package attendance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Ledger owns the lifecycle of attendance records: NoRecord -> CheckedIn -> Complete
// per (identity, date).
//
// Transitions for different identities run concurrently; transitions for the same
// (identity, date) are serialised. Snapshot excludes all transitions while it runs.
type Ledger struct {
	store Store
	now   func() time.Time
	loc   *time.Location

	mu   sync.RWMutex // read side: transitions, write side: snapshots
	keys *keyedMutex

	idxMu   sync.Mutex
	idxDate string
	index   map[string]*Record // identity -> record of idxDate, nil when known absent
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock overrides the clock used for "today" and created_at.
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store: store,
		now:   time.Now,
		loc:   time.Local,
		keys:  newKeyedMutex(),
		index: make(map[string]*Record),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Location returns the timezone of ledger days.
func (l *Ledger) Location() *time.Location { return l.loc }

// Today returns the current day key.
func (l *Ledger) Today() string { return DateOf(l.now(), l.loc) }

// Transition applies one accepted detection of identity at now.
// A store failure aborts the transition and leaves the ledger unchanged.
func (l *Ledger) Transition(ctx context.Context, identity string, now time.Time) (Outcome, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", ErrEmptyIdentity
	}
	if identity == UnknownIdentity {
		return "", ErrUnknownIdentity
	}
	date := DateOf(now, l.loc)

	l.mu.RLock()
	defer l.mu.RUnlock()
	unlock := l.keys.Lock(identity + "|" + date)
	defer unlock()

	rec, err := l.lookup(ctx, identity, date)
	if err != nil {
		return "", err
	}

	switch StateOf(rec) {
	case NoRecord:
		created := &Record{
			Identity:  identity,
			CheckIn:   now,
			Date:      date,
			CreatedAt: l.now(),
		}
		if err := l.store.Insert(ctx, created); err != nil {
			return "", fmt.Errorf("check in %s: %w", identity, err)
		}
		l.remember(identity, date, created)
		return OutcomeCheckedIn, nil

	case CheckedIn:
		if !now.After(rec.CheckIn) {
			return "", fmt.Errorf("check out %s at %s: %w", identity, now.Format(time.RFC3339), ErrCheckOutBeforeCheckIn)
		}
		if err := l.store.SetCheckOut(ctx, rec.ID, now); err != nil {
			return "", fmt.Errorf("check out %s: %w", identity, err)
		}
		closed := cloneRecord(*rec)
		closed.CheckOut = &now
		l.remember(identity, date, closed)
		return OutcomeCheckedOut, nil

	default:
		return OutcomeAlreadyComplete, nil
	}
}

// State returns where identity stands on date.
func (l *Ledger) State(ctx context.Context, identity, date string) (State, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	unlock := l.keys.Lock(identity + "|" + date)
	defer unlock()

	rec, err := l.lookup(ctx, identity, date)
	if err != nil {
		return NoRecord, err
	}
	return StateOf(rec), nil
}

// ListToday returns today's records ordered by check-in.
func (l *Ledger) ListToday(ctx context.Context) ([]Record, error) {
	return l.ListDate(ctx, l.Today())
}

// ListDate returns the records of date ordered by check-in.
func (l *Ledger) ListDate(ctx context.Context, date string) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.list(ctx, date)
}

// Snapshot runs fn over the records of date while no transition can run.
func (l *Ledger) Snapshot(ctx context.Context, date string, fn func([]Record) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	recs, err := l.list(ctx, date)
	if err != nil {
		return err
	}
	return fn(recs)
}

func (l *Ledger) list(ctx context.Context, date string) ([]Record, error) {
	recs, err := l.store.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", date, err)
	}
	sortByCheckIn(recs)
	return recs, nil
}

// lookup serves the day's state from the index, falling back to the store on a miss.
// Callers hold the key lock.
func (l *Ledger) lookup(ctx context.Context, identity, date string) (*Record, error) {
	l.idxMu.Lock()
	if l.idxDate == date {
		if rec, ok := l.index[identity]; ok {
			l.idxMu.Unlock()
			return rec, nil
		}
	}
	l.idxMu.Unlock()

	rec, err := l.store.Find(ctx, identity, date)
	if err != nil {
		return nil, fmt.Errorf("find %s on %s: %w", identity, date, err)
	}
	l.remember(identity, date, rec)
	return rec, nil
}

// remember caches the record of identity for date. The index only holds one
// day; moving to a new day drops the previous one.
func (l *Ledger) remember(identity, date string, rec *Record) {
	l.idxMu.Lock()
	defer l.idxMu.Unlock()
	if l.idxDate != date {
		if date < l.idxDate {
			return
		}
		l.idxDate = date
		l.index = make(map[string]*Record)
	}
	l.index[identity] = rec
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
