package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSQLite(t *testing.T) *attendance.Repository {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewSQLite(ctx, filepath.Join(t.TempDir(), "data", "attendance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := attendance.NewRepository(db.Client, db.Driver)
	require.NoError(t, repo.Migrate(ctx))
	return repo
}

func TestRepository_SQLite_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rec := &attendance.Record{Identity: "Alice", CheckIn: in, Date: "2026-03-02", CreatedAt: in}
	require.NoError(t, repo.Insert(ctx, rec))
	assert.NotZero(t, rec.ID)

	found, err := repo.Find(ctx, "Alice", "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
	assert.True(t, found.CheckIn.Equal(in))
	assert.Nil(t, found.CheckOut)

	out := in.Add(4*time.Hour + 30*time.Minute)
	require.NoError(t, repo.SetCheckOut(ctx, rec.ID, out))

	found, err = repo.Find(ctx, "Alice", "2026-03-02")
	require.NoError(t, err)
	require.NotNil(t, found.CheckOut)
	assert.True(t, found.CheckOut.Equal(out))
}

func TestRepository_SQLite_FindMissing(t *testing.T) {
	repo := openSQLite(t)

	found, err := repo.Find(context.Background(), "Nobody", "2026-03-02")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepository_SQLite_SetCheckOutUnknownID(t *testing.T) {
	repo := openSQLite(t)

	err := repo.SetCheckOut(context.Background(), 42, time.Now())
	assert.ErrorIs(t, err, attendance.ErrRecordNotFound)
}

func TestRepository_SQLite_ListByDateOrdersByCheckIn(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)

	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	for _, r := range []attendance.Record{
		{Identity: "Carol", CheckIn: base.Add(2 * time.Hour), Date: "2026-03-02"},
		{Identity: "Alice", CheckIn: base, Date: "2026-03-02"},
		{Identity: "Bob", CheckIn: base.Add(time.Hour), Date: "2026-03-01"},
	} {
		r := r
		require.NoError(t, repo.Insert(ctx, &r))
	}

	recs, err := repo.ListByDate(ctx, "2026-03-02")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "Alice", recs[0].Identity)
	assert.Equal(t, "Carol", recs[1].Identity)
}

func TestRepository_SQLite_BacksLedger(t *testing.T) {
	ctx := context.Background()
	repo := openSQLite(t)
	ledger := attendance.NewLedger(repo, attendance.WithLocation(time.UTC))

	in := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	outcome, err := ledger.Transition(ctx, "Alice", in)
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCheckedIn, outcome)

	// a fresh ledger over the same file must see the open record
	reopened := attendance.NewLedger(repo, attendance.WithLocation(time.UTC))
	state, err := reopened.State(ctx, "Alice", "2026-03-02")
	require.NoError(t, err)
	assert.Equal(t, attendance.CheckedIn, state)

	outcome, err = reopened.Transition(ctx, "Alice", in.Add(8*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, attendance.OutcomeCheckedOut, outcome)
}

func TestRepository_Postgres(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := store.NewDB(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	repo := attendance.NewRepository(db.Client, db.Driver)
	require.NoError(t, repo.Migrate(ctx))

	date := time.Now().UTC().Format(attendance.DateLayout)
	identity := "pg-test-" + time.Now().Format("150405.000000")
	rec := &attendance.Record{Identity: identity, CheckIn: time.Now().UTC(), Date: date}
	require.NoError(t, repo.Insert(ctx, rec))

	found, err := repo.Find(ctx, identity, date)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rec.ID, found.ID)
}
