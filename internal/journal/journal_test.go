package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "nested", "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{Kind: KindStatus, Actor: "a@demo.local", StoreID: 1, BookingID: "b1", BookingCode: "C1", FromStatus: "SCHEDULED", ToStatus: "ARRIVED", CreatedAt: base},
		{Kind: KindStatus, Actor: "a@demo.local", StoreID: 1, BookingID: "b1", BookingCode: "C1", FromStatus: "ARRIVED", ToStatus: "COMPLETED", Error: "Invalid transition ARRIVED -> COMPLETED", CreatedAt: base.Add(time.Minute)},
		{Kind: KindIncident, Actor: "other@demo.local", StoreID: 2, BookingID: "b9", Detail: "LOW/SERVICE: late", CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, db.Record(ctx, e))
		assert.NotZero(t, e.ID)
	}

	got, err := db.Recent(ctx, "a@demo.local", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "COMPLETED", got[0].ToStatus)
	assert.False(t, got[0].OK())
	assert.Equal(t, "ARRIVED", got[1].ToStatus)
	assert.True(t, got[1].OK())
	assert.True(t, got[1].CreatedAt.Equal(base))
}

func TestRecent_Limit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Record(ctx, &Entry{Kind: KindStatus, Actor: "a", BookingID: "b"}))
	}

	got, err := db.Recent(ctx, "a", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	none, err := db.Recent(ctx, "nobody", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
