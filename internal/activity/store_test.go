package activity

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.Clear(ctx))

	t.Run("append assigns sequential ids", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		a := &Record{Username: "alice", LoginHour: 9, FilesAccessed: 12, EmailsSent: 4}
		b := &Record{Username: "bob", LoginHour: 3, FilesAccessed: 150, USBDevicesUsed: 1}
		require.NoError(t, store.Append(ctx, a))
		require.NoError(t, store.Append(ctx, b))

		assert.Equal(t, int64(1), a.ID)
		assert.Equal(t, int64(2), b.ID)
		assert.False(t, a.Timestamp.IsZero(), "timestamp defaults to now")
	})

	t.Run("list preserves insertion order and fields", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		ts := time.Date(2024, 3, 1, 2, 15, 0, 0, time.Local)
		in := []Record{
			{Username: "carol", Timestamp: ts, LoginHour: 2, FilesAccessed: 130, EmailsSent: 0, USBDevicesUsed: 0},
			{Username: "dave", Timestamp: ts.Add(time.Hour), LoginHour: 10, FilesAccessed: 3, EmailsSent: 60, USBDevicesUsed: 2},
			{Username: "erin", Timestamp: ts.Add(2 * time.Hour), LoginHour: 14, FilesAccessed: 0, EmailsSent: 1, USBDevicesUsed: 0},
		}
		for i := range in {
			require.NoError(t, store.Append(ctx, &in[i]))
		}

		got, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, len(in))
		for i := range in {
			assert.Equal(t, in[i].ID, got[i].ID)
			assert.Equal(t, in[i].Username, got[i].Username)
			assert.True(t, in[i].Timestamp.Equal(got[i].Timestamp), "timestamp %d: %v != %v", i, in[i].Timestamp, got[i].Timestamp)
			assert.Equal(t, in[i].Features(), got[i].Features())
		}
	})

	t.Run("invalid record rejected", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		err := store.Append(ctx, &Record{Username: "mallory", LoginHour: 24})
		assert.True(t, errors.Is(err, ErrInvalidRecord))

		err = store.Append(ctx, &Record{Username: "mallory", FilesAccessed: -1})
		assert.True(t, errors.Is(err, ErrInvalidRecord))

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("clear resets ids", func(t *testing.T) {
		require.NoError(t, store.Append(ctx, &Record{Username: "x", LoginHour: 1}))
		require.NoError(t, store.Clear(ctx))

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)

		rec := &Record{Username: "y", LoginHour: 1}
		require.NoError(t, store.Append(ctx, rec))
		assert.Equal(t, int64(1), rec.ID)
	})

	t.Run("timestamps keep their instant in any zone", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		plus5 := time.FixedZone("UTC+5", 5*60*60)
		minus7 := time.FixedZone("UTC-7", -7*60*60)
		in := []Record{
			{Username: "alice", Timestamp: time.Date(2024, 1, 1, 10, 0, 0, 0, plus5), LoginHour: 10},
			{Username: "bob", Timestamp: time.Date(2024, 1, 1, 23, 30, 0, 0, minus7), LoginHour: 23},
		}
		for i := range in {
			require.NoError(t, store.Append(ctx, &in[i]))
		}

		got, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, len(in))
		for i := range in {
			assert.True(t, in[i].Timestamp.Equal(got[i].Timestamp), "timestamp %d: %v != %v", i, in[i].Timestamp, got[i].Timestamp)
		}
	})

	t.Run("append batch assigns ids after existing records", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))
		require.NoError(t, store.Append(ctx, &Record{Username: "alice", LoginHour: 9}))

		batch := []Record{
			{Username: "bob", LoginHour: 2, FilesAccessed: 140},
			{Username: "carol", LoginHour: 11, EmailsSent: 8},
		}
		require.NoError(t, store.AppendBatch(ctx, batch))
		assert.Equal(t, int64(2), batch[0].ID)
		assert.Equal(t, int64(3), batch[1].ID)
		assert.False(t, batch[0].Timestamp.IsZero(), "timestamp defaults to now")

		got, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "bob", got[1].Username)
		assert.Equal(t, "carol", got[2].Username)

		assert.NoError(t, store.AppendBatch(ctx, nil))
	})

	t.Run("append batch stores nothing when a record is invalid", func(t *testing.T) {
		require.NoError(t, store.Clear(ctx))

		batch := []Record{
			{Username: "alice", LoginHour: 9},
			{Username: "mallory", LoginHour: 30},
		}
		err := store.AppendBatch(ctx, batch)
		assert.ErrorIs(t, err, ErrInvalidRecord)
		assert.Contains(t, err.Error(), "record 1")
		assert.Zero(t, batch[0].ID)

		got, err := store.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)

		rec := &Record{Username: "alice", LoginHour: 9}
		require.NoError(t, store.Append(ctx, rec))
		assert.Equal(t, int64(1), rec.ID)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, store.Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_ListReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Append(ctx, &Record{Username: "alice", LoginHour: 9}))

	got, _ := store.List(ctx)
	got[0].Username = "changed"

	again, _ := store.List(ctx)
	assert.Equal(t, "alice", again[0].Username)
}

func TestSQLiteStore(t *testing.T) {
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "activity.db"))
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "activity.db")
	ctx := context.Background()

	store, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(ctx, &Record{Username: "alice", LoginHour: 23, EmailsSent: 70}))
	require.NoError(t, store.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 70, got[0].EmailsSent)
}

func TestOpen_UnknownBackend(t *testing.T) {
	_, _, err := Open(context.Background(), Options{Backend: "cassandra"})
	assert.True(t, errors.Is(err, ErrUnknownBackend))
}

func TestOpen_Memory(t *testing.T) {
	store, closer, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)
	assert.NoError(t, closer.Close())
}

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		ok   bool
	}{
		{"valid", Record{LoginHour: 23, FilesAccessed: 0}, true},
		{"hour zero", Record{LoginHour: 0}, true},
		{"hour too high", Record{LoginHour: 24}, false},
		{"hour negative", Record{LoginHour: -1}, false},
		{"negative files", Record{FilesAccessed: -5}, false},
		{"negative emails", Record{EmailsSent: -1}, false},
		{"negative usb", Record{USBDevicesUsed: -1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidRecord)
			}
		})
	}
}
