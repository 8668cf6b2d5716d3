package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imwoo90/web-serial-monitor-sub000/internal/worker"
)

var _ worker.SessionObserver = (*Catalog)(nil)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, c.Migrate())
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenedSessionsAreListedNewestFirst(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/s/logs_1000.txt"))
	require.NoError(t, c.SessionOpened(ctx, "logs_3000.txt", "/s/logs_3000.txt"))
	require.NoError(t, c.SessionOpened(ctx, "logs_2000.txt", "/s/logs_2000.txt"))

	rows, err := c.Sessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "logs_3000.txt", rows[0].Name)
	assert.Equal(t, "logs_1000.txt", rows[2].Name)
	assert.Equal(t, time.UnixMilli(3000), rows[0].CreatedAt)
	assert.True(t, rows[0].Live())
	assert.NotEmpty(t, rows[0].ID)
}

func TestReopenKeepsIdentity(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	c.SetClock(func() time.Time { return time.UnixMilli(5000) })
	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/a"))
	first, err := c.Sessions(ctx, false)
	require.NoError(t, err)

	c.SetClock(func() time.Time { return time.UnixMilli(9000) })
	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/b"))
	again, err := c.Sessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, "/b", again[0].Path)
	assert.Equal(t, time.UnixMilli(9000), again[0].OpenedAt)
}

func TestRemovedSessionsAreHiddenUnlessAsked(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/a"))
	require.NoError(t, c.SessionOpened(ctx, "logs_2000.txt", "/b"))
	require.NoError(t, c.SessionRemoved(ctx, "logs_1000.txt"))
	// Files deleted before the catalog saw them are still recorded.
	require.NoError(t, c.SessionRemoved(ctx, "logs_500.txt"))

	live, err := c.Sessions(ctx, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "logs_2000.txt", live[0].Name)

	all, err := c.Sessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.False(t, all[1].Live())
	assert.False(t, all[2].Live())
}

func TestExportsCountAgainstSession(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/a"))

	require.NoError(t, c.RecordExport(ctx, ExportRow{ID: "e1", Session: "logs_1000.txt", Bytes: 42, IncludeTimestamps: true}))
	require.NoError(t, c.RecordExport(ctx, ExportRow{ID: "e2", Session: "logs_1000.txt", Bytes: 7}))
	assert.ErrorIs(t, c.RecordExport(ctx, ExportRow{ID: "e3", Session: "logs_9.txt"}), ErrNotFound)

	rows, err := c.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, rows[0].Exports)

	exports, err := c.Exports(ctx, "logs_1000.txt")
	require.NoError(t, err)
	require.Len(t, exports, 2)
	byID := map[string]ExportRow{}
	for _, e := range exports {
		byID[e.ID] = e
	}
	assert.Equal(t, uint64(42), byID["e1"].Bytes)
	assert.True(t, byID["e1"].IncludeTimestamps)
	assert.False(t, byID["e2"].IncludeTimestamps)
}

func TestPruneDropsOldDeletedSessions(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	c.SetClock(func() time.Time { return time.UnixMilli(10_000) })
	require.NoError(t, c.SessionOpened(ctx, "logs_1000.txt", "/a"))
	require.NoError(t, c.RecordExport(ctx, ExportRow{ID: "e1", Session: "logs_1000.txt"}))
	require.NoError(t, c.SessionRemoved(ctx, "logs_1000.txt"))
	require.NoError(t, c.SessionOpened(ctx, "logs_2000.txt", "/b"))

	n, err := c.Prune(ctx, time.UnixMilli(20_000))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	all, err := c.Sessions(ctx, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "logs_2000.txt", all[0].Name)

	var exports int
	require.NoError(t, c.db.QueryRow("SELECT COUNT(*) FROM exports").Scan(&exports))
	assert.Zero(t, exports)
}

func TestMigrateIsIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Migrate())
	require.NoError(t, c1.SessionOpened(context.Background(), "logs_1.txt", "/x"))
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.Migrate())
	rows, err := c2.Sessions(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	var version string
	require.NoError(t, c2.db.QueryRow("SELECT value FROM metadata WHERE key='schema_version'").Scan(&version))
	assert.Equal(t, "1", version)
}

func TestConcurrentWriters(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "logs_" + string(rune('1'+i)) + "000.txt"
			assert.NoError(t, c.SessionOpened(ctx, name, "/p"))
		}(i)
	}
	wg.Wait()
	rows, err := c.Sessions(ctx, false)
	require.NoError(t, err)
	assert.Len(t, rows, 8)
}
