package checkpoint

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", ".checkpoint.json")
	clock := fixedClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewFileStore(path, clock, zap.NewNop()), path
}

func TestFileStoreMissingSnapshotIsEmpty(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Load(ctx))

	done, err := store.IsComplete(ctx, crawler.Unit{Collection: "Area51"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFileStoreMarkAndReload(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Load(ctx))

	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Area51", SubCollection: "Vault"}))
	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Area51"}))

	reloaded := NewFileStore(path, fixedClock{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))

	testCases := []struct {
		unit crawler.Unit
		want bool
	}{
		{crawler.Unit{Collection: "Area51"}, true},
		{crawler.Unit{Collection: "Area51", SubCollection: "Vault"}, true},
		{crawler.Unit{Collection: "Area51", SubCollection: "Nebula"}, false},
		{crawler.Unit{Collection: "Athens"}, false},
	}
	for _, tc := range testCases {
		done, err := reloaded.IsComplete(ctx, tc.unit)
		require.NoError(t, err)
		assert.Equal(t, tc.want, done, tc.unit.String())
	}
}

func TestFileStoreSubCompleteDoesNotCompleteCollection(t *testing.T) {
	t.Parallel()

	store, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Tokyo", SubCollection: "Ginza"}))

	done, err := store.IsComplete(ctx, crawler.Unit{Collection: "Tokyo"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFileStoreFailedWriteKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Area51"}))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	// Simulate the process dying halfway through serializing the next snapshot.
	store.encode = func(w io.Writer, _ *snapshot) error {
		_, _ = w.Write([]byte(`{"version":1,"collect`))
		return errors.New("killed mid-write")
	}
	err = store.MarkComplete(ctx, crawler.Unit{Collection: "Athens"})
	var perr *crawler.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "Athens", perr.Unit.Collection)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "previous snapshot must survive")

	done, err := store.IsComplete(ctx, crawler.Unit{Collection: "Athens"})
	require.NoError(t, err)
	assert.False(t, done, "failed write must not mark the unit complete")

	reloaded := NewFileStore(path, fixedClock{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))
	done, err = reloaded.IsComplete(ctx, crawler.Unit{Collection: "Area51"})
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFileStoreIgnoresStrayTempFiles(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Area51"}))

	stray := filepath.Join(filepath.Dir(path), filepath.Base(path)+".tmp-123456")
	require.NoError(t, os.WriteFile(stray, []byte(`{"collections":{"Athens":{"complete":tr`), 0o600))

	reloaded := NewFileStore(path, fixedClock{}, zap.NewNop())
	require.NoError(t, reloaded.Load(ctx))
	done, err := reloaded.IsComplete(ctx, crawler.Unit{Collection: "Athens"})
	require.NoError(t, err)
	assert.False(t, done)
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o600))
	assert.Error(t, store.Load(context.Background()))
}

func TestFileStoreNullEntriesArePending(t *testing.T) {
	t.Parallel()

	store, path := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	raw := `{"version":1,"collections":{"Area51":null,"Athens":{"complete":true,"sub_collections":null}}}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	ctx := context.Background()
	require.NoError(t, store.Load(ctx))

	done, err := store.IsComplete(ctx, crawler.Unit{Collection: "Area51"})
	require.NoError(t, err)
	assert.False(t, done)

	done, err = store.IsComplete(ctx, crawler.Unit{Collection: "Athens", SubCollection: "Acropolis"})
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Area51", SubCollection: "Vault"}))
	require.NoError(t, store.MarkComplete(ctx, crawler.Unit{Collection: "Athens", SubCollection: "Acropolis"}))

	done, err = store.IsComplete(ctx, crawler.Unit{Collection: "Athens"})
	require.NoError(t, err)
	assert.True(t, done)
	done, err = store.IsComplete(ctx, crawler.Unit{Collection: "Area51", SubCollection: "Vault"})
	require.NoError(t, err)
	assert.True(t, done)
}
