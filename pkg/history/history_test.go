package history_test

import (
	"path/filepath"
	"testing"

	"github.com/carloop/obdcan/pkg/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDiffAgainstEmptyStore(t *testing.T) {
	store := openStore(t)

	appeared, resolved, err := store.Diff([]string{"P0415s", "P0010p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P0010p", "P0415s"}, appeared)
	assert.Empty(t, resolved)
}

func TestDiffOrderIsDeterministic(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Replace([]string{"U0300c", "B0123s", "C0123s"}))

	appeared, resolved, err := store.Diff([]string{"P0415s", "P0010p"})
	require.NoError(t, err)
	assert.Equal(t, []string{"P0010p", "P0415s"}, appeared)
	assert.Equal(t, []string{"B0123s", "C0123s", "U0300c"}, resolved)
}

func TestDiffAfterReplace(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Replace([]string{"P0415s", "P0010p"}))

	appeared, resolved, err := store.Diff([]string{"P0010p", "U0300c"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"U0300c"}, appeared)
	assert.ElementsMatch(t, []string{"P0415s"}, resolved)
}

func TestDiffUnchanged(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Replace([]string{"P0415s"}))

	appeared, resolved, err := store.Diff([]string{"P0415s"})
	require.NoError(t, err)
	assert.Empty(t, appeared)
	assert.Empty(t, resolved)
}

func TestClear(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.Replace([]string{"P0415s"}))
	require.NoError(t, store.Clear())

	appeared, resolved, err := store.Diff(nil)
	require.NoError(t, err)
	assert.Empty(t, appeared)
	assert.Empty(t, resolved)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := history.Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Replace([]string{"P0415s"}))
	require.NoError(t, store.Close())

	store, err = history.Open(path)
	require.NoError(t, err)
	defer store.Close()

	_, resolved, err := store.Diff(nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"P0415s"}, resolved)
}
