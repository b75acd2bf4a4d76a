package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphbench/internal/runner"
	"graphbench/internal/stats"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func item(t *testing.T, name string) HistoryItem {
	t.Helper()
	it, err := NewHistoryItem(
		runner.Config{Name: name, TargetRate: 50, Workers: 4, Duration: time.Second},
		runner.Summary{
			Name:    name,
			Success: 48,
			Errors:  2,
			ErrorGroups: []stats.ErrorGroup{
				{Type: "Timeout", Message: "query timed out", Count: 2},
			},
		},
	)
	require.NoError(t, err)
	return it
}

func TestStore_SaveListGet(t *testing.T) {
	s := openStore(t)

	first := item(t, "first")
	second := item(t, "second")
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))

	items, err := s.List()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "second", items[0].Config.Name)
	assert.Equal(t, "first", items[1].Config.Name)

	got, err := s.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(48), got.Summary.Success)
	assert.Equal(t, time.Second, got.Config.Duration)
	require.Len(t, got.Summary.ErrorGroups, 1)
	assert.Equal(t, "Timeout", got.Summary.ErrorGroups[0].Type)
}

func TestStore_GetByPrefix(t *testing.T) {
	s := openStore(t)
	it := item(t, "only")
	require.NoError(t, s.Save(it))

	got, err := s.Get(it.ID[:13])
	require.NoError(t, err)
	assert.Equal(t, it.ID, got.ID)

	_, err = s.Get("zzzz")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Delete(t *testing.T) {
	s := openStore(t)
	it := item(t, "gone")
	require.NoError(t, s.Save(it))

	require.NoError(t, s.Delete(it.ID))
	_, err := s.Get(it.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.Delete(it.ID), ErrNotFound))
}

func TestStore_KeepsNewest(t *testing.T) {
	s := openStore(t)

	var oldest string
	for i := 0; i < MaxHistory+2; i++ {
		it := item(t, "run")
		if i == 0 {
			oldest = it.ID
		}
		require.NoError(t, s.Save(it))
	}

	items, err := s.List()
	require.NoError(t, err)
	assert.Len(t, items, MaxHistory)
	_, err = s.Get(oldest)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	it := item(t, "persisted")
	require.NoError(t, s.Save(it))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(it.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Summary.Name)
}

func TestStore_RejectsMissingId(t *testing.T) {
	s := openStore(t)
	assert.Error(t, s.Save(HistoryItem{}))
}
