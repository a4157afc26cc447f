package checkpoint

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/splitfetch/internal/fragment"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoad(t *testing.T) {
	s := openStore(t)
	r := fragment.Range{Index: 1, Start: 10, End: 19}
	data := []byte("0123456789")

	_, ok, err := s.Load("http://h/f", "v1", r)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save("http://h/f", "v1", r, data))
	got, ok, err := s.Load("http://h/f", "v1", r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, got)

	_, ok, err = s.Load("http://h/f", "v2", r)
	require.NoError(t, err)
	assert.False(t, ok, "versions are isolated")
}

func TestLoadRejectsWrongLength(t *testing.T) {
	s := openStore(t)
	r := fragment.Range{Start: 0, End: 9}
	require.NoError(t, s.Save("u", "v", r, []byte("short")))
	_, ok, err := s.Load("u", "v", r)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorrupt)

	count, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, count, "corrupt entry is dropped")
}

func TestLoadRejectsTamperedValue(t *testing.T) {
	s := openStore(t)
	r := fragment.Range{Start: 0, End: 3}
	require.NoError(t, s.Save("u", "v", r, []byte("abcd")))
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey("u", "v", r), []byte("garbage"))
	}))
	_, ok, err := s.Load("u", "v", r)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestPurge(t *testing.T) {
	s := openStore(t)
	for i := range 3 {
		r := fragment.Range{Index: i, Start: int64(i), End: int64(i)}
		require.NoError(t, s.Save("a", "v", r, []byte{byte(i)}))
		require.NoError(t, s.Save("b", "v", r, []byte{byte(i)}))
	}
	n, err := s.Purge("a", "v")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err = s.PurgeAll()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
