package dedup

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbert-ci/collector/pkg/reporting"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, 1000, 0.01, reporting.Nop())
	require.NoError(t, err)
	return s
}

func TestMarkAndSeen(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "dupes.db"))
	defer s.Close()

	seen, err := s.Seen("abc")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.MarkSeen("abc", 1700000000))

	seen, err = s.Seen("abc")
	require.NoError(t, err)
	assert.True(t, seen)

	ts, found, err := s.FirstSeen("abc")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1700000000), ts)
}

func TestFirstSeenMissing(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "dupes.db"))
	defer s.Close()

	_, found, err := s.FirstSeen("never-marked")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestReopenSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupes.db")

	s := openTestStore(t, path)
	for i := 0; i < 50; i++ {
		require.NoError(t, s.MarkSeen(fmt.Sprintf("post-%d", i), int64(1700000000+i)))
	}
	require.NoError(t, s.Close())

	// The filter is rebuilt from the database on open.
	s = openTestStore(t, path)
	defer s.Close()

	for i := 0; i < 50; i++ {
		seen, err := s.Seen(fmt.Sprintf("post-%d", i))
		require.NoError(t, err)
		assert.True(t, seen, "post-%d should survive reopen", i)
	}

	seen, err := s.Seen("post-unknown")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestSecondOpenIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dupes.db")

	s := openTestStore(t, path)
	defer s.Close()

	_, err := Open(path, 1000, 0.01, reporting.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestStats(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "dupes.db"))
	defer s.Close()

	require.NoError(t, s.MarkSeen("a", 100))
	require.NoError(t, s.MarkSeen("b", 300))
	require.NoError(t, s.MarkSeen("c", 200))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, st.StoredIDs)
	assert.Equal(t, uint(1000), st.FilterCapacity)
	assert.Equal(t, int64(100), st.OldestFirstSeen)
	assert.Equal(t, int64(300), st.NewestFirstSeen)
}

func TestMarkSeenIsIdempotent(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "dupes.db"))
	defer s.Close()

	require.NoError(t, s.MarkSeen("abc", 100))
	require.NoError(t, s.MarkSeen("abc", 200))

	st, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, st.StoredIDs)
}
