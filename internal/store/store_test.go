package store_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/errs"
	"github.com/shadspace/nodecore/internal/store"
)

func newTestStore(t *testing.T, quota int64) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(dir, quota, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, 0)

	data := []byte("shard payload bytes")
	shardHash, err := s.Put("filehash1", 0, data, "peer-a", nil)
	require.NoError(t, err)
	require.NotEmpty(t, shardHash)

	got, err := s.Get("filehash1", 0)
	require.NoError(t, err)
	require.Equal(t, data, got)

	stats, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.TotalShards)
	require.EqualValues(t, len(data), stats.TotalBytes)
}

func TestPutQuotaExceeded(t *testing.T) {
	s := newTestStore(t, 10)

	_, err := s.Put("filehash1", 0, []byte("this is far more than ten bytes"), "peer-a", nil)
	require.ErrorIs(t, err, errs.ErrQuotaExceeded)
}

func TestGetCorruptShardDoesNotUpdateVerification(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir, 0, nil)
	require.NoError(t, err)
	defer s.Close()

	data := []byte("original shard bytes")
	_, err = s.Put("filehash1", 0, data, "peer-a", nil)
	require.NoError(t, err)

	rows, err := s.List("filehash1")
	require.NoError(t, err)
	require.Len(t, rows, 1)

	path := findShardPathForTest(t, dir, rows[0].ShardHash)
	corrupted, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted[0] ^= 0xFF
	require.NoError(t, os.WriteFile(path, corrupted, 0o600))

	_, err = s.Get("filehash1", 0)
	require.ErrorIs(t, err, errs.ErrCorruptShard)

	after, err := s.List("filehash1")
	require.NoError(t, err)
	require.Len(t, after, 1)
	require.True(t, after[0].LastVerified.Equal(rows[0].LastVerified))
}

func TestDeleteIsIdempotent(t *testing.T) {
	s := newTestStore(t, 0)

	_, err := s.Put("filehash1", 0, []byte("bytes"), "peer-a", nil)
	require.NoError(t, err)

	removed, err := s.Delete("filehash1", 0)
	require.NoError(t, err)
	require.True(t, removed)

	removedAgain, err := s.Delete("filehash1", 0)
	require.NoError(t, err)
	require.False(t, removedAgain)

	stats, err := s.Stats()
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.TotalShards)
	require.EqualValues(t, 0, stats.TotalBytes)
}

func TestGCRemovesOnlyExpired(t *testing.T) {
	s := newTestStore(t, 0)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	_, err := s.Put("filehash1", 0, []byte("expired"), "peer-a", &past)
	require.NoError(t, err)
	_, err = s.Put("filehash1", 1, []byte("still valid"), "peer-a", &future)
	require.NoError(t, err)

	removed, err := s.GC()
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	rows, err := s.List("filehash1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].ShardIndex)
}

func findShardPathForTest(t *testing.T, dataDir, shardHash string) string {
	t.Helper()
	entries, err := os.ReadDir(dataDir + "/shards")
	require.NoError(t, err)
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), shardHash) {
			return dataDir + "/shards/" + e.Name()
		}
	}
	t.Fatalf("shard file for hash %s not found", shardHash)
	return ""
}
