// Package store implements the local content-addressed shard store: a flat
// directory of *.shard files plus a bbolt-backed metadata index, kept
// consistent with each other under quota, integrity, and garbage
// collection rules.
package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shadspace/nodecore/internal/errs"
)

// Store is the local, content-addressed shard store for one node.
type Store struct {
	mu        sync.Mutex
	dataDir   string
	shardsDir string
	quota     int64
	idx       *index
	logger    *slog.Logger
}

// StoreStats is the externally visible usage summary returned by Stats.
type StoreStats struct {
	TotalShards    int64
	TotalBytes     int64
	Quota          int64
	UsagePercent   float64
	AvailableBytes int64
}

// Open opens (creating if absent) the shard store rooted at dataDir, with
// a byte quota. If logger is nil, slog.Default() is used.
func Open(dataDir string, quotaBytes int64, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	shardsDir := filepath.Join(dataDir, "shards")
	if err := os.MkdirAll(shardsDir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create shards dir: %w", err)
	}

	idx, err := openIndex(filepath.Join(dataDir, "storage.db"))
	if err != nil {
		return nil, err
	}

	return &Store{
		dataDir:   dataDir,
		shardsDir: shardsDir,
		quota:     quotaBytes,
		idx:       idx,
		logger:    logger,
	}, nil
}

// Close releases the underlying index database.
func (s *Store) Close() error {
	return s.idx.close()
}

// Put persists a shard, computing its content hash and upserting the
// index row inside the store's single-writer discipline. Fails with
// errs.ErrQuotaExceeded if the write would push total usage past quota.
func (s *Store) Put(fileHash string, shardIndex int, data []byte, peerID string, expiresAt *time.Time) (string, error) {
	if fileHash == "" {
		return "", ErrInvalidFileHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found, err := s.idx.getShardRecordByLocation(fileHash, shardIndex)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	current, err := s.idx.stats()
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	projected := current.TotalBytes + int64(len(data))
	if found {
		projected -= existing.SizeBytes
	}
	if s.quota > 0 && projected > s.quota {
		return "", fmt.Errorf("store: put %s/%d would use %d of %d bytes: %w", fileHash, shardIndex, projected, s.quota, errs.ErrQuotaExceeded)
	}

	hash := sha256.Sum256(data)
	shardHash := hex.EncodeToString(hash[:])

	var oldPath, oldHash string
	oldOK := false
	if found {
		var err error
		oldPath, oldHash, oldOK, err = findShardFile(s.shardsDir, fileHash, shardIndex)
		oldOK = oldOK && err == nil
	}

	if err := writeShardFile(s.shardsDir, fileHash, shardIndex, shardHash, data); err != nil {
		return "", err
	}

	if oldOK && oldHash != shardHash {
		_ = removeShardFile(oldPath)
	}

	rec := ShardRecord{
		ShardHash:    shardHash,
		FileHash:     fileHash,
		ShardIndex:   shardIndex,
		SizeBytes:    int64(len(data)),
		StoredAt:     time.Now(),
		LastVerified: time.Now(),
		PeerID:       peerID,
		ExpiresAt:    expiresAt,
	}

	if err := s.idx.putShardRecord(rec); err != nil {
		_ = removeShardFile(filepath.Join(s.shardsDir, shardFileName(fileHash, shardIndex, shardHash)))
		return "", fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	s.logger.Debug("shard stored", slog.String("file_hash", fileHash), slog.Int("shard_index", shardIndex), slog.String("shard_hash", shardHash))
	return shardHash, nil
}

// Get retrieves a shard's bytes, re-hashing them against the filename's
// witness field. A hash mismatch fails with errs.ErrCorruptShard and does
// not update last_verified.
func (s *Store) Get(fileHash string, shardIndex int) ([]byte, error) {
	if fileHash == "" {
		return nil, ErrInvalidFileHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, shardHash, ok, err := findShardFile(s.shardsDir, fileHash, shardIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}
	if !ok {
		return nil, errs.ErrNotFound
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read shard file: %w", err)
	}

	actual := sha256.Sum256(data)
	if hex.EncodeToString(actual[:]) != shardHash {
		s.logger.Warn("shard failed integrity check", slog.String("file_hash", fileHash), slog.Int("shard_index", shardIndex))
		return nil, fmt.Errorf("store: shard %s/%d: %w", fileHash, shardIndex, errs.ErrCorruptShard)
	}

	if err := s.idx.touchLastVerified(shardHash, time.Now()); err != nil {
		s.logger.Warn("failed to update last_verified", slog.String("shard_hash", shardHash), slog.String("error", err.Error()))
	}

	return data, nil
}

// Delete removes a shard's file and index row. Idempotent: deleting an
// absent shard returns (false, nil).
func (s *Store) Delete(fileHash string, shardIndex int) (bool, error) {
	if fileHash == "" {
		return false, ErrInvalidFileHash
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, _, ok, err := findShardFile(s.shardsDir, fileHash, shardIndex)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}
	if !ok {
		return false, nil
	}

	if err := removeShardFile(path); err != nil {
		return false, err
	}

	removed, err := s.idx.deleteShardRecord(fileHash, shardIndex)
	if err != nil {
		return false, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	return removed, nil
}

// List returns the index rows for fileHash, or every row if fileHash is
// empty.
func (s *Store) List(fileHash string) ([]ShardRecord, error) {
	return s.idx.listShardRecords(fileHash)
}

// Stats reports the current usage summary.
func (s *Store) Stats() (StoreStats, error) {
	raw, err := s.idx.stats()
	if err != nil {
		return StoreStats{}, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	usage := 0.0
	available := s.quota
	if s.quota > 0 {
		usage = float64(raw.TotalBytes) / float64(s.quota) * 100
		available = s.quota - raw.TotalBytes
		if available < 0 {
			available = 0
		}
	}

	return StoreStats{
		TotalShards:    raw.TotalShards,
		TotalBytes:     raw.TotalBytes,
		Quota:          s.quota,
		UsagePercent:   usage,
		AvailableBytes: available,
	}, nil
}

// GC removes every shard row whose expires_at has passed, updating stats
// and recording last_gc.
func (s *Store) GC() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	expired, err := s.idx.expiredShardRecords(now)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	removed := 0
	for _, rec := range expired {
		path, _, ok, err := findShardFile(s.shardsDir, rec.FileHash, rec.ShardIndex)
		if err == nil && ok {
			_ = removeShardFile(path)
		}
		if _, err := s.idx.deleteShardRecord(rec.FileHash, rec.ShardIndex); err == nil {
			removed++
		}
	}

	if err := s.idx.setLastGC(now); err != nil {
		return removed, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	s.logger.Info("garbage collection complete", slog.Int("removed", removed))
	return removed, nil
}

// PutFileMetadata records a local copy of a file's manifest, independent
// of the coordinator's own copy of the same data.
func (s *Store) PutFileMetadata(meta FileMetadataRecord) error {
	return s.idx.putFileMetadata(meta)
}

// GetFileMetadata looks up the local copy of a file manifest by file_hash.
func (s *Store) GetFileMetadata(fileHash string) (FileMetadataRecord, bool, error) {
	return s.idx.getFileMetadata(fileHash)
}

// ListFileMetadata returns every locally known file manifest, for
// components (such as the audit sweep) that need to enumerate files this
// node knows about rather than look one up by hash.
func (s *Store) ListFileMetadata() ([]FileMetadataRecord, error) {
	return s.idx.listFileMetadata()
}
