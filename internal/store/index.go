package store

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"github.com/shadspace/nodecore/internal/errs"
)

var (
	bucketShards    = []byte("shards")
	bucketLocations = []byte("locations")
	bucketFiles     = []byte("files")
	bucketStats     = []byte("stats")
	statsKey        = []byte("stats")
)

// ShardRecord is a single row of the shard index, keyed by shard_hash.
type ShardRecord struct {
	ShardHash    string
	FileHash     string
	ShardIndex   int
	SizeBytes    int64
	StoredAt     time.Time
	LastVerified time.Time
	PeerID       string
	ExpiresAt    *time.Time
}

// Stats is the singleton statistics row.
type Stats struct {
	TotalShards int64
	TotalBytes  int64
	LastGC      time.Time
}

// index wraps the bbolt-backed shard metadata database: the "shards",
// "locations", "files" and "stats" buckets.
type index struct {
	db *bbolt.DB
}

// openIndex opens or creates the bbolt database at dbPath, creating its
// buckets if absent.
func openIndex(dbPath string) (*index, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("store: create index directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: store: open index: %w", errs.ErrStoreCorrupt, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketShards, bucketLocations, bucketFiles, bucketStats} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("store: create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", errs.ErrStoreCorrupt, err)
	}

	return &index{db: db}, nil
}

func (ix *index) close() error { return ix.db.Close() }

func locationKey(fileHash string, shardIndex int) []byte {
	return []byte(fmt.Sprintf("%s:%d", fileHash, shardIndex))
}

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("store: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("store: decode: %w", err)
	}
	return nil
}

// putShardRecord inserts or replaces a shard row, its location index entry,
// and adjusts the stats singleton, all inside one bbolt transaction so the
// index can never observe a partial write.
func (ix *index) putShardRecord(rec ShardRecord) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		locBucket := tx.Bucket(bucketLocations)
		locKey := locationKey(rec.FileHash, rec.ShardIndex)

		var sizeDelta int64 = rec.SizeBytes
		var shardsDelta int64 = 1

		if existingHash := locBucket.Get(locKey); existingHash != nil {
			shardsBucket := tx.Bucket(bucketShards)
			raw := shardsBucket.Get(existingHash)
			if raw != nil {
				var old ShardRecord
				if err := decodeGob(raw, &old); err != nil {
					return err
				}
				sizeDelta = rec.SizeBytes - old.SizeBytes
				shardsDelta = 0
				if err := shardsBucket.Delete(existingHash); err != nil {
					return fmt.Errorf("store: delete superseded shard row: %w", err)
				}
			}
		}

		data, err := encodeGob(rec)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketShards).Put([]byte(rec.ShardHash), data); err != nil {
			return fmt.Errorf("store: put shard row: %w", err)
		}
		if err := locBucket.Put(locKey, []byte(rec.ShardHash)); err != nil {
			return fmt.Errorf("store: put location index: %w", err)
		}

		return adjustStats(tx, shardsDelta, sizeDelta, nil)
	})
}

// getShardRecordByLocation looks up the shard row for (fileHash, shardIndex).
func (ix *index) getShardRecordByLocation(fileHash string, shardIndex int) (ShardRecord, bool, error) {
	var rec ShardRecord
	found := false
	err := ix.db.View(func(tx *bbolt.Tx) error {
		shardHash := tx.Bucket(bucketLocations).Get(locationKey(fileHash, shardIndex))
		if shardHash == nil {
			return nil
		}
		raw := tx.Bucket(bucketShards).Get(shardHash)
		if raw == nil {
			return nil
		}
		found = true
		return decodeGob(raw, &rec)
	})
	return rec, found, err
}

// touchLastVerified updates last_verified for a shard row without changing
// its stats contribution.
func (ix *index) touchLastVerified(shardHash string, when time.Time) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketShards)
		raw := bucket.Get([]byte(shardHash))
		if raw == nil {
			return errs.ErrNotFound
		}
		var rec ShardRecord
		if err := decodeGob(raw, &rec); err != nil {
			return err
		}
		rec.LastVerified = when
		data, err := encodeGob(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(shardHash), data)
	})
}

// deleteShardRecord removes the shard row and its location entry, and
// decrements stats by the row's size. Returns false if no such row exists.
func (ix *index) deleteShardRecord(fileHash string, shardIndex int) (bool, error) {
	removed := false
	err := ix.db.Update(func(tx *bbolt.Tx) error {
		locBucket := tx.Bucket(bucketLocations)
		locKey := locationKey(fileHash, shardIndex)
		shardHash := locBucket.Get(locKey)
		if shardHash == nil {
			return nil
		}

		shardsBucket := tx.Bucket(bucketShards)
		raw := shardsBucket.Get(shardHash)
		if raw == nil {
			return locBucket.Delete(locKey)
		}

		var rec ShardRecord
		if err := decodeGob(raw, &rec); err != nil {
			return err
		}

		if err := shardsBucket.Delete(shardHash); err != nil {
			return fmt.Errorf("store: delete shard row: %w", err)
		}
		if err := locBucket.Delete(locKey); err != nil {
			return fmt.Errorf("store: delete location index: %w", err)
		}
		removed = true

		return adjustStats(tx, -1, -rec.SizeBytes, nil)
	})
	return removed, err
}

// listShardRecords returns every shard row, optionally filtered to a single
// file_hash.
func (ix *index) listShardRecords(fileHash string) ([]ShardRecord, error) {
	var rows []ShardRecord
	err := ix.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketShards).ForEach(func(_, v []byte) error {
			var rec ShardRecord
			if err := decodeGob(v, &rec); err != nil {
				return err
			}
			if fileHash == "" || rec.FileHash == fileHash {
				rows = append(rows, rec)
			}
			return nil
		})
	})
	return rows, err
}

// expiredShardRecords returns every row whose ExpiresAt is before now.
func (ix *index) expiredShardRecords(now time.Time) ([]ShardRecord, error) {
	var rows []ShardRecord
	err := ix.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketShards).ForEach(func(_, v []byte) error {
			var rec ShardRecord
			if err := decodeGob(v, &rec); err != nil {
				return err
			}
			if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
				rows = append(rows, rec)
			}
			return nil
		})
	})
	return rows, err
}

// stats returns the singleton stats row.
func (ix *index) stats() (Stats, error) {
	var s Stats
	err := ix.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketStats).Get(statsKey)
		if raw == nil {
			return nil
		}
		return decodeGob(raw, &s)
	})
	return s, err
}

// adjustStats mutates the stats singleton inside an already-open
// transaction. A non-nil lastGC sets LastGC to that time.
func adjustStats(tx *bbolt.Tx, shardsDelta, bytesDelta int64, lastGC *time.Time) error {
	bucket := tx.Bucket(bucketStats)
	var s Stats
	if raw := bucket.Get(statsKey); raw != nil {
		if err := decodeGob(raw, &s); err != nil {
			return err
		}
	}
	s.TotalShards += shardsDelta
	s.TotalBytes += bytesDelta
	if lastGC != nil {
		s.LastGC = *lastGC
	}
	data, err := encodeGob(s)
	if err != nil {
		return err
	}
	return bucket.Put(statsKey, data)
}

// setLastGC records the GC sweep time without touching the counters.
func (ix *index) setLastGC(when time.Time) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		return adjustStats(tx, 0, 0, &when)
	})
}

// putFileMetadata upserts a file manifest row.
func (ix *index) putFileMetadata(meta FileMetadataRecord) error {
	return ix.db.Update(func(tx *bbolt.Tx) error {
		data, err := encodeGob(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Put([]byte(meta.FileHash), data)
	})
}

// getFileMetadata looks up a file manifest row by file_hash.
func (ix *index) getFileMetadata(fileHash string) (FileMetadataRecord, bool, error) {
	var meta FileMetadataRecord
	found := false
	err := ix.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketFiles).Get([]byte(fileHash))
		if raw == nil {
			return nil
		}
		found = true
		return decodeGob(raw, &meta)
	})
	return meta, found, err
}

// listFileMetadata returns every locally known file manifest row.
func (ix *index) listFileMetadata() ([]FileMetadataRecord, error) {
	var rows []FileMetadataRecord
	err := ix.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var meta FileMetadataRecord
			if err := decodeGob(v, &meta); err != nil {
				return err
			}
			rows = append(rows, meta)
			return nil
		})
	})
	return rows, err
}

// FileMetadataRecord is the local copy of a file manifest kept by a node
// that stored or retrieved that file, independent of the coordinator's own
// copy.
type FileMetadataRecord struct {
	FileHash       string
	OriginalName   string
	TotalSize      int64
	EncryptedSize  int64
	ShardsTotal    int
	ShardsRequired int
	ShardHashes    []string
	ShardLocations map[int][]string
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}
