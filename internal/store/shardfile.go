package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// shardFileName returns the filename that encodes the three-field
// integrity witness: {file_hash}_{shard_index}_{shard_hash}.shard.
func shardFileName(fileHash string, shardIndex int, shardHash string) string {
	return fmt.Sprintf("%s_%d_%s.shard", fileHash, shardIndex, shardHash)
}

// shardFilePrefix returns the {file_hash}_{shard_index}_ prefix used to
// locate a shard's file without already knowing its hash.
func shardFilePrefix(fileHash string, shardIndex int) string {
	return fmt.Sprintf("%s_%d_", fileHash, shardIndex)
}

// writeShardFile writes data to shardsDir/{fileHash}_{shardIndex}_{shardHash}.shard
// using write-temp-then-rename so a crash mid-write never leaves a partial
// file at the final path.
func writeShardFile(shardsDir, fileHash string, shardIndex int, shardHash string, data []byte) error {
	if err := os.MkdirAll(shardsDir, 0o700); err != nil {
		return fmt.Errorf("store: create shards directory: %w", err)
	}

	finalPath := filepath.Join(shardsDir, shardFileName(fileHash, shardIndex, shardHash))
	tmp, err := os.CreateTemp(shardsDir, ".tmp-shard-*")
	if err != nil {
		return fmt.Errorf("store: create temp shard file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp shard file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp shard file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rename temp shard file: %w", err)
	}

	return nil
}

// findShardFile scans shardsDir for the single file matching the
// {file_hash}_{shard_index}_ prefix and returns its full path and the
// shard_hash encoded in its name.
func findShardFile(shardsDir, fileHash string, shardIndex int) (path string, shardHash string, ok bool, err error) {
	prefix := shardFilePrefix(fileHash, shardIndex)

	entries, err := os.ReadDir(shardsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("store: read shards directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		hash := strings.TrimSuffix(rest, ".shard")
		return filepath.Join(shardsDir, name), hash, true, nil
	}

	return "", "", false, nil
}

// removeShardFile deletes the shard file at path if it exists. It is
// idempotent: removing an already-absent file is not an error.
func removeShardFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: remove shard file: %w", err)
	}
	return nil
}
