package store

import "errors"

var (
	// ErrInvalidFileHash is returned when a file hash argument is empty.
	ErrInvalidFileHash = errors.New("store: invalid file hash")
	// ErrDuplicateLocation is returned when a (file_hash, shard_index) pair
	// is already present under a different shard_hash.
	ErrDuplicateLocation = errors.New("store: duplicate (file_hash, shard_index)")
)
