// Package errs defines the error kinds the storage core recognises and
// propagates, per the error handling design: each kind is a sentinel value
// that callers test for with errors.Is, wrapped with context via %w as it
// crosses package boundaries.
package errs

import "errors"

var (
	// ErrQuotaExceeded is raised by the shard store when a write would push
	// total usage past the configured quota.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrCorruptShard is raised when a shard's re-hashed bytes do not match
	// the hash encoded in its filename.
	ErrCorruptShard = errors.New("corrupt shard")

	// ErrInsufficientShards is raised when fewer than k verified shards are
	// available to reconstruct a file.
	ErrInsufficientShards = errors.New("insufficient shards")

	// ErrIntegrity is raised by decrypt when the AEAD tag does not verify.
	// It is the only signal of a wrong password or tampered ciphertext.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrTimeout is raised when a network call exceeds its deadline.
	ErrTimeout = errors.New("operation timed out")

	// ErrTransport is raised on a network-level failure that is not a
	// timeout (connection refused, reset, DNS failure, non-2xx response).
	ErrTransport = errors.New("transport error")

	// ErrStoreCorrupt is raised when the shard index cannot be trusted.
	// It is fatal to the node; there is no automatic recovery.
	ErrStoreCorrupt = errors.New("store corrupt")

	// ErrNotFound is raised when a requested shard or manifest does not
	// exist locally or on the queried peer.
	ErrNotFound = errors.New("not found")
)
