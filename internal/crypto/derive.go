// Package crypto implements the storage core's cryptographic primitives:
// password-based key derivation, authenticated encryption, ECDSA signing,
// and the Merkle root used by the audit pipeline. Every function here is
// pure with respect to its inputs save for fresh randomness (salts,
// nonces, keys).
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the length in bytes of a freshly generated KDF salt.
	SaltSize = 16
	// KeySize is the length in bytes of a derived AES-256 key.
	KeySize = 32
	// pbkdf2Iterations is fixed: lowering it would change the derived key
	// for a given (password, salt) pair and break existing ciphertexts.
	pbkdf2Iterations = 100_000
)

// DeriveKey derives a 32-byte key from password using PBKDF2-HMAC-SHA256
// with 100,000 iterations. If salt is nil, 16 fresh random bytes are
// generated; the same (password, salt) pair always yields the same key.
func DeriveKey(password string, salt []byte) (key, usedSalt []byte, err error) {
	if salt == nil {
		salt = make([]byte, SaltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, nil, fmt.Errorf("crypto: generate salt: %w", err)
		}
	}

	key = pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, KeySize, sha256.New)
	return key, salt, nil
}
