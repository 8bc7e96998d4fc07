package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/crypto"
	"github.com/shadspace/nodecore/internal/errs"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")

	key1, usedSalt1, err := crypto.DeriveKey("correct horse", salt)
	require.NoError(t, err)
	key2, usedSalt2, err := crypto.DeriveKey("correct horse", salt)
	require.NoError(t, err)

	require.Equal(t, key1, key2)
	require.Equal(t, usedSalt1, usedSalt2)
	require.Len(t, key1, crypto.KeySize)
}

func TestDeriveKeyRandomSaltWhenAbsent(t *testing.T) {
	key1, salt1, err := crypto.DeriveKey("pw", nil)
	require.NoError(t, err)
	key2, salt2, err := crypto.DeriveKey("pw", nil)
	require.NoError(t, err)

	require.Len(t, salt1, crypto.SaltSize)
	require.NotEqual(t, salt1, salt2)
	require.NotEqual(t, key1, key2)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, _, err := crypto.DeriveKey("pw", nil)
	require.NoError(t, err)

	plaintext := []byte("hello world")
	ciphertext, nonce, err := crypto.Encrypt(plaintext, key)
	require.NoError(t, err)
	require.Len(t, nonce, crypto.NonceSize)

	decrypted, err := crypto.Decrypt(ciphertext, nonce, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}

func TestDecryptWrongKeyFailsIntegrity(t *testing.T) {
	key1, _, err := crypto.DeriveKey("alpha", nil)
	require.NoError(t, err)
	key2, _, err := crypto.DeriveKey("beta", nil)
	require.NoError(t, err)

	ciphertext, nonce, err := crypto.Encrypt([]byte("secret"), key1)
	require.NoError(t, err)

	_, err = crypto.Decrypt(ciphertext, nonce, key2)
	require.ErrorIs(t, err, errs.ErrIntegrity)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("audit proof bytes")
	sig, err := crypto.Sign(data, priv)
	require.NoError(t, err)

	require.True(t, crypto.Verify(data, sig, pub))
}

func TestVerifyFailsOnMutatedMessageOrSignature(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("audit proof bytes")
	sig, err := crypto.Sign(data, priv)
	require.NoError(t, err)

	mutated := append([]byte{}, data...)
	mutated[0] ^= 0xFF
	require.False(t, crypto.Verify(mutated, sig, pub))

	mutatedSig := append([]byte{}, sig...)
	mutatedSig[len(mutatedSig)-1] ^= 0xFF
	require.False(t, crypto.Verify(data, mutatedSig, pub))
}

func TestMerkleRootEmptyAndSingleton(t *testing.T) {
	require.Equal(t, "", crypto.MerkleRoot(nil))

	root := crypto.MerkleRoot([][]byte{[]byte("shard-bytes")})
	require.NotEmpty(t, root)
}

func TestMerkleRootOddLeavesDuplicated(t *testing.T) {
	a := []byte("a")
	b := []byte("b")
	c := []byte("c")

	threeLeaves := crypto.MerkleRoot([][]byte{a, b, c})
	fourLeavesWithDup := crypto.MerkleRoot([][]byte{a, b, c, c})

	require.Equal(t, fourLeavesWithDup, threeLeaves)
}

func TestChunkedEncryptDecryptRoundTrip(t *testing.T) {
	key, _, err := crypto.DeriveKey("pw", nil)
	require.NoError(t, err)

	plaintext := make([]byte, crypto.DefaultChunkSize*2+17)
	for i := range plaintext {
		plaintext[i] = byte(i % 251)
	}

	ciphertext, headers, err := crypto.EncryptChunks(plaintext, key)
	require.NoError(t, err)
	require.Len(t, headers, 3)

	decrypted, err := crypto.DecryptChunks(ciphertext, headers, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, decrypted)
}
