package crypto

import "fmt"

// DefaultChunkSize is the chunk size used by EncryptChunks/DecryptChunks
// for large files.
const DefaultChunkSize = 1 << 20

// ChunkHeader describes one independently sealed chunk: its nonce and the
// length of its sealed bytes within the concatenated ciphertext.
type ChunkHeader struct {
	Nonce         []byte `json:"nonce"`
	CiphertextLen int    `json:"ciphertext_len"`
}

// EncryptChunks splits plaintext into DefaultChunkSize chunks and seals
// each independently under key with its own random nonce. It returns the
// concatenated ciphertext and one header per chunk in order. The whole
// plaintext is taken and the whole ciphertext is returned in memory.
func EncryptChunks(plaintext, key []byte) (ciphertext []byte, headers []ChunkHeader, err error) {
	for offset := 0; offset < len(plaintext) || (len(plaintext) == 0 && offset == 0); offset += DefaultChunkSize {
		end := offset + DefaultChunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}

		chunkCiphertext, nonce, err := Encrypt(plaintext[offset:end], key)
		if err != nil {
			return nil, nil, fmt.Errorf("crypto: encrypt chunk at offset %d: %w", offset, err)
		}

		ciphertext = append(ciphertext, chunkCiphertext...)
		headers = append(headers, ChunkHeader{Nonce: nonce, CiphertextLen: len(chunkCiphertext)})

		if len(plaintext) == 0 {
			break
		}
	}

	return ciphertext, headers, nil
}

// DecryptChunks reverses EncryptChunks given the same headers produced at
// encryption time.
func DecryptChunks(ciphertext []byte, headers []ChunkHeader, key []byte) ([]byte, error) {
	var plaintext []byte
	offset := 0

	for i, h := range headers {
		if offset+h.CiphertextLen > len(ciphertext) {
			return nil, fmt.Errorf("crypto: chunk %d exceeds ciphertext bounds", i)
		}

		chunk, err := Decrypt(ciphertext[offset:offset+h.CiphertextLen], h.Nonce, key)
		if err != nil {
			return nil, fmt.Errorf("crypto: decrypt chunk %d: %w", i, err)
		}

		plaintext = append(plaintext, chunk...)
		offset += h.CiphertextLen
	}

	return plaintext, nil
}
