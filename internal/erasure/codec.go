// Package erasure implements the systematic (k, n) erasure codec the
// storage core uses to turn a ciphertext buffer into n shards, any k of
// which suffice to reconstruct it. Callers must never pass plaintext to
// Encode: the decode path strips trailing zero bytes, which is only safe
// because ciphertext is effectively random and will not end in a zero
// byte introduced by padding.
package erasure

import (
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/shadspace/nodecore/internal/errs"
)

// Codec is a systematic (k, n) erasure codec bound to a fixed shard count.
type Codec struct {
	k, n int
	enc  reedsolomon.Encoder
}

// New constructs a Codec for shardsRequired (k) data shards and
// shardsTotal (n) total shards.
func New(shardsRequired, shardsTotal int) (*Codec, error) {
	if shardsRequired <= 0 || shardsTotal <= shardsRequired {
		return nil, fmt.Errorf("erasure: invalid (k=%d, n=%d)", shardsRequired, shardsTotal)
	}

	enc, err := reedsolomon.New(shardsRequired, shardsTotal-shardsRequired)
	if err != nil {
		return nil, fmt.Errorf("erasure: new encoder: %w", err)
	}

	return &Codec{k: shardsRequired, n: shardsTotal, enc: enc}, nil
}

// K returns the number of shards required to reconstruct the original
// data.
func (c *Codec) K() int { return c.k }

// N returns the total number of shards produced by Encode.
func (c *Codec) N() int { return c.n }

// Encode pads data with zero bytes to the smallest length divisible by k,
// splits it into k equal chunks, and produces n equal-length shards whose
// first k are identical to the input chunks (the systematic property) and
// whose remaining n-k are parity.
func (c *Codec) Encode(data []byte) ([][]byte, error) {
	pad := (c.k - len(data)%c.k) % c.k
	padded := make([]byte, len(data)+pad)
	copy(padded, data)

	chunkLen := len(padded) / c.k
	shards := make([][]byte, c.n)
	for i := 0; i < c.k; i++ {
		shards[i] = padded[i*chunkLen : (i+1)*chunkLen]
	}
	for i := c.k; i < c.n; i++ {
		shards[i] = make([]byte, chunkLen)
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("erasure: encode: %w", err)
	}

	return shards, nil
}

// IndexedShard pairs a shard's position with its bytes, or nil bytes if
// absent.
type IndexedShard struct {
	Index int
	Data  []byte
}

// Decode reconstructs the original buffer from any k of the n shards. It
// fails with errs.ErrInsufficientShards if fewer than k shards are
// present. Trailing zero bytes introduced by Encode's padding are
// stripped from the result.
func (c *Codec) Decode(shards []IndexedShard) ([]byte, error) {
	present := 0
	slots := make([][]byte, c.n)
	for _, s := range shards {
		if s.Index < 0 || s.Index >= c.n {
			return nil, fmt.Errorf("erasure: shard index %d out of range", s.Index)
		}
		if s.Data != nil {
			slots[s.Index] = s.Data
			present++
		}
	}

	if present < c.k {
		return nil, fmt.Errorf("erasure: have %d shards, need %d: %w", present, c.k, errs.ErrInsufficientShards)
	}

	if err := c.enc.Reconstruct(slots); err != nil {
		return nil, fmt.Errorf("erasure: reconstruct: %w", err)
	}

	var padded []byte
	for i := 0; i < c.k; i++ {
		padded = append(padded, slots[i]...)
	}

	end := len(padded)
	for end > 0 && padded[end-1] == 0 {
		end--
	}

	return padded[:end], nil
}
