package erasure_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/erasure"
	"github.com/shadspace/nodecore/internal/errs"
)

func toIndexed(shards [][]byte, keep map[int]bool) []erasure.IndexedShard {
	var out []erasure.IndexedShard
	for i, s := range shards {
		if keep == nil || keep[i] {
			out = append(out, erasure.IndexedShard{Index: i, Data: s})
		}
	}
	return out
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	codec, err := erasure.New(2, 4)
	require.NoError(t, err)

	data := []byte("hello world, this is ciphertext-shaped data")
	shards, err := codec.Encode(data)
	require.NoError(t, err)
	require.Len(t, shards, 4)

	decoded, err := codec.Decode(toIndexed(shards, nil))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDecodeToleratesShardLoss(t *testing.T) {
	codec, err := erasure.New(2, 4)
	require.NoError(t, err)

	data := []byte("hello world")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	// Drop shards 0 and 3, keep 1 and 2 (k=2 remain).
	decoded, err := codec.Decode(toIndexed(shards, map[int]bool{1: true, 2: true}))
	require.NoError(t, err)
	require.Equal(t, data, decoded)
}

func TestDecodeFailsBelowK(t *testing.T) {
	codec, err := erasure.New(2, 4)
	require.NoError(t, err)

	data := []byte("hello world")
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	_, err = codec.Decode(toIndexed(shards, map[int]bool{1: true}))
	require.ErrorIs(t, err, errs.ErrInsufficientShards)
}

func TestEncodeSystematicProperty(t *testing.T) {
	codec, err := erasure.New(3, 5)
	require.NoError(t, err)

	data := []byte("0123456789012345678901") // 22 bytes, pads to 24 -> chunks of 8
	shards, err := codec.Encode(data)
	require.NoError(t, err)

	padded := make([]byte, 0, 24)
	padded = append(padded, data...)
	for len(padded)%3 != 0 {
		padded = append(padded, 0)
	}
	chunkLen := len(padded) / 3
	for i := 0; i < 3; i++ {
		require.Equal(t, padded[i*chunkLen:(i+1)*chunkLen], shards[i])
	}
}
