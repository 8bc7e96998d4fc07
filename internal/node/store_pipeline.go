package node

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shadspace/nodecore/internal/crypto"
	"github.com/shadspace/nodecore/internal/store"
	"github.com/shadspace/nodecore/internal/wire"
)

const (
	schemeWholeBuffer = "AES-256-GCM"
	schemeChunked     = "AES-256-GCM-CHUNKED"
)

// StoreResult carries everything a caller needs to retrieve a stored file
// again: the manifest's file_hash plus the encryption header the
// coordinator does not and must not see.
type StoreResult struct {
	FileHash string
	Header   wire.EncryptionHeader
}

// Store runs the full store pipeline: derive a key from password, encrypt
// plaintext, erasure-code the ciphertext, persist every shard locally,
// disperse copies to other peers on a best-effort basis, and publish the
// manifest to the coordinator.
func (n *Node) Store(ctx context.Context, plaintext []byte, originalName, password string) (StoreResult, error) {
	key, salt, err := crypto.DeriveKey(password, nil)
	if err != nil {
		return StoreResult{}, err
	}

	scheme := schemeWholeBuffer
	var ciphertext, nonce []byte
	var chunkHeaders []crypto.ChunkHeader

	if n.cfg.Node.ChunkThresholdBytes > 0 && int64(len(plaintext)) > n.cfg.Node.ChunkThresholdBytes {
		scheme = schemeChunked
		ciphertext, chunkHeaders, err = crypto.EncryptChunks(plaintext, key)
	} else {
		ciphertext, nonce, err = crypto.Encrypt(plaintext, key)
	}
	if err != nil {
		return StoreResult{}, err
	}

	shards, err := n.codec.Encode(ciphertext)
	if err != nil {
		return StoreResult{}, err
	}

	fileHashBytes := sha256.Sum256(ciphertext)
	fileHash := hex.EncodeToString(fileHashBytes[:])

	shardHashes := make([]string, len(shards))
	for i, shard := range shards {
		sum := sha256.Sum256(shard)
		shardHashes[i] = hex.EncodeToString(sum[:])
	}

	shardLocations := make(map[int][]string, len(shards))
	for i, shard := range shards {
		if _, err := n.store.Put(fileHash, i, shard, n.identity.PeerID, nil); err != nil {
			return StoreResult{}, fmt.Errorf("node: persist local shard %d: %w", i, err)
		}
		shardLocations[i] = []string{n.identity.PeerID}
	}

	n.disperseShards(ctx, fileHash, shards, shardHashes, shardLocations)

	meta := wire.FileMetadata{
		FileHash:         fileHash,
		OriginalName:     originalName,
		TotalSize:        int64(len(plaintext)),
		EncryptedSize:    int64(len(ciphertext)),
		ShardsTotal:      n.codec.N(),
		ShardsRequired:   n.codec.K(),
		ShardHashes:      shardHashes,
		ShardLocations:   shardLocations,
		EncryptionScheme: scheme,
		CreatedAt:        time.Now(),
	}

	if _, err := n.coordinator.RegisterFile(ctx, meta); err != nil {
		n.logger.Warn("file metadata registration with coordinator failed", slog.String("file_hash", fileHash), slog.String("error", err.Error()))
	}

	if err := n.store.PutFileMetadata(store.FileMetadataRecord{
		FileHash:       fileHash,
		OriginalName:   originalName,
		TotalSize:      meta.TotalSize,
		EncryptedSize:  meta.EncryptedSize,
		ShardsTotal:    meta.ShardsTotal,
		ShardsRequired: meta.ShardsRequired,
		ShardHashes:    shardHashes,
		ShardLocations: shardLocations,
		CreatedAt:      meta.CreatedAt,
	}); err != nil {
		n.logger.Warn("failed to persist local file metadata", slog.String("file_hash", fileHash), slog.String("error", err.Error()))
	}

	n.logger.Info("file stored", slog.String("file_hash", fileHash), slog.Int("shards_total", meta.ShardsTotal))

	header := wire.EncryptionHeader{Salt: salt, Scheme: scheme}
	if scheme == schemeChunked {
		header.ChunkNonces = make([][]byte, len(chunkHeaders))
		header.ChunkLengths = make([]int, len(chunkHeaders))
		for i, h := range chunkHeaders {
			header.ChunkNonces[i] = h.Nonce
			header.ChunkLengths[i] = h.CiphertextLen
		}
	} else {
		header.Nonce = nonce
	}

	return StoreResult{FileHash: fileHash, Header: header}, nil
}

// disperseShards attempts, per shard, to place it on up to
// redundancy_factor-1 distinct remote peers (the self copy already counts
// toward redundancy). Failures to reach the target redundancy are logged,
// never fatal: every shard already has a durable copy on self.
func (n *Node) disperseShards(ctx context.Context, fileHash string, shards [][]byte, shardHashes []string, shardLocations map[int][]string) {
	targetCopies := n.cfg.Node.RedundancyFactor - 1
	if targetCopies <= 0 {
		return
	}

	exclude := map[string]bool{n.identity.PeerID: true}
	peers, err := n.discovery.FindStoragePeers(ctx, targetCopies*len(shards), exclude)
	if err != nil || len(peers) == 0 {
		n.logger.Warn("no remote peers available for dispersion", slog.String("file_hash", fileHash), slog.String("error", fmt.Sprint(err)))
		return
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i, shard := range shards {
		i, shard := i, shard
		candidates := peers
		if len(candidates) > targetCopies {
			candidates = candidates[:targetCopies]
		}

		for _, peer := range candidates {
			peer := peer
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := n.transfer.Upload(ctx, peer.URL(), fileHash, i, shardHashes[i], shard); err != nil {
					n.logger.Warn("shard dispersion failed", slog.String("file_hash", fileHash), slog.Int("shard_index", i), slog.String("peer_id", peer.PeerID), slog.String("error", err.Error()))
					return
				}
				mu.Lock()
				shardLocations[i] = append(shardLocations[i], peer.PeerID)
				mu.Unlock()
			}()
		}
	}

	wg.Wait()
}
