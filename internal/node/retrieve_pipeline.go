package node

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shadspace/nodecore/internal/crypto"
	"github.com/shadspace/nodecore/internal/erasure"
	"github.com/shadspace/nodecore/internal/errs"
	"github.com/shadspace/nodecore/internal/wire"
)

// Retrieve runs the full retrieve pipeline: look up the manifest, collect
// at least k shards from their known locations, reconstruct the
// ciphertext, and decrypt it with the password and the caller-supplied
// encryption header.
func (n *Node) Retrieve(ctx context.Context, fileHash, password string, header wire.EncryptionHeader) ([]byte, error) {
	manifest, err := n.coordinator.FileLocations(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("node: fetch manifest for %s: %w", fileHash, err)
	}

	meta, known, err := n.store.GetFileMetadata(fileHash)
	var shardHashes []string
	if err == nil && known {
		shardHashes = meta.ShardHashes
	}
	expectedHashes := make(map[int]string, len(shardHashes))
	for i, h := range shardHashes {
		expectedHashes[i] = h
	}

	collected := n.collectLocalShards(fileHash, manifest.ShardLocations)
	remoteLocations := n.resolveRemotePeerURLs(ctx, manifest.ShardLocations, collected)

	if len(collected) < manifest.ShardsRequired && len(remoteLocations) > 0 {
		remote, err := n.transfer.BatchDownload(ctx, fileHash, remoteLocations, expectedHashes, manifest.ShardsRequired-len(collected))
		if err != nil {
			return nil, fmt.Errorf("node: collect shards for %s: %w", fileHash, err)
		}
		for idx, data := range remote {
			collected[idx] = data
		}
	}

	if len(collected) < manifest.ShardsRequired {
		return nil, fmt.Errorf("node: retrieve %s: have %d shards, need %d: %w", fileHash, len(collected), manifest.ShardsRequired, errs.ErrInsufficientShards)
	}

	codec := n.codec
	if codec.K() != manifest.ShardsRequired || codec.N() != manifest.ShardsTotal {
		codec, err = erasure.New(manifest.ShardsRequired, manifest.ShardsTotal)
		if err != nil {
			return nil, err
		}
	}

	indexed := make([]erasure.IndexedShard, 0, len(collected))
	for idx, data := range collected {
		indexed = append(indexed, erasure.IndexedShard{Index: idx, Data: data})
	}

	ciphertext, err := codec.Decode(indexed)
	if err != nil {
		return nil, fmt.Errorf("node: reconstruct %s: %w", fileHash, err)
	}

	key, _, err := crypto.DeriveKey(password, header.Salt)
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	if header.Scheme == schemeChunked {
		chunkHeaders := make([]crypto.ChunkHeader, len(header.ChunkNonces))
		for i := range header.ChunkNonces {
			chunkHeaders[i] = crypto.ChunkHeader{Nonce: header.ChunkNonces[i], CiphertextLen: header.ChunkLengths[i]}
		}
		plaintext, err = crypto.DecryptChunks(ciphertext, chunkHeaders, key)
	} else {
		plaintext, err = crypto.Decrypt(ciphertext, header.Nonce, key)
	}
	if err != nil {
		return nil, fmt.Errorf("node: decrypt %s: %w", fileHash, err)
	}

	return plaintext, nil
}

// collectLocalShards reads directly out of this node's own store for any
// shard whose locations list includes self, bypassing the network
// entirely for shards already on disk here.
func (n *Node) collectLocalShards(fileHash string, shardLocations map[int][]string) map[int][]byte {
	collected := make(map[int][]byte)
	for shardIndex, peerIDs := range shardLocations {
		for _, peerID := range peerIDs {
			if peerID != n.identity.PeerID {
				continue
			}
			data, err := n.store.Get(fileHash, shardIndex)
			if err != nil {
				continue
			}
			collected[shardIndex] = data
			break
		}
	}
	return collected
}

// resolveRemotePeerURLs resolves a manifest's shard_locations (peer_id
// lists) into peer_url lists, dropping self (already handled locally via
// collectLocalShards) and any shard index already collected. Peer
// directory lookups go through the coordinator rather than the discovery
// cache so a cold node can still retrieve a file before its first
// discovery tick.
func (n *Node) resolveRemotePeerURLs(ctx context.Context, shardLocations map[int][]string, alreadyCollected map[int][]byte) map[int][]string {
	peers, err := n.coordinator.Peers(ctx, 0, 1000)
	if err != nil {
		n.logger.Warn("failed to resolve peer directory for retrieve", slog.String("error", err.Error()))
		return nil
	}

	byID := make(map[string]string, len(peers))
	for _, p := range peers {
		byID[p.PeerID] = p.URL()
	}

	resolved := make(map[int][]string)
	for shardIndex, peerIDs := range shardLocations {
		if _, done := alreadyCollected[shardIndex]; done {
			continue
		}
		var urls []string
		for _, peerID := range peerIDs {
			if peerID == n.identity.PeerID {
				continue
			}
			if url, ok := byID[peerID]; ok {
				urls = append(urls, url)
			}
		}
		if len(urls) > 0 {
			resolved[shardIndex] = urls
		}
	}
	return resolved
}
