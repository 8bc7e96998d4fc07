package node

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/shadspace/nodecore/internal/crypto"
	"github.com/shadspace/nodecore/internal/wire"
)

// AuditStats is the running advisory counters a node keeps for the audit
// sweeps it has run as verifier. Not persisted.
type AuditStats struct {
	Total  int64
	Passed int64
	Failed int64
}

// RespondToChallenge implements transfer.AuditResponder: it proves
// possession of a shard of fileHash by hashing the challenge nonce
// together with the shard bytes and signing the result with this node's
// private key. The challenge names no shard index: the proof is computed
// over whichever locally stored shard of fileHash store.List returns
// first.
func (n *Node) RespondToChallenge(nonce, fileHash string) (proof, merkleRoot, signature string, err error) {
	rows, err := n.store.List(fileHash)
	if err != nil {
		return "", "", "", fmt.Errorf("node: list shards for %s: %w", fileHash, err)
	}
	if len(rows) == 0 {
		return "", "", "", fmt.Errorf("node: no local shard for %s", fileHash)
	}

	shardData, err := n.store.Get(fileHash, rows[0].ShardIndex)
	if err != nil {
		return "", "", "", fmt.Errorf("node: read shard for audit: %w", err)
	}

	proofInput := append([]byte(nonce), shardData...)
	proofHash := sha256.Sum256(proofInput)
	proof = hex.EncodeToString(proofHash[:])

	merkleHash := sha256.Sum256(shardData)
	merkleRoot = hex.EncodeToString(merkleHash[:])

	sig, err := crypto.Sign([]byte(proof), n.identity.PrivateKeyPEM)
	if err != nil {
		return "", "", "", fmt.Errorf("node: sign audit proof: %w", err)
	}
	signature = hex.EncodeToString(sig)

	return proof, merkleRoot, signature, nil
}

// runAuditSweep, acting as verifier, challenges the remote peers holding
// shards of files this node knows about and records whether each proof
// validates. A single sweep failure is logged and does not abort the
// ticker; the next tick tries again.
func (n *Node) runAuditSweep(ctx context.Context) {
	files, err := n.store.ListFileMetadata()
	if err != nil {
		n.logger.Warn("audit sweep: failed to list local file metadata", slog.String("error", err.Error()))
		return
	}

	for _, file := range files {
		for shardIndex, peerIDs := range file.ShardLocations {
			for _, peerID := range peerIDs {
				if peerID == n.identity.PeerID {
					continue
				}
				n.auditOnePeer(ctx, file.FileHash, shardIndex, peerID)
			}
		}
	}
}

func (n *Node) auditOnePeer(ctx context.Context, fileHash string, shardIndex int, peerID string) {
	peers, err := n.coordinator.Peers(ctx, 0, 1000)
	if err != nil {
		n.logger.Warn("audit sweep: failed to resolve peer directory", slog.String("error", err.Error()))
		return
	}

	var target wire.PeerRecord
	found := false
	for _, p := range peers {
		if p.PeerID == peerID {
			target = p
			found = true
			break
		}
	}
	if !found {
		n.logger.Warn("audit sweep: peer not found in directory", slog.String("peer_id", peerID))
		return
	}

	nonce, err := randomHex(32)
	if err != nil {
		n.logger.Warn("audit sweep: failed to generate nonce", slog.String("error", err.Error()))
		return
	}

	challenge := wire.ChallengeRequest{
		FileHash:  fileHash,
		PeerID:    peerID,
		Nonce:     nonce,
		Timestamp: time.Now(),
	}

	proof, err := n.transfer.SendAuditChallenge(ctx, target.URL(), challenge)
	if err != nil {
		n.logger.Warn("audit challenge failed", slog.String("peer_id", peerID), slog.String("file_hash", fileHash), slog.String("error", err.Error()))
		return
	}

	// Verification always looks up the prover's public key by peer_id, never by
	// the signature string.
	valid := crypto.Verify([]byte(proof.Proof), decodeHexOrNil(proof.Signature), []byte(target.PublicKey))

	// If this node also holds a copy of the same shard, recompute the expected
	// proof against the known bytes rather than trusting a well-formed
	// signature alone — a prover can sign anything with its own key.
	if valid {
		if localShard, err := n.store.Get(fileHash, shardIndex); err == nil {
			expectedSum := sha256.Sum256(append([]byte(nonce), localShard...))
			if proof.Proof != hex.EncodeToString(expectedSum[:]) {
				valid = false
			}
		}
	}

	n.recordAudit(valid)

	n.logger.Info("audit result", slog.String("peer_id", peerID), slog.String("file_hash", fileHash), slog.Int("shard_index", shardIndex), slog.Bool("passed", valid))
}

func (n *Node) recordAudit(passed bool) {
	n.auditMu.Lock()
	defer n.auditMu.Unlock()
	n.auditStats.Total++
	if passed {
		n.auditStats.Passed++
	} else {
		n.auditStats.Failed++
	}
}

// GetAuditStats returns a copy of this node's running audit-verifier
// counters.
func (n *Node) GetAuditStats() AuditStats {
	n.auditMu.Lock()
	defer n.auditMu.Unlock()
	return n.auditStats
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("node: generate random nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func decodeHexOrNil(s string) []byte {
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return decoded
}
