// Package wire holds the explicitly typed payloads that cross a process
// boundary: the coordinator API, the peer-to-peer transfer API, and the
// audit exchange. Every type here has JSON tags and is decoded with unknown
// fields rejected at the boundary (see internal/wire.DecodeStrict).
package wire

import (
	"strconv"
	"time"
)

// PeerStatus is the liveness state the coordinator assigns to a peer.
type PeerStatus string

const (
	PeerOnline  PeerStatus = "online"
	PeerOffline PeerStatus = "offline"
	PeerSuspect PeerStatus = "suspect"
)

// PeerRecord is the peer record as the core consumes it.
type PeerRecord struct {
	PeerID           string     `json:"peer_id"`
	IP               string     `json:"ip"`
	Port             int        `json:"port"`
	PublicKey        string     `json:"public_key"`
	AvailableStorage int64      `json:"available_storage"`
	Reputation       float64    `json:"reputation"`
	Status           PeerStatus `json:"status"`
	LastSeen         time.Time  `json:"last_seen"`
	Capabilities     []string   `json:"capabilities"`
}

// URL reconstructs the peer's base HTTP address from ip/port.
func (p PeerRecord) URL() string {
	return "http://" + p.IP + ":" + strconv.Itoa(p.Port)
}

// FileMetadata is the manifest produced during store and consumed during
// retrieve. Its crypto fields are immutable once registered; only
// ShardLocations is amended by later writes.
type FileMetadata struct {
	FileHash         string           `json:"file_hash"`
	OriginalName     string           `json:"original_name"`
	TotalSize        int64            `json:"total_size"`
	EncryptedSize    int64            `json:"encrypted_size"`
	ShardsTotal      int              `json:"shards_total"`
	ShardsRequired   int              `json:"shards_required"`
	ShardHashes      []string         `json:"shard_hashes"`
	ShardLocations   map[int][]string `json:"shard_locations"`
	EncryptionScheme string           `json:"encryption_scheme"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        *time.Time       `json:"expires_at,omitempty"`
}

// EncryptionHeader is the per-file material required to decrypt, carried
// alongside the manifest by the client. Nonce is set for the whole-buffer
// scheme; ChunkNonces/ChunkLengths are set instead for the chunked scheme,
// one entry per chunk in order.
type EncryptionHeader struct {
	Salt         []byte   `json:"salt"`
	Nonce        []byte   `json:"nonce,omitempty"`
	Scheme       string   `json:"scheme"`
	ChunkNonces  [][]byte `json:"chunk_nonces,omitempty"`
	ChunkLengths []int    `json:"chunk_lengths,omitempty"`
}

// ShardInfo describes a single shard upload/download payload.
type ShardInfo struct {
	FileHash   string `json:"file_hash"`
	ShardIndex int    `json:"shard_index"`
	ShardHash  string `json:"shard_hash"`
}

// RegisterRequest is the body of POST /register.
type RegisterRequest = PeerRecord

// RegisterResponse is the reply to POST /register and POST /file/register.
type RegisterResponse struct {
	Status   string `json:"status"`
	PeerID   string `json:"peer_id,omitempty"`
	FileHash string `json:"file_hash,omitempty"`
	Message  string `json:"message,omitempty"`
}

// FileLocationsResponse is the reply to GET /file/{file_hash}/locations.
type FileLocationsResponse struct {
	FileHash       string           `json:"file_hash"`
	ShardLocations map[int][]string `json:"shard_locations"`
	ShardsRequired int              `json:"shards_required"`
	ShardsTotal    int              `json:"shards_total"`
}

// ChallengeRequest is the audit challenge issued by a verifier.
type ChallengeRequest struct {
	FileHash  string    `json:"file_hash"`
	PeerID    string    `json:"peer_id"`
	Nonce     string    `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}

// ProofResponse is the prover's signed response to a ChallengeRequest.
type ProofResponse struct {
	FileHash   string `json:"file_hash"`
	PeerID     string `json:"peer_id"`
	Proof      string `json:"proof"`
	MerkleRoot string `json:"merkle_root"`
	Signature  string `json:"signature"`
}

// UploadResponse is the reply to POST /shard/upload.
type UploadResponse struct {
	ShardHash string `json:"shard_hash"`
}
