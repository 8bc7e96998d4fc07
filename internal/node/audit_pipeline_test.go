package node

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/config"
	"github.com/shadspace/nodecore/internal/transfer"
	"github.com/shadspace/nodecore/internal/wire"
)

// auditFakeCoordinator serves just enough of the coordinator contract for
// a verifier to resolve the prover's peer record by peer_id.
type auditFakeCoordinator struct {
	mu    sync.Mutex
	peers []wire.PeerRecord
}

func newAuditFakeCoordinator(t *testing.T) (*httptest.Server, *auditFakeCoordinator) {
	t.Helper()
	fc := &auditFakeCoordinator{}

	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.RegisterResponse{Status: "ok"})
	})
	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(fc.peers)
	})

	return httptest.NewServer(mux), fc
}

func auditTestConfig(t *testing.T, coordinatorURL string) config.Config {
	t.Helper()
	cfg := config.Defaults()
	cfg.Node.DataDir = t.TempDir()
	cfg.Node.Port = 0
	cfg.Node.ShardsTotal = 4
	cfg.Node.ShardsRequired = 2
	cfg.Node.RedundancyFactor = 1
	cfg.Node.MaxStorageGB = 1

	parsed, err := url.Parse(coordinatorURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	cfg.Coordinator.Host = host
	cfg.Coordinator.Port = port

	return cfg
}

func startAuditServer(t *testing.T, prover *Node) *httptest.Server {
	t.Helper()
	server := transfer.NewServer(prover.store, prover, prover.identity.PeerID, nil)
	return httptest.NewServer(server.Handler())
}

func peerRecordFor(t *testing.T, n *Node, serverURL string) wire.PeerRecord {
	t.Helper()
	parsed, err := url.Parse(serverURL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(parsed.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return wire.PeerRecord{
		PeerID:    n.identity.PeerID,
		IP:        host,
		Port:      port,
		PublicKey: string(n.identity.PublicKeyPEM),
		Status:    wire.PeerOnline,
		LastSeen:  time.Now(),
	}
}

func TestAuditOnePeerPassesWhenShardIntact(t *testing.T) {
	coordSrv, fc := newAuditFakeCoordinator(t)
	defer coordSrv.Close()

	prover, err := New(auditTestConfig(t, coordSrv.URL), nil)
	require.NoError(t, err)
	verifier, err := New(auditTestConfig(t, coordSrv.URL), nil)
	require.NoError(t, err)

	auditSrv := startAuditServer(t, prover)
	defer auditSrv.Close()

	fc.mu.Lock()
	fc.peers = []wire.PeerRecord{peerRecordFor(t, prover, auditSrv.URL)}
	fc.mu.Unlock()

	fileHash := "file-intact"
	shardIndex := 0
	shardData := []byte("this is the shard content both peers hold")

	_, err = prover.store.Put(fileHash, shardIndex, shardData, prover.identity.PeerID, nil)
	require.NoError(t, err)
	_, err = verifier.store.Put(fileHash, shardIndex, shardData, verifier.identity.PeerID, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	verifier.auditOnePeer(ctx, fileHash, shardIndex, prover.identity.PeerID)

	stats := verifier.GetAuditStats()
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 1, stats.Passed)
	require.EqualValues(t, 0, stats.Failed)
}

func TestAuditOnePeerFailsWhenProverShardCorrupted(t *testing.T) {
	coordSrv, fc := newAuditFakeCoordinator(t)
	defer coordSrv.Close()

	prover, err := New(auditTestConfig(t, coordSrv.URL), nil)
	require.NoError(t, err)
	verifier, err := New(auditTestConfig(t, coordSrv.URL), nil)
	require.NoError(t, err)

	auditSrv := startAuditServer(t, prover)
	defer auditSrv.Close()

	fc.mu.Lock()
	fc.peers = []wire.PeerRecord{peerRecordFor(t, prover, auditSrv.URL)}
	fc.mu.Unlock()

	fileHash := "file-corrupted"
	shardIndex := 0
	goodShard := []byte("this is the shard content both peers hold")
	corruptShard := make([]byte, len(goodShard))
	copy(corruptShard, goodShard)
	corruptShard[0] ^= 0x01

	_, err = prover.store.Put(fileHash, shardIndex, corruptShard, prover.identity.PeerID, nil)
	require.NoError(t, err)
	_, err = verifier.store.Put(fileHash, shardIndex, goodShard, verifier.identity.PeerID, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	verifier.auditOnePeer(ctx, fileHash, shardIndex, prover.identity.PeerID)

	stats := verifier.GetAuditStats()
	require.EqualValues(t, 1, stats.Total)
	require.EqualValues(t, 0, stats.Passed)
	require.EqualValues(t, 1, stats.Failed)
}
