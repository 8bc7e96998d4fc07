// Package node composes the crypto, erasure, store, transfer, and
// discovery components into the two user-facing flows (store, retrieve)
// and the audit responder a peer runs for the lifetime of the process.
package node

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shadspace/nodecore/internal/config"
	"github.com/shadspace/nodecore/internal/coordinator"
	"github.com/shadspace/nodecore/internal/discovery"
	"github.com/shadspace/nodecore/internal/erasure"
	"github.com/shadspace/nodecore/internal/store"
	"github.com/shadspace/nodecore/internal/transfer"
	"github.com/shadspace/nodecore/internal/wire"
)

// Node is a single peer: its identity, local store, and the background
// tasks that keep it registered, peer-aware, and audited.
type Node struct {
	cfg      config.Config
	identity Identity

	store       *store.Store
	codec       *erasure.Codec
	coordinator *coordinator.Client
	discovery   *discovery.Service
	transfer    *transfer.Client
	httpServer  *http.Server

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	reputation float64

	auditMu    sync.Mutex
	auditStats AuditStats
}

// New constructs a Node from cfg, loading or creating its identity and
// opening its local shard store. It does not start any background work or
// network listener; call Start for that.
func New(cfg config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}

	identity, err := loadOrCreateIdentity(cfg.Node.DataDir)
	if err != nil {
		return nil, err
	}

	quotaBytes := int64(cfg.Node.MaxStorageGB) * 1024 * 1024 * 1024
	shardStore, err := store.Open(cfg.Node.DataDir, quotaBytes, logger)
	if err != nil {
		return nil, err
	}

	codec, err := erasure.New(cfg.Node.ShardsRequired, cfg.Node.ShardsTotal)
	if err != nil {
		_ = shardStore.Close()
		return nil, err
	}

	coordinatorClient := coordinator.New(cfg.CoordinatorURL(), &http.Client{Timeout: cfg.Node.TransferTimeout})
	discoverySvc := discovery.New(coordinatorClient, 0, &http.Client{Timeout: cfg.Node.HealthCheckTimeout}, logger)
	transferClient := transfer.NewClient(cfg.Node.TransferTimeout, cfg.Node.MaxRetries, logger)

	n := &Node{
		cfg:         cfg,
		identity:    identity,
		store:       shardStore,
		codec:       codec,
		coordinator: coordinatorClient,
		discovery:   discoverySvc,
		transfer:    transferClient,
		logger:      logger,
		reputation:  1.0,
	}

	server := transfer.NewServer(shardStore, n, identity.PeerID, logger)
	n.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Node.Port),
		Handler: server.Handler(),
	}

	return n, nil
}

// PeerID returns this node's identity.
func (n *Node) PeerID() string { return n.identity.PeerID }

// Start launches the peer-facing HTTP server and the heartbeat, discovery,
// and audit background tasks. It registers with the coordinator once
// before returning. Use ctx to bound the node's entire lifetime;
// cancelling it (or calling Stop) shuts everything down.
func (n *Node) Start(ctx context.Context) error {
	n.ctx, n.cancel = context.WithCancel(ctx)

	listenErr := make(chan error, 1)
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			listenErr <- err
		}
	}()

	if err := n.registerWithCoordinator(n.ctx); err != nil {
		n.logger.Warn("initial coordinator registration failed", slog.String("error", err.Error()))
	}

	n.wg.Add(3)
	go n.heartbeatLoop()
	go n.discoveryLoop()
	go n.auditLoop()

	select {
	case err := <-listenErr:
		return fmt.Errorf("node: http server: %w", err)
	default:
		n.logger.Info("node started", slog.String("peer_id", n.identity.PeerID), slog.Int("port", n.cfg.Node.Port))
		return nil
	}
}

// Stop cancels all background work, joins it, and shuts down the HTTP
// server and local store.
func (n *Node) Stop() error {
	if n.cancel != nil {
		n.cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = n.httpServer.Shutdown(shutdownCtx)

	n.wg.Wait()

	return n.store.Close()
}

func (n *Node) registerWithCoordinator(ctx context.Context) error {
	stats, err := n.store.Stats()
	if err != nil {
		return err
	}

	rec := wire.PeerRecord{
		PeerID:           n.identity.PeerID,
		IP:               localIP(),
		Port:             n.cfg.Node.Port,
		PublicKey:        string(n.identity.PublicKeyPEM),
		AvailableStorage: stats.AvailableBytes,
		Reputation:       n.currentReputation(),
		Status:           wire.PeerOnline,
		LastSeen:         time.Now(),
		Capabilities:     []string{"storage", "retrieval", "audit"},
	}

	_, err = n.coordinator.RegisterPeer(ctx, rec)
	return err
}

// localIP returns this machine's outbound IP address by opening a UDP
// "connection" to a well-known external address and reading the local
// endpoint it picked; no packet is actually sent. Falls back to
// "127.0.0.1" if the lookup fails (e.g. no network interfaces).
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}

func (n *Node) currentReputation() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reputation
}

func (n *Node) heartbeatLoop() {
	defer n.wg.Done()

	interval := n.cfg.Node.HeartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := n.registerWithCoordinator(n.ctx); err != nil {
				n.logger.Warn("heartbeat failed", slog.String("error", err.Error()))
			}
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) discoveryLoop() {
	defer n.wg.Done()

	interval := n.cfg.Node.PeerDiscoveryInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := n.discovery.Discover(n.ctx, 0); err != nil {
				n.logger.Warn("peer discovery failed", slog.String("error", err.Error()))
			}
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Node) auditLoop() {
	defer n.wg.Done()

	interval := n.cfg.Node.AuditInterval
	if interval <= 0 {
		interval = 300 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			n.runAuditSweep(n.ctx)
		case <-n.ctx.Done():
			return
		}
	}
}
