// Package discovery caches the coordinator's peer directory and selects
// storage targets and shard hosts from it.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/shadspace/nodecore/internal/coordinator"
	"github.com/shadspace/nodecore/internal/wire"
)

// cacheTTL is how long a discovered peer list is trusted before a fresh
// round-trip to the coordinator is required.
const cacheTTL = 5 * time.Minute

// Strategy names a peer-ranking approach for Select.
type Strategy string

const (
	StrategyReputation Strategy = "reputation"
	StrategyStorage    Strategy = "storage"
	StrategyRandom     Strategy = "random"
)

// Service discovers and selects peers, caching the coordinator's directory
// for cacheTTL to avoid a round-trip on every call.
type Service struct {
	coordinator *coordinator.Client
	minRep      float64
	httpClient  *http.Client
	logger      *slog.Logger

	mu       sync.RWMutex
	cached   []wire.PeerRecord
	cachedAt time.Time
}

// New builds a discovery Service against a coordinator client. minRep is
// the default minimum reputation applied when callers don't specify one.
func New(coordinatorClient *coordinator.Client, minRep float64, httpClient *http.Client, logger *slog.Logger) *Service {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coordinator: coordinatorClient,
		minRep:      minRep,
		httpClient:  httpClient,
		logger:      logger,
	}
}

// Discover fetches the peer directory from the coordinator and refreshes
// the cache. Always goes to the network; callers that want the cache
// should use Cached or FindStoragePeers instead.
func (s *Service) Discover(ctx context.Context, minReputation float64) ([]wire.PeerRecord, error) {
	peers, err := s.coordinator.Peers(ctx, minReputation, 100)
	if err != nil {
		s.logger.Error("peer discovery failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("discovery: fetch peers: %w", err)
	}

	s.mu.Lock()
	s.cached = peers
	s.cachedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("discovered peers", slog.Int("count", len(peers)))
	return peers, nil
}

// Cached returns the last discovered peer list without a network call,
// along with whether the cache is stale (older than cacheTTL).
func (s *Service) Cached() (peers []wire.PeerRecord, stale bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cached, s.isStaleLocked()
}

func (s *Service) isStaleLocked() bool {
	if s.cachedAt.IsZero() {
		return true
	}
	return time.Since(s.cachedAt) >= cacheTTL
}

// ShouldRediscover reports whether the cache is stale or empty.
func (s *Service) ShouldRediscover() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isStaleLocked()
}

// FindStoragePeers rediscovers if the cache is stale, filters out excluded
// and non-online peers, sorts the rest by (reputation, available storage)
// descending, and samples numPeers candidates from the top 2*numPeers to
// spread write load across roughly-comparable peers.
func (s *Service) FindStoragePeers(ctx context.Context, numPeers int, exclude map[string]bool) ([]wire.PeerRecord, error) {
	if s.ShouldRediscover() {
		if _, err := s.Discover(ctx, s.minRep); err != nil {
			return nil, err
		}
	}

	all, _ := s.Cached()

	var available []wire.PeerRecord
	for _, p := range all {
		if exclude != nil && exclude[p.PeerID] {
			continue
		}
		if p.Status != wire.PeerOnline {
			continue
		}
		available = append(available, p)
	}

	if len(available) < numPeers {
		s.logger.Warn("insufficient peers for storage", slog.Int("available", len(available)), slog.Int("requested", numPeers))
	}

	sortByReputationThenStorage(available)

	if len(available) <= numPeers {
		return available, nil
	}

	topN := numPeers * 2
	if topN > len(available) {
		topN = len(available)
	}
	top := available[:topN]

	return sampleN(top, numPeers), nil
}

// FindShardHosts looks up the peers currently holding a given shard of a
// file, via the coordinator's file-locations endpoint.
func (s *Service) FindShardHosts(ctx context.Context, fileHash string, shardIndex int) ([]string, error) {
	locations, err := s.coordinator.FileLocations(ctx, fileHash)
	if err != nil {
		return nil, fmt.Errorf("discovery: find shard hosts: %w", err)
	}
	return locations.ShardLocations[shardIndex], nil
}

// HealthCheck asks a peer's own /health endpoint whether it is responsive.
func (s *Service) HealthCheck(ctx context.Context, peerURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peerURL+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("peer health check failed", slog.String("peer_url", peerURL), slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Select ranks peers by strategy and returns the top count.
func Select(peers []wire.PeerRecord, count int, strategy Strategy) []wire.PeerRecord {
	if len(peers) == 0 {
		return nil
	}

	ranked := make([]wire.PeerRecord, len(peers))
	copy(ranked, peers)

	switch strategy {
	case StrategyStorage:
		sortByStorage(ranked)
	case StrategyRandom:
		rand.Shuffle(len(ranked), func(i, j int) { ranked[i], ranked[j] = ranked[j], ranked[i] })
	default:
		sortByReputationThenStorage(ranked)
	}

	if count > len(ranked) {
		count = len(ranked)
	}
	return ranked[:count]
}

func sortByReputationThenStorage(peers []wire.PeerRecord) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].Reputation != peers[j].Reputation {
			return peers[i].Reputation > peers[j].Reputation
		}
		return peers[i].AvailableStorage > peers[j].AvailableStorage
	})
}

func sortByStorage(peers []wire.PeerRecord) {
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].AvailableStorage > peers[j].AvailableStorage
	})
}

func sampleN(peers []wire.PeerRecord, n int) []wire.PeerRecord {
	if n >= len(peers) {
		out := make([]wire.PeerRecord, len(peers))
		copy(out, peers)
		return out
	}

	idx := rand.Perm(len(peers))[:n]
	out := make([]wire.PeerRecord, n)
	for i, j := range idx {
		out[i] = peers[j]
	}
	return out
}
