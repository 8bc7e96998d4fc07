package discovery_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/coordinator"
	"github.com/shadspace/nodecore/internal/discovery"
	"github.com/shadspace/nodecore/internal/wire"
)

func coordinatorStub(t *testing.T, peers []wire.PeerRecord) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(peers)
	}))
}

func TestDiscoverPopulatesCache(t *testing.T) {
	srv := coordinatorStub(t, []wire.PeerRecord{
		{PeerID: "peer-a", Status: wire.PeerOnline, Reputation: 0.9},
	})
	defer srv.Close()

	svc := discovery.New(coordinator.New(srv.URL, nil), 0.5, nil, nil)
	peers, err := svc.Discover(context.Background(), 0.5)
	require.NoError(t, err)
	require.Len(t, peers, 1)

	cached, stale := svc.Cached()
	require.Len(t, cached, 1)
	require.False(t, stale)
}

func TestFindStoragePeersExcludesAndFiltersOffline(t *testing.T) {
	srv := coordinatorStub(t, []wire.PeerRecord{
		{PeerID: "peer-a", Status: wire.PeerOnline, Reputation: 0.9, AvailableStorage: 100},
		{PeerID: "peer-b", Status: wire.PeerOffline, Reputation: 0.95, AvailableStorage: 200},
		{PeerID: "peer-c", Status: wire.PeerOnline, Reputation: 0.8, AvailableStorage: 50},
	})
	defer srv.Close()

	svc := discovery.New(coordinator.New(srv.URL, nil), 0.0, nil, nil)
	peers, err := svc.FindStoragePeers(context.Background(), 2, map[string]bool{"peer-c": true})
	require.NoError(t, err)

	require.Len(t, peers, 1)
	require.Equal(t, "peer-a", peers[0].PeerID)
}

func TestFindShardHosts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.FileLocationsResponse{
			FileHash:       "abc",
			ShardLocations: map[int][]string{2: {"peer-a", "peer-b"}},
		})
	}))
	defer srv.Close()

	svc := discovery.New(coordinator.New(srv.URL, nil), 0.5, nil, nil)
	hosts, err := svc.FindShardHosts(context.Background(), "abc", 2)
	require.NoError(t, err)
	require.Equal(t, []string{"peer-a", "peer-b"}, hosts)
}

func TestHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer unhealthy.Close()

	svc := discovery.New(coordinator.New("", nil), 0.5, nil, nil)
	require.True(t, svc.HealthCheck(context.Background(), healthy.URL))
	require.False(t, svc.HealthCheck(context.Background(), unhealthy.URL))
}

func TestSelectStrategies(t *testing.T) {
	peers := []wire.PeerRecord{
		{PeerID: "low-rep", Reputation: 0.1, AvailableStorage: 500},
		{PeerID: "high-rep", Reputation: 0.9, AvailableStorage: 10},
		{PeerID: "high-storage", Reputation: 0.5, AvailableStorage: 1000},
	}

	byRep := discovery.Select(peers, 1, discovery.StrategyReputation)
	require.Equal(t, "high-rep", byRep[0].PeerID)

	byStorage := discovery.Select(peers, 1, discovery.StrategyStorage)
	require.Equal(t, "high-storage", byStorage[0].PeerID)

	byRandom := discovery.Select(peers, 3, discovery.StrategyRandom)
	require.Len(t, byRandom, 3)
}
