package coordinator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadspace/nodecore/internal/coordinator"
	"github.com/shadspace/nodecore/internal/wire"
)

func TestRegisterPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/register", r.URL.Path)
		var rec wire.PeerRecord
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rec))
		require.Equal(t, "peer-a", rec.PeerID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.RegisterResponse{Status: "ok", PeerID: rec.PeerID})
	}))
	defer srv.Close()

	c := coordinator.New(srv.URL, nil)
	resp, err := c.RegisterPeer(context.Background(), wire.PeerRecord{PeerID: "peer-a"})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "peer-a", resp.PeerID)
}

func TestFileLocations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/file/abc123/locations", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(wire.FileLocationsResponse{
			FileHash:       "abc123",
			ShardLocations: map[int][]string{0: {"peer-a"}},
			ShardsRequired: 3,
			ShardsTotal:    5,
		})
	}))
	defer srv.Close()

	c := coordinator.New(srv.URL, nil)
	resp, err := c.FileLocations(context.Background(), "abc123")
	require.NoError(t, err)
	require.Equal(t, 3, resp.ShardsRequired)
	require.Equal(t, []string{"peer-a"}, resp.ShardLocations[0])
}

func TestPeersAppliesQueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0.7", r.URL.Query().Get("min_reputation"))
		require.Equal(t, "10", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]wire.PeerRecord{{PeerID: "peer-a", Reputation: 0.9}})
	}))
	defer srv.Close()

	c := coordinator.New(srv.URL, nil)
	peers, err := c.Peers(context.Background(), 0.7, 10)
	require.NoError(t, err)
	require.Len(t, peers, 1)
	require.Equal(t, "peer-a", peers[0].PeerID)
}

func TestDeregisterPeer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/peer/peer-a", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := coordinator.New(srv.URL, nil)
	require.NoError(t, c.DeregisterPeer(context.Background(), "peer-a"))
}

func TestRegisterPeerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := coordinator.New(srv.URL, nil)
	_, err := c.RegisterPeer(context.Background(), wire.PeerRecord{PeerID: "peer-a"})
	require.Error(t, err)
}
