// Package coordinator is a typed HTTP client for the coordinator service's
// registration, lookup, and audit-coordination endpoints. It implements
// only the contract the node depends on; running a coordinator server is
// out of scope for this module.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/shadspace/nodecore/internal/wire"
)

// Client talks to a single coordinator instance over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a coordinator Client against baseURL using httpClient. If
// httpClient is nil, http.DefaultClient is used.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// RegisterPeer announces this node to the coordinator.
func (c *Client) RegisterPeer(ctx context.Context, rec wire.PeerRecord) (wire.RegisterResponse, error) {
	var resp wire.RegisterResponse
	err := c.postJSON(ctx, "/register", rec, &resp)
	return resp, err
}

// RegisterFile records a file's manifest with the coordinator.
func (c *Client) RegisterFile(ctx context.Context, meta wire.FileMetadata) (wire.RegisterResponse, error) {
	var resp wire.RegisterResponse
	err := c.postJSON(ctx, "/file/register", meta, &resp)
	return resp, err
}

// FileLocations fetches shard placement for a file.
func (c *Client) FileLocations(ctx context.Context, fileHash string) (wire.FileLocationsResponse, error) {
	var resp wire.FileLocationsResponse
	err := c.getJSON(ctx, "/file/"+fileHash+"/locations", &resp)
	return resp, err
}

// Peers lists known peers, optionally filtered by minimum reputation and
// capped at limit (0 means the coordinator's default).
func (c *Client) Peers(ctx context.Context, minReputation float64, limit int) ([]wire.PeerRecord, error) {
	path := fmt.Sprintf("/peers?min_reputation=%s", strconv.FormatFloat(minReputation, 'f', -1, 64))
	if limit > 0 {
		path += "&limit=" + strconv.Itoa(limit)
	}

	var peers []wire.PeerRecord
	err := c.getJSON(ctx, path, &peers)
	return peers, err
}

// DeregisterPeer removes a peer from the coordinator's directory.
func (c *Client) DeregisterPeer(ctx context.Context, peerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/peer/"+peerID, nil)
	if err != nil {
		return fmt.Errorf("coordinator: build deregister request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator: deregister peer %s: %w", peerID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("coordinator: deregister peer %s: status %d", peerID, resp.StatusCode)
	}
	return nil
}

// RequestChallenge asks the coordinator to issue an audit challenge nonce
// for a (file, peer) pair.
func (c *Client) RequestChallenge(ctx context.Context, fileHash, peerID string) (wire.ChallengeRequest, error) {
	var challenge wire.ChallengeRequest
	body := map[string]string{"file_hash": fileHash, "peer_id": peerID}
	err := c.postJSON(ctx, "/audit/challenge", body, &challenge)
	return challenge, err
}

// SubmitProof sends a prover's signed response back to the coordinator for
// verification.
func (c *Client) SubmitProof(ctx context.Context, proof wire.ProofResponse) (wire.RegisterResponse, error) {
	var resp wire.RegisterResponse
	err := c.postJSON(ctx, "/audit/verify", proof, &resp)
	return resp, err
}

func (c *Client) postJSON(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("coordinator: encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("coordinator: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator: POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator: POST %s: status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coordinator: read response body: %w", err)
	}
	return wire.DecodeStrict(data, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("coordinator: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coordinator: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coordinator: GET %s: status %d", path, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("coordinator: read response body: %w", err)
	}
	return wire.DecodeStrict(data, out)
}
