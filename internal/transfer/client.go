package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shadspace/nodecore/internal/errs"
	"github.com/shadspace/nodecore/internal/wire"
)

// Stats is the running counters the transfer service keeps for advisory
// reporting. Not persisted.
type Stats struct {
	Uploads       int64
	Downloads     int64
	BytesSent     int64
	BytesReceived int64
	Failures      int64
}

// SuccessRate returns the fraction of attempted transfers (uploads plus
// downloads) that succeeded, or 0 if none were attempted.
func (s Stats) SuccessRate() float64 {
	attempts := s.Uploads + s.Downloads + s.Failures
	if attempts == 0 {
		return 0
	}
	return float64(s.Uploads+s.Downloads) / float64(attempts)
}

// Client is the peer-to-peer transfer service: authenticated HTTP shard
// upload/download with retries, verification, and batch operations.
type Client struct {
	httpClient *http.Client
	maxRetries int
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// NewClient builds a transfer Client. timeout bounds each individual HTTP
// attempt; maxRetries bounds the retry budget per shard transfer.
func NewClient(timeout time.Duration, maxRetries int, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// Upload pushes a shard to peerURL and verifies the echoed hash equals the
// submitted hash before reporting success. Retries on transport failure or
// hash mismatch with exponential backoff 2^attempt seconds.
func (c *Client) Upload(ctx context.Context, peerURL, fileHash string, shardIndex int, shardHash string, data []byte) error {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		echoed, err := c.uploadOnce(ctx, peerURL, fileHash, shardIndex, shardHash, data)
		if err != nil {
			lastErr = err
			c.recordFailure()
			continue
		}
		if echoed != shardHash {
			lastErr = fmt.Errorf("transfer: upload echoed hash %q, expected %q", echoed, shardHash)
			c.recordFailure()
			continue
		}

		c.recordUpload(int64(len(data)))
		return nil
	}

	return fmt.Errorf("transfer: upload %s/%d to %s: %w", fileHash, shardIndex, peerURL, joinTransport(lastErr))
}

func (c *Client) uploadOnce(ctx context.Context, peerURL, fileHash string, shardIndex int, shardHash string, data []byte) (echoedHash string, err error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("file_hash", fileHash)
	_ = w.WriteField("shard_index", strconv.Itoa(shardIndex))
	_ = w.WriteField("shard_hash", shardHash)
	part, err := w.CreateFormFile("shard_data", "shard.bin")
	if err != nil {
		return "", fmt.Errorf("transfer: build multipart body: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("transfer: write multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("transfer: close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/shard/upload", &body)
	if err != nil {
		return "", fmt.Errorf("transfer: build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: upload status %d", errs.ErrTransport, resp.StatusCode)
	}

	var payload struct {
		ShardHash string `json:"shard_hash"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("transfer: decode upload response: %w", err)
	}

	return payload.ShardHash, nil
}

// Download fetches a shard from peerURL. If expectedHash is non-empty, a
// hash mismatch does not count as success and the call retries.
func (c *Client) Download(ctx context.Context, peerURL, fileHash string, shardIndex int, expectedHash string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return nil, err
			}
		}

		data, err := c.downloadOnce(ctx, peerURL, fileHash, shardIndex)
		if err != nil {
			lastErr = err
			c.recordFailure()
			continue
		}

		if expectedHash != "" && !c.VerifyIntegrity(data, expectedHash) {
			lastErr = fmt.Errorf("transfer: downloaded shard failed integrity check")
			c.recordFailure()
			continue
		}

		c.recordDownload(int64(len(data)))
		return data, nil
	}

	return nil, fmt.Errorf("transfer: download %s/%d from %s: %w", fileHash, shardIndex, peerURL, joinTransport(lastErr))
}

func (c *Client) downloadOnce(ctx context.Context, peerURL, fileHash string, shardIndex int) ([]byte, error) {
	url := fmt.Sprintf("%s/shard/download?file_hash=%s&shard_index=%d", peerURL, fileHash, shardIndex)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("transfer: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, errs.ErrNotFound
	case http.StatusUnprocessableEntity:
		return nil, errs.ErrCorruptShard
	default:
		return nil, fmt.Errorf("%w: download status %d", errs.ErrTransport, resp.StatusCode)
	}
}

// SendAuditChallenge delivers an audit challenge to a peer's
// /audit/challenge endpoint and returns its signed proof. A single attempt
// is made; callers retry at the audit-sweep level if desired.
func (c *Client) SendAuditChallenge(ctx context.Context, peerURL string, challenge wire.ChallengeRequest) (wire.ProofResponse, error) {
	var proof wire.ProofResponse

	encoded, err := json.Marshal(challenge)
	if err != nil {
		return proof, fmt.Errorf("transfer: encode challenge: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peerURL+"/audit/challenge", bytes.NewReader(encoded))
	if err != nil {
		return proof, fmt.Errorf("transfer: build challenge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return proof, fmt.Errorf("%w: %w", errs.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return proof, fmt.Errorf("%w: challenge status %d", errs.ErrTransport, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return proof, fmt.Errorf("transfer: read proof response: %w", err)
	}
	if err := wire.DecodeStrict(data, &proof); err != nil {
		return proof, fmt.Errorf("transfer: decode proof response: %w", err)
	}
	return proof, nil
}

// VerifyIntegrity reports whether SHA-256(data) equals expectedHash.
func (c *Client) VerifyIntegrity(data []byte, expectedHash string) bool {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == expectedHash
}

// BatchUpload runs every (peer, shard) placement in plan concurrently and
// returns, per shard index, the peers that acknowledged with a verified
// hash. Partial success is reported, never masked.
func (c *Client) BatchUpload(ctx context.Context, plan map[string][]int, fileHash string, shardHashes []string, shards [][]byte) (map[int][]string, error) {
	type placement struct {
		peerURL    string
		shardIndex int
	}

	var placements []placement
	for peerURL, indices := range plan {
		for _, idx := range indices {
			placements = append(placements, placement{peerURL, idx})
		}
	}

	results := make(map[int][]string)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, p := range placements {
		wg.Add(1)
		go func(p placement) {
			defer wg.Done()

			if p.shardIndex < 0 || p.shardIndex >= len(shards) {
				return
			}

			err := c.Upload(ctx, p.peerURL, fileHash, p.shardIndex, shardHashes[p.shardIndex], shards[p.shardIndex])
			if err != nil {
				c.logger.Warn("batch upload placement failed", slog.String("peer_url", p.peerURL), slog.Int("shard_index", p.shardIndex), slog.String("error", err.Error()))
				return
			}

			mu.Lock()
			results[p.shardIndex] = append(results[p.shardIndex], p.peerURL)
			mu.Unlock()
		}(p)
	}

	wg.Wait()
	return results, nil
}

// BatchDownload collects shards of fileHash by shard index from candidate
// peer URLs. Phase 1 issues one concurrent attempt per shard against its
// first candidate. Phase 2 retries remaining candidates sequentially for
// any shard still missing. It does not itself enforce requiredK; the
// caller compares len(result) to requiredK.
func (c *Client) BatchDownload(ctx context.Context, fileHash string, locations map[int][]string, expectedHashes map[int]string, requiredK int) (map[int][]byte, error) {
	results := make(map[int][]byte)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for shardIndex, peerURLs := range locations {
		if len(peerURLs) == 0 {
			continue
		}
		wg.Add(1)
		go func(shardIndex int, firstPeer string) {
			defer wg.Done()
			data, err := c.Download(ctx, firstPeer, fileHash, shardIndex, expectedHashes[shardIndex])
			if err != nil {
				return
			}
			mu.Lock()
			results[shardIndex] = data
			mu.Unlock()
		}(shardIndex, peerURLs[0])
	}
	wg.Wait()

	for shardIndex, peerURLs := range locations {
		if _, ok := results[shardIndex]; ok {
			continue
		}
		for _, peerURL := range peerURLs[1:] {
			data, err := c.Download(ctx, peerURL, fileHash, shardIndex, expectedHashes[shardIndex])
			if err != nil {
				continue
			}
			results[shardIndex] = data
			break
		}
	}

	if len(results) < requiredK {
		c.logger.Warn("batch download short of required shards", slog.Int("have", len(results)), slog.Int("need", requiredK))
	}

	return results, nil
}

// GetStats returns a copy of the running transfer statistics.
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// ResetStats zeroes all counters.
func (c *Client) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = Stats{}
}

func (c *Client) recordUpload(bytesSent int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Uploads++
	c.stats.BytesSent += bytesSent
}

func (c *Client) recordDownload(bytesReceived int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Downloads++
	c.stats.BytesReceived += bytesReceived
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Failures++
}

func sleepBackoff(ctx context.Context, attempt int) error {
	wait := time.Duration(1<<uint(attempt)) * time.Second
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func joinTransport(err error) error {
	if err == nil {
		return errs.ErrTransport
	}
	if errors.Is(err, errs.ErrTransport) || errors.Is(err, errs.ErrCorruptShard) || errors.Is(err, errs.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%w: %w", errs.ErrTransport, err)
}
