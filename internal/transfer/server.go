// Package transfer implements peer-to-peer shard transfer: the HTTP
// server a node runs to answer other peers' shard requests, and the HTTP
// client it uses to push/pull shards to/from other peers with retries,
// verification, and batch semantics.
package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/shadspace/nodecore/internal/errs"
)

// ShardStore is the subset of store.Store the peer-facing HTTP server
// depends on.
type ShardStore interface {
	Put(fileHash string, shardIndex int, data []byte, peerID string, expiresAt *time.Time) (string, error)
	Get(fileHash string, shardIndex int) ([]byte, error)
}

// AuditResponder answers audit challenges with a signed proof.
type AuditResponder interface {
	RespondToChallenge(nonce string, fileHash string) (proof, merkleRoot, signature string, err error)
}

// Server is the gin-based HTTP server exposing the peer-to-peer endpoints
// of the transfer contract: shard upload/download, audit challenge, and
// health.
type Server struct {
	router  *gin.Engine
	store   ShardStore
	auditor AuditResponder
	selfID  string
	logger  *slog.Logger
}

// NewServer builds a Server backed by store and auditor. selfID is this
// node's peer_id, stamped onto every shard stored through the upload
// endpoint and onto audit proofs.
func NewServer(store ShardStore, auditor AuditResponder, selfID string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	s := &Server{router: router, store: store, auditor: auditor, selfID: selfID, logger: logger}

	router.POST("/shard/upload", s.handleUpload)
	router.GET("/shard/download", s.handleDownload)
	router.POST("/audit/challenge", s.handleAuditChallenge)
	router.GET("/health", s.handleHealth)

	return s
}

// Handler returns the underlying http.Handler for use by an http.Server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleUpload(c *gin.Context) {
	fileHash := c.PostForm("file_hash")
	shardIndexStr := c.PostForm("shard_index")
	shardHash := c.PostForm("shard_hash")

	shardIndex, err := parseIndex(shardIndexStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shard_index"})
		return
	}

	file, _, err := c.Request.FormFile("shard_data")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing shard_data"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read shard data failed"})
		return
	}

	computed := sha256.Sum256(data)
	if shardHash != "" && hex.EncodeToString(computed[:]) != shardHash {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "shard hash mismatch"})
		return
	}

	storedHash, err := s.store.Put(fileHash, shardIndex, data, s.selfID, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errs.ErrQuotaExceeded) {
			status = http.StatusInsufficientStorage
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"shard_hash": storedHash})
}

func (s *Server) handleDownload(c *gin.Context) {
	fileHash := c.Query("file_hash")
	shardIndex, err := parseIndex(c.Query("shard_index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid shard_index"})
		return
	}

	data, err := s.store.Get(fileHash, shardIndex)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrCorruptShard):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "corrupt shard"})
		case errors.Is(err, errs.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "shard not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *Server) handleAuditChallenge(c *gin.Context) {
	var req struct {
		FileHash string `json:"file_hash"`
		Nonce    string `json:"nonce"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid challenge payload"})
		return
	}

	proof, merkleRoot, signature, err := s.auditor.RespondToChallenge(req.Nonce, req.FileHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"file_hash":   req.FileHash,
		"peer_id":     s.selfID,
		"proof":       proof,
		"merkle_root": merkleRoot,
		"signature":   signature,
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseIndex(s string) (int, error) {
	return strconv.Atoi(s)
}
