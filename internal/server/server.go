// Package server exposes the payment-gated fact API over HTTP: the core
// per-fact endpoint, the monetized feed proxies, and deploy diagnostics.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/bundle"
	"github.com/sabaki-ai/factgate/internal/config"
	"github.com/sabaki-ai/factgate/internal/facts"
	"github.com/sabaki-ai/factgate/internal/onchain"
	"github.com/sabaki-ai/factgate/internal/payment"
)

// Settler settles one micropayment per request.
type Settler interface {
	Settle(ctx context.Context, req payment.SettleRequest) (*payment.Outcome, error)
}

// AttestationReader fetches on-chain attestations for the metric pair.
type AttestationReader interface {
	Address() string
	ReadMetricPair(ctx context.Context, ticker string, periodID, nonGaapID, consensusID common.Hash) (*onchain.MetricPair, error)
}

// CacheLoader reads the current corpus snapshot.
type CacheLoader func() (*facts.CacheFile, error)

// Server holds the request pipeline dependencies. All of them are immutable
// handles; request handling itself is stateless.
type Server struct {
	cfg       *config.Config
	gateway   Settler
	oracle    AttestationReader
	signer    *bundle.Signer
	loadCache CacheLoader
	upstream  *http.Client
}

// New wires a server from explicit dependencies.
func New(cfg *config.Config, gateway Settler, oracle AttestationReader, signer *bundle.Signer, loadCache CacheLoader) *Server {
	return &Server{
		cfg:       cfg,
		gateway:   gateway,
		oracle:    oracle,
		signer:    signer,
		loadCache: loadCache,
		upstream:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Build constructs a production server from configuration: real settlement
// gateway, RPC-backed oracle, configured signing key, on-disk corpus.
func Build(cfg *config.Config) (*Server, error) {
	oracle, err := onchain.New(cfg.Chain.RPCURL, cfg.Chain.OracleAddress)
	if err != nil {
		return nil, err
	}
	signer, err := bundle.NewSigner(cfg.Signing.PrivateKey)
	if err != nil {
		return nil, err
	}
	loadCache := func() (*facts.CacheFile, error) {
		return facts.Load(cfg.Cache.Path)
	}
	return New(cfg, payment.NewGateway(cfg), oracle, signer, loadCache), nil
}

// Router builds the gin engine with all routes mounted.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), requestLogger(), recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/api/facts/:ticker", s.handleFact)
	router.GET("/api/feed", s.proxyHandler("feed"))
	router.GET("/api/pm", s.proxyHandler("pm"))
	router.GET("/api/debug/env", s.handleDebugEnv)

	return router
}

// Run serves until the listener fails.
func (s *Server) Run() error {
	zap.L().Info("factgate listening", zap.String("addr", s.cfg.Server.Addr))
	return s.Router().Run(s.cfg.Server.Addr)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err interface{}) {
		zap.L().Error("panic in request handler", zap.Any("panic", err))
		abortWithError(c, 500, ErrCodeInternalError, "internal error")
	})
}

// handleDebugEnv reports which FACTGATE settings are present (never their
// values), to confirm secret propagation on a fresh deploy.
func (s *Server) handleDebugEnv(c *gin.Context) {
	keys := []string{
		"FACTGATE_FACILITATOR_URL",
		"FACTGATE_FACILITATOR_SECRET_KEY",
		"FACTGATE_FACILITATOR_SERVER_WALLET",
		"FACTGATE_PAYMENT_MERCHANT_WALLET",
		"FACTGATE_PAYMENT_FACT_PRICE",
		"FACTGATE_PAYMENT_ALLOW_UNPAID",
		"FACTGATE_CHAIN_RPC_URL",
		"FACTGATE_CHAIN_ORACLE_ADDRESS",
		"FACTGATE_CACHE_PATH",
		"FACTGATE_SIGNING_PRIVATE_KEY",
		"FACTGATE_UPSTREAM_FEED_URL",
		"FACTGATE_UPSTREAM_PM_URL",
	}

	type presence struct {
		Key     string `json:"key"`
		Present bool   `json:"present"`
	}
	env := make([]presence, 0, len(keys))
	for _, key := range keys {
		env = append(env, presence{Key: key, Present: os.Getenv(key) != ""})
	}

	c.Header("Cache-Control", "no-store")
	c.JSON(200, gin.H{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"env":       env,
	})
}
