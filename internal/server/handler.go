package server

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/config"
	"github.com/sabaki-ai/factgate/internal/facts"
	"github.com/sabaki-ai/factgate/internal/onchain"
	"github.com/sabaki-ai/factgate/internal/payment"
)

// factBundle is the signed response payload. Field order is the serialization
// order, which the bundle signature commits to.
type factBundle struct {
	SchemaID         string            `json:"schema_id"`
	Ticker           string            `json:"ticker"`
	PeriodID         string            `json:"periodId"`
	Facts            bundleFacts       `json:"facts"`
	Provenance       facts.Provenance  `json:"provenance"`
	Market           bundleMarket      `json:"market"`
	Attestation      bundleAttestation `json:"attestation"`
	CacheGeneratedAt string            `json:"cache_generated_at"`
	GeneratedAt      string            `json:"generated_at"`
	PaymentReceipt   json.RawMessage   `json:"payment_receipt"`
	Signature        string            `json:"signature,omitempty"`
	Signer           string            `json:"signer,omitempty"`
}

type bundleFacts struct {
	NonGaapEPS         *float64 `json:"non_gaap_eps"`
	ConsensusEPS       *float64 `json:"consensus_eps"`
	MarketConsensusEPS *float64 `json:"market_consensus_eps"`
}

type bundleMarket struct {
	MarketURL    *string  `json:"market_url"`
	Outcome      *string  `json:"chain_outcome"`
	ConsensusEPS *float64 `json:"consensus_eps"`
}

type bundleAttestation struct {
	Contract         string                    `json:"contract"`
	Ledger           facts.AttestationSnapshot `json:"ledger"`
	OnChain          bool                      `json:"on_chain"`
	OnChainNonGaap   *onchain.Attestation      `json:"on_chain_non_gaap"`
	OnChainConsensus *onchain.Attestation      `json:"on_chain_consensus"`
}

// handleFact is the core pipeline: validate -> resolve fact -> settle payment
// -> reconcile on-chain -> sign -> respond. The fact is resolved before
// settlement so a missing fact never charges the buyer.
func (s *Server) handleFact(c *gin.Context) {
	ctx := c.Request.Context()
	log := zap.L().With(zap.String("request_id", c.GetString("request_id")))

	ticker := c.Param("ticker")
	if ticker == "" {
		abortWithError(c, 400, ErrCodeMissingTicker, "")
		return
	}
	periodID := c.Query("period")

	cache, err := s.loadCache()
	if err != nil {
		log.Error("failed to load fact cache", zap.Error(err))
		abortWithError(c, 500, ErrCodeCacheUnavailable, err.Error())
		return
	}

	record := cache.Lookup(ticker, periodID)
	if record == nil {
		abortWithError(c, 404, ErrCodeFactNotFound, "")
		return
	}

	outcome, err := s.gateway.Settle(ctx, payment.SettleRequest{
		ResourceURL:     requestURL(c),
		Method:          c.Request.Method,
		ProofHeader:     c.GetHeader(payment.ProofHeader),
		BypassRequested: c.GetHeader(payment.BypassHeader) == "1",
		Price:           s.cfg.Payment.FactPrice,
	})
	if err != nil {
		var missing *config.MissingError
		if errors.As(err, &missing) {
			abortMisconfigured(c, missing.Missing)
			return
		}
		log.Error("settle threw", zap.Error(err))
		abortWithError(c, 500, ErrCodeSettleException, err.Error())
		return
	}
	if !outcome.Settled() {
		writeRejection(c, outcome)
		return
	}

	pair, err := s.oracle.ReadMetricPair(ctx,
		record.Ticker,
		common.HexToHash(record.PeriodHash),
		common.HexToHash(record.MetricIDs.NonGaapEPS),
		common.HexToHash(record.MetricIDs.ConsensusEPS),
	)
	if err != nil {
		log.Error("on-chain attestation read failed", zap.Error(err))
		abortWithError(c, 502, ErrCodeUpstreamError, err.Error())
		return
	}

	consensus := record.ConsensusEPS
	if consensus == nil {
		consensus = record.MarketConsensusEPS
	}

	payload := factBundle{
		SchemaID: record.SchemaID,
		Ticker:   record.Ticker,
		PeriodID: record.PeriodID,
		Facts: bundleFacts{
			NonGaapEPS:         record.NonGaapEPS,
			ConsensusEPS:       consensus,
			MarketConsensusEPS: record.MarketConsensusEPS,
		},
		Provenance: record.Provenance,
		Market: bundleMarket{
			MarketURL:    record.MarketURL,
			Outcome:      record.MarketOutcome,
			ConsensusEPS: record.MarketConsensusEPS,
		},
		Attestation: bundleAttestation{
			Contract:         s.oracle.Address(),
			Ledger:           record.Attestation,
			OnChain:          pair.NonGaap != nil || pair.Consensus != nil,
			OnChainNonGaap:   pair.NonGaap,
			OnChainConsensus: pair.Consensus,
		},
		CacheGeneratedAt: cache.Meta.GeneratedAt,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
		PaymentReceipt:   outcome.Receipt,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("failed to serialize bundle", zap.Error(err))
		abortWithError(c, 500, ErrCodeInternalError, err.Error())
		return
	}

	if s.signer != nil {
		signed, err := s.signer.SignBytes(body)
		if err != nil {
			log.Error("failed to sign bundle", zap.Error(err))
			abortWithError(c, 500, ErrCodeInternalError, err.Error())
			return
		}
		payload.Signature = signed.Signature
		payload.Signer = signed.Signer
		if body, err = json.Marshal(payload); err != nil {
			abortWithError(c, 500, ErrCodeInternalError, err.Error())
			return
		}
	}

	for name, value := range outcome.Headers {
		c.Header(name, value)
	}
	c.Header("Cache-Control", "no-store")
	c.Data(200, "application/json", body)
}

// writeRejection propagates a facilitator rejection: its headers and body
// verbatim at the facilitator's status, with JSON content type forced.
func writeRejection(c *gin.Context, outcome *payment.Outcome) {
	for name, value := range outcome.Headers {
		c.Header(name, value)
	}
	c.Header("Cache-Control", "no-store")
	c.Data(outcome.Status, "application/json", outcome.Body)
	c.Abort()
}

func requestURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
