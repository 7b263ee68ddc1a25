package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/config"
)

// State tracks a request through the settlement exchange.
type State string

const (
	StateUnpaid         State = "unpaid"
	StateProofSubmitted State = "proof_submitted"
	StateVerifying      State = "verifying"
	StateSettled        State = "settled"
	StateRejected       State = "rejected"

	// StateBypassed is terminal and equivalent to settled, but the receipt
	// flags the request as unpaid. Only reachable with the bypass config on.
	StateBypassed State = "bypassed"
)

// bypassReceipt is the receipt attached to bypassed requests.
var bypassReceipt = json.RawMessage(`{"skipped":true,"reason":"allow_unpaid"}`)

// Outcome is the terminal result of one settlement exchange.
type Outcome struct {
	State   State
	Status  int
	Receipt json.RawMessage
	Headers map[string]string
	// Body carries the facilitator's rejection body (verbatim when non-empty,
	// synthetic otherwise). Nil unless State is StateRejected.
	Body json.RawMessage
}

// Settled reports whether the request may proceed to fact delivery.
func (o *Outcome) Settled() bool {
	return o.State == StateSettled || o.State == StateBypassed
}

// Gateway drives the 402 challenge/verify/settle exchange. The facilitator
// client is initialized at most once per process; missing credentials fail
// fast and permanently for this process instance, before any network call.
type Gateway struct {
	cfg *config.Config

	initOnce sync.Once
	client   *FacilitatorClient
	initErr  error
}

// NewGateway creates a settlement gateway over the given configuration.
func NewGateway(cfg *config.Config) *Gateway {
	return &Gateway{cfg: cfg}
}

func (g *Gateway) ensureClient() (*FacilitatorClient, error) {
	g.initOnce.Do(func() {
		if missing := g.cfg.SettlementMissing(); len(missing) > 0 {
			g.initErr = &config.MissingError{Missing: missing}
			return
		}
		g.client = NewFacilitatorClient(&FacilitatorConfig{
			URL:          g.cfg.Facilitator.URL,
			SecretKey:    g.cfg.Facilitator.SecretKey,
			ServerWallet: g.cfg.Facilitator.ServerWallet,
		})
	})
	return g.client, g.initErr
}

// SettleRequest describes one inbound request to be paid for.
type SettleRequest struct {
	ResourceURL string
	Method      string
	// ProofHeader is the raw X-PAYMENT header value; empty means unpaid.
	ProofHeader string
	// BypassRequested is true when the bypass header was present. It is
	// honored only when the configuration allows unpaid requests.
	BypassRequested bool
	// Price is the required amount for this resource.
	Price string
}

// Settle runs one request through the settlement state machine.
//
//	Unpaid -> ProofSubmitted -> Verifying -> Settled | Rejected
//
// A *config.MissingError return means the gateway is misconfigured; any other
// error is a transport failure during verification, fatal for the request and
// never retried here.
func (g *Gateway) Settle(ctx context.Context, req SettleRequest) (*Outcome, error) {
	client, err := g.ensureClient()
	if err != nil {
		return nil, err
	}

	if req.BypassRequested && g.cfg.Payment.AllowUnpaid {
		zap.L().Info("payment bypassed", zap.String("resource", req.ResourceURL))
		return &Outcome{
			State:   StateBypassed,
			Status:  200,
			Receipt: bypassReceipt,
			Headers: map[string]string{},
		}, nil
	}

	proof := req.ProofHeader
	if proof != "" {
		// ProofSubmitted: rewrite the wallet signature before the
		// facilitator sees it.
		proof = NormalizeProofHeader(proof, g.cfg.Payment.ChainID)
	}

	result, err := client.Settle(ctx, SettleParams{
		ResourceURL: req.ResourceURL,
		Method:      req.Method,
		PaymentData: proof,
		PayTo:       g.cfg.Payment.MerchantWallet,
		Network:     g.cfg.Payment.Network,
		Price:       req.Price,
	})
	if err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	if result.Status == 200 {
		return &Outcome{
			State:   StateSettled,
			Status:  200,
			Receipt: result.PaymentReceipt,
			Headers: result.ResponseHeaders,
		}, nil
	}

	body := result.ResponseBody
	if emptyBody(body) {
		synthetic, _ := json.Marshal(map[string]interface{}{
			"error":  "settle_failed",
			"status": result.Status,
			"note":   "empty settle body",
		})
		body = synthetic
	}

	return &Outcome{
		State:   StateRejected,
		Status:  result.Status,
		Headers: result.ResponseHeaders,
		Body:    body,
	}, nil
}

func emptyBody(body json.RawMessage) bool {
	if len(body) == 0 {
		return true
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		// Non-object bodies still get passed through verbatim.
		return false
	}
	return len(decoded) == 0
}
