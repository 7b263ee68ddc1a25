package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultFacilitatorURL is the default public facilitator.
const DefaultFacilitatorURL = "https://x402.org/facilitator"

// FacilitatorConfig configures the facilitator client.
type FacilitatorConfig struct {
	// URL is the base URL of the facilitator service.
	URL string

	// SecretKey authenticates this merchant with the facilitator.
	SecretKey string

	// ServerWallet is the facilitator-side wallet that executes settlement.
	ServerWallet string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s).
	Timeout time.Duration
}

// FacilitatorClient settles payment proofs with a remote facilitator over
// HTTP. It is initialized at most once per process and reused.
type FacilitatorClient struct {
	url          string
	secretKey    string
	serverWallet string
	httpClient   *http.Client
}

// SettleParams is the verify/settle call contract: the resource being bought,
// the proof covering it, and the merchant terms.
type SettleParams struct {
	ResourceURL string `json:"resourceUrl"`
	Method      string `json:"method"`
	PaymentData string `json:"paymentData"`
	PayTo       string `json:"payTo"`
	Network     string `json:"network"`
	Price       string `json:"price"`
}

// SettleResult carries the facilitator's decision through to the response:
// HTTP-equivalent status, the body and headers to propagate on rejection, and
// the opaque payment receipt on success.
type SettleResult struct {
	Status          int
	ResponseBody    json.RawMessage
	ResponseHeaders map[string]string
	PaymentReceipt  json.RawMessage
}

// NewFacilitatorClient creates a facilitator client.
func NewFacilitatorClient(config *FacilitatorConfig) *FacilitatorClient {
	if config == nil {
		config = &FacilitatorConfig{}
	}

	url := config.URL
	if url == "" {
		url = DefaultFacilitatorURL
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &FacilitatorClient{
		url:          strings.TrimRight(url, "/"),
		secretKey:    config.SecretKey,
		serverWallet: config.ServerWallet,
		httpClient:   httpClient,
	}
}

type settleRequestBody struct {
	SettleParams
	ServerWallet string `json:"serverWallet"`
}

type settleResponseBody struct {
	PaymentReceipt json.RawMessage `json:"paymentReceipt"`
}

// Settle submits a payment proof for verification and settlement. The
// returned result mirrors the facilitator's status: 200 means settled; any
// other status carries the facilitator's body and headers for passthrough.
// Transport and decode failures return an error (never retried here).
func (c *FacilitatorClient) Settle(ctx context.Context, params SettleParams) (*SettleResult, error) {
	body, err := json.Marshal(settleRequestBody{
		SettleParams: params,
		ServerWallet: c.serverWallet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal settle request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/settle", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create settle request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.secretKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("settle request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read settle response body: %w", err)
	}

	result := &SettleResult{
		Status:          resp.StatusCode,
		ResponseBody:    responseBody,
		ResponseHeaders: paymentHeaders(resp.Header),
	}

	if resp.StatusCode == http.StatusOK {
		var decoded settleResponseBody
		if err := json.Unmarshal(responseBody, &decoded); err != nil {
			return nil, fmt.Errorf("facilitator settle returned unparsable body (%d): %s",
				resp.StatusCode, string(responseBody))
		}
		result.PaymentReceipt = decoded.PaymentReceipt
	}

	return result, nil
}

// paymentHeaders extracts the facilitator response headers worth adopting,
// i.e. the X-Payment-* family carrying settlement metadata.
func paymentHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for name := range h {
		if strings.HasPrefix(strings.ToLower(name), "x-payment") {
			out[name] = h.Get(name)
		}
	}
	return out
}
