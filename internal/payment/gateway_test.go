package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sabaki-ai/factgate/internal/config"
)

func gatewayConfig(facilitatorURL string) *config.Config {
	return &config.Config{
		Facilitator: config.FacilitatorConfig{
			URL:          facilitatorURL,
			SecretKey:    "sk-test",
			ServerWallet: "0xServerWallet",
		},
		Payment: config.PaymentConfig{
			MerchantWallet: "0xMerchant",
			Network:        config.DefaultNetwork,
			ChainID:        config.DefaultChainID,
			FactPrice:      "250000",
		},
	}
}

func TestGatewaySettleSuccess(t *testing.T) {
	var captured settleRequestBody
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))

		w.Header().Set("X-Payment-Response", "receipt-header")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		w.Write([]byte(`{"paymentReceipt":{"transaction":"0xtx","payer":"0xpayer"}}`))
	}))
	defer facilitator.Close()

	gateway := NewGateway(gatewayConfig(facilitator.URL))
	header := encodeHeader(t, map[string]interface{}{
		"x402Version": 1,
		"payload":     map[string]interface{}{"signature": sigWithV(0)},
	})

	outcome, err := gateway.Settle(context.Background(), SettleRequest{
		ResourceURL: "http://api.test/api/facts/ICUI",
		Method:      "GET",
		ProofHeader: header,
		Price:       "250000",
	})
	require.NoError(t, err)

	assert.Equal(t, StateSettled, outcome.State)
	assert.True(t, outcome.Settled())
	assert.Equal(t, 200, outcome.Status)
	assert.JSONEq(t, `{"transaction":"0xtx","payer":"0xpayer"}`, string(outcome.Receipt))
	assert.Equal(t, "receipt-header", outcome.Headers["X-Payment-Response"])

	// Merchant terms forwarded to the facilitator.
	assert.Equal(t, "0xMerchant", captured.PayTo)
	assert.Equal(t, "avalanche-fuji", captured.Network)
	assert.Equal(t, "250000", captured.Price)
	assert.Equal(t, "0xServerWallet", captured.ServerWallet)

	// The proof forwarded upstream carries the normalized signature.
	envelope := decodeHeader(t, captured.PaymentData)
	payload := envelope["payload"].(map[string]interface{})
	assert.Equal(t, sigWithV(27), payload["signature"])
}

func TestGatewaySettleRejected(t *testing.T) {
	t.Run("facilitator body passes through verbatim", func(t *testing.T) {
		facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(402)
			w.Write([]byte(`{"error":"insufficient_funds","accepts":[{"scheme":"exact"}]}`))
		}))
		defer facilitator.Close()

		gateway := NewGateway(gatewayConfig(facilitator.URL))
		outcome, err := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
		require.NoError(t, err)

		assert.Equal(t, StateRejected, outcome.State)
		assert.False(t, outcome.Settled())
		assert.Equal(t, 402, outcome.Status)
		assert.JSONEq(t, `{"error":"insufficient_funds","accepts":[{"scheme":"exact"}]}`, string(outcome.Body))
	})

	t.Run("empty body gets the synthetic settle_failed shape", func(t *testing.T) {
		facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(402)
		}))
		defer facilitator.Close()

		gateway := NewGateway(gatewayConfig(facilitator.URL))
		outcome, err := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
		require.NoError(t, err)

		assert.Equal(t, StateRejected, outcome.State)
		assert.Equal(t, 402, outcome.Status)
		assert.JSONEq(t,
			`{"error":"settle_failed","status":402,"note":"empty settle body"}`,
			string(outcome.Body))
	})

	t.Run("empty object body counts as empty", func(t *testing.T) {
		facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(500)
			w.Write([]byte(`{}`))
		}))
		defer facilitator.Close()

		gateway := NewGateway(gatewayConfig(facilitator.URL))
		outcome, err := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"error":"settle_failed","status":500,"note":"empty settle body"}`,
			string(outcome.Body))
	})
}

func TestGatewaySettleTransportError(t *testing.T) {
	facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	facilitator.Close() // immediately closed: every call fails

	gateway := NewGateway(gatewayConfig(facilitator.URL))
	outcome, err := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
	require.Error(t, err)
	assert.Nil(t, outcome)

	var missing *config.MissingError
	assert.False(t, errors.As(err, &missing), "transport errors are not misconfiguration")
}

func TestGatewayMisconfigured(t *testing.T) {
	cfg := gatewayConfig("http://unused.test")
	cfg.Facilitator.SecretKey = ""
	cfg.Payment.MerchantWallet = ""
	gateway := NewGateway(cfg)

	_, err := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
	require.Error(t, err)

	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{
		"FACTGATE_FACILITATOR_SECRET_KEY",
		"FACTGATE_PAYMENT_MERCHANT_WALLET",
	}, missing.Missing)

	// Permanent for the process: same failure on the next call.
	_, err2 := gateway.Settle(context.Background(), SettleRequest{Price: "250000"})
	assert.Error(t, err2)
}

func TestGatewayBypass(t *testing.T) {
	t.Run("honored when configured", func(t *testing.T) {
		facilitatorCalled := false
		facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			facilitatorCalled = true
		}))
		defer facilitator.Close()

		cfg := gatewayConfig(facilitator.URL)
		cfg.Payment.AllowUnpaid = true
		gateway := NewGateway(cfg)

		outcome, err := gateway.Settle(context.Background(), SettleRequest{
			BypassRequested: true,
			Price:           "250000",
		})
		require.NoError(t, err)

		assert.Equal(t, StateBypassed, outcome.State)
		assert.True(t, outcome.Settled())
		assert.JSONEq(t, `{"skipped":true,"reason":"allow_unpaid"}`, string(outcome.Receipt))
		assert.False(t, facilitatorCalled, "bypass never reaches the facilitator")
	})

	t.Run("ignored when not configured", func(t *testing.T) {
		facilitator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(402)
			w.Write([]byte(`{"error":"payment_required"}`))
		}))
		defer facilitator.Close()

		gateway := NewGateway(gatewayConfig(facilitator.URL))
		outcome, err := gateway.Settle(context.Background(), SettleRequest{
			BypassRequested: true,
			Price:           "250000",
		})
		require.NoError(t, err)
		assert.Equal(t, StateRejected, outcome.State)
	})
}
