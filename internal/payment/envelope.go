// Package payment drives the x402 settlement exchange: decoding the payment
// proof carried in the X-PAYMENT header, normalizing its wallet signature,
// and settling it with the external facilitator.
package payment

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/sabaki-ai/factgate/internal/evm"
)

// Header names for the inbound payment proof (matched case-insensitively by
// net/http) and the bypass switch.
const (
	ProofHeader  = "X-PAYMENT"
	BypassHeader = "X-Skip-Payment"
)

// Base64 check mirrors the strictness applied to inbound payment headers
// before any decoding is attempted.
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// envelopeSchema validates the decoded proof before the signature patch.
// Only the fields the normalizer touches are constrained; everything else in
// the envelope is opaque and must survive the round trip untouched.
const envelopeSchema = `{
	"type": "object",
	"required": ["x402Version", "payload"],
	"properties": {
		"x402Version": {"type": "integer", "minimum": 1},
		"payload": {
			"type": "object",
			"properties": {
				"signature": {"type": "string"}
			}
		}
	}
}`

var envelopeSchemaLoader = gojsonschema.NewStringLoader(envelopeSchema)

// DecodeEnvelope validates and decodes a base64 payment header into its JSON
// envelope. The envelope stays a map so unknown fields re-encode unchanged.
func DecodeEnvelope(header string) (map[string]interface{}, error) {
	if header == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(header) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: base64 decoding failed - %v", err)
	}

	var envelope map[string]interface{}
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}

	result, err := gojsonschema.Validate(envelopeSchemaLoader, gojsonschema.NewBytesLoader(decoded))
	if err != nil {
		return nil, fmt.Errorf("envelope schema validation failed: %v", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("invalid payment envelope: %s", result.Errors()[0].String())
	}

	return envelope, nil
}

// EncodeEnvelope serializes an envelope back into header form.
func EncodeEnvelope(envelope map[string]interface{}) (string, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("failed to encode payment envelope: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// NormalizeProofHeader rewrites payload.signature inside a payment header to
// the legacy {27, 28} recovery form so the proof verifies across signer
// implementations. Headers that fail to decode or validate, and envelopes
// without a signature, pass through unchanged: the facilitator is the
// authority on rejecting bad proofs.
func NormalizeProofHeader(header string, chainID int64) string {
	envelope, err := DecodeEnvelope(header)
	if err != nil {
		zap.L().Warn("payment header not normalizable, forwarding as-is", zap.Error(err))
		return header
	}

	payload, ok := envelope["payload"].(map[string]interface{})
	if !ok {
		return header
	}
	signature, ok := payload["signature"].(string)
	if !ok || signature == "" {
		return header
	}

	payload["signature"] = evm.NormalizeSignatureV(signature, chainID)

	encoded, err := EncodeEnvelope(envelope)
	if err != nil {
		zap.L().Warn("failed to re-encode normalized payment header", zap.Error(err))
		return header
	}
	return encoded
}
