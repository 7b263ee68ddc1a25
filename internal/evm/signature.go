// Package evm contains the small pieces of EVM plumbing the fact pipeline
// needs: keccak label hashing for on-chain lookup keys and normalization of
// ECDSA signature recovery bytes across wallet encodings.
package evm

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// Signature layout: "0x" + r (64 hex chars) + s (64 hex chars) + v (2 hex chars).
// The recovery byte starts at offset 130 counting the 0x prefix.
const vOffset = 130

// NormalizeSignatureV rewrites the recovery byte of a hex-encoded ECDSA
// signature into the legacy {27, 28} form.
//
// Wallets produce three encodings of the same recovery indicator:
//
//	yParity:  0 or 1
//	legacy:   27 or 28
//	EIP-155:  chainID*2 + 35 + yParity
//
// r and s are never touched, and normalizing an already-normalized signature
// is a no-op. Values outside all three encodings pass through unchanged.
func NormalizeSignatureV(signature string, chainID int64) string {
	if len(signature) < vOffset+2 {
		zap.L().Warn("signature too short to carry a recovery byte",
			zap.Int("len", len(signature)))
		return signature
	}

	v, err := strconv.ParseInt(signature[vOffset:], 16, 64)
	if err != nil {
		zap.L().Warn("unparsable recovery byte", zap.String("v_hex", signature[vOffset:]))
		return signature
	}

	var normalized int64
	switch {
	case v == 0 || v == 1:
		normalized = v + 27
	case v == 27 || v == 28:
		normalized = v
	case v >= 35:
		yParity := ((v-35-chainID*2)%2 + 2) % 2
		normalized = yParity + 27
	default:
		zap.L().Warn("unexpected signature v value, passing through", zap.Int64("v", v))
		normalized = v
	}

	return signature[:vOffset] + fmt.Sprintf("%02x", normalized)
}

// HashLabel returns keccak256 of the UTF-8 bytes of s. Used to derive the
// bytes32 period, ticker and metric identifiers the oracle contract is
// keyed by.
func HashLabel(s string) common.Hash {
	return crypto.Keccak256Hash([]byte(s))
}
