// Package onchain reads fact attestations from the oracle contract. Reads
// are per-request and never cached: the chain is always consulted fresh.
package onchain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/errgroup"
)

// getAttestation(string ticker, bytes32 periodId, bytes32 metricId) returns
// the attestation tuple, or reverts with "no_attestation" when none exists.
const oracleABIJSON = `[{
	"type": "function",
	"name": "getAttestation",
	"stateMutability": "view",
	"inputs": [
		{"name": "ticker", "type": "string"},
		{"name": "periodId", "type": "bytes32"},
		{"name": "metricId", "type": "bytes32"}
	],
	"outputs": [
		{"name": "periodId", "type": "bytes32"},
		{"name": "metricId", "type": "bytes32"},
		{"name": "evidenceHash", "type": "bytes32"},
		{"name": "urlHash", "type": "bytes32"},
		{"name": "value", "type": "int256"},
		{"name": "decimals", "type": "uint8"},
		{"name": "observedAt", "type": "uint64"},
		{"name": "sourceType", "type": "uint8"},
		{"name": "lastUpdated", "type": "uint64"}
	]
}]`

// Attestation is one on-chain attestation record. Value keeps the raw
// fixed-point integer (serialized as a string to avoid precision loss);
// NormalizedValue is value/10^decimals, for display only.
type Attestation struct {
	PeriodID        string  `json:"periodId"`
	MetricID        string  `json:"metricId"`
	EvidenceHash    string  `json:"evidenceHash"`
	URLHash         string  `json:"urlHash"`
	Value           string  `json:"value"`
	Decimals        uint8   `json:"decimals"`
	NormalizedValue float64 `json:"normalizedValue"`
	ObservedAt      uint64  `json:"observedAt"`
	SourceType      uint8   `json:"sourceType"`
	LastUpdated     uint64  `json:"lastUpdated"`
}

// ContractCaller is the slice of the eth client the oracle needs; satisfied
// by *ethclient.Client and by test fakes.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Oracle reads attestations from a fixed contract address.
type Oracle struct {
	caller  ContractCaller
	address common.Address
	abi     abi.ABI
}

// New dials the RPC endpoint and binds the oracle at the given address.
func New(rpcURL, address string) (*Oracle, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rpcURL, err)
	}
	return NewWithCaller(client, address)
}

// NewWithCaller binds the oracle over an existing contract caller.
func NewWithCaller(caller ContractCaller, address string) (*Oracle, error) {
	parsed, err := abi.JSON(strings.NewReader(oracleABIJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse oracle ABI: %w", err)
	}
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid oracle address: %s", address)
	}
	return &Oracle{
		caller:  caller,
		address: common.HexToAddress(address),
		abi:     parsed,
	}, nil
}

// Address returns the bound contract address.
func (o *Oracle) Address() string {
	return o.address.Hex()
}

// ReadAttestation fetches the attestation for (ticker, period, metric).
// "No attestation" is a valid outcome, not an error: a revert mentioning
// no_attestation, a generic execution-reverted failure, or an empty return
// all yield (nil, nil). Any other failure is fatal for the request.
func (o *Oracle) ReadAttestation(ctx context.Context, ticker string, periodID, metricID common.Hash) (*Attestation, error) {
	data, err := o.abi.Pack("getAttestation", ticker, periodID, metricID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getAttestation call: %w", err)
	}

	result, err := o.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &o.address,
		Data: data,
	}, nil)
	if err != nil {
		if isNoAttestation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("getAttestation call failed: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	outputs, err := o.abi.Unpack("getAttestation", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getAttestation result: %w", err)
	}

	value := outputs[4].(*big.Int)
	decimals := outputs[5].(uint8)
	normalized, _ := new(big.Float).Quo(
		new(big.Float).SetInt(value),
		big.NewFloat(math.Pow10(int(decimals))),
	).Float64()

	return &Attestation{
		PeriodID:        common.Hash(outputs[0].([32]byte)).Hex(),
		MetricID:        common.Hash(outputs[1].([32]byte)).Hex(),
		EvidenceHash:    common.Hash(outputs[2].([32]byte)).Hex(),
		URLHash:         common.Hash(outputs[3].([32]byte)).Hex(),
		Value:           value.String(),
		Decimals:        decimals,
		NormalizedValue: normalized,
		ObservedAt:      outputs[6].(uint64),
		SourceType:      outputs[7].(uint8),
		LastUpdated:     outputs[8].(uint64),
	}, nil
}

// MetricPair is the result of the two per-request metric lookups.
type MetricPair struct {
	NonGaap   *Attestation
	Consensus *Attestation
}

// ReadMetricPair issues the non-GAAP and consensus EPS lookups concurrently.
// The two reads are independent: a failure in one does not cancel the other,
// and the first error (if any) is returned after both complete.
func (o *Oracle) ReadMetricPair(ctx context.Context, ticker string, periodID, nonGaapID, consensusID common.Hash) (*MetricPair, error) {
	var pair MetricPair
	var g errgroup.Group

	g.Go(func() error {
		att, err := o.ReadAttestation(ctx, ticker, periodID, nonGaapID)
		if err != nil {
			return err
		}
		pair.NonGaap = att
		return nil
	})
	g.Go(func() error {
		att, err := o.ReadAttestation(ctx, ticker, periodID, consensusID)
		if err != nil {
			return err
		}
		pair.Consensus = att
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &pair, nil
}

func isNoAttestation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no_attestation") ||
		strings.Contains(msg, "execution reverted")
}
