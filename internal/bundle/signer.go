// Package bundle signs outgoing fact bundles so any third party can
// re-verify authorship against the published signer address.
package bundle

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is the authorship proof attached to a signed bundle.
type Signature struct {
	Signature string `json:"signature"`
	Signer    string `json:"signer"`
}

// Signer produces EIP-191 personal signatures over serialized bundles.
// A nil *Signer is the documented unsigned state: responses go out without
// signature fields, which is valid, not an error.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner builds a signer from a hex private key ("0x" prefix optional).
// An empty key returns (nil, nil): the unsigned state.
func NewSigner(privateKeyHex string) (*Signer, error) {
	if privateKeyHex == "" {
		return nil, nil
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid bundle signing key: %w", err)
	}

	return &Signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}, nil
}

// Address returns the checksummed signer address.
func (s *Signer) Address() string {
	return s.address.Hex()
}

// Sign serializes the payload and personal-signs the bytes. Serialization is
// deterministic for identical payload content: structs marshal in declared
// field order, so repeated calls sign the same bytes.
func (s *Signer) Sign(payload interface{}) (*Signature, error) {
	message, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize bundle payload: %w", err)
	}
	return s.SignBytes(message)
}

// SignBytes personal-signs an already-serialized payload.
func (s *Signer) SignBytes(message []byte) (*Signature, error) {
	digest := accounts.TextHash(message)
	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign bundle: %w", err)
	}

	// Recovery ID 0/1 -> legacy 27/28.
	signature[64] += 27

	return &Signature{
		Signature: hexutil.Encode(signature),
		Signer:    s.address.Hex(),
	}, nil
}
