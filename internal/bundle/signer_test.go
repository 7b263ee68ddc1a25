package bundle

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Well-known test key from the go-ethereum docs; never funded.
const (
	testPrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testSignerAddr = "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23"
)

func TestNewSigner(t *testing.T) {
	t.Run("empty key is the unsigned state", func(t *testing.T) {
		signer, err := NewSigner("")
		require.NoError(t, err)
		assert.Nil(t, signer)
	})

	t.Run("derives the signer address", func(t *testing.T) {
		signer, err := NewSigner(testPrivateKey)
		require.NoError(t, err)
		assert.Equal(t, testSignerAddr, signer.Address())
	})

	t.Run("0x prefix is accepted", func(t *testing.T) {
		signer, err := NewSigner("0x" + testPrivateKey)
		require.NoError(t, err)
		assert.Equal(t, testSignerAddr, signer.Address())
	})

	t.Run("garbage key is rejected", func(t *testing.T) {
		_, err := NewSigner("zz83a691")
		assert.Error(t, err)
	})
}

func TestSignRecoversToSigner(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	payload := map[string]interface{}{"ticker": "ICUI", "periodId": "CY2025Q3"}
	sig, err := signer.Sign(payload)
	require.NoError(t, err)

	assert.Equal(t, testSignerAddr, sig.Signer)
	assert.True(t, len(sig.Signature) == 132, "0x + 65 bytes hex")

	// Verify the signature the way an external party would: recover the
	// public key from the EIP-191 digest and compare addresses.
	raw, err := hexutil.Decode(sig.Signature)
	require.NoError(t, err)
	require.True(t, raw[64] == 27 || raw[64] == 28, "v is presented in legacy form")

	raw[64] -= 27
	message := []byte(`{"periodId":"CY2025Q3","ticker":"ICUI"}`)
	pub, err := crypto.SigToPub(accounts.TextHash(message), raw)
	require.NoError(t, err)
	assert.Equal(t, testSignerAddr, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignDeterministic(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	type payload struct {
		Ticker   string `json:"ticker"`
		PeriodID string `json:"periodId"`
	}
	p := payload{Ticker: "ICUI", PeriodID: "CY2025Q3"}

	first, err := signer.Sign(p)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := signer.Sign(p)
		require.NoError(t, err)
		assert.Equal(t, first.Signature, again.Signature)
	}
}

func TestSignBytesDiffersByMessage(t *testing.T) {
	signer, err := NewSigner(testPrivateKey)
	require.NoError(t, err)

	a, err := signer.SignBytes([]byte("a"))
	require.NoError(t, err)
	b, err := signer.SignBytes([]byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Signature, b.Signature)
}
