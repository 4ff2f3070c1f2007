package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/privrollup/walletd/internal/core/ports"
)

// ethSigner signs personal messages with an L1 account key.
type ethSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewEthSigner(privateKey string) (ports.EthSigner, error) {
	key, err := parseKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &ethSigner{key, crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *ethSigner) Address() string {
	return s.address.Hex()
}

// SignMessage produces a personal_sign signature, V in {27, 28}.
func (s *ethSigner) SignMessage(_ context.Context, message []byte) ([]byte, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), s.key)
	if err != nil {
		return nil, err
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

// RecoverAddress returns the account that signed message.
func RecoverAddress(message, signature []byte) (string, error) {
	if len(signature) != crypto.SignatureLength {
		return "", fmt.Errorf("invalid signature length %d", len(signature))
	}
	sig := make([]byte, len(signature))
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pubkey, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pubkey).Hex(), nil
}
