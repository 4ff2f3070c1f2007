package signer

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/privrollup/walletd/internal/core/ports"
)

// spendingSigner signs proof data with a secp256k1 spending key.
type spendingSigner struct {
	key *ecdsa.PrivateKey
}

func NewSpendingSigner(privateKey string) (ports.Signer, error) {
	key, err := parseKey(privateKey)
	if err != nil {
		return nil, err
	}
	return &spendingSigner{key}, nil
}

// GenerateSpendingKey returns a new hex encoded private key.
func GenerateSpendingKey() (string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(crypto.FromECDSA(key)), nil
}

// PublicKey is the hex encoded compressed public key.
func (s *spendingSigner) PublicKey() string {
	return hex.EncodeToString(crypto.CompressPubkey(&s.key.PublicKey))
}

func (s *spendingSigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	return crypto.Sign(crypto.Keccak256(data), s.key)
}

// VerifySignature checks a signature made by a spending signer.
func VerifySignature(publicKey string, data, signature []byte) bool {
	pubkey, err := hex.DecodeString(publicKey)
	if err != nil || len(signature) < crypto.RecoveryIDOffset {
		return false
	}
	return crypto.VerifySignature(
		pubkey, crypto.Keccak256(data), signature[:crypto.RecoveryIDOffset],
	)
}

func parseKey(privateKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return key, nil
}
