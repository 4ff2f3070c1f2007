// Package notecrypto encrypts note plaintexts to viewing keys with anonymous
// nacl boxes, so only the owner of the viewing key learns the note content.
package notecrypto

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const keyLen = 32

// GenerateViewingKey returns a new hex encoded viewing key pair.
func GenerateViewingKey() (publicKey, privateKey string, err error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", err
	}
	return hex.EncodeToString(pub[:]), hex.EncodeToString(priv[:]), nil
}

// ViewingPublicKey derives the public half of a viewing key.
func ViewingPublicKey(privateKey string) (string, error) {
	priv, err := decodeKey(privateKey)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(pub), nil
}

// EncryptNote seals plaintext to the given viewing public key.
func EncryptNote(viewingPublicKey string, plaintext domain.NotePlaintext) ([]byte, error) {
	pub, err := decodeKey(viewingPublicKey)
	if err != nil {
		return nil, err
	}
	buf, err := json.Marshal(plaintext)
	if err != nil {
		return nil, err
	}
	return box.SealAnonymous(nil, buf, pub, rand.Reader)
}

type decryptor struct{}

func NewDecryptor() ports.NoteDecryptor {
	return decryptor{}
}

func (decryptor) DecryptNotes(
	ctx context.Context, viewingPrivateKey string, ciphertexts [][]byte,
) ([]*domain.NotePlaintext, error) {
	priv, err := decodeKey(viewingPrivateKey)
	if err != nil {
		return nil, err
	}
	pubHex, err := ViewingPublicKey(viewingPrivateKey)
	if err != nil {
		return nil, err
	}
	pub, err := decodeKey(pubHex)
	if err != nil {
		return nil, err
	}

	plaintexts := make([]*domain.NotePlaintext, len(ciphertexts))
	for i, ciphertext := range ciphertexts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf, ok := box.OpenAnonymous(nil, ciphertext, pub, priv)
		if !ok {
			continue
		}
		var plaintext domain.NotePlaintext
		if err := json.Unmarshal(buf, &plaintext); err != nil {
			return nil, fmt.Errorf("malformed note plaintext: %w", err)
		}
		plaintexts[i] = &plaintext
	}
	return plaintexts, nil
}

func decodeKey(key string) (*[keyLen]byte, error) {
	buf, err := hex.DecodeString(strings.TrimPrefix(key, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid viewing key: %w", err)
	}
	if len(buf) != keyLen {
		return nil, fmt.Errorf("invalid viewing key length %d", len(buf))
	}
	var out [keyLen]byte
	copy(out[:], buf)
	return &out, nil
}
