package ports

import (
	"context"

	"github.com/privrollup/walletd/internal/core/domain"
)

type NoteDecryptor interface {
	// DecryptNotes returns one entry per ciphertext, nil for those not
	// addressed to the given viewing key.
	DecryptNotes(
		ctx context.Context, viewingPrivateKey string, ciphertexts [][]byte,
	) ([]*domain.NotePlaintext, error)
}
