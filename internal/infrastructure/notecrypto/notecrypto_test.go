package notecrypto_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	"github.com/stretchr/testify/require"
)

func TestNoteEncryption(t *testing.T) {
	alicePub, alicePriv, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)
	bobPub, _, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)

	derived, err := notecrypto.ViewingPublicKey(alicePriv)
	require.NoError(t, err)
	require.Equal(t, alicePub, derived)

	value, decErr := uint256.FromDecimal("340282366920938463463374607431768211456")
	require.True(t, decErr == nil)
	plaintext := domain.NotePlaintext{
		AssetId:    1,
		Value:      value,
		Nullifier:  "0xabc",
		AllowChain: true,
	}

	toAlice, err := notecrypto.EncryptNote(alicePub, plaintext)
	require.NoError(t, err)
	toBob, err := notecrypto.EncryptNote(bobPub, plaintext)
	require.NoError(t, err)

	plaintexts, err := notecrypto.NewDecryptor().DecryptNotes(
		context.Background(), alicePriv, [][]byte{toBob, toAlice, []byte("garbage")},
	)
	require.NoError(t, err)
	require.Len(t, plaintexts, 3)
	require.Nil(t, plaintexts[0])
	require.Nil(t, plaintexts[2])
	require.NotNil(t, plaintexts[1])
	require.Equal(t, plaintext.Nullifier, plaintexts[1].Nullifier)
	require.True(t, plaintexts[1].Value.Eq(value))
	require.True(t, plaintexts[1].AllowChain)

	_, err = notecrypto.NewDecryptor().DecryptNotes(context.Background(), "xyz", nil)
	require.Error(t, err)
}
