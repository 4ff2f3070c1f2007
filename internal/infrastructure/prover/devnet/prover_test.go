package devnetprover_test

import (
	"context"
	"testing"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	devnetprover "github.com/privrollup/walletd/internal/infrastructure/prover/devnet"
	"github.com/stretchr/testify/require"
)

var signature = []byte("signature")

func newProver(t *testing.T) ports.ProofCreator {
	ctx := context.Background()
	prover := devnetprover.NewProver()
	for _, circuit := range []ports.Circuit{ports.CircuitJoinSplit, ports.CircuitAccount} {
		key, err := prover.ComputeProvingKey(ctx, circuit)
		require.NoError(t, err)
		require.NoError(t, prover.LoadProvingKey(ctx, circuit, key))
	}
	return prover
}

func note(owner domain.UserId, value uint64) domain.Note {
	return domain.Note{
		Commitment: "0xc" + owner.String(),
		Nullifier:  "0xn" + owner.String(),
		Owner:      owner,
		AssetId:    0,
		Value:      uint256.NewInt(value),
	}
}

func TestPaymentProof(t *testing.T) {
	ctx := context.Background()
	prover := newProver(t)

	alicePub, _, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)
	bobPub, bobPriv, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)
	alice, bob := domain.UserId(alicePub), domain.UserId(bobPub)

	req := ports.PaymentProofRequest{
		UserId:         alice,
		ProofId:        domain.ProofIdSend,
		AssetId:        0,
		InputNotes:     []domain.Note{note(alice, 70), note(alice, 50)},
		RecipientValue: uint256.NewInt(100),
		Recipient:      bob,
		ChangeValue:    uint256.NewInt(15),
		Fee:            domain.NewAssetValue(0, uint256.NewInt(5)),
		ChainOutput:    ports.OutputSlotChange,
	}

	input, err := prover.CreatePaymentProofInput(ctx, req)
	require.NoError(t, err)
	require.Len(t, input.SigningData, 32)

	output, err := prover.CreatePaymentProof(ctx, *input, signature, 9)
	require.NoError(t, err)
	require.Equal(t, uint32(9), output.TxRefNo)
	require.Len(t, output.OutputNotes, 2)

	chained := output.ChainedOutput()
	require.NotNil(t, chained)
	require.Equal(t, alice, chained.Owner)
	require.Equal(t, uint64(15), chained.Value.Uint64())

	require.Len(t, output.Txs, 2)
	require.True(t, output.Txs[0].IsSender)
	require.Equal(t, bob, output.Txs[1].UserId)

	tx, err := devnetprover.DecodeProofData(output.ProofData)
	require.NoError(t, err)
	require.Equal(t, output.TxId, tx.TxId)
	require.Equal(t, []string{"0xn" + alice.String(), "0xn" + alice.String()}, tx.Nullifiers)
	require.Len(t, tx.NoteCommitments, domain.NotesPerTx)
	require.Equal(t, output.OutputNotes[0].Commitment, tx.NoteCommitments[0])

	plaintexts, err := notecrypto.NewDecryptor().DecryptNotes(ctx, bobPriv, tx.EncryptedNotes)
	require.NoError(t, err)
	require.NotNil(t, plaintexts[0])
	require.Nil(t, plaintexts[1])
	require.Equal(t, uint64(100), plaintexts[0].Value.Uint64())
	require.Equal(t, output.OutputNotes[0].Nullifier, plaintexts[0].Nullifier)

	t.Run("unbalanced", func(t *testing.T) {
		bad := req
		bad.ChangeValue = uint256.NewInt(16)
		_, err := prover.CreatePaymentProofInput(ctx, bad)
		require.ErrorContains(t, err, "unbalanced")
	})

	t.Run("deposit", func(t *testing.T) {
		input, err := prover.CreatePaymentProofInput(ctx, ports.PaymentProofRequest{
			UserId:         alice,
			ProofId:        domain.ProofIdDeposit,
			PublicValue:    uint256.NewInt(110),
			PublicOwner:    "0xdepositor",
			RecipientValue: uint256.NewInt(100),
			Recipient:      alice,
			ChangeValue:    uint256.NewInt(0),
			Fee:            domain.NewAssetValue(0, uint256.NewInt(10)),
		})
		require.NoError(t, err)
		output, err := prover.CreatePaymentProof(ctx, *input, signature, 0)
		require.NoError(t, err)
		require.Len(t, output.OutputNotes, 1)
		require.Nil(t, output.ChainedOutput())
		require.Len(t, output.Txs, 1)
		require.Equal(t, uint64(100), output.Txs[0].Value.Value.Uint64())
		require.True(t, output.Txs[0].IsRecipient)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := prover.CreatePaymentProof(ctx, *input, nil, 0)
		require.Error(t, err)
	})
}

func TestDefiAndAccountProofs(t *testing.T) {
	ctx := context.Background()
	prover := newProver(t)
	alice := domain.UserId("alice")

	bcd := domain.BridgeCallData{BridgeAddressId: 1, InputAssetIdA: 0, OutputAssetIdA: 1}
	req := ports.DefiProofRequest{
		UserId:         alice,
		BridgeCallData: bcd,
		DepositValue:   uint256.NewInt(90),
		InputNotes:     []domain.Note{note(alice, 100)},
		Fee:            domain.NewAssetValue(0, uint256.NewInt(10)),
	}
	input, err := prover.CreateDefiProofInput(ctx, req)
	require.NoError(t, err)
	output, err := prover.CreateDefiProof(ctx, *input, signature, 0)
	require.NoError(t, err)
	require.Empty(t, output.OutputNotes)
	require.Len(t, output.Txs, 1)
	require.NotNil(t, output.Txs[0].Defi)
	require.Equal(t, uint64(90), output.Txs[0].Defi.DepositValue.Value.Uint64())

	tx, err := devnetprover.DecodeProofData(output.ProofData)
	require.NoError(t, err)
	require.Equal(t, domain.ProofIdDefiDeposit, tx.ProofId)
	require.Equal(t, bcd.String(), tx.BridgeCallData)

	req.DepositValue = uint256.NewInt(80)
	_, err = prover.CreateDefiProofInput(ctx, req)
	require.Error(t, err)

	t.Run("two input assets", func(t *testing.T) {
		assetB := uint32(1)
		twoAssets := domain.BridgeCallData{
			BridgeAddressId: 2, InputAssetIdA: 0, InputAssetIdB: &assetB, OutputAssetIdA: 2,
		}
		noteB := note(alice, 90)
		noteB.AssetId = assetB
		noteB.Commitment, noteB.Nullifier = "0xcb", "0xnb"

		req := ports.DefiProofRequest{
			UserId:         alice,
			BridgeCallData: twoAssets,
			DepositValue:   uint256.NewInt(90),
			InputNotes:     []domain.Note{note(alice, 100), noteB},
			Fee:            domain.NewAssetValue(0, uint256.NewInt(10)),
		}
		_, err := prover.CreateDefiProofInput(ctx, req)
		require.NoError(t, err)

		req.InputNotes = []domain.Note{noteB, note(alice, 100)}
		_, err = prover.CreateDefiProofInput(ctx, req)
		require.ErrorContains(t, err, "first input note")
	})

	accountInput, err := prover.CreateAccountProofInput(ctx, ports.AccountProofRequest{
		UserId:               alice,
		Alias:                "alice",
		NewAccountPublicKey:  "0xaccount",
		NewSpendingPublicKey: []string{"0xspending"},
		Create:               true,
	})
	require.NoError(t, err)
	accountOutput, err := prover.CreateAccountProof(ctx, *accountInput, signature, 3)
	require.NoError(t, err)
	require.Equal(t, "alice", accountOutput.Txs[0].Alias)

	accountTx, err := devnetprover.DecodeProofData(accountOutput.ProofData)
	require.NoError(t, err)
	require.Len(t, accountTx.Nullifiers, 1)
}

func TestProvingKeys(t *testing.T) {
	ctx := context.Background()
	prover := devnetprover.NewProver()

	_, err := prover.CreateAccountProofInput(ctx, ports.AccountProofRequest{})
	require.ErrorContains(t, err, "not loaded")

	_, err = prover.ComputeProvingKey(ctx, "unknown")
	require.Error(t, err)
	require.Error(t, prover.LoadProvingKey(ctx, ports.CircuitAccount, []byte{1}))
}
