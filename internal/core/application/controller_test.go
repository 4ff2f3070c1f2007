package application

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/require"
)

func asset(assetId uint32, value uint64) domain.AssetValue {
	return domain.NewAssetValue(assetId, uint256.NewInt(value))
}

func TestDefiController(t *testing.T) {
	ctx := context.Background()
	bridge := domain.BridgeCallData{BridgeAddressId: 1, InputAssetIdA: 0, OutputAssetIdA: 1}

	t.Run("single exact note", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 101)

		c, err := NewDefiController(env.composition, user.Id, signer, bridge, asset(0, 100), asset(0, 1))
		require.NoError(t, err)
		require.Equal(t, StateUnstarted, c.State())

		require.NoError(t, c.CreateProof(ctx))
		require.Equal(t, StateProofCreated, c.State())

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 1)
		require.Equal(t, domain.ProofIdDefiDeposit, outputs[0].ProofId)
		require.Zero(t, outputs[0].TxRefNo)
	})

	t.Run("join-split before deposit", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 41, 61)

		c, err := NewDefiController(env.composition, user.Id, signer, bridge, asset(0, 100), asset(0, 1))
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdSend, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdDefiDeposit, outputs[1].ProofId)
		require.NotZero(t, outputs[0].TxRefNo)
		require.Equal(t, outputs[0].TxRefNo, outputs[1].TxRefNo)

		chained := outputs[0].ChainedOutput()
		require.NotNil(t, chained)
		require.Equal(t, uint64(101), chained.Value.Uint64())
		require.Equal(t, chained.Commitment, outputs[1].InputNotes[0].Commitment)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, c.ProofOutputs()[1].TxId, txId)
		require.Equal(t, StateSent, c.State())
		require.Equal(t, uint64(1), env.balance(t, user.Id, 0))

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateAwaitingDefiFinalisation, c.State())

		tx, err := env.repos.Txs().GetTx(ctx, user.Id, txId)
		require.NoError(t, err)
		require.NotNil(t, tx.Defi)
		nonce := tx.Defi.InteractionNonce
		require.Equal(t, uint32(1), nonce)

		env.mineAndSync(t, domain.DefiInteractionResult{
			Nonce:        nonce,
			TotalInput:   uint256.NewInt(100),
			TotalOutputA: uint256.NewInt(200),
			TotalOutputB: uint256.NewInt(0),
			Success:      true,
		})
		require.NoError(t, c.AwaitDefiFinalisation(ctx, time.Second))

		tx, err = env.repos.Txs().GetTx(ctx, user.Id, txId)
		require.NoError(t, err)
		require.True(t, tx.Defi.Success)
		require.Equal(t, uint64(200), tx.Defi.OutputValueA.Uint64())
	})

	t.Run("two input assets", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 106)
		env.addNotes(t, user.Id, 1, 30, 80)

		assetB := uint32(1)
		outB := uint32(2)
		bcd := domain.BridgeCallData{
			BridgeAddressId: 2, InputAssetIdA: 0, InputAssetIdB: &assetB,
			OutputAssetIdA: 3, OutputAssetIdB: &outB,
		}
		c, err := NewDefiController(env.composition, user.Id, signer, bcd, asset(0, 100), asset(0, 6))
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdSend, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdDefiDeposit, outputs[1].ProofId)
		require.Len(t, outputs[1].InputNotes, 2)
		require.Equal(t, uint32(0), outputs[1].InputNotes[0].AssetId)
		require.Equal(t, uint64(106), outputs[1].InputNotes[0].Value.Uint64())
		require.Equal(t, uint32(1), outputs[1].InputNotes[1].AssetId)
		require.Equal(t, uint64(100), outputs[1].InputNotes[1].Value.Uint64())
	})

	t.Run("first input asset needs a join-split", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 50, 70)
		env.addNotes(t, user.Id, 1, 100)

		assetB := uint32(1)
		bcd := domain.BridgeCallData{
			BridgeAddressId: 2, InputAssetIdA: 0, InputAssetIdB: &assetB, OutputAssetIdA: 3,
		}
		c, err := NewDefiController(env.composition, user.Id, signer, bcd, asset(0, 100), asset(0, 6))
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdSend, outputs[0].ProofId)
		inputs := outputs[1].InputNotes
		require.Len(t, inputs, 2)
		require.Equal(t, uint32(0), inputs[0].AssetId)
		require.Equal(t, uint64(106), inputs[0].Value.Uint64())
		require.Equal(t, outputs[0].ChainedOutput().Commitment, inputs[0].Commitment)
		require.Equal(t, uint32(1), inputs[1].AssetId)
		require.Equal(t, uint64(100), inputs[1].Value.Uint64())

		_, err = c.Send(ctx)
		require.NoError(t, err)
	})

	t.Run("identical input assets", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)

		assetB := uint32(0)
		bcd := domain.BridgeCallData{InputAssetIdA: 0, InputAssetIdB: &assetB, OutputAssetIdA: 1}
		_, err := NewDefiController(env.composition, user.Id, signer, bcd, asset(0, 100), asset(0, 1))
		require.Error(t, err)
		require.True(t, errors.VALIDATION_ERROR.Is(err))
		require.Contains(t, err.Error(), "Identical input assets.")
	})

	t.Run("invalid arguments", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)

		testCases := []struct {
			name    string
			deposit domain.AssetValue
			fee     domain.AssetValue
		}{
			{"zero deposit", asset(0, 0), asset(0, 1)},
			{"wrong deposit asset", asset(1, 100), asset(0, 1)},
			{"wrong fee asset", asset(0, 100), asset(1, 1)},
		}
		for _, tc := range testCases {
			_, err := NewDefiController(env.composition, user.Id, signer, bridge, tc.deposit, tc.fee)
			require.Error(t, err, tc.name)
			require.True(t, errors.VALIDATION_ERROR.Is(err), tc.name)
		}
	})

	t.Run("insufficient notes", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 50)

		c, err := NewDefiController(env.composition, user.Id, signer, bridge, asset(0, 100), asset(0, 1))
		require.NoError(t, err)
		err = c.CreateProof(ctx)
		require.Error(t, err)
		require.True(t, errors.INSUFFICIENT_NOTES.Is(err))
		require.Equal(t, StateUnstarted, c.State())
		require.Empty(t, c.ProofOutputs())
	})
}

func TestTransferController(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer settles", func(t *testing.T) {
		env := newTestEnv(t)
		sender, signer := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 60, 50)

		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(0, 70), asset(0, 5), recipient.Id,
		)
		require.NoError(t, err)
		require.Equal(t, uint64(75), c.PrivateInput().Uint64())
		require.NoError(t, c.CreateProof(ctx))
		require.Len(t, c.ProofOutputs(), 1)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, txId)

		// Sending twice returns the same tx.
		again, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, txId, again)
		require.Equal(t, 1, env.rollup.sendCalls)

		require.Equal(t, uint64(35), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(70), env.balance(t, recipient.Id, 0))

		block := env.mineAndSync(t)
		require.Equal(t, uint32(1), block.RollupSize)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())

		notes, err := env.repos.Notes().GetUserNotes(ctx, recipient.Id)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		require.False(t, notes[0].Pending)
		require.Equal(t, block.DataStartIndex, notes[0].Index)

		for _, userId := range []domain.UserId{sender.Id, recipient.Id} {
			tx, err := env.repos.Txs().GetTx(ctx, userId, txId)
			require.NoError(t, err)
			require.NotNil(t, tx)
			require.True(t, tx.IsSettled())
		}
		require.Equal(t, uint64(35), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(70), env.balance(t, recipient.Id, 0))
	})

	t.Run("merges before paying", func(t *testing.T) {
		env := newTestEnv(t)
		sender, signer := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 30, 30, 30, 30)

		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(0, 100), domain.ZeroAssetValue(0), recipient.Id,
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 3)
		for _, o := range outputs {
			require.Equal(t, domain.ProofIdSend, o.ProofId)
			require.NotZero(t, o.TxRefNo)
			require.Equal(t, outputs[0].TxRefNo, o.TxRefNo)
		}
		require.Equal(t, uint64(60), outputs[0].ChainedOutput().Value.Uint64())
		require.Equal(t, uint64(90), outputs[1].ChainedOutput().Value.Uint64())

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, c.TxIds()[2], txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, uint64(20), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(100), env.balance(t, recipient.Id, 0))
	})

	t.Run("fee paid in another asset", func(t *testing.T) {
		env := newTestEnv(t)
		sender, signer := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 1, 50)
		env.addNotes(t, sender.Id, 0, 10)

		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(1, 50), asset(0, 5), recipient.Id,
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, outputs[0].TxRefNo, outputs[1].TxRefNo)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, c.TxIds()[0], txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, uint64(5), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(0), env.balance(t, sender.Id, 1))
		require.Equal(t, uint64(50), env.balance(t, recipient.Id, 1))
	})

	t.Run("fee paid by another user", func(t *testing.T) {
		env := newTestEnv(t)
		sender, signer := env.addUser(t)
		payer, payerSigner := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 40)
		env.addNotes(t, payer.Id, 0, 12)

		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(0, 40), asset(0, 5), recipient.Id,
			WithFeePaidBy(payer.Id, payerSigner),
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))
		require.Len(t, c.ProofOutputs(), 2)

		_, err = c.Send(ctx)
		require.NoError(t, err)
		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))

		require.Equal(t, uint64(0), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(7), env.balance(t, payer.Id, 0))
		require.Equal(t, uint64(40), env.balance(t, recipient.Id, 0))
	})

	t.Run("recipient not on this device", func(t *testing.T) {
		env := newTestEnv(t)
		sender, signer := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 100)
		stranger, _, err := notecrypto.GenerateViewingKey()
		require.NoError(t, err)

		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(0, 40), asset(0, 5), domain.UserId(stranger),
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))
		txId, err := c.Send(ctx)
		require.NoError(t, err)

		txs, err := env.repos.Txs().GetTxsByTxId(ctx, txId)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, sender.Id, txs[0].UserId)
		require.True(t, txs[0].IsSender)

		notes, err := env.repos.Notes().GetUserNotes(ctx, domain.UserId(stranger))
		require.NoError(t, err)
		require.Empty(t, notes)
		require.Equal(t, uint64(55), env.balance(t, sender.Id, 0))
	})

	t.Run("withdraw", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)
		env.addNotes(t, user.Id, 0, 100)

		to := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
		c, err := NewWithdrawController(env.composition, user.Id, signer, asset(0, 60), asset(0, 8), to)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, uint64(32), env.balance(t, user.Id, 0))

		tx, err := env.repos.Txs().GetTx(ctx, user.Id, txId)
		require.NoError(t, err)
		require.Equal(t, domain.ProofIdWithdraw, tx.ProofId)
		require.Equal(t, to, tx.PublicOwner)
		require.Equal(t, uint64(60), tx.Value.Value.Uint64())
	})
}

func TestControllerLifecycle(t *testing.T) {
	ctx := context.Background()

	newTransfer := func(t *testing.T, env *testEnv) *TransferController {
		sender, signer := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 100)
		c, err := NewTransferController(
			env.composition, sender.Id, signer, asset(0, 50), asset(0, 5), recipient.Id,
		)
		require.NoError(t, err)
		return c
	}

	t.Run("send before proof", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)

		_, err := c.Send(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))

		err = c.AwaitSettlement(ctx, time.Second)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))
	})

	t.Run("settlement timeout", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)
		require.NoError(t, c.CreateProof(ctx))
		txId, err := c.Send(ctx)
		require.NoError(t, err)

		err = c.AwaitSettlement(ctx, time.Second)
		require.Error(t, err)
		require.True(t, errors.TIMEOUT_ERROR.Is(err))

		var typed errors.TypedError[errors.TimeoutMetadata]
		require.ErrorAs(t, err, &typed)
		require.Equal(t, txId, typed.TypedMetadata().TxId)
		require.Equal(t, StateSent, c.State())
	})

	t.Run("abort", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)
		require.NoError(t, c.CreateProof(ctx))
		require.NoError(t, c.Abort())
		require.Equal(t, StateAborted, c.State())
		require.Empty(t, c.ProofOutputs())

		err := c.CreateProof(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))
	})

	t.Run("abort after send", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)
		require.NoError(t, c.CreateProof(ctx))
		_, err := c.Send(ctx)
		require.NoError(t, err)

		err = c.Abort()
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))
	})

	t.Run("failed send can be retried", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)
		require.NoError(t, c.CreateProof(ctx))

		env.rollup.sendErr = fmt.Errorf("rollup unavailable")
		_, err := c.Send(ctx)
		require.Error(t, err)
		require.Equal(t, StateProofCreated, c.State())
		require.Nil(t, c.TxIds())

		env.rollup.sendErr = nil
		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{txId}, c.TxIds())
	})

	t.Run("sent but not recorded", func(t *testing.T) {
		env := newTestEnv(t)
		repos := newFlakyRepos(env.repos)
		sender, signer := env.addUser(t)
		recipient, _ := env.addUser(t)
		env.addNotes(t, sender.Id, 0, 100)

		composition := NewPaymentComposition(
			repos, env.picker, env.prover, env.rollup, nil, env.locker, env.bus, testPollInterval,
		)
		c, err := NewTransferController(
			composition, sender.Id, signer, asset(0, 50), asset(0, 5), recipient.Id,
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		repos.txs.adds.fail(1)
		txId, err := c.Send(ctx)
		require.Error(t, err)
		require.NotEmpty(t, txId)
		require.Equal(t, StateSent, c.State())
		require.Equal(t, []string{txId}, c.TxIds())

		err = c.Abort()
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))

		again, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, txId, again)
		require.Equal(t, 1, env.rollup.sendCalls)

		// The block restores the missing history.
		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())

		tx, err := env.repos.Txs().GetTx(ctx, sender.Id, txId)
		require.NoError(t, err)
		require.NotNil(t, tx)
		require.True(t, tx.IsSender)
		require.Equal(t, uint64(45), env.balance(t, sender.Id, 0))
		require.Equal(t, uint64(50), env.balance(t, recipient.Id, 0))
	})

	t.Run("create proof twice", func(t *testing.T) {
		env := newTestEnv(t)
		c := newTransfer(t, env)
		require.NoError(t, c.CreateProof(ctx))
		first := c.ProofOutputs()
		require.NoError(t, c.CreateProof(ctx))
		require.Equal(t, first[0].TxId, c.ProofOutputs()[0].TxId)
	})

	t.Run("invalid payments", func(t *testing.T) {
		env := newTestEnv(t)
		user, signer := env.addUser(t)

		_, err := NewTransferController(env.composition, user.Id, signer, asset(0, 0), asset(0, 1), user.Id)
		require.True(t, errors.VALIDATION_ERROR.Is(err))
		_, err = NewTransferController(env.composition, user.Id, signer, asset(0, 1), asset(0, 1), "")
		require.True(t, errors.VALIDATION_ERROR.Is(err))
		_, err = NewWithdrawController(env.composition, user.Id, signer, asset(0, 1), asset(0, 1), "")
		require.True(t, errors.VALIDATION_ERROR.Is(err))
		_, err = NewTransferController(
			env.composition, user.Id, signer, asset(0, 1), asset(0, 1), user.Id, WithFeePaidBy("", nil),
		)
		require.True(t, errors.VALIDATION_ERROR.Is(err))
	})
}
