package application

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	devnetprover "github.com/privrollup/walletd/internal/infrastructure/prover/devnet"
	"github.com/privrollup/walletd/internal/infrastructure/signer"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newSpendingPublicKey(t *testing.T) string {
	key, err := signer.GenerateSpendingKey()
	require.NoError(t, err)
	s, err := signer.NewSpendingSigner(key)
	require.NoError(t, err)
	return s.PublicKey()
}

func TestRegisterController(t *testing.T) {
	ctx := context.Background()

	t.Run("deposit pays the fee", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		depositor := newDepositor(t)
		address := depositor.Address()

		chain := &mockedChain{}
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), address).
			Return(uint256.NewInt(0), nil).Once()
		chain.On("DepositPendingFunds", mock.Anything, uint32(0), amountOf(110), address).
			Return("0xfunding", nil).Once()
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), address).
			Return(uint256.NewInt(110), nil)

		c, err := NewRegisterController(
			env.withChain(chain), user.Id, spender, depositor, "alice", "0xaccount",
			newSpendingPublicKey(t), asset(0, 100), asset(0, 10), "",
		)
		require.NoError(t, err)
		require.Equal(t, "alice", c.Alias)
		require.Equal(t, uint64(100), c.DepositValue.Value.Uint64())

		_, err = c.DepositFundsToContract(ctx)
		require.NoError(t, err)
		require.Equal(t, StateDepositingToContract, c.State())
		require.NoError(t, c.AwaitDepositFundsToContract(ctx, time.Second))
		require.Equal(t, StateUnstarted, c.State())

		require.NoError(t, c.CreateProof(ctx))
		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdAccount, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdDeposit, outputs[1].ProofId)
		require.NotZero(t, outputs[0].TxRefNo)
		require.Equal(t, outputs[0].TxRefNo, outputs[1].TxRefNo)

		deposit, err := devnetprover.DecodeProofData(outputs[1].ProofData)
		require.NoError(t, err)
		require.Equal(t, uint64(110), deposit.PublicValue.Uint64())
		require.Equal(t, address, deposit.PublicOwner)

		signature, err := c.Sign(ctx)
		require.NoError(t, err)
		signedBy, err := signer.RecoverAddress([]byte(outputs[1].TxId), signature)
		require.NoError(t, err)
		require.Equal(t, address, signedBy)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, outputs[0].TxId, txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())
		require.Equal(t, uint64(100), env.balance(t, user.Id, 0))

		tx, err := env.repos.Txs().GetTx(ctx, user.Id, txId)
		require.NoError(t, err)
		require.Equal(t, domain.ProofIdAccount, tx.ProofId)
		require.Equal(t, "alice", tx.Alias)
		chain.AssertExpectations(t)
	})

	t.Run("without deposit", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		c, err := NewRegisterController(
			env.composition, user.Id, spender, nil, "bob", "0xaccount", newSpendingPublicKey(t),
			domain.ZeroAssetValue(0), domain.ZeroAssetValue(0), "",
		)
		require.NoError(t, err)

		_, err = c.DepositFundsToContract(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))

		require.NoError(t, c.CreateProof(ctx))
		require.Len(t, c.ProofOutputs(), 1)
		_, err = c.Sign(ctx)
		require.True(t, errors.STATE_ERROR.Is(err))

		_, err = c.Send(ctx)
		require.NoError(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		spendingKey := newSpendingPublicKey(t)

		testCases := []struct {
			name        string
			alias       string
			spendingKey string
			deposit     domain.AssetValue
			fee         domain.AssetValue
			depositor   string
		}{
			{"missing alias", "", spendingKey, asset(0, 10), asset(0, 1), depositorAddress},
			{"missing spending key", "alice", "", asset(0, 10), asset(0, 1), depositorAddress},
			{"fee in another asset", "alice", spendingKey, asset(1, 10), asset(0, 1), depositorAddress},
			{"missing depositor", "alice", spendingKey, asset(0, 10), asset(0, 1), ""},
		}
		for _, tc := range testCases {
			_, err := NewRegisterController(
				env.composition, user.Id, spender, nil, tc.alias, "0xaccount", tc.spendingKey,
				tc.deposit, tc.fee, tc.depositor,
			)
			require.Error(t, err, tc.name)
			require.True(t, errors.VALIDATION_ERROR.Is(err), tc.name)
		}
	})
}

func TestAddSigningKeyController(t *testing.T) {
	ctx := context.Background()

	t.Run("fee paid from notes", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		env.addNotes(t, user.Id, 0, 10)

		keys := []string{newSpendingPublicKey(t), newSpendingPublicKey(t)}
		c, err := NewAddSigningKeyController(env.composition, user.Id, spender, keys, asset(0, 4))
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdAccount, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdSend, outputs[1].ProofId)
		require.Equal(t, outputs[0].TxRefNo, outputs[1].TxRefNo)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, outputs[0].TxId, txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())
		require.Equal(t, uint64(6), env.balance(t, user.Id, 0))
	})

	t.Run("fee paid by another user", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		payer, payerSigner := env.addUser(t)
		env.addNotes(t, payer.Id, 0, 12)

		c, err := NewAddSigningKeyController(
			env.composition, user.Id, spender, []string{newSpendingPublicKey(t)}, asset(0, 4),
			WithFeePaidBy(payer.Id, payerSigner),
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))
		_, err = c.Send(ctx)
		require.NoError(t, err)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, uint64(8), env.balance(t, payer.Id, 0))
		require.Equal(t, uint64(0), env.balance(t, user.Id, 0))
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		key := newSpendingPublicKey(t)

		testCases := []struct {
			name   string
			keys   []string
			signer bool
		}{
			{"no keys", nil, true},
			{"empty keys", []string{"", ""}, true},
			{"three keys", []string{key, key, key}, true},
			{"missing signer", []string{key}, false},
		}
		for _, tc := range testCases {
			s := spender
			if !tc.signer {
				s = nil
			}
			_, err := NewAddSigningKeyController(env.composition, user.Id, s, tc.keys, asset(0, 1))
			require.Error(t, err, tc.name)
			require.True(t, errors.VALIDATION_ERROR.Is(err), tc.name)
		}
	})
}

func TestMigrateAccountController(t *testing.T) {
	ctx := context.Background()

	t.Run("without fee", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		c, err := NewMigrateAccountController(
			env.composition, user.Id, spender, "0xnewaccount", newSpendingPublicKey(t),
			domain.ZeroAssetValue(0),
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 1)
		require.Equal(t, domain.ProofIdAccount, outputs[0].ProofId)
		require.Zero(t, outputs[0].TxRefNo)

		tx, err := devnetprover.DecodeProofData(outputs[0].ProofData)
		require.NoError(t, err)
		require.Len(t, tx.Nullifiers, 1)

		_, err = c.Send(ctx)
		require.NoError(t, err)
		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())
	})

	t.Run("missing account key", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		_, err := NewMigrateAccountController(
			env.composition, user.Id, spender, "", newSpendingPublicKey(t), asset(0, 1),
		)
		require.Error(t, err)
		require.True(t, errors.VALIDATION_ERROR.Is(err))
	})
}

func TestRecoverAccountController(t *testing.T) {
	ctx := context.Background()

	t.Run("approved deposit pays the fee", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		chain := &mockedChain{}
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), depositorAddress).
			Return(uint256.NewInt(10), nil)

		c, err := NewRecoverAccountController(
			env.withChain(chain), user.Id, spender, nil, "alice", newSpendingPublicKey(t),
			asset(0, 10), depositorAddress,
		)
		require.NoError(t, err)
		require.Equal(t, "alice", c.Alias)
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdAccount, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdDeposit, outputs[1].ProofId)
		deposit, err := devnetprover.DecodeProofData(outputs[1].ProofData)
		require.NoError(t, err)
		require.Equal(t, uint64(10), deposit.PublicValue.Uint64())

		// Approval is bound to the deposit proof, not the account one.
		depositTxId := outputs[1].TxId
		chain.On("ApproveProof", mock.Anything, depositorAddress, depositTxId).
			Return("0xapproval", nil).Once()
		chain.On("GetProofApprovalStatus", mock.Anything, depositorAddress, depositTxId).
			Return(true, nil)

		txHash, err := c.ApproveProof(ctx)
		require.NoError(t, err)
		require.Equal(t, "0xapproval", txHash)
		require.Equal(t, StateAwaitingApproval, c.State())
		require.NoError(t, c.AwaitApprove(ctx, time.Second))
		require.Equal(t, StateProofCreated, c.State())

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, outputs[0].TxId, txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())
		require.Equal(t, uint64(0), env.balance(t, user.Id, 0))
		chain.AssertExpectations(t)
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		key := newSpendingPublicKey(t)

		testCases := []struct {
			name      string
			key       string
			fee       domain.AssetValue
			depositor string
		}{
			{"zero fee", key, domain.ZeroAssetValue(0), depositorAddress},
			{"missing key", "", asset(0, 10), depositorAddress},
			{"missing depositor", key, asset(0, 10), ""},
		}
		for _, tc := range testCases {
			_, err := NewRecoverAccountController(
				env.composition, user.Id, spender, nil, "alice", tc.key, tc.fee, tc.depositor,
			)
			require.Error(t, err, tc.name)
			require.True(t, errors.VALIDATION_ERROR.Is(err), tc.name)
		}
	})
}
