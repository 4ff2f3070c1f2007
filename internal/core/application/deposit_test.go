package application

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	devnetprover "github.com/privrollup/walletd/internal/infrastructure/prover/devnet"
	"github.com/privrollup/walletd/internal/infrastructure/signer"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	depositorKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	depositorAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func newDepositor(t *testing.T) ports.EthSigner {
	ethSigner, err := signer.NewEthSigner(depositorKey)
	require.NoError(t, err)
	return ethSigner
}

func TestDepositController(t *testing.T) {
	ctx := context.Background()

	t.Run("funds then settles", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		depositor := newDepositor(t)
		address := depositor.Address()

		chain := &mockedChain{}
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), address).
			Return(uint256.NewInt(40), nil).Once()
		chain.On("DepositPendingFunds", mock.Anything, uint32(0), amountOf(65), address).
			Return("0xfunding", nil).Once()
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), address).
			Return(uint256.NewInt(105), nil)

		c, err := NewDepositController(
			env.withChain(chain), user.Id, spender, depositor, asset(0, 100), asset(0, 5), "", "",
		)
		require.NoError(t, err)
		require.Equal(t, address, c.Depositor)
		require.Equal(t, user.Id, c.Recipient)
		require.Equal(t, uint64(105), c.PublicInput().Value.Uint64())
		require.Equal(t, StateUnstarted, c.State())

		txHash, err := c.DepositFundsToContract(ctx)
		require.NoError(t, err)
		require.Equal(t, "0xfunding", txHash)
		require.Equal(t, StateDepositingToContract, c.State())

		require.NoError(t, c.AwaitDepositFundsToContract(ctx, time.Second))
		require.Equal(t, StateUnstarted, c.State())

		// Nothing left to fund.
		txHash, err = c.DepositFundsToContract(ctx)
		require.NoError(t, err)
		require.Empty(t, txHash)

		require.NoError(t, c.CreateProof(ctx))
		require.Equal(t, StateProofCreated, c.State())
		outputs := c.ProofOutputs()
		require.Len(t, outputs, 1)
		require.Equal(t, domain.ProofIdDeposit, outputs[0].ProofId)
		require.Zero(t, outputs[0].TxRefNo)

		tx, err := devnetprover.DecodeProofData(outputs[0].ProofData)
		require.NoError(t, err)
		require.Equal(t, uint64(105), tx.PublicValue.Uint64())
		require.Equal(t, address, tx.PublicOwner)

		signature, err := c.Sign(ctx)
		require.NoError(t, err)
		signedBy, err := signer.RecoverAddress([]byte(outputs[0].TxId), signature)
		require.NoError(t, err)
		require.Equal(t, address, signedBy)

		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, outputs[0].TxId, txId)
		require.Equal(t, StateSent, c.State())

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, StateSettled, c.State())
		require.Equal(t, uint64(100), env.balance(t, user.Id, 0))
		chain.AssertExpectations(t)
	})

	t.Run("approval", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		chain := &mockedChain{}
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), depositorAddress).
			Return(uint256.NewInt(105), nil)

		c, err := NewDepositController(
			env.withChain(chain), user.Id, spender, nil, asset(0, 100), asset(0, 5),
			depositorAddress, "",
		)
		require.NoError(t, err)
		require.NoError(t, c.CreateProof(ctx))
		txId := c.ProofOutputs()[0].TxId

		chain.On("GetProofApprovalStatus", mock.Anything, depositorAddress, txId).
			Return(false, nil).Once()
		chain.On("ApproveProof", mock.Anything, depositorAddress, txId).
			Return("0xapproval", nil).Once()
		chain.On("GetProofApprovalStatus", mock.Anything, depositorAddress, txId).
			Return(true, nil)

		_, err = c.Sign(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))

		_, err = c.Send(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))
		require.Equal(t, StateProofCreated, c.State())

		txHash, err := c.ApproveProof(ctx)
		require.NoError(t, err)
		require.Equal(t, "0xapproval", txHash)
		require.Equal(t, StateAwaitingApproval, c.State())

		require.NoError(t, c.AwaitApprove(ctx, time.Second))
		require.Equal(t, StateProofCreated, c.State())
		approved, err := c.IsProofApproved(ctx)
		require.NoError(t, err)
		require.True(t, approved)

		sent, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, txId, sent)
		require.Equal(t, 1, env.rollup.sendCalls)
		chain.AssertExpectations(t)
	})

	t.Run("send gate", func(t *testing.T) {
		testCases := []struct {
			name        string
			pending     uint64
			approved    bool
			sign        bool
			expectedErr string
		}{
			{"unfunded", 104, true, false, "insufficient pending deposit"},
			{"not approved", 105, false, false, "proof not approved"},
			{"approved", 105, true, false, ""},
			{"signed", 105, false, true, ""},
		}
		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				env := newTestEnv(t)
				user, spender := env.addUser(t)
				depositor := newDepositor(t)
				address := depositor.Address()

				chain := &mockedChain{}
				chain.On("GetUserPendingDeposit", mock.Anything, uint32(0), address).
					Return(uint256.NewInt(tc.pending), nil)
				chain.On("GetProofApprovalStatus", mock.Anything, address, mock.Anything).
					Return(tc.approved, nil).Maybe()

				c, err := NewDepositController(
					env.withChain(chain), user.Id, spender, depositor, asset(0, 100), asset(0, 5),
					"", "",
				)
				require.NoError(t, err)
				require.NoError(t, c.CreateProof(ctx))
				if tc.sign {
					_, err := c.Sign(ctx)
					require.NoError(t, err)
				}

				txId, err := c.Send(ctx)
				if tc.expectedErr != "" {
					require.Error(t, err)
					require.True(t, errors.STATE_ERROR.Is(err))
					require.Contains(t, err.Error(), tc.expectedErr)
					require.Empty(t, txId)
					require.Zero(t, env.rollup.sendCalls)
					require.Equal(t, StateProofCreated, c.State())
					return
				}
				require.NoError(t, err)
				require.NotEmpty(t, txId)
				require.Equal(t, StateSent, c.State())
			})
		}
	})

	t.Run("fee paid in another asset", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)
		env.addNotes(t, user.Id, 0, 10)
		depositor := newDepositor(t)
		address := depositor.Address()

		chain := &mockedChain{}
		chain.On("GetUserPendingDeposit", mock.Anything, uint32(1), address).
			Return(uint256.NewInt(50), nil)

		c, err := NewDepositController(
			env.withChain(chain), user.Id, spender, depositor, asset(1, 50), asset(0, 5), "", "",
		)
		require.NoError(t, err)
		require.Equal(t, uint64(50), c.PublicInput().Value.Uint64())
		require.NoError(t, c.CreateProof(ctx))

		outputs := c.ProofOutputs()
		require.Len(t, outputs, 2)
		require.Equal(t, domain.ProofIdDeposit, outputs[0].ProofId)
		require.Equal(t, domain.ProofIdSend, outputs[1].ProofId)
		require.NotZero(t, outputs[0].TxRefNo)
		require.Equal(t, outputs[0].TxRefNo, outputs[1].TxRefNo)

		tx, err := devnetprover.DecodeProofData(outputs[0].ProofData)
		require.NoError(t, err)
		require.Equal(t, uint64(50), tx.PublicValue.Uint64())

		_, err = c.Sign(ctx)
		require.NoError(t, err)
		txId, err := c.Send(ctx)
		require.NoError(t, err)
		require.Equal(t, outputs[0].TxId, txId)

		env.mineAndSync(t)
		require.NoError(t, c.AwaitSettlement(ctx, time.Second))
		require.Equal(t, uint64(50), env.balance(t, user.Id, 1))
		require.Equal(t, uint64(5), env.balance(t, user.Id, 0))
	})

	t.Run("without chain", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		c, err := NewDepositController(
			env.composition, user.Id, spender, nil, asset(0, 30), asset(0, 2), depositorAddress, "",
		)
		require.NoError(t, err)

		_, err = c.DepositFundsToContract(ctx)
		require.Error(t, err)
		require.True(t, errors.STATE_ERROR.Is(err))

		require.NoError(t, c.CreateProof(ctx))
		_, err = c.Send(ctx)
		require.NoError(t, err)
	})

	t.Run("invalid", func(t *testing.T) {
		env := newTestEnv(t)
		user, spender := env.addUser(t)

		testCases := []struct {
			name      string
			value     domain.AssetValue
			depositor string
		}{
			{"zero value", asset(0, 0), depositorAddress},
			{"missing depositor", asset(0, 10), ""},
		}
		for _, tc := range testCases {
			_, err := NewDepositController(
				env.composition, user.Id, spender, nil, tc.value, asset(0, 1), tc.depositor, "",
			)
			require.Error(t, err, tc.name)
			require.True(t, errors.VALIDATION_ERROR.Is(err), tc.name)
		}
	})
}
