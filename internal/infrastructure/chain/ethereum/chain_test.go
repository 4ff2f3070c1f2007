package ethchain_test

import (
	"context"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	ethchain "github.com/privrollup/walletd/internal/infrastructure/chain/ethereum"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	contractAddress = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
	depositorKey    = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
)

type mockedBackend struct {
	mock.Mock
}

func (m *mockedBackend) CallContract(
	ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int,
) ([]byte, error) {
	args := m.Called(ctx, call, blockNumber)
	var res []byte
	if a := args.Get(0); a != nil {
		res = a.([]byte)
	}
	return res, args.Error(1)
}

func (m *mockedBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func (m *mockedBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockedBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *mockedBackend) ChainID(ctx context.Context) (*big.Int, error) {
	args := m.Called(ctx)
	return args.Get(0).(*big.Int), args.Error(1)
}

func depositorAddress(t *testing.T) common.Address {
	key, err := crypto.HexToECDSA(depositorKey)
	require.NoError(t, err)
	return crypto.PubkeyToAddress(key.PublicKey)
}

func packOutput(t *testing.T, method string, values ...interface{}) []byte {
	parsed, err := abi.JSON(strings.NewReader(`[
		{"type":"function","name":"userPendingDeposits","stateMutability":"view",
		 "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
		{"type":"function","name":"depositProofApprovals","stateMutability":"view",
		 "inputs":[],"outputs":[{"name":"","type":"bool"}]}
	]`))
	require.NoError(t, err)
	out, err := parsed.Methods[method].Outputs.Pack(values...)
	require.NoError(t, err)
	return out
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	depositor := depositorAddress(t).Hex()

	t.Run("pending deposit", func(t *testing.T) {
		backend := &mockedBackend{}
		backend.On("CallContract", mock.Anything, mock.Anything, mock.Anything).
			Return(packOutput(t, "userPendingDeposits", big.NewInt(1500)), nil)

		chain, err := ethchain.NewChainWithBackend(backend, ethchain.Config{
			ContractAddress: contractAddress,
			PrivateKey:      depositorKey,
		})
		require.NoError(t, err)

		pending, err := chain.GetUserPendingDeposit(ctx, 0, depositor)
		require.NoError(t, err)
		require.Equal(t, uint64(1500), pending.Uint64())
		backend.AssertExpectations(t)
	})

	t.Run("approval status", func(t *testing.T) {
		backend := &mockedBackend{}
		backend.On("CallContract", mock.Anything, mock.Anything, mock.Anything).
			Return(packOutput(t, "depositProofApprovals", true), nil)

		chain, err := ethchain.NewChainWithBackend(backend, ethchain.Config{
			ContractAddress: contractAddress,
			PrivateKey:      depositorKey,
		})
		require.NoError(t, err)

		approved, err := chain.GetProofApprovalStatus(ctx, depositor, "0x01")
		require.NoError(t, err)
		require.True(t, approved)
	})

	t.Run("deposit pending funds", func(t *testing.T) {
		backend := &mockedBackend{}
		backend.On("ChainID", mock.Anything).Return(big.NewInt(1337), nil)
		backend.On("PendingNonceAt", mock.Anything, depositorAddress(t)).Return(uint64(7), nil)
		backend.On("SuggestGasPrice", mock.Anything).Return(big.NewInt(100), nil)

		var sent *types.Transaction
		backend.On("SendTransaction", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				sent = args.Get(1).(*types.Transaction)
			}).Return(nil)

		chain, err := ethchain.NewChainWithBackend(backend, ethchain.Config{
			ContractAddress: contractAddress,
			PrivateKey:      depositorKey,
		})
		require.NoError(t, err)

		txHash, err := chain.DepositPendingFunds(ctx, 0, uint256.NewInt(42), depositor)
		require.NoError(t, err)
		require.NotNil(t, sent)
		require.Equal(t, sent.Hash().Hex(), txHash)
		require.Equal(t, uint64(7), sent.Nonce())
		require.Equal(t, int64(120), sent.GasPrice().Int64())
		require.Equal(t, int64(42), sent.Value().Int64())
		require.Equal(t, common.HexToAddress(contractAddress), *sent.To())

		sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(1337)), sent)
		require.NoError(t, err)
		require.Equal(t, depositorAddress(t), sender)
	})

	t.Run("invalid", func(t *testing.T) {
		backend := &mockedBackend{}
		chain, err := ethchain.NewChainWithBackend(backend, ethchain.Config{
			ContractAddress: contractAddress,
			PrivateKey:      depositorKey,
		})
		require.NoError(t, err)

		_, err = chain.ApproveProof(ctx, "0x0000000000000000000000000000000000000001", "0x01")
		require.Error(t, err)
		_, err = chain.GetUserPendingDeposit(ctx, 0, "not-an-address")
		require.Error(t, err)

		_, err = ethchain.NewChainWithBackend(backend, ethchain.Config{
			ContractAddress: "bad",
			PrivateKey:      depositorKey,
		})
		require.Error(t, err)
		backend.AssertNotCalled(t, "SendTransaction", mock.Anything, mock.Anything)
	})
}
