package application

import (
	"context"
	"testing"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/require"
)

func newTestSdk(t *testing.T, env *testEnv) *Sdk {
	sdk, err := NewSdk(
		env.repos, env.prover, env.rollup, nil, nil, env.locker, env.bus, nil, env.decryptor,
		SdkConfig{PollInterval: testPollInterval},
	)
	require.NoError(t, err)
	require.NoError(t, sdk.Init(context.Background()))
	t.Cleanup(sdk.stop)
	return sdk
}

func TestSdkUsers(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sdk := newTestSdk(t, env)

	pub, priv, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)

	// The note lands before the user is known to the wallet.
	tx, _ := noteTx(t, pub, domain.ProofIdSend, 0, 42)
	env.rollup.pool = append(env.rollup.pool, tx)
	applied, err := sdk.ProcessBlock(ctx, env.rollup.mine())
	require.NoError(t, err)
	require.True(t, applied)

	events, err := env.bus.Subscribe(ctx, domain.EventTypeUpdatedUsers)
	require.NoError(t, err)

	t.Run("add", func(t *testing.T) {
		user, err := sdk.AddUser(ctx, domain.User{
			ViewingPublicKey:  pub,
			ViewingPrivateKey: priv,
			Alias:             "alice",
		})
		require.NoError(t, err)
		require.Equal(t, domain.UserId(pub), user.Id)
		require.Equal(t, int64(0), user.SyncedToBlock)

		balance, err := sdk.GetBalance(ctx, user.Id, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(42), balance.Uint64())

		txs, err := sdk.GetUserTxs(ctx, user.Id)
		require.NoError(t, err)
		require.Len(t, txs, 1)
		require.Equal(t, tx.TxId, txs[0].TxId)
		require.True(t, txs[0].IsRecipient)

		select {
		case event := <-events:
			updated, ok := event.(domain.UsersUpdated)
			require.True(t, ok)
			require.Contains(t, updated.Users, user.Id)
		case <-time.After(time.Second):
			t.Fatal("missing users update")
		}

		again, err := sdk.AddUser(ctx, domain.User{ViewingPublicKey: pub, ViewingPrivateKey: priv})
		require.NoError(t, err)
		require.Equal(t, user.CreatedAt, again.CreatedAt)

		users, err := sdk.GetUsers(ctx)
		require.NoError(t, err)
		require.Len(t, users, 1)
	})

	t.Run("invalid", func(t *testing.T) {
		user, err := sdk.AddUser(ctx, domain.User{ViewingPublicKey: pub})
		require.Error(t, err)
		require.Nil(t, user)
		require.True(t, errors.VALIDATION_ERROR.Is(err))

		user, err = sdk.GetUser(ctx, "unknown")
		require.Error(t, err)
		require.Nil(t, user)
		require.True(t, errors.NOT_FOUND.Is(err))
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, sdk.RemoveUser(ctx, domain.UserId(pub)))

		_, err := sdk.GetUser(ctx, domain.UserId(pub))
		require.True(t, errors.NOT_FOUND.Is(err))

		notes, err := sdk.GetUserNotes(ctx, domain.UserId(pub))
		require.NoError(t, err)
		require.Empty(t, notes)

		err = sdk.RemoveUser(ctx, domain.UserId(pub))
		require.True(t, errors.NOT_FOUND.Is(err))
	})
}

func TestSdkSpendableValues(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sdk := newTestSdk(t, env)

	user, _ := env.addUser(t)
	env.addNotes(t, user.Id, 0, 42, 10, 20)

	sum, err := sdk.GetSpendableSum(ctx, user.Id, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(72), sum.Uint64())

	maxSum, err := sdk.GetMaxSpendableSum(ctx, user.Id, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(62), maxSum.Uint64())

	maxValue, err := sdk.GetMaxSpendableValue(ctx, user.Id, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(57), maxValue.Uint64())

	maxValue, err = sdk.GetMaxSpendableValue(ctx, user.Id, 0, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(47), maxValue.Uint64())

	_, err = sdk.GetMaxSpendableValue(ctx, user.Id, 0, 5)
	require.True(t, errors.VALIDATION_ERROR.Is(err))

	empty, err := sdk.GetMaxSpendableValue(ctx, user.Id, 1, 0)
	require.NoError(t, err)
	require.True(t, empty.IsZero())
}

func TestSdkLocalStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	sdk := newTestSdk(t, env)

	status, err := sdk.GetLocalStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(-1), status.SyncedToBlock)
	require.Equal(t, int64(-1), status.LatestRollupId)

	user, _ := env.addUser(t)
	tx, _ := noteTx(t, user.ViewingPublicKey, domain.ProofIdDeposit, 0, 5)
	env.rollup.pool = append(env.rollup.pool, tx)
	block := env.rollup.mine()
	sdk.sync.HandleExternalBlockEvent(block)

	require.NoError(t, sdk.AwaitSynchronised(ctx, time.Second))

	status, err = sdk.GetLocalStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(0), status.SyncedToBlock)
	require.Equal(t, block.NextDataIndex(), status.DataSize)
	require.Equal(t, block.DataRoot, status.DataRoot)
	require.Equal(t, int64(0), status.LatestRollupId)

	// Mined but never delivered.
	env.rollup.mine()
	err = sdk.AwaitSynchronised(ctx, 100*time.Millisecond)
	require.Error(t, err)
	require.True(t, errors.TIMEOUT_ERROR.Is(err))
}
