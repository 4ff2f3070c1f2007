package application

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestRoundUp(t *testing.T) {
	testCases := []struct {
		value    *uint256.Int
		sigFigs  int
		expected uint64
	}{
		{uint256.NewInt(12345), 2, 13000},
		{uint256.NewInt(12000), 2, 12000},
		{uint256.NewInt(99), 1, 100},
		{uint256.NewInt(5), 3, 5},
		{uint256.NewInt(12345), 0, 12345},
		{nil, 2, 0},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, RoundUp(tc.value, tc.sigFigs).Uint64())
	}
}

func TestRequiredFee(t *testing.T) {
	fee := RequiredFee(uint256.NewInt(5), uint256.NewInt(5), 2, 1, 0)
	require.Equal(t, uint64(20), fee.Uint64())

	fee = RequiredFee(uint256.NewInt(12), uint256.NewInt(5), 1, 0, 1)
	require.Equal(t, uint64(20), fee.Uint64())
}

func TestFeeResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("transfer fees without spender", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)

		fees, err := resolver.GetTransferFees(ctx, 0)
		require.NoError(t, err)
		require.Len(t, fees, 2)
		require.Equal(t, uint64(5), fees[0].Value.Uint64())
		require.Equal(t, uint64(15), fees[1].Value.Uint64())

		fees, err = resolver.GetRegisterFees(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(14), fees[0].Value.Uint64())
	})

	t.Run("withdraw fees", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)

		fees, err := resolver.GetWithdrawFees(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, uint64(8), fees[0].Value.Uint64())

		fees, err = resolver.GetWithdrawFees(ctx, 0, WithHighGasWithdraw())
		require.NoError(t, err)
		require.Equal(t, uint64(30), fees[0].Value.Uint64())
	})

	t.Run("transfer fees include merges", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)
		user, _ := env.addUser(t)
		env.addNotes(t, user.Id, 0, 10, 10, 10, 10, 10)

		fees, err := resolver.GetTransferFees(
			ctx, 0, WithSpender(user.Id, uint256.NewInt(30)),
		)
		require.NoError(t, err)
		// 30 + fee needs 5 notes: 3 merges.
		require.Equal(t, uint64(20), fees[0].Value.Uint64())
	})

	t.Run("fee paid in another asset", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)
		user, _ := env.addUser(t)
		env.addNotes(t, user.Id, 1, 30)
		env.addNotes(t, user.Id, 0, 25)

		fees, err := resolver.GetTransferFees(
			ctx, 1, WithSpender(user.Id, uint256.NewInt(30)),
		)
		require.NoError(t, err)
		require.Equal(t, uint32(0), fees[0].AssetId)
		require.Equal(t, uint64(10), fees[0].Value.Uint64())
		require.Equal(t, uint64(20), fees[1].Value.Uint64())

		feeAssetId, err := resolver.FeeAssetId(ctx, 1)
		require.NoError(t, err)
		require.Equal(t, uint32(0), feeAssetId)
	})

	t.Run("insufficient fee", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)
		user, _ := env.addUser(t)
		env.addNotes(t, user.Id, 1, 30)
		env.addNotes(t, user.Id, 0, 3, 4)

		_, err := resolver.GetTransferFees(
			ctx, 1, WithSpender(user.Id, uint256.NewInt(30)),
		)
		require.Error(t, err)
		require.True(t, errors.INSUFFICIENT_FEE.Is(err))

		var typed errors.TypedError[errors.InsufficientFeeMetadata]
		require.ErrorAs(t, err, &typed)
		require.Equal(t, "10", typed.TypedMetadata().Required)
		require.Equal(t, "7", typed.TypedMetadata().Available)
	})

	t.Run("defi fees", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)
		bridge := domain.BridgeCallData{BridgeAddressId: 1, InputAssetIdA: 0, OutputAssetIdA: 1}

		fees, err := resolver.GetDefiFees(ctx, bridge)
		require.NoError(t, err)
		require.Equal(t, uint64(6), fees[0].Value.Uint64())
		require.Equal(t, uint64(12), fees[1].Value.Uint64())

		exact, _ := env.addUser(t)
		env.addNotes(t, exact.Id, 0, 50, 56)
		fees, err = resolver.GetDefiFees(ctx, bridge, WithSpender(exact.Id, uint256.NewInt(100)))
		require.NoError(t, err)
		require.Equal(t, uint64(6), fees[0].Value.Uint64())

		split, _ := env.addUser(t)
		env.addNotes(t, split.Id, 0, 200)
		fees, err = resolver.GetDefiFees(ctx, bridge, WithSpender(split.Id, uint256.NewInt(100)))
		require.NoError(t, err)
		require.Equal(t, uint64(11), fees[0].Value.Uint64())
	})

	t.Run("identical input assets", func(t *testing.T) {
		env := newTestEnv(t)
		resolver := NewFeeResolver(env.rollup, env.picker, 0, time.Minute)
		assetB := uint32(0)
		bridge := domain.BridgeCallData{InputAssetIdA: 0, InputAssetIdB: &assetB, OutputAssetIdA: 1}

		_, err := resolver.GetDefiFees(ctx, bridge)
		require.Error(t, err)
		require.True(t, errors.VALIDATION_ERROR.Is(err))
	})

	t.Run("schedules are cached", func(t *testing.T) {
		env := newTestEnv(t)
		ttl := 50 * time.Millisecond
		resolver := NewFeeResolver(env.rollup, env.picker, 0, ttl)

		feeCalls := func() int {
			env.rollup.lock.Lock()
			defer env.rollup.lock.Unlock()
			return env.rollup.feeCalls
		}

		_, err := resolver.GetDepositFees(ctx, 0)
		require.NoError(t, err)
		_, err = resolver.GetTransferFees(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 1, feeCalls())

		time.Sleep(ttl + 10*time.Millisecond)
		_, err = resolver.GetTransferFees(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, 2, feeCalls())
	})
}
