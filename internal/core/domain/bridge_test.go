package domain_test

import (
	"testing"

	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/pkg/errors"
	"github.com/stretchr/testify/require"
)

func u32(v uint32) *uint32 {
	return &v
}

func TestBridgeCallData(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		fixtures := []domain.BridgeCallData{
			{BridgeAddressId: 1, InputAssetIdA: 0, OutputAssetIdA: 1},
			{BridgeAddressId: 7, InputAssetIdA: 0, OutputAssetIdA: 1, AuxData: 1 << 40},
			{
				BridgeAddressId: 2, InputAssetIdA: 1, InputAssetIdB: u32(2),
				OutputAssetIdA: 3, AuxData: 12,
			},
			{
				BridgeAddressId: 3, InputAssetIdA: 4, InputAssetIdB: u32(5),
				OutputAssetIdA: 6, OutputAssetIdB: u32(domain.MaxBridgeAssetId),
				AuxData: ^uint64(0),
			},
		}

		for _, f := range fixtures {
			require.NoError(t, f.Validate())

			decoded, err := domain.BridgeCallDataFromUint256(f.ToUint256())
			require.NoError(t, err)
			require.Equal(t, f, *decoded)

			fromString, err := domain.BridgeCallDataFromString(f.String())
			require.NoError(t, err)
			require.Equal(t, f, *fromString)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		fixtures := []struct {
			data        domain.BridgeCallData
			expectedErr string
		}{
			{
				data: domain.BridgeCallData{
					InputAssetIdA: 1, InputAssetIdB: u32(1), OutputAssetIdA: 2,
				},
				expectedErr: "Identical input assets.",
			},
			{
				data: domain.BridgeCallData{
					InputAssetIdA: 1, OutputAssetIdA: 2, OutputAssetIdB: u32(2),
				},
				expectedErr: "Identical output assets.",
			},
			{
				data: domain.BridgeCallData{
					InputAssetIdA: domain.MaxBridgeAssetId + 1, OutputAssetIdA: 2,
				},
				expectedErr: "out of range",
			},
		}

		for _, f := range fixtures {
			err := f.data.Validate()
			require.Error(t, err)
			require.True(t, errors.VALIDATION_ERROR.Is(err))
			require.Contains(t, err.Error(), f.expectedErr)
		}
	})

	t.Run("asset counts", func(t *testing.T) {
		single := domain.BridgeCallData{InputAssetIdA: 1, OutputAssetIdA: 2}
		require.Equal(t, 1, single.NumInputAssets())
		require.Equal(t, 1, single.NumOutputAssets())
		require.Equal(t, []uint32{1}, single.InputAssetIds())

		double := domain.BridgeCallData{
			InputAssetIdA: 1, InputAssetIdB: u32(3), OutputAssetIdA: 2, OutputAssetIdB: u32(4),
		}
		require.Equal(t, 2, double.NumInputAssets())
		require.Equal(t, 2, double.NumOutputAssets())
		require.Equal(t, []uint32{1, 3}, double.InputAssetIds())
	})
}
