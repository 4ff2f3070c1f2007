package domain

import (
	"fmt"

	"github.com/holiman/uint256"
)

type AssetValue struct {
	AssetId uint32       `json:"assetId"`
	Value   *uint256.Int `json:"value"`
}

func NewAssetValue(assetId uint32, value *uint256.Int) AssetValue {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return AssetValue{AssetId: assetId, Value: value.Clone()}
}

func ZeroAssetValue(assetId uint32) AssetValue {
	return AssetValue{AssetId: assetId, Value: uint256.NewInt(0)}
}

func (a AssetValue) IsZero() bool {
	return a.Value == nil || a.Value.IsZero()
}

func (a AssetValue) String() string {
	v := "0"
	if a.Value != nil {
		v = a.Value.Dec()
	}
	return fmt.Sprintf("%s (asset %d)", v, a.AssetId)
}
