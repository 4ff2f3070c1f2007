package domain

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/pkg/errors"
)

const (
	bridgeAddressIdLen = 32
	bridgeAssetIdLen   = 30
	bridgeBitConfigLen = 32
	bridgeAuxDataLen   = 64

	inputAssetIdAOffset  = bridgeAddressIdLen
	outputAssetIdAOffset = inputAssetIdAOffset + bridgeAssetIdLen
	inputAssetIdBOffset  = outputAssetIdAOffset + bridgeAssetIdLen
	outputAssetIdBOffset = inputAssetIdBOffset + bridgeAssetIdLen
	bitConfigOffset      = outputAssetIdBOffset + bridgeAssetIdLen
	auxDataOffset        = bitConfigOffset + bridgeBitConfigLen

	secondInputInUse  = 1
	secondOutputInUse = 1 << 1

	MaxBridgeAssetId = 1<<bridgeAssetIdLen - 1
)

// BridgeCallData identifies a DeFi interaction: the bridge contract and the
// assets flowing in and out of it.
type BridgeCallData struct {
	BridgeAddressId uint32  `json:"bridgeAddressId"`
	InputAssetIdA   uint32  `json:"inputAssetIdA"`
	InputAssetIdB   *uint32 `json:"inputAssetIdB,omitempty"`
	OutputAssetIdA  uint32  `json:"outputAssetIdA"`
	OutputAssetIdB  *uint32 `json:"outputAssetIdB,omitempty"`
	AuxData         uint64  `json:"auxData"`
}

func NewBridgeCallData(
	bridgeAddressId, inputAssetIdA, outputAssetIdA uint32,
	inputAssetIdB, outputAssetIdB *uint32, auxData uint64,
) (*BridgeCallData, error) {
	b := &BridgeCallData{
		BridgeAddressId: bridgeAddressId,
		InputAssetIdA:   inputAssetIdA,
		InputAssetIdB:   inputAssetIdB,
		OutputAssetIdA:  outputAssetIdA,
		OutputAssetIdB:  outputAssetIdB,
		AuxData:         auxData,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b BridgeCallData) Validate() error {
	if b.InputAssetIdB != nil && *b.InputAssetIdB == b.InputAssetIdA {
		return errors.VALIDATION_ERROR.New("Identical input assets.").
			WithMetadata(errors.ValidationMetadata{Field: "inputAssetIdB"})
	}
	if b.OutputAssetIdB != nil && *b.OutputAssetIdB == b.OutputAssetIdA {
		return errors.VALIDATION_ERROR.New("Identical output assets.").
			WithMetadata(errors.ValidationMetadata{Field: "outputAssetIdB"})
	}
	for _, id := range b.assetIds() {
		if id > MaxBridgeAssetId {
			return errors.VALIDATION_ERROR.New("Asset id %d out of range.", id).
				WithMetadata(errors.ValidationMetadata{Field: "assetId"})
		}
	}
	return nil
}

func (b BridgeCallData) NumInputAssets() int {
	if b.InputAssetIdB != nil {
		return 2
	}
	return 1
}

func (b BridgeCallData) NumOutputAssets() int {
	if b.OutputAssetIdB != nil {
		return 2
	}
	return 1
}

func (b BridgeCallData) InputAssetIds() []uint32 {
	if b.InputAssetIdB != nil {
		return []uint32{b.InputAssetIdA, *b.InputAssetIdB}
	}
	return []uint32{b.InputAssetIdA}
}

func (b BridgeCallData) assetIds() []uint32 {
	ids := b.InputAssetIds()
	ids = append(ids, b.OutputAssetIdA)
	if b.OutputAssetIdB != nil {
		ids = append(ids, *b.OutputAssetIdB)
	}
	return ids
}

func (b BridgeCallData) bitConfig() uint64 {
	var config uint64
	if b.InputAssetIdB != nil {
		config |= secondInputInUse
	}
	if b.OutputAssetIdB != nil {
		config |= secondOutputInUse
	}
	return config
}

// ToUint256 packs the call data into a single 256-bit word.
func (b BridgeCallData) ToUint256() *uint256.Int {
	word := uint256.NewInt(uint64(b.BridgeAddressId))
	orShifted(word, uint64(b.InputAssetIdA), inputAssetIdAOffset)
	orShifted(word, uint64(b.OutputAssetIdA), outputAssetIdAOffset)
	if b.InputAssetIdB != nil {
		orShifted(word, uint64(*b.InputAssetIdB), inputAssetIdBOffset)
	}
	if b.OutputAssetIdB != nil {
		orShifted(word, uint64(*b.OutputAssetIdB), outputAssetIdBOffset)
	}
	orShifted(word, b.bitConfig(), bitConfigOffset)
	orShifted(word, b.AuxData, auxDataOffset)
	return word
}

func (b BridgeCallData) String() string {
	return b.ToUint256().Hex()
}

func BridgeCallDataFromUint256(word *uint256.Int) (*BridgeCallData, error) {
	if word == nil {
		return nil, fmt.Errorf("missing bridge call data")
	}
	b := &BridgeCallData{
		BridgeAddressId: uint32(extract(word, 0, bridgeAddressIdLen)),
		InputAssetIdA:   uint32(extract(word, inputAssetIdAOffset, bridgeAssetIdLen)),
		OutputAssetIdA:  uint32(extract(word, outputAssetIdAOffset, bridgeAssetIdLen)),
		AuxData:         extract(word, auxDataOffset, bridgeAuxDataLen),
	}
	config := extract(word, bitConfigOffset, bridgeBitConfigLen)
	if config&secondInputInUse != 0 {
		id := uint32(extract(word, inputAssetIdBOffset, bridgeAssetIdLen))
		b.InputAssetIdB = &id
	}
	if config&secondOutputInUse != 0 {
		id := uint32(extract(word, outputAssetIdBOffset, bridgeAssetIdLen))
		b.OutputAssetIdB = &id
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func BridgeCallDataFromString(s string) (*BridgeCallData, error) {
	word, err := uint256.FromHex(s)
	if err != nil {
		word, err = uint256.FromDecimal(s)
		if err != nil {
			return nil, fmt.Errorf("invalid bridge call data %s", s)
		}
	}
	return BridgeCallDataFromUint256(word)
}

func orShifted(word *uint256.Int, value uint64, offset uint) {
	shifted := new(uint256.Int).Lsh(uint256.NewInt(value), offset)
	word.Or(word, shifted)
}

func extract(word *uint256.Int, offset, length uint) uint64 {
	shifted := new(uint256.Int).Rsh(word, offset)
	mask := new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), length), uint256.NewInt(1))
	return shifted.And(shifted, mask).Uint64()
}
