package dbutil

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
)

// FormatValue encodes a value as a decimal string, the storage format of
// every amount column.
func FormatValue(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func ParseValue(s string) (*uint256.Int, error) {
	if s == "" {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid stored value %q: %w", s, err)
	}
	return v, nil
}

// ParseOptionalValue returns nil for empty strings.
func ParseOptionalValue(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	return ParseValue(s)
}

func FormatOptionalValue(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

// DefiRecord is the flat form of domain.DefiTx stored as a JSON column.
type DefiRecord struct {
	BridgeCallData   string `json:"bridgeCallData"`
	DepositAssetId   uint32 `json:"depositAssetId"`
	DepositValue     string `json:"depositValue"`
	InteractionNonce uint32 `json:"interactionNonce"`
	IsAsync          bool   `json:"isAsync,omitempty"`
	Success          bool   `json:"success,omitempty"`
	OutputValueA     string `json:"outputValueA,omitempty"`
	OutputValueB     string `json:"outputValueB,omitempty"`
	FinalisedAt      int64  `json:"finalisedAt,omitempty"`
	ClaimTxId        string `json:"claimTxId,omitempty"`
	ClaimSettledAt   int64  `json:"claimSettledAt,omitempty"`
}

func NewDefiRecord(defi *domain.DefiTx) *DefiRecord {
	if defi == nil {
		return nil
	}
	return &DefiRecord{
		BridgeCallData:   defi.BridgeCallData.String(),
		DepositAssetId:   defi.DepositValue.AssetId,
		DepositValue:     FormatValue(defi.DepositValue.Value),
		InteractionNonce: defi.InteractionNonce,
		IsAsync:          defi.IsAsync,
		Success:          defi.Success,
		OutputValueA:     FormatOptionalValue(defi.OutputValueA),
		OutputValueB:     FormatOptionalValue(defi.OutputValueB),
		FinalisedAt:      defi.FinalisedAt,
		ClaimTxId:        defi.ClaimTxId,
		ClaimSettledAt:   defi.ClaimSettledAt,
	}
}

func (r *DefiRecord) ToDomain() (*domain.DefiTx, error) {
	if r == nil {
		return nil, nil
	}
	bcd, err := domain.BridgeCallDataFromString(r.BridgeCallData)
	if err != nil {
		return nil, err
	}
	deposit, err := ParseValue(r.DepositValue)
	if err != nil {
		return nil, err
	}
	outputA, err := ParseOptionalValue(r.OutputValueA)
	if err != nil {
		return nil, err
	}
	outputB, err := ParseOptionalValue(r.OutputValueB)
	if err != nil {
		return nil, err
	}
	return &domain.DefiTx{
		BridgeCallData:   *bcd,
		DepositValue:     domain.AssetValue{AssetId: r.DepositAssetId, Value: deposit},
		InteractionNonce: r.InteractionNonce,
		IsAsync:          r.IsAsync,
		Success:          r.Success,
		OutputValueA:     outputA,
		OutputValueB:     outputB,
		FinalisedAt:      r.FinalisedAt,
		ClaimTxId:        r.ClaimTxId,
		ClaimSettledAt:   r.ClaimSettledAt,
	}, nil
}

// MarshalDefi encodes the defi part of a tx, empty when missing.
func MarshalDefi(defi *domain.DefiTx) (string, error) {
	if defi == nil {
		return "", nil
	}
	b, err := json.Marshal(NewDefiRecord(defi))
	if err != nil {
		return "", fmt.Errorf("failed to encode defi tx: %w", err)
	}
	return string(b), nil
}

func UnmarshalDefi(s string) (*domain.DefiTx, error) {
	if s == "" {
		return nil, nil
	}
	var record DefiRecord
	if err := json.Unmarshal([]byte(s), &record); err != nil {
		return nil, fmt.Errorf("failed to decode defi tx: %w", err)
	}
	return record.ToDomain()
}
