package domain

type TxType uint8

const (
	TxTypeDeposit TxType = iota
	TxTypeTransfer
	TxTypeWithdrawToWallet
	TxTypeWithdrawHighGas
	TxTypeAccount
	TxTypeDefiDeposit
	TxTypeDefiClaim
)

func (t TxType) String() string {
	switch t {
	case TxTypeDeposit:
		return "DEPOSIT"
	case TxTypeTransfer:
		return "TRANSFER"
	case TxTypeWithdrawToWallet:
		return "WITHDRAW_TO_WALLET"
	case TxTypeWithdrawHighGas:
		return "WITHDRAW_HIGH_GAS"
	case TxTypeAccount:
		return "ACCOUNT"
	case TxTypeDefiDeposit:
		return "DEFI_DEPOSIT"
	case TxTypeDefiClaim:
		return "DEFI_CLAIM"
	default:
		return "UNKNOWN"
	}
}

type TxSettlementTime uint8

const (
	TxSettlementNextRollup TxSettlementTime = iota
	TxSettlementInstant
)

type DefiSettlementTime uint8

const (
	DefiSettlementDeadline DefiSettlementTime = iota
	DefiSettlementNextRollup
	DefiSettlementInstant
)

// TxFees is the fee schedule of one asset as published by the rollup
// provider. Fees is indexed by TxType then by settlement speed.
type TxFees struct {
	AssetId    uint32
	FeeAssetId uint32
	Fees       [][]AssetValue
}

func (f TxFees) For(txType TxType) []AssetValue {
	if int(txType) >= len(f.Fees) {
		return nil
	}
	return f.Fees[txType]
}
