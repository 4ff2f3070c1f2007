package domain

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// UserTx is an entry of a user's transaction history.
type UserTx struct {
	TxId        string
	UserId      UserId
	ProofId     ProofId
	Value       AssetValue
	Fee         AssetValue
	PublicOwner string
	Recipient   UserId
	IsSender    bool
	IsRecipient bool
	TxRefNo     uint32
	CreatedAt   int64
	SettledAt   int64
	// Account txs only.
	Alias string
	// DefiDeposit txs only.
	Defi *DefiTx
}

type DefiTx struct {
	BridgeCallData   BridgeCallData
	DepositValue     AssetValue
	InteractionNonce uint32
	IsAsync          bool
	Success          bool
	OutputValueA     *uint256.Int
	OutputValueB     *uint256.Int
	FinalisedAt      int64
	ClaimTxId        string
	ClaimSettledAt   int64
}

func (t UserTx) IsSettled() bool {
	return t.SettledAt > 0
}

func (t UserTx) IsFinalised() bool {
	return t.Defi != nil && t.Defi.FinalisedAt > 0
}

func (t UserTx) String() string {
	// nolint
	b, _ := json.MarshalIndent(t, "", "  ")
	return string(b)
}
