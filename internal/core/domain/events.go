package domain

import "github.com/holiman/uint256"

type EventType string

const (
	EventTypeUpdatedUsers   EventType = "UPDATED_USERS"
	EventTypeNewUserTx      EventType = "NEW_USER_TX"
	EventTypeBlockProcessed EventType = "BLOCK_PROCESSED"
	EventTypeUpdatedBalance EventType = "UPDATED_BALANCE"
)

var EventTypes = []EventType{
	EventTypeUpdatedUsers,
	EventTypeNewUserTx,
	EventTypeBlockProcessed,
	EventTypeUpdatedBalance,
}

type Event interface {
	GetType() EventType
}

type UsersUpdated struct {
	Type  EventType
	Users []UserId
}

func (e UsersUpdated) GetType() EventType { return EventTypeUpdatedUsers }

type NewUserTx struct {
	Type   EventType
	UserId UserId
	TxId   string
}

func (e NewUserTx) GetType() EventType { return EventTypeNewUserTx }

type BlockProcessed struct {
	Type          EventType
	RollupId      uint32
	SyncedToBlock int64
}

func (e BlockProcessed) GetType() EventType { return EventTypeBlockProcessed }

type BalanceUpdated struct {
	Type    EventType
	UserId  UserId
	AssetId uint32
	Balance *uint256.Int
}

func (e BalanceUpdated) GetType() EventType { return EventTypeUpdatedBalance }
