package domain

import "context"

type TxRepository interface {
	AddTxs(ctx context.Context, txs []UserTx) error
	GetTx(ctx context.Context, userId UserId, txId string) (*UserTx, error)
	GetTxsByTxId(ctx context.Context, txId string) ([]UserTx, error)
	GetUserTxs(ctx context.Context, userId UserId) ([]UserTx, error)
	GetUnsettledTxs(ctx context.Context, userId UserId) ([]UserTx, error)
	// GetDefiTxsByNonce returns the defi deposits of the interaction with the
	// given nonce.
	GetDefiTxsByNonce(ctx context.Context, nonce uint32) ([]UserTx, error)
	SettleTxs(ctx context.Context, txIds []string, settledAt int64) error
	RemoveUserTxs(ctx context.Context, userId UserId) error
	Close()
}
