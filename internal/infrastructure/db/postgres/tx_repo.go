package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	dbutil "github.com/privrollup/walletd/internal/infrastructure/db/dbuitl"
	"github.com/privrollup/walletd/internal/infrastructure/db/postgres/sqlc/queries"
)

type txRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewTxRepository(config ...interface{}) (domain.TxRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open tx repository: invalid config, expected db at 0")
	}

	return &txRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *txRepository) AddTxs(ctx context.Context, txs []domain.UserTx) error {
	if len(txs) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		for _, tx := range txs {
			defi, err := dbutil.MarshalDefi(tx.Defi)
			if err != nil {
				return err
			}
			var nonce int64
			if tx.Defi != nil {
				nonce = int64(tx.Defi.InteractionNonce)
			}
			if err := querierWithTx.UpsertTx(ctx, queries.UpsertTxParams{
				TxID:             tx.TxId,
				UserID:           string(tx.UserId),
				ProofID:          int64(tx.ProofId),
				AssetID:          int64(tx.Value.AssetId),
				Value:            dbutil.FormatValue(tx.Value.Value),
				FeeAssetID:       int64(tx.Fee.AssetId),
				Fee:              dbutil.FormatValue(tx.Fee.Value),
				PublicOwner:      tx.PublicOwner,
				Recipient:        string(tx.Recipient),
				IsSender:         tx.IsSender,
				IsRecipient:      tx.IsRecipient,
				TxRefNo:          int64(tx.TxRefNo),
				CreatedAt:        tx.CreatedAt,
				SettledAt:        tx.SettledAt,
				Alias:            tx.Alias,
				InteractionNonce: nonce,
				Defi:             defi,
				UpdatedAt:        now,
			}); err != nil {
				return fmt.Errorf("failed to upsert tx %s: %w", tx.TxId, err)
			}
		}
		return nil
	})
}

func (r *txRepository) GetTx(
	ctx context.Context, userId domain.UserId, txId string,
) (*domain.UserTx, error) {
	row, err := r.querier.SelectTx(ctx, queries.SelectTxParams{
		UserID: string(userId),
		TxID:   txId,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tx: %w", err)
	}
	return toUserTx(row)
}

func (r *txRepository) GetTxsByTxId(ctx context.Context, txId string) ([]domain.UserTx, error) {
	rows, err := r.querier.SelectTxsByTxId(ctx, txId)
	if err != nil {
		return nil, fmt.Errorf("failed to get txs: %w", err)
	}
	return toUserTxs(rows)
}

func (r *txRepository) GetUserTxs(
	ctx context.Context, userId domain.UserId,
) ([]domain.UserTx, error) {
	rows, err := r.querier.SelectUserTxs(ctx, string(userId))
	if err != nil {
		return nil, fmt.Errorf("failed to get user txs: %w", err)
	}
	return toUserTxs(rows)
}

func (r *txRepository) GetUnsettledTxs(
	ctx context.Context, userId domain.UserId,
) ([]domain.UserTx, error) {
	rows, err := r.querier.SelectUnsettledUserTxs(ctx, string(userId))
	if err != nil {
		return nil, fmt.Errorf("failed to get unsettled txs: %w", err)
	}
	return toUserTxs(rows)
}

func (r *txRepository) GetDefiTxsByNonce(
	ctx context.Context, nonce uint32,
) ([]domain.UserTx, error) {
	rows, err := r.querier.SelectDefiTxsByNonce(ctx, queries.SelectDefiTxsByNonceParams{
		ProofID:          int64(domain.ProofIdDefiDeposit),
		InteractionNonce: int64(nonce),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get defi txs: %w", err)
	}
	return toUserTxs(rows)
}

func (r *txRepository) SettleTxs(ctx context.Context, txIds []string, settledAt int64) error {
	if len(txIds) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		for _, txId := range txIds {
			if err := querierWithTx.SettleTx(ctx, queries.SettleTxParams{
				SettledAt: settledAt,
				UpdatedAt: now,
				TxID:      txId,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *txRepository) RemoveUserTxs(ctx context.Context, userId domain.UserId) error {
	return r.querier.DeleteUserTxs(ctx, string(userId))
}

func (r *txRepository) Close() {
	_ = r.db.Close()
}

func toUserTx(row queries.UserTx) (*domain.UserTx, error) {
	value, err := dbutil.ParseValue(row.Value)
	if err != nil {
		return nil, err
	}
	fee, err := dbutil.ParseValue(row.Fee)
	if err != nil {
		return nil, err
	}
	defi, err := dbutil.UnmarshalDefi(row.Defi)
	if err != nil {
		return nil, err
	}
	return &domain.UserTx{
		TxId:        row.TxID,
		UserId:      domain.UserId(row.UserID),
		ProofId:     domain.ProofId(row.ProofID),
		Value:       domain.AssetValue{AssetId: uint32(row.AssetID), Value: value},
		Fee:         domain.AssetValue{AssetId: uint32(row.FeeAssetID), Value: fee},
		PublicOwner: row.PublicOwner,
		Recipient:   domain.UserId(row.Recipient),
		IsSender:    row.IsSender,
		IsRecipient: row.IsRecipient,
		TxRefNo:     uint32(row.TxRefNo),
		CreatedAt:   row.CreatedAt,
		SettledAt:   row.SettledAt,
		Alias:       row.Alias,
		Defi:        defi,
	}, nil
}

func toUserTxs(rows []queries.UserTx) ([]domain.UserTx, error) {
	txs := make([]domain.UserTx, 0, len(rows))
	for _, row := range rows {
		tx, err := toUserTx(row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}
