package badgerdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	dbutil "github.com/privrollup/walletd/internal/infrastructure/db/dbuitl"
	"github.com/timshannon/badgerhold/v4"
)

const txStoreDir = "txs"

type txRepository struct {
	store *badgerhold.Store
}

type txDTO struct {
	TxId        string `badgerhold:"index"`
	UserId      string `badgerhold:"index"`
	ProofId     uint8
	AssetId     uint32
	Value       string
	FeeAssetId  uint32
	Fee         string
	PublicOwner string
	Recipient   string
	IsSender    bool
	IsRecipient bool
	TxRefNo     uint32
	CreatedAt   int64
	SettledAt   int64
	Alias       string
	// Copied out of Defi so it can be queried.
	InteractionNonce uint32
	Defi             *dbutil.DefiRecord
	UpdatedAt        int64
}

func NewTxRepository(config ...interface{}) (domain.TxRepository, error) {
	store, err := openStore(txStoreDir, config...)
	if err != nil {
		return nil, fmt.Errorf("failed to open tx store: %s", err)
	}
	return &txRepository{store}, nil
}

func (r *txRepository) AddTxs(ctx context.Context, txs []domain.UserTx) error {
	for _, tx := range txs {
		dto := toTxDTO(tx)
		if err := upsert(ctx, r.store, txKey(tx.UserId, tx.TxId), dto); err != nil {
			return fmt.Errorf("failed to add tx %s: %w", tx.TxId, err)
		}
	}
	return nil
}

func (r *txRepository) GetTx(
	ctx context.Context, userId domain.UserId, txId string,
) (*domain.UserTx, error) {
	var dto txDTO
	found, err := get(ctx, r.store, txKey(userId, txId), &dto)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return dto.toDomain()
}

func (r *txRepository) GetTxsByTxId(ctx context.Context, txId string) ([]domain.UserTx, error) {
	return r.findTxs(ctx, badgerhold.Where("TxId").Eq(txId).Index("TxId"))
}

func (r *txRepository) GetUserTxs(
	ctx context.Context, userId domain.UserId,
) ([]domain.UserTx, error) {
	return r.findTxs(ctx, badgerhold.Where("UserId").Eq(string(userId)).Index("UserId"))
}

func (r *txRepository) GetUnsettledTxs(
	ctx context.Context, userId domain.UserId,
) ([]domain.UserTx, error) {
	query := badgerhold.Where("UserId").Eq(string(userId)).Index("UserId").
		And("SettledAt").Eq(int64(0))
	return r.findTxs(ctx, query)
}

func (r *txRepository) GetDefiTxsByNonce(
	ctx context.Context, nonce uint32,
) ([]domain.UserTx, error) {
	query := badgerhold.Where("ProofId").Eq(uint8(domain.ProofIdDefiDeposit)).
		And("InteractionNonce").Eq(nonce).
		And("SettledAt").Gt(int64(0))
	return r.findTxs(ctx, query)
}

func (r *txRepository) SettleTxs(ctx context.Context, txIds []string, settledAt int64) error {
	for _, txId := range txIds {
		dtos := make([]txDTO, 0)
		if err := find(ctx, r.store, &dtos, badgerhold.Where("TxId").Eq(txId).Index("TxId")); err != nil {
			return err
		}
		for _, dto := range dtos {
			if dto.SettledAt > 0 {
				continue
			}
			dto.SettledAt = settledAt
			dto.UpdatedAt = time.Now().UnixMilli()
			key := txKey(domain.UserId(dto.UserId), dto.TxId)
			if err := upsert(ctx, r.store, key, dto); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *txRepository) RemoveUserTxs(ctx context.Context, userId domain.UserId) error {
	query := badgerhold.Where("UserId").Eq(string(userId)).Index("UserId")
	return deleteMatching(ctx, r.store, txDTO{}, query)
}

func (r *txRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *txRepository) findTxs(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.UserTx, error) {
	dtos := make([]txDTO, 0)
	if err := find(ctx, r.store, &dtos, query); err != nil {
		return nil, err
	}
	txs := make([]domain.UserTx, 0, len(dtos))
	for _, dto := range dtos {
		tx, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	// Most recent first.
	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].CreatedAt > txs[j].CreatedAt
	})
	return txs, nil
}

func txKey(userId domain.UserId, txId string) string {
	return fmt.Sprintf("%s:%s", userId, txId)
}

func toTxDTO(tx domain.UserTx) txDTO {
	dto := txDTO{
		TxId:        tx.TxId,
		UserId:      string(tx.UserId),
		ProofId:     uint8(tx.ProofId),
		AssetId:     tx.Value.AssetId,
		Value:       dbutil.FormatValue(tx.Value.Value),
		FeeAssetId:  tx.Fee.AssetId,
		Fee:         dbutil.FormatValue(tx.Fee.Value),
		PublicOwner: tx.PublicOwner,
		Recipient:   string(tx.Recipient),
		IsSender:    tx.IsSender,
		IsRecipient: tx.IsRecipient,
		TxRefNo:     tx.TxRefNo,
		CreatedAt:   tx.CreatedAt,
		SettledAt:   tx.SettledAt,
		Alias:       tx.Alias,
		Defi:        dbutil.NewDefiRecord(tx.Defi),
		UpdatedAt:   time.Now().UnixMilli(),
	}
	if tx.Defi != nil {
		dto.InteractionNonce = tx.Defi.InteractionNonce
	}
	return dto
}

func (d txDTO) toDomain() (*domain.UserTx, error) {
	value, err := dbutil.ParseValue(d.Value)
	if err != nil {
		return nil, err
	}
	fee, err := dbutil.ParseValue(d.Fee)
	if err != nil {
		return nil, err
	}
	defi, err := d.Defi.ToDomain()
	if err != nil {
		return nil, err
	}
	return &domain.UserTx{
		TxId:        d.TxId,
		UserId:      domain.UserId(d.UserId),
		ProofId:     domain.ProofId(d.ProofId),
		Value:       domain.AssetValue{AssetId: d.AssetId, Value: value},
		Fee:         domain.AssetValue{AssetId: d.FeeAssetId, Value: fee},
		PublicOwner: d.PublicOwner,
		Recipient:   domain.UserId(d.Recipient),
		IsSender:    d.IsSender,
		IsRecipient: d.IsRecipient,
		TxRefNo:     d.TxRefNo,
		CreatedAt:   d.CreatedAt,
		SettledAt:   d.SettledAt,
		Alias:       d.Alias,
		Defi:        defi,
	}, nil
}
