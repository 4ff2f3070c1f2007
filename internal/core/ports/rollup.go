package ports

import (
	"context"

	"github.com/privrollup/walletd/internal/core/domain"
)

type RollupStatus struct {
	ChainId               int64
	RollupContractAddress string
	NextRollupId          uint32
	DataSize              uint64
	DataRoot              string
}

type RollupProvider interface {
	// SendProofs submits the proofs as one batch. Returned tx ids follow the
	// order of the given proofs.
	SendProofs(ctx context.Context, proofs []domain.ProofOutput) ([]string, error)
	GetBlocks(ctx context.Context, from uint32) ([]domain.Block, error)
	GetTxFees(ctx context.Context, assetId uint32) (*domain.TxFees, error)
	GetDefiFees(ctx context.Context, bridgeCallData domain.BridgeCallData) ([]domain.AssetValue, error)
	GetStatus(ctx context.Context) (*RollupStatus, error)
}

// BlockSource delivers rollup blocks, in order and at least once, to the
// registered handler starting from the given rollup.
type BlockSource interface {
	Start(from uint32, handler func(blocks []domain.Block)) error
	Stop()
}
