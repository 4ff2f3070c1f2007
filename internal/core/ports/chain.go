package ports

import (
	"context"

	"github.com/holiman/uint256"
)

type Chain interface {
	DepositPendingFunds(
		ctx context.Context, assetId uint32, amount *uint256.Int, depositor string,
	) (string, error)
	GetUserPendingDeposit(ctx context.Context, assetId uint32, depositor string) (*uint256.Int, error)
	ApproveProof(ctx context.Context, depositor string, txId string) (string, error)
	GetProofApprovalStatus(ctx context.Context, depositor string, txId string) (bool, error)
}

type Signer interface {
	PublicKey() string
	Sign(ctx context.Context, data []byte) ([]byte, error)
}

// EthSigner is the L1 account funding deposits. It signs proof tx ids in
// place of an on-chain approval.
type EthSigner interface {
	Address() string
	SignMessage(ctx context.Context, message []byte) ([]byte, error)
}
