package ports

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
)

type Circuit string

const (
	CircuitJoinSplit Circuit = "join-split"
	CircuitAccount   Circuit = "account"
)

// OutputSlot marks which output of a join-split can be spent before the
// proof settles.
type OutputSlot uint8

const (
	OutputSlotNone OutputSlot = iota
	OutputSlotRecipient
	OutputSlotChange
)

type PaymentProofRequest struct {
	UserId  domain.UserId
	ProofId domain.ProofId
	AssetId uint32
	// PublicValue is the public input of deposits or the public output of
	// withdrawals.
	PublicValue       *uint256.Int
	PublicOwner       string
	InputNotes        []domain.Note
	RecipientValue    *uint256.Int
	Recipient         domain.UserId
	ChangeValue       *uint256.Int
	Fee               domain.AssetValue
	ChainOutput       OutputSlot
	SpendingPublicKey string
}

type DefiProofRequest struct {
	UserId            domain.UserId
	BridgeCallData    domain.BridgeCallData
	DepositValue      *uint256.Int
	InputNotes        []domain.Note
	Fee               domain.AssetValue
	SpendingPublicKey string
}

type AccountProofRequest struct {
	UserId               domain.UserId
	Alias                string
	SpendingPublicKey    string
	NewAccountPublicKey  string
	NewSpendingPublicKey []string
	Create               bool
	Migrate              bool
}

// ProofInput is the intermediate form of a proof: the data the user must
// sign plus the request it was built from.
type ProofInput struct {
	ProofId     domain.ProofId
	SigningData []byte
	Payment     *PaymentProofRequest
	Defi        *DefiProofRequest
	Account     *AccountProofRequest
}

type ProofCreator interface {
	CreatePaymentProofInput(ctx context.Context, req PaymentProofRequest) (*ProofInput, error)
	CreatePaymentProof(
		ctx context.Context, input ProofInput, signature []byte, txRefNo uint32,
	) (*domain.ProofOutput, error)
	CreateDefiProofInput(ctx context.Context, req DefiProofRequest) (*ProofInput, error)
	CreateDefiProof(
		ctx context.Context, input ProofInput, signature []byte, txRefNo uint32,
	) (*domain.ProofOutput, error)
	CreateAccountProofInput(ctx context.Context, req AccountProofRequest) (*ProofInput, error)
	CreateAccountProof(
		ctx context.Context, input ProofInput, signature []byte, txRefNo uint32,
	) (*domain.ProofOutput, error)
	ComputeProvingKey(ctx context.Context, circuit Circuit) ([]byte, error)
	LoadProvingKey(ctx context.Context, circuit Circuit, key []byte) error
}
