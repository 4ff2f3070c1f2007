package application

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
)

// TransferController sends private value to another user.
type TransferController struct {
	*paymentController
	Recipient domain.UserId
}

func NewTransferController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	value, fee domain.AssetValue, recipient domain.UserId, opts ...ControllerOption,
) (*TransferController, error) {
	if recipient == "" {
		return nil, validationError("recipient", "Missing recipient.")
	}
	c, err := newPaymentController(composition, userId, signer, value, fee, opts)
	if err != nil {
		return nil, err
	}
	c.intent.proofId = domain.ProofIdSend
	c.intent.recipient = recipient
	return &TransferController{c, recipient}, nil
}

// WithdrawController sends private value out of the rollup to an L1
// address.
type WithdrawController struct {
	*paymentController
	To string
}

func NewWithdrawController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	value, fee domain.AssetValue, to string, opts ...ControllerOption,
) (*WithdrawController, error) {
	if to == "" {
		return nil, validationError("to", "Missing recipient address.")
	}
	c, err := newPaymentController(composition, userId, signer, value, fee, opts)
	if err != nil {
		return nil, err
	}
	c.intent.proofId = domain.ProofIdWithdraw
	c.intent.publicOwner = to
	return &WithdrawController{c, to}, nil
}

// paymentController is a private spend plus, when someone else pays the
// fee or the fee is in another asset, a linked fee-only proof.
type paymentController struct {
	tx       *txLifecycle
	intent   spendIntent
	fee      domain.AssetValue
	feePayer domain.UserId
	feeSign  ports.Signer

	Value domain.AssetValue
	Fee   domain.AssetValue
}

func newPaymentController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	value, fee domain.AssetValue, opts []ControllerOption,
) (*paymentController, error) {
	o, err := newControllerOptions(opts)
	if err != nil {
		return nil, err
	}
	if value.IsZero() {
		return nil, validationError("value", "Payment value must be greater than 0.")
	}
	if fee.Value == nil {
		fee = domain.ZeroAssetValue(fee.AssetId)
	}

	feePayer, feeSign := userId, signer
	if o.feePayer != "" {
		feePayer, feeSign = o.feePayer, o.feePayerSigner
	}
	intentFee := fee
	if fee.AssetId != value.AssetId || feePayer != userId {
		intentFee = domain.ZeroAssetValue(value.AssetId)
	}

	return &paymentController{
		tx: newTxLifecycle(composition, userId),
		intent: spendIntent{
			userId:         userId,
			signer:         signer,
			assetId:        value.AssetId,
			value:          value.Value.Clone(),
			fee:            intentFee,
			excludePending: o.excludePending,
		},
		fee:      fee,
		feePayer: feePayer,
		feeSign:  feeSign,
		Value:    domain.NewAssetValue(value.AssetId, value.Value),
		Fee:      domain.NewAssetValue(fee.AssetId, fee.Value),
	}, nil
}

func (c *paymentController) separateFee() bool {
	return c.fee.AssetId != c.intent.assetId || c.feePayer != c.intent.userId
}

func (c *paymentController) plan(ctx context.Context) ([]proofStep, int, error) {
	steps, err := c.tx.composition.planSpend(ctx, c.intent, 0)
	if err != nil {
		return nil, 0, err
	}
	primary := len(steps) - 1
	if !c.separateFee() {
		return steps, primary, nil
	}

	excluded := make([]string, 0)
	for _, s := range steps {
		for _, n := range s.payment.InputNotes {
			excluded = append(excluded, n.Commitment)
		}
	}
	feeSteps, err := c.tx.composition.planFee(
		ctx, c.feePayer, c.feeSign, c.fee, c.intent.excludePending, excluded, len(steps),
	)
	if err != nil {
		return nil, 0, err
	}
	return append(steps, feeSteps...), primary, nil
}

func (c *paymentController) Id() string {
	return c.tx.id
}

func (c *paymentController) State() ControllerState {
	return c.tx.getState()
}

func (c *paymentController) CreateProof(ctx context.Context) error {
	return c.tx.createProof(ctx, c.plan)
}

func (c *paymentController) Send(ctx context.Context) (string, error) {
	return c.tx.send(ctx, nil)
}

func (c *paymentController) AwaitSettlement(ctx context.Context, timeout time.Duration) error {
	return c.tx.awaitSettlement(ctx, timeout, StateSettled)
}

func (c *paymentController) Abort() error {
	return c.tx.abort()
}

func (c *paymentController) ProofOutputs() []domain.ProofOutput {
	return c.tx.proofOutputs()
}

func (c *paymentController) TxIds() []string {
	return c.tx.getTxIds()
}

// PrivateInput is the value the sender's notes must cover.
func (c *paymentController) PrivateInput() *uint256.Int {
	return c.intent.required()
}
