package application

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
)

// DefiController deposits one or two assets into a bridge interaction.
// Inputs of the defi proof must match the deposit exactly, so a join-split
// producing the exact note is prepended whenever no single note fits.
type DefiController struct {
	tx     *txLifecycle
	signer ports.Signer
	opts   *controllerOptions

	BridgeCallData domain.BridgeCallData
	DepositValue   domain.AssetValue
	Fee            domain.AssetValue
}

func NewDefiController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	bridgeCallData domain.BridgeCallData, depositValue, fee domain.AssetValue,
	opts ...ControllerOption,
) (*DefiController, error) {
	if err := bridgeCallData.Validate(); err != nil {
		return nil, err
	}
	if depositValue.IsZero() {
		return nil, validationError("deposit_value", "Deposit value must be greater than 0.")
	}
	if depositValue.AssetId != bridgeCallData.InputAssetIdA {
		return nil, validationError("deposit_value", "Incorrect deposit asset.")
	}
	if fee.Value == nil {
		fee = domain.ZeroAssetValue(bridgeCallData.InputAssetIdA)
	}
	if fee.AssetId != bridgeCallData.InputAssetIdA {
		return nil, validationError("fee", "Fee paying asset must be the first input asset.")
	}
	o, err := newControllerOptions(opts)
	if err != nil {
		return nil, err
	}
	if o.feePayer != "" && o.feePayer != userId {
		return nil, validationError("fee", "Defi fees can't be paid by another user.")
	}

	return &DefiController{
		tx:             newTxLifecycle(composition, userId),
		signer:         signer,
		opts:           o,
		BridgeCallData: bridgeCallData,
		DepositValue:   domain.NewAssetValue(depositValue.AssetId, depositValue.Value),
		Fee:            domain.NewAssetValue(fee.AssetId, fee.Value),
	}, nil
}

func (c *DefiController) plan(ctx context.Context) ([]proofStep, int, error) {
	composition := c.tx.composition
	userId := c.tx.userId
	bcd := c.BridgeCallData

	// The fee-paying asset A absorbs the fee, asset B covers the deposit only.
	requiredA := new(uint256.Int).Add(c.DepositValue.Value, c.Fee.Value)

	req := &ports.DefiProofRequest{
		UserId:            userId,
		BridgeCallData:    bcd,
		DepositValue:      c.DepositValue.Value.Clone(),
		Fee:               c.Fee,
		SpendingPublicKey: c.signer.PublicKey(),
	}

	if bcd.InputAssetIdB == nil {
		notes, err := composition.picker.RequireNotes(
			ctx, userId, bcd.InputAssetIdA, requiredA,
			WithExcludePendingNotes(c.opts.excludePending),
		)
		if err != nil {
			return nil, 0, err
		}
		if len(notes) <= domain.MaxNotesPerProof && domain.SumNotes(notes).Eq(requiredA) {
			req.InputNotes = notes
			return []proofStep{{defi: req, signer: c.signer}}, 0, nil
		}

		intent := exactNoteIntent(userId, c.signer, bcd.InputAssetIdA, requiredA)
		steps := composition.spendNotes(intent, notes, 0)
		steps = append(steps, proofStep{
			defi: req, chainFrom: []int{len(steps) - 1}, signer: c.signer,
		})
		return steps, len(steps) - 1, nil
	}

	steps := make([]proofStep, 0)
	chainFrom := make([]int, 0)
	inputs := make([]domain.Note, 0, 2)
	for _, input := range []struct {
		assetId uint32
		value   *uint256.Int
	}{
		{bcd.InputAssetIdA, requiredA},
		{*bcd.InputAssetIdB, c.DepositValue.Value},
	} {
		exactSteps, note, err := composition.planExactNote(
			ctx, userId, c.signer, input.assetId, input.value, c.opts.excludePending, len(steps),
		)
		if err != nil {
			return nil, 0, err
		}
		if note != nil {
			inputs = append(inputs, *note)
			continue
		}
		steps = append(steps, exactSteps...)
		chainFrom = append(chainFrom, len(steps)-1)
	}
	req.InputNotes = inputs
	steps = append(steps, proofStep{defi: req, chainFrom: chainFrom, signer: c.signer})
	return steps, len(steps) - 1, nil
}

func exactNoteIntent(
	userId domain.UserId, signer ports.Signer, assetId uint32, value *uint256.Int,
) spendIntent {
	return spendIntent{
		userId:      userId,
		signer:      signer,
		proofId:     domain.ProofIdSend,
		assetId:     assetId,
		value:       value,
		fee:         domain.ZeroAssetValue(assetId),
		recipient:   userId,
		chainOutput: ports.OutputSlotRecipient,
	}
}

func (c *DefiController) Id() string {
	return c.tx.id
}

func (c *DefiController) State() ControllerState {
	return c.tx.getState()
}

func (c *DefiController) CreateProof(ctx context.Context) error {
	return c.tx.createProof(ctx, c.plan)
}

func (c *DefiController) Send(ctx context.Context) (string, error) {
	return c.tx.send(ctx, nil)
}

// AwaitSettlement waits for the deposit to settle. The interaction itself
// completes later, see AwaitDefiFinalisation.
func (c *DefiController) AwaitSettlement(ctx context.Context, timeout time.Duration) error {
	return c.tx.awaitSettlement(ctx, timeout, StateAwaitingDefiFinalisation)
}

// AwaitDefiFinalisation waits until the bridge interaction of the deposit
// has a result.
func (c *DefiController) AwaitDefiFinalisation(ctx context.Context, timeout time.Duration) error {
	return c.awaitDefiTx(ctx, timeout, func(tx *domain.UserTx) bool {
		return tx.IsFinalised()
	})
}

// AwaitDefiSettlement waits until the claim of the interaction outputs
// settles.
func (c *DefiController) AwaitDefiSettlement(ctx context.Context, timeout time.Duration) error {
	if err := c.awaitDefiTx(ctx, timeout, func(tx *domain.UserTx) bool {
		return tx.Defi != nil && tx.Defi.ClaimSettledAt > 0
	}); err != nil {
		return err
	}
	c.tx.setState(StateSettled)
	return nil
}

func (c *DefiController) awaitDefiTx(
	ctx context.Context, timeout time.Duration, done func(tx *domain.UserTx) bool,
) error {
	txIds := c.tx.getTxIds()
	if txIds == nil {
		return stateError(c.State(), "call send() first")
	}
	txId := txIds[len(txIds)-1]
	composition := c.tx.composition
	return pollUntil(ctx, composition.bus, composition.pollInterval, timeout, txId,
		func(ctx context.Context) (bool, error) {
			tx, err := composition.repoManager.Txs().GetTx(ctx, c.tx.userId, txId)
			if err != nil {
				return false, err
			}
			return tx != nil && done(tx), nil
		},
	)
}

func (c *DefiController) Abort() error {
	return c.tx.abort()
}

func (c *DefiController) ProofOutputs() []domain.ProofOutput {
	return c.tx.proofOutputs()
}

func (c *DefiController) TxIds() []string {
	return c.tx.getTxIds()
}
