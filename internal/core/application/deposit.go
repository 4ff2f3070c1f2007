package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// depositFlow is the deposit part of a composition: a deposit proof whose
// public input is funded on L1 by depositor. It runs its own funding state
// machine next to the proof one.
type depositFlow struct {
	composition *PaymentComposition
	ethSigner   ports.EthSigner
	userId      domain.UserId
	signer      ports.Signer
	value       domain.AssetValue
	fee         domain.AssetValue
	depositor   string
	recipient   domain.UserId
	feeInProof  bool

	lock         *sync.Mutex
	fundingState ControllerState
	signature    []byte
}

func newDepositFlow(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	ethSigner ports.EthSigner, value, fee domain.AssetValue, depositor string,
	recipient domain.UserId,
) (*depositFlow, error) {
	if depositor == "" && ethSigner != nil {
		depositor = ethSigner.Address()
	}
	if depositor == "" {
		return nil, validationError("depositor", "Missing depositor address.")
	}
	if recipient == "" {
		recipient = userId
	}
	if value.Value == nil {
		value = domain.ZeroAssetValue(value.AssetId)
	}
	if fee.Value == nil {
		fee = domain.ZeroAssetValue(value.AssetId)
	}
	return &depositFlow{
		composition: composition,
		ethSigner:   ethSigner,
		userId:      userId,
		signer:      signer,
		value:       domain.NewAssetValue(value.AssetId, value.Value),
		fee:         domain.NewAssetValue(fee.AssetId, fee.Value),
		depositor:   depositor,
		recipient:   recipient,
		feeInProof:  fee.AssetId == value.AssetId,
		lock:        &sync.Mutex{},
	}, nil
}

// publicInput is the amount pulled from the depositor's pending funds.
func (d *depositFlow) publicInput() *uint256.Int {
	v := d.value.Value.Clone()
	if d.feeInProof {
		v.Add(v, d.fee.Value)
	}
	return v
}

func (d *depositFlow) steps(
	ctx context.Context, excludePending bool, offset int,
) ([]proofStep, error) {
	fee := domain.ZeroAssetValue(d.value.AssetId)
	if d.feeInProof {
		fee = d.fee
	}
	steps := []proofStep{{
		payment: &ports.PaymentProofRequest{
			UserId:            d.userId,
			ProofId:           domain.ProofIdDeposit,
			AssetId:           d.value.AssetId,
			PublicValue:       d.publicInput(),
			PublicOwner:       d.depositor,
			RecipientValue:    d.value.Value.Clone(),
			Recipient:         d.recipient,
			ChangeValue:       uint256.NewInt(0),
			Fee:               fee,
			ChainOutput:       ports.OutputSlotNone,
			SpendingPublicKey: d.signer.PublicKey(),
		},
		signer: d.signer,
	}}
	if d.feeInProof {
		return steps, nil
	}

	feeSteps, err := d.composition.planFee(
		ctx, d.userId, d.signer, d.fee, excludePending, nil, offset+len(steps),
	)
	if err != nil {
		return nil, err
	}
	return append(steps, feeSteps...), nil
}

func (d *depositFlow) setFundingState(state ControllerState) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.fundingState = state
}

func (d *depositFlow) getFundingState() ControllerState {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.fundingState
}

func (d *depositFlow) requireChain() error {
	if d.composition.chain == nil {
		return stateError(d.getFundingState(), "no chain configured for deposits")
	}
	return nil
}

func (d *depositFlow) getPendingFunds(ctx context.Context) (*uint256.Int, error) {
	if err := d.requireChain(); err != nil {
		return nil, err
	}
	return d.composition.chain.GetUserPendingDeposit(ctx, d.value.AssetId, d.depositor)
}

// depositFundsToContract tops up the depositor's pending funds to the
// public input. It returns an empty hash when nothing is missing.
func (d *depositFlow) depositFundsToContract(ctx context.Context) (string, error) {
	pending, err := d.getPendingFunds(ctx)
	if err != nil {
		return "", err
	}
	required := d.publicInput()
	if pending.Cmp(required) >= 0 {
		return "", nil
	}
	amount := new(uint256.Int).Sub(required, pending)

	d.setFundingState(StateDepositingToContract)
	txHash, err := d.composition.chain.DepositPendingFunds(
		ctx, d.value.AssetId, amount, d.depositor,
	)
	if err != nil {
		d.setFundingState("")
		return "", fmt.Errorf("failed to deposit funds to contract: %w", err)
	}
	log.Infof("deposited %s of asset %d to contract in tx %s", amount.Dec(), d.value.AssetId, txHash)
	return txHash, nil
}

func (d *depositFlow) awaitDepositFundsToContract(
	ctx context.Context, timeout time.Duration,
) error {
	required := d.publicInput()
	err := pollUntil(
		ctx, d.composition.bus, d.composition.pollInterval, timeout, "pending deposit of "+d.depositor,
		func(ctx context.Context) (bool, error) {
			pending, err := d.getPendingFunds(ctx)
			if err != nil {
				return false, err
			}
			return pending.Cmp(required) >= 0, nil
		},
	)
	if err != nil {
		return err
	}
	d.setFundingState("")
	return nil
}

func (d *depositFlow) approveProof(ctx context.Context, txId string) (string, error) {
	if err := d.requireChain(); err != nil {
		return "", err
	}
	d.setFundingState(StateAwaitingApproval)
	txHash, err := d.composition.chain.ApproveProof(ctx, d.depositor, txId)
	if err != nil {
		d.setFundingState("")
		return "", fmt.Errorf("failed to approve proof: %w", err)
	}
	return txHash, nil
}

func (d *depositFlow) isProofApproved(ctx context.Context, txId string) (bool, error) {
	if err := d.requireChain(); err != nil {
		return false, err
	}
	return d.composition.chain.GetProofApprovalStatus(ctx, d.depositor, txId)
}

func (d *depositFlow) awaitApprove(ctx context.Context, txId string, timeout time.Duration) error {
	err := pollUntil(
		ctx, d.composition.bus, d.composition.pollInterval, timeout, txId,
		func(ctx context.Context) (bool, error) {
			return d.isProofApproved(ctx, txId)
		},
	)
	if err != nil {
		return err
	}
	d.setFundingState("")
	return nil
}

// sign signs the deposit tx id with the depositor key, standing in for an
// on-chain approval.
func (d *depositFlow) sign(ctx context.Context, txId string) ([]byte, error) {
	if d.ethSigner == nil {
		return nil, stateError(d.getFundingState(), "no depositor signer")
	}
	signature, err := d.ethSigner.SignMessage(ctx, []byte(txId))
	if err != nil {
		return nil, fmt.Errorf("failed to sign deposit proof: %w", err)
	}
	d.lock.Lock()
	d.signature = signature
	d.lock.Unlock()
	return signature, nil
}

// ready checks the deposit at index i of outputs can be sent: the public
// input is funded and the proof is approved or signed.
func (d *depositFlow) ready(ctx context.Context, outputs []domain.ProofOutput, i int) error {
	if d.composition.chain == nil {
		return nil
	}
	pending, err := d.getPendingFunds(ctx)
	if err != nil {
		return err
	}
	if pending.Cmp(d.publicInput()) < 0 {
		return stateError(
			d.getFundingState(),
			fmt.Sprintf("insufficient pending deposit: %s of %s", pending.Dec(), d.publicInput().Dec()),
		)
	}

	d.lock.Lock()
	signature := d.signature
	d.lock.Unlock()
	if signature != nil {
		outputs[i].Signature = signature
		return nil
	}
	approved, err := d.isProofApproved(ctx, outputs[i].TxId)
	if err != nil {
		return err
	}
	if !approved {
		return stateError(d.getFundingState(), "proof not approved, call approveProof() or sign() first")
	}
	return nil
}

// DepositController moves funds from an L1 account into the rollup.
type DepositController struct {
	tx      *txLifecycle
	deposit *depositFlow
	opts    *controllerOptions

	Value     domain.AssetValue
	Fee       domain.AssetValue
	Depositor string
	Recipient domain.UserId
}

func NewDepositController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	ethSigner ports.EthSigner, value, fee domain.AssetValue, depositor string,
	recipient domain.UserId, opts ...ControllerOption,
) (*DepositController, error) {
	o, err := newControllerOptions(opts)
	if err != nil {
		return nil, err
	}
	if value.IsZero() {
		return nil, validationError("value", "Deposit value must be greater than 0.")
	}
	deposit, err := newDepositFlow(
		composition, userId, signer, ethSigner, value, fee, depositor, recipient,
	)
	if err != nil {
		return nil, err
	}
	return &DepositController{
		tx:        newTxLifecycle(composition, userId),
		deposit:   deposit,
		opts:      o,
		Value:     deposit.value,
		Fee:       deposit.fee,
		Depositor: deposit.depositor,
		Recipient: deposit.recipient,
	}, nil
}

func (c *DepositController) Id() string {
	return c.tx.id
}

// State reports the funding steps while the proof is not sent.
func (c *DepositController) State() ControllerState {
	state := c.tx.getState()
	if state != StateUnstarted && state != StateProofCreated {
		return state
	}
	if funding := c.deposit.getFundingState(); funding != "" {
		return funding
	}
	return state
}

func (c *DepositController) PublicInput() domain.AssetValue {
	return domain.NewAssetValue(c.Value.AssetId, c.deposit.publicInput())
}

func (c *DepositController) GetPendingFunds(ctx context.Context) (*uint256.Int, error) {
	return c.deposit.getPendingFunds(ctx)
}

func (c *DepositController) DepositFundsToContract(ctx context.Context) (string, error) {
	return c.deposit.depositFundsToContract(ctx)
}

func (c *DepositController) AwaitDepositFundsToContract(
	ctx context.Context, timeout time.Duration,
) error {
	return c.deposit.awaitDepositFundsToContract(ctx, timeout)
}

func (c *DepositController) CreateProof(ctx context.Context) error {
	return c.tx.createProof(ctx, func(ctx context.Context) ([]proofStep, int, error) {
		steps, err := c.deposit.steps(ctx, c.opts.excludePending, 0)
		return steps, 0, err
	})
}

func (c *DepositController) depositTxId() (string, error) {
	outputs := c.tx.proofOutputs()
	if len(outputs) == 0 {
		return "", stateError(c.State(), "call createProof() first")
	}
	return outputs[0].TxId, nil
}

func (c *DepositController) ApproveProof(ctx context.Context) (string, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return "", err
	}
	return c.deposit.approveProof(ctx, txId)
}

func (c *DepositController) AwaitApprove(ctx context.Context, timeout time.Duration) error {
	txId, err := c.depositTxId()
	if err != nil {
		return err
	}
	return c.deposit.awaitApprove(ctx, txId, timeout)
}

func (c *DepositController) IsProofApproved(ctx context.Context) (bool, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return false, err
	}
	return c.deposit.isProofApproved(ctx, txId)
}

func (c *DepositController) Sign(ctx context.Context) ([]byte, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return nil, err
	}
	return c.deposit.sign(ctx, txId)
}

func (c *DepositController) Send(ctx context.Context) (string, error) {
	return c.tx.send(ctx, func(ctx context.Context, outputs []domain.ProofOutput) error {
		return c.deposit.ready(ctx, outputs, 0)
	})
}

func (c *DepositController) AwaitSettlement(ctx context.Context, timeout time.Duration) error {
	return c.tx.awaitSettlement(ctx, timeout, StateSettled)
}

func (c *DepositController) Abort() error {
	return c.tx.abort()
}

func (c *DepositController) ProofOutputs() []domain.ProofOutput {
	return c.tx.proofOutputs()
}

func (c *DepositController) TxIds() []string {
	return c.tx.getTxIds()
}
