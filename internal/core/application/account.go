package application

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
)

// accountController is an account proof whose fee is paid either by a
// linked fee-only proof or by a linked deposit.
type accountController struct {
	tx      *txLifecycle
	request ports.AccountProofRequest
	signer  ports.Signer
	fee     domain.AssetValue
	deposit *depositFlow
	opts    *controllerOptions

	Fee domain.AssetValue
}

func newAccountController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	request ports.AccountProofRequest, fee domain.AssetValue, opts []ControllerOption,
) (*accountController, error) {
	o, err := newControllerOptions(opts)
	if err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, validationError("signer", "Missing signer.")
	}
	if fee.Value == nil {
		fee = domain.ZeroAssetValue(fee.AssetId)
	}
	request.UserId = userId
	request.SpendingPublicKey = signer.PublicKey()
	return &accountController{
		tx:      newTxLifecycle(composition, userId),
		request: request,
		signer:  signer,
		fee:     fee,
		opts:    o,
		Fee:     domain.NewAssetValue(fee.AssetId, fee.Value),
	}, nil
}

func (c *accountController) plan(ctx context.Context) ([]proofStep, int, error) {
	req := c.request
	steps := []proofStep{{account: &req, signer: c.signer}}

	if c.deposit != nil {
		depositSteps, err := c.deposit.steps(ctx, c.opts.excludePending, len(steps))
		if err != nil {
			return nil, 0, err
		}
		return append(steps, depositSteps...), 0, nil
	}

	payer, payerSigner := c.tx.userId, c.signer
	if c.opts.feePayer != "" {
		payer, payerSigner = c.opts.feePayer, c.opts.feePayerSigner
	}
	feeSteps, err := c.tx.composition.planFee(
		ctx, payer, payerSigner, c.fee, c.opts.excludePending, nil, len(steps),
	)
	if err != nil {
		return nil, 0, err
	}
	return append(steps, feeSteps...), 0, nil
}

func (c *accountController) Id() string {
	return c.tx.id
}

func (c *accountController) State() ControllerState {
	state := c.tx.getState()
	if c.deposit == nil || (state != StateUnstarted && state != StateProofCreated) {
		return state
	}
	if funding := c.deposit.getFundingState(); funding != "" {
		return funding
	}
	return state
}

func (c *accountController) CreateProof(ctx context.Context) error {
	return c.tx.createProof(ctx, c.plan)
}

func (c *accountController) Send(ctx context.Context) (string, error) {
	if c.deposit == nil {
		return c.tx.send(ctx, nil)
	}
	return c.tx.send(ctx, func(ctx context.Context, outputs []domain.ProofOutput) error {
		return c.deposit.ready(ctx, outputs, 1)
	})
}

func (c *accountController) AwaitSettlement(ctx context.Context, timeout time.Duration) error {
	return c.tx.awaitSettlement(ctx, timeout, StateSettled)
}

func (c *accountController) Abort() error {
	return c.tx.abort()
}

func (c *accountController) ProofOutputs() []domain.ProofOutput {
	return c.tx.proofOutputs()
}

func (c *accountController) TxIds() []string {
	return c.tx.getTxIds()
}

// AddSigningKeyController authorises up to two new spending keys.
type AddSigningKeyController struct {
	*accountController
}

func NewAddSigningKeyController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	signingKeys []string, fee domain.AssetValue, opts ...ControllerOption,
) (*AddSigningKeyController, error) {
	keys := make([]string, 0, len(signingKeys))
	for _, k := range signingKeys {
		if k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 || len(keys) > 2 {
		return nil, validationError("signing_keys", "Expected one or two signing keys.")
	}
	c, err := newAccountController(composition, userId, signer, ports.AccountProofRequest{
		NewSpendingPublicKey: keys,
	}, fee, opts)
	if err != nil {
		return nil, err
	}
	return &AddSigningKeyController{c}, nil
}

// MigrateAccountController moves an account to a new account key.
type MigrateAccountController struct {
	*accountController
}

func NewMigrateAccountController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	newAccountPublicKey, newSpendingPublicKey string, fee domain.AssetValue,
	opts ...ControllerOption,
) (*MigrateAccountController, error) {
	if newAccountPublicKey == "" {
		return nil, validationError("account_key", "Missing new account key.")
	}
	keys := []string{}
	if newSpendingPublicKey != "" {
		keys = append(keys, newSpendingPublicKey)
	}
	c, err := newAccountController(composition, userId, signer, ports.AccountProofRequest{
		NewAccountPublicKey:  newAccountPublicKey,
		NewSpendingPublicKey: keys,
		Migrate:              true,
	}, fee, opts)
	if err != nil {
		return nil, err
	}
	return &MigrateAccountController{c}, nil
}

// depositAccountController is an account proof paid by a linked deposit.
type depositAccountController struct {
	*accountController
}

func (c *depositAccountController) noDeposit() error {
	if c.deposit == nil {
		return stateError(c.State(), "no deposit in this transaction")
	}
	return nil
}

func (c *depositAccountController) depositTxId() (string, error) {
	if err := c.noDeposit(); err != nil {
		return "", err
	}
	outputs := c.tx.proofOutputs()
	if len(outputs) < 2 {
		return "", stateError(c.State(), "call createProof() first")
	}
	return outputs[1].TxId, nil
}

func (c *depositAccountController) GetPendingFunds(ctx context.Context) (*uint256.Int, error) {
	if err := c.noDeposit(); err != nil {
		return nil, err
	}
	return c.deposit.getPendingFunds(ctx)
}

func (c *depositAccountController) DepositFundsToContract(ctx context.Context) (string, error) {
	if err := c.noDeposit(); err != nil {
		return "", err
	}
	return c.deposit.depositFundsToContract(ctx)
}

func (c *depositAccountController) AwaitDepositFundsToContract(
	ctx context.Context, timeout time.Duration,
) error {
	if err := c.noDeposit(); err != nil {
		return err
	}
	return c.deposit.awaitDepositFundsToContract(ctx, timeout)
}

func (c *depositAccountController) ApproveProof(ctx context.Context) (string, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return "", err
	}
	return c.deposit.approveProof(ctx, txId)
}

func (c *depositAccountController) AwaitApprove(ctx context.Context, timeout time.Duration) error {
	txId, err := c.depositTxId()
	if err != nil {
		return err
	}
	return c.deposit.awaitApprove(ctx, txId, timeout)
}

func (c *depositAccountController) IsProofApproved(ctx context.Context) (bool, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return false, err
	}
	return c.deposit.isProofApproved(ctx, txId)
}

func (c *depositAccountController) Sign(ctx context.Context) ([]byte, error) {
	txId, err := c.depositTxId()
	if err != nil {
		return nil, err
	}
	return c.deposit.sign(ctx, txId)
}

// RegisterController registers an alias and a spending key, funding the
// account with a deposit that also pays the fee.
type RegisterController struct {
	*depositAccountController
	Alias        string
	DepositValue domain.AssetValue
}

func NewRegisterController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	ethSigner ports.EthSigner, alias, accountPublicKey, spendingPublicKey string,
	depositValue, fee domain.AssetValue, depositor string, opts ...ControllerOption,
) (*RegisterController, error) {
	if alias == "" {
		return nil, validationError("alias", "Missing alias.")
	}
	if spendingPublicKey == "" {
		return nil, validationError("spending_key", "Missing spending key.")
	}
	if depositValue.Value == nil {
		depositValue = domain.ZeroAssetValue(fee.AssetId)
	}
	if !depositValue.IsZero() && !fee.IsZero() && depositValue.AssetId != fee.AssetId {
		return nil, validationError("fee", "Fee paying asset must be the deposit asset.")
	}

	c, err := newAccountController(composition, userId, signer, ports.AccountProofRequest{
		Alias:                alias,
		NewAccountPublicKey:  accountPublicKey,
		NewSpendingPublicKey: []string{spendingPublicKey},
		Create:               true,
	}, fee, opts)
	if err != nil {
		return nil, err
	}
	if !depositValue.IsZero() || !c.fee.IsZero() {
		value := domain.NewAssetValue(c.fee.AssetId, depositValue.Value)
		c.deposit, err = newDepositFlow(
			composition, userId, signer, ethSigner, value, c.fee, depositor, userId,
		)
		if err != nil {
			return nil, err
		}
	}
	return &RegisterController{
		&depositAccountController{c}, alias, domain.NewAssetValue(c.fee.AssetId, depositValue.Value),
	}, nil
}

// RecoverAccountController adds a recovered spending key to an account,
// paying the fee with a deposit.
type RecoverAccountController struct {
	*depositAccountController
	Alias string
}

func NewRecoverAccountController(
	composition *PaymentComposition, userId domain.UserId, signer ports.Signer,
	ethSigner ports.EthSigner, alias, recoveredSpendingPublicKey string,
	fee domain.AssetValue, depositor string, opts ...ControllerOption,
) (*RecoverAccountController, error) {
	if recoveredSpendingPublicKey == "" {
		return nil, validationError("spending_key", "Missing recovered spending key.")
	}
	if fee.IsZero() {
		return nil, validationError("fee", "Recovery fee must be greater than 0.")
	}
	c, err := newAccountController(composition, userId, signer, ports.AccountProofRequest{
		Alias:                alias,
		NewSpendingPublicKey: []string{recoveredSpendingPublicKey},
	}, fee, opts)
	if err != nil {
		return nil, err
	}
	c.deposit, err = newDepositFlow(
		composition, userId, signer, ethSigner, domain.ZeroAssetValue(fee.AssetId), c.fee,
		depositor, userId,
	)
	if err != nil {
		return nil, err
	}
	return &RecoverAccountController{&depositAccountController{c}, alias}, nil
}
