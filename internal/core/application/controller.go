package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type ControllerState string

const (
	StateUnstarted                ControllerState = "UNSTARTED"
	StateDepositingToContract     ControllerState = "DEPOSITING_TO_CONTRACT"
	StateAwaitingApproval         ControllerState = "AWAITING_APPROVAL"
	StateProofCreated             ControllerState = "PROOF_CREATED"
	StateSent                     ControllerState = "SENT"
	StateAwaitingDefiFinalisation ControllerState = "AWAITING_DEFI_FINALISATION"
	StateSettled                  ControllerState = "SETTLED"
	StateAborted                  ControllerState = "ABORTED"
)

// Controller drives one user action from proof creation to settlement.
type Controller interface {
	Id() string
	State() ControllerState
	CreateProof(ctx context.Context) error
	// Send submits the proofs. Once a tx id is returned the controller is
	// SENT, even alongside an error from recording the tx locally.
	Send(ctx context.Context) (string, error)
	// AwaitSettlement waits until every sent proof settles. A zero timeout
	// waits until ctx is done.
	AwaitSettlement(ctx context.Context, timeout time.Duration) error
	// Abort drops the proofs of a controller not sent yet.
	Abort() error
	ProofOutputs() []domain.ProofOutput
	TxIds() []string
}

type ControllerOption func(options *controllerOptions) error

func WithExcludePending() ControllerOption {
	return func(o *controllerOptions) error {
		o.excludePending = true
		return nil
	}
}

// WithFeePaidBy makes another user pay the fee through a separate proof.
func WithFeePaidBy(userId domain.UserId, signer ports.Signer) ControllerOption {
	return func(o *controllerOptions) error {
		if userId == "" || signer == nil {
			return errors.VALIDATION_ERROR.New("missing fee payer")
		}
		o.feePayer = userId
		o.feePayerSigner = signer
		return nil
	}
}

type controllerOptions struct {
	excludePending bool
	feePayer       domain.UserId
	feePayerSigner ports.Signer
}

func newControllerOptions(opts []ControllerOption) (*controllerOptions, error) {
	o := &controllerOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// txLifecycle is the proof state machine shared by every controller.
// Controllers hold one and feed it their composition plan.
type txLifecycle struct {
	id          string
	userId      domain.UserId
	composition *PaymentComposition

	lock    *sync.Mutex
	state   ControllerState
	outputs []domain.ProofOutput
	// primary is the index of the proof whose tx id Send returns.
	primary int
	txIds   []string
}

func newTxLifecycle(composition *PaymentComposition, userId domain.UserId) *txLifecycle {
	return &txLifecycle{
		id:          uuid.NewString(),
		userId:      userId,
		composition: composition,
		lock:        &sync.Mutex{},
		state:       StateUnstarted,
	}
}

func (l *txLifecycle) getState() ControllerState {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.state
}

func (l *txLifecycle) setState(state ControllerState) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.state = state
}

// createProof runs plan then creates its proofs. Controller state changes
// only once every proof exists, and only the first successful call does
// anything.
func (l *txLifecycle) createProof(
	ctx context.Context, plan func(ctx context.Context) ([]proofStep, int, error),
) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.state == StateAborted {
		return stateError(l.state, "controller aborted")
	}
	if l.outputs != nil {
		return nil
	}

	steps, primary, err := plan(ctx)
	if err != nil {
		return err
	}
	outputs, err := l.composition.execute(ctx, steps)
	if err != nil {
		return err
	}

	l.outputs = outputs
	l.primary = primary
	if l.state == StateUnstarted {
		l.state = StateProofCreated
	}
	log.WithField("controller", l.id).Debugf(
		"created %d proof(s) for user %s", len(outputs), l.userId,
	)
	return nil
}

// send submits the proofs unless already sent. ready is checked before
// submission. A tx id returned with an error means the proofs were accepted
// but not recorded locally.
func (l *txLifecycle) send(
	ctx context.Context, ready func(ctx context.Context, outputs []domain.ProofOutput) error,
) (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.outputs == nil {
		return "", stateError(l.state, "call createProof() first")
	}
	if l.txIds != nil {
		return l.txIds[l.primary], nil
	}
	if ready != nil {
		if err := ready(ctx, l.outputs); err != nil {
			return "", err
		}
	}

	// Accepted proofs are final whether or not they were recorded.
	txIds, err := l.composition.send(ctx, l.outputs)
	if txIds == nil {
		return "", err
	}
	for i := range l.outputs {
		l.outputs[i].TxId = txIds[i]
	}
	l.txIds = txIds
	l.state = StateSent
	if err != nil {
		log.WithError(err).WithField("controller", l.id).Errorf(
			"sent tx %s but failed to record it", txIds[l.primary],
		)
		return txIds[l.primary], err
	}
	log.WithField("controller", l.id).Infof("sent tx %s", txIds[l.primary])
	return txIds[l.primary], nil
}

// awaitSettlement waits for every sent tx then moves to next.
func (l *txLifecycle) awaitSettlement(
	ctx context.Context, timeout time.Duration, next ControllerState,
) error {
	txIds := l.getTxIds()
	if txIds == nil {
		return stateError(l.getState(), "call send() first")
	}
	if err := l.composition.awaitSettled(ctx, txIds, timeout); err != nil {
		return err
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	if l.state == StateSent {
		l.state = next
	}
	return nil
}

func (l *txLifecycle) abort() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if l.txIds != nil {
		return stateError(l.state, "transaction already sent")
	}
	l.outputs = nil
	l.state = StateAborted
	return nil
}

func (l *txLifecycle) proofOutputs() []domain.ProofOutput {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]domain.ProofOutput{}, l.outputs...)
}

func (l *txLifecycle) getTxIds() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.txIds == nil {
		return nil
	}
	return append([]string{}, l.txIds...)
}

func stateError(state ControllerState, msg string) error {
	return errors.STATE_ERROR.New("%s", msg).WithMetadata(errors.StateMetadata{
		State: string(state),
	})
}

func validationError(field, msg string) error {
	return errors.VALIDATION_ERROR.New("%s", msg).WithMetadata(errors.ValidationMetadata{
		Field: field,
	})
}
