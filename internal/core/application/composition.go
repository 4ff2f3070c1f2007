package application

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// worldStateLock is the named lock every writer of the shared note
// database takes.
const worldStateLock = "walletd:world-state"

// proofStep is one proof of a composition. chainFrom lists the earlier
// steps whose spendable-before-settlement output is appended to the inputs
// of this one.
type proofStep struct {
	payment   *ports.PaymentProofRequest
	defi      *ports.DefiProofRequest
	account   *ports.AccountProofRequest
	chainFrom []int
	signer    ports.Signer
}

func (s proofStep) proofId() domain.ProofId {
	switch {
	case s.payment != nil:
		return s.payment.ProofId
	case s.defi != nil:
		return domain.ProofIdDefiDeposit
	default:
		return domain.ProofIdAccount
	}
}

// spendIntent describes a private payment out of a user's notes.
type spendIntent struct {
	userId         domain.UserId
	signer         ports.Signer
	proofId        domain.ProofId
	assetId        uint32
	value          *uint256.Int
	fee            domain.AssetValue
	recipient      domain.UserId
	publicOwner    string
	chainOutput    ports.OutputSlot
	excludePending bool
	excludedNotes  []string
}

// required is the value the picked notes must cover.
func (i spendIntent) required() *uint256.Int {
	required := i.value.Clone()
	if i.fee.AssetId == i.assetId && i.fee.Value != nil {
		required.Add(required, i.fee.Value)
	}
	return required
}

// PaymentComposition turns intents into ordered proof steps, builds and
// signs the proofs, and sends them as one batch. Every controller delegates
// to it.
type PaymentComposition struct {
	repoManager  ports.RepoManager
	picker       *NotePicker
	prover       ports.ProofCreator
	rollup       ports.RollupProvider
	chain        ports.Chain
	locker       ports.Locker
	bus          ports.EventBus
	metrics      *metrics
	pollInterval time.Duration
}

func NewPaymentComposition(
	repoManager ports.RepoManager, picker *NotePicker, prover ports.ProofCreator,
	rollup ports.RollupProvider, chain ports.Chain, locker ports.Locker, bus ports.EventBus,
	pollInterval time.Duration,
) *PaymentComposition {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &PaymentComposition{
		repoManager:  repoManager,
		picker:       picker,
		prover:       prover,
		rollup:       rollup,
		chain:        chain,
		locker:       locker,
		bus:          bus,
		metrics:      newMetrics(),
		pollInterval: pollInterval,
	}
}

// planSpend returns the steps paying intent: the merges needed to bring
// the inputs down to MaxNotesPerProof notes, then the payment itself.
func (c *PaymentComposition) planSpend(
	ctx context.Context, intent spendIntent, offset int,
) ([]proofStep, error) {
	notes, err := c.picker.RequireNotes(
		ctx, intent.userId, intent.assetId, intent.required(),
		WithExcludePendingNotes(intent.excludePending), WithExcludedNotes(intent.excludedNotes...),
	)
	if err != nil {
		return nil, err
	}
	return c.spendNotes(intent, notes, offset), nil
}

func (c *PaymentComposition) spendNotes(
	intent spendIntent, notes []domain.Note, offset int,
) []proofStep {
	steps, inputs, chainFrom := mergeSteps(intent, notes, offset)

	change := domain.SumNotes(notes)
	change.Sub(change, intent.required())

	req := &ports.PaymentProofRequest{
		UserId:            intent.userId,
		ProofId:           intent.proofId,
		AssetId:           intent.assetId,
		InputNotes:        inputs,
		ChangeValue:       change,
		Fee:               intent.fee,
		ChainOutput:       intent.chainOutput,
		SpendingPublicKey: intent.signer.PublicKey(),
		RecipientValue:    uint256.NewInt(0),
		Recipient:         intent.userId,
	}
	switch intent.proofId {
	case domain.ProofIdWithdraw:
		req.PublicValue = intent.value.Clone()
		req.PublicOwner = intent.publicOwner
	default:
		req.RecipientValue = intent.value.Clone()
		if intent.recipient != "" {
			req.Recipient = intent.recipient
		}
	}

	return append(steps, proofStep{payment: req, chainFrom: chainFrom, signer: intent.signer})
}

// mergeSteps chains 0-fee join-splits, each spending the previous merged
// note plus the next one, until at most MaxNotesPerProof inputs are left.
// It returns the steps plus the inputs and chain link of the final proof.
func mergeSteps(
	intent spendIntent, notes []domain.Note, offset int,
) ([]proofStep, []domain.Note, []int) {
	if len(notes) <= domain.MaxNotesPerProof {
		return nil, notes, nil
	}

	steps := make([]proofStep, 0, numMergesFor(len(notes)))
	merged := domain.SumNotes(notes[:2])
	steps = append(steps, mergeStep(intent, notes[:2], merged, nil))
	for i := 2; i < len(notes)-1; i++ {
		merged = new(uint256.Int).Add(merged, notes[i].Value)
		steps = append(steps, mergeStep(
			intent, []domain.Note{notes[i]}, merged, []int{offset + len(steps) - 1},
		))
	}
	return steps, []domain.Note{notes[len(notes)-1]}, []int{offset + len(steps) - 1}
}

func mergeStep(
	intent spendIntent, inputs []domain.Note, merged *uint256.Int, chainFrom []int,
) proofStep {
	return proofStep{
		payment: &ports.PaymentProofRequest{
			UserId:            intent.userId,
			ProofId:           domain.ProofIdSend,
			AssetId:           intent.assetId,
			InputNotes:        inputs,
			RecipientValue:    uint256.NewInt(0),
			Recipient:         intent.userId,
			ChangeValue:       merged.Clone(),
			Fee:               domain.ZeroAssetValue(intent.assetId),
			ChainOutput:       ports.OutputSlotChange,
			SpendingPublicKey: intent.signer.PublicKey(),
		},
		chainFrom: chainFrom,
		signer:    intent.signer,
	}
}

// planExactNote returns the steps producing one note worth exactly value
// that the next proof can spend before settlement. No step is needed when
// a single note already matches.
func (c *PaymentComposition) planExactNote(
	ctx context.Context, userId domain.UserId, signer ports.Signer, assetId uint32,
	value *uint256.Int, excludePending bool, offset int,
) ([]proofStep, *domain.Note, error) {
	notes, err := c.picker.RequireNotes(
		ctx, userId, assetId, value, WithExcludePendingNotes(excludePending),
	)
	if err != nil {
		return nil, nil, err
	}
	if len(notes) == 1 && notes[0].Value.Eq(value) {
		return nil, &notes[0], nil
	}
	intent := exactNoteIntent(userId, signer, assetId, value)
	return c.spendNotes(intent, notes, offset), nil, nil
}

// planFee returns the 0-value transfer paying a fee out of the payer's notes.
func (c *PaymentComposition) planFee(
	ctx context.Context, payer domain.UserId, signer ports.Signer, fee domain.AssetValue,
	excludePending bool, excludedNotes []string, offset int,
) ([]proofStep, error) {
	if fee.IsZero() {
		return nil, nil
	}
	return c.planSpend(ctx, spendIntent{
		userId:         payer,
		signer:         signer,
		proofId:        domain.ProofIdSend,
		assetId:        fee.AssetId,
		value:          uint256.NewInt(0),
		fee:            fee,
		recipient:      payer,
		excludePending: excludePending,
		excludedNotes:  excludedNotes,
	}, offset)
}

// execute creates the proofs of steps in order. Nothing is returned unless
// every proof succeeds. Proofs of a multi-step composition share a random
// non-zero txRefNo, a lone proof gets 0.
func (c *PaymentComposition) execute(
	ctx context.Context, steps []proofStep,
) ([]domain.ProofOutput, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("nothing to prove")
	}
	ctx, span := tracer.Start(ctx, "composition.execute", trace.WithAttributes(
		attribute.Int("steps", len(steps)),
	))
	defer span.End()

	var txRefNo uint32
	if len(steps) > 1 {
		var err error
		if txRefNo, err = newTxRefNo(); err != nil {
			return nil, err
		}
	}

	outputs := make([]domain.ProofOutput, 0, len(steps))
	for i, step := range steps {
		chained := make([]domain.Note, 0, len(step.chainFrom))
		for _, from := range step.chainFrom {
			if from < 0 || from >= len(outputs) {
				return nil, fmt.Errorf("step %d chains from unknown step %d", i, from)
			}
			note := outputs[from].ChainedOutput()
			if note == nil {
				return nil, fmt.Errorf("step %d has no spendable output for step %d", from, i)
			}
			chained = append(chained, *note)
		}

		output, err := c.prove(ctx, step, chained, txRefNo)
		if err != nil {
			err = fmt.Errorf("failed to create %s proof: %w", step.proofId(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "proof failed")
			return nil, err
		}
		c.metrics.proofCreated(ctx, step.proofId().String())
		outputs = append(outputs, *output)
	}
	log.Debugf("created %d proof(s) with tx ref %d", len(outputs), txRefNo)
	return outputs, nil
}

func (c *PaymentComposition) prove(
	ctx context.Context, step proofStep, chained []domain.Note, txRefNo uint32,
) (*domain.ProofOutput, error) {
	var (
		input *ports.ProofInput
		err   error
	)
	switch {
	case step.payment != nil:
		req := *step.payment
		req.InputNotes = append(append([]domain.Note{}, chained...), req.InputNotes...)
		input, err = c.prover.CreatePaymentProofInput(ctx, req)
	case step.defi != nil:
		req := *step.defi
		req.InputNotes = defiInputs(
			req.BridgeCallData, append(append([]domain.Note{}, req.InputNotes...), chained...),
		)
		input, err = c.prover.CreateDefiProofInput(ctx, req)
	case step.account != nil:
		input, err = c.prover.CreateAccountProofInput(ctx, *step.account)
	default:
		return nil, fmt.Errorf("empty proof step")
	}
	if err != nil {
		return nil, err
	}

	signature, err := step.signer.Sign(ctx, input.SigningData)
	if err != nil {
		return nil, fmt.Errorf("failed to sign proof input: %w", err)
	}

	switch {
	case step.payment != nil:
		return c.prover.CreatePaymentProof(ctx, *input, signature, txRefNo)
	case step.defi != nil:
		return c.prover.CreateDefiProof(ctx, *input, signature, txRefNo)
	default:
		return c.prover.CreateAccountProof(ctx, *input, signature, txRefNo)
	}
}

// send submits outputs as one batch and records them locally: outputs
// owned by local users become pending notes, inputs are nullified and the
// history entries of local users are stored. Tx ids are returned as soon as
// the rollup accepts the batch, along with any error recording it.
func (c *PaymentComposition) send(
	ctx context.Context, outputs []domain.ProofOutput,
) ([]string, error) {
	ctx, span := tracer.Start(ctx, "composition.send", trace.WithAttributes(
		attribute.Int("proofs", len(outputs)),
	))
	defer span.End()

	txIds, err := c.rollup.SendProofs(ctx, outputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		return nil, fmt.Errorf("failed to send proofs: %w", err)
	}
	if len(txIds) != len(outputs) {
		return nil, fmt.Errorf("got %d tx ids for %d proofs", len(txIds), len(outputs))
	}

	if err := c.record(ctx, outputs, txIds); err != nil {
		span.RecordError(err)
		return txIds, err
	}
	return txIds, nil
}

func (c *PaymentComposition) record(
	ctx context.Context, outputs []domain.ProofOutput, txIds []string,
) error {
	guard, err := c.locker.Lock(ctx, worldStateLock)
	if err != nil {
		return fmt.Errorf("failed to lock world state: %w", err)
	}
	defer func() {
		if err := guard.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to unlock world state")
		}
	}()

	users, err := c.localUsers(ctx)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	notes := make([]domain.Note, 0)
	nullifiers := make([]string, 0)
	txs := make([]domain.UserTx, 0)
	for i, output := range outputs {
		for _, note := range output.OutputNotes {
			if _, ok := users[note.Owner]; !ok {
				continue
			}
			note.Pending = true
			note.CreatedAt = now
			notes = append(notes, note)
		}
		for _, note := range output.InputNotes {
			nullifiers = append(nullifiers, note.Nullifier)
		}
		for _, tx := range output.Txs {
			if _, ok := users[tx.UserId]; !ok {
				continue
			}
			tx.TxId = txIds[i]
			tx.TxRefNo = output.TxRefNo
			tx.CreatedAt = now
			txs = append(txs, tx)
		}
	}

	if err := c.repoManager.Notes().AddNotes(ctx, notes); err != nil {
		return fmt.Errorf("failed to add pending notes: %w", err)
	}
	if _, err := c.repoManager.Notes().NullifyNotes(ctx, nullifiers); err != nil {
		return fmt.Errorf("failed to nullify spent notes: %w", err)
	}
	if err := c.repoManager.Txs().AddTxs(ctx, txs); err != nil {
		return fmt.Errorf("failed to add txs: %w", err)
	}

	for _, tx := range txs {
		if err := c.bus.Publish(ctx, domain.NewUserTx{
			Type: domain.EventTypeNewUserTx, UserId: tx.UserId, TxId: tx.TxId,
		}); err != nil {
			log.WithError(err).Warnf("failed to publish new tx %s", tx.TxId)
		}
	}
	return nil
}

// awaitSettled waits until every tx of txIds is settled. Txs are looked up
// by id only, the fee proof of a payment may belong to another user.
func (c *PaymentComposition) awaitSettled(
	ctx context.Context, txIds []string, timeout time.Duration,
) error {
	ctx, span := tracer.Start(ctx, "composition.awaitSettled", trace.WithAttributes(
		attribute.StringSlice("tx_ids", txIds),
	))
	defer span.End()

	started := time.Now()
	err := pollUntil(ctx, c.bus, c.pollInterval, timeout, txIds[0],
		func(ctx context.Context) (bool, error) {
			for _, txId := range txIds {
				txs, err := c.repoManager.Txs().GetTxsByTxId(ctx, txId)
				if err != nil {
					return false, err
				}
				if len(txs) == 0 || !txs[0].IsSettled() {
					return false, nil
				}
			}
			return true, nil
		},
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "not settled")
		return err
	}
	c.metrics.settled(ctx, started)
	return nil
}

// defiInputs orders the notes of a defi deposit by input slot, the notes of
// the first input asset ahead of the second's.
func defiInputs(bcd domain.BridgeCallData, notes []domain.Note) []domain.Note {
	sort.SliceStable(notes, func(i, j int) bool {
		return notes[i].AssetId == bcd.InputAssetIdA && notes[j].AssetId != bcd.InputAssetIdA
	})
	return notes
}

func (c *PaymentComposition) localUsers(ctx context.Context) (map[domain.UserId]struct{}, error) {
	users, err := c.repoManager.Users().GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	ids := make(map[domain.UserId]struct{}, len(users))
	for _, u := range users {
		ids[u.Id] = struct{}{}
	}
	return ids, nil
}

func newTxRefNo() (uint32, error) {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to generate tx ref: %w", err)
		}
		if n := binary.BigEndian.Uint32(buf[:]); n != 0 {
			return n, nil
		}
	}
}
