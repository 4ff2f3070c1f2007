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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type balances map[domain.UserId]map[uint32]*uint256.Int

const (
	minRetryDelay = 500 * time.Millisecond
	maxRetryDelay = 30 * time.Second
)

// WorldStateSync applies rollup blocks to the local note database. Blocks
// are queued in arrival order and applied one at a time by a single loop,
// under the named lock shared with every other process using the same
// database.
type WorldStateSync struct {
	repoManager ports.RepoManager
	locker      ports.Locker
	decryptor   ports.NoteDecryptor
	bus         ports.EventBus
	metrics     *metrics

	queueLock *sync.Mutex
	queue     []domain.Block
	notify    chan struct{}

	stateLock *sync.RWMutex
	state     domain.WorldState
	balances  balances

	retryDelay time.Duration
	stop       func()
	wg         *sync.WaitGroup
}

func NewWorldStateSync(
	repoManager ports.RepoManager, locker ports.Locker, decryptor ports.NoteDecryptor,
	bus ports.EventBus,
) *WorldStateSync {
	return &WorldStateSync{
		repoManager: repoManager,
		locker:      locker,
		decryptor:   decryptor,
		bus:         bus,
		metrics:     newMetrics(),
		queueLock:   &sync.Mutex{},
		notify:      make(chan struct{}, 1),
		stateLock:   &sync.RWMutex{},
		state:       domain.NewWorldState(),
		balances:    make(balances),
		retryDelay:  minRetryDelay,
		wg:          &sync.WaitGroup{},
	}
}

// Start loads the persisted state and runs the block loop until Stop.
func (s *WorldStateSync) Start(ctx context.Context) error {
	if _, err := s.SyncFromDb(ctx); err != nil {
		return err
	}
	if _, err := s.refreshBalances(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

func (s *WorldStateSync) Stop() {
	if s.stop != nil {
		s.stop()
	}
	s.wg.Wait()
}

// HandleExternalBlockEvent queues blocks for the loop.
func (s *WorldStateSync) HandleExternalBlockEvent(blocks ...domain.Block) {
	s.queueLock.Lock()
	s.queue = append(s.queue, blocks...)
	s.queueLock.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// SyncFromDb reloads the world state persisted by any process.
func (s *WorldStateSync) SyncFromDb(ctx context.Context) (domain.WorldState, error) {
	state, err := s.repoManager.WorldState().Get(ctx)
	if err != nil {
		return domain.WorldState{}, fmt.Errorf("failed to get world state: %w", err)
	}
	if state == nil {
		fresh := domain.NewWorldState()
		state = &fresh
	}
	s.stateLock.Lock()
	s.state = *state
	s.stateLock.Unlock()
	return *state, nil
}

// GetWorldState returns the state as of the last sync.
func (s *WorldStateSync) GetWorldState() domain.WorldState {
	s.stateLock.RLock()
	defer s.stateLock.RUnlock()
	return s.state
}

// ProcessBlock applies block unless another process already did, then
// notifies the changes it made. It reports whether the block was applied.
func (s *WorldStateSync) ProcessBlock(ctx context.Context, block domain.Block) (bool, error) {
	ctx, span := tracer.Start(ctx, "sync.ProcessBlock", trace.WithAttributes(
		attribute.Int64("rollup_id", int64(block.RollupId)),
		attribute.Int("txs", len(block.Txs)),
	))
	defer span.End()

	started := time.Now()
	applied, newTxs, err := s.applyBlock(ctx, block)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return false, err
	}
	span.SetAttributes(attribute.Bool("applied", applied))
	if !applied {
		s.metrics.blockSkipped(ctx)
		// Keep the snapshot current so the next applied block only notifies
		// its own changes.
		if _, err := s.refreshBalances(ctx); err != nil {
			log.WithError(err).Warn("failed to refresh balances")
		}
		return false, nil
	}
	s.metrics.blockApplied(ctx, started)

	s.publish(ctx, domain.BlockProcessed{
		Type:          domain.EventTypeBlockProcessed,
		RollupId:      block.RollupId,
		SyncedToBlock: int64(block.RollupId),
	})
	s.publishTxs(ctx, newTxs)

	changed, err := s.refreshBalances(ctx)
	if err != nil {
		return true, err
	}
	for _, event := range changed {
		s.publish(ctx, event)
	}
	return true, nil
}

// loop applies queued blocks in order. A block that fails goes back to the
// head of the queue and is retried with an increasing delay, blocks after
// it can't apply before it does.
func (s *WorldStateSync) loop(ctx context.Context) {
	defer s.wg.Done()
	delay := s.retryDelay
	for {
		block, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.notify:
				continue
			}
		}
		if _, err := s.ProcessBlock(ctx, block); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Errorf(
				"failed to process block %d, retrying in %s", block.RollupId, delay,
			)
			s.requeue(block)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(2*delay, maxRetryDelay)
			continue
		}
		delay = s.retryDelay
	}
}

func (s *WorldStateSync) requeue(block domain.Block) {
	s.queueLock.Lock()
	defer s.queueLock.Unlock()
	s.queue = append([]domain.Block{block}, s.queue...)
}

func (s *WorldStateSync) dequeue() (domain.Block, bool) {
	s.queueLock.Lock()
	defer s.queueLock.Unlock()
	if len(s.queue) == 0 {
		return domain.Block{}, false
	}
	block := s.queue[0]
	s.queue = s.queue[1:]
	return block, true
}

// applyBlock is the critical section: under the lock it re-reads the
// persisted state and applies block only if it starts where the data tree
// ends. It returns the history entries the block created.
func (s *WorldStateSync) applyBlock(
	ctx context.Context, block domain.Block,
) (bool, []domain.UserTx, error) {
	guard, err := s.locker.Lock(ctx, worldStateLock)
	if err != nil {
		return false, nil, fmt.Errorf("failed to lock world state: %w", err)
	}
	defer func() {
		if err := guard.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to unlock world state")
		}
	}()

	state, err := s.SyncFromDb(ctx)
	if err != nil {
		return false, nil, err
	}
	if state.Size != block.DataStartIndex {
		log.Warnf(
			"skipping block %d: local data size %d, block starts at %d",
			block.RollupId, state.Size, block.DataStartIndex,
		)
		return false, nil, nil
	}

	users, err := s.repoManager.Users().GetUsers(ctx)
	if err != nil {
		return false, nil, fmt.Errorf("failed to get users: %w", err)
	}

	newTxs := make([]domain.UserTx, 0)
	for i, tx := range block.Txs {
		txs, err := s.applyTx(ctx, block, i, tx, users)
		if err != nil {
			return false, nil, fmt.Errorf("failed to apply tx %s: %w", tx.TxId, err)
		}
		newTxs = append(newTxs, txs...)
	}
	if err := s.applyInteractionResults(ctx, block); err != nil {
		return false, nil, err
	}

	for _, user := range users {
		if !followsUser(user, block) {
			continue
		}
		user.SyncedToBlock = int64(block.RollupId)
		if err := s.repoManager.Users().UpdateUser(ctx, user); err != nil {
			return false, nil, fmt.Errorf("failed to update user %s: %w", user.Id, err)
		}
	}

	// The world state goes last: a crash before this point leaves the block
	// to be applied again, and every write above is idempotent.
	next := domain.WorldState{
		Root:          block.DataRoot,
		Size:          block.NextDataIndex(),
		SyncedToBlock: int64(block.RollupId),
		UpdatedAt:     time.Now().Unix(),
	}
	if err := s.repoManager.WorldState().Upsert(ctx, next); err != nil {
		return false, nil, fmt.Errorf("failed to update world state: %w", err)
	}
	s.stateLock.Lock()
	s.state = next
	s.stateLock.Unlock()

	log.Debugf("applied block %d, data size %d", block.RollupId, next.Size)
	return true, newTxs, nil
}

// CatchUpUser replays already applied blocks for a user added after they
// were processed. Blocks beyond the world state are left to the loop.
func (s *WorldStateSync) CatchUpUser(
	ctx context.Context, userId domain.UserId, blocks []domain.Block,
) error {
	newTxs, err := s.catchUpUser(ctx, userId, blocks)
	if err != nil {
		return err
	}
	s.publishTxs(ctx, newTxs)

	changed, err := s.refreshBalances(ctx)
	if err != nil {
		return err
	}
	for _, event := range changed {
		s.publish(ctx, event)
	}
	return nil
}

func (s *WorldStateSync) catchUpUser(
	ctx context.Context, userId domain.UserId, blocks []domain.Block,
) ([]domain.UserTx, error) {
	guard, err := s.locker.Lock(ctx, worldStateLock)
	if err != nil {
		return nil, fmt.Errorf("failed to lock world state: %w", err)
	}
	defer func() {
		if err := guard.Unlock(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("failed to unlock world state")
		}
	}()

	state, err := s.SyncFromDb(ctx)
	if err != nil {
		return nil, err
	}
	newTxs := make([]domain.UserTx, 0)
	for _, block := range blocks {
		if int64(block.RollupId) > state.SyncedToBlock {
			break
		}
		user, err := s.repoManager.Users().GetUser(ctx, userId)
		if err != nil {
			return nil, fmt.Errorf("failed to get user %s: %w", userId, err)
		}
		if user == nil {
			return newTxs, nil
		}
		if user.SyncedToBlock >= int64(block.RollupId) {
			continue
		}
		if !followsUser(*user, block) {
			return nil, fmt.Errorf(
				"block %d doesn't follow block %d of user %s",
				block.RollupId, user.SyncedToBlock, userId,
			)
		}
		for i, tx := range block.Txs {
			txs, err := s.applyTx(ctx, block, i, tx, []domain.User{*user})
			if err != nil {
				return nil, fmt.Errorf("failed to apply tx %s: %w", tx.TxId, err)
			}
			newTxs = append(newTxs, txs...)
		}
		user.SyncedToBlock = int64(block.RollupId)
		if err := s.repoManager.Users().UpdateUser(ctx, *user); err != nil {
			return nil, fmt.Errorf("failed to update user %s: %w", user.Id, err)
		}
	}
	return newTxs, nil
}

// applyTx stores the notes tx creates for users, spends the ones it
// nullifies and settles it. Users with notes in tx but no history entry for
// it get one, which is returned.
func (s *WorldStateSync) applyTx(
	ctx context.Context, block domain.Block, txIndex int, tx domain.BlockTx, users []domain.User,
) ([]domain.UserTx, error) {
	notesRepo := s.repoManager.Notes()

	newNotes := make([]domain.Note, 0)
	owners := make([]domain.UserId, 0)
	notesOf := make(map[domain.UserId][]domain.Note)
	addNote := func(note domain.Note) {
		if _, ok := notesOf[note.Owner]; !ok {
			owners = append(owners, note.Owner)
		}
		notesOf[note.Owner] = append(notesOf[note.Owner], note)
		newNotes = append(newNotes, note)
	}

	for i, commitment := range tx.NoteCommitments {
		index := block.DataStartIndex + uint64(txIndex*domain.NotesPerTx+i)
		note, err := notesRepo.GetNote(ctx, commitment)
		if err != nil {
			return nil, err
		}
		if note == nil || !note.Pending {
			continue
		}
		note.Pending = false
		note.Index = index
		addNote(*note)
	}

	if len(tx.EncryptedNotes) > 0 {
		for _, user := range users {
			if !followsUser(user, block) {
				continue
			}
			plaintexts, err := s.decryptor.DecryptNotes(ctx, user.ViewingPrivateKey, tx.EncryptedNotes)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt notes for user %s: %w", user.Id, err)
			}
			for i, plaintext := range plaintexts {
				if plaintext == nil || i >= len(tx.NoteCommitments) {
					continue
				}
				existing, err := notesRepo.GetNote(ctx, tx.NoteCommitments[i])
				if err != nil {
					return nil, err
				}
				if existing != nil {
					continue
				}
				addNote(domain.Note{
					Commitment: tx.NoteCommitments[i],
					Nullifier:  plaintext.Nullifier,
					Owner:      user.Id,
					AssetId:    plaintext.AssetId,
					Value:      plaintext.Value,
					Index:      block.DataStartIndex + uint64(txIndex*domain.NotesPerTx+i),
					AllowChain: plaintext.AllowChain,
					CreatedAt:  block.CreatedAt,
				})
			}
		}
	}

	newTxs := make([]domain.UserTx, 0)
	for _, owner := range owners {
		userTx, err := s.receivedTx(ctx, block, tx, owner, notesOf[owner])
		if err != nil {
			return nil, err
		}
		if userTx != nil {
			newTxs = append(newTxs, *userTx)
		}
	}

	// History first: a retry after a failed note insert finds the entry and
	// doesn't add it twice.
	if len(newTxs) > 0 {
		if err := s.repoManager.Txs().AddTxs(ctx, newTxs); err != nil {
			return nil, err
		}
	}
	if len(newNotes) > 0 {
		if err := notesRepo.AddNotes(ctx, newNotes); err != nil {
			return nil, err
		}
	}

	// After the inserts, so notes created and spent in this block end up
	// nullified.
	if len(tx.Nullifiers) > 0 {
		if _, err := notesRepo.NullifyNotes(ctx, tx.Nullifiers); err != nil {
			return nil, err
		}
	}

	if err := s.repoManager.Txs().SettleTxs(ctx, []string{tx.TxId}, block.CreatedAt); err != nil {
		return nil, err
	}

	switch tx.ProofId {
	case domain.ProofIdDefiDeposit:
		return newTxs, s.recordInteractionNonce(ctx, tx)
	case domain.ProofIdDefiClaim:
		return newTxs, s.recordClaim(ctx, block, tx)
	}
	return newTxs, nil
}

// receivedTx builds the history entry of a tx the user only knows through
// its notes, nil if the user already has one. Claims are recorded on their
// deposit instead.
func (s *WorldStateSync) receivedTx(
	ctx context.Context, block domain.Block, tx domain.BlockTx, userId domain.UserId,
	notes []domain.Note,
) (*domain.UserTx, error) {
	if tx.ProofId == domain.ProofIdDefiClaim {
		return nil, nil
	}
	existing, err := s.repoManager.Txs().GetTx(ctx, userId, tx.TxId)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nil
	}

	assetId := notes[0].AssetId
	received := domain.SumNotes(notes)
	spent := uint256.NewInt(0)
	for _, nullifier := range tx.Nullifiers {
		note, err := s.repoManager.Notes().GetNoteByNullifier(ctx, nullifier)
		if err != nil {
			return nil, err
		}
		if note != nil && note.Owner == userId && note.Value != nil {
			spent.Add(spent, note.Value)
		}
	}

	userTx := &domain.UserTx{
		TxId:        tx.TxId,
		UserId:      userId,
		ProofId:     tx.ProofId,
		Value:       domain.NewAssetValue(assetId, received),
		Fee:         domain.ZeroAssetValue(assetId),
		PublicOwner: tx.PublicOwner,
		Recipient:   userId,
		IsRecipient: true,
		CreatedAt:   block.CreatedAt,
		SettledAt:   block.CreatedAt,
	}
	if spent.IsZero() {
		return userTx, nil
	}

	// Sent but not recorded here, only the change is known. The value sent
	// includes the fee.
	userTx.IsSender = true
	userTx.IsRecipient = false
	userTx.Recipient = ""
	switch {
	case tx.ProofId == domain.ProofIdWithdraw:
		userTx.Value = domain.NewAssetValue(assetId, tx.PublicValue)
	case spent.Gt(received):
		userTx.Value = domain.NewAssetValue(assetId, new(uint256.Int).Sub(spent, received))
	default:
		userTx.Value = domain.ZeroAssetValue(assetId)
	}
	return userTx, nil
}

func (s *WorldStateSync) recordInteractionNonce(ctx context.Context, tx domain.BlockTx) error {
	txs, err := s.repoManager.Txs().GetTxsByTxId(ctx, tx.TxId)
	if err != nil {
		return err
	}
	updated := make([]domain.UserTx, 0, len(txs))
	for _, userTx := range txs {
		if userTx.Defi == nil {
			continue
		}
		userTx.Defi.InteractionNonce = tx.InteractionNonce
		updated = append(updated, userTx)
	}
	if len(updated) == 0 {
		return nil
	}
	return s.repoManager.Txs().AddTxs(ctx, updated)
}

func (s *WorldStateSync) recordClaim(ctx context.Context, block domain.Block, tx domain.BlockTx) error {
	txs, err := s.repoManager.Txs().GetDefiTxsByNonce(ctx, tx.InteractionNonce)
	if err != nil {
		return err
	}
	for i := range txs {
		txs[i].Defi.ClaimTxId = tx.TxId
		txs[i].Defi.ClaimSettledAt = block.CreatedAt
	}
	if len(txs) == 0 {
		return nil
	}
	return s.repoManager.Txs().AddTxs(ctx, txs)
}

// applyInteractionResults records the outcome of finalised interactions on
// the deposits that funded them, each getting its share of the outputs.
func (s *WorldStateSync) applyInteractionResults(ctx context.Context, block domain.Block) error {
	for _, result := range block.InteractionResults {
		txs, err := s.repoManager.Txs().GetDefiTxsByNonce(ctx, result.Nonce)
		if err != nil {
			return fmt.Errorf("failed to get defi txs of interaction %d: %w", result.Nonce, err)
		}
		if len(txs) == 0 {
			continue
		}
		for i := range txs {
			defi := txs[i].Defi
			defi.Success = result.Success
			defi.FinalisedAt = block.CreatedAt
			defi.OutputValueA = shareOf(result.TotalOutputA, defi.DepositValue.Value, result.TotalInput)
			defi.OutputValueB = shareOf(result.TotalOutputB, defi.DepositValue.Value, result.TotalInput)
		}
		if err := s.repoManager.Txs().AddTxs(ctx, txs); err != nil {
			return fmt.Errorf("failed to record interaction %d: %w", result.Nonce, err)
		}
	}
	return nil
}

func shareOf(total, part, whole *uint256.Int) *uint256.Int {
	if total == nil || part == nil || whole == nil || whole.IsZero() {
		return uint256.NewInt(0)
	}
	share, overflow := new(uint256.Int).MulDivOverflow(total, part, whole)
	if overflow {
		return uint256.NewInt(0)
	}
	return share
}

// refreshBalances recomputes every user's balances and returns an update
// event for every balance that differs from the previous snapshot.
func (s *WorldStateSync) refreshBalances(ctx context.Context) ([]domain.Event, error) {
	users, err := s.repoManager.Users().GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}

	results := make([]map[uint32]*uint256.Int, len(users))
	g, gctx := errgroup.WithContext(ctx)
	for i, user := range users {
		g.Go(func() error {
			notes, err := s.repoManager.Notes().GetUserNotes(gctx, user.Id)
			if err != nil {
				return fmt.Errorf("failed to get notes of user %s: %w", user.Id, err)
			}
			results[i] = userBalances(notes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.stateLock.Lock()
	defer s.stateLock.Unlock()

	events := make([]domain.Event, 0)
	next := make(balances, len(users))
	for i, user := range users {
		next[user.Id] = results[i]
		prev := s.balances[user.Id]
		for assetId, balance := range results[i] {
			if old, ok := prev[assetId]; ok && old.Eq(balance) {
				continue
			}
			events = append(events, balanceUpdated(user.Id, assetId, balance))
		}
		for assetId := range prev {
			if _, ok := results[i][assetId]; !ok {
				events = append(events, balanceUpdated(user.Id, assetId, uint256.NewInt(0)))
			}
		}
	}
	s.balances = next
	return events, nil
}

func (s *WorldStateSync) publishTxs(ctx context.Context, txs []domain.UserTx) {
	for _, tx := range txs {
		s.publish(ctx, domain.NewUserTx{
			Type: domain.EventTypeNewUserTx, UserId: tx.UserId, TxId: tx.TxId,
		})
	}
}

func (s *WorldStateSync) publish(ctx context.Context, event domain.Event) {
	if err := s.bus.Publish(ctx, event); err != nil {
		log.WithError(err).Warnf("failed to publish %s event", event.GetType())
	}
}

// followsUser reports whether block is the next one for user. Users behind
// are caught up by CatchUpUser instead.
func followsUser(user domain.User, block domain.Block) bool {
	return user.SyncedToBlock == int64(block.RollupId)-1
}

func userBalances(notes []domain.Note) map[uint32]*uint256.Int {
	result := make(map[uint32]*uint256.Int)
	for _, n := range notes {
		if !n.IsSpendable() || n.Value == nil {
			continue
		}
		if _, ok := result[n.AssetId]; !ok {
			result[n.AssetId] = uint256.NewInt(0)
		}
		result[n.AssetId].Add(result[n.AssetId], n.Value)
	}
	return result
}

func balanceUpdated(userId domain.UserId, assetId uint32, balance *uint256.Int) domain.Event {
	return domain.BalanceUpdated{
		Type:    domain.EventTypeUpdatedBalance,
		UserId:  userId,
		AssetId: assetId,
		Balance: balance.Clone(),
	}
}
