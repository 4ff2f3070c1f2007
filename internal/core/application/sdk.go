package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var circuits = []ports.Circuit{ports.CircuitJoinSplit, ports.CircuitAccount}

type SdkConfig struct {
	PollInterval time.Duration
	FeeSigFigs   int
	FeeCacheTTL  time.Duration
}

type LocalStatus struct {
	SyncedToBlock int64
	DataSize      uint64
	DataRoot      string
	// LatestRollupId is the last rollup published by the provider, -1 if
	// none.
	LatestRollupId int64
}

// Sdk composes note selection, fees, controllers and the world state sync
// behind one facade. Its lifecycle is Init, then Restart as needed, then
// Destroy.
type Sdk struct {
	repoManager ports.RepoManager
	prover      ports.ProofCreator
	rollup      ports.RollupProvider
	cache       ports.ArtifactCache
	locker      ports.Locker
	bus         ports.EventBus
	blockSource ports.BlockSource

	picker      *NotePicker
	fees        *FeeResolver
	composition *PaymentComposition
	sync        *WorldStateSync
	cfg         SdkConfig

	lock     *sync.Mutex
	running  bool
	sessions map[string]*Session
}

func NewSdk(
	repoManager ports.RepoManager, prover ports.ProofCreator, rollup ports.RollupProvider,
	chain ports.Chain, cache ports.ArtifactCache, locker ports.Locker, bus ports.EventBus,
	blockSource ports.BlockSource, decryptor ports.NoteDecryptor, cfg SdkConfig,
) (*Sdk, error) {
	if repoManager == nil || prover == nil || rollup == nil || locker == nil || bus == nil {
		return nil, fmt.Errorf("missing sdk dependencies")
	}
	picker := NewNotePicker(repoManager.Notes())
	return &Sdk{
		repoManager: repoManager,
		prover:      prover,
		rollup:      rollup,
		cache:       cache,
		locker:      locker,
		bus:         bus,
		blockSource: blockSource,
		picker:      picker,
		fees:        NewFeeResolver(rollup, picker, cfg.FeeSigFigs, cfg.FeeCacheTTL),
		composition: NewPaymentComposition(
			repoManager, picker, prover, rollup, chain, locker, bus, cfg.PollInterval,
		),
		sync:     NewWorldStateSync(repoManager, locker, decryptor, bus),
		cfg:      cfg,
		lock:     &sync.Mutex{},
		sessions: make(map[string]*Session),
	}, nil
}

// Init loads the proving keys, computing and caching the missing ones,
// then starts syncing blocks.
func (s *Sdk) Init(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running {
		return nil
	}

	for _, circuit := range circuits {
		if err := s.loadProvingKey(ctx, circuit); err != nil {
			return err
		}
	}
	if err := s.start(ctx); err != nil {
		return err
	}
	s.running = true
	log.Info("sdk initialized")
	return nil
}

func (s *Sdk) loadProvingKey(ctx context.Context, circuit ports.Circuit) error {
	cacheKey := fmt.Sprintf("proving-key:%s", circuit)
	var key []byte
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			log.WithError(err).Warnf("failed to read cached %s proving key", circuit)
		}
		key = cached
	}

	if key == nil {
		log.Infof("computing %s proving key", circuit)
		computed, err := s.prover.ComputeProvingKey(ctx, circuit)
		if err != nil {
			return fmt.Errorf("failed to compute %s proving key: %w", circuit, err)
		}
		key = computed
		if s.cache != nil {
			if err := s.cache.Set(ctx, cacheKey, key); err != nil {
				log.WithError(err).Warnf("failed to cache %s proving key", circuit)
			}
		}
	}

	if err := s.prover.LoadProvingKey(ctx, circuit, key); err != nil {
		return fmt.Errorf("failed to load %s proving key: %w", circuit, err)
	}
	return nil
}

func (s *Sdk) start(ctx context.Context) error {
	if err := s.sync.Start(ctx); err != nil {
		return fmt.Errorf("failed to start world state sync: %w", err)
	}
	if s.blockSource == nil {
		return nil
	}
	from := uint32(s.sync.GetWorldState().SyncedToBlock + 1)
	if err := s.blockSource.Start(from, func(blocks []domain.Block) {
		s.sync.HandleExternalBlockEvent(blocks...)
	}); err != nil {
		s.sync.Stop()
		return fmt.Errorf("failed to start block source: %w", err)
	}
	return nil
}

func (s *Sdk) stop() {
	if s.blockSource != nil {
		s.blockSource.Stop()
	}
	s.sync.Stop()
}

// Restart stops syncing and resumes from the persisted world state.
func (s *Sdk) Restart(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running {
		s.stop()
	}
	if err := s.start(ctx); err != nil {
		s.running = false
		return err
	}
	s.running = true
	return nil
}

// Destroy stops syncing, tears down every session and closes the
// resources owned by the sdk.
func (s *Sdk) Destroy() {
	s.lock.Lock()
	if s.running {
		s.stop()
		s.running = false
	}
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.lock.Unlock()

	for _, session := range sessions {
		session.Destroy()
	}

	if err := s.bus.Close(); err != nil {
		log.WithError(err).Warn("failed to close event bus")
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.WithError(err).Warn("failed to close artifact cache")
		}
	}
	if err := s.locker.Close(); err != nil {
		log.WithError(err).Warn("failed to close locker")
	}
	s.repoManager.Close()
	log.Info("sdk destroyed")
}

func (s *Sdk) NewSession() *Session {
	session := newSession(s, s.bus)
	s.lock.Lock()
	s.sessions[session.id] = session
	s.lock.Unlock()
	return session
}

func (s *Sdk) forgetSession(id string) {
	s.lock.Lock()
	delete(s.sessions, id)
	s.lock.Unlock()
}

// AddUser registers a user and replays the blocks already applied so its
// notes are found.
func (s *Sdk) AddUser(ctx context.Context, user domain.User) (*domain.User, error) {
	if user.ViewingPrivateKey == "" {
		return nil, errors.VALIDATION_ERROR.New("missing viewing key").
			WithMetadata(errors.ValidationMetadata{Field: "viewing_private_key"})
	}
	if user.Id == "" {
		user.Id = domain.UserId(user.ViewingPublicKey)
	}
	if user.Id == "" {
		return nil, errors.VALIDATION_ERROR.New("missing user id").
			WithMetadata(errors.ValidationMetadata{Field: "id"})
	}
	existing, err := s.repoManager.Users().GetUser(ctx, user.Id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	user.SyncedToBlock = -1
	user.CreatedAt = time.Now().Unix()
	if err := s.repoManager.Users().AddUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to add user: %w", err)
	}
	s.publishUsers(ctx)

	if err := s.catchUpUser(ctx, user.Id); err != nil {
		return nil, err
	}
	return s.GetUser(ctx, user.Id)
}

func (s *Sdk) catchUpUser(ctx context.Context, userId domain.UserId) error {
	last := int64(-2)
	for {
		user, err := s.GetUser(ctx, userId)
		if err != nil {
			return err
		}
		target := s.sync.GetWorldState().SyncedToBlock
		if user.SyncedToBlock >= target || user.SyncedToBlock == last {
			return nil
		}
		last = user.SyncedToBlock
		blocks, err := s.rollup.GetBlocks(ctx, uint32(user.SyncedToBlock+1))
		if err != nil {
			return fmt.Errorf("failed to get blocks: %w", err)
		}
		if len(blocks) == 0 {
			return nil
		}
		if err := s.sync.CatchUpUser(ctx, userId, blocks); err != nil {
			return err
		}
	}
}

func (s *Sdk) RemoveUser(ctx context.Context, userId domain.UserId) error {
	if _, err := s.GetUser(ctx, userId); err != nil {
		return err
	}
	if err := s.repoManager.Notes().RemoveUserNotes(ctx, userId); err != nil {
		return fmt.Errorf("failed to remove notes: %w", err)
	}
	if err := s.repoManager.Txs().RemoveUserTxs(ctx, userId); err != nil {
		return fmt.Errorf("failed to remove txs: %w", err)
	}
	if err := s.repoManager.Users().RemoveUser(ctx, userId); err != nil {
		return fmt.Errorf("failed to remove user: %w", err)
	}
	s.publishUsers(ctx)
	return nil
}

func (s *Sdk) GetUser(ctx context.Context, userId domain.UserId) (*domain.User, error) {
	user, err := s.repoManager.Users().GetUser(ctx, userId)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NOT_FOUND.New("user %s not found", userId).
			WithMetadata(errors.NotFoundMetadata{Id: userId.String()})
	}
	return user, nil
}

func (s *Sdk) GetUsers(ctx context.Context) ([]domain.User, error) {
	return s.repoManager.Users().GetUsers(ctx)
}

func (s *Sdk) publishUsers(ctx context.Context) {
	users, err := s.GetUsers(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get users")
		return
	}
	ids := make([]domain.UserId, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.Id)
	}
	if err := s.bus.Publish(ctx, domain.UsersUpdated{
		Type: domain.EventTypeUpdatedUsers, Users: ids,
	}); err != nil {
		log.WithError(err).Warn("failed to publish users update")
	}
}

func (s *Sdk) GetBalance(
	ctx context.Context, userId domain.UserId, assetId uint32,
) (*uint256.Int, error) {
	return s.picker.GetSpendableSum(ctx, userId, assetId)
}

func (s *Sdk) GetBalances(ctx context.Context, userId domain.UserId) ([]domain.AssetValue, error) {
	notes, err := s.repoManager.Notes().GetUserNotes(ctx, userId)
	if err != nil {
		return nil, err
	}
	sums := userBalances(notes)
	balances := make([]domain.AssetValue, 0, len(sums))
	for assetId, sum := range sums {
		balances = append(balances, domain.NewAssetValue(assetId, sum))
	}
	return balances, nil
}

func (s *Sdk) GetUserNotes(ctx context.Context, userId domain.UserId) ([]domain.Note, error) {
	return s.repoManager.Notes().GetUserNotes(ctx, userId)
}

func (s *Sdk) GetUserTxs(ctx context.Context, userId domain.UserId) ([]domain.UserTx, error) {
	return s.repoManager.Txs().GetUserTxs(ctx, userId)
}

func (s *Sdk) PickNotes(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	opts ...PickOption,
) ([]domain.Note, error) {
	return s.picker.PickNotes(ctx, userId, assetId, value, opts...)
}

func (s *Sdk) PickNote(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	opts ...PickOption,
) (*domain.Note, error) {
	return s.picker.PickNote(ctx, userId, assetId, value, opts...)
}

func (s *Sdk) GetSpendableSum(
	ctx context.Context, userId domain.UserId, assetId uint32, opts ...PickOption,
) (*uint256.Int, error) {
	return s.picker.GetSpendableSum(ctx, userId, assetId, opts...)
}

func (s *Sdk) GetSpendableNoteValues(
	ctx context.Context, userId domain.UserId, assetId uint32, opts ...PickOption,
) ([]*uint256.Int, error) {
	return s.picker.GetSpendableNoteValues(ctx, userId, assetId, opts...)
}

func (s *Sdk) GetMaxSpendableNoteValues(
	ctx context.Context, userId domain.UserId, assetId uint32, numNotes int, opts ...PickOption,
) ([]*uint256.Int, error) {
	return s.picker.GetMaxSpendableNoteValues(ctx, userId, assetId, numNotes, opts...)
}

// GetMaxSpendableSum is the sum of the MaxNotesPerProof largest notes.
func (s *Sdk) GetMaxSpendableSum(
	ctx context.Context, userId domain.UserId, assetId uint32, opts ...PickOption,
) (*uint256.Int, error) {
	values, err := s.picker.GetMaxSpendableNoteValues(ctx, userId, assetId, 0, opts...)
	if err != nil {
		return nil, err
	}
	sum := uint256.NewInt(0)
	for _, v := range values {
		sum.Add(sum, v)
	}
	return sum, nil
}

// GetMaxSpendableValue is the most a single transfer of the user can send:
// its MaxNotesPerProof largest notes minus the fee of the given speed.
func (s *Sdk) GetMaxSpendableValue(
	ctx context.Context, userId domain.UserId, assetId uint32, speed int, opts ...PickOption,
) (*uint256.Int, error) {
	sum, err := s.GetMaxSpendableSum(ctx, userId, assetId, opts...)
	if err != nil {
		return nil, err
	}
	if sum.IsZero() {
		return sum, nil
	}

	fees, err := s.fees.GetTransferFees(ctx, assetId)
	if err != nil {
		return nil, err
	}
	if speed < 0 || speed >= len(fees) {
		return nil, errors.VALIDATION_ERROR.New("unknown settlement speed %d", speed)
	}
	fee := fees[speed]
	if fee.AssetId != assetId {
		return sum, nil
	}
	if sum.Cmp(fee.Value) <= 0 {
		return uint256.NewInt(0), nil
	}
	return sum.Sub(sum, fee.Value), nil
}

func (s *Sdk) Fees() *FeeResolver {
	return s.fees
}

func (s *Sdk) GetLocalStatus(ctx context.Context) (*LocalStatus, error) {
	state, err := s.sync.SyncFromDb(ctx)
	if err != nil {
		return nil, err
	}
	status := &LocalStatus{
		SyncedToBlock:  state.SyncedToBlock,
		DataSize:       state.Size,
		DataRoot:       state.Root,
		LatestRollupId: -1,
	}
	remote, err := s.rollup.GetStatus(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to get rollup status")
		return status, nil
	}
	status.LatestRollupId = int64(remote.NextRollupId) - 1
	return status, nil
}

// AwaitSynchronised waits until the local state reaches the latest rollup
// published when called.
func (s *Sdk) AwaitSynchronised(ctx context.Context, timeout time.Duration) error {
	remote, err := s.rollup.GetStatus(ctx)
	if err != nil {
		return fmt.Errorf("failed to get rollup status: %w", err)
	}
	target := int64(remote.NextRollupId) - 1
	return pollUntil(ctx, s.bus, s.cfg.PollInterval, timeout, fmt.Sprintf("rollup %d", target),
		func(ctx context.Context) (bool, error) {
			state, err := s.sync.SyncFromDb(ctx)
			if err != nil {
				return false, err
			}
			return state.SyncedToBlock >= target, nil
		},
	)
}

// ProcessBlock applies a pushed block right away, bypassing the queue.
func (s *Sdk) ProcessBlock(ctx context.Context, block domain.Block) (bool, error) {
	return s.sync.ProcessBlock(ctx, block)
}

func (s *Sdk) CreateDepositController(
	ctx context.Context, userId domain.UserId, signer ports.Signer, ethSigner ports.EthSigner,
	value, fee domain.AssetValue, depositor string, recipient domain.UserId,
	opts ...ControllerOption,
) (*DepositController, error) {
	c, err := NewDepositController(
		s.composition, userId, signer, ethSigner, value, fee, depositor, recipient, opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateWithdrawController(
	ctx context.Context, userId domain.UserId, signer ports.Signer,
	value, fee domain.AssetValue, to string, opts ...ControllerOption,
) (*WithdrawController, error) {
	c, err := NewWithdrawController(s.composition, userId, signer, value, fee, to, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateTransferController(
	ctx context.Context, userId domain.UserId, signer ports.Signer,
	value, fee domain.AssetValue, recipient domain.UserId, opts ...ControllerOption,
) (*TransferController, error) {
	c, err := NewTransferController(s.composition, userId, signer, value, fee, recipient, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateRegisterController(
	ctx context.Context, userId domain.UserId, signer ports.Signer, ethSigner ports.EthSigner,
	alias, accountPublicKey, spendingPublicKey string, depositValue, fee domain.AssetValue,
	depositor string, opts ...ControllerOption,
) (*RegisterController, error) {
	c, err := NewRegisterController(
		s.composition, userId, signer, ethSigner, alias, accountPublicKey, spendingPublicKey,
		depositValue, fee, depositor, opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateAddSigningKeyController(
	ctx context.Context, userId domain.UserId, signer ports.Signer, signingKeys []string,
	fee domain.AssetValue, opts ...ControllerOption,
) (*AddSigningKeyController, error) {
	c, err := NewAddSigningKeyController(s.composition, userId, signer, signingKeys, fee, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateMigrateAccountController(
	ctx context.Context, userId domain.UserId, signer ports.Signer,
	newAccountPublicKey, newSpendingPublicKey string, fee domain.AssetValue,
	opts ...ControllerOption,
) (*MigrateAccountController, error) {
	c, err := NewMigrateAccountController(
		s.composition, userId, signer, newAccountPublicKey, newSpendingPublicKey, fee, opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateRecoverAccountController(
	ctx context.Context, userId domain.UserId, signer ports.Signer, ethSigner ports.EthSigner,
	alias, recoveredSpendingPublicKey string, fee domain.AssetValue, depositor string,
	opts ...ControllerOption,
) (*RecoverAccountController, error) {
	c, err := NewRecoverAccountController(
		s.composition, userId, signer, ethSigner, alias, recoveredSpendingPublicKey, fee,
		depositor, opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Sdk) CreateDefiController(
	ctx context.Context, userId domain.UserId, signer ports.Signer,
	bridgeCallData domain.BridgeCallData, depositValue, fee domain.AssetValue,
	opts ...ControllerOption,
) (*DefiController, error) {
	c, err := NewDefiController(
		s.composition, userId, signer, bridgeCallData, depositValue, fee, opts...,
	)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return c, nil
}
