package application

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/internal/infrastructure/db"
	watermillbus "github.com/privrollup/walletd/internal/infrastructure/event-bus/watermill"
	inmemorylocker "github.com/privrollup/walletd/internal/infrastructure/locker/inmemory"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	devnetprover "github.com/privrollup/walletd/internal/infrastructure/prover/devnet"
	"github.com/privrollup/walletd/internal/infrastructure/signer"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 20 * time.Millisecond

// testRollup is an in-process rollup provider: sent proofs wait in a pool
// until mine packs them into the next block.
type testRollup struct {
	lock      sync.Mutex
	fees      map[uint32]*domain.TxFees
	defiFee   *uint256.Int
	pool      []domain.BlockTx
	blocks    []domain.Block
	dataSize  uint64
	feeCalls  int
	sendCalls int
	sendErr   error
}

func newTestRollup() *testRollup {
	return &testRollup{
		fees: map[uint32]*domain.TxFees{
			0: feeSchedule(0, 0),
			1: feeSchedule(1, 0),
		},
		defiFee: uint256.NewInt(6),
	}
}

// feeSchedule quotes every tx type at two speeds, next rollup and instant.
func feeSchedule(assetId, feeAssetId uint32) *domain.TxFees {
	fees := make([][]domain.AssetValue, 0)
	for _, base := range []uint64{10, 5, 8, 30, 4, 6, 3} {
		fees = append(fees, []domain.AssetValue{
			domain.NewAssetValue(feeAssetId, uint256.NewInt(base)),
			domain.NewAssetValue(feeAssetId, uint256.NewInt(base+10)),
		})
	}
	return &domain.TxFees{AssetId: assetId, FeeAssetId: feeAssetId, Fees: fees}
}

func (r *testRollup) SendProofs(_ context.Context, proofs []domain.ProofOutput) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.sendCalls++
	if r.sendErr != nil {
		return nil, r.sendErr
	}
	txIds := make([]string, 0, len(proofs))
	txs := make([]domain.BlockTx, 0, len(proofs))
	for _, p := range proofs {
		tx, err := devnetprover.DecodeProofData(p.ProofData)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
		txIds = append(txIds, tx.TxId)
	}
	r.pool = append(r.pool, txs...)
	return txIds, nil
}

// mine packs the pool into a new block. Defi deposits get their
// interaction nonce here.
func (r *testRollup) mine(results ...domain.DefiInteractionResult) domain.Block {
	r.lock.Lock()
	defer r.lock.Unlock()

	rollupId := uint32(len(r.blocks))
	txs := r.pool
	r.pool = nil
	for i := range txs {
		if txs[i].ProofId == domain.ProofIdDefiDeposit {
			txs[i].InteractionNonce = rollupId*32 + uint32(i)
		}
	}
	block := domain.Block{
		RollupId:           rollupId,
		DataStartIndex:     r.dataSize,
		RollupSize:         uint32(len(txs)),
		DataRoot:           fmt.Sprintf("0xroot%d", rollupId),
		CreatedAt:          time.Now().Unix(),
		Txs:                txs,
		InteractionResults: results,
	}
	r.dataSize = block.NextDataIndex()
	r.blocks = append(r.blocks, block)
	return block
}

func (r *testRollup) GetBlocks(_ context.Context, from uint32) ([]domain.Block, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if int(from) >= len(r.blocks) {
		return nil, nil
	}
	return append([]domain.Block{}, r.blocks[from:]...), nil
}

func (r *testRollup) GetTxFees(_ context.Context, assetId uint32) (*domain.TxFees, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.feeCalls++
	fees, ok := r.fees[assetId]
	if !ok {
		return nil, fmt.Errorf("unknown asset %d", assetId)
	}
	return fees, nil
}

func (r *testRollup) GetDefiFees(
	_ context.Context, bridgeCallData domain.BridgeCallData,
) ([]domain.AssetValue, error) {
	return []domain.AssetValue{
		domain.NewAssetValue(bridgeCallData.InputAssetIdA, r.defiFee),
		domain.NewAssetValue(bridgeCallData.InputAssetIdA, new(uint256.Int).Mul(r.defiFee, uint256.NewInt(2))),
	}, nil
}

func (r *testRollup) GetStatus(_ context.Context) (*ports.RollupStatus, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return &ports.RollupStatus{
		ChainId:      1337,
		NextRollupId: uint32(len(r.blocks)),
		DataSize:     r.dataSize,
	}, nil
}

type testEnv struct {
	repos       ports.RepoManager
	rollup      *testRollup
	prover      ports.ProofCreator
	locker      ports.Locker
	bus         ports.EventBus
	decryptor   ports.NoteDecryptor
	picker      *NotePicker
	composition *PaymentComposition
	sync        *WorldStateSync
}

func newTestEnv(t *testing.T) *testEnv {
	ctx := context.Background()

	repos, err := db.NewService(db.ServiceConfig{
		DataStoreType:   "badger",
		DataStoreConfig: []interface{}{"", nil},
	})
	require.NoError(t, err)

	prover := devnetprover.NewProver()
	for _, circuit := range circuits {
		key, err := prover.ComputeProvingKey(ctx, circuit)
		require.NoError(t, err)
		require.NoError(t, prover.LoadProvingKey(ctx, circuit, key))
	}

	rollup := newTestRollup()
	locker := inmemorylocker.NewLocker()
	bus := watermillbus.NewEventBus()
	decryptor := notecrypto.NewDecryptor()
	picker := NewNotePicker(repos.Notes())

	t.Cleanup(func() {
		// nolint:errcheck
		bus.Close()
		repos.Close()
	})

	return &testEnv{
		repos:     repos,
		rollup:    rollup,
		prover:    prover,
		locker:    locker,
		bus:       bus,
		decryptor: decryptor,
		picker:    picker,
		composition: NewPaymentComposition(
			repos, picker, prover, rollup, nil, locker, bus, testPollInterval,
		),
		sync: NewWorldStateSync(repos, locker, decryptor, bus),
	}
}

// addUser registers a user identified by its viewing public key.
func (e *testEnv) addUser(t *testing.T) (domain.User, ports.Signer) {
	pub, priv, err := notecrypto.GenerateViewingKey()
	require.NoError(t, err)
	key, err := signer.GenerateSpendingKey()
	require.NoError(t, err)
	s, err := signer.NewSpendingSigner(key)
	require.NoError(t, err)

	user := domain.User{
		Id:                domain.UserId(pub),
		ViewingPublicKey:  pub,
		ViewingPrivateKey: priv,
		SpendingPublicKey: s.PublicKey(),
		SyncedToBlock:     e.sync.GetWorldState().SyncedToBlock,
		CreatedAt:         time.Now().Unix(),
	}
	require.NoError(t, e.repos.Users().AddUser(context.Background(), user))
	return user, s
}

// addNotes stores settled notes of the given values for userId.
func (e *testEnv) addNotes(
	t *testing.T, userId domain.UserId, assetId uint32, values ...uint64,
) []domain.Note {
	notes := make([]domain.Note, 0, len(values))
	for i, v := range values {
		notes = append(notes, domain.Note{
			Commitment: randomHex(t),
			Nullifier:  randomHex(t),
			Owner:      userId,
			AssetId:    assetId,
			Value:      uint256.NewInt(v),
			Index:      uint64(i),
		})
	}
	require.NoError(t, e.repos.Notes().AddNotes(context.Background(), notes))
	return notes
}

// mineAndSync mines the pool and applies the new block.
func (e *testEnv) mineAndSync(t *testing.T, results ...domain.DefiInteractionResult) domain.Block {
	block := e.rollup.mine(results...)
	applied, err := e.sync.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	require.True(t, applied)
	return block
}

func (e *testEnv) balance(t *testing.T, userId domain.UserId, assetId uint32) uint64 {
	sum, err := e.picker.GetSpendableSum(context.Background(), userId, assetId)
	require.NoError(t, err)
	return sum.Uint64()
}

func randomHex(t *testing.T) string {
	buf := make([]byte, 32)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(buf)
}

func values(notes []domain.Note) []uint64 {
	out := make([]uint64, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Value.Uint64())
	}
	return out
}

// mineBlock applies a hand-built block.
func (e *testEnv) mineBlock(t *testing.T, block domain.Block) {
	applied, err := e.sync.ProcessBlock(context.Background(), block)
	require.NoError(t, err)
	require.True(t, applied)
}

// withChain returns a composition of the env backed by chain.
func (e *testEnv) withChain(chain ports.Chain) *PaymentComposition {
	return NewPaymentComposition(
		e.repos, e.picker, e.prover, e.rollup, chain, e.locker, e.bus, testPollInterval,
	)
}

type mockedChain struct {
	mock.Mock
}

func (m *mockedChain) DepositPendingFunds(
	ctx context.Context, assetId uint32, amount *uint256.Int, depositor string,
) (string, error) {
	args := m.Called(ctx, assetId, amount, depositor)
	return args.String(0), args.Error(1)
}

func (m *mockedChain) GetUserPendingDeposit(
	ctx context.Context, assetId uint32, depositor string,
) (*uint256.Int, error) {
	args := m.Called(ctx, assetId, depositor)
	var res *uint256.Int
	if a := args.Get(0); a != nil {
		res = a.(*uint256.Int)
	}
	return res, args.Error(1)
}

func (m *mockedChain) ApproveProof(ctx context.Context, depositor string, txId string) (string, error) {
	args := m.Called(ctx, depositor, txId)
	return args.String(0), args.Error(1)
}

func (m *mockedChain) GetProofApprovalStatus(
	ctx context.Context, depositor string, txId string,
) (bool, error) {
	args := m.Called(ctx, depositor, txId)
	return args.Bool(0), args.Error(1)
}

func amountOf(value uint64) interface{} {
	return mock.MatchedBy(func(v *uint256.Int) bool {
		return v != nil && v.Uint64() == value
	})
}

// flakyRepos fails the next writes of the notes and txs repositories as
// many times as asked.
type flakyRepos struct {
	ports.RepoManager
	notes *flakyNotes
	txs   *flakyTxs
}

func newFlakyRepos(repos ports.RepoManager) *flakyRepos {
	return &flakyRepos{
		RepoManager: repos,
		notes:       &flakyNotes{NoteRepository: repos.Notes()},
		txs:         &flakyTxs{TxRepository: repos.Txs()},
	}
}

func (r *flakyRepos) Notes() domain.NoteRepository {
	return r.notes
}

func (r *flakyRepos) Txs() domain.TxRepository {
	return r.txs
}

type failures struct {
	lock sync.Mutex
	left int
}

func (f *failures) fail(n int) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.left = n
}

func (f *failures) next() error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.left == 0 {
		return nil
	}
	f.left--
	return fmt.Errorf("store unavailable")
}

type flakyNotes struct {
	domain.NoteRepository
	adds failures
}

func (r *flakyNotes) AddNotes(ctx context.Context, notes []domain.Note) error {
	if err := r.adds.next(); err != nil {
		return err
	}
	return r.NoteRepository.AddNotes(ctx, notes)
}

type flakyTxs struct {
	domain.TxRepository
	adds failures
}

func (r *flakyTxs) AddTxs(ctx context.Context, txs []domain.UserTx) error {
	if err := r.adds.next(); err != nil {
		return err
	}
	return r.TxRepository.AddTxs(ctx, txs)
}
