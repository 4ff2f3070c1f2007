package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/pkg/errors"
)

const defaultFeeCacheTTL = time.Minute

// RoundUp rounds v up to the given number of significant decimal digits.
// Non-positive sigFigs leave v untouched.
func RoundUp(v *uint256.Int, sigFigs int) *uint256.Int {
	if v == nil {
		return uint256.NewInt(0)
	}
	digits := len(v.Dec())
	if sigFigs <= 0 || digits <= sigFigs {
		return v.Clone()
	}
	pow := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(digits-sigFigs)))
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(v, pow, r)
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q.Mul(q, pow)
}

// RequiredFee is baseFee plus one transferFee for every merge and every
// extra fee tx, rounded up.
func RequiredFee(baseFee, transferFee *uint256.Int, numMerges, numFeeTxs, sigFigs int) *uint256.Int {
	extra := new(uint256.Int).Mul(transferFee, uint256.NewInt(uint64(numMerges+numFeeTxs)))
	return RoundUp(extra.Add(extra, baseFee), sigFigs)
}

type FeeOption func(options *feeOptions) error

// WithSpender makes the fee account for the merges the user needs to spend
// value.
func WithSpender(userId domain.UserId, value *uint256.Int) FeeOption {
	return func(o *feeOptions) error {
		if value == nil {
			return fmt.Errorf("missing spend value")
		}
		o.spender = userId
		o.value = value.Clone()
		return nil
	}
}

// WithFeePayer sets the user paying the fee when it differs from the
// spender or the fee asset differs from the payment asset.
func WithFeePayer(userId domain.UserId) FeeOption {
	return func(o *feeOptions) error {
		o.feePayer = userId
		return nil
	}
}

func WithFeeExcludePendingNotes() FeeOption {
	return func(o *feeOptions) error {
		o.excludePending = true
		return nil
	}
}

func WithHighGasWithdraw() FeeOption {
	return func(o *feeOptions) error {
		o.highGas = true
		return nil
	}
}

type feeOptions struct {
	spender        domain.UserId
	value          *uint256.Int
	feePayer       domain.UserId
	excludePending bool
	highGas        bool
}

func (o *feeOptions) payer() domain.UserId {
	if o.feePayer != "" {
		return o.feePayer
	}
	return o.spender
}

type cachedFees struct {
	fees      *domain.TxFees
	expiresAt time.Time
}

// FeeResolver quotes fees from the provider's schedules, accounting for
// the extra txs a payment needs: merges of more than MaxNotesPerProof notes
// and the fee-only proof paying in another asset.
type FeeResolver struct {
	rollup  ports.RollupProvider
	picker  *NotePicker
	sigFigs int
	ttl     time.Duration

	lock  *sync.Mutex
	cache map[uint32]cachedFees
}

func NewFeeResolver(
	rollup ports.RollupProvider, picker *NotePicker, sigFigs int, ttl time.Duration,
) *FeeResolver {
	if ttl <= 0 {
		ttl = defaultFeeCacheTTL
	}
	return &FeeResolver{
		rollup:  rollup,
		picker:  picker,
		sigFigs: sigFigs,
		ttl:     ttl,
		lock:    &sync.Mutex{},
		cache:   make(map[uint32]cachedFees),
	}
}

func (r *FeeResolver) GetDepositFees(
	ctx context.Context, assetId uint32, opts ...FeeOption,
) ([]domain.AssetValue, error) {
	return r.getTxFees(ctx, assetId, []domain.TxType{domain.TxTypeDeposit}, false, opts)
}

func (r *FeeResolver) GetTransferFees(
	ctx context.Context, assetId uint32, opts ...FeeOption,
) ([]domain.AssetValue, error) {
	return r.getTxFees(ctx, assetId, []domain.TxType{domain.TxTypeTransfer}, true, opts)
}

func (r *FeeResolver) GetWithdrawFees(
	ctx context.Context, assetId uint32, opts ...FeeOption,
) ([]domain.AssetValue, error) {
	o, err := newFeeOptions(opts)
	if err != nil {
		return nil, err
	}
	txType := domain.TxTypeWithdrawToWallet
	if o.highGas {
		txType = domain.TxTypeWithdrawHighGas
	}
	return r.getTxFees(ctx, assetId, []domain.TxType{txType}, true, opts)
}

// GetRegisterFees quotes an account registration whose fee is paid by a
// deposit of assetId in the same batch.
func (r *FeeResolver) GetRegisterFees(
	ctx context.Context, assetId uint32,
) ([]domain.AssetValue, error) {
	return r.getTxFees(
		ctx, assetId, []domain.TxType{domain.TxTypeAccount, domain.TxTypeDeposit}, false, nil,
	)
}

// GetProofTxsFees quotes a batch made of the given tx types whose fee is
// paid by a fee-only proof in assetId.
func (r *FeeResolver) GetProofTxsFees(
	ctx context.Context, assetId uint32, txTypes []domain.TxType, opts ...FeeOption,
) ([]domain.AssetValue, error) {
	o, err := newFeeOptions(opts)
	if err != nil {
		return nil, err
	}
	schedule, err := r.getSchedule(ctx, assetId)
	if err != nil {
		return nil, err
	}
	bases, err := sumBaseFees(schedule, txTypes)
	if err != nil {
		return nil, err
	}
	transferFee := transferFeeOf(schedule)

	fees := make([]domain.AssetValue, 0, len(bases))
	for _, base := range bases {
		fee, err := r.resolveFeeNotes(ctx, schedule.FeeAssetId, base, transferFee, 0, o)
		if err != nil {
			return nil, err
		}
		fees = append(fees, domain.NewAssetValue(schedule.FeeAssetId, fee))
	}
	return fees, nil
}

// GetDefiFees quotes a defi deposit, adding one transfer fee for every
// join-split needed to get exact input notes when a spender is given.
func (r *FeeResolver) GetDefiFees(
	ctx context.Context, bridgeCallData domain.BridgeCallData, opts ...FeeOption,
) ([]domain.AssetValue, error) {
	o, err := newFeeOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := bridgeCallData.Validate(); err != nil {
		return nil, err
	}
	bases, err := r.rollup.GetDefiFees(ctx, bridgeCallData)
	if err != nil {
		return nil, fmt.Errorf("failed to get defi fees: %w", err)
	}
	schedule, err := r.getSchedule(ctx, bridgeCallData.InputAssetIdA)
	if err != nil {
		return nil, err
	}
	transferFee := transferFeeOf(schedule)

	fees := make([]domain.AssetValue, 0, len(bases))
	for _, base := range bases {
		if base.AssetId != bridgeCallData.InputAssetIdA {
			return nil, errors.VALIDATION_ERROR.New(
				"defi fee must be paid in input asset %d", bridgeCallData.InputAssetIdA,
			)
		}
		numTxs := 0
		if o.spender != "" {
			fee := RoundUp(base.Value, r.sigFigs)
			numTxs, err = r.defiJoinSplits(ctx, bridgeCallData, o, fee)
			if err != nil {
				return nil, err
			}
		}
		fees = append(fees, domain.NewAssetValue(
			base.AssetId, RequiredFee(base.Value, transferFee, numTxs, 0, r.sigFigs),
		))
	}
	return fees, nil
}

func (r *FeeResolver) defiJoinSplits(
	ctx context.Context, bridgeCallData domain.BridgeCallData, o *feeOptions, fee *uint256.Int,
) (int, error) {
	pickOpts := []PickOption{WithExcludePendingNotes(o.excludePending)}
	count := func(assetId uint32, value *uint256.Int) (int, error) {
		notes, err := r.picker.PickNotes(ctx, o.spender, assetId, value, pickOpts...)
		if err != nil {
			return 0, err
		}
		if len(notes) == 1 && notes[0].Value.Eq(value) {
			return 0, nil
		}
		if len(notes) == domain.MaxNotesPerProof && bridgeCallData.NumInputAssets() == 1 &&
			domain.SumNotes(notes).Eq(value) {
			return 0, nil
		}
		if len(notes) > 0 {
			return 1, nil
		}
		notes, err = r.picker.RequireNotes(ctx, o.spender, assetId, value, pickOpts...)
		if err != nil {
			// Quote without merges, the controller reports the shortage.
			return 1, nil
		}
		return len(notes) - 1, nil
	}

	numTxs, err := count(bridgeCallData.InputAssetIdA, new(uint256.Int).Add(o.value, fee))
	if err != nil {
		return 0, err
	}
	if bridgeCallData.InputAssetIdB != nil {
		n, err := count(*bridgeCallData.InputAssetIdB, o.value)
		if err != nil {
			return 0, err
		}
		numTxs += n
	}
	return numTxs, nil
}

func (r *FeeResolver) getTxFees(
	ctx context.Context, assetId uint32, txTypes []domain.TxType, private bool,
	opts []FeeOption,
) ([]domain.AssetValue, error) {
	o, err := newFeeOptions(opts)
	if err != nil {
		return nil, err
	}
	schedule, err := r.getSchedule(ctx, assetId)
	if err != nil {
		return nil, err
	}
	bases, err := sumBaseFees(schedule, txTypes)
	if err != nil {
		return nil, err
	}
	transferFee := transferFeeOf(schedule)
	sameAsset := schedule.FeeAssetId == assetId && o.payer() == o.spender

	fees := make([]domain.AssetValue, 0, len(bases))
	for _, base := range bases {
		var fee *uint256.Int
		if sameAsset {
			numMerges := 0
			if private && o.spender != "" {
				numMerges, err = r.numMerges(ctx, assetId, base, transferFee, o)
				if err != nil {
					return nil, err
				}
			}
			fee = RequiredFee(base, transferFee, numMerges, 0, r.sigFigs)
		} else {
			numMerges := 0
			if private && o.spender != "" {
				numMerges, err = r.countMerges(ctx, o.spender, assetId, o.value, o)
				if err != nil {
					return nil, err
				}
			}
			fee, err = r.resolveFeeNotes(ctx, schedule.FeeAssetId, base, transferFee, numMerges, o)
			if err != nil {
				return nil, err
			}
		}
		fees = append(fees, domain.NewAssetValue(schedule.FeeAssetId, fee))
	}
	return fees, nil
}

// numMerges iterates the merge count to a fixed point: the fee changes the
// notes needed, which changes the merges paid by the fee.
func (r *FeeResolver) numMerges(
	ctx context.Context, assetId uint32, base, transferFee *uint256.Int, o *feeOptions,
) (int, error) {
	numMerges := 0
	for i := 0; i < 4; i++ {
		fee := RequiredFee(base, transferFee, numMerges, 0, r.sigFigs)
		value := new(uint256.Int).Add(o.value, fee)
		next, err := r.countMerges(ctx, o.spender, assetId, value, o)
		if err != nil {
			return 0, err
		}
		if next == numMerges {
			break
		}
		numMerges = next
	}
	return numMerges, nil
}

func (r *FeeResolver) countMerges(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	o *feeOptions,
) (int, error) {
	if value == nil {
		return 0, nil
	}
	notes, err := r.picker.RequireNotes(
		ctx, userId, assetId, value, WithExcludePendingNotes(o.excludePending),
	)
	if err != nil {
		if errors.INSUFFICIENT_NOTES.Is(err) {
			return 0, nil
		}
		return 0, err
	}
	return numMergesFor(len(notes)), nil
}

// resolveFeeNotes returns the fee of a payment whose fee is paid by a
// separate proof, trying increasing counts of the payer's largest fee
// notes until they cover it.
func (r *FeeResolver) resolveFeeNotes(
	ctx context.Context, feeAssetId uint32, base, transferFee *uint256.Int, numMerges int,
	o *feeOptions,
) (*uint256.Int, error) {
	payer := o.payer()
	if payer == "" {
		return RequiredFee(base, transferFee, numMerges, 1, r.sigFigs), nil
	}

	values, err := r.picker.GetSpendableNoteValues(
		ctx, payer, feeAssetId, WithExcludePendingNotes(o.excludePending),
	)
	if err != nil {
		return nil, err
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Gt(values[j]) })

	available := uint256.NewInt(0)
	var fee *uint256.Int
	for numFeeNotes := 1; numFeeNotes <= len(values); numFeeNotes++ {
		available.Add(available, values[numFeeNotes-1])
		fee = RequiredFee(base, transferFee, numMerges, max(1, numFeeNotes-1), r.sigFigs)
		if available.Cmp(fee) >= 0 {
			return fee, nil
		}
	}
	if fee == nil {
		fee = RequiredFee(base, transferFee, numMerges, 1, r.sigFigs)
	}
	return nil, errors.INSUFFICIENT_FEE.New(
		"user %s can't cover fee %s of asset %d", payer, fee.Dec(), feeAssetId,
	).WithMetadata(errors.InsufficientFeeMetadata{
		UserId:     payer.String(),
		FeeAssetId: int(feeAssetId),
		Required:   fee.Dec(),
		Available:  available.Dec(),
	})
}

func (r *FeeResolver) getSchedule(ctx context.Context, assetId uint32) (*domain.TxFees, error) {
	r.lock.Lock()
	cached, ok := r.cache[assetId]
	r.lock.Unlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.fees, nil
	}

	fees, err := r.rollup.GetTxFees(ctx, assetId)
	if err != nil {
		return nil, fmt.Errorf("failed to get fees of asset %d: %w", assetId, err)
	}

	r.lock.Lock()
	r.cache[assetId] = cachedFees{fees, time.Now().Add(r.ttl)}
	r.lock.Unlock()
	return fees, nil
}

// FeeAssetId returns the asset paying the fees of assetId.
func (r *FeeResolver) FeeAssetId(ctx context.Context, assetId uint32) (uint32, error) {
	schedule, err := r.getSchedule(ctx, assetId)
	if err != nil {
		return 0, err
	}
	return schedule.FeeAssetId, nil
}

func newFeeOptions(opts []FeeOption) (*feeOptions, error) {
	o := &feeOptions{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// sumBaseFees adds up the base fees of txTypes, one value per settlement
// speed.
func sumBaseFees(schedule *domain.TxFees, txTypes []domain.TxType) ([]*uint256.Int, error) {
	var bases []*uint256.Int
	for _, txType := range txTypes {
		fees := schedule.For(txType)
		if len(fees) == 0 {
			return nil, fmt.Errorf("missing %s fees for asset %d", txType, schedule.AssetId)
		}
		if bases == nil {
			bases = make([]*uint256.Int, len(fees))
			for i := range bases {
				bases[i] = uint256.NewInt(0)
			}
		}
		for i := 0; i < len(bases) && i < len(fees); i++ {
			if fees[i].Value != nil {
				bases[i].Add(bases[i], fees[i].Value)
			}
		}
	}
	return bases, nil
}

func transferFeeOf(schedule *domain.TxFees) *uint256.Int {
	fees := schedule.For(domain.TxTypeTransfer)
	if len(fees) == 0 || fees[0].Value == nil {
		return uint256.NewInt(0)
	}
	return fees[0].Value
}

func numMergesFor(numNotes int) int {
	return max(0, numNotes-domain.MaxNotesPerProof)
}
