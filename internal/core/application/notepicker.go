package application

import (
	"context"
	"fmt"
	"sort"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/pkg/errors"
)

type PickOption func(options *pickOptions) error

// WithExcludePendingNotes drops notes not yet settled from the candidates.
func WithExcludePendingNotes(exclude bool) PickOption {
	return func(o *pickOptions) error {
		o.excludePending = exclude
		return nil
	}
}

// WithExcludedNotes drops the notes with the given commitments from the
// candidates.
func WithExcludedNotes(commitments ...string) PickOption {
	return func(o *pickOptions) error {
		for _, c := range commitments {
			o.excluded[c] = struct{}{}
		}
		return nil
	}
}

// WithFeeSurplus makes the picker prefer note pairs that also cover the given
// extra amount.
func WithFeeSurplus(value *uint256.Int) PickOption {
	return func(o *pickOptions) error {
		if value == nil {
			return fmt.Errorf("missing fee surplus")
		}
		o.surplus = value.Clone()
		return nil
	}
}

type pickOptions struct {
	excludePending bool
	excluded       map[string]struct{}
	surplus        *uint256.Int
}

func newDefaultPickOptions() *pickOptions {
	return &pickOptions{excluded: make(map[string]struct{})}
}

func applyPickOptions(opts []PickOption) (*pickOptions, error) {
	o := newDefaultPickOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// NotePicker selects the notes to consume for a payment. Reads are not
// locked: a concurrent block may spend a picked note, which surfaces as a
// conflict when the proof is sent.
type NotePicker struct {
	notes domain.NoteRepository
}

func NewNotePicker(notes domain.NoteRepository) *NotePicker {
	return &NotePicker{notes}
}

// PickNotes returns at most MaxNotesPerProof notes summing to value or more.
// An empty result means the spendable notes can't cover value.
func (p *NotePicker) PickNotes(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	opts ...PickOption,
) ([]domain.Note, error) {
	o, err := applyPickOptions(opts)
	if err != nil {
		return nil, err
	}
	candidates, err := p.candidates(ctx, userId, assetId, o)
	if err != nil {
		return nil, err
	}
	return selectForTarget(candidates, value, o.surplus), nil
}

// PickNote returns the smallest note worth value or more, nil if none.
func (p *NotePicker) PickNote(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	opts ...PickOption,
) (*domain.Note, error) {
	o, err := applyPickOptions(opts)
	if err != nil {
		return nil, err
	}
	candidates, err := p.candidates(ctx, userId, assetId, o)
	if err != nil {
		return nil, err
	}
	for _, n := range candidates {
		if n.Value.Cmp(value) >= 0 {
			note := n
			return &note, nil
		}
	}
	return nil, nil
}

// RequireNotes is like PickNotes but falls back to more than MaxNotesPerProof
// notes, to be merged by chained join-splits, and fails with
// INSUFFICIENT_NOTES when nothing covers value.
func (p *NotePicker) RequireNotes(
	ctx context.Context, userId domain.UserId, assetId uint32, value *uint256.Int,
	opts ...PickOption,
) ([]domain.Note, error) {
	o, err := applyPickOptions(opts)
	if err != nil {
		return nil, err
	}
	candidates, err := p.candidates(ctx, userId, assetId, o)
	if err != nil {
		return nil, err
	}
	if notes := selectForTarget(candidates, value, o.surplus); len(notes) > 0 {
		return notes, nil
	}
	if notes := selectMany(candidates, value); len(notes) > 0 {
		return notes, nil
	}

	md := errors.InsufficientNotesMetadata{
		UserId:    userId.String(),
		AssetId:   int(assetId),
		Required:  value.Dec(),
		Available: domain.SumNotes(candidates).Dec(),
	}
	if o.excludePending {
		o.excludePending = false
		all, err := p.candidates(ctx, userId, assetId, o)
		if err != nil {
			return nil, err
		}
		md.AvailableWithPending = domain.SumNotes(all).Dec()
	}
	return nil, errors.INSUFFICIENT_NOTES.New(
		"user %s can't cover %s of asset %d", userId, value.Dec(), assetId,
	).WithMetadata(md)
}

func (p *NotePicker) GetSpendableSum(
	ctx context.Context, userId domain.UserId, assetId uint32, opts ...PickOption,
) (*uint256.Int, error) {
	notes, err := p.spendable(ctx, userId, assetId, opts)
	if err != nil {
		return nil, err
	}
	return domain.SumNotes(notes), nil
}

func (p *NotePicker) GetSpendableNoteValues(
	ctx context.Context, userId domain.UserId, assetId uint32, opts ...PickOption,
) ([]*uint256.Int, error) {
	notes, err := p.spendable(ctx, userId, assetId, opts)
	if err != nil {
		return nil, err
	}
	return domain.NoteValues(notes), nil
}

// GetMaxSpendableNoteValues returns the values of the numNotes largest
// notes, largest first. numNotes <= 0 defaults to MaxNotesPerProof.
func (p *NotePicker) GetMaxSpendableNoteValues(
	ctx context.Context, userId domain.UserId, assetId uint32, numNotes int,
	opts ...PickOption,
) ([]*uint256.Int, error) {
	if numNotes <= 0 {
		numNotes = domain.MaxNotesPerProof
	}
	notes, err := p.spendable(ctx, userId, assetId, opts)
	if err != nil {
		return nil, err
	}
	values := make([]*uint256.Int, 0, numNotes)
	for i := len(notes) - 1; i >= 0 && len(values) < numNotes; i-- {
		values = append(values, notes[i].Value.Clone())
	}
	return values, nil
}

func (p *NotePicker) spendable(
	ctx context.Context, userId domain.UserId, assetId uint32, opts []PickOption,
) ([]domain.Note, error) {
	o, err := applyPickOptions(opts)
	if err != nil {
		return nil, err
	}
	return p.candidates(ctx, userId, assetId, o)
}

// candidates returns the eligible notes sorted by value, settled notes
// before pending ones of the same value.
func (p *NotePicker) candidates(
	ctx context.Context, userId domain.UserId, assetId uint32, o *pickOptions,
) ([]domain.Note, error) {
	notes, err := p.notes.GetSpendableNotes(ctx, userId, assetId)
	if err != nil {
		return nil, fmt.Errorf("failed to get spendable notes: %w", err)
	}

	candidates := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if !n.IsSpendable() || n.Value == nil {
			continue
		}
		if o.excludePending && n.Pending {
			continue
		}
		if _, ok := o.excluded[n.Commitment]; ok {
			continue
		}
		candidates = append(candidates, n)
	}
	sortNotes(candidates)
	return candidates, nil
}

func sortNotes(notes []domain.Note) {
	sort.SliceStable(notes, func(i, j int) bool {
		a, b := notes[i], notes[j]
		if c := a.Value.Cmp(b.Value); c != 0 {
			return c < 0
		}
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Commitment < b.Commitment
	})
}

// selectForTarget picks from notes, sorted by sortNotes, the fewest notes
// reaching target: an exact single note, then an exact pair, then the
// smallest single note above target, then the best pair above it.
func selectForTarget(notes []domain.Note, target, surplus *uint256.Int) []domain.Note {
	if target == nil {
		return nil
	}

	for _, n := range notes {
		if n.Value.Eq(target) {
			return []domain.Note{n}
		}
	}

	if pair := bestPair(notes, target, nil, true); pair != nil {
		return pair
	}

	var single *domain.Note
	for i := range notes {
		if notes[i].Value.Cmp(target) < 0 {
			continue
		}
		if single == nil {
			single = &notes[i]
		}
		if surplus == nil || covers(notes[i].Value, target, surplus) {
			single = &notes[i]
			break
		}
	}
	if single != nil {
		return []domain.Note{*single}
	}

	return bestPair(notes, target, surplus, false)
}

type notePair struct {
	i, j    int
	sum     *uint256.Int
	pending int
}

// bestPair returns the pair reaching target with, in order of preference:
// enough surplus left to cover the fee, the smallest sum, fewer pending
// notes, the lowest position.
func bestPair(notes []domain.Note, target, surplus *uint256.Int, exact bool) []domain.Note {
	var best *notePair
	for i := 0; i < len(notes); i++ {
		for j := i + 1; j < len(notes); j++ {
			sum := new(uint256.Int).Add(notes[i].Value, notes[j].Value)
			if exact && !sum.Eq(target) {
				continue
			}
			if sum.Cmp(target) < 0 {
				continue
			}
			pending := 0
			if notes[i].Pending {
				pending++
			}
			if notes[j].Pending {
				pending++
			}
			candidate := &notePair{i, j, sum, pending}
			if best == nil || candidate.better(best, target, surplus) {
				best = candidate
			}
		}
	}
	if best == nil {
		return nil
	}
	return []domain.Note{notes[best.i], notes[best.j]}
}

func (p *notePair) better(other *notePair, target, surplus *uint256.Int) bool {
	if surplus != nil {
		a, b := covers(p.sum, target, surplus), covers(other.sum, target, surplus)
		if a != b {
			return a
		}
	}
	if c := p.sum.Cmp(other.sum); c != 0 {
		return c < 0
	}
	if p.pending != other.pending {
		return p.pending < other.pending
	}
	if p.i != other.i {
		return p.i < other.i
	}
	return p.j < other.j
}

func covers(value, target, surplus *uint256.Int) bool {
	required, overflow := new(uint256.Int).AddOverflow(target, surplus)
	if overflow {
		return false
	}
	return value.Cmp(required) >= 0
}

// selectMany picks more than MaxNotesPerProof notes, largest first, then
// swaps the last one for the smallest note that still reaches target.
func selectMany(notes []domain.Note, target *uint256.Int) []domain.Note {
	sum := uint256.NewInt(0)
	picked := make([]domain.Note, 0)
	next := len(notes) - 1
	for ; next >= 0 && sum.Cmp(target) < 0; next-- {
		picked = append(picked, notes[next])
		sum.Add(sum, notes[next].Value)
	}
	if sum.Cmp(target) < 0 {
		return nil
	}

	last := len(picked) - 1
	rest := new(uint256.Int).Sub(sum, picked[last].Value)
	for i := 0; i <= next; i++ {
		if new(uint256.Int).Add(rest, notes[i].Value).Cmp(target) >= 0 {
			picked[last] = notes[i]
			break
		}
	}
	return picked
}
