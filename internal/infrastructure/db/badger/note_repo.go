package badgerdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	dbutil "github.com/privrollup/walletd/internal/infrastructure/db/dbuitl"
	"github.com/timshannon/badgerhold/v4"
)

const noteStoreDir = "notes"

type noteRepository struct {
	store *badgerhold.Store
}

type noteDTO struct {
	Commitment string
	Nullifier  string `badgerhold:"index"`
	Owner      string `badgerhold:"index"`
	AssetId    uint32
	Value      string
	Index      uint64
	AllowChain bool
	Pending    bool
	Nullified  bool
	CreatedAt  int64
	UpdatedAt  int64
}

func NewNoteRepository(config ...interface{}) (domain.NoteRepository, error) {
	store, err := openStore(noteStoreDir, config...)
	if err != nil {
		return nil, fmt.Errorf("failed to open note store: %s", err)
	}
	return &noteRepository{store}, nil
}

func (r *noteRepository) AddNotes(ctx context.Context, notes []domain.Note) error {
	for _, note := range notes {
		dto := toNoteDTO(note)
		if err := upsert(ctx, r.store, note.Commitment, dto); err != nil {
			return fmt.Errorf("failed to add note %s: %w", note.Commitment, err)
		}
	}
	return nil
}

func (r *noteRepository) GetNote(ctx context.Context, commitment string) (*domain.Note, error) {
	var dto noteDTO
	found, err := get(ctx, r.store, commitment, &dto)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	note, err := dto.toDomain()
	if err != nil {
		return nil, err
	}
	return note, nil
}

func (r *noteRepository) GetNoteByNullifier(
	ctx context.Context, nullifier string,
) (*domain.Note, error) {
	notes, err := r.findNotes(ctx, badgerhold.Where("Nullifier").Eq(nullifier).Index("Nullifier"))
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, nil
	}
	return &notes[0], nil
}

func (r *noteRepository) GetSpendableNotes(
	ctx context.Context, userId domain.UserId, assetId uint32,
) ([]domain.Note, error) {
	query := badgerhold.Where("Owner").Eq(string(userId)).Index("Owner").
		And("AssetId").Eq(assetId).
		And("Nullified").Eq(false)
	return r.findNotes(ctx, query)
}

func (r *noteRepository) GetUserNotes(
	ctx context.Context, userId domain.UserId,
) ([]domain.Note, error) {
	query := badgerhold.Where("Owner").Eq(string(userId)).Index("Owner")
	return r.findNotes(ctx, query)
}

func (r *noteRepository) SettleNotes(ctx context.Context, commitments []string) error {
	for _, commitment := range commitments {
		var dto noteDTO
		found, err := get(ctx, r.store, commitment, &dto)
		if err != nil {
			return err
		}
		if !found || !dto.Pending {
			continue
		}
		dto.Pending = false
		dto.UpdatedAt = time.Now().UnixMilli()
		if err := upsert(ctx, r.store, commitment, dto); err != nil {
			return err
		}
	}
	return nil
}

func (r *noteRepository) NullifyNotes(ctx context.Context, nullifiers []string) (int, error) {
	count := 0
	for _, nullifier := range nullifiers {
		dtos := make([]noteDTO, 0)
		query := badgerhold.Where("Nullifier").Eq(nullifier).Index("Nullifier")
		if err := find(ctx, r.store, &dtos, query); err != nil {
			return count, err
		}
		for _, dto := range dtos {
			if dto.Nullified {
				continue
			}
			dto.Nullified = true
			dto.UpdatedAt = time.Now().UnixMilli()
			if err := upsert(ctx, r.store, dto.Commitment, dto); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

func (r *noteRepository) RemoveUserNotes(ctx context.Context, userId domain.UserId) error {
	query := badgerhold.Where("Owner").Eq(string(userId)).Index("Owner")
	return deleteMatching(ctx, r.store, noteDTO{}, query)
}

func (r *noteRepository) Close() {
	// nolint:all
	r.store.Close()
}

func (r *noteRepository) findNotes(
	ctx context.Context, query *badgerhold.Query,
) ([]domain.Note, error) {
	dtos := make([]noteDTO, 0)
	if err := find(ctx, r.store, &dtos, query); err != nil {
		return nil, err
	}
	notes := make([]domain.Note, 0, len(dtos))
	for _, dto := range dtos {
		note, err := dto.toDomain()
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	sort.SliceStable(notes, func(i, j int) bool {
		if notes[i].Pending != notes[j].Pending {
			return !notes[i].Pending
		}
		return notes[i].Index < notes[j].Index
	})
	return notes, nil
}

func toNoteDTO(note domain.Note) noteDTO {
	return noteDTO{
		Commitment: note.Commitment,
		Nullifier:  note.Nullifier,
		Owner:      string(note.Owner),
		AssetId:    note.AssetId,
		Value:      dbutil.FormatValue(note.Value),
		Index:      note.Index,
		AllowChain: note.AllowChain,
		Pending:    note.Pending,
		Nullified:  note.Nullified,
		CreatedAt:  note.CreatedAt,
		UpdatedAt:  time.Now().UnixMilli(),
	}
}

func (d noteDTO) toDomain() (*domain.Note, error) {
	value, err := dbutil.ParseValue(d.Value)
	if err != nil {
		return nil, err
	}
	return &domain.Note{
		Commitment: d.Commitment,
		Nullifier:  d.Nullifier,
		Owner:      domain.UserId(d.Owner),
		AssetId:    d.AssetId,
		Value:      value,
		Index:      d.Index,
		AllowChain: d.AllowChain,
		Pending:    d.Pending,
		Nullified:  d.Nullified,
		CreatedAt:  d.CreatedAt,
	}, nil
}
