package pgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/privrollup/walletd/internal/core/domain"
	dbutil "github.com/privrollup/walletd/internal/infrastructure/db/dbuitl"
	"github.com/privrollup/walletd/internal/infrastructure/db/postgres/sqlc/queries"
)

type noteRepository struct {
	db      *sql.DB
	querier *queries.Queries
}

func NewNoteRepository(config ...interface{}) (domain.NoteRepository, error) {
	if len(config) != 1 {
		return nil, fmt.Errorf("invalid config")
	}
	db, ok := config[0].(*sql.DB)
	if !ok {
		return nil, fmt.Errorf("cannot open note repository: invalid config, expected db at 0")
	}

	return &noteRepository{
		db:      db,
		querier: queries.New(db),
	}, nil
}

func (r *noteRepository) AddNotes(ctx context.Context, notes []domain.Note) error {
	if len(notes) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		for _, note := range notes {
			if err := querierWithTx.UpsertNote(ctx, queries.UpsertNoteParams{
				Commitment: note.Commitment,
				Nullifier:  note.Nullifier,
				Owner:      string(note.Owner),
				AssetID:    int64(note.AssetId),
				Value:      dbutil.FormatValue(note.Value),
				LeafIndex:  int64(note.Index),
				AllowChain: note.AllowChain,
				Pending:    note.Pending,
				Nullified:  note.Nullified,
				CreatedAt:  note.CreatedAt,
				UpdatedAt:  now,
			}); err != nil {
				return fmt.Errorf("failed to upsert note %s: %w", note.Commitment, err)
			}
		}
		return nil
	})
}

func (r *noteRepository) GetNote(ctx context.Context, commitment string) (*domain.Note, error) {
	row, err := r.querier.SelectNote(ctx, commitment)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return toNote(row)
}

func (r *noteRepository) GetNoteByNullifier(
	ctx context.Context, nullifier string,
) (*domain.Note, error) {
	row, err := r.querier.SelectNoteByNullifier(ctx, nullifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return toNote(row)
}

func (r *noteRepository) GetSpendableNotes(
	ctx context.Context, userId domain.UserId, assetId uint32,
) ([]domain.Note, error) {
	rows, err := r.querier.SelectSpendableNotes(ctx, queries.SelectSpendableNotesParams{
		Owner:   string(userId),
		AssetID: int64(assetId),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get spendable notes: %w", err)
	}
	return toNotes(rows)
}

func (r *noteRepository) GetUserNotes(
	ctx context.Context, userId domain.UserId,
) ([]domain.Note, error) {
	rows, err := r.querier.SelectUserNotes(ctx, string(userId))
	if err != nil {
		return nil, fmt.Errorf("failed to get user notes: %w", err)
	}
	return toNotes(rows)
}

func (r *noteRepository) SettleNotes(ctx context.Context, commitments []string) error {
	if len(commitments) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		for _, commitment := range commitments {
			if err := querierWithTx.SettleNote(ctx, queries.SettleNoteParams{
				UpdatedAt:  now,
				Commitment: commitment,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *noteRepository) NullifyNotes(ctx context.Context, nullifiers []string) (int, error) {
	if len(nullifiers) == 0 {
		return 0, nil
	}
	count := 0
	now := time.Now().UnixMilli()
	err := execTx(ctx, r.db, func(querierWithTx *queries.Queries) error {
		count = 0
		for _, nullifier := range nullifiers {
			n, err := querierWithTx.NullifyNotes(ctx, queries.NullifyNotesParams{
				UpdatedAt: now,
				Nullifier: nullifier,
			})
			if err != nil {
				return err
			}
			count += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to nullify notes: %w", err)
	}
	return count, nil
}

func (r *noteRepository) RemoveUserNotes(ctx context.Context, userId domain.UserId) error {
	return r.querier.DeleteUserNotes(ctx, string(userId))
}

func (r *noteRepository) Close() {
	_ = r.db.Close()
}

func toNote(row queries.Note) (*domain.Note, error) {
	value, err := dbutil.ParseValue(row.Value)
	if err != nil {
		return nil, err
	}
	return &domain.Note{
		Commitment: row.Commitment,
		Nullifier:  row.Nullifier,
		Owner:      domain.UserId(row.Owner),
		AssetId:    uint32(row.AssetID),
		Value:      value,
		Index:      uint64(row.LeafIndex),
		AllowChain: row.AllowChain,
		Pending:    row.Pending,
		Nullified:  row.Nullified,
		CreatedAt:  row.CreatedAt,
	}, nil
}

func toNotes(rows []queries.Note) ([]domain.Note, error) {
	notes := make([]domain.Note, 0, len(rows))
	for _, row := range rows {
		note, err := toNote(row)
		if err != nil {
			return nil, err
		}
		notes = append(notes, *note)
	}
	return notes, nil
}
