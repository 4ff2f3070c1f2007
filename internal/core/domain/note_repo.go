package domain

import "context"

type NoteRepository interface {
	AddNotes(ctx context.Context, notes []Note) error
	GetNote(ctx context.Context, commitment string) (*Note, error)
	GetNoteByNullifier(ctx context.Context, nullifier string) (*Note, error)
	// GetSpendableNotes returns all unnullified notes, pending ones included.
	GetSpendableNotes(ctx context.Context, userId UserId, assetId uint32) ([]Note, error)
	GetUserNotes(ctx context.Context, userId UserId) ([]Note, error)
	SettleNotes(ctx context.Context, commitments []string) error
	NullifyNotes(ctx context.Context, nullifiers []string) (int, error)
	RemoveUserNotes(ctx context.Context, userId UserId) error
	Close()
}
