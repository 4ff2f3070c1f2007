package ports

import "github.com/privrollup/walletd/internal/core/domain"

type RepoManager interface {
	Notes() domain.NoteRepository
	Txs() domain.TxRepository
	Users() domain.UserRepository
	WorldState() domain.WorldStateRepository
	Close()
}
