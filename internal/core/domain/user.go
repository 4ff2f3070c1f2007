package domain

type User struct {
	Id                UserId
	ViewingPublicKey  string
	ViewingPrivateKey string
	SpendingPublicKey string
	Alias             string
	AccountRequired   bool
	// SyncedToBlock is the last rollup applied to this user's notes, -1 if
	// none.
	SyncedToBlock int64
	CreatedAt     int64
}
