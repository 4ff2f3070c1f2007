package domain

type WorldState struct {
	Root string
	// Size is the number of leaves in the data tree.
	Size          uint64
	SyncedToBlock int64
	UpdatedAt     int64
}

func NewWorldState() WorldState {
	return WorldState{SyncedToBlock: -1}
}
