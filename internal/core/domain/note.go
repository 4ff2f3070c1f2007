package domain

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// NotesPerTx is the number of output note slots every rollup tx occupies in
// the data tree.
const NotesPerTx = 2

// MaxNotesPerProof is the circuit limit on input notes consumed by one proof.
const MaxNotesPerProof = 2

type UserId string

func (u UserId) String() string {
	return string(u)
}

type Note struct {
	// Commitment is the hex encoded note commitment and identifies the note.
	Commitment string
	Nullifier  string
	Owner      UserId
	AssetId    uint32
	Value      *uint256.Int
	// Index is the leaf index of the note in the data tree.
	Index uint64
	// AllowChain is set for outputs that can be spent before settlement.
	AllowChain bool
	Pending    bool
	Nullified  bool
	CreatedAt  int64
}

func (n Note) String() string {
	// nolint
	b, _ := json.MarshalIndent(n, "", "  ")
	return string(b)
}

func (n Note) IsSpendable() bool {
	return !n.Nullified
}

// SumNotes returns the total value of the given notes.
func SumNotes(notes []Note) *uint256.Int {
	sum := uint256.NewInt(0)
	for _, n := range notes {
		if n.Value == nil {
			continue
		}
		sum.Add(sum, n.Value)
	}
	return sum
}

func NoteValues(notes []Note) []*uint256.Int {
	values := make([]*uint256.Int, 0, len(notes))
	for _, n := range notes {
		values = append(values, n.Value.Clone())
	}
	return values
}

// NotePlaintext is the content of an encrypted note as seen by its owner.
type NotePlaintext struct {
	AssetId    uint32       `json:"assetId"`
	Value      *uint256.Int `json:"value"`
	Nullifier  string       `json:"nullifier"`
	AllowChain bool         `json:"allowChain,omitempty"`
}
