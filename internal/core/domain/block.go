package domain

import "github.com/holiman/uint256"

type Block struct {
	RollupId       uint32
	BlockNum       int64
	DataStartIndex uint64
	RollupSize     uint32
	DataRoot       string
	CreatedAt      int64
	Txs            []BlockTx
	// InteractionResults are the outcomes of defi interactions finalised in
	// this block.
	InteractionResults []DefiInteractionResult
}

// NextDataIndex is the size of the data tree once the block is applied.
func (b Block) NextDataIndex() uint64 {
	return b.DataStartIndex + uint64(b.RollupSize)*NotesPerTx
}

type BlockTx struct {
	TxId             string
	ProofId          ProofId
	NoteCommitments  []string
	Nullifiers       []string
	EncryptedNotes   [][]byte
	PublicAssetId    uint32
	PublicValue      *uint256.Int
	PublicOwner      string
	BridgeCallData   string
	InteractionNonce uint32
}

type DefiInteractionResult struct {
	Nonce          uint32
	BridgeCallData string
	TotalInput     *uint256.Int
	TotalOutputA   *uint256.Int
	TotalOutputB   *uint256.Int
	Success        bool
}
