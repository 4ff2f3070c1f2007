package domain

type ProofId uint8

const (
	ProofIdPadding ProofId = iota
	ProofIdDeposit
	ProofIdWithdraw
	ProofIdSend
	ProofIdAccount
	ProofIdDefiDeposit
	ProofIdDefiClaim
)

func (p ProofId) String() string {
	switch p {
	case ProofIdPadding:
		return "PADDING"
	case ProofIdDeposit:
		return "DEPOSIT"
	case ProofIdWithdraw:
		return "WITHDRAW"
	case ProofIdSend:
		return "SEND"
	case ProofIdAccount:
		return "ACCOUNT"
	case ProofIdDefiDeposit:
		return "DEFI_DEPOSIT"
	case ProofIdDefiClaim:
		return "DEFI_CLAIM"
	default:
		return "UNKNOWN"
	}
}

// ProofOutput is the result of a proof construction: the proof itself plus
// the notes it consumes and creates and the history entries it produces
// once sent.
type ProofOutput struct {
	TxId        string
	ProofId     ProofId
	InputNotes  []Note
	OutputNotes []Note
	Signature   []byte
	// TxRefNo links proofs that must settle in the same rollup. Zero means
	// the proof stands alone.
	TxRefNo        uint32
	ProofData      []byte
	OffchainTxData []byte
	Txs            []UserTx
}

// ChainedOutput returns the output note of the proof that can be spent
// before settlement, if any.
func (p ProofOutput) ChainedOutput() *Note {
	for i := range p.OutputNotes {
		if p.OutputNotes[i].AllowChain {
			note := p.OutputNotes[i]
			return &note
		}
	}
	return nil
}
