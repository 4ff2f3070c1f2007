package devnetprover

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
)

// rollupTx is the public content of a devnet proof, what the rollup
// publishes once the proof is included in a block.
type rollupTx struct {
	ProofId          uint8        `json:"proofId"`
	TxRefNo          uint32       `json:"txRefNo"`
	NoteCommitments  []string     `json:"noteCommitments"`
	Nullifiers       []string     `json:"nullifiers"`
	EncryptedNotes   []string     `json:"encryptedNotes"`
	PublicAssetId    uint32       `json:"publicAssetId"`
	PublicValue      *uint256.Int `json:"publicValue"`
	PublicOwner      string       `json:"publicOwner,omitempty"`
	BridgeCallData   string       `json:"bridgeCallData,omitempty"`
	Signature        string       `json:"signature"`
	InteractionNonce uint32       `json:"interactionNonce,omitempty"`
}

// DecodeProofData turns the proof data of a devnet proof back into the tx
// a rollup block would carry.
func DecodeProofData(proofData []byte) (*domain.BlockTx, error) {
	var tx rollupTx
	if err := json.Unmarshal(proofData, &tx); err != nil {
		return nil, fmt.Errorf("malformed proof data: %w", err)
	}
	notes := make([][]byte, 0, len(tx.EncryptedNotes))
	for _, n := range tx.EncryptedNotes {
		buf, err := hex.DecodeString(strings.TrimPrefix(n, "0x"))
		if err != nil {
			return nil, fmt.Errorf("malformed encrypted note: %w", err)
		}
		notes = append(notes, buf)
	}
	publicValue := tx.PublicValue
	if publicValue == nil {
		publicValue = uint256.NewInt(0)
	}
	return &domain.BlockTx{
		TxId:             TxId(proofData),
		ProofId:          domain.ProofId(tx.ProofId),
		NoteCommitments:  tx.NoteCommitments,
		Nullifiers:       tx.Nullifiers,
		EncryptedNotes:   notes,
		PublicAssetId:    tx.PublicAssetId,
		PublicValue:      publicValue,
		PublicOwner:      tx.PublicOwner,
		BridgeCallData:   tx.BridgeCallData,
		InteractionNonce: tx.InteractionNonce,
	}, nil
}

// TxId is the keccak hash of the proof data.
func TxId(proofData []byte) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256(proofData))
}

func randomHash() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256(buf)), nil
}

func hashOf(data []byte) string {
	return "0x" + hex.EncodeToString(crypto.Keccak256(data))
}
