package rollupclient

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
)

type sendTxsRequest struct {
	Txs []txRequest `json:"txs"`
}

type txRequest struct {
	ProofData        string `json:"proofData"`
	OffchainTxData   string `json:"offchainTxData"`
	DepositSignature string `json:"depositSignature,omitempty"`
}

type sendTxsResponse struct {
	TxIds []string `json:"txIds"`
}

type getBlocksResponse struct {
	Blocks []block `json:"blocks"`
}

type block struct {
	RollupId           uint32              `json:"rollupId"`
	BlockNum           int64               `json:"blockNum"`
	DataStartIndex     uint64              `json:"dataStartIndex"`
	RollupSize         uint32              `json:"rollupSize"`
	DataRoot           string              `json:"dataRoot"`
	CreatedAt          int64               `json:"created"`
	Txs                []blockTx           `json:"txs"`
	InteractionResults []interactionResult `json:"interactionResult"`
}

type blockTx struct {
	TxId             string       `json:"txId"`
	ProofId          uint8        `json:"proofId"`
	NoteCommitments  []string     `json:"noteCommitments"`
	Nullifiers       []string     `json:"nullifiers"`
	EncryptedNotes   []string     `json:"encryptedNotes"`
	PublicAssetId    uint32       `json:"publicAssetId"`
	PublicValue      *uint256.Int `json:"publicValue"`
	PublicOwner      string       `json:"publicOwner"`
	BridgeCallData   string       `json:"bridgeCallData"`
	InteractionNonce uint32       `json:"interactionNonce"`
}

type interactionResult struct {
	Nonce          uint32       `json:"nonce"`
	BridgeCallData string       `json:"bridgeCallData"`
	TotalInput     *uint256.Int `json:"totalInputValue"`
	TotalOutputA   *uint256.Int `json:"totalOutputValueA"`
	TotalOutputB   *uint256.Int `json:"totalOutputValueB"`
	Success        bool         `json:"result"`
}

type txFeesResponse struct {
	AssetId    uint32                `json:"assetId"`
	FeeAssetId uint32                `json:"feeAssetId"`
	Fees       [][]domain.AssetValue `json:"fees"`
}

type defiFeesRequest struct {
	BridgeCallData string `json:"bridgeCallData"`
}

type defiFeesResponse struct {
	Fees []domain.AssetValue `json:"fees"`
}

type statusResponse struct {
	ChainId               int64  `json:"chainId"`
	RollupContractAddress string `json:"rollupContractAddress"`
	NextRollupId          uint32 `json:"nextRollupId"`
	DataSize              uint64 `json:"dataSize"`
	DataRoot              string `json:"dataRoot"`
}

func (b block) toDomain() (*domain.Block, error) {
	txs := make([]domain.BlockTx, 0, len(b.Txs))
	for _, tx := range b.Txs {
		notes := make([][]byte, 0, len(tx.EncryptedNotes))
		for _, n := range tx.EncryptedNotes {
			buf, err := decodeHex(n)
			if err != nil {
				return nil, fmt.Errorf("invalid encrypted note in tx %s: %w", tx.TxId, err)
			}
			notes = append(notes, buf)
		}
		txs = append(txs, domain.BlockTx{
			TxId:             tx.TxId,
			ProofId:          domain.ProofId(tx.ProofId),
			NoteCommitments:  tx.NoteCommitments,
			Nullifiers:       tx.Nullifiers,
			EncryptedNotes:   notes,
			PublicAssetId:    tx.PublicAssetId,
			PublicValue:      tx.PublicValue,
			PublicOwner:      tx.PublicOwner,
			BridgeCallData:   tx.BridgeCallData,
			InteractionNonce: tx.InteractionNonce,
		})
	}
	results := make([]domain.DefiInteractionResult, 0, len(b.InteractionResults))
	for _, r := range b.InteractionResults {
		results = append(results, domain.DefiInteractionResult(r))
	}
	return &domain.Block{
		RollupId:           b.RollupId,
		BlockNum:           b.BlockNum,
		DataStartIndex:     b.DataStartIndex,
		RollupSize:         b.RollupSize,
		DataRoot:           b.DataRoot,
		CreatedAt:          b.CreatedAt,
		Txs:                txs,
		InteractionResults: results,
	}, nil
}

func (s statusResponse) toPort() *ports.RollupStatus {
	status := ports.RollupStatus(s)
	return &status
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}

func encodeHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}
