// Package devnetprover builds proofs without zero-knowledge math. Proofs
// carry their public content in clear, which makes the wallet runnable end
// to end against a devnet rollup provider.
package devnetprover

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	"github.com/privrollup/walletd/internal/infrastructure/notecrypto"
	log "github.com/sirupsen/logrus"
)

const provingKeySize = 64

type prover struct {
	lock *sync.RWMutex
	keys map[ports.Circuit][]byte
}

func NewProver() ports.ProofCreator {
	return &prover{
		lock: &sync.RWMutex{},
		keys: make(map[ports.Circuit][]byte),
	}
}

func (p *prover) ComputeProvingKey(_ context.Context, circuit ports.Circuit) ([]byte, error) {
	switch circuit {
	case ports.CircuitJoinSplit, ports.CircuitAccount:
	default:
		return nil, fmt.Errorf("unknown circuit %s", circuit)
	}
	key := make([]byte, provingKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func (p *prover) LoadProvingKey(_ context.Context, circuit ports.Circuit, key []byte) error {
	if len(key) != provingKeySize {
		return fmt.Errorf("invalid %s proving key size %d", circuit, len(key))
	}
	p.lock.Lock()
	defer p.lock.Unlock()
	p.keys[circuit] = key
	log.Debugf("loaded %s proving key", circuit)
	return nil
}

func (p *prover) requireKey(circuit ports.Circuit) error {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if _, ok := p.keys[circuit]; !ok {
		return fmt.Errorf("%s proving key not loaded", circuit)
	}
	return nil
}

func (p *prover) CreatePaymentProofInput(
	_ context.Context, req ports.PaymentProofRequest,
) (*ports.ProofInput, error) {
	if err := p.requireKey(ports.CircuitJoinSplit); err != nil {
		return nil, err
	}
	if len(req.InputNotes) > domain.MaxNotesPerProof {
		return nil, fmt.Errorf("too many input notes: %d", len(req.InputNotes))
	}
	if err := checkBalance(req); err != nil {
		return nil, err
	}
	signingData, err := signingDataOf(req)
	if err != nil {
		return nil, err
	}
	return &ports.ProofInput{ProofId: req.ProofId, SigningData: signingData, Payment: &req}, nil
}

func (p *prover) CreatePaymentProof(
	_ context.Context, input ports.ProofInput, signature []byte, txRefNo uint32,
) (*domain.ProofOutput, error) {
	req := input.Payment
	if req == nil {
		return nil, fmt.Errorf("not a payment proof input")
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("missing signature")
	}

	recipient := outputNote(req.Recipient, req.AssetId, req.RecipientValue)
	recipient.AllowChain = req.ChainOutput == ports.OutputSlotRecipient
	change := outputNote(req.UserId, req.AssetId, req.ChangeValue)
	change.AllowChain = req.ChainOutput == ports.OutputSlotChange

	tx := rollupTx{
		ProofId:       uint8(req.ProofId),
		TxRefNo:       txRefNo,
		PublicAssetId: req.AssetId,
		PublicValue:   uint256.NewInt(0),
		PublicOwner:   req.PublicOwner,
		Signature:     hex.EncodeToString(signature),
		Nullifiers:    nullifiersOf(req.InputNotes),
	}
	if req.PublicValue != nil {
		tx.PublicValue = req.PublicValue.Clone()
	}
	notes, err := sealNotes(&tx, recipient, change)
	if err != nil {
		return nil, err
	}

	output, err := newOutput(tx, req.ProofId, req.InputNotes, notes, signature, txRefNo)
	if err != nil {
		return nil, err
	}
	output.Txs = paymentTxs(*req)
	return output, nil
}

func (p *prover) CreateDefiProofInput(
	_ context.Context, req ports.DefiProofRequest,
) (*ports.ProofInput, error) {
	if err := p.requireKey(ports.CircuitJoinSplit); err != nil {
		return nil, err
	}
	if err := checkDefiBalance(req); err != nil {
		return nil, err
	}
	signingData, err := signingDataOf(req)
	if err != nil {
		return nil, err
	}
	return &ports.ProofInput{
		ProofId: domain.ProofIdDefiDeposit, SigningData: signingData, Defi: &req,
	}, nil
}

func (p *prover) CreateDefiProof(
	_ context.Context, input ports.ProofInput, signature []byte, txRefNo uint32,
) (*domain.ProofOutput, error) {
	req := input.Defi
	if req == nil {
		return nil, fmt.Errorf("not a defi proof input")
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("missing signature")
	}

	tx := rollupTx{
		ProofId:        uint8(domain.ProofIdDefiDeposit),
		TxRefNo:        txRefNo,
		PublicValue:    uint256.NewInt(0),
		BridgeCallData: req.BridgeCallData.String(),
		Signature:      hex.EncodeToString(signature),
		Nullifiers:     nullifiersOf(req.InputNotes),
	}
	// The claim note is only known once the interaction completes.
	if _, err := sealNotes(&tx); err != nil {
		return nil, err
	}

	output, err := newOutput(tx, domain.ProofIdDefiDeposit, req.InputNotes, nil, signature, txRefNo)
	if err != nil {
		return nil, err
	}
	deposit := domain.NewAssetValue(req.BridgeCallData.InputAssetIdA, req.DepositValue)
	output.Txs = []domain.UserTx{{
		UserId:      req.UserId,
		ProofId:     domain.ProofIdDefiDeposit,
		Value:       deposit,
		Fee:         domain.NewAssetValue(req.Fee.AssetId, req.Fee.Value),
		IsSender:    true,
		IsRecipient: true,
		Recipient:   req.UserId,
		Defi: &domain.DefiTx{
			BridgeCallData: req.BridgeCallData,
			DepositValue:   deposit,
		},
	}}
	return output, nil
}

func (p *prover) CreateAccountProofInput(
	_ context.Context, req ports.AccountProofRequest,
) (*ports.ProofInput, error) {
	if err := p.requireKey(ports.CircuitAccount); err != nil {
		return nil, err
	}
	if len(req.NewSpendingPublicKey) > 2 {
		return nil, fmt.Errorf("too many spending keys: %d", len(req.NewSpendingPublicKey))
	}
	if req.Create && req.Alias == "" {
		return nil, fmt.Errorf("missing alias")
	}
	signingData, err := signingDataOf(req)
	if err != nil {
		return nil, err
	}
	return &ports.ProofInput{
		ProofId: domain.ProofIdAccount, SigningData: signingData, Account: &req,
	}, nil
}

func (p *prover) CreateAccountProof(
	_ context.Context, input ports.ProofInput, signature []byte, txRefNo uint32,
) (*domain.ProofOutput, error) {
	req := input.Account
	if req == nil {
		return nil, fmt.Errorf("not an account proof input")
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("missing signature")
	}

	tx := rollupTx{
		ProofId:     uint8(domain.ProofIdAccount),
		TxRefNo:     txRefNo,
		PublicValue: uint256.NewInt(0),
		Signature:   hex.EncodeToString(signature),
		Nullifiers:  make([]string, 0, 2),
	}
	// Aliases and account keys can be registered once.
	if req.Create || req.Migrate {
		tx.Nullifiers = append(tx.Nullifiers, hashOf([]byte(req.Alias+req.NewAccountPublicKey)))
	}
	if _, err := sealNotes(&tx); err != nil {
		return nil, err
	}

	output, err := newOutput(tx, domain.ProofIdAccount, nil, nil, signature, txRefNo)
	if err != nil {
		return nil, err
	}
	output.Txs = []domain.UserTx{{
		UserId:      req.UserId,
		ProofId:     domain.ProofIdAccount,
		Value:       domain.ZeroAssetValue(0),
		Fee:         domain.ZeroAssetValue(0),
		IsSender:    true,
		IsRecipient: true,
		Recipient:   req.UserId,
		Alias:       req.Alias,
	}}
	return output, nil
}

// checkBalance makes sure the proof creates no value: inputs plus public
// input equal outputs plus public output plus the fee.
func checkBalance(req ports.PaymentProofRequest) error {
	in := domain.SumNotes(req.InputNotes)
	out := new(uint256.Int)
	addTo(out, req.RecipientValue)
	addTo(out, req.ChangeValue)
	if req.Fee.AssetId == req.AssetId {
		addTo(out, req.Fee.Value)
	}
	switch req.ProofId {
	case domain.ProofIdDeposit:
		addTo(in, req.PublicValue)
	case domain.ProofIdWithdraw:
		addTo(out, req.PublicValue)
	}
	for _, n := range req.InputNotes {
		if n.AssetId != req.AssetId {
			return fmt.Errorf("input note %s is not of asset %d", n.Commitment, req.AssetId)
		}
	}
	if !in.Eq(out) {
		return fmt.Errorf("unbalanced proof: %s in, %s out", in.Dec(), out.Dec())
	}
	return nil
}

func checkDefiBalance(req ports.DefiProofRequest) error {
	bcd := req.BridgeCallData
	if req.DepositValue == nil || req.DepositValue.IsZero() {
		return fmt.Errorf("missing deposit value")
	}
	sums := make(map[uint32]*uint256.Int)
	for _, n := range req.InputNotes {
		if _, ok := sums[n.AssetId]; !ok {
			sums[n.AssetId] = new(uint256.Int)
		}
		addTo(sums[n.AssetId], n.Value)
	}

	requiredA := req.DepositValue.Clone()
	if req.Fee.AssetId == bcd.InputAssetIdA {
		addTo(requiredA, req.Fee.Value)
	}
	if sum := sums[bcd.InputAssetIdA]; sum == nil || !sum.Eq(requiredA) {
		return fmt.Errorf("inputs of asset %d don't match deposit plus fee", bcd.InputAssetIdA)
	}
	if bcd.InputAssetIdB != nil {
		if sum := sums[*bcd.InputAssetIdB]; sum == nil || !sum.Eq(req.DepositValue) {
			return fmt.Errorf("inputs of asset %d don't match deposit", *bcd.InputAssetIdB)
		}
	}
	if len(sums) != bcd.NumInputAssets() {
		return fmt.Errorf("unexpected input assets")
	}
	// Input note 1 is bound to the first input asset.
	if req.InputNotes[0].AssetId != bcd.InputAssetIdA {
		return fmt.Errorf("first input note is not of asset %d", bcd.InputAssetIdA)
	}
	return nil
}

func paymentTxs(req ports.PaymentProofRequest) []domain.UserTx {
	value := req.RecipientValue
	if req.ProofId == domain.ProofIdWithdraw {
		value = req.PublicValue
	}
	txs := []domain.UserTx{{
		UserId:      req.UserId,
		ProofId:     req.ProofId,
		Value:       domain.NewAssetValue(req.AssetId, value),
		Fee:         domain.NewAssetValue(req.Fee.AssetId, req.Fee.Value),
		PublicOwner: req.PublicOwner,
		Recipient:   req.Recipient,
		IsSender:    true,
		IsRecipient: req.Recipient == req.UserId,
	}}
	if req.Recipient != req.UserId && req.RecipientValue != nil && !req.RecipientValue.IsZero() {
		txs = append(txs, domain.UserTx{
			UserId:      req.Recipient,
			ProofId:     req.ProofId,
			Value:       domain.NewAssetValue(req.AssetId, req.RecipientValue),
			Fee:         domain.ZeroAssetValue(req.Fee.AssetId),
			PublicOwner: req.PublicOwner,
			Recipient:   req.Recipient,
			IsRecipient: true,
		})
	}
	return txs
}

func newOutput(
	tx rollupTx, proofId domain.ProofId, inputs, outputs []domain.Note,
	signature []byte, txRefNo uint32,
) (*domain.ProofOutput, error) {
	proofData, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}
	offchainTxData, err := json.Marshal(tx.EncryptedNotes)
	if err != nil {
		return nil, err
	}
	return &domain.ProofOutput{
		TxId:           TxId(proofData),
		ProofId:        proofId,
		InputNotes:     inputs,
		OutputNotes:    outputs,
		Signature:      signature,
		TxRefNo:        txRefNo,
		ProofData:      proofData,
		OffchainTxData: offchainTxData,
	}, nil
}

type pendingNote struct {
	domain.Note
	plaintext domain.NotePlaintext
}

func outputNote(owner domain.UserId, assetId uint32, value *uint256.Int) *pendingNote {
	if value == nil {
		value = uint256.NewInt(0)
	}
	return &pendingNote{Note: domain.Note{
		Owner:   owner,
		AssetId: assetId,
		Value:   value.Clone(),
	}}
}

// sealNotes fills the data tree slots of tx, one per output, encrypting
// each note to its owner. It returns the notes worth storing.
func sealNotes(tx *rollupTx, notes ...*pendingNote) ([]domain.Note, error) {
	tx.NoteCommitments = make([]string, 0, domain.NotesPerTx)
	tx.EncryptedNotes = make([]string, 0, domain.NotesPerTx)
	kept := make([]domain.Note, 0, len(notes))

	for i := 0; i < domain.NotesPerTx; i++ {
		commitment, err := randomHash()
		if err != nil {
			return nil, err
		}
		tx.NoteCommitments = append(tx.NoteCommitments, commitment)
		if i >= len(notes) || notes[i] == nil {
			tx.EncryptedNotes = append(tx.EncryptedNotes, "")
			continue
		}

		note := notes[i]
		if note.Nullifier, err = randomHash(); err != nil {
			return nil, err
		}
		note.Commitment = commitment
		ciphertext, err := notecrypto.EncryptNote(string(note.Owner), domain.NotePlaintext{
			AssetId:    note.AssetId,
			Value:      note.Value,
			Nullifier:  note.Nullifier,
			AllowChain: note.AllowChain,
		})
		if err != nil {
			// Owners not identified by a viewing key only learn the note
			// from the sender.
			log.WithError(err).Tracef("note %s left unencrypted", commitment)
		}
		tx.EncryptedNotes = append(tx.EncryptedNotes, hex.EncodeToString(ciphertext))

		if note.Value.IsZero() && !note.AllowChain {
			continue
		}
		kept = append(kept, note.Note)
	}
	return kept, nil
}

func nullifiersOf(notes []domain.Note) []string {
	nullifiers := make([]string, 0, len(notes))
	for _, n := range notes {
		nullifiers = append(nullifiers, n.Nullifier)
	}
	return nullifiers
}

func signingDataOf(req interface{}) ([]byte, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode proof request: %w", err)
	}
	return crypto.Keccak256(buf), nil
}

func addTo(sum, v *uint256.Int) {
	if v != nil {
		sum.Add(sum, v)
	}
}
