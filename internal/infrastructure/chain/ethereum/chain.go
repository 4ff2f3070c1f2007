package ethchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

const (
	defaultGasLimit = 250000
	// Percentage applied to the suggested gas price.
	gasPriceBump = 120
)

// Backend is the part of an ethereum client the chain needs.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasPricer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

type Config struct {
	RpcUrl          string
	ContractAddress string
	// PrivateKey is the hex key of the depositor account.
	PrivateKey string
	GasLimit   uint64
}

type chain struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	key      *ecdsa.PrivateKey
	address  common.Address
	gasLimit uint64

	lock    *sync.Mutex
	chainId *big.Int
}

// NewChain dials the rpc endpoint of the configured network.
func NewChain(cfg Config) (ports.Chain, error) {
	client, err := ethclient.Dial(cfg.RpcUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.RpcUrl, err)
	}
	return NewChainWithBackend(client, cfg)
}

func NewChainWithBackend(backend Backend, cfg Config) (ports.Chain, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %s", cfg.ContractAddress)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid depositor private key: %w", err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(rollupProcessorABI))
	if err != nil {
		return nil, err
	}
	gasLimit := cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = defaultGasLimit
	}
	return &chain{
		backend:  backend,
		contract: common.HexToAddress(cfg.ContractAddress),
		abi:      parsedABI,
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		gasLimit: gasLimit,
		lock:     &sync.Mutex{},
	}, nil
}

func (c *chain) DepositPendingFunds(
	ctx context.Context, assetId uint32, amount *uint256.Int, depositor string,
) (string, error) {
	owner, err := c.ownAddress(depositor)
	if err != nil {
		return "", err
	}
	data, err := c.abi.Pack(
		"depositPendingFunds",
		new(big.Int).SetUint64(uint64(assetId)), amount.ToBig(), owner, common.Hash{},
	)
	if err != nil {
		return "", fmt.Errorf("failed to encode deposit: %w", err)
	}
	// Only eth deposits carry value, tokens are pulled by the contract.
	value := big.NewInt(0)
	if assetId == 0 {
		value = amount.ToBig()
	}
	return c.sendTx(ctx, data, value)
}

func (c *chain) GetUserPendingDeposit(
	ctx context.Context, assetId uint32, depositor string,
) (*uint256.Int, error) {
	if !common.IsHexAddress(depositor) {
		return nil, fmt.Errorf("invalid depositor address %s", depositor)
	}
	var pending *big.Int
	if err := c.call(
		ctx, &pending, "userPendingDeposits",
		new(big.Int).SetUint64(uint64(assetId)), common.HexToAddress(depositor),
	); err != nil {
		return nil, err
	}
	value, overflow := uint256.FromBig(pending)
	if overflow {
		return nil, fmt.Errorf("pending deposit overflows 256 bits")
	}
	return value, nil
}

func (c *chain) ApproveProof(ctx context.Context, depositor string, txId string) (string, error) {
	if _, err := c.ownAddress(depositor); err != nil {
		return "", err
	}
	data, err := c.abi.Pack("approveProof", proofHash(txId))
	if err != nil {
		return "", fmt.Errorf("failed to encode approval: %w", err)
	}
	return c.sendTx(ctx, data, big.NewInt(0))
}

func (c *chain) GetProofApprovalStatus(
	ctx context.Context, depositor string, txId string,
) (bool, error) {
	if !common.IsHexAddress(depositor) {
		return false, fmt.Errorf("invalid depositor address %s", depositor)
	}
	var approved bool
	if err := c.call(
		ctx, &approved, "depositProofApprovals", common.HexToAddress(depositor), proofHash(txId),
	); err != nil {
		return false, err
	}
	return approved, nil
}

// ownAddress makes sure txs on behalf of depositor can be signed here.
func (c *chain) ownAddress(depositor string) (common.Address, error) {
	if !common.IsHexAddress(depositor) {
		return common.Address{}, fmt.Errorf("invalid depositor address %s", depositor)
	}
	addr := common.HexToAddress(depositor)
	if addr != c.address {
		return common.Address{}, fmt.Errorf("no key for depositor %s", depositor)
	}
	return addr, nil
}

func (c *chain) call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return fmt.Errorf("failed to encode %s call: %w", method, err)
	}
	result, err := c.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &c.contract,
		Data: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	if err := c.abi.UnpackIntoInterface(out, method, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

func (c *chain) sendTx(ctx context.Context, data []byte, value *big.Int) (string, error) {
	chainId, err := c.getChainId(ctx)
	if err != nil {
		return "", err
	}

	// Serialize nonce lookups and submissions from this account.
	c.lock.Lock()
	defer c.lock.Unlock()

	nonce, err := c.backend.PendingNonceAt(ctx, c.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	suggested, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}
	gasPrice := new(big.Int).Mul(suggested, big.NewInt(gasPriceBump))
	gasPrice.Div(gasPrice, big.NewInt(100))

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Value:    value,
		Gas:      c.gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainId), c.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign tx: %w", err)
	}
	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send tx: %w", err)
	}

	log.Debugf("sent tx %s with nonce %d", signedTx.Hash().Hex(), nonce)
	return signedTx.Hash().Hex(), nil
}

func (c *chain) getChainId(ctx context.Context) (*big.Int, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.chainId != nil {
		return c.chainId, nil
	}
	chainId, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.chainId = chainId
	return chainId, nil
}

func proofHash(txId string) common.Hash {
	return common.HexToHash(txId)
}
