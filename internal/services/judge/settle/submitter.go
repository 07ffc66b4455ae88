// Package settle commits validated verdicts to the challenge contract.
package settle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
	"github.com/rplusq/run-judge/internal/platform/timeouts"
)

// contractABI covers the single ledger operation the pipeline invokes.
const contractABI = `[{
	"name": "declareWinner",
	"type": "function",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "challengeId", "type": "uint256"},
		{"name": "winningActivityId", "type": "uint256"}
	],
	"outputs": []
}]`

// Environment selects the target chain.
type Environment string

const (
	// EnvDevelopment settles on Base Sepolia.
	EnvDevelopment Environment = "development"
	// EnvProduction settles on Base mainnet.
	EnvProduction Environment = "production"
)

// Default deployment addresses per environment.
const (
	mainnetContract = "0x80eb5478b64BcF13cA45b555f7AfF1e67b1f48F0"
	sepoliaContract = "0xbabeC3dF164f14672c08AA277Af9936532c283Ba"
)

var (
	baseChainID        = big.NewInt(8453)
	baseSepoliaChainID = big.NewInt(84532)
)

// ChainID returns the chain id this environment must settle on.
func (e Environment) ChainID() *big.Int {
	if e == EnvProduction {
		return new(big.Int).Set(baseChainID)
	}
	return new(big.Int).Set(baseSepoliaChainID)
}

// DefaultContract returns the default contract address for this
// environment.
func (e Environment) DefaultContract() string {
	if e == EnvProduction {
		return mainnetContract
	}
	return sepoliaContract
}

// Backend is the subset of an Ethereum client the submitter needs.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Config configures a Submitter.
type Config struct {
	Environment Environment
	// Contract overrides the environment's default address.
	Contract string
	// SignerKeyHex is the hex-encoded private key of the settlement
	// identity.
	SignerKeyHex string
}

// Submitter signs and submits winner declarations and waits for their
// receipts.
type Submitter struct {
	backend  Backend
	contract *bind.BoundContract
	address  common.Address
	opts     *bind.TransactOpts
	chainID  *big.Int
}

// NewSubmitter builds a Submitter over backend. The signing key is
// bound to the environment's chain id at construction; the live chain
// is still re-checked before every submission.
func NewSubmitter(cfg Config, backend Backend) (*Submitter, error) {
	if backend == nil {
		return nil, fmt.Errorf("chain backend is required")
	}
	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.SignerKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("signer key is required")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	chainID := cfg.Environment.ChainID()
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	contractAddr := strings.TrimSpace(cfg.Contract)
	if contractAddr == "" {
		contractAddr = cfg.Environment.DefaultContract()
	}
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	address := common.HexToAddress(contractAddr)

	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		return nil, fmt.Errorf("parse contract abi: %w", err)
	}

	return &Submitter{
		backend:  backend,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		address:  address,
		opts:     opts,
		chainID:  chainID,
	}, nil
}

// Declare submits declareWinner and blocks until a receipt is observed
// or the confirmation budget elapses. A deadline is reported as
// CHAIN_TIMEOUT: the transaction may still land, so callers must check
// chain state before retrying.
//
// submitted, when non-nil, is invoked with the transaction hash as soon
// as the transaction is on the wire, before the confirmation wait. That
// lets the caller record the hash durably so an ambiguous outcome can
// be resolved later.
func (s *Submitter) Declare(ctx context.Context, challengeID, winnerActivityID int64, submitted func(txHash string)) (string, error) {
	if err := s.checkNetwork(ctx); err != nil {
		return "", err
	}

	opts := *s.opts
	opts.Context = ctx
	tx, err := s.contract.Transact(&opts, "declareWinner",
		big.NewInt(challengeID), big.NewInt(winnerActivityID))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeChainRejected,
			fmt.Sprintf("submit declareWinner for challenge %d", challengeID), err)
	}
	txHash := tx.Hash().Hex()
	log.Printf("challenge %d: declareWinner submitted tx=%s", challengeID, txHash)
	if submitted != nil {
		submitted(txHash)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeouts.ChainConfirm)
	defer cancel()
	receipt, err := bind.WaitMined(waitCtx, s.backend, tx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperrors.Wrap(apperrors.CodeChainTimeout,
				fmt.Sprintf("tx %s unconfirmed within budget, it may still land", txHash), err)
		}
		return "", apperrors.Wrap(apperrors.CodeChainRejected,
			fmt.Sprintf("wait for tx %s receipt", txHash), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return "", apperrors.New(apperrors.CodeChainRejected,
			fmt.Sprintf("tx %s reverted", txHash))
	}

	log.Printf("challenge %d: settlement confirmed in block %d", challengeID, receipt.BlockNumber)
	return txHash, nil
}

// Resolution classifies the chain-state outcome of a previously
// submitted transaction.
type Resolution int

const (
	// ResolutionUnknown means no receipt exists yet. The transaction
	// may still be pending or may have been dropped.
	ResolutionUnknown Resolution = iota
	// ResolutionConfirmed means the transaction landed successfully.
	ResolutionConfirmed
	// ResolutionReverted means the transaction landed and reverted.
	ResolutionReverted
)

// Resolve looks up chain state for a previously submitted transaction.
// Used to settle an ambiguous CHAIN_TIMEOUT before any retry.
func (s *Submitter) Resolve(ctx context.Context, txHash string) (Resolution, error) {
	receipt, err := s.backend.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ResolutionUnknown, nil
		}
		return ResolutionUnknown, apperrors.Wrap(apperrors.CodeChainRejected,
			fmt.Sprintf("look up receipt for tx %s", txHash), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return ResolutionReverted, nil
	}
	return ResolutionConfirmed, nil
}

// checkNetwork verifies the connected chain matches the configured
// environment. A mismatch aborts before anything is signed or sent.
func (s *Submitter) checkNetwork(ctx context.Context) error {
	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeChainRejected, "query chain id", err)
	}
	if chainID.Cmp(s.chainID) != 0 {
		return apperrors.New(apperrors.CodeNetworkMismatch,
			fmt.Sprintf("connected chain %s, expected %s", chainID, s.chainID))
	}
	return nil
}

// Dial connects an RPC backend for cfg with a bounded dial context.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := ethclient.DialContext(dialCtx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return client, nil
}
