package settle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	apperrors "github.com/rplusq/run-judge/internal/platform/errors"
)

// Well-known throwaway development key, never holds funds.
const testSignerKey = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

// fakeBackend implements Backend in memory.
type fakeBackend struct {
	mu            sync.Mutex
	chainID       *big.Int
	receiptStatus uint64
	sent          []*types.Transaction
}

func newFakeBackend(chainID int64) *fakeBackend {
	return &fakeBackend{chainID: big.NewInt(chainID), receiptStatus: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(f.chainID), nil
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x01}, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions unsupported")
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tx := range f.sent {
		if tx.Hash() == txHash {
			return &types.Receipt{
				Status:      f.receiptStatus,
				TxHash:      txHash,
				BlockNumber: big.NewInt(2),
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestSubmitter(t *testing.T, backend Backend) *Submitter {
	t.Helper()
	submitter, err := NewSubmitter(Config{
		Environment:  EnvDevelopment,
		SignerKeyHex: testSignerKey,
	}, backend)
	if err != nil {
		t.Fatalf("new submitter: %v", err)
	}
	return submitter
}

func TestDeclareSubmitsAndConfirms(t *testing.T) {
	backend := newFakeBackend(84532)
	submitter := newTestSubmitter(t, backend)

	var submittedHash string
	txHash, err := submitter.Declare(context.Background(), 7, 101, func(hash string) {
		submittedHash = hash
	})
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected transaction hash")
	}
	if submittedHash != txHash {
		t.Fatalf("expected submit callback hash %q to match %q", submittedHash, txHash)
	}
	if backend.sentCount() != 1 {
		t.Fatalf("expected 1 transaction sent, got %d", backend.sentCount())
	}
}

func TestDeclareAbortsOnNetworkMismatch(t *testing.T) {
	// Mainnet chain id while configured for development.
	backend := newFakeBackend(8453)
	submitter := newTestSubmitter(t, backend)

	_, err := submitter.Declare(context.Background(), 7, 101, nil)
	if !errors.Is(err, apperrors.New(apperrors.CodeNetworkMismatch, "")) {
		t.Fatalf("expected NETWORK_MISMATCH, got %v", err)
	}
	if backend.sentCount() != 0 {
		t.Fatal("no transaction may be sent on a mismatched network")
	}
}

func TestDeclareReportsRevertedReceipt(t *testing.T) {
	backend := newFakeBackend(84532)
	backend.receiptStatus = types.ReceiptStatusFailed
	submitter := newTestSubmitter(t, backend)

	_, err := submitter.Declare(context.Background(), 7, 101, nil)
	if !errors.Is(err, apperrors.New(apperrors.CodeChainRejected, "")) {
		t.Fatalf("expected CHAIN_REJECTED, got %v", err)
	}
}

func TestResolveClassifiesChainState(t *testing.T) {
	backend := newFakeBackend(84532)
	submitter := newTestSubmitter(t, backend)

	res, err := submitter.Resolve(context.Background(), common.HexToHash("0xdead").Hex())
	if err != nil {
		t.Fatalf("resolve unknown: %v", err)
	}
	if res != ResolutionUnknown {
		t.Fatalf("expected unknown resolution for unseen tx, got %v", res)
	}

	txHash, err := submitter.Declare(context.Background(), 7, 101, nil)
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	res, err = submitter.Resolve(context.Background(), txHash)
	if err != nil {
		t.Fatalf("resolve confirmed: %v", err)
	}
	if res != ResolutionConfirmed {
		t.Fatalf("expected confirmed resolution, got %v", res)
	}

	backend.receiptStatus = types.ReceiptStatusFailed
	res, err = submitter.Resolve(context.Background(), txHash)
	if err != nil {
		t.Fatalf("resolve reverted: %v", err)
	}
	if res != ResolutionReverted {
		t.Fatalf("expected reverted resolution, got %v", res)
	}
}

func TestEnvironmentDefaults(t *testing.T) {
	if EnvProduction.ChainID().Int64() != 8453 {
		t.Fatal("production must settle on Base mainnet")
	}
	if EnvDevelopment.ChainID().Int64() != 84532 {
		t.Fatal("development must settle on Base Sepolia")
	}
	if EnvProduction.DefaultContract() == EnvDevelopment.DefaultContract() {
		t.Fatal("environments must target different deployments")
	}
}

func TestNewSubmitterValidation(t *testing.T) {
	backend := newFakeBackend(84532)
	if _, err := NewSubmitter(Config{Environment: EnvDevelopment}, backend); err == nil {
		t.Fatal("expected error without signer key")
	}
	if _, err := NewSubmitter(Config{Environment: EnvDevelopment, SignerKeyHex: "zz"}, backend); err == nil {
		t.Fatal("expected error for malformed key")
	}
	if _, err := NewSubmitter(Config{
		Environment:  EnvDevelopment,
		SignerKeyHex: testSignerKey,
		Contract:     "not-an-address",
	}, backend); err == nil {
		t.Fatal("expected error for malformed contract address")
	}
}
