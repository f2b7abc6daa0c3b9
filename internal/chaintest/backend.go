// Package chaintest provides programmable in-memory stand-ins for an RPC
// node, a wallet and a transaction sender.
package chaintest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// CallContractHandler answers eth_call requests.
type CallContractHandler func(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

// EstimateGasHandler answers eth_estimateGas requests.
type EstimateGasHandler func(ctx context.Context, msg ethereum.CallMsg) (uint64, error)

// Backend is a fake node. It satisfies connection.Reader and
// multicall.Caller, and records how it was called.
type Backend struct {
	mu              sync.RWMutex
	chainID         *big.Int
	callHandler     CallContractHandler
	estimateHandler EstimateGasHandler

	calls       atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func NewBackend(chainID int64) *Backend {
	return &Backend{chainID: big.NewInt(chainID)}
}

func (b *Backend) SetCallContractHandler(h CallContractHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callHandler = h
}

func (b *Backend) SetEstimateGasHandler(h EstimateGasHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.estimateHandler = h
}

func (b *Backend) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	b.calls.Add(1)
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		peak := b.maxInFlight.Load()
		if n <= peak || b.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	b.mu.RLock()
	h := b.callHandler
	b.mu.RUnlock()
	if h == nil {
		return nil, errors.New("chaintest: no call contract handler set")
	}
	return h(ctx, msg, blockNumber)
}

func (b *Backend) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.mu.RLock()
	h := b.estimateHandler
	b.mu.RUnlock()
	if h == nil {
		return 0, errors.New("chaintest: no estimate gas handler set")
	}
	return h(ctx, msg)
}

// CodeAt reports every address as a deployed contract.
func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.chainID), nil
}

// CallCount is the number of eth_call requests served so far.
func (b *Backend) CallCount() int64 { return b.calls.Load() }

// MaxConcurrentCalls is the highest number of eth_calls seen in flight at once.
func (b *Backend) MaxConcurrentCalls() int64 { return b.maxInFlight.Load() }

func (b *Backend) ResetCounters() {
	b.calls.Store(0)
	b.maxInFlight.Store(0)
}
