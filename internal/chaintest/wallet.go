package chaintest

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// SentTx is a transaction accepted by Sender.
type SentTx struct {
	To   common.Address
	Data []byte
	Opts connection.TxOptions
	Tx   *types.Transaction
}

// Sender is a fake connection.Sender. When a Router is attached, every
// submitted transaction is executed against it first, so handlers can model
// state changes and reverts.
type Sender struct {
	from   common.Address
	router *Router

	mu            sync.Mutex
	nonce         uint64
	sent          []SentTx
	sendErr       func(to common.Address, data []byte) error
	receiptStatus uint64
	receiptLogs   func(SentTx) []*types.Log
}

func NewSender(from common.Address, router *Router) *Sender {
	return &Sender{from: from, router: router, receiptStatus: types.ReceiptStatusSuccessful}
}

// SetSendError makes SendTransaction fail whenever fn returns an error.
func (s *Sender) SetSendError(fn func(to common.Address, data []byte) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = fn
}

func (s *Sender) SetReceiptStatus(status uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptStatus = status
}

func (s *Sender) SetReceiptLogs(fn func(SentTx) []*types.Log) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptLogs = fn
}

func (s *Sender) From() common.Address { return s.from }

func (s *Sender) SendTransaction(ctx context.Context, to common.Address, data []byte, opts connection.TxOptions) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	sendErr := s.sendErr
	s.mu.Unlock()
	if sendErr != nil {
		if err := sendErr(to, data); err != nil {
			return nil, err
		}
	}
	if s.router != nil {
		if _, err := s.router.Dispatch(s.from, to, data); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    s.nonce,
		To:       &to,
		Data:     append([]byte(nil), data...),
		Gas:      opts.GasLimit,
		Value:    opts.Value,
		GasPrice: big.NewInt(1),
	})
	s.nonce++
	s.sent = append(s.sent, SentTx{To: to, Data: tx.Data(), Opts: opts, Tx: tx})
	return tx, nil
}

func (s *Sender) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	receipt := &types.Receipt{
		Status:      s.receiptStatus,
		TxHash:      tx.Hash(),
		BlockNumber: big.NewInt(int64(tx.Nonce()) + 1),
	}
	if s.receiptLogs != nil {
		for _, st := range s.sent {
			if st.Tx.Hash() == tx.Hash() {
				receipt.Logs = s.receiptLogs(st)
				break
			}
		}
	}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})
	return receipt, nil
}

// Sent returns the submitted transactions in order.
func (s *Sender) Sent() []SentTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentTx(nil), s.sent...)
}

// Wallet is a fake connection.Wallet that always hands out the same Sender.
type Wallet struct {
	sender *Sender

	mu      sync.Mutex
	chainID *big.Int

	requests atomic.Int32
}

func NewWallet(chainID int64, sender *Sender) *Wallet {
	return &Wallet{sender: sender, chainID: big.NewInt(chainID)}
}

func (w *Wallet) RequestAccounts(context.Context) ([]common.Address, error) {
	w.requests.Add(1)
	return []common.Address{w.sender.From()}, nil
}

func (w *Wallet) ChainID(context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.chainID), nil
}

func (w *Wallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = new(big.Int).Set(chainID)
	return nil
}

func (w *Wallet) AddChain(context.Context, connection.Network) error { return nil }

func (w *Wallet) Sender(context.Context, common.Address) (connection.Sender, error) {
	return w.sender, nil
}

// Requests is the number of account prompts the wallet has seen.
func (w *Wallet) Requests() int32 { return w.requests.Load() }
