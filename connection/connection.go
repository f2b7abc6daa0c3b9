// Package connection owns the chain connection: an always-available read
// path and, once a wallet has been connected, a transaction sender bound to
// the expected network.
package connection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNoWalletDetected = errors.New("no wallet detected")
	ErrNoAccounts       = errors.New("wallet returned no accounts")
	ErrChainNotAdded    = errors.New("chain has not been added to the wallet")
	ErrNotConnected     = errors.New("wallet not connected")
	ErrUserRejected     = errors.New("user rejected the request")
	ErrUnknownAccount   = errors.New("account is not managed by this wallet")
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Network describes the chain the client is expected to talk to.
type Network struct {
	ChainID      *big.Int
	Name         string
	RPCURL       string
	Explorer     string
	NativeSymbol string
}

// Reader is the unauthenticated read path. *ethclient.Client satisfies it.
type Reader interface {
	bind.ContractCaller
	ChainID(ctx context.Context) (*big.Int, error)
}

// TxOptions carries the per-transaction overrides a Sender honours.
// Zero values let the sender estimate.
type TxOptions struct {
	Value    *big.Int
	GasLimit uint64
}

// Sender signs and submits transactions on behalf of one account.
type Sender interface {
	From() common.Address
	SendTransaction(ctx context.Context, to common.Address, data []byte, opts TxOptions) (*types.Transaction, error)
	WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error)
}

// Wallet is the injected signing capability. SwitchChain must return an
// error wrapping ErrChainNotAdded when the wallet does not know the chain.
type Wallet interface {
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	AddChain(ctx context.Context, network Network) error
	Sender(ctx context.Context, account common.Address) (Sender, error)
}

// State is a snapshot of the connection. Sender is nil while read-only.
type State struct {
	Network     Network
	Reader      Reader
	Sender      Sender
	Account     common.Address
	Initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

func WithWallet(w Wallet) Option {
	return func(m *Manager) { m.wallet = w }
}

func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager hands out the read path and the connected sender. It is safe for
// concurrent use.
type Manager struct {
	network Network
	reader  Reader
	logger  Logger

	mu     sync.RWMutex
	wallet Wallet
	state  State

	connects singleflight.Group
}

// NewManager creates a manager in the read-only state.
func NewManager(network Network, reader Reader, opts ...Option) (*Manager, error) {
	if network.ChainID == nil {
		return nil, errors.New("network chain id is required")
	}
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	m := &Manager{
		network: network,
		reader:  reader,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.state = m.readOnlyState()
	return m, nil
}

func (m *Manager) readOnlyState() State {
	return State{Network: m.network, Reader: m.reader}
}

// SetWallet injects or replaces the wallet. It does not connect.
func (m *Manager) SetWallet(w Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallet = w
}

func (m *Manager) Network() Network { return m.network }

func (m *Manager) Reader() Reader { return m.reader }

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Sender returns the connected sender without attempting to connect.
func (m *Manager) Sender() (Sender, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state.Sender == nil {
		return nil, ErrNotConnected
	}
	return m.state.Sender, nil
}

// Connect prompts the wallet for accounts, moves it to the expected network
// and binds a sender. Concurrent calls share a single attempt.
func (m *Manager) Connect(ctx context.Context) (Sender, error) {
	return m.join(ctx, false)
}

// join runs or joins the single connection attempt. With reuse set, a
// sender bound by an attempt that finished in the meantime is returned
// instead of prompting again.
func (m *Manager) join(ctx context.Context, reuse bool) (Sender, error) {
	v, err, shared := m.connects.Do("connect", func() (any, error) {
		if reuse {
			if s, err := m.Sender(); err == nil {
				return s, nil
			}
		}
		return m.connect(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		m.logger.Debug("joined in-flight wallet connection", "chainId", m.network.ChainID)
	}
	return v.(Sender), nil
}

func (m *Manager) connect(ctx context.Context) (Sender, error) {
	m.mu.RLock()
	w := m.wallet
	m.mu.RUnlock()
	if w == nil {
		return nil, ErrNoWalletDetected
	}

	accounts, err := w.RequestAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("request accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}

	if err := m.ensureChain(ctx, w); err != nil {
		return nil, err
	}

	sender, err := w.Sender(ctx, accounts[0])
	if err != nil {
		return nil, fmt.Errorf("bind sender for %s: %w", accounts[0].Hex(), err)
	}

	m.mu.Lock()
	m.state = State{
		Network:     m.network,
		Reader:      m.reader,
		Sender:      sender,
		Account:     accounts[0],
		Initialized: true,
	}
	m.mu.Unlock()

	m.logger.Info("wallet connected", "account", accounts[0].Hex(), "network", m.network.Name, "chainId", m.network.ChainID)
	return sender, nil
}

// ensureChain switches the wallet to the expected network, registering the
// network first when the wallet does not know it.
func (m *Manager) ensureChain(ctx context.Context, w Wallet) error {
	current, err := w.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read wallet chain id: %w", err)
	}
	want := m.network.ChainID
	if current != nil && current.Cmp(want) == 0 {
		return nil
	}

	m.logger.Info("switching wallet network", "from", current, "to", want)
	err = w.SwitchChain(ctx, want)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrChainNotAdded) {
		return fmt.Errorf("switch to chain %s: %w", want, err)
	}

	m.logger.Info("adding network to wallet", "network", m.network.Name, "chainId", want)
	if err := w.AddChain(ctx, m.network); err != nil {
		return fmt.Errorf("add chain %s: %w", want, err)
	}
	if err := w.SwitchChain(ctx, want); err != nil {
		return fmt.Errorf("switch to chain %s after adding it: %w", want, err)
	}
	return nil
}

// Disconnect drops the sender and returns to a fresh read-only state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Sender != nil {
		m.logger.Info("wallet disconnected", "account", m.state.Account.Hex())
	}
	m.state = m.readOnlyState()
}

// EnsureInitialized returns the connected sender, connecting first when
// there is none.
func (m *Manager) EnsureInitialized(ctx context.Context) (Sender, error) {
	if s, err := m.Sender(); err == nil {
		return s, nil
	}
	return m.join(ctx, true)
}
