package connection

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is what a key-backed sender needs from a node connection.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// DialFunc opens a Backend for an RPC endpoint.
type DialFunc func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// KeyWallet is a Wallet backed by a single private key, for operators and
// scripts. It tracks the networks it has been told about and which one is
// active, mirroring how a browser wallet answers switch and add requests.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	dial    DialFunc

	mu       sync.Mutex
	networks map[string]Network
	active   Network
}

// KeyWalletOption configures a KeyWallet.
type KeyWalletOption func(*KeyWallet)

// WithDialer replaces the ethclient dialer, mainly for tests.
func WithDialer(d DialFunc) KeyWalletOption {
	return func(w *KeyWallet) { w.dial = d }
}

// NewKeyWallet parses a hex private key (with or without 0x) and starts on
// the given network.
func NewKeyWallet(hexKey string, initial Network, opts ...KeyWalletOption) (*KeyWallet, error) {
	if initial.ChainID == nil {
		return nil, fmt.Errorf("initial network chain id is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	w := &KeyWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		dial:     dialEthclient,
		networks: map[string]Network{initial.ChainID.String(): initial},
		active:   initial,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func (w *KeyWallet) Address() common.Address { return w.address }

func (w *KeyWallet) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

func (w *KeyWallet) ChainID(context.Context) (*big.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return new(big.Int).Set(w.active.ChainID), nil
}

func (w *KeyWallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	n, ok := w.networks[chainID.String()]
	if !ok {
		return fmt.Errorf("chain %s: %w", chainID, ErrChainNotAdded)
	}
	w.active = n
	return nil
}

func (w *KeyWallet) AddChain(_ context.Context, network Network) error {
	if network.ChainID == nil {
		return fmt.Errorf("network %q has no chain id", network.Name)
	}
	if network.RPCURL == "" {
		return fmt.Errorf("network %q has no rpc url", network.Name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.networks[network.ChainID.String()] = network
	return nil
}

// Sender dials the active network and returns a signer for account.
func (w *KeyWallet) Sender(ctx context.Context, account common.Address) (Sender, error) {
	if account != w.address {
		return nil, fmt.Errorf("%s: %w", account.Hex(), ErrUnknownAccount)
	}
	w.mu.Lock()
	active := w.active
	w.mu.Unlock()

	backend, err := w.dial(ctx, active.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", active.Name, err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(w.key, active.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	return &keySender{backend: backend, auth: auth}, nil
}

type keySender struct {
	backend Backend
	auth    *bind.TransactOpts
}

func (s *keySender) From() common.Address { return s.auth.From }

func (s *keySender) SendTransaction(ctx context.Context, to common.Address, data []byte, opts TxOptions) (*types.Transaction, error) {
	auth := *s.auth
	auth.Context = ctx
	auth.Value = opts.Value
	auth.GasLimit = opts.GasLimit

	// The calldata is already encoded, so an empty interface is enough.
	contract := bind.NewBoundContract(to, abi.ABI{}, s.backend, s.backend, s.backend)
	return contract.RawTransact(&auth, data)
}

func (s *keySender) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	return bind.WaitMined(ctx, s.backend, tx)
}
