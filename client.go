// Package btbclient aggregates the on-chain state of the BTB hunt game for
// an account and submits its approval-then-action transactions.
package btbclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/btb-finance/btb-chain-client/cache"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/btb-finance/btb-chain-client/logs"
	"github.com/btb-finance/btb-chain-client/multicall"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// defaultRPCTimeout bounds every discrete read and simulation.
	defaultRPCTimeout = 10 * time.Second

	// DefaultProgressiveBatchSize is how many hunters each progressive step loads.
	DefaultProgressiveBatchSize = 25
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type ErrorHandlerFunc func(err error)

// Contracts holds the deployed addresses the client talks to. Staking, Swap
// and LP are optional; operations on them fail with ErrContractNotConfigured.
type Contracts struct {
	Game    common.Address
	Bear    common.Address
	BTB     common.Address
	MiMo    common.Address
	LP      common.Address
	Staking common.Address
	Swap    common.Address
}

// Config holds all the dependencies and settings for the Client.
type Config struct {
	ClientName           string
	Network              connection.Network
	Contracts            Contracts
	Reader               connection.Reader
	Wallet               connection.Wallet
	PrometheusReg        prometheus.Registerer
	Logger               Logger
	ErrorHandler         ErrorHandlerFunc
	CacheWindow          time.Duration
	Multicall            multicall.Options
	ProgressiveBatchSize int
	Invalidations        map[Operation][]string
	Clock                func() time.Time
}

// validate checks that all essential fields in the Config are provided.
func (c *Config) validate() error {
	if c.ClientName == "" {
		return errors.New("client name is required")
	}
	if c.Network.ChainID == nil {
		return errors.New("network chain id is required")
	}
	if c.Reader == nil {
		return errors.New("reader is required")
	}
	if c.Contracts.Game == (common.Address{}) {
		return errors.New("game contract address is required")
	}
	if c.Contracts.Bear == (common.Address{}) {
		return errors.New("bear contract address is required")
	}
	if c.Contracts.BTB == (common.Address{}) {
		return errors.New("btb token address is required")
	}
	if c.Contracts.MiMo == (common.Address{}) {
		return errors.New("mimo token address is required")
	}
	if c.ProgressiveBatchSize < 0 {
		return errors.New("progressive batch size cannot be negative")
	}
	return nil
}

// Client answers aggregation queries from the chain, caching them briefly,
// and submits the game's transactions through the connected wallet. It is
// safe for concurrent use.
type Client struct {
	name          string
	contracts     Contracts
	conn          *connection.Manager
	reader        connection.Reader
	exec          *multicall.Executor
	cache         *cache.Cache
	batchSize     uint64
	invalidations map[Operation][]string
	metrics       *Metrics
	logger        Logger
	errorHandler  ErrorHandlerFunc
}

// NewClient builds a client in the read-only state. Mutating operations
// connect the configured wallet on first use.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid btb client configuration: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	connOpts := []connection.Option{connection.WithLogger(logger)}
	if cfg.Wallet != nil {
		connOpts = append(connOpts, connection.WithWallet(cfg.Wallet))
	}
	conn, err := connection.NewManager(cfg.Network, cfg.Reader, connOpts...)
	if err != nil {
		return nil, fmt.Errorf("connection manager: %w", err)
	}

	mcOpts := cfg.Multicall
	if mcOpts.Logger == nil {
		mcOpts.Logger = logger
	}
	if mcOpts.Registerer == nil {
		mcOpts.Registerer = cfg.PrometheusReg
	}

	var cacheOpts []cache.Option
	if cfg.Clock != nil {
		cacheOpts = append(cacheOpts, cache.WithClock(cfg.Clock))
	}

	batchSize := cfg.ProgressiveBatchSize
	if batchSize == 0 {
		batchSize = DefaultProgressiveBatchSize
	}

	invalidations := cfg.Invalidations
	if invalidations == nil {
		invalidations = DefaultInvalidations()
	}

	metrics := NewMetrics(cfg.PrometheusReg, cfg.ClientName)
	c := &Client{
		name:          cfg.ClientName,
		contracts:     cfg.Contracts,
		conn:          conn,
		reader:        cfg.Reader,
		exec:          multicall.New(cfg.Reader, mcOpts),
		cache:         cache.New(cfg.CacheWindow, cacheOpts...),
		batchSize:     uint64(batchSize),
		invalidations: invalidations,
		metrics:       metrics,
		logger:        logger,
	}
	c.errorHandler = func(err error) {
		errorType := determineErrorType(err)
		logger.Error("btb client error", "client", cfg.ClientName, "type", errorType, "error", err)
		metrics.ErrorsTotal.WithLabelValues(errorType).Inc()
		if cfg.ErrorHandler != nil {
			cfg.ErrorHandler(err)
		}
	}
	return c, nil
}

// Connection exposes the connection manager, e.g. to inject a wallet later.
func (c *Client) Connection() *connection.Manager { return c.conn }

// Connect connects the wallet now instead of on the first mutation.
func (c *Client) Connect(ctx context.Context) (common.Address, error) {
	sender, err := c.conn.Connect(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return sender.From(), nil
}

// Disconnect returns to the read-only state. Cached reads are kept.
func (c *Client) Disconnect() { c.conn.Disconnect() }

// InvalidateCache drops every cached answer.
func (c *Client) InvalidateCache() { c.cache.InvalidateAll() }

// Contracts returns the configured addresses.
func (c *Client) Contracts() Contracts { return c.contracts }

// MintedHunters returns the hunters minted to owner by a mined transaction,
// typically a bear deposit.
func (c *Client) MintedHunters(receipt *types.Receipt, owner common.Address) []*big.Int {
	if receipt == nil || !logs.TransferInBloom(receipt.Bloom) {
		return nil
	}
	return logs.MintedTokenIDs(receipt.Logs, c.contracts.Game, owner)
}

// callView performs one discrete read through the bound-contract path.
func (c *Client) callView(ctx context.Context, target common.Address, contractABI *abi.ABI, method string, from common.Address, args ...any) ([]any, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()

	contract := bind.NewBoundContract(target, *contractABI, c.reader, nil, nil)
	var out []any
	if err := contract.Call(&bind.CallOpts{Context: ctx, From: from}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, target.Hex(), err)
	}
	return out, nil
}

func accountKey(prefix string, account common.Address) string {
	return prefix + strings.ToLower(account.Hex())
}

func (c *Client) observe(query string, started time.Time) {
	c.metrics.QueryDuration.WithLabelValues(query).Observe(time.Since(started).Seconds())
}
