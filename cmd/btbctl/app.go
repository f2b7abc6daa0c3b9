package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	btbclient "github.com/btb-finance/btb-chain-client"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/btb-finance/btb-chain-client/multicall"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	logLevel   string
	jsonLogs   bool
	timeout    time.Duration
}

// app is everything a command needs, built from the flags, the config file
// and the environment.
type app struct {
	cfg    *FileConfig
	log    *zap.Logger
	eth    *ethclient.Client
	wallet *connection.KeyWallet
	client *btbclient.Client
}

// open builds the app. The wallet is only loaded when withWallet is set,
// so read-only commands work without a private key.
func (o *options) open(ctx context.Context, withWallet bool) (*app, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(o.logLevel, o.jsonLogs)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: logger}
	if key := os.Getenv("BTB_PRIVATE_KEY"); key != "" {
		a.wallet, err = connection.NewKeyWallet(key, cfg.network())
		if err != nil {
			return nil, fmt.Errorf("load BTB_PRIVATE_KEY: %w", err)
		}
	} else if withWallet {
		return nil, errors.New("BTB_PRIVATE_KEY is not set")
	}

	a.eth, err = ethclient.DialContext(ctx, cfg.Network.RpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.Network.RpcURL, err)
	}

	mc := multicall.Options{
		ChunkSize:      cfg.Multicall.ChunkSize,
		ChunkDelay:     cfg.Multicall.ChunkDelay,
		MaxAttempts:    cfg.Multicall.MaxAttempts,
		RetryBaseDelay: cfg.Multicall.RetryBaseDelay,
	}
	if rps := cfg.Multicall.RequestsPerSecond; rps > 0 {
		mc.Limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}

	clientCfg := &btbclient.Config{
		ClientName:           "btbctl",
		Network:              cfg.network(),
		Contracts:            cfg.contracts(),
		Reader:               a.eth,
		Logger:               zapLogger{logger.Sugar()},
		CacheWindow:          cfg.CacheWindow,
		Multicall:            mc,
		ProgressiveBatchSize: cfg.ProgressiveBatchSize,
	}
	if withWallet {
		clientCfg.Wallet = a.wallet
	}
	a.client, err = btbclient.NewClient(clientCfg)
	if err != nil {
		a.eth.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if a.eth != nil {
		a.eth.Close()
	}
	_ = a.log.Sync()
}

// account resolves the account a read command reports on: the flag when
// given, otherwise the address of the configured key.
func (a *app) account(flag string) (common.Address, error) {
	if flag != "" {
		if !common.IsHexAddress(flag) {
			return common.Address{}, fmt.Errorf("%q is not an address", flag)
		}
		return common.HexToAddress(flag), nil
	}
	if a.wallet == nil {
		return common.Address{}, errors.New("pass --account or set BTB_PRIVATE_KEY")
	}
	return a.wallet.Address(), nil
}

func (a *app) txURL(hash common.Hash) string {
	if a.cfg.Network.Explorer == "" {
		return ""
	}
	return strings.TrimRight(a.cfg.Network.Explorer, "/") + "/tx/" + hash.Hex()
}

// parseAmount converts a human amount such as "12.5" into base units of a
// token with the given decimals.
func parseAmount(s string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	base := d.Shift(decimals)
	if !base.Equal(base.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, decimals)
	}
	if base.Sign() <= 0 {
		return nil, fmt.Errorf("amount %q must be positive", s)
	}
	return base.BigInt(), nil
}

func parseTokenIDs(args []string) ([]*big.Int, error) {
	ids := make([]*big.Int, 0, len(args))
	for _, arg := range args {
		for _, part := range strings.Split(arg, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, ok := new(big.Int).SetString(part, 10)
			if !ok || id.Sign() < 0 {
				return nil, fmt.Errorf("invalid token id %q", part)
			}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("at least one token id is required")
	}
	return ids, nil
}
