// Package scheduler submits the game's daily batch transaction on a timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/btb-finance/btb-chain-client/multicall"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultInterval         = 24 * time.Hour
	DefaultEstimateTimeout  = 15 * time.Second
	DefaultFallbackGasLimit = 500_000
	DefaultGasBufferPercent = 20
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 2 * time.Second
)

// Run stages reported by RunError.
const (
	StageEncode   = "encode"
	StageEstimate = "estimate"
	StageSubmit   = "submit"
	StageConfirm  = "confirm"
)

var ErrReverted = errors.New("batch transaction reverted")

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Estimator estimates the gas a call needs. Node clients satisfy it.
type Estimator interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// RunError reports the stage at which a batch run stopped.
type RunError struct {
	Stage string
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("batch run failed at %s: %v", e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Config holds the dependencies and settings of a BatchProcessor. For
// durations and counts, zero selects the default.
type Config struct {
	Game      common.Address
	Sender    connection.Sender
	Estimator Estimator

	Interval         time.Duration
	EstimateTimeout  time.Duration
	FallbackGasLimit uint64
	GasBufferPercent uint64
	MaxAttempts      int
	RetryDelay       time.Duration
	// AwaitReceipt makes a run wait for the transaction to be mined.
	AwaitReceipt bool
	IsTransient  func(error) bool

	Logger     Logger
	Registerer prometheus.Registerer
}

func (c *Config) validate() error {
	if c.Game == (common.Address{}) {
		return errors.New("game contract address is required")
	}
	if c.Sender == nil {
		return errors.New("sender is required")
	}
	if c.Estimator == nil {
		return errors.New("estimator is required")
	}
	if c.Interval < 0 || c.EstimateTimeout < 0 || c.RetryDelay < 0 {
		return errors.New("durations cannot be negative")
	}
	if c.MaxAttempts < 0 {
		return errors.New("max attempts cannot be negative")
	}
	return nil
}

// Result describes a submitted batch.
type Result struct {
	Tx               *types.Transaction
	GasLimit         uint64
	EstimateTimedOut bool
	Receipt          *types.Receipt
}

// BatchProcessor calls the game's processDailyBatch. Gas estimation is
// time-boxed: when it does not answer in time the run proceeds with a
// conservative fallback limit, and when it reverts the run is skipped.
type BatchProcessor struct {
	game        common.Address
	sender      connection.Sender
	estimator   Estimator
	interval    time.Duration
	timeout     time.Duration
	fallbackGas uint64
	bufferPct   uint64
	maxAttempts int
	retryDelay  time.Duration
	await       bool
	isTransient func(error) bool
	metrics     *Metrics
	logger      Logger
}

func New(cfg *Config) (*BatchProcessor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid batch processor configuration: %w", err)
	}
	p := &BatchProcessor{
		game:        cfg.Game,
		sender:      cfg.Sender,
		estimator:   cfg.Estimator,
		interval:    cfg.Interval,
		timeout:     cfg.EstimateTimeout,
		fallbackGas: cfg.FallbackGasLimit,
		bufferPct:   cfg.GasBufferPercent,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		await:       cfg.AwaitReceipt,
		isTransient: cfg.IsTransient,
		metrics:     NewMetrics(cfg.Registerer),
		logger:      cfg.Logger,
	}
	if p.interval == 0 {
		p.interval = DefaultInterval
	}
	if p.timeout == 0 {
		p.timeout = DefaultEstimateTimeout
	}
	if p.fallbackGas == 0 {
		p.fallbackGas = DefaultFallbackGasLimit
	}
	if p.bufferPct == 0 {
		p.bufferPct = DefaultGasBufferPercent
	}
	if p.maxAttempts == 0 {
		p.maxAttempts = DefaultMaxAttempts
	}
	if p.retryDelay == 0 {
		p.retryDelay = DefaultRetryDelay
	}
	if p.isTransient == nil {
		p.isTransient = IsTransient
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return p, nil
}

// Start runs a batch every interval until ctx is done. Failed runs are
// logged and the loop carries on.
func (p *BatchProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := p.RunOnce(ctx); err != nil {
				p.logger.Error("daily batch run failed", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunOnce estimates, submits and optionally confirms one batch.
func (p *BatchProcessor) RunOnce(ctx context.Context) (Result, error) {
	timer := prometheus.NewTimer(p.metrics.RunDuration.WithLabelValues())
	defer timer.ObserveDuration()

	data, err := codec.Encode(btbabi.GameABI, "processDailyBatch")
	if err != nil {
		return p.fail("failed", &RunError{Stage: StageEncode, Err: err})
	}

	gas, timedOut, err := p.estimate(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return p.fail("failed", &RunError{Stage: StageEstimate, Err: err})
		}
		p.logger.Info("batch estimation reverted, skipping run", "error", err)
		return p.fail("skipped", &RunError{Stage: StageEstimate, Err: err})
	}
	result := Result{GasLimit: gas, EstimateTimedOut: timedOut}

	tx, err := p.submit(ctx, data, gas)
	if err != nil {
		return p.fail("failed", &RunError{Stage: StageSubmit, Err: err})
	}
	result.Tx = tx
	p.logger.Info("daily batch submitted", "hash", tx.Hash().Hex(), "gasLimit", gas, "fallbackGas", timedOut)

	if p.await {
		receipt, err := p.sender.WaitMined(ctx, tx)
		if err != nil {
			return p.fail("failed", &RunError{Stage: StageConfirm, Err: err})
		}
		result.Receipt = receipt
		if receipt.Status != types.ReceiptStatusSuccessful {
			return p.fail("failed", &RunError{Stage: StageConfirm, Err: fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())})
		}
	}

	p.metrics.RunsTotal.WithLabelValues("submitted").Inc()
	return result, nil
}

func (p *BatchProcessor) fail(outcome string, err *RunError) (Result, error) {
	p.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	return Result{}, err
}

// estimate races gas estimation against the configured timeout. A timeout
// is not an error: it yields the fallback limit and timedOut set.
func (p *BatchProcessor) estimate(ctx context.Context, data []byte) (gas uint64, timedOut bool, err error) {
	type estimation struct {
		gas uint64
		err error
	}
	ectx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan estimation, 1)
	go func() {
		gas, err := p.estimator.EstimateGas(ectx, ethereum.CallMsg{From: p.sender.From(), To: &p.game, Data: data})
		done <- estimation{gas: gas, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return 0, false, r.err
		}
		return r.gas + r.gas*p.bufferPct/100, false, nil
	case <-time.After(p.timeout):
		p.metrics.EstimateTimeoutsTotal.WithLabelValues().Inc()
		p.logger.Warn("gas estimation timed out, using fallback limit", "timeout", p.timeout, "gasLimit", p.fallbackGas)
		return p.fallbackGas, true, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

func (p *BatchProcessor) submit(ctx context.Context, data []byte, gas uint64) (*types.Transaction, error) {
	var tx *types.Transaction
	attempt := 0
	op := func() error {
		attempt++
		sent, err := p.sender.SendTransaction(ctx, p.game, data, connection.TxOptions{GasLimit: gas})
		if err == nil {
			tx = sent
			return nil
		}
		if !p.isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		p.metrics.RetriesTotal.WithLabelValues().Inc()
		p.logger.Warn("transient submission failure, retrying batch",
			"attempt", attempt, "maxAttempts", p.maxAttempts, "delay", next, "error", err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.retryDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxElapsedTime = 0
	eb.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.maxAttempts-1)), ctx)

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return nil, err
	}
	return tx, nil
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"nonce too low",
	"replacement transaction underpriced",
}

// IsTransient is the default submission retry policy: rate limits plus
// network hiccups and nonce races that a later attempt can get past.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if multicall.IsRateLimited(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
