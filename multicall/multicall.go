// Package multicall fans large sets of contract reads out as individual
// eth_call requests, in fixed-size chunks with a pause between chunks so a
// public RPC endpoint is not flooded. No on-chain aggregator is involved.
package multicall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultChunkSize       = 50
	DefaultChunkDelay      = 50 * time.Millisecond
	DefaultBatchChunkDelay = 150 * time.Millisecond
	DefaultMaxAttempts     = 3
	DefaultRetryBaseDelay  = 500 * time.Millisecond

	// defaultRPCTimeout bounds every individual eth_call.
	defaultRPCTimeout = 10 * time.Second

	modeMulticall = "multicall"
	modeBatch     = "batch"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Caller is the read side of an RPC client.
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// TransientFunc decides whether a failed chunk is worth retrying.
type TransientFunc func(error) bool

// Options tunes an Executor. For durations, zero selects the default and a
// negative value disables the pause.
type Options struct {
	ChunkSize       int
	ChunkDelay      time.Duration
	BatchChunkDelay time.Duration
	MaxAttempts     int
	RetryBaseDelay  time.Duration
	CallTimeout     time.Duration
	IsTransient     TransientFunc
	Limiter         *rate.Limiter
	Registerer      prometheus.Registerer
	Logger          Logger
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkDelay == 0 {
		o.ChunkDelay = DefaultChunkDelay
	}
	if o.BatchChunkDelay == 0 {
		o.BatchChunkDelay = DefaultBatchChunkDelay
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = defaultRPCTimeout
	}
	if o.IsTransient == nil {
		o.IsTransient = IsRateLimited
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// CallError identifies the call that sank an invocation.
type CallError struct {
	Index  int
	Target common.Address
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("call %d to %s: %v", e.Index, e.Target.Hex(), e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Executor runs chunked eth_call fan-outs against one Caller.
type Executor struct {
	caller  Caller
	opts    Options
	metrics *Metrics
	logger  Logger
}

func New(caller Caller, opts Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{
		caller:  caller,
		opts:    opts,
		metrics: NewMetrics(opts.Registerer),
		logger:  opts.Logger,
	}
}

// ChunkSize reports the effective chunk size.
func (e *Executor) ChunkSize() int { return e.opts.ChunkSize }

// Multicall executes calls and returns their raw results in call order.
// Chunks run one after another; the calls of a chunk run concurrently. Any
// failure fails the whole invocation and nothing is retried.
func (e *Executor) Multicall(ctx context.Context, calls []codec.EncodedCall) ([][]byte, error) {
	results := make([][]byte, len(calls))
	for start := 0; start < len(calls); start += e.opts.ChunkSize {
		end := min(start+e.opts.ChunkSize, len(calls))
		if start > 0 {
			if err := pause(ctx, e.opts.ChunkDelay); err != nil {
				return nil, err
			}
		}
		if err := e.runChunk(ctx, modeMulticall, calls[start:end], results[start:end], start); err != nil {
			e.metrics.FailuresTotal.WithLabelValues(modeMulticall, strconv.FormatBool(e.opts.IsTransient(err))).Inc()
			return nil, err
		}
	}
	return results, nil
}

// BatchContractCalls encodes, executes and decodes calls. Each chunk is
// retried with exponential backoff, but only for errors the transient policy
// accepts. chunkSize <= 0 uses the executor's chunk size.
func (e *Executor) BatchContractCalls(ctx context.Context, calls []codec.BatchCall, chunkSize int) ([][]any, error) {
	if chunkSize <= 0 {
		chunkSize = e.opts.ChunkSize
	}
	encoded, err := codec.EncodeAll(calls)
	if err != nil {
		return nil, err
	}

	results := make([][]any, len(calls))
	for start := 0; start < len(calls); start += chunkSize {
		end := min(start+chunkSize, len(calls))
		if start > 0 {
			if err := pause(ctx, e.opts.BatchChunkDelay); err != nil {
				return nil, err
			}
		}

		raw, err := e.runChunkWithRetry(ctx, encoded[start:end], start)
		if err != nil {
			e.metrics.FailuresTotal.WithLabelValues(modeBatch, strconv.FormatBool(e.opts.IsTransient(err))).Inc()
			return nil, err
		}

		for i, data := range raw {
			call := calls[start+i]
			values, err := codec.Decode(call.ABI, call.Method, data)
			if err != nil {
				return nil, &CallError{Index: start + i, Target: call.Target, Err: err}
			}
			results[start+i] = values
		}
	}
	return results, nil
}

func (e *Executor) runChunkWithRetry(ctx context.Context, calls []codec.EncodedCall, offset int) ([][]byte, error) {
	raw := make([][]byte, len(calls))
	attempt := 0

	op := func() error {
		attempt++
		err := e.runChunk(ctx, modeBatch, calls, raw, offset)
		if err == nil {
			return nil
		}
		if !e.opts.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		e.metrics.RetriesTotal.WithLabelValues().Inc()
		e.logger.Warn("transient rpc failure, retrying chunk",
			"offset", offset, "size", len(calls), "attempt", attempt, "maxAttempts", e.opts.MaxAttempts, "delay", next, "error", err)
	}

	if err := backoff.RetryNotify(op, e.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return raw, nil
}

// newBackOff waits RetryBaseDelay, then doubles, for at most MaxAttempts
// attempts in total.
func (e *Executor) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = e.opts.RetryBaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = e.opts.RetryBaseDelay << uint(e.opts.MaxAttempts)
	eb.MaxElapsedTime = 0
	eb.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(e.opts.MaxAttempts-1)), ctx)
}

// runChunk issues every call of the chunk concurrently and writes each result
// at its own index of out.
func (e *Executor) runChunk(ctx context.Context, mode string, calls []codec.EncodedCall, out [][]byte, offset int) error {
	started := time.Now()
	e.metrics.ChunksTotal.WithLabelValues(mode).Inc()
	defer func() {
		e.metrics.ChunkDuration.WithLabelValues(mode).Observe(time.Since(started).Seconds())
	}()

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			data, err := e.call(gctx, mode, call)
			if err != nil {
				return &CallError{Index: offset + i, Target: call.Target, Err: err}
			}
			out[i] = data
			return nil
		})
	}
	return g.Wait()
}

func (e *Executor) call(ctx context.Context, mode string, call codec.EncodedCall) ([]byte, error) {
	if e.opts.Limiter != nil {
		if err := e.opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	ctx, cancel := context.WithTimeout(ctx, e.opts.CallTimeout)
	defer cancel()

	e.metrics.CallsTotal.WithLabelValues(mode).Inc()
	target := call.Target
	return e.caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: call.Data}, nil)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var rateLimitMarkers = []string{
	"rate limit",
	"ratelimit",
	"request limit exceeded",
	"too many requests",
	"status 429",
}

// IsRateLimited is the default transient policy: it accepts HTTP 429s,
// JSON-RPC "limit exceeded" errors and the wording public providers use for
// throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	// Judge the RPC error itself, not the call context wrapped around it.
	var callErr *CallError
	if errors.As(err, &callErr) {
		err = callErr.Err
	}
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == 429 {
		return true
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == -32005 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
