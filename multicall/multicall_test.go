package multicall

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/btb-finance/btb-chain-client/internal/chaintest"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var game = common.HexToAddress("0x0000000000000000000000000000000000000aaa")

// --- Test Helper Functions ---

// echoCalls builds n calls whose calldata is their own index, so the echo
// handler's answers reveal any reordering.
func echoCalls(n int) []codec.EncodedCall {
	calls := make([]codec.EncodedCall, n)
	for i := range calls {
		data := make([]byte, 8)
		binary.BigEndian.PutUint64(data, uint64(i))
		calls[i] = codec.EncodedCall{Target: game, Data: data}
	}
	return calls
}

func echoHandler(ctx context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	// Later calls answer first to shake out ordering bugs.
	idx := binary.BigEndian.Uint64(msg.Data)
	select {
	case <-time.After(time.Duration(50-idx%50) * 50 * time.Microsecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return append([]byte(nil), msg.Data...), nil
}

func fastOptions(reg prometheus.Registerer) Options {
	return Options{
		ChunkDelay:      -1,
		BatchChunkDelay: -1,
		RetryBaseDelay:  time.Millisecond,
		Registerer:      reg,
	}
}

// --- Test Suite ---

func TestMulticallPreservesOrderAndChunks(t *testing.T) {
	testCases := []struct {
		name       string
		calls      int
		wantChunks float64
	}{
		{"Edge Case - no calls", 0, 0},
		{"Happy Path - single partial chunk", 7, 1},
		{"Happy Path - exact chunk", 50, 1},
		{"Happy Path - many chunks", 214, 5},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := chaintest.NewBackend(84532)
			backend.SetCallContractHandler(echoHandler)
			reg := prometheus.NewRegistry()
			exec := New(backend, fastOptions(reg))

			out, err := exec.Multicall(context.Background(), echoCalls(tc.calls))
			require.NoError(t, err)
			require.Len(t, out, tc.calls)
			for i, data := range out {
				assert.Equal(t, uint64(i), binary.BigEndian.Uint64(data), "result %d out of order", i)
			}

			assert.Equal(t, int64(tc.calls), backend.CallCount())
			assert.LessOrEqual(t, backend.MaxConcurrentCalls(), int64(DefaultChunkSize))
			assert.Equal(t, tc.wantChunks, testutil.ToFloat64(exec.metrics.ChunksTotal.WithLabelValues(modeMulticall)))
		})
	}
}

func TestMulticallFailsWholeInvocation(t *testing.T) {
	backend := chaintest.NewBackend(84532)
	backend.SetCallContractHandler(func(ctx context.Context, msg ethereum.CallMsg, b *big.Int) ([]byte, error) {
		if binary.BigEndian.Uint64(msg.Data) == 73 {
			return nil, errors.New("execution reverted")
		}
		return echoHandler(ctx, msg, b)
	})
	exec := New(backend, fastOptions(nil))

	out, err := exec.Multicall(context.Background(), echoCalls(120))
	require.Error(t, err)
	assert.Nil(t, out)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, 73, callErr.Index)
	assert.Equal(t, game, callErr.Target)
	assert.LessOrEqual(t, backend.CallCount(), int64(100), "the third chunk must never start")
}

func TestMulticallPausesBetweenChunks(t *testing.T) {
	backend := chaintest.NewBackend(84532)
	backend.SetCallContractHandler(func(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		return msg.Data, nil
	})
	exec := New(backend, Options{ChunkSize: 10, ChunkDelay: 20 * time.Millisecond})

	started := time.Now()
	_, err := exec.Multicall(context.Background(), echoCalls(40))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(started), 60*time.Millisecond, "three pauses between four chunks")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exec.Multicall(ctx, echoCalls(40))
	require.ErrorIs(t, err, context.Canceled)
}

func TestBatchContractCallsRetries(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000000a1")

	testCases := []struct {
		name         string
		failures     int32
		failWith     error
		expectError  bool
		wantAttempts int32
		wantRetries  float64
	}{
		{
			name:         "Happy Path - succeeds first time",
			wantAttempts: 1,
		},
		{
			name:         "Happy Path - rate limited twice then succeeds",
			failures:     2,
			failWith:     errors.New("429 Too Many Requests: rate limit exceeded"),
			wantAttempts: 3,
			wantRetries:  2,
		},
		{
			name:         "Failure - rate limited on every attempt",
			failures:     10,
			failWith:     errors.New("Request limit exceeded"),
			expectError:  true,
			wantAttempts: 3,
			wantRetries:  2,
		},
		{
			name:         "Failure - revert is not retried",
			failures:     10,
			failWith:     errors.New("execution reverted"),
			expectError:  true,
			wantAttempts: 1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var attempts atomic.Int32
			router := chaintest.NewRouter()
			router.Handle(game, btbabi.GameABI, "balanceOf", func(common.Address, []any) ([]any, error) {
				if attempts.Add(1) <= tc.failures {
					return nil, tc.failWith
				}
				return []any{big.NewInt(9)}, nil
			})
			backend := chaintest.NewBackend(84532)
			backend.SetCallContractHandler(router.CallContract)
			exec := New(backend, fastOptions(prometheus.NewRegistry()))

			out, err := exec.BatchContractCalls(context.Background(), []codec.BatchCall{
				{Target: game, ABI: btbabi.GameABI, Method: "balanceOf", Args: []any{owner}},
			}, 0)

			assert.Equal(t, tc.wantAttempts, attempts.Load())
			assert.Equal(t, tc.wantRetries, testutil.ToFloat64(exec.metrics.RetriesTotal.WithLabelValues()))
			if tc.expectError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, big.NewInt(9), out[0][0])
		})
	}
}

func TestBatchContractCallsCustomTransientPolicy(t *testing.T) {
	var attempts atomic.Int32
	backend := chaintest.NewBackend(84532)
	backend.SetCallContractHandler(func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("upstream timeout")
		}
		return btbabi.GameABI.Methods["feedCost"].Outputs.Pack(big.NewInt(5))
	})

	opts := fastOptions(nil)
	opts.IsTransient = func(err error) bool { return IsRateLimited(err) || strings.Contains(err.Error(), "timeout") }
	exec := New(backend, opts)

	out, err := exec.BatchContractCalls(context.Background(), []codec.BatchCall{
		{Target: game, ABI: btbabi.GameABI, Method: "feedCost"},
	}, 1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, big.NewInt(5), out[0][0])
}

func TestBatchContractCallsChunking(t *testing.T) {
	router := chaintest.NewRouter()
	router.Returns(game, btbabi.GameABI, "feedCost", big.NewInt(11))
	backend := chaintest.NewBackend(84532)
	backend.SetCallContractHandler(router.CallContract)
	exec := New(backend, fastOptions(prometheus.NewRegistry()))

	calls := make([]codec.BatchCall, 23)
	for i := range calls {
		calls[i] = codec.BatchCall{Target: game, ABI: btbabi.GameABI, Method: "feedCost"}
	}
	out, err := exec.BatchContractCalls(context.Background(), calls, 5)
	require.NoError(t, err)
	require.Len(t, out, 23)
	assert.Equal(t, float64(5), testutil.ToFloat64(exec.metrics.ChunksTotal.WithLabelValues(modeBatch)))
	assert.LessOrEqual(t, backend.MaxConcurrentCalls(), int64(5))

	// Encoding failures abort before any RPC.
	backend.ResetCounters()
	_, err = exec.BatchContractCalls(context.Background(), []codec.BatchCall{
		{Target: game, ABI: btbabi.GameABI, Method: "notThere"},
	}, 5)
	require.ErrorIs(t, err, codec.ErrUnknownMethod)
	assert.Zero(t, backend.CallCount())
}

func TestIsRateLimited(t *testing.T) {
	testCases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("rate limit exceeded"), true},
		{errors.New("Request limit exceeded"), true},
		{errors.New("Too Many Requests"), true},
		{rpc.HTTPError{StatusCode: 429, Status: "429"}, true},
		{rpc.HTTPError{StatusCode: 500, Status: "500"}, false},
		{errors.New("execution reverted"), false},
		{&CallError{Index: 1, Target: common.HexToAddress("0x4290000000000000000000000000000000000429"), Err: errors.New("execution reverted")}, false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsRateLimited(tc.err), "%v", tc.err)
	}
}
