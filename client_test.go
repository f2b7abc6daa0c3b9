package btbclient

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/btb-finance/btb-chain-client/internal/chaintest"
	"github.com/btb-finance/btb-chain-client/multicall"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helper Functions ---

var (
	gameAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	bearAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f2")
	btbAddr     = common.HexToAddress("0x00000000000000000000000000000000000000f3")
	mimoAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f4")
	stakingAddr = common.HexToAddress("0x00000000000000000000000000000000000000f5")
	swapAddr    = common.HexToAddress("0x00000000000000000000000000000000000000f6")

	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	testNetwork = connection.Network{ChainID: big.NewInt(84532), Name: "Base Sepolia", RPCURL: "http://127.0.0.1:8545"}

	ether = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

func eth(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), ether) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type allowanceKey struct {
	token, owner, spender common.Address
}

// world is an in-memory BTB deployment behind a fake node and wallet.
type world struct {
	backend *chaintest.Backend
	router  *chaintest.Router
	sender  *chaintest.Sender
	wallet  *chaintest.Wallet
	clock   *fakeClock
	reg     *prometheus.Registry
	client  *Client
	errs    []error

	mu         sync.Mutex
	hunters    map[common.Address][]int64
	bears      map[common.Address][]int64
	corrupt    map[int64]bool
	allowances map[allowanceKey]*big.Int
	operators  map[common.Address]bool
	missing    map[string]bool
}

type worldOption func(*Config)

func newWorld(t *testing.T, opts ...worldOption) *world {
	t.Helper()
	w := &world{
		backend:    chaintest.NewBackend(84532),
		router:     chaintest.NewRouter(),
		clock:      &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		reg:        prometheus.NewRegistry(),
		hunters:    map[common.Address][]int64{},
		bears:      map[common.Address][]int64{},
		corrupt:    map[int64]bool{},
		allowances: map[allowanceKey]*big.Int{},
		operators:  map[common.Address]bool{},
		missing:    map[string]bool{},
	}
	w.sender = chaintest.NewSender(alice, w.router)
	w.wallet = chaintest.NewWallet(84532, w.sender)
	w.installGame()
	w.installTokens()
	w.backend.SetCallContractHandler(w.handleCall)

	cfg := &Config{
		ClientName: "test",
		Network:    testNetwork,
		Contracts: Contracts{
			Game: gameAddr, Bear: bearAddr, BTB: btbAddr, MiMo: mimoAddr,
			Staking: stakingAddr, Swap: swapAddr,
		},
		Reader:        w.backend,
		Wallet:        w.wallet,
		PrometheusReg: w.reg,
		ErrorHandler: func(err error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.errs = append(w.errs, err)
		},
		Multicall: multicall.Options{ChunkDelay: -1, BatchChunkDelay: -1, RetryBaseDelay: time.Millisecond},
		Clock:     w.clock.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	client, err := NewClient(cfg)
	require.NoError(t, err)
	w.client = client
	return w
}

// handleCall answers corrupted hunters with garbage before routing.
func (w *world) handleCall(ctx context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	stats := btbabi.GameABI.Methods["getHunterStats"].ID
	if msg.To != nil && *msg.To == gameAddr && len(msg.Data) == 36 && bytes.Equal(msg.Data[:4], stats) {
		id := new(big.Int).SetBytes(msg.Data[4:]).Int64()
		w.mu.Lock()
		bad := w.corrupt[id]
		w.mu.Unlock()
		if bad {
			return []byte{0xde, 0xad}, nil
		}
	}
	return w.router.CallContract(ctx, msg, block)
}

func (w *world) setHunters(owner common.Address, n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	w.hunters[owner] = ids
}

func (w *world) installGame() {
	enumerate := func(store map[common.Address][]int64) chaintest.MethodHandler {
		return func(_ common.Address, args []any) ([]any, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			ids := store[args[0].(common.Address)]
			idx := args[1].(*big.Int)
			if !idx.IsInt64() || idx.Int64() >= int64(len(ids)) {
				return nil, errors.New("execution reverted: owner index out of bounds")
			}
			return []any{big.NewInt(ids[idx.Int64()])}, nil
		}
	}
	balance := func(store map[common.Address][]int64) chaintest.MethodHandler {
		return func(_ common.Address, args []any) ([]any, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			return []any{big.NewInt(int64(len(store[args[0].(common.Address)])))}, nil
		}
	}

	w.router.Handle(gameAddr, btbabi.GameABI, "balanceOf", balance(w.hunters))
	w.router.Handle(gameAddr, btbabi.GameABI, "tokenOfOwnerByIndex", enumerate(w.hunters))
	w.router.Handle(bearAddr, btbabi.ERC721ABI, "balanceOf", balance(w.bears))
	w.router.Handle(bearAddr, btbabi.ERC721ABI, "tokenOfOwnerByIndex", enumerate(w.bears))

	w.router.Handle(gameAddr, btbabi.GameABI, "getHunterStats", func(_ common.Address, args []any) ([]any, error) {
		id := args[0].(*big.Int).Int64()
		return []any{
			big.NewInt(1_700_000_000 + id),    // creationTime
			big.NewInt(1_700_100_000),         // lastFeedTime
			big.NewInt(w.lastHunt(id).Unix()), // lastHuntTime
			eth(10 + id),                      // power
			big.NewInt(id % 3),                // missedFeedings
			id%2 == 0,                         // inHibernation
			big.NewInt(0),                     // recoveryStartTime
			eth(id),                           // totalHunted
			big.NewInt(365 - id),              // daysRemaining
		}, nil
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "canFeed", func(_ common.Address, args []any) ([]any, error) {
		return []any{true, ""}, nil
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "canHunt", func(_ common.Address, args []any) ([]any, error) {
		id := args[0].(*big.Int).Int64()
		if w.clock.Now().Sub(w.lastHunt(id)) < huntCooldown {
			return []any{false, "hunted recently"}, nil
		}
		return []any{true, ""}, nil
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "isHunterActive", func(_ common.Address, args []any) ([]any, error) {
		return []any{true}, nil
	})
	w.router.Returns(gameAddr, btbabi.GameABI, "feedCost", eth(1))
	w.router.Returns(gameAddr, btbabi.GameABI, "redemptionPrice", eth(10))

	w.router.Handle(gameAddr, btbabi.GameABI, "depositBears", func(from common.Address, args []any) ([]any, error) {
		return w.deposit(from, "depositBears")
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "depositBears0", func(from common.Address, args []any) ([]any, error) {
		return w.deposit(from, "depositBears0")
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "feedHunters", func(from common.Address, args []any) ([]any, error) {
		need := new(big.Int).Mul(eth(1), big.NewInt(int64(len(args[0].([]*big.Int)))))
		if w.allowance(mimoAddr, from, gameAddr).Cmp(need) < 0 {
			return nil, errors.New("execution reverted: ERC20: insufficient allowance")
		}
		return nil, nil
	})
	w.router.Handle(gameAddr, btbabi.GameABI, "hunt", func(common.Address, []any) ([]any, error) { return nil, nil })
	w.router.Handle(gameAddr, btbabi.GameABI, "redeemBears", func(common.Address, []any) ([]any, error) { return nil, nil })

	w.router.Handle(bearAddr, btbabi.ERC721ABI, "isApprovedForAll", func(_ common.Address, args []any) ([]any, error) {
		return []any{w.isOperator(args[0].(common.Address))}, nil
	})
	w.router.Handle(bearAddr, btbabi.ERC721ABI, "setApprovalForAll", func(from common.Address, args []any) ([]any, error) {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.operators[from] = args[1].(bool)
		return nil, nil
	})
}

func (w *world) installTokens() {
	for _, token := range []common.Address{btbAddr, mimoAddr} {
		token := token
		w.router.Handle(token, btbabi.ERC20ABI, "allowance", func(_ common.Address, args []any) ([]any, error) {
			return []any{w.allowance(token, args[0].(common.Address), args[1].(common.Address))}, nil
		})
		w.router.Handle(token, btbabi.ERC20ABI, "approve", func(from common.Address, args []any) ([]any, error) {
			w.mu.Lock()
			defer w.mu.Unlock()
			w.allowances[allowanceKey{token, from, args[0].(common.Address)}] = args[1].(*big.Int)
			return []any{true}, nil
		})
		w.router.Returns(token, btbabi.ERC20ABI, "decimals", uint8(18))
	}
	w.router.Returns(btbAddr, btbabi.ERC20ABI, "balanceOf", eth(1500))
	w.router.Returns(mimoAddr, btbabi.ERC20ABI, "balanceOf", new(big.Int).Div(eth(5), big.NewInt(2)))

	w.router.Returns(stakingAddr, btbabi.StakingABI, "totalStaked", eth(1_000_000))
	// 1 BTB per second over a million staked is 3153.6% a year.
	w.router.Returns(stakingAddr, btbabi.StakingABI, "rewardRate", eth(1))
	w.router.Returns(stakingAddr, btbabi.StakingABI, "stakedBalance", eth(250))
	w.router.Handle(stakingAddr, btbabi.StakingABI, "stake", func(from common.Address, args []any) ([]any, error) {
		if w.allowance(btbAddr, from, stakingAddr).Cmp(args[0].(*big.Int)) < 0 {
			return nil, errors.New("execution reverted: ERC20: insufficient allowance")
		}
		return nil, nil
	})
	w.router.Handle(stakingAddr, btbabi.StakingABI, "unstake", func(common.Address, []any) ([]any, error) { return nil, nil })

	w.router.Returns(swapAddr, btbabi.SwapABI, "swapRate", new(big.Int).Div(eth(3), big.NewInt(2)))
	w.router.Returns(swapAddr, btbabi.SwapABI, "swapFeeBps", big.NewInt(30))
}

func (w *world) allowance(token, owner, spender common.Address) *big.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if v, ok := w.allowances[allowanceKey{token, owner, spender}]; ok {
		return v
	}
	return new(big.Int)
}

func (w *world) setAllowance(token, owner, spender common.Address, v *big.Int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.allowances[allowanceKey{token, owner, spender}] = v
}

func (w *world) isOperator(owner common.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.operators[owner]
}

// huntCooldown is how long the mocked game keeps a hunter from hunting again.
const huntCooldown = 24 * time.Hour

// lastHunt places odd hunters inside the cooldown and even hunters outside it.
func (w *world) lastHunt(id int64) time.Time {
	if id%2 == 1 {
		return w.clock.Now().Add(-time.Hour).Truncate(time.Second)
	}
	return w.clock.Now().Add(-2 * huntCooldown).Truncate(time.Second)
}

// deposit models a game that may only ship some of the deposit forms.
func (w *world) deposit(from common.Address, method string) ([]any, error) {
	w.mu.Lock()
	missing := w.missing[method]
	w.mu.Unlock()
	if missing {
		return nil, chaintest.ErrSelectorNotRecognized
	}
	if !w.isOperator(from) {
		return nil, errors.New("execution reverted: ERC721: caller is not token owner or approved")
	}
	return nil, nil
}

func (w *world) reportedErrors() []error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]error(nil), w.errs...)
}

// --- Test Suite ---

func TestNewClientValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ClientName: "test",
			Network:    testNetwork,
			Contracts:  Contracts{Game: gameAddr, Bear: bearAddr, BTB: btbAddr, MiMo: mimoAddr},
			Reader:     chaintest.NewBackend(84532),
		}
	}

	testCases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "Happy Path - minimal configuration", mutate: func(*Config) {}},
		{name: "Failure - missing client name", mutate: func(c *Config) { c.ClientName = "" }, wantErr: "client name is required"},
		{name: "Failure - missing chain id", mutate: func(c *Config) { c.Network.ChainID = nil }, wantErr: "network chain id is required"},
		{name: "Failure - missing reader", mutate: func(c *Config) { c.Reader = nil }, wantErr: "reader is required"},
		{name: "Failure - missing game", mutate: func(c *Config) { c.Contracts.Game = common.Address{} }, wantErr: "game contract address is required"},
		{name: "Failure - missing bear", mutate: func(c *Config) { c.Contracts.Bear = common.Address{} }, wantErr: "bear contract address is required"},
		{name: "Failure - missing btb", mutate: func(c *Config) { c.Contracts.BTB = common.Address{} }, wantErr: "btb token address is required"},
		{name: "Failure - missing mimo", mutate: func(c *Config) { c.Contracts.MiMo = common.Address{} }, wantErr: "mimo token address is required"},
		{name: "Failure - negative batch size", mutate: func(c *Config) { c.ProgressiveBatchSize = -1 }, wantErr: "progressive batch size"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			client, err := NewClient(cfg)
			if tc.wantErr == "" {
				require.NoError(t, err)
				require.NotNil(t, client)
				assert.False(t, client.Connection().State().Initialized)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	w := newWorld(t)

	addr, err := w.client.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, alice, addr)
	assert.True(t, w.client.Connection().State().Initialized)

	w.client.Disconnect()
	assert.False(t, w.client.Connection().State().Initialized)
}

func TestErrorHandlerReceivesQueryFailures(t *testing.T) {
	w := newWorld(t)
	w.backend.SetCallContractHandler(func(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
		return nil, errors.New("connection refused")
	})

	_, err := w.client.GetUserHunters(context.Background(), alice)
	require.Error(t, err)

	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, "hunters", qerr.Query)
	assert.Equal(t, alice, qerr.Account)

	reported := w.reportedErrors()
	require.Len(t, reported, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(w.client.metrics.ErrorsTotal.WithLabelValues("query")))
}

func TestMintedHunters(t *testing.T) {
	w := newWorld(t)
	mintLog := func(to common.Address, id int64) *types.Log {
		return &types.Log{
			Address: gameAddr,
			Topics: []common.Hash{
				btbabi.ERC721ABI.Events["Transfer"].ID,
				{},
				common.BytesToHash(to.Bytes()),
				common.BigToHash(big.NewInt(id)),
			},
		}
	}
	receipt := &types.Receipt{Status: types.ReceiptStatusSuccessful, Logs: []*types.Log{mintLog(alice, 7), mintLog(bob, 8), mintLog(alice, 9)}}
	receipt.Bloom = types.CreateBloom(types.Receipts{receipt})

	ids := w.client.MintedHunters(receipt, alice)
	require.Len(t, ids, 2)
	assert.Equal(t, int64(7), ids[0].Int64())
	assert.Equal(t, int64(9), ids[1].Int64())

	assert.Nil(t, w.client.MintedHunters(&types.Receipt{}, alice))
	assert.Nil(t, w.client.MintedHunters(nil, alice))
}
