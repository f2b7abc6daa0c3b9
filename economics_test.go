package btbclient

import (
	"context"
	"math/big"
	"testing"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Suite ---

func TestGetUserBears(t *testing.T) {
	w := newWorld(t)
	w.bears[alice] = []int64{11, 42, 7}
	ctx := context.Background()

	bears, err := w.client.GetUserBears(ctx, alice)
	require.NoError(t, err)
	require.Len(t, bears, 3)
	assert.Equal(t, int64(42), bears[1].TokenID.Int64())

	w.backend.ResetCounters()
	_, err = w.client.GetUserBears(ctx, alice)
	require.NoError(t, err)
	assert.Zero(t, w.backend.CallCount())

	t.Run("an empty answer is cached too", func(t *testing.T) {
		empty, err := w.client.GetUserBears(ctx, bob)
		require.NoError(t, err)
		assert.Empty(t, empty)

		w.backend.ResetCounters()
		_, err = w.client.GetUserBears(ctx, bob)
		require.NoError(t, err)
		assert.Zero(t, w.backend.CallCount())
	})
}

func TestGetSwapEconomics(t *testing.T) {
	w := newWorld(t)

	swap, err := w.client.GetSwapEconomics(context.Background())
	require.NoError(t, err)
	assert.True(t, swap.Rate.Equal(decimal.RequireFromString("1.5")), "rate was %s", swap.Rate)
	assert.Equal(t, uint64(30), swap.FeeBps)
	assert.Equal(t, int64(1), w.router.Hits(swapAddr, btbabi.SwapABI, "swapRate"))

	_, err = w.client.GetSwapEconomics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.router.Hits(swapAddr, btbabi.SwapABI, "swapRate"), "second read is cached")
}

func TestGetStakingEconomics(t *testing.T) {
	w := newWorld(t)

	staking, err := w.client.GetStakingEconomics(context.Background())
	require.NoError(t, err)
	assert.True(t, staking.TotalStaked.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, staking.RewardRate.Equal(decimal.NewFromInt(1)))
	assert.True(t, staking.APR.Equal(decimal.RequireFromString("3153.6")), "apr was %s", staking.APR)
}

func TestStakingAPR(t *testing.T) {
	testCases := []struct {
		name  string
		total *big.Int
		rate  *big.Int
		want  string
	}{
		{name: "Happy Path - typical pool", total: eth(1_000_000), rate: eth(1), want: "3153.6"},
		{name: "Happy Path - rounds to two places", total: eth(3_000_000), rate: eth(1), want: "1051.2"},
		{name: "Edge Case - small reward", total: eth(1_000_000), rate: big.NewInt(1_000_000_000), want: "0"},
		{name: "Edge Case - empty pool", total: new(big.Int), rate: eth(1), want: "0"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := stakingAPR(tc.total, tc.rate)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestGetGameEconomics(t *testing.T) {
	w := newWorld(t)

	game, err := w.client.GetGameEconomics(context.Background())
	require.NoError(t, err)
	assert.True(t, game.FeedCost.Equal(decimal.NewFromInt(1)))
	assert.True(t, game.RedemptionPrice.Equal(decimal.NewFromInt(10)))
}

func TestGetTokenBalances(t *testing.T) {
	w := newWorld(t)

	balances, err := w.client.GetTokenBalances(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, TokenBalances{BTB: "1500", MiMo: "2.5", Staked: "250"}, balances)
}

func TestEconomicsRequireConfiguredContracts(t *testing.T) {
	w := newWorld(t, func(c *Config) {
		c.Contracts.Swap = common.Address{}
		c.Contracts.Staking = common.Address{}
	})
	ctx := context.Background()

	_, err := w.client.GetSwapEconomics(ctx)
	require.ErrorIs(t, err, ErrContractNotConfigured)

	_, err = w.client.GetStakingEconomics(ctx)
	require.ErrorIs(t, err, ErrContractNotConfigured)

	balances, err := w.client.GetTokenBalances(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, balances.Staked)
}
