package btbclient

import (
	"context"
	"fmt"
	"math/big"
	"slices"
	"time"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/btb-finance/btb-chain-client/cache"
	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

const secondsPerYear = 365 * 24 * 60 * 60

// GetUserBears returns the Bear NFTs held by owner.
func (c *Client) GetUserBears(ctx context.Context, owner common.Address) ([]BearToken, error) {
	const query = "bears"
	key := accountKey(prefixBears, owner)
	if bears, ok := cache.GetAs[[]BearToken](c.cache, key); ok {
		c.metrics.QueriesTotal.WithLabelValues(query, "cache").Inc()
		return slices.Clone(bears), nil
	}
	c.metrics.QueriesTotal.WithLabelValues(query, "chain").Inc()
	defer c.observe(query, time.Now())

	out, err := c.callView(ctx, c.contracts.Bear, btbabi.ERC721ABI, "balanceOf", common.Address{}, owner)
	if err != nil {
		return nil, c.queryFailed(query, owner, err)
	}
	balance, err := codec.Uint64(out, 0)
	if err != nil {
		return nil, c.queryFailed(query, owner, err)
	}

	calls := make([]codec.EncodedCall, 0, balance)
	for i := uint64(0); i < balance; i++ {
		data, err := codec.Encode(btbabi.ERC721ABI, "tokenOfOwnerByIndex", owner, new(big.Int).SetUint64(i))
		if err != nil {
			return nil, c.queryFailed(query, owner, err)
		}
		calls = append(calls, codec.EncodedCall{Target: c.contracts.Bear, Data: data})
	}
	raw, err := c.exec.Multicall(ctx, calls)
	if err != nil {
		return nil, c.queryFailed(query, owner, err)
	}

	bears := make([]BearToken, 0, len(raw))
	for i, r := range raw {
		values, err := codec.Decode(btbabi.ERC721ABI, "tokenOfOwnerByIndex", r)
		if err == nil {
			var id *big.Int
			if id, err = codec.BigInt(values, 0); err == nil {
				bears = append(bears, BearToken{TokenID: id})
				continue
			}
		}
		c.decodeFailed(query, "position", i, err)
	}
	c.cache.Set(key, slices.Clone(bears))
	return bears, nil
}

// GetSwapEconomics returns the swap desk's rate and fee.
func (c *Client) GetSwapEconomics(ctx context.Context) (SwapEconomics, error) {
	const query = "economics_swap"
	if c.contracts.Swap == (common.Address{}) {
		return SwapEconomics{}, c.queryFailed(query, common.Address{}, fmt.Errorf("swap: %w", ErrContractNotConfigured))
	}
	if v, ok := cache.GetAs[SwapEconomics](c.cache, keySwap); ok {
		c.metrics.QueriesTotal.WithLabelValues(query, "cache").Inc()
		return v, nil
	}
	c.metrics.QueriesTotal.WithLabelValues(query, "chain").Inc()
	defer c.observe(query, time.Now())

	results, err := c.exec.BatchContractCalls(ctx, []codec.BatchCall{
		{Target: c.contracts.Swap, ABI: btbabi.SwapABI, Method: "swapRate"},
		{Target: c.contracts.Swap, ABI: btbabi.SwapABI, Method: "swapFeeBps"},
	}, 0)
	if err != nil {
		return SwapEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	rate, err := codec.BigInt(results[0], 0)
	if err != nil {
		return SwapEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	fee, err := codec.Uint64(results[1], 0)
	if err != nil {
		return SwapEconomics{}, c.queryFailed(query, common.Address{}, err)
	}

	v := SwapEconomics{Rate: decimal.NewFromBigInt(rate, -18), FeeBps: fee}
	c.cache.Set(keySwap, v)
	return v, nil
}

// GetStakingEconomics returns the staking pool's size, reward rate and APR.
func (c *Client) GetStakingEconomics(ctx context.Context) (StakingEconomics, error) {
	const query = "economics_staking"
	if c.contracts.Staking == (common.Address{}) {
		return StakingEconomics{}, c.queryFailed(query, common.Address{}, fmt.Errorf("staking: %w", ErrContractNotConfigured))
	}
	if v, ok := cache.GetAs[StakingEconomics](c.cache, keyStaking); ok {
		c.metrics.QueriesTotal.WithLabelValues(query, "cache").Inc()
		return v, nil
	}
	c.metrics.QueriesTotal.WithLabelValues(query, "chain").Inc()
	defer c.observe(query, time.Now())

	results, err := c.exec.BatchContractCalls(ctx, []codec.BatchCall{
		{Target: c.contracts.Staking, ABI: btbabi.StakingABI, Method: "totalStaked"},
		{Target: c.contracts.Staking, ABI: btbabi.StakingABI, Method: "rewardRate"},
	}, 0)
	if err != nil {
		return StakingEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	total, err := codec.BigInt(results[0], 0)
	if err != nil {
		return StakingEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	rate, err := codec.BigInt(results[1], 0)
	if err != nil {
		return StakingEconomics{}, c.queryFailed(query, common.Address{}, err)
	}

	v := StakingEconomics{
		TotalStaked: decimal.NewFromBigInt(total, -18),
		RewardRate:  decimal.NewFromBigInt(rate, -18),
		APR:         stakingAPR(total, rate),
	}
	c.cache.Set(keyStaking, v)
	return v, nil
}

// stakingAPR is the yearly reward as a percentage of the staked amount.
// An empty pool has no meaningful APR and reports zero.
func stakingAPR(totalStaked, rewardRate *big.Int) decimal.Decimal {
	if totalStaked.Sign() == 0 {
		return decimal.Zero
	}
	yearly := decimal.NewFromBigInt(rewardRate, 0).Mul(decimal.NewFromInt(secondsPerYear))
	return yearly.Div(decimal.NewFromBigInt(totalStaked, 0)).Mul(decimal.NewFromInt(100)).Round(2)
}

// GetGameEconomics returns what feeding and redemption currently cost.
func (c *Client) GetGameEconomics(ctx context.Context) (GameEconomics, error) {
	const query = "economics_game"
	if v, ok := cache.GetAs[GameEconomics](c.cache, keyGame); ok {
		c.metrics.QueriesTotal.WithLabelValues(query, "cache").Inc()
		return v, nil
	}
	c.metrics.QueriesTotal.WithLabelValues(query, "chain").Inc()
	defer c.observe(query, time.Now())

	results, err := c.exec.BatchContractCalls(ctx, []codec.BatchCall{
		{Target: c.contracts.Game, ABI: btbabi.GameABI, Method: "feedCost"},
		{Target: c.contracts.Game, ABI: btbabi.GameABI, Method: "redemptionPrice"},
	}, 0)
	if err != nil {
		return GameEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	feed, err := codec.BigInt(results[0], 0)
	if err != nil {
		return GameEconomics{}, c.queryFailed(query, common.Address{}, err)
	}
	redeem, err := codec.BigInt(results[1], 0)
	if err != nil {
		return GameEconomics{}, c.queryFailed(query, common.Address{}, err)
	}

	v := GameEconomics{
		FeedCost:        decimal.NewFromBigInt(feed, -18),
		RedemptionPrice: decimal.NewFromBigInt(redeem, -18),
	}
	c.cache.Set(keyGame, v)
	return v, nil
}

// GetTokenBalances returns owner's token balances formatted with each
// token's own decimals. Staked balance is reported in BTB units.
func (c *Client) GetTokenBalances(ctx context.Context, owner common.Address) (TokenBalances, error) {
	const query = "balances"
	key := accountKey(prefixBalances, owner)
	if v, ok := cache.GetAs[TokenBalances](c.cache, key); ok {
		c.metrics.QueriesTotal.WithLabelValues(query, "cache").Inc()
		return v, nil
	}
	c.metrics.QueriesTotal.WithLabelValues(query, "chain").Inc()
	defer c.observe(query, time.Now())

	type slot struct {
		dst   *string
		token common.Address
	}
	var balances TokenBalances
	slots := []slot{{&balances.BTB, c.contracts.BTB}, {&balances.MiMo, c.contracts.MiMo}}
	if c.contracts.LP != (common.Address{}) {
		slots = append(slots, slot{&balances.LP, c.contracts.LP})
	}

	calls := make([]codec.BatchCall, 0, 2*len(slots)+1)
	for _, s := range slots {
		calls = append(calls,
			codec.BatchCall{Target: s.token, ABI: btbabi.ERC20ABI, Method: "balanceOf", Args: []any{owner}},
			codec.BatchCall{Target: s.token, ABI: btbabi.ERC20ABI, Method: "decimals"},
		)
	}
	if c.contracts.Staking != (common.Address{}) {
		calls = append(calls, codec.BatchCall{Target: c.contracts.Staking, ABI: btbabi.StakingABI, Method: "stakedBalance", Args: []any{owner}})
	}

	results, err := c.exec.BatchContractCalls(ctx, calls, 0)
	if err != nil {
		return TokenBalances{}, c.queryFailed(query, owner, err)
	}

	btbDecimals := uint8(18)
	for i, s := range slots {
		amount, err := codec.BigInt(results[2*i], 0)
		if err != nil {
			return TokenBalances{}, c.queryFailed(query, owner, err)
		}
		decimals, err := codec.Value[uint8](results[2*i+1], 0)
		if err != nil {
			return TokenBalances{}, c.queryFailed(query, owner, err)
		}
		if s.token == c.contracts.BTB {
			btbDecimals = decimals
		}
		*s.dst = decimal.NewFromBigInt(amount, -int32(decimals)).String()
	}
	if c.contracts.Staking != (common.Address{}) {
		staked, err := codec.BigInt(results[len(results)-1], 0)
		if err != nil {
			return TokenBalances{}, c.queryFailed(query, owner, err)
		}
		balances.Staked = decimal.NewFromBigInt(staked, -int32(btbDecimals)).String()
	}

	c.cache.Set(key, balances)
	return balances, nil
}
