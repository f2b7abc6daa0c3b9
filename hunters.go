package btbclient

import (
	"context"
	"errors"
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

// hunterMethods are the per-token reads, in the order their results are
// laid out for each token.
var hunterMethods = [...]string{"getHunterStats", "canFeed", "canHunt", "isHunterActive"}

const queryHunters = "hunters"

// GetUserHunters returns every hunter owned by owner. The decoded list is
// cached for the freshness window whenever the balance is non-zero, even if
// no token decoded. A zero balance is not cached, because it usually means
// the node has not caught up with a deposit yet.
func (c *Client) GetUserHunters(ctx context.Context, owner common.Address) ([]TokenStats, error) {
	key := accountKey(prefixHunters, owner)
	if hunters, ok := cache.GetAs[[]TokenStats](c.cache, key); ok {
		c.metrics.QueriesTotal.WithLabelValues(queryHunters, "cache").Inc()
		return slices.Clone(hunters), nil
	}
	c.metrics.QueriesTotal.WithLabelValues(queryHunters, "chain").Inc()
	defer c.observe(queryHunters, time.Now())

	balance, err := c.hunterBalance(ctx, owner)
	if err != nil {
		return nil, c.queryFailed(queryHunters, owner, err)
	}
	if balance == 0 {
		return []TokenStats{}, nil
	}

	hunters, err := c.loadHunterRange(ctx, owner, 0, balance)
	if err != nil {
		return nil, c.queryFailed(queryHunters, owner, err)
	}
	c.cache.Set(key, slices.Clone(hunters))
	c.logger.Debug("loaded hunters", "owner", owner.Hex(), "balance", balance, "decoded", len(hunters))
	return hunters, nil
}

// LoadMoreHunters loads the hunters at owner's enumeration positions
// [offset, offset+pageSize). It always reads the chain and never touches
// the cache.
func (c *Client) LoadMoreHunters(ctx context.Context, owner common.Address, offset, pageSize uint64) ([]TokenStats, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("%w: page size must be positive", ErrInvalidArgument)
	}
	balance, err := c.hunterBalance(ctx, owner)
	if err != nil {
		return nil, c.queryFailed("hunters_page", owner, err)
	}
	if offset >= balance {
		return []TokenStats{}, nil
	}
	hunters, err := c.loadHunterRange(ctx, owner, offset, min(offset+pageSize, balance))
	if err != nil {
		return nil, c.queryFailed("hunters_page", owner, err)
	}
	return hunters, nil
}

func (c *Client) hunterBalance(ctx context.Context, owner common.Address) (uint64, error) {
	out, err := c.callView(ctx, c.contracts.Game, btbabi.GameABI, "balanceOf", common.Address{}, owner)
	if err != nil {
		return 0, err
	}
	return codec.Uint64(out, 0)
}

// loadHunterRange resolves the token ids at positions [start, end) and then
// reads the four per-token views of each. Tokens whose results cannot be
// decoded are logged, counted and left out.
func (c *Client) loadHunterRange(ctx context.Context, owner common.Address, start, end uint64) ([]TokenStats, error) {
	if end <= start {
		return []TokenStats{}, nil
	}

	idCalls := make([]codec.EncodedCall, 0, end-start)
	for i := start; i < end; i++ {
		data, err := codec.Encode(btbabi.GameABI, "tokenOfOwnerByIndex", owner, new(big.Int).SetUint64(i))
		if err != nil {
			return nil, err
		}
		idCalls = append(idCalls, codec.EncodedCall{Target: c.contracts.Game, Data: data})
	}
	rawIDs, err := c.exec.Multicall(ctx, idCalls)
	if err != nil {
		return nil, fmt.Errorf("enumerate tokens %d..%d: %w", start, end, err)
	}

	ids := make([]*big.Int, 0, len(rawIDs))
	for i, raw := range rawIDs {
		values, err := codec.Decode(btbabi.GameABI, "tokenOfOwnerByIndex", raw)
		if err == nil {
			var id *big.Int
			if id, err = codec.BigInt(values, 0); err == nil {
				ids = append(ids, id)
				continue
			}
		}
		c.decodeFailed(queryHunters, "position", start+uint64(i), err)
	}

	statCalls := make([]codec.EncodedCall, 0, len(ids)*len(hunterMethods))
	for _, id := range ids {
		for _, method := range hunterMethods {
			data, err := codec.Encode(btbabi.GameABI, method, id)
			if err != nil {
				return nil, err
			}
			statCalls = append(statCalls, codec.EncodedCall{Target: c.contracts.Game, Data: data})
		}
	}
	rawStats, err := c.exec.Multicall(ctx, statCalls)
	if err != nil {
		return nil, fmt.Errorf("read stats of %d hunters: %w", len(ids), err)
	}

	hunters := make([]TokenStats, 0, len(ids))
	n := len(hunterMethods)
	for i, id := range ids {
		h, err := decodeHunter(id, rawStats[i*n:(i+1)*n])
		if err != nil {
			c.decodeFailed(queryHunters, "tokenId", id, err)
			continue
		}
		hunters = append(hunters, h)
	}
	return hunters, nil
}

// decodeHunter assembles one hunter from the raw results of hunterMethods.
func decodeHunter(id *big.Int, raw [][]byte) (TokenStats, error) {
	if len(raw) != len(hunterMethods) {
		return TokenStats{}, fmt.Errorf("want %d results, got %d", len(hunterMethods), len(raw))
	}
	decoded := make([][]any, len(raw))
	for i, method := range hunterMethods {
		values, err := codec.Decode(btbabi.GameABI, method, raw[i])
		if err != nil {
			return TokenStats{}, err
		}
		decoded[i] = values
	}

	stats := decoded[0]
	var errs []error
	timestamp := func(i int) time.Time {
		v, err := codec.BigInt(stats, i)
		errs = append(errs, err)
		if err != nil || !v.IsInt64() {
			return time.Time{}
		}
		return time.Unix(v.Int64(), 0).UTC()
	}
	fixed := func(i int) decimal.Decimal {
		v, err := codec.BigInt(stats, i)
		errs = append(errs, err)
		if err != nil {
			return decimal.Zero
		}
		return decimal.NewFromBigInt(v, -18)
	}
	count := func(i int) uint64 {
		v, err := codec.Uint64(stats, i)
		errs = append(errs, err)
		return v
	}
	flag := func(values []any, i int) bool {
		v, err := codec.Value[bool](values, i)
		errs = append(errs, err)
		return v
	}
	reason := func(values []any) string {
		v, err := codec.Value[string](values, 1)
		errs = append(errs, err)
		return v
	}

	h := TokenStats{
		TokenID:           new(big.Int).Set(id),
		CreationTime:      timestamp(0),
		LastFeedTime:      timestamp(1),
		LastHuntTime:      timestamp(2),
		Power:             fixed(3),
		MissedFeedings:    count(4),
		InHibernation:     flag(stats, 5),
		RecoveryStartTime: timestamp(6),
		TotalHunted:       fixed(7),
		DaysRemaining:     count(8),
		CanFeed:           Eligibility{Allowed: flag(decoded[1], 0), Reason: reason(decoded[1])},
		CanHunt:           Eligibility{Allowed: flag(decoded[2], 0), Reason: reason(decoded[2])},
		IsActive:          flag(decoded[3], 0),
	}
	if err := errors.Join(errs...); err != nil {
		return TokenStats{}, err
	}
	return h, nil
}

func (c *Client) decodeFailed(query, what string, at any, err error) {
	c.metrics.DecodeFailuresTotal.WithLabelValues(query).Inc()
	c.logger.Warn("skipping undecodable token", "query", query, what, fmt.Sprint(at), "error", err)
}

func (c *Client) queryFailed(query string, account common.Address, err error) error {
	qerr := &QueryError{Query: query, Account: account, Err: err}
	c.errorHandler(qerr)
	return qerr
}
