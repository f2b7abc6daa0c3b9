package btbclient

import "maps"

// Operation names a state-changing operation.
type Operation string

const (
	OpDepositBears Operation = "depositBears"
	OpFeedHunters  Operation = "feedHunters"
	OpHunt         Operation = "hunt"
	OpRedeemBears  Operation = "redeemBears"
	OpStake        Operation = "stake"
	OpUnstake      Operation = "unstake"
	OpSwap         Operation = "swap"
)

// Cache key prefixes. Per-account keys append the lowercase hex address.
const (
	prefixHunters  = "hunters_"
	prefixBears    = "bears_"
	prefixBalances = "balances_"
	keySwap        = "economics_swap"
	keyStaking     = "economics_staking"
	keyGame        = "economics_game"
)

// DefaultInvalidations declares which cached answers each operation makes
// stale. The client drops them when the transaction is submitted and again
// once it is mined.
func DefaultInvalidations() map[Operation][]string {
	return map[Operation][]string{
		OpDepositBears: {prefixHunters, prefixBears, prefixBalances},
		OpFeedHunters:  {prefixHunters, prefixBalances},
		OpHunt:         {prefixHunters, prefixBalances},
		OpRedeemBears:  {prefixBears, prefixBalances},
		OpStake:        {prefixBalances, keyStaking},
		OpUnstake:      {prefixBalances, keyStaking},
		OpSwap:         {prefixBalances, keySwap},
	}
}

// Invalidations returns a copy of the table the client applies.
func (c *Client) Invalidations() map[Operation][]string {
	return maps.Clone(c.invalidations)
}

func (c *Client) invalidate(op Operation) {
	removed := 0
	for _, prefix := range c.invalidations[op] {
		removed += c.cache.InvalidatePrefix(prefix)
	}
	if removed > 0 {
		c.metrics.InvalidationsTotal.WithLabelValues(string(op)).Add(float64(removed))
		c.logger.Debug("invalidated cached answers", "operation", op, "entries", removed)
	}
}
