package btbclient

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// Eligibility is the answer of a canFeed/canHunt check.
type Eligibility struct {
	Allowed bool
	Reason  string
}

// TokenStats is the aggregated state of one Hunter NFT.
type TokenStats struct {
	TokenID           *big.Int
	CreationTime      time.Time
	LastFeedTime      time.Time
	LastHuntTime      time.Time
	Power             decimal.Decimal
	MissedFeedings    uint64
	InHibernation     bool
	RecoveryStartTime time.Time
	TotalHunted       decimal.Decimal
	DaysRemaining     uint64
	CanFeed           Eligibility
	CanHunt           Eligibility
	IsActive          bool
}

// BearToken is a Bear NFT held by an account.
type BearToken struct {
	TokenID *big.Int
}

// HunterBatch is one step of a progressive hunter load. Loaded counts the
// positions processed so far, including any skipped as undecodable.
type HunterBatch struct {
	Hunters []TokenStats
	Loaded  uint64
	Total   uint64
}

// SwapEconomics is the current state of the BTB to MiMo swap desk.
type SwapEconomics struct {
	Rate   decimal.Decimal
	FeeBps uint64
}

// StakingEconomics is the current state of the staking pool. APR is a
// percentage.
type StakingEconomics struct {
	TotalStaked decimal.Decimal
	RewardRate  decimal.Decimal
	APR         decimal.Decimal
}

// GameEconomics holds the MiMo prices the game charges.
type GameEconomics struct {
	FeedCost        decimal.Decimal
	RedemptionPrice decimal.Decimal
}

// TokenBalances holds display-formatted balances of one account. Empty
// strings mean the corresponding contract is not configured.
type TokenBalances struct {
	BTB    string
	MiMo   string
	LP     string
	Staked string
}

// PendingTransaction is a submitted transaction. The client keeps no
// reference to it; Wait is the only way to learn the outcome.
type PendingTransaction struct {
	Hash      common.Hash
	Tx        *types.Transaction
	Operation Operation
	Signature string

	wait func(ctx context.Context) (*types.Receipt, error)
}

// Wait blocks until the transaction is mined. A reverted transaction
// returns its receipt together with an error matching ErrTransactionFailed.
func (p *PendingTransaction) Wait(ctx context.Context) (*types.Receipt, error) {
	if p.wait == nil {
		return nil, fmt.Errorf("transaction %s: %w", p.Hash.Hex(), ErrNotConnected)
	}
	return p.wait(ctx)
}
