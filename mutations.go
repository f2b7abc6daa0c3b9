package btbclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	btbabi "github.com/btb-finance/btb-chain-client/abi"
	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// mutation describes one state-changing operation for submit.
type mutation struct {
	op       Operation
	target   common.Address
	abi      *abi.ABI
	forms    func(from common.Address) []CallForm
	prepare  func(ctx context.Context, sender connection.Sender) error
	txOption connection.TxOptions
}

// DepositBears deposits Bear NFTs into the game, minting hunters. The game
// is approved as an operator of the account's Bears first when it is not
// already.
func (c *Client) DepositBears(ctx context.Context, bearIDs []*big.Int) (*PendingTransaction, error) {
	if err := validateIDs(bearIDs); err != nil {
		return nil, c.mutationFailed(OpDepositBears, err)
	}
	return c.submit(ctx, mutation{
		op:     OpDepositBears,
		target: c.contracts.Game,
		abi:    btbabi.GameABI,
		forms: func(from common.Address) []CallForm {
			return []CallForm{
				{Signature: "depositBears(uint256[])", Args: []any{bearIDs}},
				{Signature: "depositBears(uint256[],address)", Args: []any{bearIDs, from}},
			}
		},
		prepare: func(ctx context.Context, sender connection.Sender) error {
			return c.ensureOperatorApproval(ctx, sender, c.contracts.Bear, c.contracts.Game)
		},
	})
}

// FeedHunters feeds hunters, paying the game's feed cost in MiMo.
func (c *Client) FeedHunters(ctx context.Context, hunterIDs []*big.Int) (*PendingTransaction, error) {
	if err := validateIDs(hunterIDs); err != nil {
		return nil, c.mutationFailed(OpFeedHunters, err)
	}
	return c.submit(ctx, mutation{
		op:     OpFeedHunters,
		target: c.contracts.Game,
		abi:    btbabi.GameABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{{Signature: "feedHunters(uint256[])", Args: []any{hunterIDs}}}
		},
		prepare: func(ctx context.Context, sender connection.Sender) error {
			cost, err := c.gamePrice(ctx, "feedCost")
			if err != nil {
				return err
			}
			total := new(big.Int).Mul(cost, big.NewInt(int64(len(hunterIDs))))
			return c.ensureAllowance(ctx, sender, c.contracts.MiMo, c.contracts.Game, total)
		},
	})
}

// Hunt sends hunters hunting. It needs no approval.
func (c *Client) Hunt(ctx context.Context, hunterIDs []*big.Int) (*PendingTransaction, error) {
	if err := validateIDs(hunterIDs); err != nil {
		return nil, c.mutationFailed(OpHunt, err)
	}
	return c.submit(ctx, mutation{
		op:     OpHunt,
		target: c.contracts.Game,
		abi:    btbabi.GameABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{{Signature: "hunt(uint256[])", Args: []any{hunterIDs}}}
		},
	})
}

// RedeemBears buys count Bears back from the game for MiMo.
func (c *Client) RedeemBears(ctx context.Context, count uint64) (*PendingTransaction, error) {
	if count == 0 {
		return nil, c.mutationFailed(OpRedeemBears, fmt.Errorf("%w: redeem count must be positive", ErrInvalidArgument))
	}
	n := new(big.Int).SetUint64(count)
	return c.submit(ctx, mutation{
		op:     OpRedeemBears,
		target: c.contracts.Game,
		abi:    btbabi.GameABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{{Signature: "redeemBears(uint256)", Args: []any{n}}}
		},
		prepare: func(ctx context.Context, sender connection.Sender) error {
			price, err := c.gamePrice(ctx, "redemptionPrice")
			if err != nil {
				return err
			}
			return c.ensureAllowance(ctx, sender, c.contracts.MiMo, c.contracts.Game, new(big.Int).Mul(price, n))
		},
	})
}

// Stake stakes amount BTB (in base units).
func (c *Client) Stake(ctx context.Context, amount *big.Int) (*PendingTransaction, error) {
	if err := c.validateAmount(amount, c.contracts.Staking, "staking"); err != nil {
		return nil, c.mutationFailed(OpStake, err)
	}
	return c.submit(ctx, mutation{
		op:     OpStake,
		target: c.contracts.Staking,
		abi:    btbabi.StakingABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{{Signature: "stake(uint256)", Args: []any{amount}}}
		},
		prepare: func(ctx context.Context, sender connection.Sender) error {
			return c.ensureAllowance(ctx, sender, c.contracts.BTB, c.contracts.Staking, amount)
		},
	})
}

// Unstake withdraws amount BTB (in base units) from staking.
func (c *Client) Unstake(ctx context.Context, amount *big.Int) (*PendingTransaction, error) {
	if err := c.validateAmount(amount, c.contracts.Staking, "staking"); err != nil {
		return nil, c.mutationFailed(OpUnstake, err)
	}
	return c.submit(ctx, mutation{
		op:     OpUnstake,
		target: c.contracts.Staking,
		abi:    btbabi.StakingABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{{Signature: "unstake(uint256)", Args: []any{amount}}}
		},
	})
}

// Swap exchanges amountIn BTB for MiMo. minOut may be nil to accept any
// output; the legacy swap form has no slippage bound at all.
func (c *Client) Swap(ctx context.Context, amountIn, minOut *big.Int) (*PendingTransaction, error) {
	if err := c.validateAmount(amountIn, c.contracts.Swap, "swap"); err != nil {
		return nil, c.mutationFailed(OpSwap, err)
	}
	if minOut == nil {
		minOut = new(big.Int)
	}
	if minOut.Sign() < 0 {
		return nil, c.mutationFailed(OpSwap, fmt.Errorf("%w: minimum output cannot be negative", ErrInvalidArgument))
	}
	return c.submit(ctx, mutation{
		op:     OpSwap,
		target: c.contracts.Swap,
		abi:    btbabi.SwapABI,
		forms: func(common.Address) []CallForm {
			return []CallForm{
				{Signature: "swapBTBForMiMo(uint256,uint256)", Args: []any{amountIn, minOut}},
				{Signature: "swap(uint256)", Args: []any{amountIn}},
			}
		},
		prepare: func(ctx context.Context, sender connection.Sender) error {
			return c.ensureAllowance(ctx, sender, c.contracts.BTB, c.contracts.Swap, amountIn)
		},
	})
}

// submit connects if needed, runs the approval step, dispatches the call
// and applies the operation's cache invalidations.
func (c *Client) submit(ctx context.Context, m mutation) (*PendingTransaction, error) {
	sender, err := c.conn.EnsureInitialized(ctx)
	if err != nil {
		return nil, c.mutationFailed(m.op, err)
	}
	if m.prepare != nil {
		if err := m.prepare(ctx, sender); err != nil {
			return nil, c.mutationFailed(m.op, err)
		}
	}

	tx, signature, err := c.dispatch(ctx, sender, m.target, m.abi, m.forms(sender.From()), m.txOption)
	if err != nil {
		return nil, c.mutationFailed(m.op, err)
	}

	c.invalidate(m.op)
	c.metrics.MutationsTotal.WithLabelValues(string(m.op), "submitted").Inc()
	c.logger.Info("transaction submitted", "operation", m.op, "signature", signature, "hash", tx.Hash().Hex(), "from", sender.From().Hex())

	return &PendingTransaction{
		Hash:      tx.Hash(),
		Tx:        tx,
		Operation: m.op,
		Signature: signature,
		wait: func(ctx context.Context) (*types.Receipt, error) {
			receipt, err := sender.WaitMined(ctx, tx)
			if err != nil {
				return nil, fmt.Errorf("wait for %s: %w", tx.Hash().Hex(), err)
			}
			if receipt.Status != types.ReceiptStatusSuccessful {
				c.metrics.MutationsTotal.WithLabelValues(string(m.op), "reverted").Inc()
				return receipt, &MutationError{Op: m.op, Kind: ErrTransactionFailed, Err: fmt.Errorf("transaction %s reverted", tx.Hash().Hex())}
			}
			c.invalidate(m.op)
			c.metrics.MutationsTotal.WithLabelValues(string(m.op), "mined").Inc()
			return receipt, nil
		},
	}, nil
}

func (c *Client) mutationFailed(op Operation, err error) error {
	kind := classifyError(err)
	merr := &MutationError{Op: op, Kind: kind, Err: err}
	c.metrics.MutationsTotal.WithLabelValues(string(op), resultLabel(kind)).Inc()

	// A rejection is the user's decision, not a fault worth an error log.
	if errors.Is(kind, ErrUserRejected) {
		c.logger.Info("operation rejected by user", "operation", op)
		return merr
	}
	c.errorHandler(merr)
	return merr
}

func resultLabel(kind error) string {
	switch kind {
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrNotConnected:
		return "not_connected"
	case ErrUserRejected:
		return "user_rejected"
	case ErrInsufficientFunds:
		return "insufficient_funds"
	case ErrFunctionNotFound:
		return "function_not_found"
	case ErrApprovalFailed:
		return "approval_failed"
	default:
		return "failed"
	}
}

// ensureAllowance approves spender for amount of token only when the
// current allowance is short, and waits for the approval to be mined.
func (c *Client) ensureAllowance(ctx context.Context, sender connection.Sender, token, spender common.Address, amount *big.Int) error {
	owner := sender.From()
	out, err := c.callView(ctx, token, btbabi.ERC20ABI, "allowance", owner, owner, spender)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	current, err := codec.BigInt(out, 0)
	if err != nil {
		return fmt.Errorf("read allowance: %w", err)
	}
	if current.Cmp(amount) >= 0 {
		c.logger.Debug("allowance sufficient", "token", token.Hex(), "spender", spender.Hex(), "allowance", current, "required", amount)
		return nil
	}

	data, err := codec.Encode(btbabi.ERC20ABI, "approve", spender, amount)
	if err != nil {
		return err
	}
	c.logger.Info("approving token spend", "token", token.Hex(), "spender", spender.Hex(), "amount", amount)
	tx, err := sender.SendTransaction(ctx, token, data, connection.TxOptions{})
	if err != nil {
		return fmt.Errorf("approve %s: %w", token.Hex(), err)
	}
	return c.awaitApproval(ctx, sender, tx, "erc20")
}

// ensureOperatorApproval makes operator an approved operator of the
// account's tokens in collection when it is not one already.
func (c *Client) ensureOperatorApproval(ctx context.Context, sender connection.Sender, collection, operator common.Address) error {
	owner := sender.From()
	out, err := c.callView(ctx, collection, btbabi.ERC721ABI, "isApprovedForAll", owner, owner, operator)
	if err != nil {
		return fmt.Errorf("read operator approval: %w", err)
	}
	approved, err := codec.Value[bool](out, 0)
	if err != nil {
		return fmt.Errorf("read operator approval: %w", err)
	}
	if approved {
		return nil
	}

	data, err := codec.Encode(btbabi.ERC721ABI, "setApprovalForAll", operator, true)
	if err != nil {
		return err
	}
	c.logger.Info("approving collection operator", "collection", collection.Hex(), "operator", operator.Hex())
	tx, err := sender.SendTransaction(ctx, collection, data, connection.TxOptions{})
	if err != nil {
		return fmt.Errorf("set approval for all on %s: %w", collection.Hex(), err)
	}
	return c.awaitApproval(ctx, sender, tx, "erc721")
}

func (c *Client) awaitApproval(ctx context.Context, sender connection.Sender, tx *types.Transaction, standard string) error {
	c.metrics.ApprovalsTotal.WithLabelValues(standard).Inc()
	receipt, err := sender.WaitMined(ctx, tx)
	if err != nil {
		return fmt.Errorf("wait for approval %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction %s reverted", ErrApprovalFailed, tx.Hash().Hex())
	}
	return nil
}

func (c *Client) gamePrice(ctx context.Context, method string) (*big.Int, error) {
	out, err := c.callView(ctx, c.contracts.Game, btbabi.GameABI, method, common.Address{})
	if err != nil {
		return nil, err
	}
	return codec.BigInt(out, 0)
}

func validateIDs(ids []*big.Int) error {
	if len(ids) == 0 {
		return fmt.Errorf("%w: at least one token id is required", ErrInvalidArgument)
	}
	for i, id := range ids {
		if id == nil || id.Sign() < 0 {
			return fmt.Errorf("%w: token id at position %d is not a valid id", ErrInvalidArgument, i)
		}
	}
	return nil
}

func (c *Client) validateAmount(amount *big.Int, contract common.Address, name string) error {
	if contract == (common.Address{}) {
		return fmt.Errorf("%s: %w", name, ErrContractNotConfigured)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}
	return nil
}
