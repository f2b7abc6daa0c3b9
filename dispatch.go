package btbclient

import (
	"context"
	"fmt"
	"math/big"

	"github.com/btb-finance/btb-chain-client/codec"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallForm is one way of invoking an operation: a canonical signature and
// the arguments for it. Deployed contracts have shipped different
// signatures for the same operation, so operations carry several forms.
type CallForm struct {
	Signature string
	Args      []any
}

// dispatch tries forms in order. A form is skipped when the interface does
// not declare it or when the contract rejects it as an unknown function. A
// simulation that reverts with neither reason nor data counts as the
// latter. Any other failure ends the attempt. Each form is simulated with eth_call
// before it is sent so that a missing function never costs gas.
func (c *Client) dispatch(ctx context.Context, sender connection.Sender, target common.Address, contractABI *abi.ABI, forms []CallForm, opts connection.TxOptions) (*types.Transaction, string, error) {
	tried := make([]string, 0, len(forms))
	for _, form := range forms {
		tried = append(tried, form.Signature)

		method, ok := codec.MethodBySignature(contractABI, form.Signature)
		if !ok {
			c.logger.Debug("call form not declared, trying next", "signature", form.Signature, "target", target.Hex())
			continue
		}
		data, err := codec.EncodeMethod(method, form.Args...)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}

		if err := c.simulate(ctx, sender.From(), target, data, opts.Value); err != nil {
			if isMissingCallForm(err) {
				c.logger.Debug("call form rejected by contract, trying next", "signature", form.Signature, "target", target.Hex(), "error", err)
				continue
			}
			return nil, "", fmt.Errorf("simulate %s: %w", form.Signature, err)
		}

		tx, err := sender.SendTransaction(ctx, target, data, opts)
		if err != nil {
			if isFunctionNotFound(err) {
				continue
			}
			return nil, "", fmt.Errorf("send %s: %w", form.Signature, err)
		}
		return tx, form.Signature, nil
	}
	return nil, "", &UnsupportedOperationError{Target: target, Tried: tried}
}

func (c *Client) simulate(ctx context.Context, from, to common.Address, data []byte, value *big.Int) error {
	ctx, cancel := context.WithTimeout(ctx, defaultRPCTimeout)
	defer cancel()
	_, err := c.reader.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data, Value: value}, nil)
	return err
}
