package btbclient

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrNotConnected and ErrUserRejected are shared with the connection
	// package so errors.Is matches whichever layer produced them.
	ErrNotConnected = connection.ErrNotConnected
	ErrUserRejected = connection.ErrUserRejected

	ErrInvalidArgument       = errors.New("invalid argument")
	ErrContractNotConfigured = errors.New("contract address not configured")
	ErrFunctionNotFound      = errors.New("function not found on contract")
	ErrInsufficientFunds     = errors.New("insufficient funds for transaction")
	ErrTransactionFailed     = errors.New("transaction failed")
	ErrApprovalFailed        = errors.New("token approval failed")
	ErrStreamDone            = errors.New("hunter stream exhausted")
)

// QueryError reports a failed aggregation read.
type QueryError struct {
	Query   string
	Account common.Address
	Err     error
}

func (e *QueryError) Error() string {
	if e.Account == (common.Address{}) {
		return fmt.Sprintf("query %s: %v", e.Query, e.Err)
	}
	return fmt.Sprintf("query %s for %s: %v", e.Query, e.Account.Hex(), e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// MutationError reports a failed state-changing operation. Kind is one of
// the category sentinels; errors.Is matches both Kind and the cause.
type MutationError struct {
	Op   Operation
	Kind error
	Err  error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *MutationError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// UnsupportedOperationError is returned when no call form of an operation is
// accepted by the deployed contract.
type UnsupportedOperationError struct {
	Target common.Address
	Tried  []string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("contract %s supports none of %s", e.Target.Hex(), strings.Join(e.Tried, ", "))
}

func (e *UnsupportedOperationError) Is(target error) bool {
	return target == ErrFunctionNotFound
}

var (
	functionNotFoundMarkers = []string{
		"function selector was not recognized",
		"unrecognized function selector",
		"function not found",
		"function does not exist",
		"no fallback function",
	}
	userRejectedMarkers = []string{
		"user rejected",
		"user denied",
		"rejected by user",
		"action_rejected",
	}
	insufficientFundsMarkers = []string{
		"insufficient funds",
		"exceeds balance",
	}
)

func containsAny(err error, markers []string) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isFunctionNotFound(err error) bool {
	return err != nil && (errors.Is(err, ErrFunctionNotFound) || containsAny(err, functionNotFoundMarkers))
}

// isBareRevert reports a revert that carries no reason and no revert data.
// Nodes answer a selector the contract does not implement this way when the
// contract has no fallback function.
func isBareRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		switch data := dataErr.ErrorData().(type) {
		case nil:
		case string:
			if data != "" && data != "0x" {
				return false
			}
		default:
			return false
		}
	}
	return strings.TrimSpace(strings.ToLower(err.Error())) == "execution reverted"
}

// isMissingCallForm reports whether a simulated call form was rejected
// because the contract does not implement it.
func isMissingCallForm(err error) bool {
	return isFunctionNotFound(err) || isBareRevert(err)
}

// classifyError maps a mutation failure onto its category sentinel.
func classifyError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrContractNotConfigured):
		return ErrInvalidArgument
	case errors.Is(err, connection.ErrNoWalletDetected),
		errors.Is(err, connection.ErrNoAccounts),
		errors.Is(err, connection.ErrNotConnected):
		return ErrNotConnected
	case errors.Is(err, ErrUserRejected) || containsAny(err, userRejectedMarkers):
		return ErrUserRejected
	case errors.Is(err, ErrInsufficientFunds) || containsAny(err, insufficientFundsMarkers):
		return ErrInsufficientFunds
	case isFunctionNotFound(err):
		return ErrFunctionNotFound
	case errors.Is(err, ErrApprovalFailed):
		return ErrApprovalFailed
	default:
		return ErrTransactionFailed
	}
}

// determineErrorType returns a metric label for err.
func determineErrorType(err error) string {
	var (
		queryErr       *QueryError
		mutationErr    *MutationError
		unsupportedErr *UnsupportedOperationError
	)
	switch {
	case errors.As(err, &unsupportedErr):
		return "unsupported_operation"
	case errors.As(err, &mutationErr):
		return "mutation"
	case errors.As(err, &queryErr):
		return "query"
	default:
		return "unknown"
	}
}
