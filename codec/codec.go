// Package codec turns contract calls into raw eth_call payloads and raw
// return data back into typed values. Every function here is pure.
package codec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownMethod  = errors.New("method not present in contract interface")
	ErrOutputMismatch = errors.New("return data does not match method outputs")
	ErrValueType      = errors.New("decoded value has unexpected type")
)

// BatchCall is a contract read described at the ABI level.
type BatchCall struct {
	Target common.Address
	ABI    *abi.ABI
	Method string
	Args   []any
}

// EncodedCall is a BatchCall reduced to the bytes an eth_call carries.
type EncodedCall struct {
	Target common.Address
	Data   []byte
}

// Encode packs the selector and arguments of method.
func Encode(a *abi.ABI, method string, args ...any) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: %s (no interface)", ErrUnknownMethod, method)
	}
	if _, ok := a.Methods[method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	return data, nil
}

// EncodeMethod packs a method resolved ahead of time, typically an overload
// found through MethodBySignature.
func EncodeMethod(m abi.Method, args ...any) ([]byte, error) {
	packed, err := m.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Sig, err)
	}
	data := make([]byte, 0, len(m.ID)+len(packed))
	data = append(data, m.ID...)
	return append(data, packed...), nil
}

// Decode unpacks raw return data according to the outputs of method.
func Decode(a *abi.ABI, method string, raw []byte) ([]any, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: %s (no interface)", ErrUnknownMethod, method)
	}
	m, ok := a.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	if len(raw) == 0 && len(m.Outputs) > 0 {
		return nil, fmt.Errorf("%w: %s returned no data", ErrOutputMismatch, method)
	}
	values, err := m.Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOutputMismatch, method, err)
	}
	return values, nil
}

// MethodBySignature looks a method up by its canonical signature, e.g.
// "depositBears(uint256[],address)". Overloads are only reachable this way.
func MethodBySignature(a *abi.ABI, sig string) (abi.Method, bool) {
	if a == nil {
		return abi.Method{}, false
	}
	for _, m := range a.Methods {
		if m.Sig == sig {
			return m, true
		}
	}
	return abi.Method{}, false
}

// Encode reduces the call to its target and calldata.
func (c BatchCall) Encode() (EncodedCall, error) {
	data, err := Encode(c.ABI, c.Method, c.Args...)
	if err != nil {
		return EncodedCall{}, fmt.Errorf("call to %s: %w", c.Target.Hex(), err)
	}
	return EncodedCall{Target: c.Target, Data: data}, nil
}

// EncodeAll encodes calls one to one. The first failure aborts.
func EncodeAll(calls []BatchCall) ([]EncodedCall, error) {
	encoded := make([]EncodedCall, len(calls))
	for i, call := range calls {
		ec, err := call.Encode()
		if err != nil {
			return nil, fmt.Errorf("call %d: %w", i, err)
		}
		encoded[i] = ec
	}
	return encoded, nil
}

// Value returns values[i] as T.
func Value[T any](values []any, i int) (T, error) {
	var zero T
	if i < 0 || i >= len(values) {
		return zero, fmt.Errorf("%w: index %d out of %d values", ErrValueType, i, len(values))
	}
	v, ok := values[i].(T)
	if !ok {
		return zero, fmt.Errorf("%w: index %d is %T, want %T", ErrValueType, i, values[i], zero)
	}
	return v, nil
}

// BigInt returns values[i] as a non-nil *big.Int.
func BigInt(values []any, i int) (*big.Int, error) {
	v, err := Value[*big.Int](values, i)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: index %d is a nil integer", ErrValueType, i)
	}
	return v, nil
}

// Uint64 returns values[i] narrowed to uint64, failing when it does not fit.
func Uint64(values []any, i int) (uint64, error) {
	v, err := BigInt(values, i)
	if err != nil {
		return 0, err
	}
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: index %d value %s overflows uint64", ErrValueType, i, v)
	}
	return v.Uint64(), nil
}
