package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrSelectorNotRecognized is what a contract without a matching function
// and without a fallback reverts with.
var ErrSelectorNotRecognized = errors.New("execution reverted: function selector was not recognized and there's no fallback function")

// MethodHandler answers one contract method. args are the decoded inputs;
// the returned values are packed with the method's outputs.
type MethodHandler func(from common.Address, args []any) ([]any, error)

type routeKey struct {
	target   common.Address
	selector [4]byte
}

type route struct {
	method  abi.Method
	handler MethodHandler
	hits    atomic.Int64
}

// Router dispatches calldata to per-contract method handlers, decoding
// inputs and encoding outputs through the contract ABI.
type Router struct {
	mu     sync.RWMutex
	routes map[routeKey]*route
}

func NewRouter() *Router {
	return &Router{routes: make(map[routeKey]*route)}
}

// Handle registers h for method (as named in a.Methods, so overloads use the
// suffixed name) on target. It panics on an unknown method.
func (r *Router) Handle(target common.Address, a *abi.ABI, method string, h MethodHandler) {
	m, ok := a.Methods[method]
	if !ok {
		panic(fmt.Sprintf("chaintest: method %q not in interface", method))
	}
	var key routeKey
	key.target = target
	copy(key.selector[:], m.ID)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[key] = &route{method: m, handler: h}
}

// Returns registers a handler that always answers with outs.
func (r *Router) Returns(target common.Address, a *abi.ABI, method string, outs ...any) {
	r.Handle(target, a, method, func(common.Address, []any) ([]any, error) {
		return outs, nil
	})
}

// Hits reports how many times method on target has been dispatched.
func (r *Router) Hits(target common.Address, a *abi.ABI, method string) int64 {
	m, ok := a.Methods[method]
	if !ok {
		return 0
	}
	var key routeKey
	key.target = target
	copy(key.selector[:], m.ID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if rt, ok := r.routes[key]; ok {
		return rt.hits.Load()
	}
	return 0
}

// CallContract makes the router usable as a Backend call handler.
func (r *Router) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if msg.To == nil {
		return nil, errors.New("chaintest: call without target")
	}
	return r.Dispatch(msg.From, *msg.To, msg.Data)
}

// Dispatch runs the handler registered for the selector in data.
func (r *Router) Dispatch(from, to common.Address, data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, ErrSelectorNotRecognized
	}
	var key routeKey
	key.target = to
	copy(key.selector[:], data[:4])

	r.mu.RLock()
	rt, ok := r.routes[key]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSelectorNotRecognized
	}
	rt.hits.Add(1)

	args, err := rt.method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("chaintest: decode %s inputs: %w", rt.method.Sig, err)
	}
	outs, err := rt.handler(from, args)
	if err != nil {
		return nil, err
	}
	return rt.method.Outputs.Pack(outs...)
}
