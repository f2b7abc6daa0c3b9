package btbclient

import (
	"context"
	"slices"
	"sync"

	"github.com/btb-finance/btb-chain-client/cache"
	"github.com/ethereum/go-ethereum/common"
)

// HunterStream loads an account's hunters a batch at a time so a caller can
// render partial results. It is pull-based: nothing is read until Next is
// called, and abandoning the stream simply stops the loading. A stream is
// not restartable; start a new one to reload.
type HunterStream struct {
	client    *Client
	owner     common.Address
	key       string
	batchSize uint64

	mu     sync.Mutex
	total  uint64
	next   uint64
	loaded []TokenStats
	cached []TokenStats
	done   bool
	err    error
}

// GetUserHuntersProgressive reads owner's hunter count and returns a stream
// over their hunters. A fresh cached answer is replayed in batches without
// touching the chain.
func (c *Client) GetUserHuntersProgressive(ctx context.Context, owner common.Address) (*HunterStream, error) {
	s := &HunterStream{
		client:    c,
		owner:     owner,
		key:       accountKey(prefixHunters, owner),
		batchSize: c.batchSize,
	}
	if hunters, ok := cache.GetAs[[]TokenStats](c.cache, s.key); ok {
		c.metrics.QueriesTotal.WithLabelValues("hunters_progressive", "cache").Inc()
		s.cached = hunters
		s.total = uint64(len(hunters))
		return s, nil
	}
	c.metrics.QueriesTotal.WithLabelValues("hunters_progressive", "chain").Inc()

	balance, err := c.hunterBalance(ctx, owner)
	if err != nil {
		return nil, c.queryFailed("hunters_progressive", owner, err)
	}
	s.total = balance
	return s, nil
}

// Total is the number of hunters the account held when the stream started.
func (s *HunterStream) Total() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Hunters returns everything loaded so far.
func (s *HunterStream) Hunters() []TokenStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.loaded)
}

// Next loads the next batch. It returns ErrStreamDone once every position
// has been loaded, and keeps returning the first load error after a failure.
func (s *HunterStream) Next(ctx context.Context) (HunterBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return HunterBatch{Loaded: s.next, Total: s.total}, s.err
	}
	if s.next >= s.total {
		s.finish()
		return HunterBatch{Loaded: s.next, Total: s.total}, ErrStreamDone
	}

	end := min(s.next+s.batchSize, s.total)
	var batch []TokenStats
	if s.cached != nil {
		batch = slices.Clone(s.cached[s.next:end])
	} else {
		hunters, err := s.client.loadHunterRange(ctx, s.owner, s.next, end)
		if err != nil {
			s.err = s.client.queryFailed("hunters_progressive", s.owner, err)
			return HunterBatch{Loaded: s.next, Total: s.total}, s.err
		}
		batch = hunters
	}

	s.next = end
	s.loaded = append(s.loaded, batch...)
	if s.next >= s.total {
		s.finish()
	}
	return HunterBatch{Hunters: batch, Loaded: s.next, Total: s.total}, nil
}

// finish caches the complete list the first time the stream runs out.
func (s *HunterStream) finish() {
	if s.done {
		return
	}
	s.done = true
	if s.cached == nil && s.total > 0 {
		s.client.cache.Set(s.key, append([]TokenStats{}, s.loaded...))
	}
}
