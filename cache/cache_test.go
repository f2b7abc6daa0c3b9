package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test Helper Functions ---

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Test Suite ---

func TestGetSetWithinWindow(t *testing.T) {
	clock := newFakeClock()
	c := New(DefaultWindow, WithClock(clock.Now))

	_, ok := c.Get("hunters_0xabc")
	assert.False(t, ok, "never-set key must be absent")

	hunters := []int{1, 2, 3}
	c.Set("hunters_0xabc", hunters)

	clock.Advance(29 * time.Second)
	got, ok := GetAs[[]int](c, "hunters_0xabc")
	require.True(t, ok)
	assert.Equal(t, hunters, got)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("hunters_0xabc")
	assert.False(t, ok, "entry older than the window must be absent")
	assert.Zero(t, c.Len(), "stale entries are dropped on read")
}

func TestSetOverwritesAndRestampsAge(t *testing.T) {
	clock := newFakeClock()
	c := New(10*time.Second, WithClock(clock.Now))

	c.Set("economics_swap", "old")
	clock.Advance(8 * time.Second)
	c.Set("economics_swap", "new")
	clock.Advance(8 * time.Second)

	got, ok := GetAs[string](c, "economics_swap")
	require.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestGetAsTypeMismatch(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultWindow, c.Window())

	c.Set("balances_0x1", 42)
	_, ok := GetAs[string](c, "balances_0x1")
	assert.False(t, ok)
}

func TestInvalidation(t *testing.T) {
	c := New(DefaultWindow)
	c.Set("hunters_0x1", 1)
	c.Set("hunters_0x2", 2)
	c.Set("bears_0x1", 3)
	c.Set("economics_swap", 4)

	assert.Equal(t, 2, c.InvalidatePrefix("hunters_"))
	_, ok := c.Get("hunters_0x1")
	assert.False(t, ok)
	_, ok = c.Get("bears_0x1")
	assert.True(t, ok)

	assert.Zero(t, c.InvalidatePrefix("staking_"))

	c.InvalidateAll()
	assert.Zero(t, c.Len())
	_, ok = c.Get("economics_swap")
	assert.False(t, ok)
}

func TestMaxEntriesEvictsOldest(t *testing.T) {
	c := New(DefaultWindow, WithMaxEntries(2))
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c := New(DefaultWindow)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("k", n)
				c.Get("k")
				if j%25 == 0 {
					c.InvalidatePrefix("k")
				}
			}
		}(i)
	}
	wg.Wait()
}
