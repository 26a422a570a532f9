package loi

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSequencer 是测试用的内存计数器
type memSequencer struct {
	mu    sync.Mutex
	last  map[string]int64
	seeds int
	fail  error
}

func newMemSequencer() *memSequencer {
	return &memSequencer{last: make(map[string]int64)}
}

func (m *memSequencer) ReserveNextSerial(ctx context.Context, base string, seed SeedFunc) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return 0, m.fail
	}
	cur, ok := m.last[base]
	if !ok && seed != nil {
		m.seeds++
		s, err := seed(ctx)
		if err != nil {
			return 0, err
		}
		cur = s
	}
	m.last[base] = cur + 1
	return cur + 1, nil
}

func (m *memSequencer) LastSerial(_ context.Context, base string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[base], nil
}

func TestAllocator_Monotonic(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(newMemSequencer(), nil)
	base := MustParse("42.1001/ds/exp/sa/42/cwepr/")

	for want := int64(1); want <= 5; want++ {
		got, err := alloc.AllocateNext(ctx, base)
		require.NoError(t, err)
		assert.Equal(t, want, got.Serial)
		assert.Equal(t, base, got.Base())
	}

	last, err := alloc.LastSerial(ctx, base.WithSerial(99))
	require.NoError(t, err)
	assert.Equal(t, int64(5), last)
}

func TestAllocator_SeedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	seq := newMemSequencer()
	alloc := NewAllocator(seq, func(context.Context, LOI) (int64, error) { return 20, nil })
	base := MustParse("42.1001/ds/exp/sa/42/cwepr/")

	first, err := alloc.AllocateNext(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, "42.1001/ds/exp/sa/42/cwepr/21", first.String())

	second, err := alloc.AllocateNext(ctx, base)
	require.NoError(t, err)
	assert.Equal(t, int64(22), second.Serial)
	assert.Equal(t, 1, seq.seeds)
}

func TestAllocator_RejectsFullLOI(t *testing.T) {
	alloc := NewAllocator(newMemSequencer(), nil)
	_, err := alloc.AllocateNext(context.Background(), MustParse("42.1001/ds/exp/sa/42/cwepr/3"))
	assert.ErrorIs(t, err, ErrInvalidFormat)
}

func TestAllocator_PropagatesSequencerError(t *testing.T) {
	seq := newMemSequencer()
	seq.fail = ErrAllocationExhausted
	alloc := NewAllocator(seq, nil)

	_, err := alloc.AllocateNext(context.Background(), MustParse("42.1001/ds/calc/geo"))
	assert.True(t, errors.Is(err, ErrAllocationExhausted))
}

func TestAllocator_ConcurrentUnique(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(newMemSequencer(), nil)
	base := MustParse("42.1001/ds/exp/2020-04-25/trepr")

	const n = 64
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := alloc.AllocateNext(ctx, base)
			if err == nil {
				results <- l.Serial
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int64]bool)
	for s := range results {
		assert.False(t, seen[s], "serial %d allocated twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, n)
	for i := int64(1); i <= n; i++ {
		assert.True(t, seen[i])
	}
}
