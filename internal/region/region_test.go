package region

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mem-analysis/pkg/address"
)

type labeled struct {
	Span
	children ChildCache
}

func (l *labeled) Description() string { return "labeled" }

func (l *labeled) SubRegions(ctx context.Context) ([]Region, error) {
	return l.children.Get(ctx, func(context.Context) ([]Region, error) { return nil, nil })
}

func TestEqual_IgnoresTypeAndLabel(t *testing.T) {
	a := NewLeaf(address.New64(0x1000), 0x100, "a")
	b := &labeled{Span: Span{Base: address.New64(0x1000), Length: 0x100}}
	c := NewLeaf(address.New64(0x1000), 0x200, "a")

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}

func TestContainsAndEnd(t *testing.T) {
	r := NewLeaf(address.New32(0x1000), 0x100, "x")

	assert.True(t, Contains(r, 0x1000))
	assert.True(t, Contains(r, 0x10ff))
	assert.False(t, Contains(r, 0x1100))
	assert.False(t, Contains(r, 0xfff))
	assert.Equal(t, uint64(0x1100), End(r).Value())
	assert.True(t, End(r).Is32Bit())
}

func TestChildCache_ComputesOnce(t *testing.T) {
	var c ChildCache
	calls := 0
	fn := func(context.Context) ([]Region, error) {
		calls++
		return []Region{NewLeaf(address.New64(1), 1, "child")}, nil
	}

	first, err := c.Get(context.Background(), fn)
	require.NoError(t, err)
	second, err := c.Get(context.Background(), fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Same(t, first[0], second[0])
	assert.True(t, c.Computed())
}

func TestChildCache_ErrorNotCached(t *testing.T) {
	var c ChildCache
	calls := 0
	fail := true
	fn := func(context.Context) ([]Region, error) {
		calls++
		if fail {
			return nil, errors.New("symbols unavailable")
		}
		return nil, nil
	}

	_, err := c.Get(context.Background(), fn)
	require.Error(t, err)
	assert.False(t, c.Computed())

	fail = false
	_, err = c.Get(context.Background(), fn)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestChildCache_CanceledNotCached(t *testing.T) {
	var c ChildCache
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, func(context.Context) ([]Region, error) { return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.Computed())
}

func seqOf(rs ...Region) iter.Seq2[Region, error] {
	return func(yield func(Region, error) bool) {
		for _, r := range rs {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func TestChildCache_Stream(t *testing.T) {
	leaves := []Region{
		NewLeaf(address.New64(0x10), 8, "a"),
		NewLeaf(address.New64(0x18), 8, "b"),
		NewLeaf(address.New64(0x20), 8, "c"),
	}
	var c ChildCache
	ctx := context.Background()

	// Stopping early leaves the cache empty.
	for range c.Stream(ctx, seqOf(leaves...)) {
		break
	}
	assert.False(t, c.Computed())

	got, err := Collect(ctx, c.Stream(ctx, seqOf(leaves...)))
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.True(t, c.Computed())

	// Served from cache even if the source would now differ.
	got, err = Collect(ctx, c.Stream(ctx, seqOf()))
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestCollect_Error(t *testing.T) {
	boom := errors.New("boom")
	seq := func(yield func(Region, error) bool) {
		if !yield(NewLeaf(address.New64(0), 1, "x"), nil) {
			return
		}
		yield(nil, boom)
	}
	_, err := Collect(context.Background(), seq)
	assert.ErrorIs(t, err, boom)
}
