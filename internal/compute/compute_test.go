package compute

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", Auto, false},
		{"auto", Auto, false},
		{"CPU", CPU, false},
		{"cuda", CUDA, false},
		{"tpu", "", true},
	}
	for _, tt := range tests {
		c, err := Parse(tt.in, 2)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, c.Device)
		assert.Equal(t, 2, c.Workers)
	}

	c, err := Parse("cpu", 0)
	require.NoError(t, err)
	assert.Greater(t, c.Workers, 0)
}

func TestResolve(t *testing.T) {
	ok := func() error { return nil }
	missing := func() error { return errors.New("libcudart.so not found") }
	never := func() error {
		t.Fatal("cpu context must not probe cuda")
		return nil
	}

	c, err := Context{Device: Auto, Workers: 3}.Resolve(ok)
	require.NoError(t, err)
	assert.Equal(t, Context{Device: CUDA, Workers: 3}, c)

	c, err = Context{Device: Auto, Workers: 3}.Resolve(missing)
	require.NoError(t, err, "auto falls back to cpu")
	assert.Equal(t, CPU, c.Device)

	_, err = Context{Device: CUDA}.Resolve(missing)
	assert.ErrorContains(t, err, "libcudart")

	c, err = Context{Device: CPU}.Resolve(never)
	require.NoError(t, err)
	assert.Equal(t, CPU, c.Device)
}

func TestForEach_VisitsAll(t *testing.T) {
	out := make([]int, 100)
	err := Context{Device: CPU, Workers: 4}.ForEach(context.Background(), len(out), func(_ context.Context, i int) error {
		out[i] = i * i
		return nil
	})
	require.NoError(t, err)
	for i, v := range out {
		assert.Equal(t, i*i, v)
	}
}

func TestForEach_BoundsConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	err := Context{Workers: 3}.ForEach(context.Background(), 50, func(_ context.Context, _ int) error {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		active.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestForEach_ReturnsError(t *testing.T) {
	boom := errors.New("boom")
	err := Default().ForEach(context.Background(), 10, func(_ context.Context, i int) error {
		if i == 5 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEach_Empty(t *testing.T) {
	called := false
	err := Default().ForEach(context.Background(), 0, func(context.Context, int) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestChunks(t *testing.T) {
	assert.Equal(t, [][2]int{{0, 4}, {4, 8}, {8, 10}}, Chunks(10, 4))
	assert.Equal(t, [][2]int{{0, 3}}, Chunks(3, 0))
	assert.Nil(t, Chunks(0, 4))
}
