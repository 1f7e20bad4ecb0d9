package proxy

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgressChannelKeepsLatestValue(t *testing.T) {
	ch := NewProgressChannel()
	ch.Send(LayerProgress{LayerIndex: 0, Fetched: 10, Total: 100})
	ch.Send(LayerProgress{LayerIndex: 0, Fetched: 20, Total: 100})
	ch.Send(LayerProgress{LayerIndex: 0, Fetched: 30, Total: 100})

	got := <-ch
	assert.Equal(t, uint64(30), got.Fetched)

	select {
	case v := <-ch:
		t.Fatalf("expected no further buffered value, got %+v", v)
	default:
	}
}

func TestProgressReaderReportsMonotonicProgress(t *testing.T) {
	ch := NewProgressChannel()
	src := bytes.NewReader(bytes.Repeat([]byte{1}, 30))
	r := newProgressReader(src, ch, 2, 30)

	buf := make([]byte, 10)
	var last uint64
	for i := 0; i < 3; i++ {
		n, err := r.Read(buf)
		require.NoError(t, err)
		require.Equal(t, 10, n)
		p := <-ch
		assert.Equal(t, 2, p.LayerIndex)
		assert.GreaterOrEqual(t, p.Fetched, last)
		last = p.Fetched
	}
	assert.Equal(t, uint64(30), last)
}
