package peer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/yarpc/transport"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    Strategy
		wantErr bool
	}{
		{"", RoundRobin, false},
		{"round-robin", RoundRobin, false},
		{"Random", Random, false},
		{"least-pending", LeastPending, false},
		{"weighted", RoundRobin, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStrategy(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmptyPeerList(t *testing.T) {
	c, err := New(RoundRobin)
	require.NoError(t, err)

	_, _, err = c.Choose(context.Background())
	assert.Equal(t, transport.CodeUnavailable, transport.CodeOf(err))
}

func TestRoundRobin(t *testing.T) {
	c, err := New(RoundRobin, "a:1", "b:1", "c:1")
	require.NoError(t, err)

	var got []string
	for i := 0; i < 6; i++ {
		p, done, err := c.Choose(context.Background())
		require.NoError(t, err)
		done()
		got = append(got, p.Address)
	}
	assert.Equal(t, []string{"a:1", "b:1", "c:1", "a:1", "b:1", "c:1"}, got)
}

func TestRandomStaysInList(t *testing.T) {
	c, err := New(Random, "a:1", "b:1")
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		p, done, err := c.Choose(context.Background())
		require.NoError(t, err)
		done()
		assert.Contains(t, []string{"a:1", "b:1"}, p.Address)
	}
}

func TestLeastPending(t *testing.T) {
	c, err := New(LeastPending, "a:1", "b:1")
	require.NoError(t, err)

	first, doneFirst, err := c.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a:1", first.Address)

	second, doneSecond, err := c.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b:1", second.Address)

	doneFirst()
	doneFirst() // second call is a no-op

	third, doneThird, err := c.Choose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a:1", third.Address)

	doneSecond()
	doneThird()
}

func TestChooseCancelledContext(t *testing.T) {
	c := Single("a:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := c.Choose(ctx)
	assert.Error(t, err)
	assert.Len(t, c.Peers(), 1)
}
