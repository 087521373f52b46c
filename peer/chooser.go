// Package peer selects which remote address an outbound call goes to.
package peer

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/najoast/yarpc/transport"
)

// Peer is one remote address an outbound can reach.
type Peer struct {
	Address string
}

// Chooser picks a peer for a call. The returned function must be called
// once the call finishes.
type Chooser interface {
	Choose(ctx context.Context) (Peer, func(), error)
	Peers() []Peer
	Strategy() Strategy
}

// Strategy defines the peer selection algorithm.
type Strategy uint8

const (
	// RoundRobin cycles through peers in order
	RoundRobin Strategy = iota

	// Random selects peers uniformly at random
	Random

	// LeastPending selects the peer with the fewest calls in flight
	LeastPending
)

// String returns the string representation of Strategy.
func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round-robin"
	case Random:
		return "random"
	case LeastPending:
		return "least-pending"
	default:
		return "unknown"
	}
}

// ParseStrategy converts a strategy name into a Strategy. An empty name
// selects RoundRobin.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "round-robin", "roundrobin":
		return RoundRobin, nil
	case "random":
		return Random, nil
	case "least-pending", "leastpending":
		return LeastPending, nil
	default:
		return RoundRobin, fmt.Errorf("unknown peer strategy %q", name)
	}
}

// chooser implements Chooser over a fixed peer list.
type chooser struct {
	strategy Strategy
	peers    []Peer
	pending  []int64

	next uint64

	randMu sync.Mutex
	rand   *rand.Rand
}

// New creates a Chooser over addrs using strategy.
func New(strategy Strategy, addrs ...string) (Chooser, error) {
	var peers []Peer
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		peers = append(peers, Peer{Address: addr})
	}

	if strategy > LeastPending {
		return nil, fmt.Errorf("unknown peer strategy %d", strategy)
	}

	return &chooser{
		strategy: strategy,
		peers:    peers,
		pending:  make([]int64, len(peers)),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Single returns a Chooser that always picks addr.
func Single(addr string) Chooser {
	c, _ := New(RoundRobin, addr)
	return c
}

// Choose selects a peer. It fails with an unavailable error when there
// are no peers.
func (c *chooser) Choose(ctx context.Context) (Peer, func(), error) {
	if err := ctx.Err(); err != nil {
		return Peer{}, nil, transport.Errorf(transport.CodeOf(err), "no peer chosen: %v", err)
	}
	if len(c.peers) == 0 {
		return Peer{}, nil, transport.Errorf(transport.CodeUnavailable, "no peers available")
	}

	var index int
	switch c.strategy {
	case Random:
		c.randMu.Lock()
		index = c.rand.Intn(len(c.peers))
		c.randMu.Unlock()
	case LeastPending:
		index = c.leastPending()
	default:
		index = int((atomic.AddUint64(&c.next, 1) - 1) % uint64(len(c.peers)))
	}

	atomic.AddInt64(&c.pending[index], 1)
	var once sync.Once
	done := func() {
		once.Do(func() { atomic.AddInt64(&c.pending[index], -1) })
	}
	return c.peers[index], done, nil
}

// leastPending returns the index of the peer with the fewest calls in
// flight. Ties go to the earliest peer in the list.
func (c *chooser) leastPending() int {
	best := 0
	bestPending := atomic.LoadInt64(&c.pending[0])
	for i := 1; i < len(c.peers); i++ {
		if p := atomic.LoadInt64(&c.pending[i]); p < bestPending {
			best, bestPending = i, p
		}
	}
	return best
}

// Peers returns a copy of the peer list.
func (c *chooser) Peers() []Peer {
	return append([]Peer(nil), c.peers...)
}

// Strategy returns the selection strategy.
func (c *chooser) Strategy() Strategy {
	return c.strategy
}
