// Package dataflow implements the worker-shard topology (spec.md C4):
// the local shards of each process, wired together by the star-topology
// Topology, each running the cascade-state and influence-edge operators
// against its process's resident FriendIndex. Shards have no goroutine
// of their own: on process 0 Dispatch calls them synchronously, and on
// every other process the single stream-receive loop does.
package dataflow

import (
	"github.com/BMeu/crgp/internal/cascade"
	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/graph"
	"github.com/BMeu/crgp/internal/influence"
)

// Shard is one of the N = P*W worker shards spec.md §3 describes: a
// slice of the FriendIndex plus a fully-replicated CascadeStateMap.
type Shard struct {
	Index    int
	Friends  *graph.FriendIndex
	Cascades *cascade.Store
}

// NewShard creates an empty shard bound to friends. Cascades starts
// empty; every shard discovers cascades lazily as retweets arrive.
func NewShard(index int, friends *graph.FriendIndex) *Shard {
	return &Shard{
		Index:    index,
		Friends:  friends,
		Cascades: cascade.NewStore(),
	}
}

// ApplyState advances this shard's cascade-state replica for r,
// without attempting influence detection. Used for the broadcast
// routing rule (spec.md §4.4): every shard must see every Retweet of a
// cascade it has ever touched, but only the retweeter's own shard runs
// detection.
func (s *Shard) ApplyState(r domain.Retweet) cascade.Outcome {
	_, outcome := s.Cascades.Apply(r)
	return outcome
}

// ApplyAndDetect advances cascade state for r and, if r was newly
// accepted (not a duplicate), resolves its influence edge using this
// shard's resident friend set for r.User. ok is false when r was a
// duplicate and must not be forwarded to the sink (spec.md §3/§4.6).
func (s *Shard) ApplyAndDetect(r domain.Retweet) (edge domain.InfluenceEdge, ok bool) {
	state, outcome := s.Cascades.Apply(r)
	if outcome == cascade.Duplicate {
		return domain.InfluenceEdge{}, false
	}

	friends := s.Friends.Lookup(r.User)
	return influence.Detect(r, friends, state), true
}
