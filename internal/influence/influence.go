// Package influence implements the influence-detection operator
// (spec.md C7): the purely local computation of the most likely
// influencer for one accepted Retweet.
package influence

import (
	"github.com/BMeu/crgp/internal/cascade"
	"github.com/BMeu/crgp/internal/domain"
)

// Detect computes the influence edge for r, given the retweeter's
// locally-resident friend set and the cascade's current entry-timestamp
// state (both already local to the retweeter's shard by construction;
// see spec.md §4.4). r.User must have already been excluded from
// consideration as its own influencer by the caller having applied r to
// state before calling Detect is NOT required — Detect itself excludes
// r.User from the candidate set.
func Detect(r domain.Retweet, friends domain.FriendSet, state *cascade.State) domain.InfluenceEdge {
	edge := domain.InfluenceEdge{
		CascadeID:  r.CascadeID,
		Influenced: r.User,
		Timestamp:  r.Timestamp,
		Influencer: r.OriginalAuthor,
	}

	if state == nil {
		return edge
	}

	var (
		best   domain.UID
		bestTS int64
		found  bool
	)

	for f := range friends {
		if f == r.User {
			continue
		}
		ts, ok := state.Entries[f]
		if !ok {
			continue
		}
		switch {
		case !found:
			best, bestTS, found = f, ts, true
		case ts > bestTS:
			best, bestTS = f, ts
		case ts == bestTS && f < best:
			best = f
		}
	}

	if found {
		edge.Influencer = best
	}
	return edge
}
