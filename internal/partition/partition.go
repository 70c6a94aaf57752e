// Package partition implements the stable partitioner that assigns every
// UID to exactly one of the N = P*W worker shards.
package partition

import "github.com/BMeu/crgp/internal/domain"

// Shard returns the owning shard index for uid under n total shards.
func Shard(uid domain.UID, n int) int {
	return int(uint64(uid) % uint64(n))
}

// ShardsContainingAny returns the set of shards that own at least one of
// friends, used for the broadcast decision in the dataflow's second
// routing rule (spec.md C4, "Retweet-to-friend-shards stream").
func ShardsContainingAny(friends domain.FriendSet, n int) map[int]struct{} {
	shards := make(map[int]struct{}, len(friends))
	for f := range friends {
		shards[Shard(f, n)] = struct{}{}
	}
	return shards
}

// Of reports the (process, worker) coordinate for a shard index, given
// the topology's worker count per process. Shards are laid out
// process-major: shard s belongs to process s/workers, worker s%workers.
func Of(shard, workers int) (process, worker int) {
	return shard / workers, shard % workers
}

// Index is the inverse of Of: the flat shard index for a given process
// and worker rank.
func Index(process, worker, workers int) int {
	return process*workers + worker
}
