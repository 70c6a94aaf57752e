// Package peer implements the cross-process transport: hostfile-driven
// peer discovery (spec.md §5), a gRPC bidirectional-streaming exchange
// service carrying the dataflow's shard-to-shard traffic, and the
// bounded-retry dial logic spec.md §5/§7 requires.
package peer

import "github.com/BMeu/crgp/internal/domain"

// Kind discriminates the small message alphabet peers exchange. The
// dataflow never needs more than these: retweets flowing through the
// two routing rules, and the epoch-frontier rendezvous that lets the
// batch driver (spec.md C8) know when a round has closed everywhere.
type Kind uint8

const (
	// KindRetweetToOwner is the first routing rule of spec.md §4.4: a
	// Retweet delivered to the shard owning the retweeter, for local
	// influence resolution.
	KindRetweetToOwner Kind = iota
	// KindRetweetBroadcast is the cascade-state replication broadcast:
	// every shard applies it to its local CascadeStateMap copy.
	KindRetweetBroadcast
	// KindEpochClose announces that process 0 has fed every Retweet of
	// the current epoch; the receiving process must drain its local
	// shards and reply with KindEpochAck.
	KindEpochClose
	// KindEpochAck is a peer's acknowledgment that its shards have
	// applied every message of the named epoch.
	KindEpochAck
	// KindRunInfo propagates the run id and topology chosen by process
	// 0 to every peer during the startup handshake.
	KindRunInfo
	// KindInfluenceEdge carries an edge emitted by a remote process's
	// shard back to process 0, the sole writer of the results file.
	KindInfluenceEdge
	// KindGraphRecord carries one (user, friend-set) pair from the
	// ingest reader on process 0 to the process whose shard owns User.
	KindGraphRecord
	// KindGraphDone closes the ingest phase: process 0 has forwarded
	// every Record, and the receiving process may start serving
	// Retweet traffic.
	KindGraphDone
)

// Envelope is the wire message exchanged between processes. Only the
// fields relevant to Kind are populated; the gob codec (see codec.go)
// handles the zero-valued rest cheaply.
type Envelope struct {
	Kind    Kind
	Epoch   uint64
	Retweet domain.Retweet
	Edge    domain.InfluenceEdge
	// User and Friends are only meaningful for KindGraphRecord.
	User    domain.UID
	Friends domain.FriendSet
	// TargetShard is only meaningful for KindRetweetToOwner,
	// KindRetweetBroadcast and KindGraphRecord: the flat shard index
	// that must apply the message (the retweeter's shard, one of the
	// broadcast's receiving shards, or the graph-record owner's shard).
	TargetShard int
	// FromRank identifies the sender during the initial handshake, so
	// the accepting side of a connection (it does not otherwise know
	// which rank dialed it) can key the stream correctly.
	FromRank int
	// RunID and Processes/Workers are only meaningful for KindRunInfo.
	RunID     string
	Processes int
	Workers   int
}
