package dataflow

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/BMeu/crgp/internal/crgperr"
	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/partition"
	"github.com/BMeu/crgp/internal/peer"
)

// Topology wires the local shards of one process into the distributed
// dataflow. Only process 0 ever reads input (spec.md §4.8), so traffic
// only ever needs to flow 0<->i: Topology exploits this star shape
// instead of a full peer mesh. Process 0 dials every other process at
// startup, so a failure to reach any peer is caught before data flows,
// not mid-run; the other processes never connect to each other.
type Topology struct {
	Rank      int
	Processes int
	Workers   int
	N         int // Processes * Workers, total shard count

	shards map[int]*Shard // local shards, keyed by flat shard index

	// hub-only state (Rank == 0)
	peerStreams map[int]peer.ExchangeStream // keyed by peer rank, ranks 1..Processes-1
	edges       chan domain.InfluenceEdge
	ackCh       map[int]chan uint64 // keyed by peer rank

	// leaf-only state (Rank != 0)
	hubStream   peer.ExchangeStream
	leafStopped chan struct{}

	mu sync.Mutex
}

// New creates a Topology for this process, owning localShards (keyed
// by flat shard index, per partition.Of/partition.Index).
func New(rank, processes, workers int, localShards map[int]*Shard) *Topology {
	return &Topology{
		Rank:      rank,
		Processes: processes,
		Workers:   workers,
		N:         processes * workers,
		shards:    localShards,
		edges:     make(chan domain.InfluenceEdge, 1024),
		ackCh:     make(map[int]chan uint64),
	}
}

// CloseEdges closes the Edges channel. Callers must only call this
// after every epoch has been closed (CloseEpoch returned for all of
// them), which guarantees no further edge can arrive from any peer or
// local shard.
func (t *Topology) CloseEdges() {
	close(t.edges)
}

// Edges is the hub's aggregated stream of every influence edge
// resolved anywhere in the group, local or remote. Only meaningful on
// process 0; the sink (spec.md C9) drains it.
func (t *Topology) Edges() <-chan domain.InfluenceEdge {
	return t.edges
}

// AttachHubStream registers the established Exchange stream to a
// higher-rank peer and starts the goroutine that drains it. Called
// once per peer during startup, after the connection barrier.
func (t *Topology) AttachHubStream(peerRank int, stream peer.ExchangeStream) {
	t.mu.Lock()
	if t.peerStreams == nil {
		t.peerStreams = make(map[int]peer.ExchangeStream)
	}
	t.peerStreams[peerRank] = stream
	t.ackCh[peerRank] = make(chan uint64, 1)
	t.mu.Unlock()

	go t.hubRecvLoop(peerRank, stream)
}

// AttachLeafStream registers this process's single stream back to
// process 0 and starts the goroutine that drains it.
func (t *Topology) AttachLeafStream(stream peer.ExchangeStream) {
	t.hubStream = stream
	t.leafStopped = make(chan struct{})
	go t.leafRecvLoop(stream)
}

// WaitLeaf blocks until the leaf's receive loop exits, i.e. the hub
// has closed the Exchange stream. The ExchangeServer implementation
// hosting the stream must block on this for as long as the stream is
// alive, per grpc-go's contract that a streaming handler owns the
// stream's lifetime.
func (t *Topology) WaitLeaf() {
	<-t.leafStopped
}

func (t *Topology) hubRecvLoop(peerRank int, stream peer.ExchangeStream) {
	for {
		env, err := stream.Recv()
		if err != nil {
			logrus.WithError(err).WithField("peer", peerRank).Warn("peer exchange stream closed")
			return
		}
		switch env.Kind {
		case peer.KindInfluenceEdge:
			t.edges <- env.Edge
		case peer.KindEpochAck:
			t.mu.Lock()
			ch := t.ackCh[peerRank]
			t.mu.Unlock()
			ch <- env.Epoch
		default:
			logrus.WithField("kind", env.Kind).Warn("unexpected envelope kind on hub stream")
		}
	}
}

func (t *Topology) leafRecvLoop(stream peer.ExchangeStream) {
	defer close(t.leafStopped)
	for {
		env, err := stream.Recv()
		if err != nil {
			logrus.WithError(err).Warn("hub exchange stream closed")
			return
		}

		switch env.Kind {
		case peer.KindRetweetToOwner:
			shard, ok := t.shards[env.TargetShard]
			if !ok {
				logrus.WithField("shard", env.TargetShard).Error("retweet routed to unowned shard")
				continue
			}
			if edge, ok := shard.ApplyAndDetect(env.Retweet); ok {
				_ = stream.Send(&peer.Envelope{Kind: peer.KindInfluenceEdge, Edge: edge})
			}
		case peer.KindRetweetBroadcast:
			shard, ok := t.shards[env.TargetShard]
			if !ok {
				logrus.WithField("shard", env.TargetShard).Error("broadcast routed to unowned shard")
				continue
			}
			shard.ApplyState(env.Retweet)
		case peer.KindEpochClose:
			_ = stream.Send(&peer.Envelope{Kind: peer.KindEpochAck, Epoch: env.Epoch})
		case peer.KindGraphRecord:
			shard, ok := t.shards[env.TargetShard]
			if !ok {
				logrus.WithField("shard", env.TargetShard).Error("graph record routed to unowned shard")
				continue
			}
			if err := shard.Friends.Insert(env.User, env.Friends); err != nil {
				logrus.WithError(err).Error("inserting forwarded graph record")
			}
		case peer.KindGraphDone:
			logrus.Debug("friend graph ingest complete on this process")
		default:
			logrus.WithField("kind", env.Kind).Warn("unexpected envelope kind on leaf stream")
		}
	}
}

// RouteGraphRecord delivers one ingest record (spec.md C2/C5) to
// whichever process owns its shard: a direct local Insert, or a
// KindGraphRecord envelope forwarded to the owning remote process.
// Hub-only, called while process 0 streams the friend graph during the
// ingest phase (epoch 0), before the first retweet epoch.
func (t *Topology) RouteGraphRecord(user domain.UID, friends domain.FriendSet) error {
	shard := partition.Shard(user, t.N)
	proc, _ := partition.Of(shard, t.Workers)

	if proc == t.Rank {
		local, ok := t.shards[shard]
		if !ok {
			return crgperr.New(crgperr.ClassInternal, "process %d has no local shard %d", t.Rank, shard)
		}
		return local.Friends.Insert(user, friends)
	}

	stream, ok := t.peerStreams[proc]
	if !ok {
		return crgperr.New(crgperr.ClassInternal, "no exchange stream to process %d", proc)
	}
	if err := stream.Send(&peer.Envelope{
		Kind: peer.KindGraphRecord, User: user, Friends: friends, TargetShard: shard,
	}); err != nil {
		return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "forwarding graph record to process %d", proc)
	}
	return nil
}

// FinishIngest signals every peer that the friend graph has been fully
// streamed. The Exchange stream is FIFO, so a peer is guaranteed to
// have applied every KindGraphRecord sent before this arrives.
func (t *Topology) FinishIngest() error {
	for proc, stream := range t.peerStreams {
		if err := stream.Send(&peer.Envelope{Kind: peer.KindGraphDone}); err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "closing ingest phase on process %d", proc)
		}
	}
	return nil
}

// Dispatch routes one Retweet per the dataflow's two routing rules
// (spec.md §4.4): every shard that has ever touched r's cascade
// applies the broadcast cascade-state update, while only the shard
// owning r.User runs influence detection. Hub-only: process 0 is the
// dataflow's sole feeder (spec.md §4.8).
func (t *Topology) Dispatch(r domain.Retweet) error {
	owner := partition.Shard(r.User, t.N)

	for shard := 0; shard < t.N; shard++ {
		proc, _ := partition.Of(shard, t.Workers)
		isOwner := shard == owner

		if proc == t.Rank {
			local, ok := t.shards[shard]
			if !ok {
				return crgperr.New(crgperr.ClassInternal, "process %d has no local shard %d", t.Rank, shard)
			}
			if isOwner {
				if edge, ok := local.ApplyAndDetect(r); ok {
					t.edges <- edge
				}
			} else {
				local.ApplyState(r)
			}
			continue
		}

		kind := peer.KindRetweetBroadcast
		if isOwner {
			kind = peer.KindRetweetToOwner
		}
		stream, ok := t.peerStreams[proc]
		if !ok {
			return crgperr.New(crgperr.ClassInternal, "no exchange stream to process %d", proc)
		}
		if err := stream.Send(&peer.Envelope{Kind: kind, Retweet: r, TargetShard: shard}); err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "dispatching retweet to process %d", proc)
		}
	}

	return nil
}

// CloseEpoch implements the frontier-closure barrier (spec.md §4.6):
// local shards are already caught up (Dispatch calls them
// synchronously), so closing an epoch only needs to wait for every
// remote process to drain and acknowledge it.
func (t *Topology) CloseEpoch(epoch uint64) error {
	for proc, stream := range t.peerStreams {
		if err := stream.Send(&peer.Envelope{Kind: peer.KindEpochClose, Epoch: epoch}); err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "closing epoch %d on process %d", epoch, proc)
		}
	}
	for proc, ch := range t.ackCh {
		acked := <-ch
		if acked != epoch {
			return crgperr.New(crgperr.ClassInternal,
				"process %d acked epoch %d, expected %d", proc, acked, epoch)
		}
	}
	return nil
}

// Handshake performs the startup rendezvous (spec.md §5): the hub
// announces the run identity and topology shape to every peer and
// waits for each to echo it back before any data flows.
func (t *Topology) Handshake(runID string) error {
	for proc, stream := range t.peerStreams {
		if err := stream.Send(&peer.Envelope{
			Kind: peer.KindRunInfo, RunID: runID, Processes: t.Processes, Workers: t.Workers, FromRank: t.Rank,
		}); err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "sending handshake to process %d", proc)
		}
	}
	for proc, stream := range t.peerStreams {
		env, err := stream.Recv()
		if err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "awaiting handshake echo from process %d", proc)
		}
		if env.Kind != peer.KindRunInfo {
			return crgperr.New(crgperr.ClassInternal, "process %d sent %v instead of handshake echo", proc, env.Kind)
		}
	}
	return nil
}

// AwaitHandshake is the leaf side of Handshake: block for the hub's
// run-info envelope, echo it back, and report the run identity.
func AwaitHandshake(stream peer.ExchangeStream, rank int) (runID string, processes, workers int, err error) {
	env, err := stream.Recv()
	if err != nil {
		return "", 0, 0, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "awaiting hub handshake")
	}
	if env.Kind != peer.KindRunInfo {
		return "", 0, 0, crgperr.New(crgperr.ClassInternal, "expected handshake, got %v", env.Kind)
	}
	if err := stream.Send(&peer.Envelope{
		Kind: peer.KindRunInfo, RunID: env.RunID, Processes: env.Processes, Workers: env.Workers, FromRank: rank,
	}); err != nil {
		return "", 0, 0, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "echoing handshake")
	}
	return env.RunID, env.Processes, env.Workers, nil
}

// LocalShardIndices reports the flat shard indices this process owns,
// in ascending order, for error messages and diagnostics.
func LocalShardIndices(rank, processes, workers int) []int {
	out := make([]int, 0, workers)
	for w := 0; w < workers; w++ {
		out = append(out, partition.Index(rank, w, workers))
	}
	return out
}

// LeafServer adapts a Topology to peer.ExchangeServer: the handler
// invoked when process 0 dials in and opens the single Exchange stream
// this (non-zero-rank) process ever sees.
type LeafServer struct {
	Topo *Topology
	Rank int
}

// Exchange performs the handshake, attaches the stream to the
// topology, and blocks for the stream's entire lifetime, as grpc-go
// requires of a bidirectional-streaming handler.
func (l LeafServer) Exchange(stream peer.ExchangeStream) error {
	_, _, _, err := AwaitHandshake(stream, l.Rank)
	if err != nil {
		return err
	}
	l.Topo.AttachLeafStream(stream)
	l.Topo.WaitLeaf()
	return nil
}

// Describe renders a short human-readable summary of this topology's
// shape, used in startup logging.
func Describe(rank, processes, workers int) string {
	return fmt.Sprintf("process %d/%d, %d local workers, %d total shards", rank, processes, workers, processes*workers)
}
