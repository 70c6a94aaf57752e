package dataflow

import (
	"io"
	"sort"
	"testing"

	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/graph"
	"github.com/BMeu/crgp/internal/partition"
	"github.com/BMeu/crgp/internal/peer"
)

// scenario bundles one of spec.md §8's literal worked examples: a
// friend graph, the retweets to dispatch (sorted, as the driver
// guarantees) and the influence edges they must produce.
type scenario struct {
	friends  map[domain.UID][]domain.UID
	retweets []domain.Retweet
	want     []domain.InfluenceEdge
}

func scenarioA() scenario {
	return scenario{
		friends: map[domain.UID][]domain.UID{
			1: {2, 4},
			2: {1},
			4: {1},
		},
		retweets: []domain.Retweet{
			{ID: 2, User: 1, Timestamp: 200, CascadeID: 100, OriginalAuthor: 42},
			{ID: 3, User: 2, Timestamp: 300, CascadeID: 100, OriginalAuthor: 42},
			{ID: 4, User: 4, Timestamp: 400, CascadeID: 100, OriginalAuthor: 42},
		},
		want: []domain.InfluenceEdge{
			{CascadeID: 100, Influencer: 42, Influenced: 1, Timestamp: 200},
			{CascadeID: 100, Influencer: 1, Influenced: 2, Timestamp: 300},
			{CascadeID: 100, Influencer: 1, Influenced: 4, Timestamp: 400},
		},
	}
}

func scenarioB() scenario {
	return scenario{
		friends: map[domain.UID][]domain.UID{
			5: {6},
		},
		retweets: []domain.Retweet{
			{ID: 1, User: 5, Timestamp: 10, CascadeID: 200, OriginalAuthor: 99},
		},
		want: []domain.InfluenceEdge{
			{CascadeID: 200, Influencer: 99, Influenced: 5, Timestamp: 10},
		},
	}
}

func scenarioC() scenario {
	return scenario{
		friends: map[domain.UID][]domain.UID{
			7: {8, 9},
		},
		retweets: []domain.Retweet{
			{ID: 1, User: 8, Timestamp: 50, CascadeID: 300, OriginalAuthor: 0},
			{ID: 2, User: 9, Timestamp: 60, CascadeID: 300, OriginalAuthor: 0},
			{ID: 3, User: 7, Timestamp: 70, CascadeID: 300, OriginalAuthor: 0},
		},
		want: []domain.InfluenceEdge{
			{CascadeID: 300, Influencer: 0, Influenced: 8, Timestamp: 50},
			{CascadeID: 300, Influencer: 0, Influenced: 9, Timestamp: 60},
			{CascadeID: 300, Influencer: 9, Influenced: 7, Timestamp: 70},
		},
	}
}

// runSingleProcess drives sc through a Topology with one process and
// workers local shards, the W=1,P=1 and W=4,P=1 legs of Scenario F.
func runSingleProcess(t *testing.T, workers int, sc scenario) []domain.InfluenceEdge {
	t.Helper()

	friends := graph.NewFriendIndex()
	shards := make(map[int]*Shard, workers)
	for w := 0; w < workers; w++ {
		idx := partition.Index(0, w, workers)
		shards[idx] = NewShard(idx, friends)
	}

	topo := New(0, 1, workers, shards)

	for user, fs := range sc.friends {
		if err := topo.RouteGraphRecord(user, domain.NewFriendSet(fs)); err != nil {
			t.Fatalf("RouteGraphRecord(%d): %v", user, err)
		}
	}

	for _, rt := range sc.retweets {
		if err := topo.Dispatch(rt); err != nil {
			t.Fatalf("Dispatch(%+v): %v", rt, err)
		}
	}
	if err := topo.CloseEpoch(0); err != nil {
		t.Fatalf("CloseEpoch: %v", err)
	}
	topo.CloseEdges()

	var got []domain.InfluenceEdge
	for edge := range topo.Edges() {
		got = append(got, edge)
	}
	return got
}

// loopbackStream implements peer.ExchangeStream over a pair of Go
// channels, simulating the Exchange RPC stream in-process for the
// W=2,P=2 leg of Scenario F without opening any socket.
type loopbackStream struct {
	send chan *peer.Envelope
	recv chan *peer.Envelope
}

func newLoopbackPair() (hubSide, leafSide *loopbackStream) {
	hubToLeaf := make(chan *peer.Envelope, 64)
	leafToHub := make(chan *peer.Envelope, 64)
	hubSide = &loopbackStream{send: hubToLeaf, recv: leafToHub}
	leafSide = &loopbackStream{send: leafToHub, recv: hubToLeaf}
	return hubSide, leafSide
}

func (l *loopbackStream) Send(e *peer.Envelope) error {
	l.send <- e
	return nil
}

func (l *loopbackStream) Recv() (*peer.Envelope, error) {
	e, ok := <-l.recv
	if !ok {
		return nil, io.EOF
	}
	return e, nil
}

// runTwoByTwo drives sc through two simulated processes, each running
// two local shards, connected by a loopbackStream instead of a real
// Exchange RPC: the in-process-simulated W=2,P=2 leg of Scenario F.
func runTwoByTwo(t *testing.T, sc scenario) []domain.InfluenceEdge {
	t.Helper()

	const workers = 2
	hubFriends := graph.NewFriendIndex()
	leafFriends := graph.NewFriendIndex()

	hubShards := map[int]*Shard{}
	leafShards := map[int]*Shard{}
	for w := 0; w < workers; w++ {
		hubIdx := partition.Index(0, w, workers)
		hubShards[hubIdx] = NewShard(hubIdx, hubFriends)
		leafIdx := partition.Index(1, w, workers)
		leafShards[leafIdx] = NewShard(leafIdx, leafFriends)
	}

	hubTopo := New(0, 2, workers, hubShards)
	leafTopo := New(1, 2, workers, leafShards)

	hubStream, leafStream := newLoopbackPair()

	// Drive the handshake envelope exchange directly, before either
	// side's background receive loop starts: AttachHubStream's
	// hubRecvLoop and a direct stream.Recv from this goroutine would
	// otherwise race for the same echo envelope.
	done := make(chan error, 1)
	go func() {
		_, _, _, err := AwaitHandshake(leafStream, 1)
		done <- err
	}()
	if err := hubStream.Send(&peer.Envelope{
		Kind: peer.KindRunInfo, RunID: "test-run", Processes: 2, Workers: workers, FromRank: 0,
	}); err != nil {
		t.Fatalf("sending handshake: %v", err)
	}
	if _, err := hubStream.Recv(); err != nil {
		t.Fatalf("awaiting handshake echo: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("leaf AwaitHandshake: %v", err)
	}

	leafTopo.AttachLeafStream(leafStream)
	hubTopo.AttachHubStream(1, hubStream)

	for user, fs := range sc.friends {
		if err := hubTopo.RouteGraphRecord(user, domain.NewFriendSet(fs)); err != nil {
			t.Fatalf("RouteGraphRecord(%d): %v", user, err)
		}
	}
	if err := hubTopo.FinishIngest(); err != nil {
		t.Fatalf("FinishIngest: %v", err)
	}

	for _, rt := range sc.retweets {
		if err := hubTopo.Dispatch(rt); err != nil {
			t.Fatalf("Dispatch(%+v): %v", rt, err)
		}
	}
	if err := hubTopo.CloseEpoch(0); err != nil {
		t.Fatalf("CloseEpoch: %v", err)
	}
	hubTopo.CloseEdges()

	var got []domain.InfluenceEdge
	for edge := range hubTopo.Edges() {
		got = append(got, edge)
	}
	return got
}

func sortEdges(edges []domain.InfluenceEdge) {
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.CascadeID != b.CascadeID {
			return a.CascadeID < b.CascadeID
		}
		if a.Influenced != b.Influenced {
			return a.Influenced < b.Influenced
		}
		if a.Influencer != b.Influencer {
			return a.Influencer < b.Influencer
		}
		return a.Timestamp < b.Timestamp
	})
}

func assertEdgesEqual(t *testing.T, got, want []domain.InfluenceEdge) {
	t.Helper()
	gotSorted := append([]domain.InfluenceEdge(nil), got...)
	wantSorted := append([]domain.InfluenceEdge(nil), want...)
	sortEdges(gotSorted)
	sortEdges(wantSorted)

	if len(gotSorted) != len(wantSorted) {
		t.Fatalf("got %d edges, want %d\ngot:  %+v\nwant: %+v", len(gotSorted), len(wantSorted), gotSorted, wantSorted)
	}
	for i := range wantSorted {
		if gotSorted[i] != wantSorted[i] {
			t.Errorf("edge %d = %+v, want %+v", i, gotSorted[i], wantSorted[i])
		}
	}
}

func TestScenarioA_TrivialCascade_W1P1(t *testing.T) {
	sc := scenarioA()
	assertEdgesEqual(t, runSingleProcess(t, 1, sc), sc.want)
}

func TestScenarioA_TrivialCascade_W4P1(t *testing.T) {
	sc := scenarioA()
	assertEdgesEqual(t, runSingleProcess(t, 4, sc), sc.want)
}

func TestScenarioB_NoFriendInCascade_W1P1(t *testing.T) {
	sc := scenarioB()
	assertEdgesEqual(t, runSingleProcess(t, 1, sc), sc.want)
}

func TestScenarioB_NoFriendInCascade_W4P1(t *testing.T) {
	sc := scenarioB()
	assertEdgesEqual(t, runSingleProcess(t, 4, sc), sc.want)
}

func TestScenarioC_TieBreakByEntryTime_W1P1(t *testing.T) {
	sc := scenarioC()
	assertEdgesEqual(t, runSingleProcess(t, 1, sc), sc.want)
}

func TestScenarioC_TieBreakByEntryTime_W4P1(t *testing.T) {
	sc := scenarioC()
	assertEdgesEqual(t, runSingleProcess(t, 4, sc), sc.want)
}

// TestScenarioD_DuplicateSuppression dispatches the same retweet twice
// and checks the second occurrence emits no edge.
func TestScenarioD_DuplicateSuppression(t *testing.T) {
	rt := domain.Retweet{ID: 1, User: 5, Timestamp: 100, CascadeID: 900, OriginalAuthor: 3}
	sc := scenario{
		friends:  nil,
		retweets: []domain.Retweet{rt, rt},
		want: []domain.InfluenceEdge{
			{CascadeID: 900, Influencer: 3, Influenced: 5, Timestamp: 100},
		},
	}
	assertEdgesEqual(t, runSingleProcess(t, 1, sc), sc.want)
}

// TestScenarioE_CrossCascadeIsolation has the same user enter two
// distinct cascades sharing a common friend; each cascade's S set must
// stay independent, so the second cascade cannot see the first
// cascade's already-recorded entry for that friend.
func TestScenarioE_CrossCascadeIsolation(t *testing.T) {
	sc := scenario{
		friends: map[domain.UID][]domain.UID{
			20: {21},
		},
		retweets: []domain.Retweet{
			{ID: 2, User: 20, Timestamp: 200, CascadeID: 500, OriginalAuthor: 21},
			{ID: 3, User: 20, Timestamp: 300, CascadeID: 501, OriginalAuthor: 99},
		},
		want: []domain.InfluenceEdge{
			{CascadeID: 500, Influencer: 21, Influenced: 20, Timestamp: 200},
			{CascadeID: 501, Influencer: 99, Influenced: 20, Timestamp: 300},
		},
	}
	assertEdgesEqual(t, runSingleProcess(t, 1, sc), sc.want)
}

// TestScenarioF_DistributedEquivalence reruns Scenarios A-C at
// (W=1,P=1), (W=4,P=1) and simulated (W=2,P=2), and checks all three
// topologies produce the same edge set (spec.md §8's partition
// invariance property).
func TestScenarioF_DistributedEquivalence(t *testing.T) {
	builders := map[string]func() scenario{"A": scenarioA, "B": scenarioB, "C": scenarioC}
	for name, build := range builders {
		t.Run(name, func(t *testing.T) {
			sc := build()
			w1p1 := runSingleProcess(t, 1, build())
			w4p1 := runSingleProcess(t, 4, build())
			w2p2 := runTwoByTwo(t, build())

			assertEdgesEqual(t, w4p1, sc.want)
			assertEdgesEqual(t, w2p2, sc.want)
			assertEdgesEqual(t, w1p1, w4p1)
			assertEdgesEqual(t, w1p1, w2p2)
		})
	}
}
