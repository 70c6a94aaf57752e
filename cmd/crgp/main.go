// Command crgp reconstructs retweet cascades and the influence edges
// within them from a social graph and a stream of retweets, across one
// or more cooperating processes (spec.md §1/§5).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/ristretto/z"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/BMeu/crgp/internal/crgperr"
	"github.com/BMeu/crgp/internal/dataflow"
	"github.com/BMeu/crgp/internal/driver"
	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/graph"
	"github.com/BMeu/crgp/internal/ingest"
	"github.com/BMeu/crgp/internal/logging"
	"github.com/BMeu/crgp/internal/partition"
	"github.com/BMeu/crgp/internal/peer"
	"github.com/BMeu/crgp/internal/retweet"
	"github.com/BMeu/crgp/internal/sink"
)

var opts struct {
	workers       int
	processes     int
	process       int
	hostfile      string
	output        string
	batchSize     int
	padUsers      bool
	verbosity     int
	logDir        string
	timestampUnit string
	graphOverflow string
}

// main wires the run's lifetime to OS signals with a ristretto/z.Closer,
// the same Ctrl-C-cancels-the-run idiom the teacher's startWriters uses
// (there: a Closer whose Signal stops the download loop; here: one whose
// cancellation of the root command's context stops mid-dial or mid-epoch
// work cleanly instead of leaving peer connections half-open).
func main() {
	closer := z.NewCloser(1)
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer closer.Done()
		select {
		case <-sigCh:
			logrus.Warn("caught interrupt, shutting down")
			cancel()
		case <-closer.HasBeenClosed():
		}
	}()

	root := newRootCmd()
	root.SetContext(ctx)
	err := root.Execute()
	closer.SignalAndWait()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(crgperr.ExitCodeOf(err))
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crgp <friends-path> <retweets-path>",
		Short: "Reconstruct retweet cascades and their influence edges",
		Long: `crgp consumes a social graph and a stream of retweets and, for every
accepted retweet, emits the edge along which influence most plausibly
flowed: the friend of the retweeter, already present in the cascade,
whose entry into it is the most recent.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.IntVarP(&opts.workers, "workers", "w", 1, "number of worker shards per process")
	flags.IntVarP(&opts.processes, "processes", "n", 1, "total number of cooperating processes")
	flags.IntVarP(&opts.process, "process", "p", 0, "this process's rank, 0..processes-1")
	flags.StringVarP(&opts.hostfile, "hostfile", "h", "", "newline-delimited host:port per process rank (default: localhost:2101.. )")
	flags.StringVarP(&opts.output, "output", "o", ".", "directory results and stats files are written to")
	flags.IntVar(&opts.batchSize, "batch-size", driver.DefaultBatchSize, "retweets per epoch batch")
	flags.BoolVar(&opts.padUsers, "pad-users", false, "pad friend lists to their declared count with synthetic friends")
	flags.CountVarP(&opts.verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	flags.StringVarP(&opts.logDir, "log-dir", "l", "", "directory to additionally write the run's log file to")
	flags.StringVar(&opts.timestampUnit, "timestamp-unit", "seconds", "normalize retweet timestamps to \"seconds\" or \"milliseconds\"")
	flags.StringVar(&opts.graphOverflow, "graph-overflow-dir", "", "if set, back the friend index with a disk-resident store rooted here")

	return cmd
}

func run(ctx context.Context, friendsPath, retweetsPath string) error {
	runID := uuid.New().String()

	cleanup, err := logging.Configure(opts.verbosity, opts.logDir, runID)
	if err != nil {
		return err
	}
	defer cleanup()

	if opts.workers <= 0 || opts.processes <= 0 {
		return crgperr.New(crgperr.ClassUsage, "workers and processes must both be positive")
	}
	if opts.process < 0 || opts.process >= opts.processes {
		return crgperr.New(crgperr.ClassUsage, "process rank %d out of range [0, %d)", opts.process, opts.processes)
	}

	var unit retweet.TimestampUnit
	switch opts.timestampUnit {
	case "seconds":
		unit = retweet.Seconds
	case "milliseconds":
		unit = retweet.Milliseconds
	default:
		return crgperr.New(crgperr.ClassUsage, "--timestamp-unit must be \"seconds\" or \"milliseconds\", got %q", opts.timestampUnit)
	}

	hosts, err := resolveHostfile()
	if err != nil {
		return err
	}

	friendIdx, err := newFriendIndex()
	if err != nil {
		return err
	}
	defer friendIdx.Close()

	localShards := make(map[int]*dataflow.Shard, opts.workers)
	for w := 0; w < opts.workers; w++ {
		idx := partition.Index(opts.process, w, opts.workers)
		localShards[idx] = dataflow.NewShard(idx, friendIdx)
	}

	topo := dataflow.New(opts.process, opts.processes, opts.workers, localShards)

	logrus.WithField("shards", dataflow.LocalShardIndices(opts.process, opts.processes, opts.workers)).
		Info(dataflow.Describe(opts.process, opts.processes, opts.workers))

	start := time.Now()

	if opts.process == 0 {
		return runHub(ctx, topo, hosts, runID, friendsPath, retweetsPath, unit, start)
	}
	return runLeaf(topo, hosts[opts.process])
}

func resolveHostfile() (peer.Hostfile, error) {
	if opts.hostfile == "" {
		return peer.DefaultHostfile(opts.processes), nil
	}
	return peer.LoadHostfile(opts.hostfile, opts.processes)
}

func newFriendIndex() (*graph.FriendIndex, error) {
	if opts.graphOverflow == "" {
		return graph.NewFriendIndex(), nil
	}
	return graph.NewOverflowFriendIndex(opts.graphOverflow, 0)
}

// runHub drives the whole run from process 0: dialing every peer,
// streaming the friend graph, then the epoch-batched retweet feed, and
// finally writing the results and statistics files.
func runHub(ctx context.Context, topo *dataflow.Topology, hosts peer.Hostfile, runID, friendsPath, retweetsPath string, unit retweet.TimestampUnit, start time.Time) error {
	for rank := 1; rank < opts.processes; rank++ {
		cc, err := peer.Dial(ctx, hosts[rank], peer.DefaultDialOptions())
		if err != nil {
			return err
		}
		stream, err := peer.DialExchange(ctx, cc)
		if err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "opening exchange stream to process %d", rank)
		}
		// The handshake echo is read here, before AttachHubStream starts
		// the stream's receive loop, so only one reader ever sees it.
		if err := stream.Send(&peer.Envelope{
			Kind: peer.KindRunInfo, RunID: runID, Processes: opts.processes, Workers: opts.workers, FromRank: 0,
		}); err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "sending handshake to process %d", rank)
		}
		echo, err := stream.Recv()
		if err != nil {
			return crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "awaiting handshake echo from process %d", rank)
		}
		if echo.Kind != peer.KindRunInfo {
			return crgperr.New(crgperr.ClassInternal, "process %d sent %v instead of handshake echo", rank, echo.Kind)
		}
		topo.AttachHubStream(rank, stream)
	}

	graphStats, err := ingest.Run(friendsPath, graph.Options{PadUsers: opts.padUsers}, topo)
	if err != nil {
		return err
	}

	retweetsFile, err := os.Open(retweetsPath)
	if err != nil {
		return crgperr.Wrap(crgperr.ClassInputIOFatal, err, "opening retweets file %s", retweetsPath)
	}
	defer retweetsFile.Close()

	edges := make(chan domain.InfluenceEdge, 1024)
	writeDone := make(chan struct {
		n   uint64
		err error
	}, 1)
	go func() {
		n, err := sink.WriteResults(opts.output, runID, edges, 5*time.Second)
		writeDone <- struct {
			n   uint64
			err error
		}{n, err}
	}()

	driverStats, err := driver.Run(retweetsFile, retweet.Parser{Unit: unit}, topo, opts.batchSize, edges)
	if err != nil {
		return err
	}

	result := <-writeDone
	if result.err != nil {
		return result.err
	}

	stats := sink.Summarize(runID, opts.processes, opts.workers, graphStats, driverStats, time.Since(start))
	return sink.WriteStats(opts.output, stats)
}

// runLeaf serves the single Exchange stream process 0 opens to this
// process and blocks for the run's duration.
func runLeaf(topo *dataflow.Topology, addr string) error {
	server, err := peer.Listen(addr, dataflow.LeafServer{Topo: topo, Rank: opts.process})
	if err != nil {
		return err
	}
	return server.Serve()
}
