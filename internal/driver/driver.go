// Package driver implements the epoch/batch driver (spec.md C8): the
// single process-0 component that owns reading the Retweet stream,
// establishing the global (timestamp, id) order spec.md §4.6 requires,
// slicing it into fixed-size epochs, and feeding each epoch through the
// dataflow before advancing to the next.
package driver

import (
	"io"
	"sort"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BMeu/crgp/internal/crgperr"
	"github.com/BMeu/crgp/internal/dataflow"
	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/retweet"
)

// DefaultBatchSize is the epoch size used when --batch-size is not
// given: small enough to keep the frontier-closure barrier from
// stalling one slow worker for long, large enough to amortize it.
const DefaultBatchSize = 4096

// Stats summarizes one driver run for the sink's statistics file.
type Stats struct {
	Retweets retweet.Stats
	Epochs   uint64
	Edges    uint64
}

// Run reads every Retweet from r, sorts them into the ascending
// (timestamp, id) order spec.md §3/§4.6 mandates, and feeds them to
// topo in epochs of at most batchSize, waiting for each epoch's
// frontier to close globally before starting the next. Every
// InfluenceEdge topo produces — local or remote — is pushed onto out
// as it arrives, concurrently with feeding, so the sink can start
// writing before ingestion finishes.
func Run(r io.Reader, parser retweet.Parser, topo *dataflow.Topology, batchSize int, out chan<- domain.InfluenceEdge) (Stats, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	parsed := make(chan domain.Retweet, 1024)
	var g errgroup.Group
	var parseStats retweet.Stats
	var all []domain.Retweet

	g.Go(func() error {
		var err error
		parseStats, err = parser.Parse(r, parsed)
		close(parsed)
		return err
	})
	g.Go(func() error {
		for rt := range parsed {
			all = append(all, rt)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Timestamp != all[j].Timestamp {
			return all[i].Timestamp < all[j].Timestamp
		}
		return all[i].ID < all[j].ID
	})

	// edgeDone is closed by the goroutine below once it has forwarded
	// every edge and topo.Edges() has been closed, which happens only
	// after every epoch has been fed and the last frontier has closed.
	edgeDone := make(chan struct{})
	var edgeCount uint64
	go func() {
		for edge := range topo.Edges() {
			edgeCount++
			out <- edge
		}
		close(edgeDone)
	}()

	var batches uint64
	stats := Stats{Retweets: parseStats}

	for start := 0; start < len(all); start += batchSize {
		end := start + batchSize
		if end > len(all) {
			end = len(all)
		}
		batch := all[start:end]
		// Epoch 0 is the friend-graph ingest; batch k is epoch k+1.
		epoch := batches + 1

		for _, rt := range batch {
			if err := topo.Dispatch(rt); err != nil {
				return stats, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "dispatching epoch %d", epoch)
			}
		}
		if err := topo.CloseEpoch(epoch); err != nil {
			return stats, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "closing epoch %d", epoch)
		}

		logrus.WithField("epoch", epoch).WithField("retweets", len(batch)).Debug("epoch closed")
		batches++
	}

	stats.Epochs = batches

	// Every peer has acked every epoch, so no further edges can be
	// produced remotely; local Dispatch calls are synchronous, so
	// none can be in flight either. Draining is safe to stop here.
	topo.CloseEdges()
	<-edgeDone
	close(out)
	stats.Edges = edgeCount

	return stats, nil
}
