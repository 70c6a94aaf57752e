// Package ingest drives the friend-graph ingest phase (spec.md C2/C5):
// process 0 streams graph.Record values off disk and routes each one
// to the process whose shard owns it, either as a direct local
// FriendIndex.Insert or a forwarded KindGraphRecord envelope.
package ingest

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BMeu/crgp/internal/crgperr"
	"github.com/BMeu/crgp/internal/dataflow"
	"github.com/BMeu/crgp/internal/graph"
)

// Run reads the friend graph rooted at path and distributes every
// Record through topo before the first Retweet epoch may begin. Only
// meaningful on process 0, the dataflow's sole feeder.
func Run(path string, opts graph.Options, topo *dataflow.Topology) (graph.Stats, error) {
	records := make(chan graph.Record, 256)
	var g errgroup.Group
	var stats graph.Stats

	g.Go(func() error {
		var err error
		stats, err = graph.Load(path, opts, records)
		close(records)
		return err
	})

	g.Go(func() error {
		for rec := range records {
			if err := topo.RouteGraphRecord(rec.User, rec.Friends); err != nil {
				// Drain the rest so the loader goroutine above doesn't
				// block forever writing to a channel nobody reads.
				for range records {
				}
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return graph.Stats{}, err
	}

	if err := topo.FinishIngest(); err != nil {
		return graph.Stats{}, crgperr.Wrap(crgperr.ClassPeerIOFatal, err, "closing ingest phase")
	}

	logrus.Info("friend graph ingest complete")
	return stats, nil
}
