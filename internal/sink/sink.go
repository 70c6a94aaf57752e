// Package sink implements the result and statistics writers (spec.md
// C9): the tab-separated influence-edge file and the TOML run-stats
// file every run produces, plus periodic throughput logging in the
// teacher's humanize-backed style (see dgraph-io-flock's download-rate
// reporting).
package sink

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/BMeu/crgp/internal/crgperr"
	"github.com/BMeu/crgp/internal/domain"
	"github.com/BMeu/crgp/internal/driver"
	"github.com/BMeu/crgp/internal/graph"
	"github.com/BMeu/crgp/internal/retweet"
)

// Stats is the full run summary written to "<output>/<run>-stats.toml".
type Stats struct {
	RunID      string        `toml:"run_id"`
	Duration   time.Duration `toml:"-"`
	DurationS  float64       `toml:"duration_seconds"`
	Processes  int           `toml:"processes"`
	Workers    int           `toml:"workers"`
	Graph      graph.Stats   `toml:"graph"`
	Retweets   retweet.Stats `toml:"retweets"`
	Epochs     uint64        `toml:"epochs"`
	EdgesFound uint64        `toml:"edges_found"`
}

// WriteResults writes every edge received on edges, tab-separated as
// "cascade_id\tinfluencer\tinfluenced\ttimestamp", one per line, to
// "<dir>/<run>-results.txt". It logs throughput every reportPeriod,
// the way the teacher's download loop reports a running rate with
// humanize.Comma.
func WriteResults(dir, run string, edges <-chan domain.InfluenceEdge, reportPeriod time.Duration) (uint64, error) {
	path := filepath.Join(dir, run+"-results.txt")
	f, err := os.Create(path)
	if err != nil {
		return 0, crgperr.Wrap(crgperr.ClassInternal, err, "creating results file %s", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	defer w.Flush()

	var count, sinceReport uint64
	ticker := time.NewTicker(reportPeriod)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case edge, ok := <-edges:
			if !ok {
				if err := w.Flush(); err != nil {
					return count, crgperr.Wrap(crgperr.ClassInternal, err, "flushing results file %s", path)
				}
				return count, nil
			}
			if _, err := fmt.Fprintf(w, "%d\t%d\t%d\t%d\n",
				edge.CascadeID, edge.Influencer, edge.Influenced, edge.Timestamp); err != nil {
				return count, crgperr.Wrap(crgperr.ClassInternal, err, "writing to results file %s", path)
			}
			count++
			sinceReport++
		case now := <-ticker.C:
			elapsed := now.Sub(last)
			rate := float64(sinceReport) / elapsed.Seconds()
			logrus.Infof("edges written: %s total, %s/sec", humanize.Comma(int64(count)), humanize.Commaf(rate))
			sinceReport = 0
			last = now
		}
	}
}

// WriteStats marshals stats as TOML to "<dir>/<run>-stats.toml", using
// BurntSushi/toml the way the teacher's own stats persistence does.
func WriteStats(dir string, stats Stats) error {
	stats.DurationS = stats.Duration.Seconds()
	path := filepath.Join(dir, stats.RunID+"-stats.toml")

	f, err := os.Create(path)
	if err != nil {
		return crgperr.Wrap(crgperr.ClassInternal, err, "creating stats file %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(stats); err != nil {
		return crgperr.Wrap(crgperr.ClassInternal, err, "encoding stats file %s", path)
	}
	return nil
}

// Summarize assembles the final Stats from the driver's run summary
// and the graph-ingest statistics gathered earlier.
func Summarize(runID string, processes, workers int, g graph.Stats, d driver.Stats, elapsed time.Duration) Stats {
	return Stats{
		RunID:      runID,
		Duration:   elapsed,
		Processes:  processes,
		Workers:    workers,
		Graph:      g,
		Retweets:   d.Retweets,
		Epochs:     d.Epochs,
		EdgesFound: d.Edges,
	}
}
