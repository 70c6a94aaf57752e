package peer

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"

	"github.com/BMeu/crgp/internal/crgperr"
)

// DialOptions configures bounded-retry peer dialing (spec.md §5:
// "failure to connect within a bounded number of retries is fatal").
type DialOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultDialOptions is a capped exponential backoff: 100ms, 200ms,
// 400ms... up to 5s, eight attempts total.
func DefaultDialOptions() DialOptions {
	return DialOptions{MaxAttempts: 8, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Dial connects to addr, retrying with exponential backoff up to
// opts.MaxAttempts before giving up. The final failure is classified
// PeerIOFatal, since peer connectivity is never recoverable mid-run
// (spec.md §7).
func Dial(ctx context.Context, addr string, opts DialOptions) (*grpc.ClientConn, error) {
	delay := opts.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		dialCtx, cancel := context.WithTimeout(ctx, opts.MaxDelay)
		// Matches the teacher's own dialing idiom (newAPIClients):
		// grpc.Dial(sa, grpc.WithInsecure()), generalized to block
		// until connected (or the per-attempt timeout elapses) since
		// the startup barrier in spec.md §5 requires a synchronous
		// rendezvous, not a lazy connection.
		cc, err := grpc.DialContext(dialCtx, addr, grpc.WithInsecure(), grpc.WithBlock())
		cancel()
		if err == nil {
			return cc, nil
		}

		lastErr = err
		logrus.WithError(err).WithField("addr", addr).WithField("attempt", attempt).
			Warn("peer dial failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, crgperr.Wrap(crgperr.ClassPeerIOFatal, ctx.Err(), "dialing peer %s", addr)
		}

		delay *= 2
		if delay > opts.MaxDelay {
			delay = opts.MaxDelay
		}
	}

	return nil, crgperr.Wrap(crgperr.ClassPeerIOFatal, lastErr,
		"dialing peer %s after %d attempts", addr, opts.MaxAttempts)
}
