// Package retweet implements the Retweet parser (spec.md C3): it decodes
// newline-delimited JSON tweets into typed domain.Retweet values, using
// anaconda's Tweet/User types as the wire shape (they already carry the
// exact field names and nesting Twitter's API and archive exports use).
package retweet

import (
	"bufio"
	"encoding/json"
	"io"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/ChimeraCoder/anaconda"
	"github.com/sirupsen/logrus"

	"github.com/BMeu/crgp/internal/domain"
)

// TimestampUnit selects how a normalized timestamp is scaled.
type TimestampUnit int

const (
	// Seconds normalizes timestamps to Unix seconds.
	Seconds TimestampUnit = iota
	// Milliseconds normalizes timestamps to Unix milliseconds.
	Milliseconds
)

// twitterTimeFormat is Twitter's conventional textual created_at layout,
// identical to the teacher's cTimeFormat constant.
const twitterTimeFormat = "Mon Jan 02 15:04:05 -0700 2006"

// Stats accumulates the parser's recoverable-error counters.
type Stats struct {
	Parsed         uint64
	MalformedLines uint64
	InvalidUTF8    uint64
	NotRetweets    uint64
}

// Parser turns lines of NDJSON into domain.Retweet values.
type Parser struct {
	Unit TimestampUnit
}

// Parse reads newline-delimited JSON tweets from r and pushes every line
// that represents an actual Retweet (has a populated retweeted_status)
// onto out. Lines that are not valid UTF-8, not valid JSON, or are plain
// (non-retweet) tweets are counted and skipped, never fatal, per
// spec.md §4.3 / §7.
func (p Parser) Parse(r io.Reader, out chan<- domain.Retweet) (Stats, error) {
	var stats Stats

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !utf8.Valid(line) {
			stats.InvalidUTF8++
			continue
		}

		rt, ok, err := p.parseLine(line)
		if err != nil {
			stats.MalformedLines++
			logrus.WithError(err).Debug("skipping malformed retweet line")
			continue
		}
		if !ok {
			stats.NotRetweets++
			continue
		}

		stats.Parsed++
		out <- rt
	}

	return stats, scanner.Err()
}

// parseLine decodes one line. ok is false (with no error) when the line
// is a syntactically valid tweet that simply isn't a retweet.
func (p Parser) parseLine(line []byte) (domain.Retweet, bool, error) {
	var tweet anaconda.Tweet
	if err := json.Unmarshal(line, &tweet); err != nil {
		return domain.Retweet{}, false, err
	}

	if tweet.RetweetedStatus == nil {
		return domain.Retweet{}, false, nil
	}

	id, err := strconv.ParseUint(tweet.IdStr, 10, 64)
	if err != nil {
		return domain.Retweet{}, false, err
	}

	user, err := strconv.ParseUint(tweet.User.IdStr, 10, 64)
	if err != nil {
		return domain.Retweet{}, false, err
	}

	cascadeID, err := strconv.ParseUint(tweet.RetweetedStatus.IdStr, 10, 64)
	if err != nil {
		return domain.Retweet{}, false, err
	}

	author, err := strconv.ParseUint(tweet.RetweetedStatus.User.IdStr, 10, 64)
	if err != nil {
		return domain.Retweet{}, false, err
	}

	ts, err := p.normalizeTimestamp(tweet.CreatedAt)
	if err != nil {
		return domain.Retweet{}, false, err
	}

	return domain.Retweet{
		ID:             domain.UID(id),
		User:           domain.UID(user),
		Timestamp:      ts,
		CascadeID:      domain.UID(cascadeID),
		OriginalAuthor: domain.UID(author),
	}, true, nil
}

// normalizeTimestamp accepts either a numeric epoch value or Twitter's
// conventional textual timestamp, per spec.md §4.3.
func (p Parser) normalizeTimestamp(raw string) (int64, error) {
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return p.scale(n), nil
	}

	t, err := time.Parse(twitterTimeFormat, raw)
	if err != nil {
		return 0, err
	}
	if p.Unit == Milliseconds {
		return t.UnixMilli(), nil
	}
	return t.Unix(), nil
}

// scale adjusts an already-numeric timestamp to the configured unit. We
// assume numeric timestamps arrive in seconds when they have at most 10
// digits and in milliseconds otherwise, then convert to the target
// unit; this matches how mixed Twitter corpora (epoch-seconds ids vs.
// millisecond snowflake-derived values) are typically normalized.
func (p Parser) scale(n int64) int64 {
	const secondsDigits = 10
	isSeconds := digitCount(n) <= secondsDigits

	switch {
	case isSeconds && p.Unit == Seconds:
		return n
	case isSeconds && p.Unit == Milliseconds:
		return n * 1000
	case !isSeconds && p.Unit == Milliseconds:
		return n
	default: // !isSeconds && Unit == Seconds
		return n / 1000
	}
}

func digitCount(n int64) int {
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return 1
	}
	count := 0
	for n > 0 {
		count++
		n /= 10
	}
	return count
}
