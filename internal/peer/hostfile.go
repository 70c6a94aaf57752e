package peer

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/BMeu/crgp/internal/crgperr"
)

// Hostfile lists the host:port address of every process in the group,
// in rank order (spec.md §5).
type Hostfile []string

// DefaultHostfile synthesizes "localhost:2101".."localhost:2100+n" when
// no -h/--hostfile flag is given, per spec.md §6.
func DefaultHostfile(n int) Hostfile {
	hosts := make(Hostfile, n)
	for i := 0; i < n; i++ {
		hosts[i] = fmt.Sprintf("localhost:%d", 2101+i)
	}
	return hosts
}

// LoadHostfile reads a newline-delimited host:port list, one per
// process rank; blank lines and '#' comments are ignored.
func LoadHostfile(path string, n int) (Hostfile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, crgperr.Wrap(crgperr.ClassInputIOFatal, err, "opening hostfile %s", path)
	}
	defer f.Close()

	var hosts Hostfile
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		hosts = append(hosts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, crgperr.Wrap(crgperr.ClassInputIOFatal, err, "reading hostfile %s", path)
	}
	if len(hosts) != n {
		return nil, crgperr.New(crgperr.ClassUsage,
			"hostfile %s lists %d addresses, want %d (--processes)", path, len(hosts), n)
	}
	return hosts, nil
}
