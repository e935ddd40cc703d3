package syncclient

import (
	"bufio"
	"bytes"
	"fmt"
	"runtime/pprof"
	"strconv"
	"strings"
)

// RunningWorkers counts live goroutines labelled with the given worker name
// by reading the goroutine profile. Goroutines started from the worker
// inherit its labels, so a transport that spawns helpers (net/http does)
// is counted along with the worker.
func RunningWorkers(name string) (int, error) {
	var buf bytes.Buffer
	if err := pprof.Lookup("goroutine").WriteTo(&buf, 1); err != nil {
		return 0, fmt.Errorf("write goroutine profile: %w", err)
	}

	want := strconv.Quote(LabelKey) + ":" + strconv.Quote(name)
	total, count := 0, 0
	sc := bufio.NewScanner(&buf)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.Contains(line, " @ ") && !strings.HasPrefix(line, "#"):
			n, err := strconv.Atoi(strings.TrimSpace(line[:strings.Index(line, " @ ")]))
			if err == nil {
				count = n
			}
		case strings.HasPrefix(line, "# labels:") && strings.Contains(line, want):
			total += count
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan goroutine profile: %w", err)
	}
	return total, nil
}
