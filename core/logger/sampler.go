package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

const defaultDebugEvery = 50

// everyN passes one event out of every n. n <= 1 passes everything.
type everyN struct {
	n    atomic.Int64
	seen atomic.Int64
}

func (s *everyN) set(n int) {
	s.n.Store(int64(n))
	s.seen.Store(0)
}

func (s *everyN) allow() bool {
	n := s.n.Load()
	if n <= 1 {
		return true
	}
	return (s.seen.Add(1)-1)%n == 0
}

// parseDebugEvery reads logging.debug_sample. It accepts "N" or the legacy
// "1/N" form; "0" and "off" log every event.
func parseDebugEvery(spec string) int {
	spec = strings.TrimSpace(strings.ToLower(spec))
	switch spec {
	case "":
		return defaultDebugEvery
	case "off", "all":
		return 1
	}
	spec = strings.TrimPrefix(spec, "1/")
	n, err := strconv.Atoi(strings.TrimSpace(spec))
	if err != nil || n < 0 {
		return defaultDebugEvery
	}
	if n == 0 {
		return 1
	}
	return n
}
