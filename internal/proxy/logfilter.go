package proxy

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// The MITM engine logs through the global logrus logger. Browsers probe and
// abandon connections constantly, so passthrough failures repeat; the first
// line containing each noisy fragment is logged, and every later line
// containing the same fragment is dropped.
var noisyFragments = []string{
	"Failed to handle request",
	"connection reset by peer",
	"use of closed network connection",
	"broken pipe",
}

var installOnce sync.Once

// installLogFilter routes the MITM engine's logrus output through a
// deduplicating writer and quiets its default verbosity.
func installLogFilter() {
	installOnce.Do(func() {
		logrus.SetLevel(logrus.WarnLevel)
		logrus.SetOutput(&dedupWriter{
			next: os.Stderr,
			seen: make(map[string]struct{}),
		})
	})
}

// dedupWriter drops repeated noisy log lines, forwarding everything else.
type dedupWriter struct {
	mu   sync.Mutex
	next io.Writer
	seen map[string]struct{}
}

func (w *dedupWriter) Write(p []byte) (int, error) {
	line := string(p)
	for _, fragment := range noisyFragments {
		if !strings.Contains(line, fragment) {
			continue
		}
		w.mu.Lock()
		_, dup := w.seen[fragment]
		w.seen[fragment] = struct{}{}
		w.mu.Unlock()
		if dup {
			// Swallowed, but report full length so logrus is satisfied.
			return len(p), nil
		}
		break
	}
	return w.next.Write(p)
}
