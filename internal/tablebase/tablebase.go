// Package tablebase is the seam to an endgame oracle. The engine only needs
// WDL probes; the actual syzygy decoder is an external collaborator plugged
// in through the Prober interface. Probes are deduplicated and their results
// cached, and any failure falls back to the network evaluation.
package tablebase

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

// Prober answers a WDL probe from the side to move: +1 win, 0 draw, -1
// loss. ok=false means the position is not covered or the probe failed.
type Prober interface {
	ProbeWDL(pos *chess.Position) (wdl int, ok bool)
}

// ParsePaths validates a separator-joined list of tablebase directories.
func ParsePaths(paths string) ([]string, error) {
	if paths == "" {
		return nil, nil
	}
	var dirs []string
	for _, dir := range strings.FieldsFunc(paths, func(r rune) bool {
		return r == ':' || r == ';'
	}) {
		var info, err = os.Stat(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "tablebase: path %q", dir)
		}
		if !info.IsDir() {
			return nil, errors.Errorf("tablebase: %q is not a directory", dir)
		}
		dirs = append(dirs, filepath.Clean(dir))
	}
	return dirs, nil
}

// Caching wraps a prober with a result cache and singleflight, so a position
// probed by many workers at once hits the oracle exactly once.
type Caching struct {
	inner Prober

	group singleflight.Group
	mu    sync.RWMutex
	known map[uint64]int8
}

func NewCaching(inner Prober) *Caching {
	return &Caching{inner: inner, known: make(map[uint64]int8)}
}

const missSentinel = int8(-128)

func (c *Caching) ProbeWDL(pos *chess.Position) (int, bool) {
	var key = pos.Fingerprint()
	c.mu.RLock()
	var cached, ok = c.known[key]
	c.mu.RUnlock()
	if ok {
		if cached == missSentinel {
			return 0, false
		}
		return int(cached), true
	}

	var result, _, _ = c.group.Do(strconv.FormatUint(key, 16), func() (interface{}, error) {
		var wdl, ok = c.inner.ProbeWDL(pos)
		var stored = int8(wdl)
		if !ok {
			stored = missSentinel
		}
		c.mu.Lock()
		c.known[key] = stored
		c.mu.Unlock()
		return stored, nil
	})
	var stored = result.(int8)
	if stored == missSentinel {
		return 0, false
	}
	return int(stored), true
}

// Null is the prober used when no tablebases are configured.
type Null struct{}

func (Null) ProbeWDL(pos *chess.Position) (int, bool) { return 0, false }
