package tablebase

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

type countingProber struct {
	calls atomic.Int64
	wdl   int
	ok    bool
}

func (p *countingProber) ProbeWDL(pos *chess.Position) (int, bool) {
	p.calls.Add(1)
	return p.wdl, p.ok
}

func TestCachingProbesOnce(t *testing.T) {
	var inner = &countingProber{wdl: 1, ok: true}
	var c = NewCaching(inner)
	var pos = chess.MustPosition("8/8/8/3k4/8/8/4Q3/4K3 w - - 0 1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var wdl, ok = c.ProbeWDL(pos)
			if !ok || wdl != 1 {
				t.Errorf("probe: %v %v", wdl, ok)
			}
		}()
	}
	wg.Wait()
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("oracle hit %v times", got)
	}
}

func TestCachingRemembersMisses(t *testing.T) {
	var inner = &countingProber{ok: false}
	var c = NewCaching(inner)
	var pos = chess.MustPosition("8/8/8/3k4/8/8/4Q3/4K3 w - - 0 1")
	for i := 0; i < 3; i++ {
		if _, ok := c.ProbeWDL(pos); ok {
			t.Error("miss reported as hit")
		}
	}
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("failed probe retried %v times", got)
	}
}

func TestNullProber(t *testing.T) {
	var pos = chess.MustPosition(chess.InitialPositionFEN)
	if _, ok := (Null{}).ProbeWDL(pos); ok {
		t.Error("null prober claimed coverage")
	}
}

func TestParsePaths(t *testing.T) {
	var dirs, err = ParsePaths("")
	if err != nil || dirs != nil {
		t.Errorf("empty paths: %v %v", dirs, err)
	}
	if _, err := ParsePaths("/definitely/not/a/dir"); err == nil {
		t.Error("missing directory accepted")
	}
	dirs, err = ParsePaths(t.TempDir())
	if err != nil || len(dirs) != 1 {
		t.Errorf("tempdir rejected: %v %v", dirs, err)
	}
}
