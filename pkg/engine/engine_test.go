package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
	"github.com/DmitryFilippov/Lumina/pkg/nn"
	"github.com/DmitryFilippov/Lumina/pkg/uci"
)

func testEngine() *Engine {
	var e = NewEngine(zerolog.Nop())
	e.Options.Backend = "random"
	e.Options.Threads = 1
	e.Options.MaxBatchSize = 1
	return e
}

func TestEngineSearchNodes(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var info, err = e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{Nodes: 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.BestMove == "" {
		t.Fatal("no bestmove")
	}
	if info.Nodes < 50 {
		t.Errorf("nodes: %v", info.Nodes)
	}
	if len(info.MainLine) == 0 || info.MainLine[0] != info.BestMove {
		t.Errorf("pv head %v != bestmove %v", info.MainLine, info.BestMove)
	}
	if _, ok := chess.MustPosition(chess.InitialPositionFEN).ParseMove(info.BestMove); !ok {
		t.Errorf("bestmove not legal: %v", info.BestMove)
	}
}

func TestEngineMovetimeZeroReturnsImmediately(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var start = time.Now()
	var info, err = e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{MoveTime: 0, HasMoveTime: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.BestMove == "" {
		t.Error("no bestmove for movetime 0")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("movetime 0 did not return promptly")
	}
}

func TestEngineMatedRootReportsNoMove(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var info, err = e.Search(context.Background(), uci.SearchParams{
		FEN:    "R5k1/5ppp/8/8/8/8/8/6K1 b - - 0 1",
		Limits: uci.LimitsType{Nodes: 10},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.BestMove != "" {
		t.Errorf("bestmove from a mated position: %v", info.BestMove)
	}
}

func TestEngineMateInOneScore(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var info, err = e.Search(context.Background(), uci.SearchParams{
		FEN:    "4k3/8/4K3/4Q3/8/8/8/8 w - - 0 1",
		Limits: uci.LimitsType{Nodes: 300},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.Score.Mate != 1 {
		t.Errorf("mate score: %+v", info.Score)
	}
}

func TestEngineSearchmoves(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var info, err = e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{Nodes: 30, SearchMoves: []string{"a2a3"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info.BestMove != "a2a3" {
		t.Errorf("searchmoves ignored: %v", info.BestMove)
	}
	// A malformed searchmoves entry is a protocol error, not a crash.
	if _, err := e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{Nodes: 10, SearchMoves: []string{"zz99"}},
	}); err == nil {
		t.Error("illegal searchmoves accepted")
	}
}

func TestEngineStopViaContext(t *testing.T) {
	var e = testEngine()
	e.Options.Threads = 2
	defer e.Close()
	var ctx, cancel = context.WithCancel(context.Background())
	var done = make(chan struct{})
	var info uci.SearchInfo
	var err error
	go func() {
		info, err = e.Search(ctx, uci.SearchParams{
			FEN:    chess.InitialPositionFEN,
			Limits: uci.LimitsType{Infinite: true},
		})
		close(done)
	}()
	time.Sleep(300 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("infinite search did not stop on cancel")
	}
	if err != nil {
		t.Fatal(err)
	}
	if info.BestMove == "" {
		t.Error("no bestmove after stop")
	}
}

func TestEngineClearDropsTree(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	if _, err := e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{Nodes: 20},
	}); err != nil {
		t.Fatal(err)
	}
	e.Clear()
	if e.tree.Root() != nil {
		t.Error("clear kept the tree")
	}
}

func TestEngineUnknownBackend(t *testing.T) {
	var e = NewEngine(zerolog.Nop())
	e.Options.Backend = "no-such-backend"
	if err := e.Prepare(); err == nil {
		t.Error("unknown backend accepted")
	}
}

// writeTestWeights builds a minimal gzipped weights container. withWDL
// selects the modern multi-head format descriptor; without it the file
// parses as a legacy scalar-value network.
func writeTestWeights(t *testing.T, withWDL bool) string {
	t.Helper()
	var payload []byte
	payload = protowire.AppendTag(payload, 1, protowire.Fixed32Type)
	payload = protowire.AppendFixed32(payload, 0x1c0)
	if withWDL {
		var network []byte
		network = protowire.AppendTag(network, 3, protowire.VarintType)
		network = protowire.AppendVarint(network, 4)
		network = protowire.AppendTag(network, 5, protowire.VarintType)
		network = protowire.AppendVarint(network, 2) // wdl value head
		var format []byte
		format = protowire.AppendTag(format, 2, protowire.BytesType)
		format = protowire.AppendBytes(format, network)
		payload = protowire.AppendTag(payload, 4, protowire.BytesType)
		payload = protowire.AppendBytes(payload, format)
	}
	var buf bytes.Buffer
	var gz = gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	var path = filepath.Join(t.TempDir(), "net.pb.gz")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEngineLoadsWeightsFile(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	e.Options.WeightsPath = writeTestWeights(t, true)
	if err := e.Prepare(); err != nil {
		t.Fatal(err)
	}
	if e.weights == nil {
		t.Fatal("weights file not decoded")
	}
	if caps := e.network.Capabilities(); caps.Value != nn.ValueWDL {
		t.Errorf("weights caps did not reach the backend: %+v", caps)
	}

	// Legacy files fix up to a scalar value head.
	e.Options.WeightsPath = writeTestWeights(t, false)
	if err := e.Prepare(); err != nil {
		t.Fatal(err)
	}
	if caps := e.network.Capabilities(); caps.Value != nn.ValueScalar {
		t.Errorf("legacy fixup not applied: %+v", caps)
	}
}

func TestEngineBadWeightsFatalOnFirstLoad(t *testing.T) {
	var e = testEngine()
	var path = filepath.Join(t.TempDir(), "broken.pb.gz")
	if err := os.WriteFile(path, []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}
	e.Options.WeightsPath = path
	if err := e.Prepare(); err == nil {
		t.Error("unreadable weights accepted on first load")
	}
}

func TestEngineBadWeightsReloadKeepsNetwork(t *testing.T) {
	var e = testEngine()
	defer e.Close()
	var good = writeTestWeights(t, true)
	e.Options.WeightsPath = good
	if err := e.Prepare(); err != nil {
		t.Fatal(err)
	}

	var broken = filepath.Join(t.TempDir(), "broken.pb.gz")
	if err := os.WriteFile(broken, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}
	e.Options.WeightsPath = broken
	if err := e.Prepare(); err != nil {
		t.Fatalf("failed reload killed the engine: %v", err)
	}
	if e.Options.WeightsPath != good {
		t.Errorf("options not rolled back: %v", e.Options.WeightsPath)
	}
	if e.network == nil || e.network.Capabilities().Value != nn.ValueWDL {
		t.Error("previously loaded network lost")
	}
	// And the engine can still search.
	if _, err := e.Search(context.Background(), uci.SearchParams{
		FEN:    chess.InitialPositionFEN,
		Limits: uci.LimitsType{Nodes: 10},
	}); err != nil {
		t.Fatal(err)
	}
}
