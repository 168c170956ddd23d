package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/DmitryFilippov/Lumina/internal/tablebase"
	"github.com/DmitryFilippov/Lumina/pkg/chess"
	"github.com/DmitryFilippov/Lumina/pkg/mcts"
	"github.com/DmitryFilippov/Lumina/pkg/nn"
	"github.com/DmitryFilippov/Lumina/pkg/uci"
)

const (
	batchTimeout     = 2 * time.Millisecond
	progressInterval = 500 * time.Millisecond
	tbPieceLimit     = 6
)

// Engine owns at most one in-flight search and wires the tree, the cache,
// the batcher and the stoppers together for each go command.
type Engine struct {
	Options Options

	logger  zerolog.Logger
	network nn.Network
	weights *nn.WeightsFile
	cache   *nn.Cache
	tree    *mcts.Tree
	prober  mcts.TablebaseProber
	tm      timeManager

	loadedWeights string
	loadedBackend string
	loadedModel   string
	loadedSyzygy  string

	mu       sync.Mutex
	search   *mcts.Search
	movetime *mcts.MovetimeStopper
}

func NewEngine(logger zerolog.Logger) *Engine {
	return &Engine{
		Options: DefaultOptions(),
		logger:  logger,
		tree:    mcts.NewTree(),
	}
}

// Prepare lazily (re)builds everything that depends on options; nothing
// heavy happens before the first isready or go.
func (e *Engine) Prepare() error {
	if e.cache == nil {
		e.cache = nn.NewCache(e.Options.CacheSize)
	} else {
		e.cache.SetCapacity(e.Options.CacheSize)
	}

	if e.network == nil || e.loadedWeights != e.Options.WeightsPath ||
		e.loadedBackend != e.Options.Backend || e.loadedModel != e.Options.OnnxModelPath {
		var rollback = func(err error) error {
			// A failed load or reload keeps the previously loaded network
			// alive; only the very first load is fatal.
			if e.network != nil {
				e.logger.Warn().Err(err).Msg("network reload failed, keeping current network")
				e.Options.WeightsPath = e.loadedWeights
				e.Options.Backend = e.loadedBackend
				e.Options.OnnxModelPath = e.loadedModel
				return nil
			}
			return err
		}

		var weights *nn.WeightsFile
		if e.Options.WeightsPath != "" {
			var loaded, err = nn.LoadWeights(e.Options.WeightsPath)
			if err != nil {
				return rollback(err)
			}
			weights = loaded
			e.logger.Info().Str("path", e.Options.WeightsPath).
				Str("license", weights.License).
				Interface("caps", weights.Caps).
				Msg("weights loaded")
		}
		var network, err = nn.CreateBackend(e.Options.Backend, nn.Config{
			WeightsPath:  e.Options.WeightsPath,
			Weights:      weights,
			MaxBatchSize: e.Options.MaxBatchSize,
			Options: map[string]string{
				"onnx-lib":   e.Options.OnnxLibPath,
				"onnx-model": e.Options.OnnxModelPath,
			},
			Logger: e.logger,
		})
		if err != nil {
			return rollback(err)
		}
		if e.network != nil {
			e.network.Close()
		}
		e.network = network
		e.weights = weights
		e.loadedWeights = e.Options.WeightsPath
		e.loadedBackend = e.Options.Backend
		e.loadedModel = e.Options.OnnxModelPath
	}

	if e.prober == nil || e.loadedSyzygy != e.Options.SyzygyPaths {
		var dirs, err = tablebase.ParsePaths(e.Options.SyzygyPaths)
		if err != nil {
			// A broken tablebase config must not kill the engine.
			e.logger.Warn().Err(err).Msg("tablebase paths rejected")
			dirs = nil
		}
		if len(dirs) == 0 {
			e.prober = nil
		} else {
			e.prober = tablebase.NewCaching(tablebase.Null{})
			e.logger.Info().Strs("paths", dirs).Msg("tablebase probing enabled")
		}
		e.loadedSyzygy = e.Options.SyzygyPaths
	}
	return nil
}

// Clear starts a new game: the tree, the cache and the time bank go.
func (e *Engine) Clear() {
	e.tree.Clear()
	if e.cache != nil {
		e.cache.Clear()
	}
	e.tm.reset()
}

func (e *Engine) Close() {
	if e.network != nil {
		e.network.Close()
		e.network = nil
	}
}

func (e *Engine) PonderHit() {
	e.mu.Lock()
	var mts = e.movetime
	e.mu.Unlock()
	if mts != nil {
		mts.PonderHit(time.Now())
	}
}

// Stop ends the current search gracefully; the bestmove is still reported.
func (e *Engine) Stop() {
	e.mu.Lock()
	var s = e.search
	e.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (e *Engine) Search(ctx context.Context, params uci.SearchParams) (uci.SearchInfo, error) {
	if err := e.Prepare(); err != nil {
		return uci.SearchInfo{}, err
	}
	var start = time.Now()

	var sameGame, err = e.tree.ResetToPosition(params.FEN, params.Moves)
	if err != nil {
		return uci.SearchInfo{}, err
	}
	e.logger.Debug().Bool("same_game", sameGame).Str("fen", params.FEN).
		Int("moves", len(params.Moves)).Msg("position set")
	var head = e.tree.HeadPosition()

	var rootMoves []chess.Move
	for _, s := range params.Limits.SearchMoves {
		var m, ok = head.ParseMove(s)
		if !ok {
			return uci.SearchInfo{}, errors.Errorf("engine: searchmoves has illegal move %q", s)
		}
		rootMoves = append(rootMoves, m)
	}

	var stoppers mcts.ChainStopper
	if params.Limits.Nodes > 0 {
		stoppers = append(stoppers, &mcts.VisitsStopper{Limit: int64(params.Limits.Nodes)})
	}
	var overhead = time.Duration(e.Options.MoveOverheadMS) * time.Millisecond
	var budget, hasBudget = e.tm.allocate(params.Limits, head.WhiteToMove(), overhead)
	var mts *mcts.MovetimeStopper
	if hasBudget {
		var anchor = start
		if params.Limits.Ponder {
			anchor = time.Time{}
		}
		mts = mcts.NewMovetimeStopper(budget, anchor)
		stoppers = append(stoppers, mts)
		if e.Options.SmartPruningFactor > 0 {
			stoppers = append(stoppers, &mcts.SmartPruningStopper{
				Factor:    e.Options.SmartPruningFactor,
				MinVisits: 100,
				Remaining: mts.Remaining,
			})
		}
	}
	if e.Options.MinimumKLDGainPerNode > 0 {
		stoppers = append(stoppers, &mcts.KLDGainStopper{
			Interval: int64(e.Options.KLDGainAverageInterval),
			MinGain:  e.Options.MinimumKLDGainPerNode,
		})
	}
	var stopper mcts.Stopper
	if len(stoppers) > 0 {
		stopper = stoppers
	}

	var batcher = nn.NewBatcher(e.network, e.cache, e.Options.MaxBatchSize,
		batchTimeout, e.Options.PolicySoftmaxTemp)
	var search = mcts.NewSearch(e.tree, batcher, e.prober, e.searchParams(), stopper, rootMoves)

	e.mu.Lock()
	e.search = search
	e.movetime = mts
	e.mu.Unlock()

	var progressDone = make(chan struct{})
	if params.Progress != nil {
		go func() {
			var ticker = time.NewTicker(progressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					params.Progress(e.buildInfo(search, chess.MoveEmpty, chess.MoveEmpty))
				case <-progressDone:
					return
				}
			}
		}()
	}

	var runErr = search.Run(ctx)
	close(progressDone)

	e.mu.Lock()
	e.search = nil
	e.movetime = nil
	e.mu.Unlock()

	if hasBudget && !params.Limits.Ponder {
		e.tm.settle(budget, time.Since(start))
	}
	if runErr != nil && ctx.Err() == nil {
		e.logger.Error().Err(runErr).Msg("search aborted")
		return uci.SearchInfo{}, runErr
	}

	var best, ponder = search.BestMove()
	return e.buildInfo(search, best, ponder), nil
}

func (e *Engine) searchParams() mcts.Params {
	var p = mcts.DefaultParams()
	p.Threads = e.Options.Threads
	p.MaxBatchSize = e.Options.MaxBatchSize
	p.BatchTimeout = batchTimeout
	p.CPuct = e.Options.CPuct
	p.CPuctBase = e.Options.CPuctBase
	p.CPuctFactor = e.Options.CPuctFactor
	if e.Options.FPUStrategy == "absolute" {
		p.FPUStrategy = mcts.FPUAbsolute
	} else {
		p.FPUStrategy = mcts.FPUReduction
	}
	p.FPUValue = e.Options.FPUValue
	p.PolicySoftmaxTemp = e.Options.PolicySoftmaxTemp
	p.DirichletAlpha = e.Options.DirichletNoiseAlpha
	p.DirichletEpsilon = e.Options.DirichletNoiseEpsilon
	p.MovesLeftSlope = e.Options.MovesLeftSlope
	p.SmartPruningFactor = e.Options.SmartPruningFactor
	if e.prober != nil {
		p.TablebasePieceLimit = tbPieceLimit
	}
	return p
}

func (e *Engine) buildInfo(search *mcts.Search, best, ponder chess.Move) uci.SearchInfo {
	var visits, q, pv = search.RootStats()
	var info = uci.SearchInfo{
		Depth:    len(pv),
		SelDepth: int(search.SelDepth()),
		Nodes:    visits,
		Time:     search.Elapsed(),
		Score:    e.score(q),
		MainLine: make([]string, 0, len(pv)),
	}
	if info.Depth == 0 {
		info.Depth = 1
	}
	if e.cache != nil {
		info.Hashfull = e.cache.Fullness()
	}
	for _, m := range pv {
		info.MainLine = append(info.MainLine, m.UCI(e.Options.Chess960))
	}
	var root = e.tree.Root()
	if root != nil && root.IsExpanded() {
		for i := range root.Edges() {
			var edge = &root.Edges()[i]
			if edge.Move == best && edge.Child.Terminal() == mcts.TerminalLoss {
				info.Score = uci.Score{Mate: 1}
			}
		}
	}
	if best != chess.MoveEmpty {
		info.BestMove = best.UCI(e.Options.Chess960)
	}
	if ponder != chess.MoveEmpty {
		info.Ponder = ponder.UCI(e.Options.Chess960)
	}
	return info
}

// score converts the root Q into centipawns the usual way, and derives a
// WDL triple from Q and the cached static draw share of the root.
func (e *Engine) score(q float64) uci.Score {
	var score = uci.Score{
		Centipawns: int(90 * math.Tan(1.5637*clamp(q, -0.9999, 0.9999))),
	}
	var head = e.tree.HeadPosition()
	if head != nil && e.cache != nil {
		if entry, ok := e.cache.Lookup(head.Fingerprint(), head.VerifyKey()); ok {
			var d = clamp(float64(entry.D), 0, 1-math.Abs(q))
			var w = (1 - d + q) / 2
			var l = 1 - d - w
			score.WDL = [3]int{permille(w), permille(d), permille(l)}
			score.HasWDL = true
		}
	}
	return score
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func permille(v float64) int {
	return int(clamp(v, 0, 1)*1000 + 0.5)
}
