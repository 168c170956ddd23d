package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
	"github.com/DmitryFilippov/Lumina/pkg/mcts"
	"github.com/DmitryFilippov/Lumina/pkg/nn"
)

var (
	flgGames       int
	flgVisits      int
	flgThreads     int
	flgBackend     string
	flgWeights     string
	flgOnnxModel   string
	flgTemperature float64
	flgTempCutoff  int
	flgNoiseEps    float64
	flgSeed        int64
	flgSharedTree  bool
)

// Both sides are driven by the same network; with -shared-tree one tree
// serves both players, so each move search reuses the opponent's subtree.
func main() {
	flag.IntVar(&flgGames, "games", 10, "number of games")
	flag.IntVar(&flgVisits, "visits", 800, "visits per move")
	flag.IntVar(&flgThreads, "threads", 2, "search workers")
	flag.StringVar(&flgBackend, "backend", "random", "evaluation backend")
	flag.StringVar(&flgWeights, "weights", "", "network weights file (gzipped protobuf)")
	flag.StringVar(&flgOnnxModel, "onnx-model", "", "compiled onnx graph for the onnx backend")
	flag.Float64Var(&flgTemperature, "temperature", 1, "sampling temperature")
	flag.IntVar(&flgTempCutoff, "temperature-cutoff", 30, "ply after which moves are greedy")
	flag.Float64Var(&flgNoiseEps, "noise-epsilon", 0.25, "dirichlet noise weight at the root")
	flag.Int64Var(&flgSeed, "seed", 0, "rng seed (0: time-based)")
	flag.BoolVar(&flgSharedTree, "shared-tree", true, "share one tree between both players")
	flag.Parse()

	var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	var weights *nn.WeightsFile
	if flgWeights != "" {
		var loaded, err = nn.LoadWeights(flgWeights)
		if err != nil {
			logger.Error().Err(err).Msg("weights load failed")
			os.Exit(1)
		}
		weights = loaded
	}
	var network, err = nn.CreateBackend(flgBackend, nn.Config{
		WeightsPath:  flgWeights,
		Weights:      weights,
		MaxBatchSize: 256,
		Options:      map[string]string{"onnx-model": flgOnnxModel},
		Logger:       logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("backend init failed")
		os.Exit(1)
	}
	defer network.Close()

	var seed = flgSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	var rng = rand.New(rand.NewSource(seed))

	var tally = map[string]int{}
	for game := 0; game < flgGames; game++ {
		var result = playGame(network, logger, rng)
		tally[result]++
		logger.Info().Str("result", result).
			Int("white_wins", tally["1-0"]).
			Int("black_wins", tally["0-1"]).
			Int("draws", tally["1/2-1/2"]).
			Msg("tally")
	}
}

func playGame(network nn.Network, logger zerolog.Logger, rng *rand.Rand) string {
	var gameID = uuid.New()
	var cache = nn.NewCache(200000)
	var tree = mcts.NewTree()
	var moves []string
	var start = time.Now()

	for ply := 0; ; ply++ {
		if !flgSharedTree {
			tree = mcts.NewTree()
		}
		var _, err = tree.ResetToPosition(chess.InitialPositionFEN, moves)
		if err != nil {
			logger.Error().Err(err).Msg("position rejected")
			return "*"
		}
		var pos = tree.HeadPosition()
		if outcome := pos.Outcome(); outcome != chess.Ongoing {
			var result = resultString(outcome, pos.WhiteToMove())
			logger.Info().
				Str("game", gameID.String()).
				Str("result", result).
				Int("plies", ply).
				Dur("elapsed", time.Since(start)).
				Str("moves", strings.Join(moves, " ")).
				Msg("game finished")
			return result
		}

		var params = mcts.DefaultParams()
		params.Threads = flgThreads
		params.DirichletEpsilon = flgNoiseEps
		params.NoiseSeed = rng.Int63()
		var batcher = nn.NewBatcher(network, cache, params.MaxBatchSize,
			params.BatchTimeout, params.PolicySoftmaxTemp)
		var search = mcts.NewSearch(tree, batcher, nil, params,
			&mcts.VisitsStopper{Limit: int64(flgVisits)}, nil)
		if err := search.Run(context.Background()); err != nil {
			logger.Error().Err(err).Str("game", gameID.String()).Msg("search failed")
			return "*"
		}

		var temperature = flgTemperature
		if ply >= flgTempCutoff {
			temperature = 0
		}
		var move = search.SampleMove(rng, temperature)
		if move == chess.MoveEmpty {
			logger.Error().Str("game", gameID.String()).Msg("no move sampled")
			return "*"
		}
		moves = append(moves, move.String())
	}
}

func resultString(outcome chess.Outcome, whiteToMove bool) string {
	switch outcome {
	case chess.Draw:
		return "1/2-1/2"
	case chess.Loss:
		if whiteToMove {
			return "0-1"
		}
		return "1-0"
	case chess.Win:
		if whiteToMove {
			return "1-0"
		}
		return "0-1"
	}
	return "*"
}
