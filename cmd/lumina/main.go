package main

import (
	"flag"
	"os"
	"runtime"

	"github.com/pkg/profile"
	"github.com/rs/zerolog"

	"github.com/DmitryFilippov/Lumina/internal/console"
	"github.com/DmitryFilippov/Lumina/pkg/engine"
	"github.com/DmitryFilippov/Lumina/pkg/uci"
)

/*
Lumina Copyright (C) 2024-2025 Dmitry Filippov
This program is free software: you can redistribute it and/or modify it under the terms of the GNU General Public License as published by the Free Software Foundation, either version 3 of the License, or (at your option) any later version.
This program is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for more details.
*/

const (
	name   = "Lumina"
	author = "Dmitry Filippov"
)

var (
	versionName = "dev"
	buildDate   = "(null)"
	gitRevision = "(null)"

	flgWeights   string
	flgBackend   string
	flgOnnxLib   string
	flgOnnxModel string
	flgLogLevel  string
	flgProfile   bool
	flgConsole   bool
)

func main() {
	flag.StringVar(&flgWeights, "weights", "", "path to the network weights file (gzipped protobuf)")
	flag.StringVar(&flgBackend, "backend", "", "evaluation backend (default: best available)")
	flag.StringVar(&flgOnnxLib, "onnx-lib", "", "path to the onnxruntime shared library")
	flag.StringVar(&flgOnnxModel, "onnx-model", "", "compiled onnx graph for the onnx backend")
	flag.StringVar(&flgLogLevel, "log-level", "warn", "stderr log level")
	flag.BoolVar(&flgProfile, "cpuprofile", false, "write a cpu profile")
	flag.BoolVar(&flgConsole, "console", false, "play on the terminal instead of uci")
	flag.Parse()

	var level, levelErr = zerolog.ParseLevel(flgLogLevel)
	if levelErr != nil {
		level = zerolog.WarnLevel
	}
	var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	logger.Info().
		Str("version", versionName).
		Str("build_date", buildDate).
		Str("git_revision", gitRevision).
		Str("runtime", runtime.Version()).
		Int("num_cpu", runtime.NumCPU()).
		Msg(name)

	if flgProfile {
		defer profile.Start(profile.ProfilePath(".")).Stop()
	}

	var eng = engine.NewEngine(logger)
	eng.Options.WeightsPath = flgWeights
	eng.Options.Backend = flgBackend
	eng.Options.OnnxLibPath = flgOnnxLib
	eng.Options.OnnxModelPath = flgOnnxModel
	defer eng.Close()

	if flgWeights != "" || flgBackend != "" {
		// An explicitly requested network that cannot load is fatal.
		if err := eng.Prepare(); err != nil {
			logger.Error().Err(err).Msg("initialisation failed")
			os.Exit(1)
		}
	}

	if flgConsole {
		console.Run(eng, logger)
		return
	}

	var protocol = uci.New(name, author, versionName, eng,
		[]uci.Option{
			&uci.IntOption{Name: "Threads", Min: 1, Max: 128, Value: &eng.Options.Threads},
			&uci.IntOption{Name: "NNCacheSize", Min: 16, Max: 1 << 24, Value: &eng.Options.CacheSize},
			&uci.IntOption{Name: "MaxBatchSize", Min: 1, Max: 1024, Value: &eng.Options.MaxBatchSize},
			&uci.StringOption{Name: "WeightsFile", Value: &eng.Options.WeightsPath},
			&uci.StringOption{Name: "Backend", Value: &eng.Options.Backend},
			&uci.StringOption{Name: "OnnxModelFile", Value: &eng.Options.OnnxModelPath},
			&uci.FloatOption{Name: "CPuct", Min: 0, Max: 100, Value: &eng.Options.CPuct},
			&uci.FloatOption{Name: "CPuctBase", Min: 1, Max: 1e9, Value: &eng.Options.CPuctBase},
			&uci.FloatOption{Name: "CPuctFactor", Min: 0, Max: 1000, Value: &eng.Options.CPuctFactor},
			&uci.StringOption{Name: "FpuStrategy", Value: &eng.Options.FPUStrategy},
			&uci.FloatOption{Name: "FpuValue", Min: -100, Max: 100, Value: &eng.Options.FPUValue},
			&uci.FloatOption{Name: "PolicyTemperature", Min: 0.1, Max: 10, Value: &eng.Options.PolicySoftmaxTemp},
			&uci.FloatOption{Name: "DirichletNoiseAlpha", Min: 0, Max: 100, Value: &eng.Options.DirichletNoiseAlpha},
			&uci.FloatOption{Name: "DirichletNoiseEpsilon", Min: 0, Max: 1, Value: &eng.Options.DirichletNoiseEpsilon},
			&uci.IntOption{Name: "MoveOverheadMs", Min: 0, Max: 100000, Value: &eng.Options.MoveOverheadMS},
			&uci.FloatOption{Name: "SmartPruningFactor", Min: 0, Max: 10, Value: &eng.Options.SmartPruningFactor},
			&uci.IntOption{Name: "KLDGainAverageInterval", Min: 1, Max: 10000000, Value: &eng.Options.KLDGainAverageInterval},
			&uci.FloatOption{Name: "MinimumKLDGainPerNode", Min: 0, Max: 1, Value: &eng.Options.MinimumKLDGainPerNode},
			&uci.FloatOption{Name: "MovesLeftSlope", Min: 0, Max: 1, Value: &eng.Options.MovesLeftSlope},
			&uci.StringOption{Name: "SyzygyPath", Value: &eng.Options.SyzygyPaths},
			&uci.BoolOption{Name: "UCI_Chess960", Value: &eng.Options.Chess960},
		},
		logger)
	protocol.Run(os.Stdin, os.Stdout)
}
