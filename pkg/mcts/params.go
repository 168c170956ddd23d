package mcts

import (
	"time"
)

type FPUStrategy int

const (
	FPUReduction FPUStrategy = iota
	FPUAbsolute
)

// Params are the search knobs. Zero value is not usable; start from
// DefaultParams.
type Params struct {
	Threads      int
	MaxBatchSize int
	BatchTimeout time.Duration

	CPuct       float64
	CPuctBase   float64
	CPuctFactor float64

	FPUStrategy FPUStrategy
	FPUValue    float64

	PolicySoftmaxTemp float64

	DirichletAlpha   float64
	DirichletEpsilon float64
	NoiseSeed        int64

	VirtualLossWeight int32

	MovesLeftSlope float64

	SmartPruningFactor    float64
	SmartPruningMinVisits int64

	KLDGainAverageInterval int64
	MinimumKLDGainPerNode  float64

	TablebasePieceLimit int
}

func DefaultParams() Params {
	return Params{
		Threads:                2,
		MaxBatchSize:           256,
		BatchTimeout:           2 * time.Millisecond,
		CPuct:                  1.745,
		CPuctBase:              38739,
		CPuctFactor:            3.894,
		FPUStrategy:            FPUReduction,
		FPUValue:               0.33,
		PolicySoftmaxTemp:      1.359,
		DirichletAlpha:         0.3,
		DirichletEpsilon:       0,
		VirtualLossWeight:      1,
		MovesLeftSlope:         0,
		SmartPruningFactor:     1.33,
		SmartPruningMinVisits:  100,
		KLDGainAverageInterval: 100,
		MinimumKLDGainPerNode:  0,
		TablebasePieceLimit:    0,
	}
}

// cpuct grows with the log of the parent visit count.
func (p *Params) cpuct(parentN int64) float64 {
	var c = p.CPuct
	if p.CPuctFactor > 0 && p.CPuctBase > 0 {
		c += p.CPuctFactor * logf((float64(parentN)+p.CPuctBase)/p.CPuctBase)
	}
	return c
}
