package engine

// Options bind onto the uci option table built in cmd/lumina. OnnxLibPath
// has no uci option; it is set from the command line only.
type Options struct {
	Threads      int
	CacheSize    int
	MaxBatchSize int

	WeightsPath   string
	Backend       string
	OnnxLibPath   string
	OnnxModelPath string

	CPuct       float64
	CPuctBase   float64
	CPuctFactor float64

	FPUStrategy string
	FPUValue    float64

	PolicySoftmaxTemp float64

	DirichletNoiseAlpha   float64
	DirichletNoiseEpsilon float64

	MoveOverheadMS     int
	SmartPruningFactor float64

	KLDGainAverageInterval int
	MinimumKLDGainPerNode  float64

	MovesLeftSlope float64

	SyzygyPaths string

	Chess960 bool
}

func DefaultOptions() Options {
	return Options{
		Threads:                2,
		CacheSize:              200000,
		MaxBatchSize:           256,
		Backend:                "",
		CPuct:                  1.745,
		CPuctBase:              38739,
		CPuctFactor:            3.894,
		FPUStrategy:            "reduction",
		FPUValue:               0.33,
		PolicySoftmaxTemp:      1.359,
		DirichletNoiseAlpha:    0.3,
		DirichletNoiseEpsilon:  0,
		MoveOverheadMS:         100,
		SmartPruningFactor:     1.33,
		KLDGainAverageInterval: 100,
		MinimumKLDGainPerNode:  0,
		MovesLeftSlope:         0,
	}
}
