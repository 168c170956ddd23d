package mcts

import (
	"math"
	"math/rand"
)

func logf(x float64) float64 { return math.Log(x) }

// dirichlet samples a Dirichlet(alpha) vector of length n by normalising
// independent gamma draws.
func dirichlet(rng *rand.Rand, alpha float64, n int) []float64 {
	var sample = make([]float64, n)
	var sum float64
	for i := range sample {
		sample[i] = gamma(rng, alpha)
		sum += sample[i]
	}
	if sum <= 0 {
		for i := range sample {
			sample[i] = 1 / float64(n)
		}
		return sample
	}
	for i := range sample {
		sample[i] /= sum
	}
	return sample
}

// gamma draws from Gamma(alpha, 1) with the Marsaglia-Tsang method; the
// alpha<1 case is boosted through Gamma(alpha+1).
func gamma(rng *rand.Rand, alpha float64) float64 {
	if alpha <= 0 {
		return 0
	}
	if alpha < 1 {
		var u = rng.Float64()
		for u == 0 {
			u = rng.Float64()
		}
		return gamma(rng, alpha+1) * math.Pow(u, 1/alpha)
	}
	var d = alpha - 1.0/3
	var c = 1 / math.Sqrt(9*d)
	for {
		var x = rng.NormFloat64()
		var v = 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		var u = rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}
