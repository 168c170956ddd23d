package nn

import (
	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

func init() {
	RegisterBackend("random", -100, func(cfg Config) (Network, error) {
		var caps = Capabilities{Policy: PolicyClassical, Value: ValueWDL, MovesLeft: MovesLeftV1}
		if cfg.Weights != nil {
			caps = cfg.Weights.Caps
		}
		return &randomNetwork{caps: caps}, nil
	})
}

// randomNetwork is a deterministic stub: value and policy are derived from a
// hash of the input planes. It backs tests and survives without weights,
// but honours the head formats of a loaded weights file.
type randomNetwork struct {
	caps Capabilities
}

func (n *randomNetwork) Capabilities() Capabilities {
	return n.caps
}

func (n *randomNetwork) Close() error { return nil }

func (n *randomNetwork) NewComputation() Computation {
	return &randomComputation{}
}

type randomComputation struct {
	seeds []uint64
}

func (c *randomComputation) AddInput(planes *chess.InputPlanes) {
	var h = uint64(0x9E3779B97F4A7C15)
	for _, plane := range planes {
		h ^= plane.Mask
		h *= 0x100000001B3
		h ^= uint64(plane.Value)
		h *= 0x100000001B3
	}
	c.seeds = append(c.seeds, h)
}

func (c *randomComputation) BatchSize() int { return len(c.seeds) }

func (c *randomComputation) Compute() error { return nil }

func unit(x uint64) float32 {
	return float32(x%100001) / 100000
}

func (c *randomComputation) Value(i int) float32 {
	var w, _, l = c.WDL(i)
	return w - l
}

func (c *randomComputation) WDL(i int) (w, d, l float32) {
	var s = c.seeds[i]
	w = unit(s)
	d = unit(s>>17) * (1 - w)
	l = 1 - w - d
	return w, d, l
}

func (c *randomComputation) Policy(i, moveIndex int) float32 {
	var s = c.seeds[i] ^ uint64(moveIndex)*0x9E3779B97F4A7C15
	return unit(s*0x100000001B3) * 4
}

func (c *randomComputation) MovesLeft(i int) float32 {
	return 30 + 60*unit(c.seeds[i]>>31)
}
