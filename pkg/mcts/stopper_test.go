package mcts

import (
	"testing"
	"time"
)

func TestVisitsAndPlayoutsStoppers(t *testing.T) {
	var st = IterationStats{RootVisits: 99, Playouts: 150}
	if (&VisitsStopper{Limit: 100}).ShouldStop(&st) {
		t.Error("visits stopper fired early")
	}
	st.RootVisits = 100
	if !(&VisitsStopper{Limit: 100}).ShouldStop(&st) {
		t.Error("visits stopper did not fire")
	}
	if (&PlayoutsStopper{Limit: 151}).ShouldStop(&st) {
		t.Error("playouts stopper fired early")
	}
	if !(&PlayoutsStopper{Limit: 150}).ShouldStop(&st) {
		t.Error("playouts stopper did not fire")
	}
}

func TestMovetimeStopperPonder(t *testing.T) {
	var s = NewMovetimeStopper(10*time.Millisecond, time.Time{})
	var st = IterationStats{}
	time.Sleep(20 * time.Millisecond)
	if s.ShouldStop(&st) {
		t.Error("unanchored movetime stopper fired while pondering")
	}
	s.PonderHit(time.Now().Add(-time.Second))
	if !s.ShouldStop(&st) {
		t.Error("movetime stopper did not fire after ponderhit")
	}
}

func TestMovetimeStopperBudget(t *testing.T) {
	var s = NewMovetimeStopper(time.Hour, time.Now())
	if s.ShouldStop(&IterationStats{}) {
		t.Error("fired inside budget")
	}
	var zero = NewMovetimeStopper(0, time.Now())
	if !zero.ShouldStop(&IterationStats{}) {
		t.Error("zero budget did not fire immediately")
	}
	if r := zero.Remaining(time.Now()); r != 0 {
		t.Errorf("remaining of spent budget: %v", r)
	}
}

func TestChainStopperFirstFires(t *testing.T) {
	var chain = ChainStopper{
		&VisitsStopper{Limit: 1000},
		&PlayoutsStopper{Limit: 10},
	}
	var st = IterationStats{RootVisits: 5, Playouts: 10}
	if !chain.ShouldStop(&st) {
		t.Error("chain ignored a firing member")
	}
}

func TestKLDGainStopper(t *testing.T) {
	var s = &KLDGainStopper{Interval: 100, MinGain: 1e-5}
	// First snapshot: never stops.
	var st = IterationStats{RootVisits: 100, EdgeVisits: []int64{50, 30, 20}}
	if s.ShouldStop(&st) {
		t.Error("fired on the first snapshot")
	}
	// Distribution shifts a lot: keep searching.
	st = IterationStats{RootVisits: 200, EdgeVisits: []int64{150, 30, 20}}
	if s.ShouldStop(&st) {
		t.Error("fired while the distribution still moves")
	}
	// Distribution frozen: gain collapses below the threshold.
	st = IterationStats{RootVisits: 300, EdgeVisits: []int64{225, 45, 30}}
	if !s.ShouldStop(&st) {
		t.Error("did not fire on a stable distribution")
	}
}

func TestKLDGainStopperHonoursInterval(t *testing.T) {
	var s = &KLDGainStopper{Interval: 100, MinGain: 1}
	var st = IterationStats{RootVisits: 50, EdgeVisits: []int64{25, 25}}
	if s.ShouldStop(&st) {
		t.Error("polled before the interval elapsed")
	}
}

func TestSmartPruningStopper(t *testing.T) {
	var remaining = 100 * time.Millisecond
	var s = &SmartPruningStopper{
		Factor:    1,
		MinVisits: 10,
		Remaining: func(time.Time) time.Duration { return remaining },
	}
	// 1000 playouts/sec observed; 100ms left => ~100 more playouts.
	var st = IterationStats{
		Elapsed:    time.Second,
		RootVisits: 1000,
		Playouts:   1000,
		EdgeVisits: []int64{800, 150, 50},
	}
	if !s.ShouldStop(&st) {
		t.Error("insurmountable lead not detected")
	}
	st.EdgeVisits = []int64{500, 450, 50}
	if s.ShouldStop(&st) {
		t.Error("fired although the runner-up can catch up")
	}
	// Below the visit floor it must never fire.
	st.RootVisits = 5
	st.EdgeVisits = []int64{5, 0}
	if s.ShouldStop(&st) {
		t.Error("fired below the minimum visit count")
	}
}
