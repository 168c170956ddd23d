package engine

import (
	"time"

	"github.com/DmitryFilippov/Lumina/pkg/uci"
)

// timeManager turns the clock situation into a per-move wall budget with the
// legacy heuristic: remaining time spread over the expected game length plus
// most of the increment, clamped by the move overhead. Unspent time is
// banked and reused, up to a cap.
type timeManager struct {
	bank time.Duration
}

const (
	expectedMovesToGo = 30
	incrementFactor   = 0.8
	bankSpendFraction = 0.5
	maxBank           = 10 * time.Second
	minBudget         = time.Millisecond
)

// allocate returns the budget for this move. ok is false when the limits
// carry no clock at all (infinite or nodes-only searches).
func (tm *timeManager) allocate(limits uci.LimitsType, whiteToMove bool, overhead time.Duration) (budget time.Duration, ok bool) {
	if limits.Infinite {
		return 0, false
	}
	if limits.HasMoveTime {
		budget = time.Duration(limits.MoveTime)*time.Millisecond - overhead
		if budget < 0 {
			budget = 0
		}
		return budget, true
	}

	var main, inc time.Duration
	if whiteToMove {
		main = time.Duration(limits.WhiteTime) * time.Millisecond
		inc = time.Duration(limits.WhiteIncrement) * time.Millisecond
	} else {
		main = time.Duration(limits.BlackTime) * time.Millisecond
		inc = time.Duration(limits.BlackIncrement) * time.Millisecond
	}
	if main <= 0 && inc <= 0 {
		return 0, false
	}

	var moves = limits.MovesToGo
	if moves <= 0 || moves > expectedMovesToGo {
		moves = expectedMovesToGo
	}

	main -= overhead
	if main < minBudget {
		main = minBudget
	}

	budget = main/time.Duration(moves) + time.Duration(float64(inc)*incrementFactor)
	budget += time.Duration(float64(tm.bank) * bankSpendFraction)

	// Never budget more than half the remaining clock for one move.
	if max := main / 2; budget > max {
		budget = max
	}
	if budget < minBudget {
		budget = minBudget
	}
	return budget, true
}

// settle banks the unspent part of the budget after the move.
func (tm *timeManager) settle(budget, spent time.Duration) {
	var unspent = budget - spent
	if unspent < 0 {
		unspent = 0
	}
	tm.bank += unspent
	if tm.bank > maxBank {
		tm.bank = maxBank
	}
}

func (tm *timeManager) reset() {
	tm.bank = 0
}
