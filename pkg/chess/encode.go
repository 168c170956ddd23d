package chess

import (
	"math/bits"

	dragon "github.com/dylhunn/dragontoothmg"
)

// The network input is the classical 112-plane stack: 8 history slots of
// 12 piece planes plus a repetition plane, then castling rights, side to
// move, the fifty-move counter, a reserved zero plane and an all-ones plane.
// Everything is oriented from the side to move: for black the boards are
// mirrored vertically and the piece colors swapped.
const (
	historySlots    = 8
	planesPerSlot   = 13
	NumInputPlanes  = historySlots*planesPerSlot + 8
	planeCastleBase = historySlots * planesPerSlot
	planeSideToMove = planeCastleBase + 4
	planeRule50     = planeCastleBase + 5
	planeZeros      = planeCastleBase + 6
	planeOnes       = planeCastleBase + 7
)

type Plane struct {
	Mask  uint64
	Value float32
}

type InputPlanes [NumInputPlanes]Plane

// Encode builds the network input for p. Missing history slots stay zero.
func (p *Position) Encode() *InputPlanes {
	var planes = &InputPlanes{}
	var flip = !p.board.Wtomove

	var q = p
	for slot := 0; slot < historySlots && q != nil; slot++ {
		encodeBoards(planes, slot, &q.board, flip)
		if q.Repetitions() >= 1 {
			planes[slot*planesPerSlot+12] = Plane{Mask: ^uint64(0), Value: 1}
		}
		q = q.prev
	}

	var c = p.castling
	var usShort, usLong, themShort, themLong = c.whiteShort, c.whiteLong, c.blackShort, c.blackLong
	if flip {
		usShort, usLong, themShort, themLong = c.blackShort, c.blackLong, c.whiteShort, c.whiteLong
	}
	setBoolPlane(planes, planeCastleBase+0, usShort)
	setBoolPlane(planes, planeCastleBase+1, usLong)
	setBoolPlane(planes, planeCastleBase+2, themShort)
	setBoolPlane(planes, planeCastleBase+3, themLong)
	setBoolPlane(planes, planeSideToMove, flip)
	planes[planeRule50] = Plane{Mask: ^uint64(0), Value: float32(p.rule50)}
	planes[planeOnes] = Plane{Mask: ^uint64(0), Value: 1}
	return planes
}

func encodeBoards(planes *InputPlanes, slot int, b *dragon.Board, flip bool) {
	var us, them = &b.White, &b.Black
	if flip {
		us, them = them, us
	}
	var base = slot * planesPerSlot
	var boards = [12]uint64{
		us.Pawns, us.Knights, us.Bishops, us.Rooks, us.Queens, us.Kings,
		them.Pawns, them.Knights, them.Bishops, them.Rooks, them.Queens, them.Kings,
	}
	for i, bb := range boards {
		if flip {
			bb = bits.ReverseBytes64(bb)
		}
		if bb != 0 {
			planes[base+i] = Plane{Mask: bb, Value: 1}
		}
	}
}

func setBoolPlane(planes *InputPlanes, index int, v bool) {
	if v {
		planes[index] = Plane{Mask: ^uint64(0), Value: 1}
	}
}
