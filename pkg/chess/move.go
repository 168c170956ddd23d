package chess

import (
	dragon "github.com/dylhunn/dragontoothmg"
)

// Move wraps the generator's move representation. The zero value is no move.
type Move dragon.Move

const MoveEmpty Move = 0

func (m Move) From() uint8 {
	var inner = dragon.Move(m)
	return uint8(inner.From())
}

func (m Move) To() uint8 {
	var inner = dragon.Move(m)
	return uint8(inner.To())
}

// Promotion returns 0 when the move is not a promotion, otherwise
// 2=knight 3=bishop 4=rook 5=queen, matching the generator's piece order.
func (m Move) Promotion() int {
	var inner = dragon.Move(m)
	return int(inner.Promote())
}

func (m Move) String() string {
	if m == MoveEmpty {
		return "0000"
	}
	var inner = dragon.Move(m)
	return inner.String()
}

// UCI formats the move for the controller. In Chess960 mode castling is
// written king-takes-rook; in standard mode the legacy e1g1 style is kept,
// which is also the generator's native representation.
func (m Move) UCI(chess960 bool) string {
	if !chess960 {
		return m.String()
	}
	var from, to = m.From(), m.To()
	if isCastling(from, to) {
		var rookTo = uint8(0)
		switch {
		case to == from+2:
			rookTo = from + 3
		case from == to+2:
			rookTo = from - 4
		}
		return squareName(from) + squareName(rookTo)
	}
	return m.String()
}

func isCastling(from, to uint8) bool {
	// King double steps start only from e1/e8 in standard chess.
	if from != 4 && from != 60 {
		return false
	}
	return to == from+2 || from == to+2
}

// ParseMove resolves coordinate notation against the legal moves of p, so
// both castling encodings and promotion suffixes are accepted.
func (p *Position) ParseMove(s string) (Move, bool) {
	if len(s) < 4 {
		return MoveEmpty, false
	}
	var from, okFrom = parseSquare(s[0:2])
	var to, okTo = parseSquare(s[2:4])
	if !okFrom || !okTo {
		return MoveEmpty, false
	}
	var promo = 0
	if len(s) >= 5 {
		switch s[4] {
		case 'n':
			promo = 2
		case 'b':
			promo = 3
		case 'r':
			promo = 4
		case 'q':
			promo = 5
		default:
			return MoveEmpty, false
		}
	}
	// King-takes-rook castling: remap onto the legacy king move.
	if isChess960Castle(p, from, to) {
		if to > from {
			to = from + 2
		} else {
			to = from - 2
		}
	}
	for _, m := range p.LegalMoves() {
		if m.From() == from && m.To() == to && m.Promotion() == promo {
			return m, true
		}
	}
	return MoveEmpty, false
}

func isChess960Castle(p *Position, from, to uint8) bool {
	var kings, rooks uint64
	if p.board.Wtomove {
		kings, rooks = p.board.White.Kings, p.board.White.Rooks
	} else {
		kings, rooks = p.board.Black.Kings, p.board.Black.Rooks
	}
	return kings&(uint64(1)<<from) != 0 && rooks&(uint64(1)<<to) != 0
}

func parseSquare(s string) (uint8, bool) {
	if s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, false
	}
	return uint8(s[1]-'1')*8 + uint8(s[0]-'a'), true
}

func squareName(sq uint8) string {
	return string([]byte{'a' + sq%8, '1' + sq/8})
}
