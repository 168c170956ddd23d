package chess

// Policy head indexing. A move maps to from*64+to in a 4096-entry grid;
// underpromotions get a dedicated block of fromFile x direction x piece
// slots. Queen promotions share the plain from-to slot, which is safe: the
// promoting pawn occupies the from square, so no other move from that square
// to that target can be legal in the same position. Moves are indexed from
// the side to move, so black's moves are mirrored before lookup.
const (
	underPromoBase = 64 * 64
	NumMoveIndices = underPromoBase + 8*3*3
)

// MoveIndex maps a move to its policy-vector slot. mirror must be true when
// black is to move in the position the move belongs to.
func MoveIndex(m Move, mirror bool) int {
	var from, to = int(m.From()), int(m.To())
	if mirror {
		from ^= 56
		to ^= 56
	}
	switch m.Promotion() {
	case 2, 3, 4: // knight, bishop, rook
		var dir = to%8 - from%8 + 1
		return underPromoBase + (from%8)*9 + dir*3 + (m.Promotion() - 2)
	}
	return from*64 + to
}

// PolicyIndex is MoveIndex with the mirroring taken from the position.
func (p *Position) PolicyIndex(m Move) int {
	return MoveIndex(m, !p.board.Wtomove)
}
