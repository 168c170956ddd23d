package chess

import (
	"strings"

	dragon "github.com/dylhunn/dragontoothmg"
	"github.com/pkg/errors"
)

const InitialPositionFEN = dragon.Startpos

// Outcome is the game result seen from the side to move.
type Outcome int8

const (
	Ongoing Outcome = iota
	Loss
	Draw
	Win
)

func (o Outcome) String() string {
	switch o {
	case Loss:
		return "loss"
	case Draw:
		return "draw"
	case Win:
		return "win"
	}
	return "ongoing"
}

// Position is an immutable chess position. Apply returns a fresh value and
// links it to its predecessor, so a Position carries the whole move chain it
// was built from. Repetition counting and plane encoding read that chain;
// threefold detection is exact over the moves the controller supplied.
type Position struct {
	board    dragon.Board
	prev     *Position
	lastMove Move
	key      uint64
	castling castlingRights
	epFile   int8
	rule50   int16
	ply      int16
}

type castlingRights struct {
	whiteShort, whiteLong bool
	blackShort, blackLong bool
}

func NewPositionFromFEN(fen string) (*Position, error) {
	var fields = strings.Fields(fen)
	if len(fields) < 4 {
		return nil, errors.Errorf("chess: malformed fen %q", fen)
	}
	var board, parseErr = parseFen(fen)
	if parseErr != nil {
		return nil, parseErr
	}
	var p = &Position{
		board:  board,
		epFile: -1,
	}
	if len(fields) >= 5 {
		p.rule50 = int16(parseSmallInt(fields[4]))
	}
	for _, ch := range fields[2] {
		switch ch {
		case 'K':
			p.castling.whiteShort = true
		case 'Q':
			p.castling.whiteLong = true
		case 'k':
			p.castling.blackShort = true
		case 'q':
			p.castling.blackLong = true
		}
	}
	if fields[3] != "-" {
		p.epFile = int8(fields[3][0] - 'a')
	}
	p.key = p.board.Hash()
	return p, nil
}

func MustPosition(fen string) *Position {
	var p, err = NewPositionFromFEN(fen)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Position) WhiteToMove() bool { return p.board.Wtomove }
func (p *Position) Key() uint64       { return p.key }
func (p *Position) Rule50() int       { return int(p.rule50) }
func (p *Position) Ply() int          { return int(p.ply) }
func (p *Position) LastMove() Move    { return p.lastMove }
func (p *Position) Prev() *Position   { return p.prev }
func (p *Position) FEN() string       { return p.board.ToFen() }

func (p *Position) LegalMoves() []Move {
	var inner = p.board.GenerateLegalMoves()
	var moves = make([]Move, len(inner))
	for i, m := range inner {
		moves[i] = Move(m)
	}
	return moves
}

func (p *Position) InCheck() bool {
	return p.board.OurKingInCheck()
}

// Apply plays a move on a copy of the position. The receiver is not modified.
// Returns false when the move is not legal in this position.
func (p *Position) Apply(m Move) (*Position, bool) {
	var legal = false
	for _, lm := range p.board.GenerateLegalMoves() {
		if Move(lm) == m {
			legal = true
			break
		}
	}
	if !legal {
		return nil, false
	}
	var board = p.board
	board.Apply(dragon.Move(m))

	var child = &Position{
		board:    board,
		prev:     p,
		lastMove: m,
		castling: p.castling,
		epFile:   -1,
		ply:      p.ply + 1,
	}
	child.rule50 = p.rule50 + 1
	var from, to = m.From(), m.To()
	var moverPawns = p.ourPawns()
	if moverPawns&(uint64(1)<<from) != 0 {
		child.rule50 = 0
		if to-from == 16 || from-to == 16 {
			child.epFile = int8(from % 8)
		}
	} else if p.occupied()&(uint64(1)<<to) != 0 {
		child.rule50 = 0
	}
	child.updateCastlingRights(from, to, p.board.Wtomove)
	child.key = child.board.Hash()
	return child, true
}

// ApplyUCI plays a move given in coordinate notation ("e2e4", "a7a8q").
func (p *Position) ApplyUCI(s string) (*Position, bool) {
	var m, ok = p.ParseMove(s)
	if !ok {
		return nil, false
	}
	return p.Apply(m)
}

func (p *Position) updateCastlingRights(from, to uint8, whiteMoved bool) {
	const (
		squareA1 = 0
		squareE1 = 4
		squareH1 = 7
		squareA8 = 56
		squareE8 = 60
		squareH8 = 63
	)
	if whiteMoved {
		if from == squareE1 {
			p.castling.whiteShort = false
			p.castling.whiteLong = false
		}
		if from == squareA1 {
			p.castling.whiteLong = false
		}
		if from == squareH1 {
			p.castling.whiteShort = false
		}
		if to == squareA8 {
			p.castling.blackLong = false
		}
		if to == squareH8 {
			p.castling.blackShort = false
		}
	} else {
		if from == squareE8 {
			p.castling.blackShort = false
			p.castling.blackLong = false
		}
		if from == squareA8 {
			p.castling.blackLong = false
		}
		if from == squareH8 {
			p.castling.blackShort = false
		}
		if to == squareA1 {
			p.castling.whiteLong = false
		}
		if to == squareH1 {
			p.castling.whiteShort = false
		}
	}
}

func (p *Position) ourPawns() uint64 {
	if p.board.Wtomove {
		return p.board.White.Pawns
	}
	return p.board.Black.Pawns
}

func (p *Position) occupied() uint64 {
	return p.board.White.All | p.board.Black.All
}

// Repetitions counts how many earlier positions in the chain share this
// position's key. The walk stops at the last irreversible move.
func (p *Position) Repetitions() int {
	var count = 0
	var plies = int(p.rule50)
	for q := p.prev; q != nil && plies > 0; q = q.prev {
		plies--
		if q.key == p.key {
			count++
		}
	}
	return count
}

// Outcome applies the full over-the-board rules: checkmate, stalemate,
// fifty-move rule, threefold repetition and insufficient material.
func (p *Position) Outcome() Outcome {
	if len(p.board.GenerateLegalMoves()) == 0 {
		if p.board.OurKingInCheck() {
			return Loss
		}
		return Draw
	}
	if p.rule50 >= 100 {
		return Draw
	}
	if p.Repetitions() >= 2 {
		return Draw
	}
	if p.insufficientMaterial() {
		return Draw
	}
	return Ongoing
}

// SearchOutcome is the terminal rule used inside a search tree: any single
// repetition of an ancestor counts as a draw, because optimal play can force
// the full threefold from there.
func (p *Position) SearchOutcome() Outcome {
	if len(p.board.GenerateLegalMoves()) == 0 {
		if p.board.OurKingInCheck() {
			return Loss
		}
		return Draw
	}
	if p.rule50 >= 100 {
		return Draw
	}
	if p.Repetitions() >= 1 {
		return Draw
	}
	if p.insufficientMaterial() {
		return Draw
	}
	return Ongoing
}

func (p *Position) insufficientMaterial() bool {
	var w, b = p.board.White, p.board.Black
	if w.Pawns|b.Pawns|w.Rooks|b.Rooks|w.Queens|b.Queens != 0 {
		return false
	}
	var minors = popcount(w.Knights | w.Bishops | b.Knights | b.Bishops)
	if minors <= 1 {
		return true
	}
	// Two same-colored bishops and nothing else cannot mate.
	if w.Knights|b.Knights == 0 && minors == 2 {
		var bishops = w.Bishops | b.Bishops
		const lightSquares = 0x55AA55AA55AA55AA
		return bishops&lightSquares == 0 || bishops&^uint64(lightSquares) == 0
	}
	return false
}

// PieceCount is used by the tablebase layer to gate probes.
func (p *Position) PieceCount() int {
	return popcount(p.occupied())
}

func popcount(b uint64) int {
	var n int
	for ; b != 0; b &= b - 1 {
		n++
	}
	return n
}

func parseSmallInt(s string) int {
	var n = 0
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
		if n > 1000 {
			return 1000
		}
	}
	return n
}

// parseFen shields callers from dragontooth's panic on malformed input.
func parseFen(fen string) (board dragon.Board, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("chess: parse fen %q: %v", fen, r)
		}
	}()
	board = dragon.ParseFen(fen)
	return board, nil
}
