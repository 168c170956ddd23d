package mcts

import (
	"github.com/pkg/errors"

	"github.com/DmitryFilippov/Lumina/pkg/chess"
)

// Tree owns the root node and remembers how it was positioned, so the next
// `position` command can be recognised as a continuation of the same game
// and the played subtree reused instead of rebuilt.
type Tree struct {
	root     *Node
	headPos  *chess.Position
	lastFEN  string
	lastUCIs []string
}

func NewTree() *Tree {
	return &Tree{}
}

func (t *Tree) Root() *Node { return t.root }

// HeadPosition is the position at the current root.
func (t *Tree) HeadPosition() *chess.Position { return t.headPos }

// ResetToPosition points the tree at fen+moves. When the new head extends
// the previous one within the same game, the tree is trimmed along the extra
// moves and the surviving subtree keeps its statistics; sameGame reports
// whether that happened.
func (t *Tree) ResetToPosition(fen string, uciMoves []string) (sameGame bool, err error) {
	var pos, posErr = chess.NewPositionFromFEN(fen)
	if posErr != nil {
		return false, posErr
	}
	for _, s := range uciMoves {
		var next, ok = pos.ApplyUCI(s)
		if !ok {
			return false, errors.Errorf("mcts: illegal move %q", s)
		}
		pos = next
	}

	sameGame = t.root != nil &&
		fen == t.lastFEN &&
		len(uciMoves) >= len(t.lastUCIs) &&
		equalPrefix(uciMoves, t.lastUCIs)
	if sameGame {
		for _, s := range uciMoves[len(t.lastUCIs):] {
			var m, ok = t.headPos.ParseMove(s)
			if !ok || !t.TrimTo(m) {
				sameGame = false
				break
			}
		}
	}
	if !sameGame {
		t.root = newNode(nil)
		t.headPos = pos
	}
	// The freshly parsed chain carries the exact history the controller
	// gave us; prefer it over the incrementally advanced one.
	t.headPos = pos
	t.lastFEN = fen
	t.lastUCIs = append([]string(nil), uciMoves...)
	return sameGame, nil
}

func equalPrefix(longer, prefix []string) bool {
	for i := range prefix {
		if longer[i] != prefix[i] {
			return false
		}
	}
	return true
}

// TrimTo reseats the root on the played move's child. Siblings and their
// subtrees are dropped in one pointer swap.
func (t *Tree) TrimTo(move chess.Move) bool {
	if t.root == nil || !t.root.IsExpanded() {
		return false
	}
	for i := range t.root.edges {
		var e = &t.root.edges[i]
		if e.Move == move {
			var child = e.Child
			if child == nil {
				return false
			}
			child.parent = nil
			t.root = child
			var next, ok = t.headPos.Apply(move)
			if !ok {
				return false
			}
			t.headPos = next
			return true
		}
	}
	return false
}

// Clear drops the whole tree.
func (t *Tree) Clear() {
	t.root = nil
	t.headPos = nil
	t.lastFEN = ""
	t.lastUCIs = nil
}

// PrincipalVariation follows the most-visited child chain from the root.
func (t *Tree) PrincipalVariation(limit int) []chess.Move {
	var pv []chess.Move
	var node = t.root
	for node != nil && node.IsExpanded() && node.terminal == TerminalNone && len(pv) < limit {
		var best *Edge
		var bestN = int64(-1)
		for i := range node.edges {
			var e = &node.edges[i]
			var n = int64(0)
			if e.Child != nil {
				n = e.Child.N()
			}
			if n > bestN {
				bestN = n
				best = e
			}
		}
		if best == nil || bestN == 0 {
			break
		}
		pv = append(pv, best.Move)
		node = best.Child
	}
	return pv
}
