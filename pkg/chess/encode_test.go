package chess

import (
	"testing"
)

func TestEncodeDeterministic(t *testing.T) {
	for _, fen := range testFENs {
		var a = MustPosition(fen).Encode()
		var b = MustPosition(fen).Encode()
		if *a != *b {
			t.Errorf("%v: encoding not deterministic", fen)
		}
	}
}

func TestEncodeStartpos(t *testing.T) {
	var p = MustPosition(InitialPositionFEN)
	var planes = p.Encode()
	// Our pawns on rank 2.
	if planes[0].Mask != 0x000000000000FF00 {
		t.Errorf("pawn plane: %x", planes[0].Mask)
	}
	// Their pawns on rank 7 from white's perspective.
	if planes[6].Mask != 0x00FF000000000000 {
		t.Errorf("their pawn plane: %x", planes[6].Mask)
	}
	for i := 0; i < 4; i++ {
		if planes[planeCastleBase+i].Mask == 0 {
			t.Errorf("castle plane %v empty at startpos", i)
		}
	}
	if planes[planeSideToMove].Mask != 0 {
		t.Error("side-to-move plane set for white")
	}
	if planes[planeZeros].Mask != 0 {
		t.Error("reserved plane not zero")
	}
	if planes[planeOnes].Mask == 0 {
		t.Error("ones plane empty")
	}
	// No history yet: slot 1 must be empty.
	if planes[planesPerSlot].Mask != 0 {
		t.Error("history slot 1 populated without history")
	}
}

func TestEncodeMirrorsForBlack(t *testing.T) {
	var p, _ = MustPosition(InitialPositionFEN).ApplyUCI("e2e4")
	var planes = p.Encode()
	// Black to move: our pawns are black's, mirrored onto rank 2.
	if planes[0].Mask != 0x000000000000FF00 {
		t.Errorf("mirrored pawn plane: %x", planes[0].Mask)
	}
	if planes[planeSideToMove].Mask == 0 {
		t.Error("side-to-move plane empty for black")
	}
	// History slot 1 holds the startpos, mirrored the same way.
	if planes[planesPerSlot].Mask != 0x000000000000FF00 {
		t.Errorf("history pawn plane: %x", planes[planesPerSlot].Mask)
	}
}

func TestEncodeRule50Plane(t *testing.T) {
	var p = MustPosition("8/8/8/3k4/8/4P3/2P5/4K3 w - - 42 70")
	var planes = p.Encode()
	if planes[planeRule50].Value != 42 {
		t.Errorf("rule50 plane: %v", planes[planeRule50].Value)
	}
}

func TestMoveIndexUnique(t *testing.T) {
	for _, fen := range testFENs {
		var p = MustPosition(fen)
		var seen = make(map[int]Move)
		for _, m := range p.LegalMoves() {
			var idx = p.PolicyIndex(m)
			if idx < 0 || idx >= NumMoveIndices {
				t.Fatalf("%v: index out of range %v", fen, idx)
			}
			if prev, ok := seen[idx]; ok {
				t.Errorf("%v: %v and %v share index %v", fen, prev, m, idx)
			}
			seen[idx] = m
		}
	}
}

func TestMoveIndexMirrorSymmetry(t *testing.T) {
	// The same shape of move must index identically for both colors.
	var white = MustPosition(InitialPositionFEN)
	var black, _ = white.ApplyUCI("e2e4")
	var wm, _ = white.ParseMove("g1f3")
	var bm, _ = black.ParseMove("g8f6")
	if white.PolicyIndex(wm) != black.PolicyIndex(bm) {
		t.Errorf("mirror symmetry broken: %v vs %v",
			white.PolicyIndex(wm), black.PolicyIndex(bm))
	}
}

func TestUnderpromotionIndices(t *testing.T) {
	var p = MustPosition("5kn1/7P/8/8/8/8/8/4K3 w - - 0 1")
	var seen = make(map[int]Move)
	for _, m := range p.LegalMoves() {
		if m.Promotion() == 0 {
			continue
		}
		var idx = p.PolicyIndex(m)
		if m.Promotion() != 5 && idx < underPromoBase {
			t.Errorf("underpromotion %v below block: %v", m, idx)
		}
		if prev, ok := seen[idx]; ok {
			t.Errorf("%v and %v share index %v", prev, m, idx)
		}
		seen[idx] = m
	}
}
