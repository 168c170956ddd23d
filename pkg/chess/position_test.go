package chess

import (
	"testing"
)

var testFENs = []string{
	"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
	"r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1",
	"8/2p5/3p4/KP5r/1R3p1k/8/4P1P1/8 w - - 0 1",
	"8/p1P5/P7/3p4/5p1p/3p1P1P/K2p2pp/3R2nk w - - 0 1",
	"8/7p/p5pb/4k3/P1pPn3/8/P5PP/1rB2RK1 b - d3 0 28",
	"rnb1kbnr/pp1ppppp/8/1q6/2PpP3/5N2/PP3PPP/RNBQ1K1R b kq c3 0 6",
	"4k3/4Q3/4K3/8/8/8/8/8 w - - 0 1",
	"7k/8/6Q1/6K1/8/8/8/8 b - - 0 1",
}

func TestApplyIsPure(t *testing.T) {
	var p = MustPosition(InitialPositionFEN)
	var fen = p.FEN()
	var moves = p.LegalMoves()
	if len(moves) != 20 {
		t.Fatalf("startpos legal moves: got %v", len(moves))
	}
	for _, m := range moves {
		var child, ok = p.Apply(m)
		if !ok {
			t.Fatalf("legal move rejected: %v", m)
		}
		if child.Prev() != p || child.LastMove() != m {
			t.Errorf("child chain broken for %v", m)
		}
	}
	if p.FEN() != fen {
		t.Errorf("apply mutated parent: %v", p.FEN())
	}
}

func TestIllegalMoveRejected(t *testing.T) {
	var p = MustPosition(InitialPositionFEN)
	if _, ok := p.ApplyUCI("e2e5"); ok {
		t.Error("e2e5 accepted from startpos")
	}
	if _, ok := p.ApplyUCI("xyzw"); ok {
		t.Error("garbage move accepted")
	}
}

func TestMateAndStalemate(t *testing.T) {
	var mate = MustPosition("4k3/4Q3/4K3/8/8/8/8/8 w - - 0 1")
	var child, ok = mate.ApplyUCI("e7e8")
	if !ok {
		t.Fatal("e7e8 rejected")
	}
	if child.Outcome() != Loss {
		t.Errorf("mate outcome: got %v", child.Outcome())
	}
	var stalemate = MustPosition("7k/8/6Q1/6K1/8/8/8/8 b - - 0 1")
	if stalemate.Outcome() != Draw {
		t.Errorf("stalemate outcome: got %v", stalemate.Outcome())
	}
}

func TestRepetitionDraw(t *testing.T) {
	var p = MustPosition(InitialPositionFEN)
	var shuffle = []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	for round := 0; round < 2; round++ {
		for _, s := range shuffle {
			var next, ok = p.ApplyUCI(s)
			if !ok {
				t.Fatalf("apply %v", s)
			}
			p = next
		}
	}
	if p.Repetitions() != 2 {
		t.Errorf("repetitions: got %v want 2", p.Repetitions())
	}
	if p.Outcome() != Draw {
		t.Errorf("threefold outcome: got %v", p.Outcome())
	}
	if p.SearchOutcome() != Draw {
		t.Errorf("search outcome: got %v", p.SearchOutcome())
	}
}

func TestFiftyMoveCounter(t *testing.T) {
	var p = MustPosition("8/8/8/3k4/8/4P3/2P5/4K3 w - - 98 70")
	var next, ok = p.ApplyUCI("e1d1")
	if !ok {
		t.Fatal("e1d1 rejected")
	}
	if next.Rule50() != 99 {
		t.Errorf("rule50: got %v", next.Rule50())
	}
	next, ok = next.ApplyUCI("d5e4")
	if !ok {
		t.Fatal("d5e4 rejected")
	}
	if next.Outcome() != Draw {
		t.Errorf("fifty-move outcome: got %v", next.Outcome())
	}
	// A pawn move resets the counter instead.
	var reset, ok2 = p.ApplyUCI("e3e4")
	if !ok2 {
		t.Fatal("e3e4 rejected")
	}
	if reset.Rule50() != 0 {
		t.Errorf("rule50 after pawn move: got %v", reset.Rule50())
	}
}

func TestInsufficientMaterial(t *testing.T) {
	var tests = []struct {
		fen  string
		draw bool
	}{
		{"4k3/8/8/8/8/8/8/4K3 w - - 0 1", true},
		{"4k3/8/8/8/8/8/8/3NK3 w - - 0 1", true},
		{"4k3/8/8/8/8/8/8/3BK3 w - - 0 1", true},
		{"3bk3/8/8/8/8/8/8/3BK3 w - - 0 1", false}, // opposite-colored bishops
		{"4k3/8/8/8/8/8/4P3/4K3 w - - 0 1", false},
	}
	for _, test := range tests {
		var p = MustPosition(test.fen)
		var got = p.Outcome() == Draw
		if got != test.draw {
			t.Errorf("%v: draw=%v", test.fen, got)
		}
	}
}

func TestFingerprintDisambiguatesHistory(t *testing.T) {
	// Same board, different repetition counts must not share a fingerprint.
	var p = MustPosition(InitialPositionFEN)
	var shuffle = []string{"g1f3", "g8f6", "f3g1", "f6g8"}
	var base = p.Fingerprint()
	for _, s := range shuffle {
		var next, _ = p.ApplyUCI(s)
		p = next
	}
	if p.Key() != MustPosition(InitialPositionFEN).Key() {
		t.Fatal("board keys expected to transpose")
	}
	if p.Fingerprint() == base {
		t.Error("fingerprint ignores repetition history")
	}
	if p.VerifyKey() == MustPosition(InitialPositionFEN).VerifyKey() {
		t.Error("verify key ignores repetition history")
	}
}

func TestFingerprintStable(t *testing.T) {
	for _, fen := range testFENs {
		var a = MustPosition(fen)
		var b = MustPosition(fen)
		if a.Fingerprint() != b.Fingerprint() {
			t.Errorf("%v: fingerprint not deterministic", fen)
		}
		if a.VerifyKey() != b.VerifyKey() {
			t.Errorf("%v: verify key not deterministic", fen)
		}
	}
}

func TestCastlingRightsTracking(t *testing.T) {
	var p = MustPosition("r3k2r/p1ppqpb1/bn2pnp1/3PN3/1p2P3/2N2Q1p/PPPBBPPP/R3K2R w KQkq - 0 1")
	var afterKing, _ = p.ApplyUCI("e1g1")
	if afterKing.castling.whiteShort || afterKing.castling.whiteLong {
		t.Error("white rights survive castling")
	}
	if !afterKing.castling.blackShort || !afterKing.castling.blackLong {
		t.Error("black rights lost on white castle")
	}
	var afterRook, _ = p.ApplyUCI("h1g1")
	if afterRook.castling.whiteShort {
		t.Error("kingside right survives rook move")
	}
	if !afterRook.castling.whiteLong {
		t.Error("queenside right lost on h-rook move")
	}
}
