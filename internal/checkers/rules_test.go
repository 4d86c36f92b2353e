package checkers

import "testing"

// emptyBoard returns a board with no pieces
func emptyBoard() *Board {
	return &Board{}
}

func place(b *Board, row, col int, color Color, king bool) {
	b[row][col] = &Piece{Color: color, King: king}
}

func TestInitialFormation(t *testing.T) {
	b := NewBoard()

	if got := b.CountPieces(Black); got != 12 {
		t.Errorf("expected 12 black pieces, got %d", got)
	}
	if got := b.CountPieces(Red); got != 12 {
		t.Errorf("expected 12 red pieces, got %d", got)
	}

	// Pieces only on dark squares
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if b[r][c] != nil && (r+c)%2 == 0 {
				t.Errorf("piece on light square (%d,%d)", r, c)
			}
		}
	}

	// Black rows 0-2, red rows 5-7
	if b[0][1] == nil || b[0][1].Color != Black {
		t.Error("expected black piece at (0,1)")
	}
	if b[5][2] == nil || b[5][2].Color != Red {
		t.Error("expected red piece at (5,2)")
	}
	if b[3][0] != nil || b[4][1] != nil {
		t.Error("middle rows should be empty")
	}
}

func TestSimpleStepForward(t *testing.T) {
	rules := DefaultRules()
	b := NewBoard()

	next, res, ok := Apply(b, Move{2, 1, 3, 2}, Black, rules)
	if !ok {
		t.Fatal("expected legal black step (2,1)->(3,2)")
	}
	if res.Captured || res.Promoted {
		t.Errorf("simple step should not capture or promote: %+v", res)
	}
	if next[3][2] == nil || next[3][2].Color != Black {
		t.Error("piece did not arrive at destination")
	}
	if next[2][1] != nil {
		t.Error("origin square should be empty")
	}
	// Input board untouched
	if b[2][1] == nil || b[3][2] != nil {
		t.Error("Apply mutated the input board")
	}
}

func TestBackwardStepRejectedForNonKing(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 4, 3, Black, false)

	if _, _, ok := Apply(b, Move{4, 3, 3, 2}, Black, rules); ok {
		t.Error("non-king black must not step backward")
	}

	place(b, 4, 5, Red, false)
	if _, _, ok := Apply(b, Move{4, 5, 5, 6}, Red, rules); ok {
		t.Error("non-king red must not step backward")
	}
}

func TestKingStepsEitherDirection(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 4, 3, Black, true)

	if _, _, ok := Apply(b, Move{4, 3, 3, 2}, Black, rules); !ok {
		t.Error("king should step backward")
	}
	if _, _, ok := Apply(b, Move{4, 3, 5, 4}, Black, rules); !ok {
		t.Error("king should step forward")
	}
}

func TestIllegalDestinationsRejected(t *testing.T) {
	rules := DefaultRules()
	b := NewBoard()

	cases := []Move{
		{2, 1, 4, 1},  // straight two rows
		{2, 1, 2, 3},  // sideways
		{2, 1, 3, 1},  // straight one row
		{2, 1, 1, 0},  // backward
		{2, 1, 4, 3},  // jump without victim
		{0, 1, 1, 2},  // destination occupied
		{3, 0, 4, 1},  // no piece at origin
		{2, 1, -1, 0}, // out of range
	}
	for _, m := range cases {
		if _, _, ok := Apply(b, m, Black, rules); ok {
			t.Errorf("move %+v should have been rejected", m)
		}
	}
}

func TestMovingOpponentPieceRejected(t *testing.T) {
	rules := DefaultRules()
	b := NewBoard()

	if _, _, ok := Apply(b, Move{5, 2, 4, 3}, Black, rules); ok {
		t.Error("black must not move a red piece")
	}
}

func TestJumpCapturesExactlyOnePiece(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 2, 1, Black, false)
	place(b, 3, 2, Red, false)

	before := b.CountPieces(Black) + b.CountPieces(Red)

	next, res, ok := Apply(b, Move{2, 1, 4, 3}, Black, rules)
	if !ok {
		t.Fatal("expected legal jump (2,1)->(4,3)")
	}
	if !res.Captured {
		t.Error("jump should report a capture")
	}
	if next[3][2] != nil {
		t.Error("captured piece should be removed")
	}
	if next[4][3] == nil || next[4][3].Color != Black {
		t.Error("jumping piece should land on destination")
	}

	after := next.CountPieces(Black) + next.CountPieces(Red)
	if after != before-1 {
		t.Errorf("piece count should drop by exactly one: before=%d after=%d", before, after)
	}
}

func TestJumpOverOwnPieceRejected(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 2, 1, Black, false)
	place(b, 3, 2, Black, false)

	if _, _, ok := Apply(b, Move{2, 1, 4, 3}, Black, rules); ok {
		t.Error("jump over own piece should be rejected")
	}
}

func TestBackwardJumpPolicies(t *testing.T) {
	b := emptyBoard()
	place(b, 4, 3, Black, false)
	place(b, 3, 2, Red, false)

	rules := DefaultRules() // forward only
	if _, _, ok := Apply(b, Move{4, 3, 2, 1}, Black, rules); ok {
		t.Error("backward jump should be rejected under forward-only captures")
	}

	rules.CaptureDirection = CaptureAny
	if _, _, ok := Apply(b, Move{4, 3, 2, 1}, Black, rules); !ok {
		t.Error("backward jump should be legal under any-direction captures")
	}
}

func TestKingPromotion(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 6, 1, Black, false)

	next, res, ok := Apply(b, Move{6, 1, 7, 2}, Black, rules)
	if !ok {
		t.Fatal("expected legal step to back rank")
	}
	if !res.Promoted {
		t.Error("reaching row 7 should promote black")
	}
	if !next[7][2].King {
		t.Error("piece on back rank should be a king")
	}

	// Already a king: still a king, not re-promoted
	b2 := emptyBoard()
	place(b2, 6, 1, Black, true)
	next2, res2, ok := Apply(b2, Move{6, 1, 7, 2}, Black, rules)
	if !ok {
		t.Fatal("expected legal king step")
	}
	if res2.Promoted {
		t.Error("existing king should not report promotion")
	}
	if !next2[7][2].King {
		t.Error("king should stay a king")
	}
}

func TestRedPromotionAtRowZero(t *testing.T) {
	rules := DefaultRules()
	b := emptyBoard()
	place(b, 1, 2, Red, false)

	next, res, ok := Apply(b, Move{1, 2, 0, 1}, Red, rules)
	if !ok {
		t.Fatal("expected legal red step to row 0")
	}
	if !res.Promoted || !next[0][1].King {
		t.Error("red should promote at row 0")
	}
}

func TestNoPromotionWhenKingsDisabled(t *testing.T) {
	rules := DefaultRules()
	rules.KingsEnabled = false
	b := emptyBoard()
	place(b, 6, 1, Black, false)

	next, res, ok := Apply(b, Move{6, 1, 7, 2}, Black, rules)
	if !ok {
		t.Fatal("expected legal step")
	}
	if res.Promoted || next[7][2].King {
		t.Error("promotion should be off when kings are disabled")
	}
}

func TestWinnerDetection(t *testing.T) {
	b := emptyBoard()
	place(b, 4, 3, Black, false)

	// Red to move with zero pieces: black wins
	winner, over := Winner(b, Red)
	if !over || winner != Black {
		t.Errorf("expected black winner, got %q over=%v", winner, over)
	}

	// Both sides present: no winner
	place(b, 5, 2, Red, false)
	if _, over := Winner(b, Red); over {
		t.Error("no winner while both sides have pieces")
	}
}

func TestClockTickFloorsAtZero(t *testing.T) {
	c := Clocks{Black: 1, Red: 5}

	c = c.Tick(Black)
	if c.Black != 0 {
		t.Errorf("black clock should reach 0, got %d", c.Black)
	}
	for i := 0; i < 3; i++ {
		c = c.Tick(Black)
	}
	if c.Black != 0 {
		t.Errorf("clock must never go below 0, got %d", c.Black)
	}
	if c.Red != 5 {
		t.Errorf("red clock should be untouched, got %d", c.Red)
	}
	if !c.Expired(Black) {
		t.Error("black should be expired at 0")
	}
}

func TestClockAfterMovePolicies(t *testing.T) {
	rules := DefaultRules()
	c := Clocks{Black: 250, Red: 270}

	// Total budget: unchanged
	if got := c.AfterMove(Black, rules); got != c {
		t.Errorf("total-budget clocks should carry unchanged, got %+v", got)
	}

	// Per-move reset: mover goes back to the turn budget
	rules.ClockPolicy = ClockPerMoveReset
	got := c.AfterMove(Black, rules)
	if got.Black != rules.TurnBudgetSeconds {
		t.Errorf("mover clock should reset to %d, got %d", rules.TurnBudgetSeconds, got.Black)
	}
	if got.Red != 270 {
		t.Errorf("opponent clock should carry, got %d", got.Red)
	}
}
