package checkers

// ClockPolicy selects how clocks advance between moves
type ClockPolicy string

const (
	// ClockTotalBudget gives each side a fixed budget for the whole game
	ClockTotalBudget ClockPolicy = "total_budget"
	// ClockPerMoveReset resets the mover's clock to the turn budget after
	// every accepted move
	ClockPerMoveReset ClockPolicy = "per_move_reset"
)

// CaptureDirection controls whether non-king jumps may go backward
type CaptureDirection string

const (
	CaptureForwardOnly CaptureDirection = "forward_only"
	CaptureAny         CaptureDirection = "any"
)

// Rules parameterizes the historical rule variants: clocks, kings and
// capture direction. Chained jumps and forced captures are out: every
// jump is a complete turn.
type Rules struct {
	ClockPolicy         ClockPolicy
	KingsEnabled        bool
	CaptureDirection    CaptureDirection
	InitialClockSeconds int
	TurnBudgetSeconds   int
}

// DefaultRules matches the live configuration: 5-minute total budget per
// side, kings enabled, forward-only captures for non-kings.
func DefaultRules() Rules {
	return Rules{
		ClockPolicy:         ClockTotalBudget,
		KingsEnabled:        true,
		CaptureDirection:    CaptureForwardOnly,
		InitialClockSeconds: 300,
		TurnBudgetSeconds:   120,
	}
}

// Move is a (from, to) square pair
type Move struct {
	FromRow int `json:"from_row"`
	FromCol int `json:"from_col"`
	ToRow   int `json:"to_row"`
	ToCol   int `json:"to_col"`
}

// MoveResult describes what an accepted move did
type MoveResult struct {
	Captured bool
	Promoted bool
}

// forward reports whether a row delta moves the color toward its far rank.
// Black advances toward higher row indices, red toward lower.
func forward(color Color, dr int) bool {
	if color == Black {
		return dr > 0
	}
	return dr < 0
}

// farRank is the promotion row for the color
func farRank(color Color) int {
	if color == Black {
		return BoardSize - 1
	}
	return 0
}

// Validate checks a move for the given mover without touching the board.
// On a valid jump it also returns the square of the captured piece.
func Validate(b *Board, m Move, mover Color, rules Rules) (capRow, capCol int, capture, ok bool) {
	if !InBounds(m.FromRow, m.FromCol) || !InBounds(m.ToRow, m.ToCol) {
		return 0, 0, false, false
	}
	piece := b[m.FromRow][m.FromCol]
	if piece == nil || piece.Color != mover {
		return 0, 0, false, false
	}
	if b[m.ToRow][m.ToCol] != nil {
		return 0, 0, false, false
	}

	dr := m.ToRow - m.FromRow
	dc := m.ToCol - m.FromCol
	isKing := piece.King && rules.KingsEnabled

	// Simple diagonal step
	if abs(dr) == 1 && abs(dc) == 1 {
		if !isKing && !forward(mover, dr) {
			return 0, 0, false, false
		}
		return 0, 0, false, true
	}

	// Jump over an opposing piece
	if abs(dr) == 2 && abs(dc) == 2 {
		if !isKing && rules.CaptureDirection == CaptureForwardOnly && !forward(mover, dr) {
			return 0, 0, false, false
		}
		midRow := m.FromRow + dr/2
		midCol := m.FromCol + dc/2
		mid := b[midRow][midCol]
		if mid == nil || mid.Color == mover {
			return 0, 0, false, false
		}
		return midRow, midCol, true, true
	}

	return 0, 0, false, false
}

// Apply validates and applies a move, returning a fresh board. The input
// board is never mutated; an invalid move returns ok=false and no copy.
func Apply(b *Board, m Move, mover Color, rules Rules) (*Board, MoveResult, bool) {
	capRow, capCol, capture, ok := Validate(b, m, mover, rules)
	if !ok {
		return nil, MoveResult{}, false
	}

	next := b.Clone()
	piece := next[m.FromRow][m.FromCol]
	next[m.FromRow][m.FromCol] = nil
	next[m.ToRow][m.ToCol] = piece

	res := MoveResult{Captured: capture}
	if capture {
		next[capRow][capCol] = nil
	}
	if rules.KingsEnabled && !piece.King && m.ToRow == farRank(mover) {
		piece.King = true
		res.Promoted = true
	}
	return next, res, true
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
