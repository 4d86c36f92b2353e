package checkers

// BoardSize is the side length of the board
const BoardSize = 8

// Color identifies a side
type Color string

const (
	Black Color = "black"
	Red   Color = "red"
)

// Opponent returns the other side
func (c Color) Opponent() Color {
	if c == Black {
		return Red
	}
	return Black
}

// Piece is a single checker on the board
type Piece struct {
	Color Color `json:"color"`
	King  bool  `json:"king,omitempty"`
}

// Board is an 8x8 grid; nil means empty square.
// Pieces only ever occupy dark squares, i.e. (row+col)%2 == 1.
type Board [BoardSize][BoardSize]*Piece

// NewBoard returns a board in the standard starting formation:
// black on rows 0-2, red on rows 5-7, dark squares only.
func NewBoard() *Board {
	var b Board
	for r := 0; r < 3; r++ {
		for c := 0; c < BoardSize; c++ {
			if (r+c)%2 == 1 {
				b[r][c] = &Piece{Color: Black}
			}
		}
	}
	for r := 5; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if (r+c)%2 == 1 {
				b[r][c] = &Piece{Color: Red}
			}
		}
	}
	return &b
}

// Clone returns a deep copy; pieces are copied, not aliased
func (b *Board) Clone() *Board {
	var next Board
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if p := b[r][c]; p != nil {
				cp := *p
				next[r][c] = &cp
			}
		}
	}
	return &next
}

// PieceAt returns the piece on (row, col), or nil for empty or out-of-range
func (b *Board) PieceAt(row, col int) *Piece {
	if !InBounds(row, col) {
		return nil
	}
	return b[row][col]
}

// CountPieces returns how many pieces of the given color remain
func (b *Board) CountPieces(color Color) int {
	n := 0
	for r := 0; r < BoardSize; r++ {
		for c := 0; c < BoardSize; c++ {
			if p := b[r][c]; p != nil && p.Color == color {
				n++
			}
		}
	}
	return n
}

// InBounds reports whether (row, col) is on the board
func InBounds(row, col int) bool {
	return row >= 0 && row < BoardSize && col >= 0 && col < BoardSize
}

// Winner checks the terminal condition after a move: if the side now to
// move has no pieces left, the side that just moved wins.
func Winner(b *Board, sideToMove Color) (Color, bool) {
	if b.CountPieces(sideToMove) == 0 {
		return sideToMove.Opponent(), true
	}
	return "", false
}
