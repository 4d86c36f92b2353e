package checkers

// Clocks holds remaining seconds per side
type Clocks struct {
	Black int `json:"black"`
	Red   int `json:"red"`
}

// NewClocks returns both sides at the initial budget
func NewClocks(rules Rules) Clocks {
	return Clocks{Black: rules.InitialClockSeconds, Red: rules.InitialClockSeconds}
}

// Remaining returns the seconds left for the given side
func (c Clocks) Remaining(color Color) int {
	if color == Black {
		return c.Black
	}
	return c.Red
}

// Tick decrements the side to move by one second, flooring at zero
func (c Clocks) Tick(turn Color) Clocks {
	if turn == Black {
		c.Black = max(0, c.Black-1)
	} else {
		c.Red = max(0, c.Red-1)
	}
	return c
}

// AfterMove derives the clock snapshot carried on a move event. Under the
// per-move-reset policy the mover's clock goes back to the turn budget;
// under a total budget the snapshot is carried unchanged.
func (c Clocks) AfterMove(mover Color, rules Rules) Clocks {
	if rules.ClockPolicy != ClockPerMoveReset {
		return c
	}
	if mover == Black {
		c.Black = rules.TurnBudgetSeconds
	} else {
		c.Red = rules.TurnBudgetSeconds
	}
	return c
}

// Expired reports whether the given side has run out of time
func (c Clocks) Expired(color Color) bool {
	return c.Remaining(color) == 0
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
