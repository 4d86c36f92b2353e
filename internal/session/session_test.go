package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/playdama/backend/internal/checkers"
	"github.com/playdama/backend/internal/idem"
	"github.com/playdama/backend/internal/relay"
)

// stubWallet counts every call so tests can assert exactly-once behavior
type stubWallet struct {
	mu       sync.Mutex
	balances map[string]float64

	credits  map[string]float64
	debits   map[string]int
	wins     map[string]int
	losses   map[string]int
	company  int
	companyA float64
}

func newStubWallet() *stubWallet {
	return &stubWallet{
		balances: make(map[string]float64),
		credits:  make(map[string]float64),
		debits:   make(map[string]int),
		wins:     make(map[string]int),
		losses:   make(map[string]int),
	}
}

func (w *stubWallet) CreditBalance(ctx context.Context, userID string, amount float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[userID] += amount
	w.credits[userID] += amount
	return nil
}

func (w *stubWallet) DebitBalance(ctx context.Context, userID string, amount float64) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[userID] < amount {
		return false, nil
	}
	w.balances[userID] -= amount
	w.debits[userID]++
	return true, nil
}

func (w *stubWallet) IncrementStat(ctx context.Context, userID, result string, stake float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if result == "win" {
		w.wins[userID]++
	} else {
		w.losses[userID]++
	}
	return nil
}

func (w *stubWallet) RecordCompanyEarning(ctx context.Context, amount float64, sourceGame string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.company++
	w.companyA = amount
	return nil
}

func (w *stubWallet) GetBalance(ctx context.Context, userID string) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[userID], nil
}

// newGamePair joins two peers to the same game over an in-memory relay.
// IDs sort alice < bob, so alice is black and the clock authority.
func newGamePair(t *testing.T, wallet *stubWallet) (*GameSession, *GameSession) {
	t.Helper()
	r := relay.NewMemoryRelay()
	ctx := context.Background()

	mk := func(userID string) *GameSession {
		s := NewGameSession(GameConfig{
			GameID:       "g1",
			UserID:       userID,
			DisplayLabel: userID,
			Stake:        10,
			Relay:        r,
			Wallet:       wallet,
			Markers:      idem.NewMemoryStore(),
			ManualClock:  true,
		})
		if err := s.Join(ctx); err != nil {
			t.Fatalf("join %s: %v", userID, err)
		}
		return s
	}

	alice := mk("alice")
	bob := mk("bob")
	return alice, bob
}

func TestRoleAssignmentFromPresenceOrder(t *testing.T) {
	alice, bob := newGamePair(t, newStubWallet())
	defer alice.Leave()
	defer bob.Leave()

	if got := alice.Role(); got != RoleBlack {
		t.Errorf("first joiner by id should be black, got %s", got)
	}
	if got := bob.Role(); got != RoleRed {
		t.Errorf("second joiner should be red, got %s", got)
	}
	if m := alice.Members(); len(m) != 2 || m[0] != "alice" || m[1] != "bob" {
		t.Errorf("members should be sorted [alice bob], got %v", m)
	}
}

func TestRoleDeterminismAcrossPermutations(t *testing.T) {
	// Any join order of the same member set yields the same mapping
	for _, order := range [][]string{
		{"carol", "alice", "bob"},
		{"bob", "carol", "alice"},
		{"alice", "bob", "carol"},
	} {
		r := relay.NewMemoryRelay()
		ctx := context.Background()
		byID := make(map[string]*GameSession)
		for _, id := range order {
			s := NewGameSession(GameConfig{
				GameID: "g2", UserID: id, Relay: r,
				Markers: idem.NewMemoryStore(), ManualClock: true,
			})
			if err := s.Join(ctx); err != nil {
				t.Fatalf("join %s: %v", id, err)
			}
			byID[id] = s
		}
		if got := byID["alice"].Role(); got != RoleBlack {
			t.Errorf("order %v: alice should be black, got %s", order, got)
		}
		if got := byID["bob"].Role(); got != RoleRed {
			t.Errorf("order %v: bob should be red, got %s", order, got)
		}
		if got := byID["carol"].Role(); got != RoleSpectator {
			t.Errorf("order %v: carol should be spectator, got %s", order, got)
		}
		for _, s := range byID {
			s.Leave()
		}
	}
}

func TestUnassignedBelowTwoMembers(t *testing.T) {
	r := relay.NewMemoryRelay()
	s := NewGameSession(GameConfig{
		GameID: "g3", UserID: "alice", Relay: r,
		Markers: idem.NewMemoryStore(), ManualClock: true,
	})
	if err := s.Join(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Leave()

	if got := s.Role(); got != RoleUnassigned {
		t.Errorf("single member should be unassigned, got %s", got)
	}
}

func TestMoveReplicatesSnapshot(t *testing.T) {
	alice, bob := newGamePair(t, newStubWallet())
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	// Black opening: (2,1) -> (3,2)
	alice.SelectOrMove(ctx, 2, 1)
	if _, _, ok := alice.Selected(); !ok {
		t.Fatal("clicking own piece should select it")
	}
	alice.SelectOrMove(ctx, 3, 2)

	if alice.Turn() != checkers.Red {
		t.Error("turn should pass to red after black's move")
	}
	b := bob.Board()
	if b.PieceAt(3, 2) == nil || b.PieceAt(2, 1) != nil {
		t.Error("bob should have adopted alice's board snapshot")
	}
	if bob.Turn() != checkers.Red {
		t.Errorf("bob's turn should be red, got %s", bob.Turn())
	}
}

func TestIllegalMoveClearsSelectionOnly(t *testing.T) {
	alice, bob := newGamePair(t, newStubWallet())
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	before := alice.Board()

	alice.SelectOrMove(ctx, 2, 1)
	alice.SelectOrMove(ctx, 5, 5) // nowhere near legal

	if _, _, ok := alice.Selected(); ok {
		t.Error("selection should be cleared after a rejected move")
	}
	after := alice.Board()
	for r := 0; r < checkers.BoardSize; r++ {
		for c := 0; c < checkers.BoardSize; c++ {
			bp, ap := before.PieceAt(r, c), after.PieceAt(r, c)
			if (bp == nil) != (ap == nil) {
				t.Fatalf("board mutated at (%d,%d) by illegal move", r, c)
			}
		}
	}
	if alice.Turn() != checkers.Black {
		t.Error("turn should not advance on a rejected move")
	}
	// Nothing was broadcast: bob's board still has black at origin
	if bob.Board().PieceAt(2, 1) == nil {
		t.Error("illegal move must not be broadcast")
	}
}

func TestOutOfTurnAndWrongPieceIgnored(t *testing.T) {
	alice, bob := newGamePair(t, newStubWallet())
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	// Red cannot act on black's turn
	bob.SelectOrMove(ctx, 5, 2)
	if _, _, ok := bob.Selected(); ok {
		t.Error("red should not select on black's turn")
	}

	// Black cannot select a red piece
	alice.SelectOrMove(ctx, 5, 2)
	if _, _, ok := alice.Selected(); ok {
		t.Error("black should not select a red piece")
	}
}

func TestCaptureWinSettlesExactlyOnce(t *testing.T) {
	wallet := newStubWallet()
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	// One red piece left; black jumps it and wins
	board := &checkers.Board{}
	board[2][1] = &checkers.Piece{Color: checkers.Black}
	board[3][2] = &checkers.Piece{Color: checkers.Red}
	for _, s := range []*GameSession{alice, bob} {
		s.mu.Lock()
		s.board = board.Clone()
		s.mu.Unlock()
	}

	alice.SelectOrMove(ctx, 2, 1)
	alice.SelectOrMove(ctx, 4, 3)

	over, winner := alice.GameOver()
	if !over || winner != "alice" {
		t.Fatalf("expected alice to win, over=%v winner=%q", over, winner)
	}
	over, winner = bob.GameOver()
	if !over || winner != "alice" {
		t.Fatalf("bob should agree on the result, over=%v winner=%q", over, winner)
	}

	// Winner takes stake*2*0.8 = 16, commission is stake*2*0.2 = 4
	if got := wallet.credits["alice"]; got != 16 {
		t.Errorf("winner credit should be 16.00, got %.2f", got)
	}
	if wallet.wins["alice"] != 1 {
		t.Errorf("alice should have exactly 1 win, got %d", wallet.wins["alice"])
	}
	if wallet.losses["bob"] != 1 {
		t.Errorf("bob should have exactly 1 loss, got %d", wallet.losses["bob"])
	}
	if wallet.credits["bob"] != 0 {
		t.Error("loser must get no balance change at settlement")
	}
	if wallet.company != 1 || wallet.companyA != 4 {
		t.Errorf("commission should be recorded once at 4.00, got %d x %.2f", wallet.company, wallet.companyA)
	}
}

func TestDuplicateGameOverSettlesOnce(t *testing.T) {
	wallet := newStubWallet()
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()

	payload := []byte(`{"game_id":"g1","winner_id":"bob","stake":10}`)
	msg := relay.Message{Event: EventGameOver, Sender: "bob", Payload: payload}

	// Redelivered terminal event: settle at most once per user
	alice.handleGameOver(msg)
	alice.handleGameOver(msg)
	bob.handleGameOver(relay.Message{Event: EventGameOver, Sender: "alice", Payload: payload})
	bob.handleGameOver(relay.Message{Event: EventGameOver, Sender: "alice", Payload: payload})

	if wallet.losses["alice"] != 1 {
		t.Errorf("alice should record exactly 1 loss, got %d", wallet.losses["alice"])
	}
	if wallet.wins["bob"] != 1 {
		t.Errorf("bob should record exactly 1 win, got %d", wallet.wins["bob"])
	}
	if got := wallet.credits["bob"]; got != 16 {
		t.Errorf("bob should be credited once for 16.00, got %.2f", got)
	}
	if wallet.company != 1 {
		t.Errorf("commission should be recorded once, got %d", wallet.company)
	}
}

func TestTimeoutLossDeclaredByAuthority(t *testing.T) {
	wallet := newStubWallet()
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	// Red to move with one second left, total-budget policy
	for _, s := range []*GameSession{alice, bob} {
		s.mu.Lock()
		s.turn = checkers.Red
		s.clocks = checkers.Clocks{Black: 120, Red: 1}
		s.mu.Unlock()
	}

	// Bob is not the authority; his tick must do nothing
	bob.Tick(ctx)
	if over, _ := bob.GameOver(); over {
		t.Fatal("non-authority peer must not declare timeout")
	}
	if got := bob.Clocks().Red; got != 1 {
		t.Errorf("non-authority tick should not decrement, got red=%d", got)
	}

	// Authority tick drives red to 0 and declares black the winner
	alice.Tick(ctx)

	if got := alice.Clocks().Red; got != 0 {
		t.Errorf("red clock should show 0, got %d", got)
	}
	over, winner := alice.GameOver()
	if !over || winner != "alice" {
		t.Fatalf("black should win on red's timeout, over=%v winner=%q", over, winner)
	}
	if got := bob.Clocks().Red; got != 0 {
		t.Errorf("tick snapshot should reach bob, got red=%d", got)
	}
	if over, winner := bob.GameOver(); !over || winner != "alice" {
		t.Errorf("bob should adopt the timeout result, over=%v winner=%q", over, winner)
	}

	// Further ticks change nothing
	alice.Tick(ctx)
	if got := alice.Clocks().Red; got != 0 {
		t.Errorf("clock must never go negative, got %d", got)
	}
	if wallet.wins["alice"] != 1 || wallet.losses["bob"] != 1 {
		t.Errorf("timeout should settle once: wins=%d losses=%d", wallet.wins["alice"], wallet.losses["bob"])
	}
}

func TestForfeitAwardsOpponent(t *testing.T) {
	wallet := newStubWallet()
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()

	bob.Forfeit(context.Background())

	over, winner := bob.GameOver()
	if !over || winner != "alice" {
		t.Fatalf("forfeit by red should award black, over=%v winner=%q", over, winner)
	}
	if over, winner := alice.GameOver(); !over || winner != "alice" {
		t.Errorf("alice should receive the forfeit, over=%v winner=%q", over, winner)
	}
	if wallet.wins["alice"] != 1 || wallet.losses["bob"] != 1 {
		t.Errorf("forfeit should settle both sides: wins=%d losses=%d", wallet.wins["alice"], wallet.losses["bob"])
	}
}

func TestFullGameSimpleWinScenario(t *testing.T) {
	wallet := newStubWallet()
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()
	ctx := context.Background()

	move := func(s *GameSession, fr, fc, tr, tc int) {
		t.Helper()
		s.SelectOrMove(ctx, fr, fc)
		s.SelectOrMove(ctx, tr, tc)
	}

	// Shrink to a two-piece endgame reached through real alternating
	// moves: black walks in, red walks out, black captures the last red.
	board := &checkers.Board{}
	board[2][1] = &checkers.Piece{Color: checkers.Black}
	board[5][4] = &checkers.Piece{Color: checkers.Red}
	for _, s := range []*GameSession{alice, bob} {
		s.mu.Lock()
		s.board = board.Clone()
		s.mu.Unlock()
	}

	move(alice, 2, 1, 3, 2) // black advances
	move(bob, 5, 4, 4, 3)   // red advances into range
	move(alice, 3, 2, 5, 4) // black jumps (4,3): red has no pieces left

	over, winner := alice.GameOver()
	if !over || winner != "alice" {
		t.Fatalf("black should win the scenario, over=%v winner=%q", over, winner)
	}
	if got := wallet.balances["alice"]; got != 16 {
		t.Errorf("winner wallet should increase by stake*1.6 = 16.00, got %.2f", got)
	}
	if wallet.losses["bob"] != 1 {
		t.Errorf("red's loss count should increase by 1, got %d", wallet.losses["bob"])
	}
}

func TestDroppedMoveSelfHeals(t *testing.T) {
	r := relay.NewMemoryRelay()
	ctx := context.Background()
	wallet := newStubWallet()

	mk := func(userID string) *GameSession {
		s := NewGameSession(GameConfig{
			GameID: "g4", UserID: userID, Stake: 10, Relay: r,
			Wallet: wallet, Markers: idem.NewMemoryStore(), ManualClock: true,
		})
		if err := s.Join(ctx); err != nil {
			t.Fatalf("join %s: %v", userID, err)
		}
		return s
	}
	alice := mk("alice")
	bob := mk("bob")
	defer alice.Leave()
	defer bob.Leave()

	// First move is lost in transit
	dropped := true
	r.DropFilter = func(channel, event string) bool {
		if event == EventMove && dropped {
			dropped = false
			return true
		}
		return false
	}

	alice.SelectOrMove(ctx, 2, 1)
	alice.SelectOrMove(ctx, 3, 2)
	if bob.Board().PieceAt(3, 2) != nil {
		t.Fatal("drop filter should have lost the first move")
	}

	// Bob is stale but play continues: his reply snapshot replaces
	// alice's state wholesale, and her next move re-syncs him.
	bob.mu.Lock()
	bob.turn = checkers.Red // as if a tick told him whose turn it is
	bob.mu.Unlock()
	bob.SelectOrMove(ctx, 5, 2)
	bob.SelectOrMove(ctx, 4, 3)

	// Alice adopted bob's snapshot (her lost move undone), black to move
	if alice.Board().PieceAt(2, 1) == nil {
		t.Fatal("alice should have adopted bob's snapshot")
	}
	alice.SelectOrMove(ctx, 2, 1)
	alice.SelectOrMove(ctx, 3, 2)

	b := bob.Board()
	if b.PieceAt(3, 2) == nil || b.PieceAt(2, 1) != nil {
		t.Error("bob should converge to alice's latest snapshot despite the dropped move")
	}
}

func TestGameOverCallbackMayReadSession(t *testing.T) {
	wallet := newStubWallet()
	wallet.balances["alice"] = 100
	alice, bob := newGamePair(t, wallet)
	defer alice.Leave()
	defer bob.Leave()

	done := make(chan string, 1)
	alice.cfg.OnGameOver = func(winnerID string) {
		// Reading accessors here must not deadlock on the session mutex
		if over, _ := alice.GameOver(); !over {
			t.Error("session should be terminal inside the callback")
		}
		alice.Clocks()
		done <- winnerID
	}

	bob.Forfeit(context.Background())

	select {
	case winnerID := <-done:
		if winnerID != "alice" {
			t.Errorf("expected alice to win by forfeit, got %s", winnerID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("game over callback never completed")
	}
}
