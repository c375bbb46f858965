package duel

import (
	"sync"
	"time"

	"github.com/udisondev/duelgo/internal/protocol"
)

// Game is the shared state of one paired duel. Both slots of the pair hold
// a reference; side 0 always belongs to the lower slot id.
//
// Invariants: each side's wager count never exceeds maxTurns, the wager
// counts differ by at most one, and remaining[i] plus the sum of side i's
// wagers always equals totalPoints.
type Game struct {
	mu sync.Mutex

	maxTurns    int
	totalPoints uint32

	wagers    [2][]uint32
	remaining [2]uint32

	startedAt time.Time
}

// NewGame creates a game with both sides at the full points budget.
func NewGame(maxTurns int, totalPoints uint32) *Game {
	return &Game{
		maxTurns:    maxTurns,
		totalPoints: totalPoints,
		wagers:      [2][]uint32{make([]uint32, 0, maxTurns), make([]uint32, 0, maxTurns)},
		remaining:   [2]uint32{totalPoints, totalPoints},
		startedAt:   time.Now(),
	}
}

// HandleMove applies side's wager n. streams is indexed by side. Returns
// false when the offending side must be closed: the move was invalid (the
// side is told ProtocolError) or a result write failed.
//
// When the partner has already wagered at the same turn position, both
// sides receive their TurnResult, side 0 first. Otherwise nothing is sent;
// the results go out when the partner's wager for this turn arrives.
func (g *Game) HandleMove(side int, n uint32, streams [2]*protocol.Stream) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.wagers[side]) >= g.maxTurns || g.remaining[side] < n {
		_ = streams[side].Send(protocol.ProtocolError{})
		return false
	}

	turn := len(g.wagers[side])
	g.wagers[side] = append(g.wagers[side], n)
	g.remaining[side] -= n

	other := side ^ 1
	if turn >= len(g.wagers[other]) {
		return true // partner has not moved for this turn yet
	}

	for _, s := range [2]int{0, 1} {
		cmp := compareWagers(g.wagers[s^1][turn], g.wagers[s][turn])
		if err := streams[s].Send(protocol.TurnResult{Cmp: cmp}); err != nil {
			return false
		}
	}
	return true
}

// IsOver reports whether both sides have used up all turns.
func (g *Game) IsOver() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.wagers[0]) >= g.maxTurns && len(g.wagers[1]) >= g.maxTurns
}

// snapshot returns a copy of the game state for match recording.
func (g *Game) snapshot() (wagers [2][]uint32, remaining [2]uint32, startedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.wagers {
		wagers[i] = append([]uint32(nil), g.wagers[i]...)
	}
	return wagers, g.remaining, g.startedAt
}

// compareWagers returns the sign of opponent - mine.
func compareWagers(opponent, mine uint32) int8 {
	switch {
	case opponent < mine:
		return -1
	case opponent > mine:
		return 1
	default:
		return 0
	}
}
