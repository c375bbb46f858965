package duel

import (
	"context"
	"time"
)

// Match is the record of one completed game.
type Match struct {
	JoinCode    uint32
	MaxTurns    int
	TotalPoints uint32
	Wagers      [2][]uint32
	Remaining   [2]uint32
	StartedAt   time.Time
	FinishedAt  time.Time
}

// MatchRecorder persists completed matches. Recording is best-effort: a
// failure is logged and never affects the players' protocol. Only finished
// games are recorded; no in-flight session state is ever persisted.
type MatchRecorder interface {
	RecordMatch(ctx context.Context, m Match) error
}
