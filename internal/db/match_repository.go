package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/duelgo/internal/duel"
)

// MatchRepository persists completed matches to PostgreSQL.
// Implements duel.MatchRecorder.
type MatchRepository struct {
	pool *pgxpool.Pool
}

// NewMatchRepository creates a repository over the given pool.
func NewMatchRepository(pool *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{pool: pool}
}

// RecordMatch inserts one finished match.
func (r *MatchRepository) RecordMatch(ctx context.Context, m duel.Match) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO matches
		 (join_code, max_turns, total_points,
		  wagers_a, wagers_b, remaining_a, remaining_b,
		  started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		int64(m.JoinCode), m.MaxTurns, int64(m.TotalPoints),
		toInt32s(m.Wagers[0]), toInt32s(m.Wagers[1]),
		int64(m.Remaining[0]), int64(m.Remaining[1]),
		m.StartedAt, m.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting match %d: %w", m.JoinCode, err)
	}
	return nil
}

// toInt32s converts wagers for the INT[] column. Wagers are bounded by
// total_points, far below the int32 range.
func toInt32s(ws []uint32) []int32 {
	out := make([]int32, len(ws))
	for i, w := range ws {
		out[i] = int32(w)
	}
	return out
}
