package duel

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/udisondev/duelgo/internal/protocol"
)

const recordTimeout = 5 * time.Second

// handleMessage dispatches one decoded message according to the slot's
// session state. Returns false when the slot must be removed.
// Caller holds s.mu.
func (s *Server) handleMessage(id int, msg protocol.ClientMessage) bool {
	sl := s.reg.get(id)
	if sl == nil {
		return false
	}
	slog.Debug("message received", "slot", id, "state", sl.state, "msg", fmt.Sprintf("%T", msg))

	switch sl.state {
	case StateIdle:
		return s.handleIdle(id, sl, msg)
	case StateWaiting:
		// Start, которым сессия покидает Waiting, отправляет сам сервер
		// при подключении партнёра; клиенту в этом состоянии писать нечего.
		slog.Warn("client message while waiting", "slot", id, "code", sl.code)
		_ = sl.stream.Send(protocol.ProtocolError{})
		return false
	case StatePlaying:
		return s.handlePlaying(id, sl, msg)
	}
	return false
}

func (s *Server) handleIdle(id int, sl *slot, msg protocol.ClientMessage) bool {
	switch m := msg.(type) {
	case protocol.Create:
		return s.createGame(id, sl)
	case protocol.Join:
		creator, open := s.openGames[m.Code]
		if !open {
			slog.Debug("join failed, no such game", "slot", id, "code", m.Code)
			return sl.stream.Send(protocol.JoinFail{}) == nil
		}
		delete(s.openGames, m.Code)
		return s.startGame(id, creator, m.Code)
	default:
		slog.Warn("invalid message for idle slot", "slot", id, "msg", fmt.Sprintf("%T", msg))
		_ = sl.stream.Send(protocol.ProtocolError{})
		return false
	}
}

// createGame draws random join codes until an unused one comes up, opens
// the game and tells the creator its code. The map insert and the state
// update happen together under s.mu, and only after a successful send: a
// failed send never leaves a code pointing at a dead slot.
func (s *Server) createGame(id int, sl *slot) bool {
	for {
		code, err := randomJoinCode()
		if err != nil {
			slog.Error("join code generation failed", "slot", id, "err", err)
			_ = sl.stream.Send(protocol.ServerError{})
			return false
		}
		if _, taken := s.openGames[code]; taken {
			continue // collisions are negligible at realistic occupancy
		}

		if err := sl.stream.Send(protocol.Created{Code: code}); err != nil {
			return false
		}
		sl.state = StateWaiting
		sl.code = code
		s.openGames[code] = id
		slog.Info("game created", "slot", id, "code", code)
		return true
	}
}

// startGame pairs joiner with the creator of code. Start goes to the
// creator first. If the creator's send fails its slot is removed and the
// joiner gets JoinFail so it may retry. If the creator's send succeeds but
// the joiner's fails, the creator has already seen Start with no pairing
// behind it; there is no rollback, its next event surfaces the breakage.
func (s *Server) startGame(joinerID, creatorID int, code uint32) bool {
	joiner := s.reg.get(joinerID)
	creator := s.reg.get(creatorID)

	start := protocol.Start{
		NumberTurns: uint32(s.cfg.Game.MaxTurns),
		TotalPoints: s.cfg.Game.TotalPoints,
	}

	if creator == nil || creator.stream.Send(start) != nil {
		if creator != nil {
			s.removeLocked(creatorID)
		}
		return joiner.stream.Send(protocol.JoinFail{}) == nil
	}

	if err := joiner.stream.Send(start); err != nil {
		return false
	}

	game := NewGame(s.cfg.Game.MaxTurns, s.cfg.Game.TotalPoints)
	creator.state = StatePlaying
	creator.partner = joinerID
	creator.game = game
	creator.code = code
	joiner.state = StatePlaying
	joiner.partner = creatorID
	joiner.game = game
	joiner.code = code

	slog.Info("game started", "code", code, "creator", creatorID, "joiner", joinerID)
	return true
}

func (s *Server) handlePlaying(id int, sl *slot, msg protocol.ClientMessage) bool {
	mv, ok := msg.(protocol.Move)
	if !ok {
		slog.Warn("invalid message for playing slot", "slot", id, "msg", fmt.Sprintf("%T", msg))
		_ = sl.stream.Send(protocol.ProtocolError{})
		return false
	}

	partner := s.reg.get(sl.partner)
	if partner == nil {
		return false
	}

	// Side 0 is always the lower slot id.
	low, high := id, sl.partner
	if low > high {
		low, high = high, low
	}
	streams := [2]*protocol.Stream{s.reg.get(low).stream, s.reg.get(high).stream}
	side := 0
	if id == high {
		side = 1
	}

	keep := sl.game.HandleMove(side, mv.Wager, streams)
	if keep && sl.game.IsOver() {
		s.finishGame(low, high)
	}
	return keep
}

// finishGame returns both slots to Idle, announces EndOfGame (lower slot
// first) and hands the finished game to the recorder. The connections stay
// open: an idle pair may create or join again right away.
func (s *Server) finishGame(lowID, highID int) {
	low := s.reg.get(lowID)
	high := s.reg.get(highID)
	game := low.game
	code := low.code
	low.toIdle()
	high.toIdle()

	_ = low.stream.Send(protocol.EndOfGame{})
	_ = high.stream.Send(protocol.EndOfGame{})
	slog.Info("game finished", "code", code, "slots", []int{lowID, highID})

	if s.recorder == nil {
		return
	}
	wagers, remaining, startedAt := game.snapshot()
	m := Match{
		JoinCode:    code,
		MaxTurns:    s.cfg.Game.MaxTurns,
		TotalPoints: s.cfg.Game.TotalPoints,
		Wagers:      wagers,
		Remaining:   remaining,
		StartedAt:   startedAt,
		FinishedAt:  time.Now(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := s.recorder.RecordMatch(ctx, m); err != nil {
			slog.Error("recording match", "code", m.JoinCode, "err", err)
		}
	}()
}

// randomJoinCode draws a join code from the system's CSPRNG. Codes must be
// unguessable; a counter would let anyone walk into open games.
func randomJoinCode() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("reading random bytes: %w", err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
