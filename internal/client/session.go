// Package client is the player-side session library. The three handle
// types mirror the server's session states, so only the calls that are
// legal in the current phase exist on the handle you hold: a NewSession
// can create or join, a WaitingSession can only wait for its partner, a
// PlayingSession can only wager and collect results.
package client

import (
	"errors"
	"fmt"
	"net"

	"github.com/udisondev/duelgo/internal/protocol"
)

// DefaultReadBufferSize bounds the per-session frame buffer. Matches the
// server's default; every current message fits many times over.
const DefaultReadBufferSize = 2048

// ErrJoinFailed reports that no open game had the given code (or its
// creator vanished). The NewSession stays valid: retry with another code
// or create a game instead.
var ErrJoinFailed = errors.New("client: join failed, no such open game")

// ErrProtocolViolation reports that the server rejected our last message
// as illegal for the session's state and closed the connection.
var ErrProtocolViolation = errors.New("client: server reported a protocol violation")

// ErrPartnerDisconnect reports that the partner dropped mid-game.
var ErrPartnerDisconnect = errors.New("client: partner disconnected")

// errUnexpected wraps a well-formed server message that is out of place
// for the call that received it.
func errUnexpected(msg protocol.ServerMessage) error {
	return fmt.Errorf("client: unexpected server message %T", msg)
}

// NewSession is a freshly connected session with no game affiliation.
type NewSession struct {
	stream *protocol.Stream
}

// Dial connects to a duel server.
func Dial(addr string) (*NewSession, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting TCP_NODELAY: %w", err)
		}
	}
	return &NewSession{stream: protocol.NewStream(conn, DefaultReadBufferSize)}, nil
}

// Close closes the connection. Only needed when abandoning a session;
// finished games keep the connection reusable.
func (s *NewSession) Close() error {
	return s.stream.Close()
}

// Create opens a new game and returns a waiting handle carrying the join
// code to share with the partner.
func (s *NewSession) Create() (*WaitingSession, error) {
	if err := s.stream.Send(protocol.Create{}); err != nil {
		return nil, err
	}
	msg, err := s.stream.ReceiveServer()
	if err != nil {
		return nil, err
	}
	created, ok := msg.(protocol.Created)
	if !ok {
		return nil, errUnexpected(msg)
	}
	return &WaitingSession{stream: s.stream, code: created.Code}, nil
}

// Join enters the open game with the given code. On ErrJoinFailed the
// NewSession remains usable for a retry; any other error means the
// session is dead.
func (s *NewSession) Join(code uint32) (*PlayingSession, error) {
	if err := s.stream.Send(protocol.Join{Code: code}); err != nil {
		return nil, err
	}
	msg, err := s.stream.ReceiveServer()
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case protocol.Start:
		return newPlayingSession(s.stream, m), nil
	case protocol.JoinFail:
		return nil, ErrJoinFailed
	default:
		return nil, errUnexpected(msg)
	}
}

// WaitingSession is a session that created a game and awaits a partner.
type WaitingSession struct {
	stream *protocol.Stream
	code   uint32
}

// Code returns the join code to hand to the partner.
func (s *WaitingSession) Code() uint32 {
	return s.code
}

// Close closes the connection, abandoning the open game.
func (s *WaitingSession) Close() error {
	return s.stream.Close()
}

// Wait blocks until a partner joins and the server starts the game.
func (s *WaitingSession) Wait() (*PlayingSession, error) {
	msg, err := s.stream.ReceiveServer()
	if err != nil {
		return nil, err
	}
	start, ok := msg.(protocol.Start)
	if !ok {
		return nil, errUnexpected(msg)
	}
	return newPlayingSession(s.stream, start), nil
}

// PlayingSession is a paired session submitting wagers turn by turn.
type PlayingSession struct {
	stream   *protocol.Stream
	left     uint32
	maxTurns int
	guesses  []uint32
	results  []int8
}

func newPlayingSession(stream *protocol.Stream, start protocol.Start) *PlayingSession {
	return &PlayingSession{
		stream:   stream,
		left:     start.TotalPoints,
		maxTurns: int(start.NumberTurns),
		guesses:  make([]uint32, 0, start.NumberTurns),
		results:  make([]int8, 0, start.NumberTurns),
	}
}

// MakeGuess submits a wager for the next turn. The local checks catch
// caller bugs before they reach the wire and get the connection closed.
func (s *PlayingSession) MakeGuess(n uint32) error {
	if len(s.guesses) >= s.maxTurns {
		return fmt.Errorf("client: all %d turns already played", s.maxTurns)
	}
	if n > s.left {
		return fmt.Errorf("client: wager %d exceeds remaining points %d", n, s.left)
	}
	if err := s.stream.Send(protocol.Move{Wager: n}); err != nil {
		return err
	}
	s.guesses = append(s.guesses, n)
	s.left -= n
	return nil
}

// WaitResult blocks for the comparison result of the oldest unanswered
// wager. ErrProtocolViolation and ErrPartnerDisconnect are the two
// server-reported failures; anything else is an I/O or decode error.
func (s *PlayingSession) WaitResult() error {
	if len(s.guesses) <= len(s.results) {
		return fmt.Errorf("client: no wager awaiting a result")
	}
	msg, err := s.stream.ReceiveServer()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case protocol.TurnResult:
		s.results = append(s.results, m.Cmp)
		return nil
	case protocol.ProtocolError:
		return ErrProtocolViolation
	case protocol.ConnectionLost:
		return ErrPartnerDisconnect
	default:
		return errUnexpected(msg)
	}
}

// Finish consumes the server's EndOfGame after the last result and hands
// the connection back as a NewSession, ready for another create or join.
func (s *PlayingSession) Finish() (*NewSession, error) {
	if len(s.results) < s.maxTurns {
		return nil, fmt.Errorf("client: game not over, %d of %d results received",
			len(s.results), s.maxTurns)
	}
	msg, err := s.stream.ReceiveServer()
	if err != nil {
		return nil, err
	}
	if _, ok := msg.(protocol.EndOfGame); !ok {
		return nil, errUnexpected(msg)
	}
	return &NewSession{stream: s.stream}, nil
}

// Close closes the connection, abandoning the game.
func (s *PlayingSession) Close() error {
	return s.stream.Close()
}

// PointsLeft returns the points not yet wagered.
func (s *PlayingSession) PointsLeft() uint32 {
	return s.left
}

// MaxTurns returns the number of turns in the game.
func (s *PlayingSession) MaxTurns() int {
	return s.maxTurns
}

// Guesses returns a copy of the wagers submitted so far.
func (s *PlayingSession) Guesses() []uint32 {
	return append([]uint32(nil), s.guesses...)
}

// Results returns a copy of the comparison results received so far:
// the sign of opponent_wager - my_wager per turn.
func (s *PlayingSession) Results() []int8 {
	return append([]int8(nil), s.results...)
}
