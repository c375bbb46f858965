package duel_test

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/udisondev/duelgo/internal/client"
	"github.com/udisondev/duelgo/internal/config"
	"github.com/udisondev/duelgo/internal/duel"
	"github.com/udisondev/duelgo/internal/protocol"
)

// startServer runs a duel server on a random port and returns its address.
func startServer(t *testing.T, cfg config.Server, opts ...duel.ServerOption) string {
	t.Helper()
	srv := duel.NewServer(cfg, opts...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		_ = srv.Serve(ctx, ln)
	}()

	return ln.Addr().String()
}

// rawSession speaks the wire protocol directly, bypassing the client
// library's guard rails. Received messages are pumped into a channel so
// tests can also assert that nothing arrived.
type rawSession struct {
	stream *protocol.Stream
	msgs   chan protocol.ServerMessage
}

func dialRaw(t *testing.T, addr string) *rawSession {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	rs := &rawSession{
		stream: protocol.NewStream(conn, 2048),
		msgs:   make(chan protocol.ServerMessage, 32),
	}
	go func() {
		defer close(rs.msgs)
		for {
			msg, err := rs.stream.ReceiveServer()
			if err != nil {
				return
			}
			rs.msgs <- msg
		}
	}()
	return rs
}

func (rs *rawSession) send(t *testing.T, msg protocol.ClientMessage) {
	t.Helper()
	require.NoError(t, rs.stream.Send(msg))
}

// next returns the next server message, or nil once the connection closed.
func (rs *rawSession) next(t *testing.T) protocol.ServerMessage {
	t.Helper()
	select {
	case msg := <-rs.msgs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server message")
		return nil
	}
}

func (rs *rawSession) expectClosed(t *testing.T) {
	t.Helper()
	select {
	case msg, ok := <-rs.msgs:
		if ok {
			t.Fatalf("expected closed connection, got %#v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection close")
	}
}

func (rs *rawSession) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case msg, ok := <-rs.msgs:
		if ok {
			t.Fatalf("unexpected message %#v", msg)
		}
		t.Fatal("connection closed unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}

// pairRaw creates a game on a and joins it from b, consuming both Start
// messages.
func pairRaw(t *testing.T, a, b *rawSession) {
	t.Helper()
	a.send(t, protocol.Create{})
	created, ok := a.next(t).(protocol.Created)
	require.True(t, ok, "expected Created")

	b.send(t, protocol.Join{Code: created.Code})
	require.IsType(t, protocol.Start{}, a.next(t))
	require.IsType(t, protocol.Start{}, b.next(t))
}

// ServerSuite drives a shared default-config server through the protocol
// with real TCP connections.
type ServerSuite struct {
	suite.Suite
	addr string
}

func (s *ServerSuite) SetupSuite() {
	s.addr = startServer(s.T(), config.DefaultServer())
}

func TestServerSuite(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}

// TestHappyPath: create, join, play all turns, both finish, and the
// connections are reusable for another game.
func (s *ServerSuite) TestHappyPath() {
	creator, err := client.Dial(s.addr)
	s.Require().NoError(err)
	defer creator.Close()

	waiting, err := creator.Create()
	s.Require().NoError(err)
	s.NotZero(waiting.Code())

	joiner, err := client.Dial(s.addr)
	s.Require().NoError(err)
	defer joiner.Close()

	p2, err := joiner.Join(waiting.Code())
	s.Require().NoError(err)
	p1, err := waiting.Wait()
	s.Require().NoError(err)

	s.Equal(7, p1.MaxTurns())
	s.Equal(uint32(700), p1.PointsLeft())

	for range p1.MaxTurns() {
		s.Require().NoError(p1.MakeGuess(100))
		s.Require().NoError(p2.MakeGuess(50))
		s.Require().NoError(p1.WaitResult())
		s.Require().NoError(p2.WaitResult())
	}

	s.Equal(uint32(0), p1.PointsLeft())
	s.Equal(uint32(350), p2.PointsLeft())
	for turn, r := range p1.Results() {
		s.Equal(int8(-1), r, "turn %d: opponent wagered less", turn)
	}
	for turn, r := range p2.Results() {
		s.Equal(int8(1), r, "turn %d: opponent wagered more", turn)
	}

	// EndOfGame arrives after the last TurnResult, and both slots are
	// idle again: the same connections can open a fresh game.
	n1, err := p1.Finish()
	s.Require().NoError(err)
	n2, err := p2.Finish()
	s.Require().NoError(err)

	w2, err := n1.Create()
	s.Require().NoError(err)
	p4, err := n2.Join(w2.Code())
	s.Require().NoError(err)
	p3, err := w2.Wait()
	s.Require().NoError(err)
	s.Require().NoError(p3.MakeGuess(1))
	s.Require().NoError(p4.MakeGuess(1))
	s.Require().NoError(p3.WaitResult())
	s.Require().NoError(p4.WaitResult())
	s.Equal([]int8{0}, p3.Results()[:1])
}

// TestJoinFailRetry: a failed join leaves the session usable.
func (s *ServerSuite) TestJoinFailRetry() {
	sess, err := client.Dial(s.addr)
	s.Require().NoError(err)
	defer sess.Close()

	_, err = sess.Join(999)
	s.Require().ErrorIs(err, client.ErrJoinFailed)

	waiting, err := sess.Create()
	s.Require().NoError(err)
	s.NotZero(waiting.Code())
}

// TestMoveWhileIdle: a Move before any game is a protocol violation and
// costs the connection.
func (s *ServerSuite) TestMoveWhileIdle() {
	rs := dialRaw(s.T(), s.addr)
	rs.send(s.T(), protocol.Move{Wager: 10})
	s.Equal(protocol.ProtocolError{}, rs.next(s.T()))
	rs.expectClosed(s.T())
}

// TestMessageWhileWaiting: the creator must stay quiet until the server
// sends Start.
func (s *ServerSuite) TestMessageWhileWaiting() {
	rs := dialRaw(s.T(), s.addr)
	rs.send(s.T(), protocol.Create{})
	s.Require().IsType(protocol.Created{}, rs.next(s.T()))

	rs.send(s.T(), protocol.Create{})
	s.Equal(protocol.ProtocolError{}, rs.next(s.T()))
	rs.expectClosed(s.T())
}

// TestOverspend: wagering exactly the remaining budget passes, one point
// past it closes the offender and the partner learns about it.
func (s *ServerSuite) TestOverspend() {
	a := dialRaw(s.T(), s.addr)
	b := dialRaw(s.T(), s.addr)
	pairRaw(s.T(), a, b)

	for _, n := range []uint32{400, 250, 50} {
		a.send(s.T(), protocol.Move{Wager: n})
	}
	a.expectSilence(s.T()) // partner has not moved, no results yet

	a.send(s.T(), protocol.Move{Wager: 1})
	s.Equal(protocol.ProtocolError{}, a.next(s.T()))
	a.expectClosed(s.T())

	s.Equal(protocol.ConnectionLost{}, b.next(s.T()))
}

// TestInterleavedTurns: the first mover's result is held back until the
// partner answers the same turn.
func (s *ServerSuite) TestInterleavedTurns() {
	a := dialRaw(s.T(), s.addr)
	b := dialRaw(s.T(), s.addr)
	pairRaw(s.T(), a, b)

	a.send(s.T(), protocol.Move{Wager: 100})
	a.expectSilence(s.T())
	b.expectSilence(s.T())

	b.send(s.T(), protocol.Move{Wager: 80})
	s.Equal(protocol.TurnResult{Cmp: -1}, a.next(s.T()))
	s.Equal(protocol.TurnResult{Cmp: 1}, b.next(s.T()))
}

// TestDisconnectMidGame: the survivor is told ConnectionLost and its slot
// is back to Idle on the same connection.
func (s *ServerSuite) TestDisconnectMidGame() {
	a := dialRaw(s.T(), s.addr)
	b := dialRaw(s.T(), s.addr)
	pairRaw(s.T(), a, b)

	require.NoError(s.T(), a.stream.Close())
	s.Equal(protocol.ConnectionLost{}, b.next(s.T()))

	b.send(s.T(), protocol.Create{})
	s.Require().IsType(protocol.Created{}, b.next(s.T()))
}

// TestWaitingDisconnectEvictsCode: a waiting creator's disconnect must
// take its join code out of circulation.
func (s *ServerSuite) TestWaitingDisconnectEvictsCode() {
	a := dialRaw(s.T(), s.addr)
	a.send(s.T(), protocol.Create{})
	created, ok := a.next(s.T()).(protocol.Created)
	s.Require().True(ok)

	require.NoError(s.T(), a.stream.Close())

	// Give the server a moment to process the hangup.
	time.Sleep(50 * time.Millisecond)

	sess, err := client.Dial(s.addr)
	s.Require().NoError(err)
	defer sess.Close()
	_, err = sess.Join(created.Code)
	s.Require().ErrorIs(err, client.ErrJoinFailed)
}

// TestCapacityRefusal: connections past max_connections are dropped
// without touching the established ones.
func TestCapacityRefusal(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.MaxConnections = 2
	addr := startServer(t, cfg)

	// A JoinFail round trip proves each connection holds its slot before
	// the over-capacity dial races for one.
	a := dialRaw(t, addr)
	a.send(t, protocol.Join{Code: 1})
	require.Equal(t, protocol.JoinFail{}, a.next(t))
	b := dialRaw(t, addr)
	b.send(t, protocol.Join{Code: 1})
	require.Equal(t, protocol.JoinFail{}, b.next(t))

	over := dialRaw(t, addr)
	over.expectClosed(t)

	// The two registered connections still pair up and play.
	pairRaw(t, a, b)
	a.send(t, protocol.Move{Wager: 5})
	b.send(t, protocol.Move{Wager: 5})
	require.Equal(t, protocol.TurnResult{Cmp: 0}, a.next(t))
	require.Equal(t, protocol.TurnResult{Cmp: 0}, b.next(t))
}

// fakeRecorder captures recorded matches for assertions.
type fakeRecorder struct {
	mu      sync.Mutex
	matches []duel.Match
	done    chan struct{}
}

func (f *fakeRecorder) RecordMatch(_ context.Context, m duel.Match) error {
	f.mu.Lock()
	f.matches = append(f.matches, m)
	f.mu.Unlock()
	select {
	case f.done <- struct{}{}:
	default:
	}
	return nil
}

// TestMatchRecording: a finished game reaches the recorder with
// consistent accounting.
func TestMatchRecording(t *testing.T) {
	cfg := config.DefaultServer()
	cfg.Game.MaxTurns = 2
	rec := &fakeRecorder{done: make(chan struct{}, 1)}
	addr := startServer(t, cfg, duel.WithRecorder(rec))

	a := dialRaw(t, addr)
	b := dialRaw(t, addr)
	pairRaw(t, a, b)

	for _, n := range []uint32{100, 200} {
		a.send(t, protocol.Move{Wager: n})
		b.send(t, protocol.Move{Wager: n / 2})
		require.IsType(t, protocol.TurnResult{}, a.next(t))
		require.IsType(t, protocol.TurnResult{}, b.next(t))
	}
	require.Equal(t, protocol.EndOfGame{}, a.next(t))
	require.Equal(t, protocol.EndOfGame{}, b.next(t))

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("match was not recorded")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.matches, 1)
	m := rec.matches[0]
	require.Equal(t, 2, m.MaxTurns)
	require.Equal(t, uint32(700), m.TotalPoints)
	for side := range 2 {
		require.Len(t, m.Wagers[side], 2)
		var sum uint32
		for _, w := range m.Wagers[side] {
			sum += w
		}
		require.Equal(t, uint32(700), sum+m.Remaining[side], "side %d accounting", side)
	}
	require.False(t, m.FinishedAt.Before(m.StartedAt))
}
