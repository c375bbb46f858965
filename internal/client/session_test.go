package client

import (
	"errors"
	"net"
	"testing"

	"github.com/udisondev/duelgo/internal/protocol"
)

// scriptedPeer answers every received client message with the next message
// from the script.
func scriptedPeer(t *testing.T, script ...protocol.ServerMessage) *protocol.Stream {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	peer := protocol.NewStream(remote, DefaultReadBufferSize)
	go func() {
		for _, reply := range script {
			if _, err := peer.ReceiveClient(); err != nil {
				return
			}
			if err := peer.Send(reply); err != nil {
				return
			}
		}
	}()
	return protocol.NewStream(local, DefaultReadBufferSize)
}

func TestCreate(t *testing.T) {
	sess := &NewSession{stream: scriptedPeer(t, protocol.Created{Code: 77})}
	waiting, err := sess.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if waiting.Code() != 77 {
		t.Errorf("code = %d, want 77", waiting.Code())
	}
}

func TestJoinFail(t *testing.T) {
	sess := &NewSession{stream: scriptedPeer(t, protocol.JoinFail{}, protocol.Created{Code: 5})}

	if _, err := sess.Join(123); !errors.Is(err, ErrJoinFailed) {
		t.Fatalf("join: got %v, want ErrJoinFailed", err)
	}

	// The session survives a failed join.
	waiting, err := sess.Create()
	if err != nil {
		t.Fatalf("create after failed join: %v", err)
	}
	if waiting.Code() != 5 {
		t.Errorf("code = %d, want 5", waiting.Code())
	}
}

func TestJoinStartsPlaying(t *testing.T) {
	sess := &NewSession{stream: scriptedPeer(t, protocol.Start{NumberTurns: 7, TotalPoints: 700})}
	playing, err := sess.Join(123)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if playing.MaxTurns() != 7 || playing.PointsLeft() != 700 {
		t.Errorf("got turns=%d points=%d", playing.MaxTurns(), playing.PointsLeft())
	}
}

func TestMakeGuessLocalChecks(t *testing.T) {
	p := &PlayingSession{
		stream:   scriptedPeer(t),
		left:     10,
		maxTurns: 1,
	}

	if err := p.MakeGuess(11); err == nil {
		t.Error("wager above remaining points accepted")
	}
	if p.PointsLeft() != 10 {
		t.Errorf("failed guess changed points: %d", p.PointsLeft())
	}

	if err := p.MakeGuess(10); err != nil {
		t.Fatalf("valid guess: %v", err)
	}
	if p.PointsLeft() != 0 {
		t.Errorf("points left = %d, want 0", p.PointsLeft())
	}

	if err := p.MakeGuess(0); err == nil {
		t.Error("guess past the last turn accepted")
	}
}

func TestWaitResultVariants(t *testing.T) {
	cases := []struct {
		name  string
		reply protocol.ServerMessage
		want  error
	}{
		{"protocol error claim", protocol.ProtocolError{}, ErrProtocolViolation},
		{"partner disconnect", protocol.ConnectionLost{}, ErrPartnerDisconnect},
	}
	for _, c := range cases {
		p := &PlayingSession{
			stream:   scriptedPeer(t, protocol.TurnResult{Cmp: 1}, c.reply),
			left:     700,
			maxTurns: 7,
		}
		if err := p.MakeGuess(1); err != nil {
			t.Fatalf("%s: guess: %v", c.name, err)
		}
		if err := p.WaitResult(); err != nil {
			t.Fatalf("%s: first result: %v", c.name, err)
		}
		if err := p.MakeGuess(1); err != nil {
			t.Fatalf("%s: guess: %v", c.name, err)
		}
		if err := p.WaitResult(); !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
}

func TestWaitResultWithoutGuess(t *testing.T) {
	p := &PlayingSession{
		stream:   scriptedPeer(t),
		left:     700,
		maxTurns: 7,
	}
	if err := p.WaitResult(); err == nil {
		t.Error("WaitResult without a pending wager succeeded")
	}
}

func TestViews(t *testing.T) {
	p := &PlayingSession{
		stream:   scriptedPeer(t, protocol.TurnResult{Cmp: -1}),
		left:     700,
		maxTurns: 7,
	}
	if err := p.MakeGuess(100); err != nil {
		t.Fatal(err)
	}
	if err := p.WaitResult(); err != nil {
		t.Fatal(err)
	}

	guesses := p.Guesses()
	results := p.Results()
	if len(guesses) != 1 || guesses[0] != 100 {
		t.Errorf("guesses = %v", guesses)
	}
	if len(results) != 1 || results[0] != -1 {
		t.Errorf("results = %v", results)
	}

	// Views are copies, not aliases of the session's state.
	guesses[0] = 9999
	if p.Guesses()[0] != 100 {
		t.Error("mutating the returned slice changed session state")
	}
}
