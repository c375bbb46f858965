package duel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/duelgo/internal/config"
	"github.com/udisondev/duelgo/internal/protocol"
)

// ServerOption is a functional option for Server configuration.
type ServerOption func(*Server)

// WithRecorder sets a match recorder for completed games.
func WithRecorder(r MatchRecorder) ServerOption {
	return func(s *Server) {
		s.recorder = r
	}
}

// Server pairs TCP clients into two-player duels and coordinates their
// turns. One goroutine per connection; the slot table and the open-games
// map are guarded by a single mutex, each Game by its own.
type Server struct {
	cfg      config.Server
	recorder MatchRecorder

	mu        sync.Mutex
	reg       *registry
	openGames map[uint32]int // join code -> creator slot

	lmu      sync.Mutex
	listener net.Listener
}

// NewServer creates a duel server for the given configuration.
func NewServer(cfg config.Server, opts ...ServerOption) *Server {
	s := &Server{
		cfg:       cfg,
		reg:       newRegistry(cfg.MaxConnections),
		openGames: make(map[uint32]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Addr returns the address the server listens on, or nil before Run.
func (s *Server) Addr() net.Addr {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener and stops the server.
func (s *Server) Close() error {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run binds cfg.ListenAddr() and runs the accept loop until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := s.cfg.ListenAddr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.lmu.Lock()
	s.listener = ln
	s.lmu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve принимает готовый listener и запускает accept loop.
// Используется для тестирования с произвольным listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("duel server started",
			"address", ln.Addr(),
			"max_turns", s.cfg.Game.MaxTurns,
			"total_points", s.cfg.Game.TotalPoints)
		acceptLoop(ctx, &wg, s, ln)
	})

	wg.Wait()

	return nil
}

func acceptLoop(
	ctx context.Context,
	wg *sync.WaitGroup,
	srv *Server,
	ln net.Listener,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("Failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				handleConnection(ctx, srv, conn)
			})
		}
	}
}

func handleConnection(ctx context.Context, srv *Server, conn net.Conn) {
	stream := protocol.NewStream(conn, srv.cfg.ReadBufferSize)

	if tcp, ok := conn.(*net.TCPConn); ok {
		if err := tcp.SetNoDelay(true); err != nil {
			slog.Warn("failed to set TCP_NODELAY", "remote", stream.RemoteAddr(), "err", err)
		}
	}

	srv.mu.Lock()
	id, ok := srv.reg.add(stream)
	srv.mu.Unlock()
	if !ok {
		slog.Info("server full, dropping connection", "remote", stream.RemoteAddr())
		stream.Close()
		return
	}
	slog.Info("new connection", "remote", stream.RemoteAddr(), "slot", id)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msg, err := stream.ReceiveClient()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("dropping connection", "slot", id, "err", err)
			}
			srv.removeSlot(id, stream)
			return
		}

		srv.mu.Lock()
		keep := srv.handleMessage(id, msg)
		srv.mu.Unlock()
		if !keep {
			srv.removeSlot(id, stream)
			return
		}
	}
}

// removeSlot removes the slot if it is still owned by stream. The identity
// check keeps a stale goroutine from killing a connection that reused its
// slot id.
func (s *Server) removeSlot(id int, stream *protocol.Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := s.reg.get(id)
	if sl == nil || sl.stream != stream {
		return
	}
	s.removeLocked(id)
}

// removeLocked vacates the slot, closes its stream and notifies a playing
// partner. The notification is best-effort; the partner returns to Idle
// either way. Caller holds s.mu.
func (s *Server) removeLocked(id int) {
	sl := s.reg.clear(id)
	if sl == nil {
		return
	}

	switch sl.state {
	case StateWaiting:
		// A failed pairing leaves a Waiting slot whose code is no longer in
		// the map; if that code was since reissued, the entry belongs to
		// someone else. Only evict our own.
		if cid, open := s.openGames[sl.code]; open && cid == id {
			delete(s.openGames, sl.code)
		}
	case StatePlaying:
		if p := s.reg.get(sl.partner); p != nil && p.state == StatePlaying && p.partner == id {
			_ = p.stream.Send(protocol.ConnectionLost{})
			p.toIdle()
		}
	}

	_ = sl.stream.Close()
	slog.Info("connection closed", "slot", id, "state", sl.state)
}
