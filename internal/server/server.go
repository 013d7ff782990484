package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eternalApril/moonkv/internal/metrics"
	"github.com/eternalApril/moonkv/internal/resp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server accepts client connections and feeds their requests to the engine,
// one goroutine per connection
type Server struct {
	engine  *Engine
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	listener net.Listener
	peers    map[*Peer]struct{}
	wg       sync.WaitGroup
	closing  atomic.Bool

	// protoWarn throttles protocol error warnings, the metrics count every one
	protoWarn rate.Sometimes
}

func NewServer(engine *Engine, logger *zap.Logger, m *metrics.Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		engine:  engine,
		logger:  logger,
		metrics: m,
		peers:   make(map[*Peer]struct{}),

		protoWarn: rate.Sometimes{Interval: time.Second},
	}
}

// Serve accepts connections on ln until Shutdown is called.
// It returns nil after a shutdown and the accept error otherwise
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if s.closing.Load() {
		ln.Close() //nolint:errcheck
		return nil
	}

	s.logger.Info("listening on", zap.String("address", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("accept error", zap.Error(err))
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		// Shutdown may already be waiting; Add must not race with that Wait
		s.mu.Lock()
		if s.closing.Load() {
			s.mu.Unlock()
			conn.Close() //nolint:errcheck
			return nil
		}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

// Addr returns the listener address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops accepting connections and lets every client finish the command it is
// running. Connections still open when ctx ends are closed forcibly and ctx.Err is returned
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing.Store(true)
	if s.listener != nil {
		s.listener.Close() //nolint:errcheck
	}
	// Wake up readers blocked on idle connections; replies in flight are still written
	for p := range s.peers {
		p.conn.SetReadDeadline(time.Now()) //nolint:errcheck
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All connections closed gracefully")
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for p := range s.peers {
			p.Close() //nolint:errcheck
		}
		s.mu.Unlock()
		s.logger.Warn("Shutdown timed out, forcing exit")
		return ctx.Err()
	}
}

func (s *Server) track(p *Peer, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.peers[p] = struct{}{}
		// a connection accepted while shutting down must not block the wait
		if s.closing.Load() {
			p.conn.SetReadDeadline(time.Now()) //nolint:errcheck
		}
		return
	}
	delete(s.peers, p)
}

// handleConnection handles a connection for a single user
func (s *Server) handleConnection(conn net.Conn) {
	peer := NewPeer(conn)
	s.track(peer, true)
	s.metrics.ConnOpened()

	if s.logger.Core().Enabled(zap.DebugLevel) {
		s.logger.Debug("client connected",
			zap.String("id", peer.ID()),
			zap.String("addr", peer.Addr()),
		)
	}

	defer func() {
		s.track(peer, false)
		s.metrics.ConnClosed()
		peer.Close() //nolint:errcheck
		// log connection close
		if s.logger.Core().Enabled(zap.DebugLevel) {
			s.logger.Debug("client disconnected", zap.String("id", peer.ID()))
		}
	}()

	for {
		req, err := peer.ReadCommand()
		if err != nil {
			s.readFailed(peer, err)
			return
		}

		// an empty inline line is not a command
		if req.Type == resp.TypeArray && len(req.Array) == 0 && !req.IsNull {
			if peer.InputBuffered() == 0 {
				if err := peer.Flush(); err != nil {
					return
				}
			}
			continue
		}

		result := s.engine.Execute(req)

		if err = peer.Send(result); err != nil {
			s.logger.Error("error writing response", zap.String("id", peer.ID()), zap.Error(err))
			return
		}

		if peer.InputBuffered() == 0 {
			if err := peer.Flush(); err != nil {
				return
			}
		}
	}
}

// readFailed reports why a connection is about to be closed. Malformed input gets an
// error reply first so the client can tell it apart from a dropped connection
func (s *Server) readFailed(peer *Peer, err error) {
	switch {
	case errors.Is(err, resp.ErrProtocol):
		s.metrics.ProtocolError()
		s.protoWarn.Do(func() {
			s.logger.Warn("protocol error, closing connection",
				zap.String("id", peer.ID()),
				zap.String("addr", peer.Addr()),
				zap.Error(err),
			)
		})

		if err := peer.Send(resp.MakeError("ERR Protocol error: " + resp.ProtocolReason(err))); err == nil {
			peer.Flush() //nolint:errcheck
		}

	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), s.closing.Load():
		peer.Flush() //nolint:errcheck

	default:
		s.logger.Warn("read command failed", zap.String("id", peer.ID()), zap.Error(err))
	}
}
