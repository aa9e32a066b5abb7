// Package transport serves the binary protocol over TCP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pjsph/slam/internal/broadcast"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/metrics"
	"github.com/pjsph/slam/pkg/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	readBufferSize = 4096
)

var errPeerClosed = errors.New("peer closed connection")

type Config struct {
	Addr string
	// Backlog is the number of outgoing frames buffered per connection.
	Backlog int
}

type Server struct {
	cfg        Config
	codec      *protocol.Codec
	hub        *broadcast.Hub
	dispatcher *Dispatcher
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wires a server. limiter may be nil to accept every packet.
func NewServer(cfg Config, codec *protocol.Codec, hub *broadcast.Hub, results ResultHandler, limiter ratelimit.Limiter, m *metrics.Metrics, logger *zap.Logger) *Server {
	if m == nil {
		m = metrics.NewNop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		codec:      codec,
		hub:        hub,
		dispatcher: NewDispatcher(results, limiter, m),
		metrics:    m,
		logger:     logger,
	}
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then closes every
// connection and waits for their goroutines. It returns nil on cancellation.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Transport listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				s.logger.Info("Transport stopped")
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.Warn("Accept failed, retrying", zap.Error(err))
				time.Sleep(50 * time.Millisecond)
				continue
			}
			s.wg.Wait()
			return fmt.Errorf("accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// Addr is the bound address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handle runs one connection. Reader and writer share a context, so either
// failing closes the socket and stops the other.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	id := uuid.NewString()
	remote := conn.RemoteAddr().String()
	log := s.logger.With(zap.String("conn", id), zap.String("remote", remote))

	mb := broadcast.NewMailbox(id, s.cfg.Backlog)
	s.hub.Register(mb)
	defer s.hub.Unregister(mb)

	log.Info("Client connected")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.readLoop(gctx, conn, mb, "tcp:"+remoteHost(conn), log)
	})
	g.Go(func() error {
		return s.writeLoop(gctx, conn, mb)
	})
	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, errPeerClosed), errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		log.Info("Client disconnected")
	case errors.Is(err, protocol.ErrUnknownPacket), errors.Is(err, protocol.ErrMalformedPayload):
		s.metrics.ProtocolErrors.Inc()
		log.Warn("Closing connection on protocol error", zap.Error(err))
	default:
		log.Warn("Connection failed", zap.Error(err))
	}
}

func (s *Server) readLoop(ctx context.Context, conn net.Conn, mb *broadcast.Mailbox, key string, log *zap.Logger) error {
	framer := protocol.NewFramer(s.codec, protocol.ServerBound)
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for {
				p, perr := framer.Next()
				if perr != nil {
					return perr
				}
				if p == nil {
					break
				}
				if derr := s.dispatcher.Dispatch(ctx, mb, key, p, log); derr != nil {
					return derr
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if ferr := framer.Close(); ferr != nil {
					log.Debug("Stream ended inside a packet", zap.Int("buffered", framer.Buffered()))
				}
				return errPeerClosed
			}
			return err
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn net.Conn, mb *broadcast.Mailbox) error {
	for {
		select {
		case frame := <-mb.Frames():
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if _, err := conn.Write(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func remoteHost(conn net.Conn) string {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
