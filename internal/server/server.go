// Package server implements the TCP catalog service. Each accepted
// connection gets its own session goroutine and its own catalog and
// directory handles, so connections contend only through the file locks.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"bookden"
)

// Server accepts catalog connections and runs a session per connection.
type Server struct {
	cfg *Config
	log *zap.Logger

	ln net.Listener
}

// New creates a server for cfg. Call Listen and then Serve.
func New(cfg *Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{cfg: cfg, log: log}
}

// Listen binds the configured address and prepares the data and report
// directories. It does not accept connections; call Serve for that.
func (s *Server) Listen() error {
	if err := bookden.InitDataDir(s.cfg.DataDir); err != nil {
		return fmt.Errorf("server: init data dir: %w", err)
	}
	if err := os.MkdirAll(s.cfg.ReportsDir, 0o755); err != nil {
		return fmt.Errorf("server: init reports dir: %w", err)
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is canceled, then closes the
// listener and waits for in-flight sessions to wind down.
func (s *Server) Serve(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.log.Info("server listening", zap.String("addr", s.ln.Addr().String()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return s.ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("server: accept: %w", err)
			}
			sess, err := newSession(conn, s.cfg, s.log)
			if err != nil {
				s.log.Error("session setup failed", zap.Error(err))
				conn.Close()
				continue
			}
			g.Go(func() error {
				sess.run(ctx)
				return nil
			})
		}
	})
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
