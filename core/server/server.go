// Package server runs a coordinator Node behind a TCP listener, one session
// per accepted connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/policytxn/core/coordinator"
)

// Server accepts transaction connections for a Node. It stops when its
// context is cancelled, when Close is called or when the node receives KILL.
type Server struct {
	node    *coordinator.Node
	limiter *rate.Limiter
	logger  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Server for node. acceptRate caps new sessions per second;
// zero or less means unlimited.
func New(node *coordinator.Node, acceptRate float64, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if acceptRate > 0 {
		burst := int(acceptRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(acceptRate), burst)
	}
	return &Server{node: node, limiter: limiter, logger: logger}
}

// Listen binds the server to addr.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("node %d listen on %s: %w", s.node.ID(), addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until shutdown, then waits for live sessions to
// finish.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("server is not listening")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
		case <-s.node.Killed():
			s.logger.Info("KILL received, closing listener")
		}
		l.Close()
	}()

	s.logger.Info("Node listening", zap.Int("nodeID", s.node.ID()), zap.String("addr", l.Addr().String()))
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("Error accepting connection", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.node.Serve(ctx, conn)
		}()
	}
	l.Close()
	s.wg.Wait()
	s.logger.Info("Node stopped", zap.Int("nodeID", s.node.ID()))
	return nil
}

// Close stops the listener. Serve returns once live sessions end.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
