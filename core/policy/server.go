package policy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Server exposes a Local authority on a TCP line protocol:
//
//	GET                 -> VERSION <n>
//	BUMP                -> VERSION <n>
//	PUSH <mode> <node>  -> ACK <n>
type Server struct {
	authority *Local
	logger    *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer wraps authority in a Server.
func NewServer(authority *Local, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{authority: authority, logger: logger}
}

// Listen binds the server to addr.
func (s *Server) Listen(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("authority listen on %s: %w", addr, err)
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

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("authority server is not listening")
	}
	go func() {
		<-ctx.Done()
		l.Close()
	}()
	s.logger.Info("Policy authority listening", zap.String("addr", l.Addr().String()))
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.logger.Error("Error accepting connection", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// Close stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Warn("Error reading from client", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		reply := s.handle(ctx, line)
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			s.logger.Warn("Error writing reply", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, line string) string {
	parts := strings.Fields(line)
	switch strings.ToUpper(parts[0]) {
	case "GET":
		v, _ := s.authority.Current(ctx)
		return "VERSION " + v.String()
	case "BUMP":
		return "VERSION " + s.authority.Bump().String()
	case "PUSH":
		if len(parts) != 3 {
			return "ERROR PUSH requires <mode> <node>"
		}
		mode, err := strconv.Atoi(parts[1])
		if err != nil || !PushMode(mode).Valid() {
			return "ERROR bad push mode " + parts[1]
		}
		target, err := strconv.Atoi(parts[2])
		if err != nil {
			return "ERROR bad node id " + parts[2]
		}
		// Delivery failures are logged by the authority; the bump itself stands.
		v, _ := s.authority.RequestPush(ctx, PushMode(mode), target)
		return "ACK " + v.String()
	default:
		return "ERROR unknown command " + parts[0]
	}
}
