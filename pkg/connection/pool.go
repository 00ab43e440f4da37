// Package connection provides the per-session peer connection pool. A
// coordinator session opens at most one link to each peer node, lazily, and
// tears all of them down when the transaction ends.
package connection

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ErrPoolClosed is returned by Get after Release.
var ErrPoolClosed = errors.New("connection pool is closed")

// releaseMessage tells a peer session that the coordinator is done with it.
const releaseMessage = "DONE"

// Dialer opens a link to a node.
type Dialer func(ctx context.Context, nodeID int) (net.Conn, error)

// NewTCPDialer returns a Dialer that resolves node ids through resolve.
func NewTCPDialer(resolve func(nodeID int) (string, error), timeout time.Duration) Dialer {
	return func(ctx context.Context, nodeID int) (net.Conn, error) {
		addr, err := resolve(nodeID)
		if err != nil {
			return nil, err
		}
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

// ErrBroken is returned by Send on a link whose earlier exchange failed.
var ErrBroken = errors.New("peer connection is broken")

// PeerConn is one persistent request/response link. A failed exchange leaves
// the stream out of step, so the link is closed and marked broken.
type PeerConn struct {
	NodeID int

	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	broken  *atomic.Bool
}

// NewPeerConn wraps an established connection. timeout bounds every round
// trip; zero means no deadline.
func NewPeerConn(nodeID int, conn net.Conn, timeout time.Duration) *PeerConn {
	return &PeerConn{NodeID: nodeID, conn: conn, reader: bufio.NewReader(conn), timeout: timeout, broken: atomic.NewBool(false)}
}

// Dial connects to addr directly, outside any pool.
func Dial(addr string, timeout time.Duration) (*PeerConn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return NewPeerConn(-1, conn, timeout), nil
}

// Send writes one payload and waits for its one-line reply. A PeerConn must
// not be used by two goroutines at once.
func (c *PeerConn) Send(ctx context.Context, payload string) (string, error) {
	if c.broken.Load() {
		return "", fmt.Errorf("send to node %d: %w", c.NodeID, ErrBroken)
	}
	deadline := time.Time{}
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	c.conn.SetDeadline(deadline)

	if _, err := c.conn.Write([]byte(payload + "\n")); err != nil {
		c.markBroken()
		return "", fmt.Errorf("send to node %d: %w", c.NodeID, err)
	}
	reply, err := c.reader.ReadString('\n')
	if err != nil {
		// A late reply would otherwise be read as the answer to the next payload.
		c.markBroken()
		return "", fmt.Errorf("read from node %d: %w", c.NodeID, err)
	}
	return strings.TrimSpace(reply), nil
}

// Broken reports whether an exchange on c has failed.
func (c *PeerConn) Broken() bool {
	return c.broken.Load()
}

func (c *PeerConn) markBroken() {
	if c.broken.CompareAndSwap(false, true) {
		c.conn.Close()
	}
}

// Close closes the underlying connection.
func (c *PeerConn) Close() error {
	return c.conn.Close()
}

// Pool caches one PeerConn per peer. It belongs to a single session and is
// not safe for concurrent Get; distinct PeerConns it hands out may be used
// concurrently.
type Pool struct {
	dial    Dialer
	timeout time.Duration
	logger  *zap.Logger

	conns  map[int]*PeerConn
	order  []int
	lost   []int
	closed bool
}

// NewPool returns an empty pool.
func NewPool(dial Dialer, timeout time.Duration, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		dial:    dial,
		timeout: timeout,
		logger:  logger,
		conns:   make(map[int]*PeerConn),
	}
}

// Get returns the link to nodeID, dialling it on first use. A broken link is
// evicted and redialled. created is true when this call opened the link.
func (p *Pool) Get(ctx context.Context, nodeID int) (conn *PeerConn, created bool, err error) {
	if p.closed {
		return nil, false, ErrPoolClosed
	}
	if c, ok := p.conns[nodeID]; ok {
		if !c.Broken() {
			return c, false, nil
		}
		p.evict(nodeID)
	}
	raw, err := p.dial(ctx, nodeID)
	if err != nil {
		return nil, false, fmt.Errorf("dial node %d: %w", nodeID, err)
	}
	c := NewPeerConn(nodeID, raw, p.timeout)
	p.conns[nodeID] = c
	p.order = append(p.order, nodeID)
	p.logger.Debug("Opened peer connection", zap.Int("peer", nodeID))
	return c, true, nil
}

// Peers returns the healthy pooled links in the order they were opened.
// Broken links are evicted.
func (p *Pool) Peers() []*PeerConn {
	p.evictBroken()
	out := make([]*PeerConn, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.conns[id])
	}
	return out
}

// Len returns the number of healthy pooled links.
func (p *Pool) Len() int {
	p.evictBroken()
	return len(p.conns)
}

func (p *Pool) evictBroken() {
	for _, id := range append([]int(nil), p.order...) {
		if p.conns[id].Broken() {
			p.evict(id)
		}
	}
}

func (p *Pool) evict(nodeID int) {
	delete(p.conns, nodeID)
	for i, id := range p.order {
		if id == nodeID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.lost = append(p.lost, nodeID)
	p.logger.Debug("Evicted broken peer connection", zap.Int("peer", nodeID))
}

// Lost returns the peers whose link broke during the session, in eviction
// order. A redialled peer stays listed since its earlier session is gone.
func (p *Pool) Lost() []int {
	p.evictBroken()
	return append([]int(nil), p.lost...)
}

// Release sends the terminal control message to every peer, closes every
// link and marks the pool closed. Peer failures are logged, not returned.
func (p *Pool) Release(ctx context.Context) {
	if p.closed {
		return
	}
	p.evictBroken()
	p.closed = true
	for _, id := range p.order {
		c := p.conns[id]
		if reply, err := c.Send(ctx, releaseMessage); err != nil {
			p.logger.Warn("Failed to release peer", zap.Int("peer", id), zap.Error(err))
		} else {
			p.logger.Debug("Released peer", zap.Int("peer", id), zap.String("reply", reply))
		}
		c.Close()
	}
	p.conns = make(map[int]*PeerConn)
	p.order = nil
}
