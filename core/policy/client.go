package policy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client talks to a remote authority server over its line protocol. Each call
// uses a fresh connection.
type Client struct {
	addr    string
	timeout time.Duration
}

// NewClient returns a Client for the authority listening on addr.
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{addr: addr, timeout: timeout}
}

// Current implements Authority.
func (c *Client) Current(ctx context.Context) (Version, error) {
	return c.roundTrip(ctx, "GET", "VERSION")
}

// RequestPush implements Authority.
func (c *Client) RequestPush(ctx context.Context, mode PushMode, target int) (Version, error) {
	return c.roundTrip(ctx, fmt.Sprintf("PUSH %d %d", int(mode), target), "ACK")
}

func (c *Client) roundTrip(ctx context.Context, cmd, want string) (Version, error) {
	reply, err := exchange(ctx, c.addr, c.timeout, cmd)
	if err != nil {
		return Unbound, fmt.Errorf("authority %s: %w", c.addr, err)
	}
	parts := strings.Fields(reply)
	if len(parts) != 2 || parts[0] != want {
		return Unbound, fmt.Errorf("authority %s: unexpected reply %q to %q", c.addr, reply, cmd)
	}
	v, err := ParseVersion(parts[1])
	if err != nil {
		return Unbound, fmt.Errorf("authority %s: bad version in %q: %w", c.addr, reply, err)
	}
	return v, nil
}

// TCPNotifier pushes versions to nodes with a POLICYUPDATE control message.
type TCPNotifier struct {
	resolve func(nodeID int) (string, error)
	timeout time.Duration
}

// NewTCPNotifier returns a notifier that finds node addresses through resolve.
func NewTCPNotifier(resolve func(nodeID int) (string, error), timeout time.Duration) *TCPNotifier {
	return &TCPNotifier{resolve: resolve, timeout: timeout}
}

// Notify implements Notifier.
func (n *TCPNotifier) Notify(ctx context.Context, nodeID int, v Version) error {
	addr, err := n.resolve(nodeID)
	if err != nil {
		return err
	}
	reply, err := exchange(ctx, addr, n.timeout, "POLICYUPDATE "+v.String())
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "ACK") {
		return fmt.Errorf("node %d rejected policy update: %q", nodeID, reply)
	}
	return nil
}

// exchange sends one line and reads one line back on a short-lived connection.
func exchange(ctx context.Context, addr string, timeout time.Duration, line string) (string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if timeout > 0 {
		conn.SetDeadline(time.Now().Add(timeout))
	}
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		return "", err
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}
