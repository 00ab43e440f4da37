package coordinator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/core/simtime"
)

// scriptedChecker returns fixed verdicts and counts calls.
type scriptedChecker struct {
	mu             sync.Mutex
	auth           bool
	integrity      bool
	authCalls      int
	integrityCalls int
}

func (c *scriptedChecker) LocalAuth(simtime.Sleeper) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authCalls++
	return c.auth
}

func (c *scriptedChecker) Integrity(simtime.Sleeper) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.integrityCalls++
	return c.integrity
}

func (c *scriptedChecker) set(authOK, integrityOK bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.auth, c.integrity = authOK, integrityOK
}

func (c *scriptedChecker) calls() (authCalls, integrityCalls int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authCalls, c.integrityCalls
}

// countingAuthority wraps a Local authority and counts calls.
type countingAuthority struct {
	*policy.Local
	mu           sync.Mutex
	currentCalls int
	pushCalls    int
}

func (a *countingAuthority) Current(ctx context.Context) (policy.Version, error) {
	a.mu.Lock()
	a.currentCalls++
	a.mu.Unlock()
	return a.Local.Current(ctx)
}

func (a *countingAuthority) RequestPush(ctx context.Context, mode policy.PushMode, target int) (policy.Version, error) {
	a.mu.Lock()
	a.pushCalls++
	a.mu.Unlock()
	return a.Local.RequestPush(ctx, mode, target)
}

func (a *countingAuthority) counts() (current, push int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentCalls, a.pushCalls
}

// nodeNotifier delivers pushes straight into in-process nodes.
type nodeNotifier struct {
	nodes map[int]*Node
}

func (n *nodeNotifier) Notify(ctx context.Context, nodeID int, v policy.Version) error {
	node, ok := n.nodes[nodeID]
	if !ok {
		return fmt.Errorf("no node %d", nodeID)
	}
	node.UpdateFloor(v)
	return nil
}

// cluster is a set of in-process nodes wired together with net.Pipe.
type cluster struct {
	t         *testing.T
	authority *countingAuthority
	nodes     map[int]*Node
	checkers  map[int]*scriptedChecker
	wg        sync.WaitGroup
}

func newCluster(t *testing.T, params protocol.Parameters, ids ...int) *cluster {
	t.Helper()
	c := &cluster{
		t:        t,
		nodes:    make(map[int]*Node),
		checkers: make(map[int]*scriptedChecker),
	}
	c.authority = &countingAuthority{Local: policy.NewLocal(1, &nodeNotifier{nodes: c.nodes}, ids, zap.NewNop())}
	for _, id := range ids {
		checker := &scriptedChecker{auth: true, integrity: true}
		node, err := NewNode(Options{
			ID:          id,
			Authority:   c.authority,
			Checker:     checker,
			Dialer:      c.dial,
			Params:      params,
			SleepMode:   simtime.Logical,
			PeerTimeout: 5 * time.Second,
		})
		require.NoError(t, err)
		c.nodes[id] = node
		c.checkers[id] = checker
	}
	t.Cleanup(c.wg.Wait)
	return c
}

func (c *cluster) dial(ctx context.Context, nodeID int) (net.Conn, error) {
	node, ok := c.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("connection refused by node %d", nodeID)
	}
	local, remote := net.Pipe()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		node.Serve(context.Background(), remote)
	}()
	return local, nil
}

// session opens a coordinator session on node id, released at test end.
func (c *cluster) session(id int) *Session {
	s := c.nodes[id].NewSession("test")
	c.t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func do(t *testing.T, s *Session, payload string) string {
	t.Helper()
	reply, _, err := s.Handle(context.Background(), payload)
	require.NoError(t, err)
	return reply
}
