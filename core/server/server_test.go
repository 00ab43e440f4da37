package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/core/coordinator"
	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/protocol"
	"github.com/sushant-115/policytxn/core/simtime"
	"github.com/sushant-115/policytxn/pkg/connection"
)

type alwaysPass struct{}

func (alwaysPass) LocalAuth(simtime.Sleeper) bool { return true }
func (alwaysPass) Integrity(simtime.Sleeper) bool { return true }

type fleet struct {
	mu      sync.Mutex
	addrs   map[int]string
	servers map[int]*Server
	nodes   map[int]*coordinator.Node
	done    map[int]chan error
}

func (f *fleet) resolve(id int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addr, ok := f.addrs[id]
	if !ok {
		return "", fmt.Errorf("no node %d", id)
	}
	return addr, nil
}

func startFleet(t *testing.T, ctx context.Context, params protocol.Parameters, ids ...int) *fleet {
	t.Helper()
	f := &fleet{
		addrs:   make(map[int]string),
		servers: make(map[int]*Server),
		nodes:   make(map[int]*coordinator.Node),
		done:    make(map[int]chan error),
	}
	authority := policy.NewLocal(1, policy.NewTCPNotifier(f.resolve, time.Second), ids, zap.NewNop())
	for _, id := range ids {
		node, err := coordinator.NewNode(coordinator.Options{
			ID:          id,
			Authority:   authority,
			Checker:     alwaysPass{},
			Dialer:      connection.NewTCPDialer(f.resolve, time.Second),
			Params:      params,
			SleepMode:   simtime.Logical,
			Latency:     coordinator.Latency{Network: 5 * time.Millisecond},
			PeerTimeout: 5 * time.Second,
		})
		require.NoError(t, err)
		srv := New(node, 0, zap.NewNop())
		require.NoError(t, srv.Listen("127.0.0.1:0"))
		f.mu.Lock()
		f.addrs[id] = srv.Addr().String()
		f.mu.Unlock()
		f.nodes[id] = node
		f.servers[id] = srv

		done := make(chan error, 1)
		go func() { done <- srv.Serve(ctx) }()
		f.done[id] = done
	}
	return f
}

func (f *fleet) client(t *testing.T, id int) *connection.PeerConn {
	t.Helper()
	addr, err := f.resolve(id)
	require.NoError(t, err)
	c, err := connection.Dial(addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func (f *fleet) waitStopped(t *testing.T, id int) {
	t.Helper()
	select {
	case err := <-f.done[id]:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("node %d did not stop", id)
	}
}

func TestServer_DistributedTransactionOverTCP(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := startFleet(t, ctx, protocol.Parameters{ValidationMode: protocol.ViewStrict, PushMode: policy.PushOne}, 1, 2, 3)

	c := f.client(t, 1)
	for _, step := range []struct{ send, want string }{
		{"B 7,R 7 1 1", "ACK 1"},
		{"W 7 2 2", "ACK 2"},
		{"R 7 3 3", "ACK 1"},
		{"C 7", "ABORT VIEW_CONSISTENCY_FAIL"},
		{"EXIT", "FIN 20"},
	} {
		reply, err := c.Send(ctx, step.send)
		require.NoError(t, err)
		require.Equal(t, step.want, reply, "reply to %q", step.send)
	}
	require.Equal(t, policy.Version(2), f.nodes[2].Floor(), "the forced push reached node 2 over TCP")

	cancel()
	for id := range f.servers {
		f.waitStopped(t, id)
	}
}

func TestServer_KillStopsNode(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFleet(t, ctx, protocol.Parameters{}, 1)

	reply, err := f.client(t, 1).Send(ctx, "POLICYUPDATE 4")
	require.NoError(t, err)
	require.Equal(t, "ACK 4", reply)

	reply, err = f.client(t, 1).Send(ctx, "KILL")
	require.NoError(t, err)
	require.Equal(t, "ACK", reply)
	f.waitStopped(t, 1)

	_, err = connection.Dial(f.addrs[1], time.Second)
	require.Error(t, err)
}

func TestServer_WaitsForLiveSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := startFleet(t, ctx, protocol.Parameters{}, 1)

	live := f.client(t, 1)
	reply, err := live.Send(ctx, "R 1 1 1")
	require.NoError(t, err)
	require.Equal(t, "ACK 1", reply)

	require.NoError(t, f.servers[1].Close())
	select {
	case <-f.done[1]:
		t.Fatal("server returned with a session still open")
	case <-time.After(100 * time.Millisecond):
	}

	reply, err = live.Send(ctx, "C 1")
	require.NoError(t, err)
	require.Equal(t, "COMMIT", reply)
	reply, err = live.Send(ctx, "DONE")
	require.NoError(t, err)
	require.Equal(t, "FIN 0", reply)
	f.waitStopped(t, 1)
}

func TestServer_ServeBeforeListen(t *testing.T) {
	node, err := coordinator.NewNode(coordinator.Options{
		ID:        1,
		Authority: policy.NewLocal(1, nil, nil, nil),
		Checker:   alwaysPass{},
		Dialer:    connection.NewTCPDialer(func(int) (string, error) { return "", fmt.Errorf("none") }, time.Second),
	})
	require.NoError(t, err)
	srv := New(node, 5, nil)
	require.Error(t, srv.Serve(context.Background()))
	require.Nil(t, srv.Addr())
	require.NoError(t, srv.Close())
}
