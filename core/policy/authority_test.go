package policy

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  map[int][]Version
	fails map[int]bool
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{sent: make(map[int][]Version), fails: make(map[int]bool)}
}

func (n *recordingNotifier) Notify(ctx context.Context, nodeID int, v Version) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fails[nodeID] {
		return errors.New("unreachable")
	}
	n.sent[nodeID] = append(n.sent[nodeID], v)
	return nil
}

func TestLocal_RequestPushModes(t *testing.T) {
	ctx := context.Background()
	notifier := newRecordingNotifier()
	a := NewLocal(3, notifier, []int{1, 2, 3}, zap.NewNop())

	v, err := a.RequestPush(ctx, PushNone, 2)
	require.NoError(t, err)
	require.Equal(t, Version(3), v)
	require.Empty(t, notifier.sent)

	v, err = a.RequestPush(ctx, PushOne, 2)
	require.NoError(t, err)
	require.Equal(t, Version(4), v)
	require.Equal(t, map[int][]Version{2: {4}}, notifier.sent)

	v, err = a.RequestPush(ctx, PushAll, 0)
	require.NoError(t, err)
	require.Equal(t, Version(5), v)
	require.Equal(t, []Version{5}, notifier.sent[1])
	require.Equal(t, []Version{4, 5}, notifier.sent[2])
	require.Equal(t, []Version{5}, notifier.sent[3])

	v, err = a.RequestPush(ctx, PushSilent, 1)
	require.NoError(t, err)
	require.Equal(t, Version(6), v)
	require.Len(t, notifier.sent[1], 1)

	cur, err := a.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, Version(6), cur)
}

func TestLocal_PushAllReportsUnreachableNodes(t *testing.T) {
	notifier := newRecordingNotifier()
	notifier.fails[2] = true
	a := NewLocal(1, notifier, []int{1, 2}, zap.NewNop())

	v, err := a.RequestPush(context.Background(), PushAll, 0)
	require.Error(t, err)
	require.Equal(t, Version(2), v, "the bump stands even when delivery fails")
	require.Equal(t, []Version{2}, notifier.sent[1])
}

func TestServer_ClientRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A fake node that acknowledges POLICYUPDATE.
	nodeListener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer nodeListener.Close()
	updates := make(chan string, 1)
	go func() {
		conn, err := nodeListener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		updates <- string(buf[:n])
		conn.Write([]byte("ACK 8\n"))
	}()

	notifier := NewTCPNotifier(func(nodeID int) (string, error) {
		return nodeListener.Addr().String(), nil
	}, time.Second)
	srv := NewServer(NewLocal(7, notifier, []int{1}, zap.NewNop()), zap.NewNop())
	require.NoError(t, srv.Listen("127.0.0.1:0"))
	go srv.Serve(ctx)

	client := NewClient(srv.Addr().String(), time.Second)
	v, err := client.Current(ctx)
	require.NoError(t, err)
	require.Equal(t, Version(7), v)

	v, err = client.RequestPush(ctx, PushOne, 1)
	require.NoError(t, err)
	require.Equal(t, Version(8), v)

	select {
	case got := <-updates:
		require.Equal(t, "POLICYUPDATE "+strconv.Itoa(8)+"\n", got)
	case <-time.After(2 * time.Second):
		t.Fatal("node never received the policy update")
	}
}

func TestLocal_Run(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := NewLocal(1, nil, nil, nil)
	done := make(chan struct{})
	go func() {
		a.Run(ctx, time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool {
		v, _ := a.Current(ctx)
		return v >= 3
	}, time.Second, time.Millisecond)
	cancel()
	<-done
}
