package control

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu     sync.Mutex
	state  engine.State
	stops  int
	events []string
}

func (f *fakeController) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "pause")
	if f.state == engine.Idle {
		return engine.ErrNotRunning
	}
	f.state = engine.Paused
	return nil
}

func (f *fakeController) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "resume")
	if f.state == engine.Idle {
		return engine.ErrNotRunning
	}
	f.state = engine.Running
	return nil
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop")
	f.stops++
	f.state = engine.Idle
}

func (f *fakeController) Snapshot() engine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return engine.Snapshot{State: f.state, Mode: engine.CPUStressHeavy, Workers: 4}
}

// socketPath stays short; unix socket paths are limited to about 100 bytes.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "xeno")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "ctl.sock")
}

func startServer(t *testing.T, ctrl Controller) (*Server, string) {
	t.Helper()
	path := socketPath(t)
	srv := NewServer(path, ctrl, nil)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not shut down")
		}
	})
	return srv, path
}

func TestClientServerCommands(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{state: engine.Running}
	_, path := startServer(t, ctrl)
	client := NewClient(path, nil)
	ctx := context.Background()

	reply, err := client.Send(ctx, "pause")
	require.NoError(t, err)
	assert.Equal(t, "paused", reply)

	reply, err = client.Send(ctx, CmdStatus)
	require.NoError(t, err)
	assert.Contains(t, reply, "state=paused")
	assert.Contains(t, reply, "workers=4")

	reply, err = client.Send(ctx, CmdResume)
	require.NoError(t, err)
	assert.Equal(t, "resumed", reply)

	reply, err = client.Send(ctx, CmdStop)
	require.NoError(t, err)
	assert.Equal(t, "stopped", reply)

	_, err = client.Send(ctx, CmdPause)
	assert.ErrorIs(t, err, ErrRejected)
	assert.ErrorContains(t, err, engine.ErrNotRunning.Error())

	_, err = client.Send(ctx, "REBOOT")
	assert.ErrorIs(t, err, ErrRejected)

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	assert.Equal(t, []string{"pause", "resume", "stop", "pause"}, ctrl.events)
}

func TestServerHandlesSeveralLinesPerConnection(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{state: engine.Running}
	_, path := startServer(t, ctrl)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("PAUSE\n\nSTATUS\n"))
	require.NoError(t, err)

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(buf) == 0 || countLines(buf) < 2 {
		n, err := conn.Read(tmp)
		require.NoError(t, err)
		buf = append(buf, tmp[:n]...)
	}
	assert.Contains(t, string(buf), "OK paused\nOK state=paused")
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestServerRejectsPeer(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{state: engine.Running}
	path := socketPath(t)
	srv := NewServer(path, ctrl, nil)
	srv.checkPeer = func(*net.UnixConn) error { return assert.AnError }
	require.NoError(t, srv.Listen())
	go func() { _ = srv.Serve(context.Background()) }()
	defer srv.Close()

	// The server may hang up before the command is written, so only the
	// failure itself is certain.
	_, err := NewClient(path, nil).Send(context.Background(), CmdStop)
	assert.Error(t, err)
	ctrl.mu.Lock()
	assert.Zero(t, ctrl.stops)
	ctrl.mu.Unlock()
}

func TestListenRefusesLiveSocket(t *testing.T) {
	t.Parallel()

	_, path := startServer(t, &fakeController{})
	err := NewServer(path, &fakeController{}, nil).Listen()
	assert.ErrorContains(t, err, "already in use")
}

func TestListenReplacesStaleSocket(t *testing.T) {
	t.Parallel()

	path := socketPath(t)
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	l.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, l.Close())

	srv := NewServer(path, &fakeController{}, nil)
	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket removed on close")
}

func TestClientGivesUpAfterRetryWindow(t *testing.T) {
	t.Parallel()

	client := NewClient(socketPath(t), nil)
	client.RetryWindow = 100 * time.Millisecond
	client.RetryInterval = 20 * time.Millisecond

	begin := time.Now()
	_, err := client.Send(context.Background(), CmdStatus)
	assert.ErrorContains(t, err, "failed to connect")
	assert.Less(t, time.Since(begin), time.Second)
}

func TestServeWithoutListen(t *testing.T) {
	t.Parallel()

	err := NewServer(socketPath(t), &fakeController{}, nil).Serve(context.Background())
	assert.Error(t, err)
}

func TestServerDrivesEngine(t *testing.T) {
	t.Parallel()

	eng := engine.New(nil, nil)
	require.NoError(t, eng.Start(2, engine.CPUStressHeavy, engine.StartOptions{}))
	_, path := startServer(t, eng)
	client := NewClient(path, nil)

	_, err := client.Send(context.Background(), CmdPause)
	require.NoError(t, err)
	assert.Equal(t, engine.Paused, eng.State())

	_, err = client.Send(context.Background(), CmdStop)
	require.NoError(t, err)
	assert.Equal(t, engine.Idle, eng.State())
}
