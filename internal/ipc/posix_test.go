//go:build linux || darwin

package ipc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// fakeAgentDir creates the three top-level FIFOs a real runtime agent
// would create, exercising the exact open-order contract
// OpenProcessChannels relies on.
func fakeAgentDir(t *testing.T) (*PosixEndpoints, string) {
	t.Helper()
	dir := t.TempDir()
	ep := NewPosixEndpoints(dir, 4242)
	require.NoError(t, os.MkdirAll(ep.Dir(), 0700))

	require.NoError(t, unix.Mkfifo(ep.RequestPath(), 0600))
	require.NoError(t, unix.Mkfifo(ep.ResponsePath(), 0600))
	require.NoError(t, unix.Mkfifo(ep.EventsPath(), 0600))

	return ep, dir
}

func TestPosixEndpointsPaths(t *testing.T) {
	ep := NewPosixEndpoints("/tmp/udi/alice", 99)
	require.Equal(t, filepath.Join("/tmp/udi/alice", "99", "request"), ep.RequestPath())
	require.Equal(t, filepath.Join("/tmp/udi/alice", "99", "response"), ep.ResponsePath())
	require.Equal(t, filepath.Join("/tmp/udi/alice", "99", "events"), ep.EventsPath())
	require.Equal(t, filepath.Join("/tmp/udi/alice", "99", "0000000000000001", "request"), ep.ThreadRequestPath(1))
}

// TestOpenProcessChannelsStrictOrder opens the agent's end of each FIFO
// in the same order the host opens its end (request, then response,
// then events), the ordering the POSIX FIFO open-order rule requires
// to avoid a deadlock.
func TestOpenProcessChannelsStrictOrder(t *testing.T) {
	ep, _ := fakeAgentDir(t)

	agentErrCh := make(chan error, 1)
	go func() {
		agentErrCh <- serveAgentSide(ep)
	}()

	request, response, events, err := ep.OpenProcessChannels()
	require.NoError(t, err)
	defer request.Close()
	defer response.Close()
	defer events.Close()

	require.NoError(t, <-agentErrCh)

	_, err = request.Write([]byte("hi"))
	require.NoError(t, err)

	buf := make([]byte, 2)
	n, err := response.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "ok", string(buf))
}

// serveAgentSide opens the agent's end of the triad in the same order
// the host does, then echoes "ok" back on the response pipe once it
// reads anything from the request pipe.
func serveAgentSide(ep *PosixEndpoints) error {
	reqRead, err := os.Open(ep.RequestPath())
	if err != nil {
		return err
	}
	defer reqRead.Close()

	respWrite, err := os.OpenFile(ep.ResponsePath(), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer respWrite.Close()

	evWrite, err := os.OpenFile(ep.EventsPath(), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer evWrite.Close()

	buf := make([]byte, 2)
	if _, err := reqRead.Read(buf); err != nil {
		return err
	}

	_, err = respWrite.Write([]byte("ok"))
	return err
}
