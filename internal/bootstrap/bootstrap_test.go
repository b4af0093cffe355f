package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// fakeChild and fakeEndpoints stand in for a real spawned debuggee and
// its FIFOs: os.Pipe pairs instead of named pipes, an ordinary file
// instead of a FIFO for the events-endpoint existence check.
type fakeChild struct {
	pid int
	ep  *fakeEndpoints
}

func (c *fakeChild) Pid() int                { return c.pid }
func (c *fakeChild) TryWait() error           { return nil }
func (c *fakeChild) Endpoints() ipc.Endpoints { return c.ep }

type fakeEndpoints struct {
	eventsPath string

	procReq, procResp, procEvents   ipc.Channel
	threadReq, threadResp           ipc.Channel
	agentProcReq, agentProcResp     *os.File
	agentThreadReq, agentThreadResp *os.File
}

func newFakeEndpoints(t *testing.T) *fakeEndpoints {
	t.Helper()

	dir := t.TempDir()
	eventsPath := filepath.Join(dir, "events")
	f, err := os.Create(eventsPath)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	procReqR, procReqW, err := os.Pipe()
	require.NoError(t, err)
	procRespR, procRespW, err := os.Pipe()
	require.NoError(t, err)
	threadReqR, threadReqW, err := os.Pipe()
	require.NoError(t, err)
	threadRespR, threadRespW, err := os.Pipe()
	require.NoError(t, err)

	return &fakeEndpoints{
		eventsPath:     eventsPath,
		procReq:        procReqW,
		procResp:       procRespR,
		procEvents:     mustOpen(t, eventsPath),
		threadReq:      threadReqW,
		threadResp:     threadRespR,
		agentProcReq:   procReqR,
		agentProcResp:  procRespW,
		agentThreadReq: threadReqR,
		agentThreadResp: threadRespW,
	}
}

func mustOpen(t *testing.T, path string) *os.File {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	return f
}

func (e *fakeEndpoints) RequestPath() string                  { return "fake-request" }
func (e *fakeEndpoints) ResponsePath() string                 { return "fake-response" }
func (e *fakeEndpoints) EventsPath() string                   { return e.eventsPath }
func (e *fakeEndpoints) ThreadRequestPath(tid uint64) string  { return "fake-thread-request" }
func (e *fakeEndpoints) ThreadResponsePath(tid uint64) string { return "fake-thread-response" }

func (e *fakeEndpoints) OpenProcessChannels() (request, response, events ipc.Channel, err error) {
	return e.procReq, e.procResp, e.procEvents, nil
}

func (e *fakeEndpoints) OpenThreadChannels(tid uint64) (request, response ipc.Channel, err error) {
	return e.threadReq, e.threadResp, nil
}

// serveInit plays the agent's side of one Init handshake: decode the
// request's type tag (Init carries no body) and reply with an Init
// response envelope.
func serveInit(t *testing.T, agentReq, agentResp *os.File, tid uint64) {
	t.Helper()

	var req protocol.RequestType
	require.NoError(t, cbor.NewDecoder(agentReq).Decode(&req))
	require.Equal(t, protocol.ReqInit, req)

	enc := cbor.NewEncoder(agentResp)
	require.NoError(t, enc.Encode(protocol.RespValid))
	require.NoError(t, enc.Encode(protocol.ReqInit))
	require.NoError(t, enc.Encode(protocol.InitResponse{
		V:    1,
		Arch: protocol.ArchX86_64,
		Mt:   true,
		Tid:  tid,
	}))
}

func TestHandshakeSucceeds(t *testing.T) {
	ep := newFakeEndpoints(t)
	t.Cleanup(func() {
		ep.agentProcReq.Close()
		ep.agentProcResp.Close()
		ep.agentThreadReq.Close()
		ep.agentThreadResp.Close()
	})
	child := &fakeChild{pid: 123, ep: ep}

	done := make(chan struct{}, 2)
	go func() {
		serveInit(t, ep.agentProcReq, ep.agentProcResp, 1)
		done <- struct{}{}
	}()
	go func() {
		serveInit(t, ep.agentThreadReq, ep.agentThreadResp, 1)
		done <- struct{}{}
	}()

	result, err := Handshake(child, nil)
	require.NoError(t, err)
	<-done
	<-done

	require.Equal(t, uint64(1), result.Init.Tid)
	require.Equal(t, protocol.ArchX86_64, result.Init.Arch)
	require.True(t, result.Init.Mt)
}

func TestExchangeInit(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	require.NoError(t, err)
	respR, respW, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		reqR.Close()
		reqW.Close()
		respR.Close()
		respW.Close()
	})

	done := make(chan error, 1)
	go func() {
		serveInit(t, reqR, respW, 7)
		done <- nil
	}()

	init, err := ExchangeInit(reqW, respR)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, uint64(7), init.Tid)
}
