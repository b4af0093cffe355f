package eventloop

import (
	"bytes"
	"io"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

type fakeHandle struct {
	pid         int
	running     bool
	terminating bool
	events      io.Reader
}

func (f *fakeHandle) Pid() int             { return f.pid }
func (f *fakeHandle) Running() bool        { return f.running }
func (f *fakeHandle) Terminating() bool    { return f.terminating }
func (f *fakeHandle) EventsFD() uintptr    { return 0 }
func (f *fakeHandle) EventsChannel() io.Reader { return f.events }

type fakePoller struct {
	waitResults [][]int
	waitIdx     int
}

func (p *fakePoller) Register(pid int, fd uintptr) error { return nil }
func (p *fakePoller) Unregister(pid int) error            { return nil }
func (p *fakePoller) Close() error                        { return nil }

func (p *fakePoller) Wait(dst []int) ([]int, error) {
	if p.waitIdx >= len(p.waitResults) {
		return dst, nil
	}
	r := p.waitResults[p.waitIdx]
	p.waitIdx++
	return append(dst, r...), nil
}

func encodeCleanupEvent(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.EvProcessCleanup))
	require.NoError(t, enc.Encode(uint64(7)))
	return buf.Bytes()
}

func TestWaitForEventsTerminatingFastPath(t *testing.T) {
	h := &fakeHandle{pid: 5, running: true, terminating: true, events: bytes.NewReader(encodeCleanupEvent(t))}
	loop := newLoopWithPoller(&fakePoller{})

	outcomes, err := loop.WaitForEvents([]ProcessHandle{h})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, 5, outcomes[0].Pid)
	require.Equal(t, protocol.EvProcessCleanup, outcomes[0].Event.Data.EventType())
}

func TestWaitForEventsTerminatingFastPathSynthesizesOnEOF(t *testing.T) {
	h := &fakeHandle{pid: 9, running: true, terminating: true, events: bytes.NewReader(nil)}
	loop := newLoopWithPoller(&fakePoller{})

	outcomes, err := loop.WaitForEvents([]ProcessHandle{h})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, protocol.EvProcessCleanup, outcomes[0].Event.Data.EventType())
}

func TestWaitForEventsPollsRunningProcesses(t *testing.T) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)
	require.NoError(t, enc.Encode(protocol.EvBreakpoint))
	require.NoError(t, enc.Encode(uint64(3)))
	require.NoError(t, enc.Encode(protocol.EventBreakpoint{Addr: 0x1000}))

	h := &fakeHandle{pid: 11, running: true, events: bytes.NewReader(buf.Bytes())}
	poller := &fakePoller{waitResults: [][]int{{11}}}
	loop := newLoopWithPoller(poller)

	outcomes, err := loop.WaitForEvents([]ProcessHandle{h})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.Equal(t, protocol.EvBreakpoint, outcomes[0].Event.Data.EventType())
}
