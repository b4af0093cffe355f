package udi

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ehrlich-b/go-udi/internal/bootstrap"
	"github.com/ehrlich-b/go-udi/internal/dispatch"
	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/logging"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// processFileContext is the live process-level channel triad; nil once
// the process has been cleaned up (ProcessCleanup/EOF), after which
// every operation fails with ErrProcessTerminated.
type processFileContext struct {
	request  ipc.Channel
	response ipc.Channel
	events   ipc.Channel
}

func (c *processFileContext) close() {
	if c == nil {
		return
	}
	c.request.Close()
	c.response.Close()
	c.events.Close()
}

type processState struct {
	running     bool
	terminating bool
	threads     []*Thread
	fileCtx     *processFileContext
	userData    any
}

// Process is a live (or recently terminated) debuggee: one Init
// handshake's worth of identity plus the append-only thread list and
// channel triad §5 describes as being protected by a single lock.
type Process struct {
	pid          uint32
	architecture Architecture
	multithread  bool
	endpoints    ipc.Endpoints
	logger       *logging.Logger
	observer     Observer

	state *Guarded[processState]
}

// PID returns the debuggee's OS process id.
func (p *Process) PID() uint32 { return p.pid }

// Architecture returns the instruction set reported at handshake.
func (p *Process) Architecture() Architecture { return p.architecture }

// MultithreadCapable reports whether the agent reported multithread
// support during the handshake.
func (p *Process) MultithreadCapable() bool { return p.multithread }

// IsRunning reports whether the process is currently believed to be
// executing (true immediately after Continue, cleared by the event
// loop before returning any event).
func (p *Process) IsRunning() bool {
	running := false
	_ = p.state.With(func(s *processState) error {
		running = s.running
		return nil
	})
	return running
}

// IsTerminated reports whether the process's channels have been torn
// down (ProcessCleanup observed); no further operations are possible.
func (p *Process) IsTerminated() bool {
	terminated := false
	_ = p.state.With(func(s *processState) error {
		terminated = s.fileCtx == nil
		return nil
	})
	return terminated
}

// Threads returns a snapshot of the process's thread list. The slice
// is append-only under the process lock, so previously returned
// *Thread pointers remain valid even after later appends.
func (p *Process) Threads() []*Thread {
	var out []*Thread
	_ = p.state.With(func(s *processState) error {
		out = append(out, s.threads...)
		return nil
	})
	return out
}

// UserData returns the caller-attached value, or nil if none was set.
func (p *Process) UserData() any {
	var data any
	_ = p.state.With(func(s *processState) error {
		data = s.userData
		return nil
	})
	return data
}

// SetUserData attaches an arbitrary caller value to the process.
func (p *Process) SetUserData(data any) {
	_ = p.state.With(func(s *processState) error {
		s.userData = data
		return nil
	})
}

func (p *Process) fileContext(s *processState) (*processFileContext, error) {
	if s.fileCtx == nil {
		return nil, &Error{Op: "process", Pid: p.pid, Code: Request, Msg: ErrProcessTerminated.Error(), Inner: ErrProcessTerminated}
	}
	return s.fileCtx, nil
}

// Continue resumes every stopped thread with no signal delivered. Per
// §4.5, if the process is terminating the request is written but no
// response is read — the agent may tear down before it can reply —
// and running is still set true.
func (p *Process) Continue() error {
	return p.state.With(func(s *processState) error {
		ctx, err := p.fileContext(s)
		if err != nil {
			return err
		}

		req := protocol.Continue{Sig: 0}
		start := time.Now()

		if s.terminating {
			if err := dispatch.SendRequestNoResponse(ctx.request, req); err != nil {
				p.observeRequest("continue", start, err)
				return p.wrapIOError("continue", err)
			}
		} else {
			if err := dispatch.SendRequestNoData(ctx.request, ctx.response, req); err != nil {
				p.observeRequest("continue", start, err)
				return p.wrapRequestError("continue", err)
			}
		}

		p.observeRequest("continue", start, nil)
		s.running = true
		return nil
	})
}

// CreateBreakpoint allocates a breakpoint at addr without installing
// the trap instruction.
func (p *Process) CreateBreakpoint(addr uint64) error {
	return p.sendNoData("create_breakpoint", protocol.CreateBreakpoint{Addr: addr})
}

// InstallBreakpoint writes the trap instruction for a previously
// created breakpoint.
func (p *Process) InstallBreakpoint(addr uint64) error {
	return p.sendNoData("install_breakpoint", protocol.InstallBreakpoint{Addr: addr})
}

// RemoveBreakpoint restores the original instruction without
// forgetting the breakpoint's address.
func (p *Process) RemoveBreakpoint(addr uint64) error {
	return p.sendNoData("remove_breakpoint", protocol.RemoveBreakpoint{Addr: addr})
}

// DeleteBreakpoint forgets a breakpoint entirely.
func (p *Process) DeleteBreakpoint(addr uint64) error {
	return p.sendNoData("delete_breakpoint", protocol.DeleteBreakpoint{Addr: addr})
}

// ReadMem reads length bytes from the debuggee's address space
// starting at addr.
func (p *Process) ReadMem(addr uint64, length uint32) ([]byte, error) {
	var out []byte
	err := p.state.With(func(s *processState) error {
		ctx, err := p.fileContext(s)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := dispatch.SendRequest[protocol.ReadMemoryResponse](ctx.request, ctx.response, protocol.ReadMemory{Addr: addr, Len: length})
		p.observeRequest("read_mem", start, err)
		if err != nil {
			return p.wrapRequestError("read_mem", err)
		}
		out = resp.Data
		return nil
	})
	return out, err
}

// WriteMem writes data into the debuggee's address space at addr.
func (p *Process) WriteMem(addr uint64, data []byte) error {
	return p.sendNoData("write_mem", protocol.WriteMemory{Addr: addr, Data: data})
}

// RefreshState issues a State request and updates every known thread's
// suspend state from the response in one round trip.
func (p *Process) RefreshState() error {
	return p.state.With(func(s *processState) error {
		ctx, err := p.fileContext(s)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := dispatch.SendRequest[protocol.StatesResponse](ctx.request, ctx.response, protocol.NewState())
		p.observeRequest("refresh_state", start, err)
		if err != nil {
			return p.wrapRequestError("refresh_state", err)
		}

		for _, thr := range s.threads {
			for _, entry := range resp.States {
				if entry.Tid == thr.TID() {
					thr.setState(threadStateFromWire(entry.State))
				}
			}
		}
		return nil
	})
}

func (p *Process) sendNoData(op string, req protocol.Request) error {
	return p.state.With(func(s *processState) error {
		ctx, err := p.fileContext(s)
		if err != nil {
			return err
		}
		start := time.Now()
		err = dispatch.SendRequestNoData(ctx.request, ctx.response, req)
		p.observeRequest(op, start, err)
		if err != nil {
			return p.wrapRequestError(op, err)
		}
		return nil
	})
}

func (p *Process) observeRequest(op string, start time.Time, err error) {
	p.observer.ObserveRequest(op, uint64(time.Since(start)), err == nil)
}

func (p *Process) wrapRequestError(op string, err error) error {
	var respErr *protocol.ResponseError
	if errors.As(err, &respErr) {
		return &Error{Op: op, Pid: p.pid, Code: Request, Msg: respErr.Message, Inner: err}
	}
	return &Error{Op: op, Pid: p.pid, Code: Library, Msg: err.Error(), Inner: err}
}

func (p *Process) wrapIOError(op string, err error) error {
	return &Error{Op: op, Pid: p.pid, Code: Io, Msg: err.Error(), Inner: err}
}

// threadStateFromWire maps the wire's 0/nonzero encoding onto
// ThreadState: 0 means running, any other value means suspended.
func threadStateFromWire(wire uint32) ThreadState {
	if wire == 0 {
		return ThreadRunning
	}
	return ThreadSuspended
}

// onThreadCreate performs the new thread's Init handshake and appends
// it to the process's thread list, per §4.7.
func (p *Process) onThreadCreate(tid uint64) (*Thread, error) {
	var created *Thread

	err := p.state.With(func(s *processState) error {
		request, response, err := p.endpoints.OpenThreadChannels(tid)
		if err != nil {
			return p.wrapIOError("thread_create", fmt.Errorf("open channels for tid %d: %w", tid, err))
		}

		if _, err := bootstrap.ExchangeInit(request, response); err != nil {
			request.Close()
			response.Close()
			return p.wrapIOError("thread_create", err)
		}

		thr := newThread(tid, p.pid, p.architecture, request, response, p.logger, p.observer)
		s.threads = append(s.threads, thr)
		created = thr
		return nil
	})

	if err == nil {
		p.logger.Debugf("udi: thread created pid=%d tid=%d", p.pid, tid)
	}
	return created, err
}

// onThreadDeath drops tid's file context (the thread remains in the
// list so later lookups of historical events still resolve).
func (p *Process) onThreadDeath(tid uint64) error {
	err := p.state.With(func(s *processState) error {
		for _, thr := range s.threads {
			if thr.TID() == tid {
				thr.onDeath()
				return nil
			}
		}
		return &Error{Op: "thread_death", Pid: p.pid, Tid: tid, Code: Library, Msg: "unknown tid"}
	})
	if err != nil {
		p.logger.Errorf("udi: thread death pid=%d tid=%d: %v", p.pid, tid, err)
	} else {
		p.logger.Debugf("udi: thread death pid=%d tid=%d", p.pid, tid)
	}
	return err
}

// onProcessExit marks the process terminating.
func (p *Process) onProcessExit() error {
	err := p.state.With(func(s *processState) error {
		s.terminating = true
		return nil
	})
	p.logger.Debugf("udi: process exit pid=%d", p.pid)
	return err
}

// onProcessCleanup tears down the process's channels, after which the
// process accepts no further requests.
func (p *Process) onProcessCleanup() error {
	err := p.state.With(func(s *processState) error {
		s.fileCtx.close()
		s.fileCtx = nil
		return nil
	})
	p.logger.Debugf("udi: process cleanup pid=%d", p.pid)
	return err
}

// findThread resolves tid against the thread list, or reports the
// lookup failure the event loop turns into a Library error.
func (p *Process) findThread(tid uint64) (*Thread, bool) {
	var found *Thread
	_ = p.state.With(func(s *processState) error {
		for _, thr := range s.threads {
			if thr.TID() == tid {
				found = thr
				return nil
			}
		}
		return nil
	})
	return found, found != nil
}

// initialThread returns threads[0], the thread a synthesized
// ProcessCleanup event is attributed to per §4.7.
func (p *Process) initialThread() *Thread {
	var first *Thread
	_ = p.state.With(func(s *processState) error {
		if len(s.threads) > 0 {
			first = s.threads[0]
		}
		return nil
	})
	return first
}

// Pid implements eventloop.ProcessHandle.
func (p *Process) Pid() int { return int(p.pid) }

// Running implements eventloop.ProcessHandle.
func (p *Process) Running() bool { return p.IsRunning() }

// Terminating implements eventloop.ProcessHandle.
func (p *Process) Terminating() bool {
	terminating := false
	_ = p.state.With(func(s *processState) error {
		terminating = s.terminating
		return nil
	})
	return terminating
}

// EventsFD implements eventloop.ProcessHandle. Callers must only use
// it after confirming IsTerminated() is false.
func (p *Process) EventsFD() uintptr {
	return eventsFD(p.eventsChannel())
}

// EventsChannel implements eventloop.ProcessHandle.
func (p *Process) EventsChannel() io.Reader {
	return p.eventsChannel()
}

// eventsFD extracts the raw descriptor behind ch for poller
// registration (epoll/kqueue need a real fd; the Windows shim needs a
// HANDLE value carried the same way). Channels that don't expose one
// register as 0, which no platform poller implementation produces on
// its own.
func eventsFD(ch ipc.Channel) uintptr {
	type fdSource interface{ Fd() uintptr }
	if f, ok := ch.(fdSource); ok {
		return f.Fd()
	}
	return 0
}

func (p *Process) eventsChannel() ipc.Channel {
	var ch ipc.Channel
	_ = p.state.With(func(s *processState) error {
		if s.fileCtx != nil {
			ch = s.fileCtx.events
		}
		return nil
	})
	return ch
}
