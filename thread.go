package udi

import (
	"errors"
	"time"

	"github.com/ehrlich-b/go-udi/internal/dispatch"
	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/logging"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// ThreadState mirrors the Live(Running|Suspended) -> Dead lifecycle
// §4.8 describes.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadSuspended
	ThreadDead
)

func (s ThreadState) String() string {
	switch s {
	case ThreadRunning:
		return "running"
	case ThreadSuspended:
		return "suspended"
	case ThreadDead:
		return "dead"
	default:
		return "unknown"
	}
}

// threadFileContext is a thread's request/response pair; nil once
// ThreadDeath has been observed, after which every operation fails
// with ErrThreadTerminated.
type threadFileContext struct {
	request  ipc.Channel
	response ipc.Channel
}

func (c *threadFileContext) close() {
	if c == nil {
		return
	}
	c.request.Close()
	c.response.Close()
}

type threadState struct {
	state      ThreadState
	singleStep bool
	fileCtx    *threadFileContext
}

// Thread is one debuggee thread: its own request/response channel
// pair plus the suspend state §4.8 tracks independently of the owning
// Process.
type Thread struct {
	tid          uint64
	pid          uint32
	architecture Architecture
	logger       *logging.Logger
	observer     Observer

	state *Guarded[threadState]
}

// newThread wraps an already-handshaken request/response pair as a
// live, running thread.
func newThread(tid uint64, pid uint32, arch Architecture, request, response ipc.Channel, logger *logging.Logger, observer Observer) *Thread {
	if logger == nil {
		logger = logging.Default()
	}
	return &Thread{
		tid:          tid,
		pid:          pid,
		architecture: arch,
		logger:       logger,
		observer:     observer,
		state: NewGuarded(threadState{
			state:   ThreadRunning,
			fileCtx: &threadFileContext{request: request, response: response},
		}),
	}
}

// TID returns the OS thread id.
func (t *Thread) TID() uint64 { return t.tid }

// State returns the thread's last-known suspend state.
func (t *Thread) State() ThreadState {
	state := ThreadDead
	_ = t.state.With(func(s *threadState) error {
		state = s.state
		return nil
	})
	return state
}

// setState updates the thread's suspend state from a RefreshState
// round trip; it does not touch the dead/alive distinction, which
// onDeath alone controls.
func (t *Thread) setState(state ThreadState) {
	_ = t.state.With(func(s *threadState) error {
		if s.state != ThreadDead {
			s.state = state
		}
		return nil
	})
}

// onDeath marks the thread dead and drops its channels, per §4.7: the
// thread stays in the process's list for historical lookups, but can
// no longer be operated on.
func (t *Thread) onDeath() {
	_ = t.state.With(func(s *threadState) error {
		s.fileCtx.close()
		s.fileCtx = nil
		s.state = ThreadDead
		return nil
	})
	t.logger.Debugf("udi: thread dead pid=%d tid=%d", t.pid, t.tid)
}

func (t *Thread) fileContext(s *threadState) (*threadFileContext, error) {
	if s.fileCtx == nil {
		return nil, &Error{Op: "thread", Pid: t.pid, Tid: t.tid, Code: Request, Msg: ErrThreadTerminated.Error(), Inner: ErrThreadTerminated}
	}
	return s.fileCtx, nil
}

// Suspend stops the thread without issuing a Continue.
func (t *Thread) Suspend() error {
	return t.sendNoData("suspend", protocol.NewThreadSuspend())
}

// Resume continues a single suspended thread, independent of the
// process-wide Continue.
func (t *Thread) Resume() error {
	return t.sendNoData("resume", protocol.NewThreadResume())
}

// GetPC reads the architecture's program-counter register.
func (t *Thread) GetPC() (uint64, error) {
	return t.readRegister(PC(t.architecture))
}

// ReadRegister reads a single register's current value.
func (t *Thread) ReadRegister(reg Register) (uint64, error) {
	return t.readRegister(reg)
}

func (t *Thread) readRegister(reg Register) (uint64, error) {
	var value uint64
	err := t.state.With(func(s *threadState) error {
		ctx, err := t.fileContext(s)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := dispatch.SendRequest[protocol.ReadRegisterResponse](ctx.request, ctx.response, protocol.ReadRegister{Reg: uint32(reg)})
		t.observeRequest("read_register", start, err)
		if err != nil {
			return t.wrapRequestError("read_register", err)
		}
		value = resp.Value
		return nil
	})
	return value, err
}

// WriteRegister writes value into reg.
func (t *Thread) WriteRegister(reg Register, value uint64) error {
	return t.sendNoData("write_register", protocol.WriteRegister{Reg: uint32(reg), Value: value})
}

// NextInstruction returns the address the thread will execute next,
// used to compute a breakpoint's restore address after a single step.
func (t *Thread) NextInstruction() (uint64, error) {
	var addr uint64
	err := t.state.With(func(s *threadState) error {
		ctx, err := t.fileContext(s)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := dispatch.SendRequest[protocol.NextInstructionResponse](ctx.request, ctx.response, protocol.NewNextInstruction())
		t.observeRequest("next_instruction", start, err)
		if err != nil {
			return t.wrapRequestError("next_instruction", err)
		}
		addr = resp.Addr
		return nil
	})
	return addr, err
}

// SetSingleStep arms or disarms single-step mode for this thread.
func (t *Thread) SetSingleStep(on bool) error {
	return t.state.With(func(s *threadState) error {
		ctx, err := t.fileContext(s)
		if err != nil {
			return err
		}

		start := time.Now()
		resp, err := dispatch.SendRequest[protocol.SingleStepResponse](ctx.request, ctx.response, protocol.SingleStep{Value: on})
		t.observeRequest("set_single_step", start, err)
		if err != nil {
			return t.wrapRequestError("set_single_step", err)
		}

		s.singleStep = resp.Value
		return nil
	})
}

// GetSingleStep reports the last single-step setting applied via
// SetSingleStep; it is not re-queried from the agent.
func (t *Thread) GetSingleStep() bool {
	singleStep := false
	_ = t.state.With(func(s *threadState) error {
		singleStep = s.singleStep
		return nil
	})
	return singleStep
}

func (t *Thread) sendNoData(op string, req protocol.Request) error {
	return t.state.With(func(s *threadState) error {
		ctx, err := t.fileContext(s)
		if err != nil {
			return err
		}
		start := time.Now()
		err = dispatch.SendRequestNoData(ctx.request, ctx.response, req)
		t.observeRequest(op, start, err)
		if err != nil {
			return t.wrapRequestError(op, err)
		}
		return nil
	})
}

func (t *Thread) observeRequest(op string, start time.Time, err error) {
	t.observer.ObserveRequest(op, uint64(time.Since(start)), err == nil)
}

func (t *Thread) wrapRequestError(op string, err error) error {
	var respErr *protocol.ResponseError
	if errors.As(err, &respErr) {
		return &Error{Op: op, Pid: t.pid, Tid: t.tid, Code: Request, Msg: respErr.Message, Inner: err}
	}
	return &Error{Op: op, Pid: t.pid, Tid: t.tid, Code: Library, Msg: err.Error(), Inner: err}
}
