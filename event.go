package udi

import (
	"fmt"

	"github.com/ehrlich-b/go-udi/internal/eventloop"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// Event and EventData are re-exported from the codec package; callers
// type-switch on EventData the same way they would against the
// protocol package directly.
type (
	Event     = protocol.EventMessage
	EventData = protocol.EventData
)

// Re-exported concrete event payloads, so callers never need to import
// the internal protocol package themselves.
type (
	EventError          = protocol.EventError
	EventSignal         = protocol.EventSignal
	EventBreakpoint     = protocol.EventBreakpoint
	EventThreadCreate   = protocol.EventThreadCreate
	EventThreadDeath    = protocol.EventThreadDeath
	EventProcessExit    = protocol.EventProcessExit
	EventProcessFork    = protocol.EventProcessFork
	EventProcessExec    = protocol.EventProcessExec
	EventSingleStep     = protocol.EventSingleStep
	EventProcessCleanup = protocol.EventProcessCleanup
)

// WaitForEvents blocks until at least one process in processes can
// report an event, applies each event's §4.7 state mutation (thread
// handshake on ThreadCreate, file-context teardown on ThreadDeath/
// ProcessCleanup, the terminating flag on ProcessExit), and returns
// the decoded batch.
func WaitForEvents(loop *EventLoop, processes []*Process) ([]Event, error) {
	handles := make([]eventloop.ProcessHandle, len(processes))
	byPid := make(map[int]*Process, len(processes))
	for i, p := range processes {
		handles[i] = p
		byPid[p.Pid()] = p
	}

	outcomes, err := loop.inner.WaitForEvents(handles)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(outcomes))
	for _, oc := range outcomes {
		proc, ok := byPid[oc.Pid]
		if !ok {
			continue
		}

		if err := applyEvent(proc, oc.Event); err != nil {
			return nil, err
		}

		ev := oc.Event
		if _, ok := ev.Data.(protocol.EventProcessCleanup); ok {
			if initial := proc.initialThread(); initial != nil {
				ev.Tid = initial.TID()
			}
		}

		proc.observer.ObserveEvent(ev.Data.EventType().String())
		events = append(events, ev)
	}

	return events, nil
}

// applyEvent performs the state mutation a decoded event implies,
// starting by clearing the process's running flag. ProcessCleanup's
// zero Tid is resolved to the initial thread by WaitForEvents, not here.
func applyEvent(p *Process, ev Event) error {
	if err := p.state.With(func(s *processState) error {
		s.running = false
		return nil
	}); err != nil {
		return err
	}

	switch data := ev.Data.(type) {
	case protocol.EventThreadCreate:
		_, err := p.onThreadCreate(data.Tid)
		return err

	case protocol.EventThreadDeath:
		return p.onThreadDeath(ev.Tid)

	case protocol.EventProcessExit:
		return p.onProcessExit()

	case protocol.EventProcessCleanup:
		return p.onProcessCleanup()

	default:
		if _, ok := p.findThread(ev.Tid); !ok {
			return &Error{Op: "wait_for_events", Pid: p.pid, Tid: ev.Tid, Code: Library, Msg: fmt.Sprintf("event %s for unknown tid", ev.Data.EventType())}
		}
		return nil
	}
}

// EventLoop multiplexes readiness across every live process's events
// channel; one EventLoop should be shared across all processes a
// caller is supervising concurrently.
type EventLoop struct {
	inner *eventloop.Loop
}

// NewEventLoop creates an EventLoop backed by the platform poller
// (epoll, kqueue, or the Windows named-pipe shim).
func NewEventLoop() (*EventLoop, error) {
	inner, err := eventloop.NewLoop()
	if err != nil {
		return nil, fmt.Errorf("udi: new event loop: %w", err)
	}
	return &EventLoop{inner: inner}, nil
}

// Close releases the loop's platform poller.
func (l *EventLoop) Close() error {
	return l.inner.Close()
}
