package eventloop

import (
	"errors"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// ProcessHandle is the minimal view WaitForEvents needs of a watched
// process; the root package's Process type satisfies it. Semantic
// state mutation (§4.7: appending threads, marking termination) stays
// in the root package, which alone holds the process/thread model and
// locks this package must not reach into.
type ProcessHandle interface {
	Pid() int
	Running() bool
	Terminating() bool
	EventsFD() uintptr
	EventsChannel() io.Reader
}

// Outcome pairs a decoded event with the pid of the process it came
// from, the unit WaitForEvents accumulates into a batch.
type Outcome struct {
	Pid   int
	Event protocol.EventMessage
}

// Loop owns the platform poller and the set of pids currently
// registered with it, reused across calls to WaitForEvents so
// registration doesn't have to be rebuilt from scratch each time.
type Loop struct {
	poller     Poller
	registered map[int]bool
}

// NewLoop creates a Loop with a fresh platform poller.
func NewLoop() (*Loop, error) {
	poller, err := newPoller()
	if err != nil {
		return nil, err
	}
	return newLoopWithPoller(poller), nil
}

func newLoopWithPoller(poller Poller) *Loop {
	return &Loop{poller: poller, registered: make(map[int]bool)}
}

func (l *Loop) Close() error {
	return l.poller.Close()
}

// WaitForEvents blocks until it can return at least one event, per §4.6:
//
//  1. Every terminating-and-running process is read directly once,
//     bypassing the poller (the kqueue/FIFO-at-EOF workaround); only
//     ProcessCleanup is an acceptable event there.
//  2. Every running-and-not-terminating process is (re-)registered
//     with the poller.
//  3. The poller blocks until at least one registered pid is
//     readable; each readable pid yields exactly one decoded event.
//  4. The batch is returned. If step 1 produced any events they are
//     returned at once and the poller is not consulted; otherwise
//     the batch holds the poll-derived events, and an empty poll
//     wakeup is retried rather than returned.
func (l *Loop) WaitForEvents(processes []ProcessHandle) ([]Outcome, error) {
	var batch []Outcome

	byPid := make(map[int]ProcessHandle, len(processes))
	var pollable []ProcessHandle

	for _, p := range processes {
		byPid[p.Pid()] = p

		if p.Terminating() && p.Running() {
			ev, err := readEventOrCleanup(p.EventsChannel())
			if err != nil {
				return nil, fmt.Errorf("eventloop: read terminal event pid=%d: %w", p.Pid(), err)
			}
			if ev.Data.EventType() != protocol.EvProcessCleanup {
				return nil, fmt.Errorf("eventloop: expected ProcessCleanup for terminating pid=%d, got %s", p.Pid(), ev.Data.EventType())
			}
			batch = append(batch, Outcome{Pid: p.Pid(), Event: ev})
			continue
		}

		if p.Running() && !p.Terminating() {
			pollable = append(pollable, p)
		}
	}

	if len(batch) > 0 {
		return batch, nil
	}

	if err := l.syncRegistrations(pollable); err != nil {
		return nil, err
	}

	for {
		readyPids, err := l.poller.Wait(nil)
		if err != nil {
			return nil, fmt.Errorf("eventloop: poll: %w", err)
		}

		for _, pid := range readyPids {
			p, ok := byPid[pid]
			if !ok {
				continue
			}

			ev, err := readEventOrCleanup(p.EventsChannel())
			if err != nil {
				return nil, fmt.Errorf("eventloop: read event pid=%d: %w", pid, err)
			}
			batch = append(batch, Outcome{Pid: pid, Event: ev})

			// Re-arm the pid so the next call continues watching it;
			// harmless on level-triggered epoll, required for the
			// edge-triggered kqueue and one-shot Windows registrations.
			l.poller.Unregister(pid)
			delete(l.registered, pid)
			if regErr := l.poller.Register(pid, p.EventsFD()); regErr == nil {
				l.registered[pid] = true
			}
		}

		if len(batch) > 0 {
			return batch, nil
		}
	}
}

// readEventOrCleanup decodes one event, synthesizing a ProcessCleanup
// event when the stream has reached EOF rather than propagating
// protocol.ErrEventStreamClosed: the thread it applies to (threads[0])
// is resolved by the caller, so Tid is left zero here.
func readEventOrCleanup(r io.Reader) (protocol.EventMessage, error) {
	ev, err := protocol.ReadEvent(r)
	if err != nil {
		if errors.Is(err, protocol.ErrEventStreamClosed) {
			return protocol.EventMessage{Data: protocol.EventProcessCleanup{}}, nil
		}
		return protocol.EventMessage{}, err
	}
	return ev, nil
}

func (l *Loop) syncRegistrations(pollable []ProcessHandle) error {
	want := make(map[int]ProcessHandle, len(pollable))
	for _, p := range pollable {
		want[p.Pid()] = p
	}

	for pid := range l.registered {
		if _, ok := want[pid]; !ok {
			l.poller.Unregister(pid)
			delete(l.registered, pid)
		}
	}

	for pid, p := range want {
		if l.registered[pid] {
			continue
		}
		if err := l.poller.Register(pid, p.EventsFD()); err != nil {
			return fmt.Errorf("eventloop: register pid=%d: %w", pid, err)
		}
		l.registered[pid] = true
	}

	return nil
}
