package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// EventData is implemented by every concrete event payload. The set of
// implementations is closed (mirroring the original's EventData enum);
// callers type-switch on it.
type EventData interface {
	EventType() EventType
}

// EventError reports a runtime-agent-side failure unrelated to a
// specific request.
type EventError struct {
	Msg string `cbor:"msg"`
}

func (EventError) EventType() EventType { return EvError }

// EventSignal reports an unhandled signal delivered to the thread.
type EventSignal struct {
	Addr uint64 `cbor:"addr"`
	Sig  uint32 `cbor:"sig"`
}

func (EventSignal) EventType() EventType { return EvSignal }

// EventBreakpoint reports a breakpoint trap.
type EventBreakpoint struct {
	Addr uint64 `cbor:"addr"`
}

func (EventBreakpoint) EventType() EventType { return EvBreakpoint }

// EventThreadCreate reports a new thread in the debuggee; the event
// loop performs that thread's handshake before returning the event.
type EventThreadCreate struct {
	Tid uint64 `cbor:"tid"`
}

func (EventThreadCreate) EventType() EventType { return EvThreadCreate }

// EventThreadDeath reports that the event thread has exited.
type EventThreadDeath struct{}

func (EventThreadDeath) EventType() EventType { return EvThreadDeath }

// EventProcessExit reports process termination with the given exit
// code.
type EventProcessExit struct {
	Code int32 `cbor:"code"`
}

func (EventProcessExit) EventType() EventType { return EvProcessExit }

// EventProcessFork reports a fork with the child's pid.
type EventProcessFork struct {
	Pid uint32 `cbor:"pid"`
}

func (EventProcessFork) EventType() EventType { return EvProcessFork }

// EventProcessExec reports an exec, replacing the debuggee's image.
type EventProcessExec struct {
	Path string   `cbor:"path"`
	Argv []string `cbor:"argv"`
	Envp []string `cbor:"envp"`
}

func (EventProcessExec) EventType() EventType { return EvProcessExec }

// EventSingleStep reports a single-step trap.
type EventSingleStep struct{}

func (EventSingleStep) EventType() EventType { return EvSingleStep }

// EventProcessCleanup reports that the debuggee's channels are gone. It
// is decoded from a bodiless wire frame, or synthesized locally when the
// events channel reaches EOF because the debuggee closed it.
type EventProcessCleanup struct{}

func (EventProcessCleanup) EventType() EventType { return EvProcessCleanup }

// EventMessage is one decoded event frame: the thread it applies to and
// its payload.
type EventMessage struct {
	Tid  uint64
	Data EventData
}

// ErrEventStreamClosed is returned by ReadEvent when the events channel
// has reached EOF, signaling the debuggee has exited and its file
// context should be torn down.
var ErrEventStreamClosed = errors.New("protocol: event stream closed")

// ReadEvent decodes one event frame. On EOF (the debuggee closed its
// events pipe) it returns ErrEventStreamClosed instead of a raw io
// error, so callers can distinguish normal teardown from a malformed
// stream.
func ReadEvent(r io.Reader) (EventMessage, error) {
	msg, err := readEventLocal(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return EventMessage{}, ErrEventStreamClosed
		}
		return EventMessage{}, err
	}
	return msg, nil
}

func readEventLocal(r io.Reader) (EventMessage, error) {
	dec := cbor.NewDecoder(r)

	var evType EventType
	if err := dec.Decode(&evType); err != nil {
		return EventMessage{}, err
	}

	var tid uint64
	if err := dec.Decode(&tid); err != nil {
		return EventMessage{}, err
	}

	data, err := decodeEventData(dec, evType)
	if err != nil {
		return EventMessage{}, err
	}

	return EventMessage{Tid: tid, Data: data}, nil
}

func decodeEventData(dec *cbor.Decoder, evType EventType) (EventData, error) {
	switch evType {
	case EvUnknown:
		return nil, fmt.Errorf("protocol: unknown event reported")
	case EvError:
		var body EventError
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvSignal:
		var body EventSignal
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvBreakpoint:
		var body EventBreakpoint
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvThreadCreate:
		var body EventThreadCreate
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvThreadDeath:
		return EventThreadDeath{}, nil
	case EvProcessExit:
		var body EventProcessExit
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvProcessFork:
		var body EventProcessFork
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvProcessExec:
		var body EventProcessExec
		if err := dec.Decode(&body); err != nil {
			return nil, err
		}
		return body, nil
	case EvSingleStep:
		return EventSingleStep{}, nil
	case EvProcessCleanup:
		return EventProcessCleanup{}, nil
	default:
		return nil, fmt.Errorf("protocol: unrecognized event type %s", evType)
	}
}
