package udi

import (
	"fmt"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// emptyRequestTypes mirrors protocol's RequestType::empty() hook: these
// request kinds carry no body past their type tag on the wire.
var emptyRequestTypes = map[protocol.RequestType]bool{
	protocol.ReqInit:            true,
	protocol.ReqState:           true,
	protocol.ReqThreadSuspend:   true,
	protocol.ReqThreadResume:    true,
	protocol.ReqNextInstruction: true,
}

// FakeAgent is an in-process stand-in for a debuggee's injected runtime
// agent: three os.Pipe pairs play the part of the request/response/
// events FIFOs a real agent creates, so tests can drive the full
// codec/dispatch/event-loop stack without spawning a process or
// touching the filesystem namespace.
type FakeAgent struct {
	hostRequest  ipc.Channel
	hostResponse ipc.Channel
	hostEvents   ipc.Channel

	agentRequest  *os.File
	agentResponse *os.File
	agentEvents   *os.File

	mu       sync.Mutex
	requests []protocol.RequestType
}

// NewFakeAgent wires three pipe pairs. HostChannels returns the
// host-side ends to hand to Process/Thread construction; the Read*/
// Write*/Emit* methods operate the agent-side ends.
func NewFakeAgent() (*FakeAgent, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("udi: fake agent request pipe: %w", err)
	}
	respR, respW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("udi: fake agent response pipe: %w", err)
	}
	evR, evW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("udi: fake agent events pipe: %w", err)
	}

	return &FakeAgent{
		hostRequest:   reqW,
		hostResponse:  respR,
		hostEvents:    evR,
		agentRequest:  reqR,
		agentResponse: respW,
		agentEvents:   evW,
	}, nil
}

// HostChannels returns the channel triad a Process or Thread would be
// constructed against.
func (a *FakeAgent) HostChannels() (request, response, events ipc.Channel) {
	return a.hostRequest, a.hostResponse, a.hostEvents
}

// ReadRequest decodes the next request frame's type tag and, unless the
// request kind carries no body, decodes it into body (which may be
// nil to discard it).
func (a *FakeAgent) ReadRequest(body any) (protocol.RequestType, error) {
	dec := cbor.NewDecoder(a.agentRequest)

	var reqType protocol.RequestType
	if err := dec.Decode(&reqType); err != nil {
		return 0, fmt.Errorf("udi: fake agent read request type: %w", err)
	}

	a.mu.Lock()
	a.requests = append(a.requests, reqType)
	a.mu.Unlock()

	if !emptyRequestTypes[reqType] && body != nil {
		if err := dec.Decode(body); err != nil {
			return reqType, fmt.Errorf("udi: fake agent read request body: %w", err)
		}
	}
	return reqType, nil
}

// WriteValid replies to reqType with a Valid envelope wrapping body
// (nil for requests whose response carries no data).
func (a *FakeAgent) WriteValid(reqType protocol.RequestType, body any) error {
	enc := cbor.NewEncoder(a.agentResponse)
	if err := enc.Encode(protocol.RespValid); err != nil {
		return err
	}
	if err := enc.Encode(reqType); err != nil {
		return err
	}
	if body == nil {
		return nil
	}
	return enc.Encode(body)
}

// WriteError replies to reqType with an Error envelope carrying msg.
func (a *FakeAgent) WriteError(reqType protocol.RequestType, msg string) error {
	enc := cbor.NewEncoder(a.agentResponse)
	if err := enc.Encode(protocol.RespError); err != nil {
		return err
	}
	if err := enc.Encode(reqType); err != nil {
		return err
	}
	return enc.Encode(struct {
		Msg string `cbor:"msg"`
	}{Msg: msg})
}

// ServeInit reads one Init request and replies with the given
// identity, the handshake performed once per process and once per
// thread.
func (a *FakeAgent) ServeInit(tid uint64, arch Architecture, multithread bool) error {
	if _, err := a.ReadRequest(nil); err != nil {
		return err
	}
	return a.WriteValid(protocol.ReqInit, protocol.InitResponse{
		V:    uint32(ProtocolVersion),
		Arch: arch,
		Mt:   multithread,
		Tid:  tid,
	})
}

// EmitEvent writes one event frame to the events channel, the agent
// side of what the event loop's ReadEvent decodes.
func (a *FakeAgent) EmitEvent(tid uint64, data protocol.EventData) error {
	enc := cbor.NewEncoder(a.agentEvents)
	if err := enc.Encode(data.EventType()); err != nil {
		return err
	}
	if err := enc.Encode(tid); err != nil {
		return err
	}
	switch data.(type) {
	case protocol.EventThreadDeath, protocol.EventSingleStep, protocol.EventProcessCleanup:
		// These frames carry no body past the tid.
		return nil
	}
	return enc.Encode(data)
}

// CloseEvents closes the agent's end of the events channel, the
// ProcessCleanup trigger the event loop synthesizes on EOF.
func (a *FakeAgent) CloseEvents() error {
	return a.agentEvents.Close()
}

// Requests returns every request type decoded so far, in order.
func (a *FakeAgent) Requests() []protocol.RequestType {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]protocol.RequestType, len(a.requests))
	copy(out, a.requests)
	return out
}

// Close releases the agent-side pipe ends.
func (a *FakeAgent) Close() error {
	a.agentRequest.Close()
	a.agentResponse.Close()
	a.agentEvents.Close()
	return nil
}

// FakeEndpoints backs Process.endpoints in tests: OpenProcessChannels
// is never called (NewTestProcess wires the process triad directly),
// but OpenThreadChannels is the real seam onThreadCreate uses to
// perform a new thread's handshake, so tests register a FakeAgent per
// expected tid ahead of time.
type FakeEndpoints struct {
	mu           sync.Mutex
	threadAgents map[uint64]*FakeAgent
}

// NewFakeEndpoints returns an empty FakeEndpoints; register threads
// with RegisterThread before triggering a ThreadCreate event for them.
func NewFakeEndpoints() *FakeEndpoints {
	return &FakeEndpoints{threadAgents: make(map[uint64]*FakeAgent)}
}

// RegisterThread makes agent's host channels available to a future
// OpenThreadChannels(tid) call.
func (e *FakeEndpoints) RegisterThread(tid uint64, agent *FakeAgent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.threadAgents[tid] = agent
}

func (e *FakeEndpoints) RequestPath() string  { return "fake-request" }
func (e *FakeEndpoints) ResponsePath() string { return "fake-response" }
func (e *FakeEndpoints) EventsPath() string   { return "fake-events" }

func (e *FakeEndpoints) ThreadRequestPath(tid uint64) string {
	return fmt.Sprintf("fake-thread-%d-request", tid)
}

func (e *FakeEndpoints) ThreadResponsePath(tid uint64) string {
	return fmt.Sprintf("fake-thread-%d-response", tid)
}

func (e *FakeEndpoints) OpenProcessChannels() (request, response, events ipc.Channel, err error) {
	return nil, nil, nil, fmt.Errorf("udi: fake endpoints: process channels are wired directly by NewTestProcess")
}

func (e *FakeEndpoints) OpenThreadChannels(tid uint64) (request, response ipc.Channel, err error) {
	e.mu.Lock()
	agent, ok := e.threadAgents[tid]
	e.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("udi: fake endpoints: no agent registered for tid %d", tid)
	}
	request, response, _ = agent.HostChannels()
	return request, response, nil
}

// NewTestProcess builds a Process wired directly to agent's host
// channels as both the process-level triad and the initial thread's
// request/response pair, bypassing CreateProcess's real launch and
// handshake. This is the seam process/thread/event tests use to drive
// the codec and state-machine layers without spawning a child process.
func NewTestProcess(pid uint32, arch Architecture, tid uint64, agent *FakeAgent, endpoints *FakeEndpoints, cfg Config) *Process {
	logger := cfg.logger()
	observer := cfg.observer()
	request, response, events := agent.HostChannels()

	initialThread := newThread(tid, pid, arch, request, response, logger, observer)

	if endpoints == nil {
		endpoints = NewFakeEndpoints()
	}

	return &Process{
		pid:          pid,
		architecture: arch,
		multithread:  true,
		endpoints:    endpoints,
		logger:       logger,
		observer:     observer,
		state: NewGuarded(processState{
			threads: []*Thread{initialThread},
			fileCtx: &processFileContext{request: request, response: response, events: events},
		}),
	}
}
