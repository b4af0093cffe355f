// Package bootstrap performs the one-shot protocol handshake that
// turns a freshly launched child process into a live UDI session: wait
// for the agent's IPC channels to appear, open them in FIFO-safe
// order, and negotiate protocol version and initial-thread identity.
package bootstrap

import (
	"fmt"
	"time"

	"github.com/ehrlich-b/go-udi/internal/constants"
	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/launcher"
	"github.com/ehrlich-b/go-udi/internal/logging"
	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// Result is everything the caller needs to construct a live Process:
// the open process-level channels, the open initial-thread channels,
// and the negotiated Init response.
type Result struct {
	RequestChannel  ipc.Channel
	ResponseChannel ipc.Channel
	EventsChannel   ipc.Channel

	ThreadRequestChannel  ipc.Channel
	ThreadResponseChannel ipc.Channel

	Init protocol.InitResponse
}

// Handshake polls for the child's events endpoint, opens the process
// and initial-thread channel triads, and exchanges Init requests on
// both. It fails fast if the child exits before the agent comes up.
func Handshake(child launcher.Child, logger *logging.Logger) (*Result, error) {
	if logger == nil {
		logger = logging.Default()
	}

	ep := child.Endpoints()
	if err := waitForEventsEndpoint(child, ep); err != nil {
		return nil, err
	}

	request, response, events, err := ep.OpenProcessChannels()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open process channels: %w", err)
	}

	init, err := ExchangeInit(request, response)
	if err != nil {
		closeAll(request, response, events)
		return nil, err
	}

	if init.V != constants.ProtocolVersion1 {
		closeAll(request, response, events)
		return nil, fmt.Errorf("bootstrap: unsupported protocol version %d", init.V)
	}

	threadRequest, threadResponse, err := ep.OpenThreadChannels(init.Tid)
	if err != nil {
		closeAll(request, response, events)
		return nil, fmt.Errorf("bootstrap: open initial thread channels: %w", err)
	}

	if _, err := ExchangeInit(threadRequest, threadResponse); err != nil {
		closeAll(request, response, events, threadRequest, threadResponse)
		return nil, fmt.Errorf("bootstrap: initial thread handshake: %w", err)
	}

	logger.Debugf("bootstrap: handshake complete pid=%d tid=%d arch=%s", child.Pid(), init.Tid, init.Arch)

	return &Result{
		RequestChannel:        request,
		ResponseChannel:       response,
		EventsChannel:         events,
		ThreadRequestChannel:  threadRequest,
		ThreadResponseChannel: threadResponse,
		Init:                  init,
	}, nil
}

// ExchangeInit writes an Init request and reads its response, the
// handshake performed once on the process channels and once more per
// thread (initial and newly created).
func ExchangeInit(request, response ipc.Channel) (protocol.InitResponse, error) {
	if err := protocol.WriteRequest(request, protocol.NewInit()); err != nil {
		return protocol.InitResponse{}, fmt.Errorf("bootstrap: write init request: %w", err)
	}

	init, err := protocol.ReadResponse[protocol.InitResponse](response)
	if err != nil {
		return protocol.InitResponse{}, fmt.Errorf("bootstrap: read init response: %w", err)
	}

	return init, nil
}

// waitForEventsEndpoint polls for the events FIFO/pipe to appear,
// giving up immediately (with the child's exit status) if the child
// dies first rather than spinning until the timeout.
func waitForEventsEndpoint(child launcher.Child, ep ipc.Endpoints) error {
	deadline := time.Now().Add(constants.HandshakeTimeout)

	for {
		if exitErr := child.TryWait(); exitErr != nil {
			return fmt.Errorf("bootstrap: child exited before handshake: %w", exitErr)
		}

		if endpointExists(ep.EventsPath()) {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("bootstrap: timed out waiting for agent to initialize")
		}

		time.Sleep(constants.HandshakePollInterval)
	}
}

func closeAll(channels ...ipc.Channel) {
	for _, c := range channels {
		if c != nil {
			c.Close()
		}
	}
}
