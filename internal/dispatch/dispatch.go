// Package dispatch sends a request on a channel and reads back exactly
// one matching response frame, the synchronous request/response
// exchange every process- and thread-level command is built from.
package dispatch

import (
	"errors"
	"fmt"
	"io"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

// ErrEchoMismatch is returned when a response frame echoes a request
// type other than the one just sent on that channel: the channel's
// strict request/response pairing has been violated.
var ErrEchoMismatch = errors.New("dispatch: response echoed unexpected request type")

// SendRequest writes req and decodes a typed response body of type T.
// A response whose echoed request type doesn't match req.Type() is a
// protocol-level bug in the agent and is surfaced as an error rather
// than silently accepted.
func SendRequest[T any](w io.Writer, r io.Reader, req protocol.Request) (T, error) {
	var zero T

	if err := protocol.WriteRequest(w, req); err != nil {
		return zero, fmt.Errorf("dispatch: write %s request: %w", req.Type(), err)
	}

	body, echoed, err := protocol.ReadResponseEchoing[T](r)
	if err != nil {
		return zero, fmt.Errorf("dispatch: read %s response: %w", req.Type(), err)
	}
	if echoed != req.Type() {
		return zero, fmt.Errorf("%w: sent %s, got %s", ErrEchoMismatch, req.Type(), echoed)
	}

	return body, nil
}

// SendRequestNoData writes req and reads an acknowledgement-only
// response, discarding its body.
func SendRequestNoData(w io.Writer, r io.Reader, req protocol.Request) error {
	if err := protocol.WriteRequest(w, req); err != nil {
		return fmt.Errorf("dispatch: write %s request: %w", req.Type(), err)
	}

	echoed, err := protocol.ReadResponseNoDataEchoing(r)
	if err != nil {
		return fmt.Errorf("dispatch: read %s response: %w", req.Type(), err)
	}
	if echoed != req.Type() {
		return fmt.Errorf("%w: sent %s, got %s", ErrEchoMismatch, req.Type(), echoed)
	}

	return nil
}

// SendRequestNoResponse writes req without reading a response at all:
// the special case for Continue on a terminating process, where the
// agent may tear down its channels before it can reply.
func SendRequestNoResponse(w io.Writer, req protocol.Request) error {
	if err := protocol.WriteRequest(w, req); err != nil {
		return fmt.Errorf("dispatch: write %s request: %w", req.Type(), err)
	}
	return nil
}
