package protocol

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// InitResponse is the body of the Init handshake response, sent once by
// the debuggee and once more per thread created afterward.
type InitResponse struct {
	V    uint32       `cbor:"v"`
	Arch Architecture `cbor:"arch"`
	Mt   bool         `cbor:"mt"`
	Tid  uint64       `cbor:"tid"`
}

// ReadMemoryResponse carries the bytes read by a ReadMemory request.
type ReadMemoryResponse struct {
	Data []byte `cbor:"data"`
}

// ReadRegisterResponse carries the value read by a ReadRegister request.
type ReadRegisterResponse struct {
	Value uint64 `cbor:"value"`
}

// NextInstructionResponse carries the address of the next instruction
// to execute.
type NextInstructionResponse struct {
	Addr uint64 `cbor:"addr"`
}

// SingleStepResponse echoes the single-step setting that was applied.
type SingleStepResponse struct {
	Value bool `cbor:"value"`
}

// ThreadStateEntry is one thread's reported suspend state within a
// State response; State 0 means running, any other value means
// suspended.
type ThreadStateEntry struct {
	Tid   uint64 `cbor:"tid"`
	State uint32 `cbor:"state"`
}

// StatesResponse is the body of a State request response.
type StatesResponse struct {
	States []ThreadStateEntry `cbor:"states"`
}

type errorBody struct {
	Msg string `cbor:"msg"`
}

// ResponseError is returned when the debuggee reports a request
// failure (ResponseType Error). It carries the request type the
// failure applies to, matching the Display format of the original's
// Error::Request variant.
type ResponseError struct {
	RequestType RequestType
	Message     string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("type %s: %s", e.RequestType, e.Message)
}

// ErrUnknownResponseType is returned when a response frame's envelope
// discriminator is neither Valid nor Error.
var ErrUnknownResponseType = errors.New("protocol: unknown response type")

func readEnvelope(dec *cbor.Decoder) (ResponseType, RequestType, error) {
	var respType ResponseType
	if err := dec.Decode(&respType); err != nil {
		return 0, 0, err
	}

	var reqType RequestType
	if err := dec.Decode(&reqType); err != nil {
		return 0, 0, err
	}

	return respType, reqType, nil
}

// ReadResponse decodes a response frame whose Valid body unmarshals
// into T. On an Error envelope it returns a *ResponseError.
func ReadResponse[T any](r io.Reader) (T, error) {
	body, _, err := ReadResponseEchoing[T](r)
	return body, err
}

// ReadResponseEchoing decodes a response frame like ReadResponse but
// also returns the echoed request type, letting the caller verify it
// against the request it actually sent.
func ReadResponseEchoing[T any](r io.Reader) (T, RequestType, error) {
	var zero T

	dec := cbor.NewDecoder(r)
	respType, reqType, err := readEnvelope(dec)
	if err != nil {
		return zero, reqType, err
	}

	switch respType {
	case RespValid:
		var body T
		if err := dec.Decode(&body); err != nil {
			return zero, reqType, fmt.Errorf("decode response body for %s: %w", reqType, err)
		}
		return body, reqType, nil
	case RespError:
		var eb errorBody
		if err := dec.Decode(&eb); err != nil {
			return zero, reqType, fmt.Errorf("decode response error for %s: %w", reqType, err)
		}
		return zero, reqType, &ResponseError{RequestType: reqType, Message: eb.Msg}
	default:
		return zero, reqType, ErrUnknownResponseType
	}
}

// ReadResponseNoData decodes a response frame with no Valid body
// (ThreadSuspend, ThreadResume, WriteMemory, WriteRegister, the
// breakpoint requests, Continue).
func ReadResponseNoData(r io.Reader) error {
	_, err := ReadResponseNoDataEchoing(r)
	return err
}

// ReadResponseNoDataEchoing is ReadResponseNoData but also returns the
// echoed request type.
func ReadResponseNoDataEchoing(r io.Reader) (RequestType, error) {
	dec := cbor.NewDecoder(r)
	respType, reqType, err := readEnvelope(dec)
	if err != nil {
		return reqType, err
	}

	switch respType {
	case RespValid:
		return reqType, nil
	case RespError:
		var eb errorBody
		if err := dec.Decode(&eb); err != nil {
			return reqType, fmt.Errorf("decode response error for %s: %w", reqType, err)
		}
		return reqType, &ResponseError{RequestType: reqType, Message: eb.Msg}
	default:
		return reqType, ErrUnknownResponseType
	}
}
