package protocol

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Request is implemented by every request body. Empty bodies (Init,
// State, ThreadSuspend, ThreadResume, NextInstruction) carry no fields
// and are not CBOR-encoded past their type tag, matching the
// RequestType::empty() hook in the original protocol.
type Request interface {
	Type() RequestType
	Empty() bool
}

type emptyRequest struct {
	typ RequestType
}

func (r emptyRequest) Type() RequestType { return r.typ }
func (r emptyRequest) Empty() bool       { return true }

// NewInit builds the Init request sent on both the process and the
// per-thread handshake.
func NewInit() Request { return emptyRequest{ReqInit} }

// NewState builds the State request, which reads back every thread's
// suspend state in one round trip.
func NewState() Request { return emptyRequest{ReqState} }

// NewThreadSuspend and NewThreadResume build their respective
// zero-body requests.
func NewThreadSuspend() Request { return emptyRequest{ReqThreadSuspend} }
func NewThreadResume() Request  { return emptyRequest{ReqThreadResume} }

// NewNextInstruction builds the NextInstruction request.
func NewNextInstruction() Request { return emptyRequest{ReqNextInstruction} }

// Continue resumes the stopped process, optionally delivering a signal.
// The public API always sends Sig 0; the field exists for wire
// compatibility with debuggees that inspect it.
type Continue struct {
	Sig uint32 `cbor:"sig"`
}

func (Continue) Type() RequestType { return ReqContinue }
func (Continue) Empty() bool       { return false }

// ReadMemory reads Len bytes starting at Addr from the debuggee's
// address space.
type ReadMemory struct {
	Addr uint64 `cbor:"addr"`
	Len  uint32 `cbor:"len"`
}

func (ReadMemory) Type() RequestType { return ReqReadMemory }
func (ReadMemory) Empty() bool       { return false }

// WriteMemory writes Data into the debuggee's address space at Addr.
type WriteMemory struct {
	Addr uint64 `cbor:"addr"`
	Data []byte `cbor:"data"`
}

func (WriteMemory) Type() RequestType { return ReqWriteMemory }
func (WriteMemory) Empty() bool       { return false }

// ReadRegister reads the value of a single register.
type ReadRegister struct {
	Reg uint32 `cbor:"reg"`
}

func (ReadRegister) Type() RequestType { return ReqReadRegister }
func (ReadRegister) Empty() bool       { return false }

// WriteRegister writes Value into a single register.
type WriteRegister struct {
	Reg   uint32 `cbor:"reg"`
	Value uint64 `cbor:"value"`
}

func (WriteRegister) Type() RequestType { return ReqWriteRegister }
func (WriteRegister) Empty() bool       { return false }

// CreateBreakpoint allocates a breakpoint at Addr without installing it.
type CreateBreakpoint struct {
	Addr uint64 `cbor:"addr"`
}

func (CreateBreakpoint) Type() RequestType { return ReqCreateBreakpoint }
func (CreateBreakpoint) Empty() bool       { return false }

// InstallBreakpoint writes the trap instruction for a previously
// created breakpoint.
type InstallBreakpoint struct {
	Addr uint64 `cbor:"addr"`
}

func (InstallBreakpoint) Type() RequestType { return ReqInstallBreakpoint }
func (InstallBreakpoint) Empty() bool       { return false }

// RemoveBreakpoint restores the original instruction at a breakpoint
// without forgetting its address.
type RemoveBreakpoint struct {
	Addr uint64 `cbor:"addr"`
}

func (RemoveBreakpoint) Type() RequestType { return ReqRemoveBreakpoint }
func (RemoveBreakpoint) Empty() bool       { return false }

// DeleteBreakpoint forgets a breakpoint entirely.
type DeleteBreakpoint struct {
	Addr uint64 `cbor:"addr"`
}

func (DeleteBreakpoint) Type() RequestType { return ReqDeleteBreakpoint }
func (DeleteBreakpoint) Empty() bool       { return false }

// SingleStep arms or disarms single-step mode for the target thread.
type SingleStep struct {
	Value bool `cbor:"value"`
}

func (SingleStep) Type() RequestType { return ReqSingleStep }
func (SingleStep) Empty() bool       { return false }

// Marshal encodes a request frame: the request's type tag, followed by
// its body unless the request is empty.
func Marshal(req Request) ([]byte, error) {
	var buf bytes.Buffer
	enc := cbor.NewEncoder(&buf)

	if err := enc.Encode(req.Type()); err != nil {
		return nil, fmt.Errorf("encode request type %s: %w", req.Type(), err)
	}

	if !req.Empty() {
		if err := enc.Encode(req); err != nil {
			return nil, fmt.Errorf("encode request body %s: %w", req.Type(), err)
		}
	}

	return buf.Bytes(), nil
}

// WriteRequest marshals req and writes it to w in one call, the shape
// every dispatcher call site uses.
func WriteRequest(w io.Writer, req Request) error {
	data, err := Marshal(req)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
