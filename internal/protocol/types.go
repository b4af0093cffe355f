// Package protocol implements the UDI wire codec: the CBOR-encoded
// request, response, and event frames exchanged with a debuggee's
// injected runtime agent over a byte stream (FIFO or named pipe).
//
// Every frame is a sequence of concatenated CBOR values, not a single
// enclosing structure; Marshal/Decode therefore work against an
// io.Writer/io.Reader rather than returning one blob.
package protocol

import "fmt"

// Architecture identifies the debuggee's instruction set, reported in
// the Init handshake response.
type Architecture uint16

const (
	ArchX86 Architecture = iota
	ArchX86_64
)

func (a Architecture) String() string {
	switch a {
	case ArchX86:
		return "X86"
	case ArchX86_64:
		return "X86_64"
	default:
		return fmt.Sprintf("Architecture(%d)", uint16(a))
	}
}

// RequestType identifies the kind of request frame on the wire.
type RequestType uint16

const (
	ReqInvalid RequestType = iota
	ReqContinue
	ReqReadMemory
	ReqWriteMemory
	ReqReadRegister
	ReqWriteRegister
	ReqState
	ReqInit
	ReqCreateBreakpoint
	ReqInstallBreakpoint
	ReqRemoveBreakpoint
	ReqDeleteBreakpoint
	ReqThreadSuspend
	ReqThreadResume
	ReqNextInstruction
	ReqSingleStep
)

var requestTypeNames = map[RequestType]string{
	ReqInvalid:           "Invalid",
	ReqContinue:          "Continue",
	ReqReadMemory:        "ReadMemory",
	ReqWriteMemory:       "WriteMemory",
	ReqReadRegister:      "ReadRegister",
	ReqWriteRegister:     "WriteRegister",
	ReqState:             "State",
	ReqInit:              "Init",
	ReqCreateBreakpoint:  "CreateBreakpoint",
	ReqInstallBreakpoint: "InstallBreakpoint",
	ReqRemoveBreakpoint:  "RemoveBreakpoint",
	ReqDeleteBreakpoint:  "DeleteBreakpoint",
	ReqThreadSuspend:     "ThreadSuspend",
	ReqThreadResume:      "ThreadResume",
	ReqNextInstruction:   "NextInstruction",
	ReqSingleStep:        "SingleStep",
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(%d)", uint16(t))
}

// ResponseType is the envelope discriminator for a response frame:
// whether the request succeeded (Valid, followed by the response body)
// or failed (Error, followed by a message).
type ResponseType uint16

const (
	RespValid ResponseType = iota
	RespError
)

func (t ResponseType) String() string {
	switch t {
	case RespValid:
		return "Valid"
	case RespError:
		return "Error"
	default:
		return fmt.Sprintf("ResponseType(%d)", uint16(t))
	}
}

// EventType identifies the kind of event frame read from the events
// channel. ProcessCleanup is decoded like any other bodiless event when
// the agent sends it, and is also synthesized locally when the events
// channel reaches EOF.
type EventType uint16

const (
	EvUnknown EventType = iota
	EvError
	EvSignal
	EvBreakpoint
	EvThreadCreate
	EvThreadDeath
	EvProcessExit
	EvProcessFork
	EvProcessExec
	EvSingleStep
	EvProcessCleanup
)

var eventTypeNames = map[EventType]string{
	EvUnknown:        "Unknown",
	EvError:          "Error",
	EvSignal:         "Signal",
	EvBreakpoint:     "Breakpoint",
	EvThreadCreate:   "ThreadCreate",
	EvThreadDeath:    "ThreadDeath",
	EvProcessExit:    "ProcessExit",
	EvProcessFork:    "ProcessFork",
	EvProcessExec:    "ProcessExec",
	EvSingleStep:     "SingleStep",
	EvProcessCleanup: "ProcessCleanup",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", uint16(t))
}

// Register indexes a single machine register, spanning the X86 and
// X86_64 register files in one numbering space so a wire value is
// unambiguous regardless of which architecture sent it.
type Register uint32

const (
	X86Min Register = iota
	X86GS
	X86FS
	X86ES
	X86DS
	X86EDI
	X86ESI
	X86EBP
	X86ESP
	X86EBX
	X86EDX
	X86ECX
	X86EAX
	X86CS
	X86SS
	X86EIP
	X86FLAGS
	X86ST0
	X86ST1
	X86ST2
	X86ST3
	X86ST4
	X86ST5
	X86ST6
	X86ST7
	X86Max

	X8664Min
	X8664R8
	X8664R9
	X8664R10
	X8664R11
	X8664R12
	X8664R13
	X8664R14
	X8664R15
	X8664RDI
	X8664RSI
	X8664RBP
	X8664RBX
	X8664RDX
	X8664RAX
	X8664RCX
	X8664RSP
	X8664RIP
	X8664CSGSFS
	X8664FLAGS
	X8664ST0
	X8664ST1
	X8664ST2
	X8664ST3
	X8664ST4
	X8664ST5
	X8664ST6
	X8664ST7
	X8664XMM0
	X8664XMM1
	X8664XMM2
	X8664XMM3
	X8664XMM4
	X8664XMM5
	X8664XMM6
	X8664XMM7
	X8664XMM8
	X8664XMM9
	X8664XMM10
	X8664XMM11
	X8664XMM12
	X8664XMM13
	X8664XMM14
	X8664XMM15
	X8664Max
)

// PC returns the register holding the program counter for arch.
func PC(arch Architecture) Register {
	if arch == ArchX86_64 {
		return X8664RIP
	}
	return X86EIP
}
