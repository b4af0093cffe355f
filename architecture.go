package udi

import "github.com/ehrlich-b/go-udi/internal/protocol"

// Architecture identifies the debuggee's instruction set, reported by
// the Init handshake and used to pick the right program-counter
// register.
type Architecture = protocol.Architecture

const (
	ArchX86   = protocol.ArchX86
	ArchX8664 = protocol.ArchX86_64
)

// Register numbers a CPU register in the continuous X86/X86_64 space
// the wire protocol uses.
type Register = protocol.Register

// PC returns the program-counter register for arch: EIP for X86, RIP
// for X86_64.
func PC(arch Architecture) Register {
	return protocol.PC(arch)
}
