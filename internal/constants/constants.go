// Package constants holds the fixed values of the UDI wire protocol and
// the default filesystem/environment layout used to locate a debuggee.
package constants

import "time"

// ProtocolVersion1 is the only protocol version this package speaks.
// A debuggee that reports a different version in its Init handshake is
// rejected.
const ProtocolVersion1 uint32 = 1

// Well-known file names under a process's UDI root directory.
const (
	RequestFileName  = "request"
	ResponseFileName = "response"
	EventsFileName   = "events"
)

// RootDirEnv is the environment variable set on the debuggee telling the
// injected runtime agent where to create its named pipes.
const RootDirEnv = "UDI_ROOT_DIR"

// Per-OS dynamic linker variables used to inject the runtime agent, and
// the agent's default library name on each platform.
const (
	LinuxPreloadVar  = "LD_PRELOAD"
	DarwinPreloadVar = "DYLD_INSERT_LIBRARIES"

	DefaultRtLibNameLinux   = "libudirt.so"
	DefaultRtLibNameDarwin  = "libudirt.dylib"
	DefaultRtLibNameWindows = "udirt.dll"
)

// WindowsPipeNameBase is the prefix for named pipes on Windows, formatted
// as "<base>-<pid>-<kind>" or "<base>-<pid>-<tid>-<kind>" for thread pipes.
const WindowsPipeNameBase = `\\.\pipe\udi`

// Handshake polling tuning. process_handshake in the original blocks on
// try_wait() plus a stat() loop; this package keeps the same shape with a
// bounded poll interval instead of a busy spin.
const (
	HandshakePollInterval = 5 * time.Millisecond
	HandshakeTimeout      = 30 * time.Second
)

// Register index boundaries, mirroring protocol.rs's X86_MIN/MAX and
// X86_64_MIN/MAX sentinels.
const (
	X86RegisterMin   = 0
	X86RegisterMax   = 25
	X8664RegisterMin = 26
	X8664RegisterMax = 70
)
