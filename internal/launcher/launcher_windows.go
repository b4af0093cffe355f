//go:build windows

package launcher

import (
	"fmt"
	"strings"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/ehrlich-b/go-udi/internal/constants"
	"github.com/ehrlich-b/go-udi/internal/ipc"
)

type windowsChild struct {
	pid    uint32
	handle windows.Handle
	ep     *ipc.WindowsEndpoints
}

func (c *windowsChild) Pid() int { return int(c.pid) }

func (c *windowsChild) TryWait() error {
	var code uint32
	if err := windows.GetExitCodeProcess(c.handle, &code); err != nil {
		return err
	}
	const stillActive = 259
	if code != stillActive {
		return fmt.Errorf("launcher: process exited with code %d", code)
	}
	return nil
}

func (c *windowsChild) Endpoints() ipc.Endpoints { return c.ep }

// Launch spawns executable suspended, injects rtLibPath with a remote
// LoadLibraryA thread, then resumes the main thread, matching the Windows half of the Open
// Question recorded for process creation: CreateProcessW (never the
// ANSI variant, to preserve unicode argv/envp) plus explicit
// VirtualAllocEx/WriteProcessMemory/CreateRemoteThread injection
// rather than a preload environment variable, since Windows has none.
func Launch(executable string, argv []string, cfg Config) (Child, error) {
	rootDir, err := ipc.ResolveRootDir(cfg.RootDir)
	if err != nil {
		return nil, err
	}

	rtLibPath := rtLibPathOrDefault(cfg, constants.DefaultRtLibNameWindows)

	cmdLine, err := windows.UTF16PtrFromString(buildCommandLine(executable, argv))
	if err != nil {
		return nil, fmt.Errorf("launcher: encode command line: %w", err)
	}

	envBlock, err := buildEnvBlock(envpOrHost(cfg), rootDir)
	if err != nil {
		return nil, fmt.Errorf("launcher: encode environment: %w", err)
	}

	var si windows.StartupInfo
	var pi windows.ProcessInformation
	si.Cb = uint32(unsafe.Sizeof(si))

	const createSuspended = 0x00000004
	const creationUnicodeEnv = 0x00000400

	err = windows.CreateProcess(
		nil,
		cmdLine,
		nil,
		nil,
		false,
		createSuspended|creationUnicodeEnv,
		envBlock,
		nil,
		&si,
		&pi,
	)
	if err != nil {
		return nil, fmt.Errorf("launcher: CreateProcess: %w", err)
	}
	defer windows.CloseHandle(pi.Thread)

	if err := injectLibrary(pi.Process, rtLibPath); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		return nil, fmt.Errorf("launcher: inject runtime agent: %w", err)
	}

	if _, err := windows.ResumeThread(pi.Thread); err != nil {
		windows.TerminateProcess(pi.Process, 1)
		return nil, fmt.Errorf("launcher: resume main thread: %w", err)
	}

	loggerOrDefault(cfg).Debugf("launcher: spawned pid=%d executable=%s rtlib=%s", pi.ProcessId, executable, rtLibPath)

	return &windowsChild{
		pid:    pi.ProcessId,
		handle: pi.Process,
		ep:     ipc.NewWindowsEndpoints(pi.ProcessId),
	}, nil
}

// injectLibrary allocates rtLibPath (as an ANSI path, the form
// LoadLibraryA expects) in the target's address space, writes it, and
// runs LoadLibraryA on a remote thread pointed at that buffer.
func injectLibrary(process windows.Handle, rtLibPath string) error {
	kernel32 := windows.NewLazySystemDLL("kernel32.dll")
	procLoadLibraryA := kernel32.NewProc("LoadLibraryA")
	if err := procLoadLibraryA.Find(); err != nil {
		return fmt.Errorf("resolve LoadLibraryA: %w", err)
	}
	loadLibraryAddr := procLoadLibraryA.Addr()

	pathBytes := append([]byte(rtLibPath), 0)
	size := uintptr(len(pathBytes))

	const memCommit = 0x1000
	const memReserve = 0x2000
	const pageReadWrite = 0x04

	remoteMem, err := windows.VirtualAllocEx(process, 0, size, memCommit|memReserve, pageReadWrite)
	if err != nil {
		return fmt.Errorf("VirtualAllocEx: %w", err)
	}

	var written uintptr
	if err := windows.WriteProcessMemory(process, remoteMem, &pathBytes[0], size, &written); err != nil {
		return fmt.Errorf("WriteProcessMemory: %w", err)
	}

	threadHandle, _, err := windows.NewLazySystemDLL("kernel32.dll").NewProc("CreateRemoteThread").Call(
		uintptr(process), 0, 0, loadLibraryAddr, remoteMem, 0, 0,
	)
	if threadHandle == 0 {
		return fmt.Errorf("CreateRemoteThread: %w", err)
	}
	defer windows.CloseHandle(windows.Handle(threadHandle))

	event, err := windows.WaitForSingleObject(windows.Handle(threadHandle), windows.INFINITE)
	if err != nil || event != windows.WAIT_OBJECT_0 {
		return fmt.Errorf("wait for injection thread: %w", err)
	}

	return nil
}

func buildCommandLine(executable string, argv []string) string {
	parts := make([]string, 0, len(argv)+1)
	parts = append(parts, quoteArg(executable))
	for _, a := range argv {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(s string) string {
	if !strings.ContainsAny(s, " \t\"") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// buildEnvBlock renders envp (extended with UDI_ROOT_DIR) as the
// double-nul-terminated UTF-16 block CreateProcessW expects.
func buildEnvBlock(envp []string, rootDir string) (*uint16, error) {
	pairs := splitEnv(envp)
	pairs = append(pairs, [2]string{constants.RootDirEnv, rootDir})
	entries := joinEnv(pairs)

	var block []uint16
	for _, entry := range entries {
		u, err := syscall.UTF16FromString(entry)
		if err != nil {
			return nil, err
		}
		block = append(block, u[:len(u)-1]...)
		block = append(block, 0)
	}
	block = append(block, 0)

	return &block[0], nil
}
