//go:build linux || darwin

package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/ehrlich-b/go-udi/internal/constants"
	"github.com/ehrlich-b/go-udi/internal/ipc"
)

// unixChild wraps a spawned *exec.Cmd and the endpoints derived from
// its pid.
type unixChild struct {
	cmd *exec.Cmd
	ep  *ipc.PosixEndpoints
}

func (c *unixChild) Pid() int { return c.cmd.Process.Pid }

func (c *unixChild) TryWait() error {
	// A non-blocking wait4 sees a child that has already exited (and
	// reaps it); a liveness probe with signal 0 would still succeed on
	// an unreaped zombie.
	var ws syscall.WaitStatus
	wpid, err := syscall.Wait4(c.cmd.Process.Pid, &ws, syscall.WNOHANG, nil)
	if err != nil {
		return fmt.Errorf("launcher: wait pid=%d: %w", c.cmd.Process.Pid, err)
	}
	if wpid == 0 {
		return nil
	}
	if ws.Signaled() {
		return fmt.Errorf("launcher: process killed by signal %v", ws.Signal())
	}
	return fmt.Errorf("launcher: process exited with code %d", ws.ExitStatus())
}

func (c *unixChild) Endpoints() ipc.Endpoints { return c.ep }

func preloadVarName() string {
	if runtime.GOOS == "darwin" {
		return constants.DarwinPreloadVar
	}
	return constants.LinuxPreloadVar
}

func defaultRtLibName() string {
	if runtime.GOOS == "darwin" {
		return constants.DefaultRtLibNameDarwin
	}
	return constants.DefaultRtLibNameLinux
}

// buildEnv extends (never replaces) the dynamic linker preload
// variable with rtLibPath, and sets UDI_ROOT_DIR so the injected agent
// knows where to create its IPC channels. On darwin it also forces a
// flat namespace so the preloaded agent's symbols resolve against the
// main executable.
func buildEnv(envp []string, rtLibPath, rootDir string) []string {
	pairs := splitEnv(envp)
	preloadVar := preloadVarName()

	found := false
	for i, p := range pairs {
		if p[0] == preloadVar {
			if p[1] == "" {
				pairs[i][1] = rtLibPath
			} else {
				pairs[i][1] = p[1] + ":" + rtLibPath
			}
			found = true
			break
		}
	}
	if !found {
		pairs = append(pairs, [2]string{preloadVar, rtLibPath})
	}

	pairs = append(pairs, [2]string{constants.RootDirEnv, rootDir})
	if runtime.GOOS == "darwin" {
		pairs = append(pairs, [2]string{"DYLD_FORCE_FLAT_NAMESPACE", "1"})
	}

	return joinEnv(pairs)
}

// Launch spawns executable with argv and the inherited environment
// extended per buildEnv, and returns a handle to it before any
// handshake has taken place.
func Launch(executable string, argv []string, cfg Config) (Child, error) {
	rootDir, err := ipc.ResolveRootDir(cfg.RootDir)
	if err != nil {
		return nil, err
	}

	rtLibPath := rtLibPathOrDefault(cfg, defaultRtLibName())

	cmd := exec.Command(executable, argv...)
	cmd.Env = buildEnv(envpOrHost(cfg), rtLibPath, rootDir)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start %s: %w", executable, err)
	}

	loggerOrDefault(cfg).Debugf("launcher: spawned pid=%d executable=%s rtlib=%s", cmd.Process.Pid, executable, rtLibPath)

	return &unixChild{
		cmd: cmd,
		ep:  ipc.NewPosixEndpoints(rootDir, cmd.Process.Pid),
	}, nil
}
