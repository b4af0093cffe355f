// Package launcher spawns a debuggee and arranges for the UDI runtime
// agent to be loaded into its address space before user code runs:
// dynamic-linker preload on POSIX, remote LoadLibrary injection on
// Windows.
package launcher

import (
	"os"

	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/logging"
)

// Config configures how the debuggee is spawned and where its runtime
// agent library comes from. Zero values apply platform defaults.
type Config struct {
	RootDir   string
	RtLibPath string
	Envp      []string
	Logger    *logging.Logger
}

// Child is a freshly spawned, not-yet-handshaken debuggee: enough for
// the bootstrap layer to discover its endpoints and detect an early
// exit while polling for the handshake.
type Child interface {
	// Pid returns the OS process identifier.
	Pid() int

	// TryWait returns nil if the process is still running, or an
	// error describing its exit status if it has already terminated.
	// It must not block.
	TryWait() error

	// Endpoints returns the IPC endpoint set for this child, valid as
	// soon as the child exists (though the underlying pipes may not
	// yet have been created by the agent).
	Endpoints() ipc.Endpoints
}

func rtLibPathOrDefault(cfg Config, def string) string {
	if cfg.RtLibPath != "" {
		return cfg.RtLibPath
	}
	return def
}

// envpOrHost returns cfg.Envp, or the host's own environment if the
// caller didn't supply one, mirroring create_environment's "envp, or
// empty if none" fallback.
func envpOrHost(cfg Config) []string {
	if len(cfg.Envp) > 0 {
		return cfg.Envp
	}
	return os.Environ()
}

// loggerOrDefault returns cfg.Logger, or the package default if the
// caller didn't supply one.
func loggerOrDefault(cfg Config) *logging.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logging.Default()
}

// splitEnv splits "K=V" entries into a map-like slice of pairs,
// preserving order, mirroring create_environment's parsing of envp.
func splitEnv(envp []string) [][2]string {
	out := make([][2]string, 0, len(envp))
	for _, entry := range envp {
		k, v := entry, ""
		for i := 0; i < len(entry); i++ {
			if entry[i] == '=' {
				k, v = entry[:i], entry[i+1:]
				break
			}
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

func joinEnv(pairs [][2]string) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p[0]+"="+p[1])
	}
	return out
}
