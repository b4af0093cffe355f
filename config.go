package udi

import (
	"github.com/ehrlich-b/go-udi/internal/logging"
)

// Config configures how CreateProcess launches and supervises a
// debuggee. A zero-value Config applies platform defaults: the OS temp
// directory as the IPC root, the platform-default runtime agent name
// on the caller's PATH/library search path, a default logger, and a
// no-op metrics observer.
type Config struct {
	// RootDir is the parent of the per-user IPC directory. Empty means
	// the OS temp directory.
	RootDir string

	// RtLibPath is the full path to the runtime agent library/DLL.
	// Empty means the platform default name, resolved through the
	// normal dynamic-linker/DLL search path.
	RtLibPath string

	// Envp is the debuggee's environment, as "K=V" entries. Empty means
	// the host's own environment (os.Environ()).
	Envp []string

	// Logger receives debug/info/warn/error messages from launch, the
	// handshake, and the process/thread lifecycle transitions the event
	// loop applies; request dispatch does not log. Nil uses the package
	// default logger.
	Logger *logging.Logger

	// Observer receives request/event metrics. Nil uses a no-op
	// observer.
	Observer Observer
}

func (c Config) logger() *logging.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logging.Default()
}

func (c Config) observer() Observer {
	if c.Observer != nil {
		return c.Observer
	}
	return NoOpObserver{}
}
