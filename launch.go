package udi

import (
	"fmt"

	"github.com/ehrlich-b/go-udi/internal/bootstrap"
	"github.com/ehrlich-b/go-udi/internal/ipc"
	"github.com/ehrlich-b/go-udi/internal/launcher"
)

// CreateProcess launches executable with argv, injects the runtime
// agent, performs the handshake, and returns a live Process with its
// initial Thread already attached.
func CreateProcess(executable string, argv []string, cfg Config) (*Process, error) {
	logger := cfg.logger()
	observer := cfg.observer()

	if _, err := ipc.ResolveRootDir(cfg.RootDir); err != nil {
		return nil, fmt.Errorf("udi: resolve root dir: %w", err)
	}

	// launcher.Launch resolves the per-user directory from the base
	// RootDir itself, so it is given the caller's value unchanged.
	launchCfg := launcher.Config{
		RootDir:   cfg.RootDir,
		RtLibPath: cfg.RtLibPath,
		Envp:      cfg.Envp,
		Logger:    logger,
	}

	child, err := launcher.Launch(executable, argv, launchCfg)
	if err != nil {
		return nil, fmt.Errorf("udi: launch %s: %w", executable, err)
	}

	result, err := bootstrap.Handshake(child, logger)
	if err != nil {
		return nil, err
	}

	if result.Init.V != ProtocolVersion {
		return nil, &Error{Op: "create_process", Code: Request, Msg: ErrVersionMismatch.Error(), Inner: ErrVersionMismatch}
	}

	pid := uint32(child.Pid())

	initialThread := newThread(result.Init.Tid, pid, result.Init.Arch, result.ThreadRequestChannel, result.ThreadResponseChannel, logger, observer)

	proc := &Process{
		pid:          pid,
		architecture: result.Init.Arch,
		multithread:  result.Init.Mt,
		endpoints:    child.Endpoints(),
		logger:       logger,
		observer:     observer,
		state: NewGuarded(processState{
			running: false,
			threads: []*Thread{initialThread},
			fileCtx: &processFileContext{
				request:  result.RequestChannel,
				response: result.ResponseChannel,
				events:   result.EventsChannel,
			},
		}),
	}

	logger.Debugf("udi: process created pid=%d arch=%s tid=%d multithread=%v", pid, result.Init.Arch, result.Init.Tid, result.Init.Mt)

	return proc, nil
}
