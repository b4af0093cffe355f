//go:build windows

package ipc

import (
	"context"
	"fmt"

	"github.com/Microsoft/go-winio"

	"github.com/ehrlich-b/go-udi/internal/constants"
)

// WindowsEndpoints names the named-pipe triad for one process under
// \\.\pipe\udi-<pid>-<kind>, dialed as a client since the injected
// runtime agent owns the server side of each pipe.
type WindowsEndpoints struct {
	pid uint32
}

// NewWindowsEndpoints builds the endpoint set for pid.
func NewWindowsEndpoints(pid uint32) *WindowsEndpoints {
	return &WindowsEndpoints{pid: pid}
}

func (w *WindowsEndpoints) RequestPath() string {
	return fmt.Sprintf("%s-%d-%s", constants.WindowsPipeNameBase, w.pid, constants.RequestFileName)
}

func (w *WindowsEndpoints) ResponsePath() string {
	return fmt.Sprintf("%s-%d-%s", constants.WindowsPipeNameBase, w.pid, constants.ResponseFileName)
}

func (w *WindowsEndpoints) EventsPath() string {
	return fmt.Sprintf("%s-%d-%s", constants.WindowsPipeNameBase, w.pid, constants.EventsFileName)
}

func (w *WindowsEndpoints) ThreadRequestPath(tid uint64) string {
	return fmt.Sprintf("%s-%d-%d-%s", constants.WindowsPipeNameBase, w.pid, tid, constants.RequestFileName)
}

func (w *WindowsEndpoints) ThreadResponsePath(tid uint64) string {
	return fmt.Sprintf("%s-%d-%d-%s", constants.WindowsPipeNameBase, w.pid, tid, constants.ResponseFileName)
}

func dialPipe(path string) (Channel, error) {
	conn, err := winio.DialPipeContext(context.Background(), path)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial pipe %s: %w", path, err)
	}
	return conn, nil
}

// OpenProcessChannels dials request, response, then events. Named
// pipes don't share the POSIX FIFO open-order deadlock hazard, but the
// same order is kept so callers see identical behavior cross-platform.
func (w *WindowsEndpoints) OpenProcessChannels() (request, response, events Channel, err error) {
	request, err = dialPipe(w.RequestPath())
	if err != nil {
		return nil, nil, nil, err
	}

	response, err = dialPipe(w.ResponsePath())
	if err != nil {
		request.Close()
		return nil, nil, nil, err
	}

	events, err = dialPipe(w.EventsPath())
	if err != nil {
		request.Close()
		response.Close()
		return nil, nil, nil, err
	}

	return request, response, events, nil
}

// OpenThreadChannels dials a thread's request/response pair.
func (w *WindowsEndpoints) OpenThreadChannels(tid uint64) (request, response Channel, err error) {
	request, err = dialPipe(w.ThreadRequestPath(tid))
	if err != nil {
		return nil, nil, err
	}

	response, err = dialPipe(w.ThreadResponsePath(tid))
	if err != nil {
		request.Close()
		return nil, nil, err
	}

	return request, response, nil
}

var _ Endpoints = (*WindowsEndpoints)(nil)
