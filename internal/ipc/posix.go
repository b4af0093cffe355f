//go:build linux || darwin

package ipc

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ehrlich-b/go-udi/internal/constants"
)

// PosixEndpoints names the FIFO triad for one process under
// <userRootDir>/<pid>, built by create_root_udi_filesystem's Go
// counterpart (ResolveRootDir).
type PosixEndpoints struct {
	dir string
}

// NewPosixEndpoints builds the endpoint set for pid under userRootDir.
func NewPosixEndpoints(userRootDir string, pid int) *PosixEndpoints {
	return &PosixEndpoints{dir: filepath.Join(userRootDir, strconv.Itoa(pid))}
}

// Dir returns the process's root directory, the parent of its three
// top-level pipes.
func (p *PosixEndpoints) Dir() string { return p.dir }

func (p *PosixEndpoints) RequestPath() string {
	return filepath.Join(p.dir, constants.RequestFileName)
}

func (p *PosixEndpoints) ResponsePath() string {
	return filepath.Join(p.dir, constants.ResponseFileName)
}

func (p *PosixEndpoints) EventsPath() string {
	return filepath.Join(p.dir, constants.EventsFileName)
}

func (p *PosixEndpoints) ThreadRequestPath(tid uint64) string {
	return filepath.Join(p.dir, threadSubdir(tid), constants.RequestFileName)
}

func (p *PosixEndpoints) ThreadResponsePath(tid uint64) string {
	return filepath.Join(p.dir, threadSubdir(tid), constants.ResponseFileName)
}

// OpenProcessChannels opens request (write-only), then response, then
// events, in that order: POSIX FIFOs block in open(2) until a peer
// holds the other end, and opening out of order deadlocks against the
// agent doing the same on its side.
func (p *PosixEndpoints) OpenProcessChannels() (request, response, events Channel, err error) {
	reqFile, err := os.OpenFile(p.RequestPath(), os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("ipc: open request channel: %w", err)
	}

	respFile, err := os.Open(p.ResponsePath())
	if err != nil {
		reqFile.Close()
		return nil, nil, nil, fmt.Errorf("ipc: open response channel: %w", err)
	}

	evFile, err := os.Open(p.EventsPath())
	if err != nil {
		reqFile.Close()
		respFile.Close()
		return nil, nil, nil, fmt.Errorf("ipc: open events channel: %w", err)
	}

	return reqFile, respFile, evFile, nil
}

// OpenThreadChannels opens a thread's request/response pair, request
// before response, for the same FIFO-ordering reason.
func (p *PosixEndpoints) OpenThreadChannels(tid uint64) (request, response Channel, err error) {
	reqFile, err := os.OpenFile(p.ThreadRequestPath(tid), os.O_WRONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("ipc: open thread request channel: %w", err)
	}

	respFile, err := os.Open(p.ThreadResponsePath(tid))
	if err != nil {
		reqFile.Close()
		return nil, nil, fmt.Errorf("ipc: open thread response channel: %w", err)
	}

	return reqFile, respFile, nil
}

var _ Endpoints = (*PosixEndpoints)(nil)
