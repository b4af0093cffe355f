//go:build darwin

package eventloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// kqueuePoller multiplexes events-channel readability with kqueue. The
// pid associated with a ready fd is recovered from a local map since
// EV_SET's Ident must be the real descriptor.
type kqueuePoller struct {
	kq int

	mu      sync.Mutex
	pidByFd map[int]int
}

func newPoller() (Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("eventloop: kqueue: %w", err)
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, pidByFd: make(map[int]int)}, nil
}

func (p *kqueuePoller) Register(pid int, fd uintptr) error {
	p.mu.Lock()
	p.pidByFd[int(fd)] = pid
	p.mu.Unlock()

	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		return fmt.Errorf("eventloop: kevent add pid=%d: %w", pid, err)
	}
	return nil
}

func (p *kqueuePoller) Unregister(pid int) error {
	var fd int
	p.mu.Lock()
	for f, owner := range p.pidByFd {
		if owner == pid {
			fd = f
			delete(p.pidByFd, f)
			break
		}
	}
	p.mu.Unlock()

	if fd == 0 {
		return nil
	}
	changes := []unix.Kevent_t{{
		Ident:  uint64(fd),
		Filter: unix.EVFILT_READ,
		Flags:  unix.EV_DELETE,
	}}
	_, err := unix.Kevent(p.kq, changes, nil, nil)
	if err != nil {
		return fmt.Errorf("eventloop: kevent del pid=%d: %w", pid, err)
	}
	return nil
}

func (p *kqueuePoller) Wait(dst []int) ([]int, error) {
	var events [64]unix.Kevent_t

	n, err := unix.Kevent(p.kq, nil, events[:], nil)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("eventloop: kevent wait: %w", err)
	}

	p.mu.Lock()
	for i := 0; i < n; i++ {
		if pid, ok := p.pidByFd[int(events[i].Ident)]; ok {
			dst = append(dst, pid)
		}
	}
	p.mu.Unlock()

	return dst, nil
}

func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
