//go:build linux

package eventloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// epollPoller multiplexes events-channel readability with epoll,
// storing the owning pid in EpollEvent.Fd as an opaque token — the
// kernel returns it unexamined on wakeup, so it need not equal the
// real descriptor.
type epollPoller struct {
	epfd int

	mu      sync.Mutex
	fdByPid map[int]int
}

func newPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("eventloop: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd, fdByPid: make(map[int]int)}, nil
}

func (p *epollPoller) Register(pid int, fd uintptr) error {
	p.mu.Lock()
	p.fdByPid[pid] = int(fd)
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pid)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl add pid=%d: %w", pid, err)
	}
	return nil
}

func (p *epollPoller) Unregister(pid int) error {
	p.mu.Lock()
	fd, ok := p.fdByPid[pid]
	delete(p.fdByPid, pid)
	p.mu.Unlock()

	if !ok {
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("eventloop: epoll_ctl del pid=%d: %w", pid, err)
	}
	return nil
}

func (p *epollPoller) Wait(dst []int) ([]int, error) {
	var events [64]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, events[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, fmt.Errorf("eventloop: epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		dst = append(dst, int(events[i].Fd))
	}
	return dst, nil
}

func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
