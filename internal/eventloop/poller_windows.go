//go:build windows

package eventloop

import (
	"fmt"
	"sync"

	"golang.org/x/sys/windows"
)

// shimPoller approximates readiness polling for named pipes, which
// have no equivalent of epoll/kqueue edge-triggered readiness on a
// plain handle: one goroutine per registered pid calls PeekNamedPipe
// in a loop and reports readiness once on a shared channel.
type shimPoller struct {
	mu      sync.Mutex
	cancel  map[int]chan struct{}
	ready   chan int
	closing chan struct{}
}

func newPoller() (Poller, error) {
	return &shimPoller{
		cancel:  make(map[int]chan struct{}),
		ready:   make(chan int, 64),
		closing: make(chan struct{}),
	}, nil
}

func (p *shimPoller) Register(pid int, fd uintptr) error {
	p.mu.Lock()
	if _, ok := p.cancel[pid]; ok {
		p.mu.Unlock()
		return fmt.Errorf("eventloop: pid %d already registered", pid)
	}
	done := make(chan struct{})
	p.cancel[pid] = done
	p.mu.Unlock()

	handle := windows.Handle(fd)
	go p.watch(pid, handle, done)
	return nil
}

func (p *shimPoller) watch(pid int, handle windows.Handle, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-p.closing:
			return
		default:
		}

		var bytesAvail uint32
		err := windows.PeekNamedPipe(handle, nil, 0, nil, &bytesAvail, nil)
		if err != nil || bytesAvail > 0 {
			select {
			case p.ready <- pid:
			case <-done:
				return
			case <-p.closing:
				return
			}
			return
		}
	}
}

func (p *shimPoller) Unregister(pid int) error {
	p.mu.Lock()
	done, ok := p.cancel[pid]
	delete(p.cancel, pid)
	p.mu.Unlock()

	if ok {
		close(done)
	}
	return nil
}

func (p *shimPoller) Wait(dst []int) ([]int, error) {
	pid, ok := <-p.ready
	if !ok {
		return dst, fmt.Errorf("eventloop: poller closed")
	}
	return append(dst, pid), nil
}

func (p *shimPoller) Close() error {
	close(p.closing)
	return nil
}
