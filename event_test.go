package udi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

func setProcessRunning(t *testing.T, p *Process, running, terminating bool) {
	t.Helper()
	require.NoError(t, p.state.With(func(s *processState) error {
		s.running = running
		s.terminating = terminating
		return nil
	}))
}

func TestWaitForEventsThreadCreateAppendsAndHandshakes(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	proc, agent := newTestProcessWithAgent(t)
	setProcessRunning(t, proc, true, false)

	thrAgent, err := NewFakeAgent()
	require.NoError(t, err)
	t.Cleanup(func() { thrAgent.Close() })

	endpoints := NewFakeEndpoints()
	endpoints.RegisterThread(2, thrAgent)
	proc.endpoints = endpoints

	done := make(chan error, 1)
	go func() {
		if err := agent.EmitEvent(2, protocol.EventThreadCreate{Tid: 2}); err != nil {
			done <- err
			return
		}
		done <- thrAgent.ServeInit(2, ArchX8664, true)
	}()

	events, err := WaitForEvents(loop, []*Process{proc})
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Len(t, events, 1)
	_, ok := events[0].Data.(EventThreadCreate)
	assert.True(t, ok)

	threads := proc.Threads()
	require.Len(t, threads, 2)
	assert.Equal(t, uint64(2), threads[1].TID())
}

func TestWaitForEventsThreadDeathDropsFileContext(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	proc, agent := newTestProcessWithAgent(t)
	setProcessRunning(t, proc, true, false)

	done := make(chan error, 1)
	go func() {
		done <- agent.EmitEvent(1, protocol.EventThreadDeath{})
	}()

	events, err := WaitForEvents(loop, []*Process{proc})
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Len(t, events, 1)
	_, ok := events[0].Data.(EventThreadDeath)
	assert.True(t, ok)

	threads := proc.Threads()
	require.Len(t, threads, 1)
	assert.Equal(t, ThreadDead, threads[0].State())

	// The thread stays in the list, but commands against it now fail.
	_, err = threads[0].GetPC()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrThreadTerminated)
}

func TestWaitForEventsProcessExitSetsTerminating(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	proc, agent := newTestProcessWithAgent(t)
	setProcessRunning(t, proc, true, false)

	done := make(chan error, 1)
	go func() {
		done <- agent.EmitEvent(1, protocol.EventProcessExit{Code: 0})
	}()

	events, err := WaitForEvents(loop, []*Process{proc})
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Len(t, events, 1)
	_, ok := events[0].Data.(EventProcessExit)
	assert.True(t, ok)
	assert.True(t, proc.Terminating())
}

func TestWaitForEventsProcessCleanupResolvesInitialThreadTid(t *testing.T) {
	loop, err := NewEventLoop()
	require.NoError(t, err)
	t.Cleanup(func() { loop.Close() })

	proc, agent := newTestProcessWithAgent(t)
	setProcessRunning(t, proc, true, true)

	require.NoError(t, agent.CloseEvents())

	events, err := WaitForEvents(loop, []*Process{proc})
	require.NoError(t, err)

	require.Len(t, events, 1)
	_, ok := events[0].Data.(EventProcessCleanup)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), events[0].Tid)
	assert.True(t, proc.IsTerminated())
}
