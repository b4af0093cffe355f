package udi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-udi/internal/protocol"
)

func newTestThreadWithAgent(t *testing.T) (*Thread, *FakeAgent) {
	t.Helper()
	agent, err := NewFakeAgent()
	require.NoError(t, err)
	t.Cleanup(func() { agent.Close() })

	request, response, _ := agent.HostChannels()
	thr := newThread(7, 99, ArchX8664, request, response, nil, NoOpObserver{})
	return thr, agent
}

func TestThreadGetPC(t *testing.T) {
	thr, agent := newTestThreadWithAgent(t)

	done := make(chan error, 1)
	go func() {
		var req protocol.ReadRegister
		if _, err := agent.ReadRequest(&req); err != nil {
			done <- err
			return
		}
		if req.Reg != uint32(X8664RIP) {
			done <- assert.AnError
			return
		}
		done <- agent.WriteValid(protocol.ReqReadRegister, protocol.ReadRegisterResponse{Value: 0x401000})
	}()

	pc, err := thr.GetPC()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, uint64(0x401000), pc)
}

func TestThreadWriteRegister(t *testing.T) {
	thr, agent := newTestThreadWithAgent(t)

	done := make(chan error, 1)
	go func() {
		var req protocol.WriteRegister
		if _, err := agent.ReadRequest(&req); err != nil {
			done <- err
			return
		}
		done <- agent.WriteValid(protocol.ReqWriteRegister, nil)
	}()

	require.NoError(t, thr.WriteRegister(X8664RAX, 42))
	require.NoError(t, <-done)
}

func TestThreadSetAndGetSingleStep(t *testing.T) {
	thr, agent := newTestThreadWithAgent(t)

	done := make(chan error, 1)
	go func() {
		var req protocol.SingleStep
		if _, err := agent.ReadRequest(&req); err != nil {
			done <- err
			return
		}
		done <- agent.WriteValid(protocol.ReqSingleStep, protocol.SingleStepResponse{Value: req.Value})
	}()

	require.NoError(t, thr.SetSingleStep(true))
	require.NoError(t, <-done)
	assert.True(t, thr.GetSingleStep())
}

func TestThreadOperationsRejectedAfterDeath(t *testing.T) {
	thr, _ := newTestThreadWithAgent(t)

	thr.onDeath()
	assert.Equal(t, ThreadDead, thr.State())

	_, err := thr.GetPC()
	require.Error(t, err)
	assert.True(t, IsCode(err, Request))
	assert.ErrorIs(t, err, ErrThreadTerminated)
}

func TestThreadSetStateDoesNotResurrectDeadThread(t *testing.T) {
	thr, _ := newTestThreadWithAgent(t)

	thr.onDeath()
	thr.setState(ThreadRunning)

	assert.Equal(t, ThreadDead, thr.State())
}

func TestThreadSuspend(t *testing.T) {
	thr, agent := newTestThreadWithAgent(t)

	done := make(chan error, 1)
	go func() {
		if _, err := agent.ReadRequest(nil); err != nil {
			done <- err
			return
		}
		done <- agent.WriteValid(protocol.ReqThreadSuspend, nil)
	}()

	require.NoError(t, thr.Suspend())
	require.NoError(t, <-done)
}
