package fleet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSendResolvesCorrelatedResult(t *testing.T) {
	conn := newFakeConn()
	ch := NewNodeChannel("n1", conn)
	defer ch.Close()

	go func() {
		data := <-conn.written
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		ch.resolve(&CommandResult{
			ID:      cmd.ID,
			Type:    FrameCommandResult,
			Command: cmd.Command,
			Success: true,
			Data:    map[string]interface{}{"status": "running"},
		})
	}()

	result, err := ch.Send(&Command{
		ID:      "cmd-1",
		Type:    FrameCommand,
		Command: CmdBotInspect,
		Payload: map[string]interface{}{"name": "bot-t1.b1"},
	}, time.Second)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "running", result.Data["status"])
}

func TestChannelSendTimesOut(t *testing.T) {
	conn := newFakeConn()
	ch := NewNodeChannel("n1", conn)
	defer ch.Close()

	_, err := ch.Send(&Command{ID: "cmd-1", Type: FrameCommand, Command: CmdBotStop}, 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
}

func TestChannelCloseFailsPendingCommands(t *testing.T) {
	conn := newFakeConn()
	ch := NewNodeChannel("n1", conn)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Send(&Command{ID: "cmd-1", Type: FrameCommand, Command: CmdBotStop}, 5*time.Second)
		errs <- err
	}()

	// Wait until the frame is on the wire so the waiter is registered.
	select {
	case <-conn.written:
	case <-time.After(time.Second):
		t.Fatal("command never written")
	}
	ch.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("pending command not failed by close")
	}
}

func TestChannelSendAfterClose(t *testing.T) {
	conn := newFakeConn()
	ch := NewNodeChannel("n1", conn)
	ch.Close()

	_, err := ch.Send(&Command{ID: "cmd-1", Type: FrameCommand, Command: CmdBotStop}, time.Second)
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestChannelResolveUnknownIDIsNoop(t *testing.T) {
	conn := newFakeConn()
	ch := NewNodeChannel("n1", conn)
	defer ch.Close()

	assert.NotPanics(t, func() {
		ch.resolve(&CommandResult{ID: "never-sent", Success: true})
	})
}

func TestMarkOrphanSweepFlipsOnce(t *testing.T) {
	ch := NewNodeChannel("n1", newFakeConn())
	defer ch.Close()

	assert.True(t, ch.MarkOrphanSweep())
	assert.False(t, ch.MarkOrphanSweep())
	assert.False(t, ch.MarkOrphanSweep())
}
