package fleet

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the transport surface a node channel needs. *websocket.Conn
// satisfies it; tests use in-process pipes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type commandOutcome struct {
	result *CommandResult
	err    error
}

// NodeChannel is the persistent bidirectional channel to one node agent.
// Outbound frames go through a single writer goroutine; inbound frames are
// consumed by a single reader, so per-channel ordering is preserved in both
// directions.
type NodeChannel struct {
	NodeID string

	conn     Conn
	outbound chan []byte

	mu      sync.Mutex
	pending map[string]chan commandOutcome

	closed    chan struct{}
	closeOnce sync.Once

	sweepMu   sync.Mutex
	sweepDone bool
}

// NewNodeChannel wraps a connection and starts the writer goroutine
func NewNodeChannel(nodeID string, conn Conn) *NodeChannel {
	ch := &NodeChannel{
		NodeID:   nodeID,
		conn:     conn,
		outbound: make(chan []byte, 64),
		pending:  make(map[string]chan commandOutcome),
		closed:   make(chan struct{}),
	}
	go ch.writeLoop()
	return ch
}

func (c *NodeChannel) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.outbound:
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

// read returns the next raw inbound frame. Only one goroutine may call read.
func (c *NodeChannel) read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

// Send transmits a command and waits for the correlated result, the timeout,
// or channel close, whichever comes first.
func (c *NodeChannel) Send(cmd *Command, timeout time.Duration) (*CommandResult, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", cmd.Command, err)
	}

	waiter := make(chan commandOutcome, 1)
	c.mu.Lock()
	c.pending[cmd.ID] = waiter
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	select {
	case c.outbound <- data:
	case <-c.closed:
		return nil, ErrChannelClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case out := <-waiter:
		return out.result, out.err
	case <-timer.C:
		return nil, fmt.Errorf("%s to node %s: %w", cmd.Command, c.NodeID, ErrCommandTimeout)
	case <-c.closed:
		return nil, ErrChannelClosed
	}
}

// resolve hands an inbound result to its waiter, if one is still registered
func (c *NodeChannel) resolve(result *CommandResult) {
	c.mu.Lock()
	waiter, ok := c.pending[result.ID]
	if ok {
		delete(c.pending, result.ID)
	}
	c.mu.Unlock()
	if ok {
		waiter <- commandOutcome{result: result}
	}
}

// Close tears down the channel and fails every pending waiter
func (c *NodeChannel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
		c.mu.Lock()
		for id, waiter := range c.pending {
			delete(c.pending, id)
			waiter <- commandOutcome{err: ErrChannelClosed}
		}
		c.mu.Unlock()
	})
}

// MarkOrphanSweep flips the once-per-connection cleanup guard and reports
// whether the caller won the flip. A reconnect gets a fresh channel and with
// it a fresh guard.
func (c *NodeChannel) MarkOrphanSweep() bool {
	c.sweepMu.Lock()
	defer c.sweepMu.Unlock()
	if c.sweepDone {
		return false
	}
	c.sweepDone = true
	return true
}
