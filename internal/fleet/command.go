package fleet

import (
	"errors"
)

// Frame types exchanged with node agents
const (
	FrameHeartbeat     = "heartbeat"
	FrameCommand       = "command"
	FrameCommandResult = "command_result"
	FrameHealthEvent   = "health_event"
)

// Commands the coordinator issues to node agents
const (
	CmdBotStart   = "bot.start"
	CmdBotStop    = "bot.stop"
	CmdBotRestart = "bot.restart"
	CmdBotRemove  = "bot.remove"
	CmdBotUpdate  = "bot.update"
	CmdBotExport  = "bot.export"
	CmdBotImport  = "bot.import"
	CmdBotLogs    = "bot.logs"
	CmdBotInspect = "bot.inspect"

	CmdBackupUpload     = "backup.upload"
	CmdBackupDownload   = "backup.download"
	CmdBackupRunNightly = "backup.run-nightly"
	CmdBackupRunHot     = "backup.run-hot"
)

var (
	// ErrChannelClosed fails pending commands when a node channel goes away
	ErrChannelClosed = errors.New("channel_closed")
	// ErrCommandTimeout fails a command whose result never arrived
	ErrCommandTimeout = errors.New("timeout")
	// ErrNodeNotConnected is returned when no channel exists for a node
	ErrNodeNotConnected = errors.New("node not connected")
)

// ContainerReport is one running container in a heartbeat frame
type ContainerReport struct {
	Name     string `json:"name"`
	MemoryMB int    `json:"memory_mb"`
}

// Command is a downward frame; ID correlates the eventual result
type Command struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Command string                 `json:"command"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// CommandResult is the upward response to a Command
type CommandResult struct {
	ID      string                 `json:"id"`
	Type    string                 `json:"type"`
	Command string                 `json:"command"`
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Envelope is the superset of all upward frame shapes; Type selects which
// fields are meaningful.
type Envelope struct {
	ID         string                 `json:"id,omitempty"`
	Type       string                 `json:"type"`
	Command    string                 `json:"command,omitempty"`
	Success    bool                   `json:"success,omitempty"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Containers []ContainerReport      `json:"containers,omitempty"`
	Event      map[string]interface{} `json:"event,omitempty"`
}

// Commander dispatches a command to a node and awaits its result. The node
// connection manager is the production implementation; tests substitute fakes.
type Commander interface {
	SendCommand(nodeID, command string, payload map[string]interface{}) (*CommandResult, error)
}
