package mcpserver

import "time"

// Status describes the state of one backend connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
)

// ConnectionInfo is an immutable snapshot of one connection for
// diagnostics.
type ConnectionInfo struct {
	ID                string    `json:"id"`
	Status            Status    `json:"status"`
	LastConnectedAt   time.Time `json:"lastConnectedAt"`
	LastError         string    `json:"lastError,omitempty"`
	ToolCount         int       `json:"toolCount"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
}

// InitSummary reports the outcome of the initial parallel connect. Failed
// servers keep retrying in the background; their ids are listed so callers
// can surface the degraded start.
type InitSummary struct {
	Connected []string
	Failed    []string
}
