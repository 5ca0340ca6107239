package transport

import (
	"github.com/Houngansi/SuspenseCore-sub009/internal/equipment"
	"github.com/Houngansi/SuspenseCore-sub009/internal/replication"
)

// Message types.
const (
	TypeOperation   = "operation"
	TypeAck         = "ack"
	TypePing        = "ping"
	TypeObserve     = "observe"
	TypeResult      = "result"
	TypeReplication = "replication"
	TypePong        = "pong"
	TypeError       = "error"
)

// ClientMessage is a message read from a session.
type ClientMessage struct {
	Type       string                      `json:"type"`
	Operation  *equipment.OperationRequest `json:"operation,omitempty"`
	Queued     bool                        `json:"queued,omitempty"`
	Owner      string                      `json:"owner,omitempty"`
	Version    uint32                      `json:"version,omitempty"`
	PingMillis int64                       `json:"ping_ms,omitempty"`
	PacketLoss float64                     `json:"packet_loss,omitempty"`
}

// ServerMessage is a message written to a session.
type ServerMessage struct {
	Type        string                     `json:"type"`
	Result      *equipment.OperationResult `json:"result,omitempty"`
	Replication *replication.Outbound      `json:"replication,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

func errorMessage(msg string) ServerMessage {
	return ServerMessage{Type: TypeError, Error: msg}
}
