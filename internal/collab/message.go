// Package collab keeps one open circuit in step with its collaborators. Local
// edits are fingerprinted and broadcast after a short debounce; remote edits
// are applied without touching undo history and without being echoed back.
package collab

import (
	"encoding/json"
	"fmt"

	"qcompose/internal/circuit"
)

// Message types on the relay socket.
const (
	TypeGateOpUpdate          = "gate_op_update"
	TypeConnectionEstablished = "connection_established"
	TypeJoinRoom              = "join_room"
	TypeLeaveRoom             = "leave_room"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypeConnectionUpdate      = "connection_update"
	TypeCursorMove            = "cursor_move"
	TypeCursorUpdate          = "cursor_update"
	TypePing                  = "ping"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// Events carried by a connection_update.
const (
	EventUserConnected    = "user_connected"
	EventUserDisconnected = "user_disconnected"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
)

// OpUpdate is the only gate operation applied on receipt.
const OpUpdate = "update"

// Message is the envelope exchanged with the relay.
type Message struct {
	Type         string          `json:"type"`
	Room         string          `json:"room,omitempty"`
	Operation    string          `json:"operation,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	Error        string          `json:"error,omitempty"`

	Event            string   `json:"event,omitempty"`
	Peers            []string `json:"peers,omitempty"`
	TotalConnections int      `json:"totalConnections,omitempty"`
	Position         *Cursor  `json:"position,omitempty"`
}

// Cursor is a grid cell a collaborator is pointing at.
type Cursor struct {
	Depth int `json:"depth"`
	Qubit int `json:"qubit"`
}

// UpdateData is the payload of an "update" gate operation.
type UpdateData struct {
	Gates circuit.Items `json:"gates"`
}

// NewUpdate builds the broadcast for a full item list.
func NewUpdate(connectionID, room string, items circuit.Items) (Message, error) {
	if items == nil {
		items = circuit.Items{}
	}
	data, err := json.Marshal(UpdateData{Gates: items})
	if err != nil {
		return Message{}, fmt.Errorf("encode update: %w", err)
	}
	return Message{
		Type:         TypeGateOpUpdate,
		Room:         room,
		Operation:    OpUpdate,
		ConnectionID: connectionID,
		Data:         data,
	}, nil
}
