package domain

import (
	"encoding/json"
	"fmt"
)

// MessageType names a room message kind.
type MessageType string

const (
	// Server to client.
	MsgEventCreated   MessageType = "event_created"
	MsgEventUpdated   MessageType = "event_updated"
	MsgEventDeleted   MessageType = "event_deleted"
	MsgJoinedCalendar MessageType = "joined_calendar"

	// Client to server.
	MsgJoinCalendar  MessageType = "join_calendar"
	MsgLeaveCalendar MessageType = "leave_calendar"
)

// Envelope is the frame exchanged over the room connection.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventDeleted is the payload of MsgEventDeleted.
type EventDeleted struct {
	EventID int64 `json:"event_id"`
}

// JoinedCalendar is the payload of MsgJoinedCalendar.
type JoinedCalendar struct {
	Calendar Calendar `json:"calendar"`
}

// RoomRequest is the payload of MsgJoinCalendar and MsgLeaveCalendar.
type RoomRequest struct {
	ShareCode string `json:"share_code"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(t MessageType, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: raw}, nil
}
