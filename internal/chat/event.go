package chat

import (
	"encoding/json"
	"strings"
	"time"
)

// Event names exchanged with websocket clients.
const (
	// EventUsersOnline carries the full de-duplicated presence snapshot.
	EventUsersOnline = "users:online"
	// EventUserConnected carries the presence entry of a user who came online.
	EventUserConnected = "user:connected"
	// EventUserDisconnected carries only the id of a user who went offline.
	EventUserDisconnected = "user:disconnected"
	// EventReceiveMessage delivers a room message to its joined connections.
	EventReceiveMessage = "receive-message"
	// EventError reports a protocol problem with a client frame.
	EventError = "error"

	// EventInstanceAlive travels only over the Bus. It carries the users
	// connected to the publishing instance and refreshes their presence
	// elsewhere.
	EventInstanceAlive = "instance:alive"

	EventJoinChat    = "join-chat"
	EventLeaveChat   = "leave-chat"
	EventSendMessage = "send-message"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Envelope is what hub instances exchange over a Bus. RoomID is set for room
// messages only.
type Envelope struct {
	Origin     string          `json:"origin"`
	Event      string          `json:"event"`
	RoomID     string          `json:"roomId,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
}

type disconnectedPayload struct {
	UserID string `json:"userId"`
}

// sendMessagePayload is the data of a send-message frame. Older clients send
// the message itself with a chatId field, in which case Message is empty.
type sendMessagePayload struct {
	ChatID  string          `json:"chatId"`
	Message json.RawMessage `json:"message"`
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}

// roomIDFrom accepts either a bare JSON string or an object with a chatId.
func roomIDFrom(data json.RawMessage) string {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return strings.TrimSpace(id)
	}
	var wrapped struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		return strings.TrimSpace(wrapped.ChatID)
	}
	return ""
}
