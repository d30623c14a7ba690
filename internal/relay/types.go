package relay

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// Validation limits for client supplied fields.
const (
	MaxRoomIDLength    = 100
	MaxPayloadRunes    = 4000
	defaultHistoryPage = 50
)

// Identity is the verified user reference produced by the auth gateway.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// Message is a committed chat message. It is immutable once sequenced.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Sender    Identity  `json:"sender"`
	Seq       uint64    `json:"seq"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// EventType names an outbound event.
type EventType string

// Outbound event types.
const (
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventMessage         EventType = "message"
	EventHistory         EventType = "history"
	EventMemberJoined    EventType = "member_joined"
	EventMemberLeft      EventType = "member_left"
	EventBacklogOverflow EventType = "backlog_overflow"
	EventError           EventType = "error"
)

// Event is a single frame written to a client connection.
type Event struct {
	Type           EventType  `json:"type"`
	RoomID         string     `json:"roomId,omitempty"`
	Sender         *Identity  `json:"sender,omitempty"`
	Seq            uint64     `json:"seq,omitempty"`
	Payload        string     `json:"payload,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	RecentMessages []Message  `json:"recentMessages,omitempty"`
	AlreadyJoined  bool       `json:"alreadyJoined,omitempty"`
	Member         *Identity  `json:"member,omitempty"`
	Dropped        int        `json:"dropped,omitempty"`
	Code           ErrorCode  `json:"code,omitempty"`
	Context        string     `json:"context,omitempty"`
}

// MarshalJSON always writes recentMessages on joined and history events, as
// an empty array when there is nothing to catch up on.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	if e.Type != EventJoined && e.Type != EventHistory {
		return json.Marshal(wire(e))
	}
	recent := e.RecentMessages
	if recent == nil {
		recent = []Message{}
	}
	return json.Marshal(struct {
		wire
		RecentMessages []Message `json:"recentMessages"`
	}{wire(e), recent})
}

// CommandType names an inbound client request.
type CommandType string

// Inbound command types.
const (
	CommandJoin    CommandType = "join"
	CommandLeave   CommandType = "leave"
	CommandSend    CommandType = "send"
	CommandHistory CommandType = "history"
)

// Command is a decoded client request.
type Command struct {
	Type      CommandType `json:"type"`
	RoomID    string      `json:"roomId"`
	Payload   string      `json:"payload,omitempty"`
	BeforeSeq uint64      `json:"beforeSeq,omitempty"`
	Limit     int         `json:"limit,omitempty"`
}

// Validate checks the command shape before it reaches the dispatcher.
func (c Command) Validate() error {
	switch c.Type {
	case CommandJoin, CommandLeave, CommandSend, CommandHistory:
	case "":
		return NewProtocolError(CodeMalformed, "missing command type")
	default:
		return NewProtocolError(CodeUnknownType, string(c.Type))
	}
	if err := ValidateRoomID(c.RoomID); err != nil {
		return err
	}
	if c.Type == CommandSend {
		return ValidatePayload(c.Payload)
	}
	return nil
}

// ValidateRoomID rejects empty, oversized or non UTF-8 room ids.
func ValidateRoomID(roomID string) error {
	switch {
	case strings.TrimSpace(roomID) == "":
		return NewProtocolError(CodeInvalidRoom, "room id is required")
	case len(roomID) > MaxRoomIDLength:
		return NewProtocolError(CodeInvalidRoom, "room id exceeds maximum length")
	case !utf8.ValidString(roomID):
		return NewProtocolError(CodeInvalidRoom, "room id is not valid UTF-8")
	}
	return nil
}

// ValidatePayload rejects empty, oversized or non UTF-8 message bodies.
func ValidatePayload(payload string) error {
	switch {
	case strings.TrimSpace(payload) == "":
		return NewProtocolError(CodeInvalidPayload, "payload is required")
	case !utf8.ValidString(payload):
		return NewProtocolError(CodeInvalidPayload, "payload is not valid UTF-8")
	case utf8.RuneCountInString(payload) > MaxPayloadRunes:
		return NewProtocolError(CodeInvalidPayload, "payload exceeds maximum length")
	}
	return nil
}

func messageEvent(msg Message) Event {
	sender := msg.Sender
	ts := msg.Timestamp
	return Event{
		Type:      EventMessage,
		RoomID:    msg.RoomID,
		Sender:    &sender,
		Seq:       msg.Seq,
		Payload:   msg.Payload,
		Timestamp: &ts,
	}
}

// ErrorEvent builds the error frame reported for err.
func ErrorEvent(err *ProtocolError) Event {
	return Event{Type: EventError, Code: err.Code, Context: err.Context}
}
