// Package domain defines the in-memory model for chat rooms and messages.
// These are the canonical shapes the rest of the SDK works with; everything
// arriving from the wire is converted into them exactly once, at the boundary
// (see the wire package), and never re-parsed further in.
package domain

import "time"

// MessageType classifies the body of a message. Values are lower-case in
// memory; the wire contract uses the upper-case spelling of the same words.
type MessageType string

// Known message body variants.
const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageGIF      MessageType = "gif"
)

// MessageStatus tracks delivery progress of a message from the local user's
// point of view. Messages received from the server are always at least Sent.
type MessageStatus string

// Delivery states, in order of progress.
const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// RoomContext classifies what a room is attached to.
type RoomContext string

// Room context kinds.
const (
	RoomDirect     RoomContext = "direct"
	RoomEngagement RoomContext = "engagement"
)

// Message is a single chat message.
//
// Fields:
//   - ID: server-assigned once persisted. Before confirmation a locally
//     generated placeholder of the form "temp-<n>" is used instead.
//   - SenderID: durable identifier of the author.
//   - SentAt: canonical UTC timestamp; SentAtMillis is derived from it and is
//     what ordering and edit-window arithmetic use.
//   - FileURL/FileName/FileSize: populated only for file-bearing variants.
//   - ReplyToMessageID: set when the message replies to another one.
type Message struct {
	ID               string
	SenderID         string
	Text             string
	Type             MessageType
	Status           MessageStatus
	FileURL          string
	FileName         string
	FileSize         int64
	ReplyToMessageID string
	SentAt           time.Time
	SentAtMillis     int64
}

// IsTemp reports whether the message still carries a local placeholder ID.
func (m Message) IsTemp() bool {
	return len(m.ID) > 5 && m.ID[:5] == "temp-"
}

// ChatRoom is a conversation container. The remote service owns rooms; the
// SDK holds a read-through copy for the active session only.
type ChatRoom struct {
	ID          string
	Title       string
	ContextType RoomContext
	MemberIDs   []string
}

// RoomSummary is the reduced room shape returned by engagement lookup.
type RoomSummary struct {
	ID    string
	Title string
}
