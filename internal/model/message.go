package model

import (
	"strings"
	"time"
)

type EventType string

const (
	EventChat       EventType = "CHAT"
	EventFile       EventType = "FILE"
	EventJoin       EventType = "JOIN"
	EventLeave      EventType = "LEAVE"
	EventTyping     EventType = "TYPING"
	EventStopTyping EventType = "STOP_TYPING"
	EventReaction   EventType = "REACTION"
	EventDelivered  EventType = "DELIVERED"
	EventRead       EventType = "READ"
)

// Message is one entry of a conversation's history.
//
// The deduplication key is two-phase: ClientID is a locally generated
// correlation marker carried until the backend assigns ID; once ID is set it
// is the sole key and is unique within a conversation.
type Message struct {
	ID         string    `json:"id,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	ChatRoomID string    `json:"chatRoomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`

	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
	ReadAt      *time.Time `json:"readAt,omitempty"`

	// Attachments holds file IDs; metadata is fetched separately.
	Attachments []string `json:"attachments,omitempty"`

	// Reactions maps emoji to count. Replaced wholesale by REACTION events.
	Reactions map[string]int `json:"reactions,omitempty"`
}

// IsEmpty reports whether the message carries no content and no attachments.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0
}

// SystemNotice reports whether the message is a join/leave notice rather
// than user content.
func (m Message) SystemNotice() bool {
	return m.Type == EventJoin || m.Type == EventLeave
}
