package model

import "time"

// Event is one inbound frame body from a conversation topic. It is a
// superset of Message: presence and receipt events reuse the sender fields,
// reaction events reference an existing message by MessageID.
type Event struct {
	Type       EventType `json:"type"`
	ID         string    `json:"id,omitempty"`
	ClientID   string    `json:"clientId,omitempty"`
	ChatRoomID string    `json:"chatRoomId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName,omitempty"`
	Content    string    `json:"content,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	Attachments []string       `json:"attachments,omitempty"`
	Reactions   map[string]int `json:"reactions,omitempty"`

	// MessageID targets an existing message (REACTION).
	MessageID string `json:"messageId,omitempty"`
}

// Message converts a content-bearing event (CHAT/FILE/JOIN/LEAVE) into the
// message it carries.
func (e Event) Message() Message {
	return Message{
		ID:          e.ID,
		ClientID:    e.ClientID,
		ChatRoomID:  e.ChatRoomID,
		SenderID:    e.SenderID,
		SenderName:  e.SenderName,
		Content:     e.Content,
		Type:        e.Type,
		Timestamp:   e.Timestamp,
		Attachments: e.Attachments,
		Reactions:   e.Reactions,
	}
}
