package model

import "time"

// Room is an addressable conversation channel. The identifier is assigned by
// the backend on creation and stable thereafter.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Participants []string  `json:"participants,omitempty"`
	LastActivity time.Time `json:"lastActivity,omitempty"`
}

// CreateRoomRequest is the body of a room creation call.
type CreateRoomRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}
