package models

import "time"

// Message is a row of the messages table. Nickname is not a column: it is
// joined from profiles when the message is read or received.
type Message struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"room_id"`
	Text      string    `json:"text"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	Nickname  string    `json:"-"`
}

// NewMessage is the insert payload; id and created_at are assigned by the backend.
type NewMessage struct {
	RoomID string `json:"room_id"`
	Text   string `json:"text"`
	UserID string `json:"user_id"`
}
