package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

var ErrNotFound = errors.New("row not found")

// APIError carries the backend's own message, which is shown to the user verbatim.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	UpsertProfile(ctx context.Context, profile *models.Profile) error
}

type RoomRepository interface {
	ListRooms(ctx context.Context) ([]*models.Room, error)
	CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error)
}

type MessageRepository interface {
	// ListMessages returns a room's messages oldest first, nicknames joined.
	ListMessages(ctx context.Context, roomID string) ([]*models.Message, error)
	InsertMessage(ctx context.Context, msg *models.NewMessage) error
}

// Subscription is one open change feed subscription. Events is closed by Close.
type Subscription interface {
	Events() <-chan models.ChangeEvent
	Close() error
}

type ChangeFeed interface {
	Subscribe(ctx context.Context, filter models.ChangeFilter) (Subscription, error)
}

type Database interface {
	ProfileRepository
	RoomRepository
	MessageRepository
	ChangeFeed
	Close() error
}

// MessageFilter is the change feed filter for new messages in one room.
func MessageFilter(roomID string) models.ChangeFilter {
	return models.ChangeFilter{
		Event:  models.EventInsert,
		Schema: "public",
		Table:  "messages",
		Column: "room_id",
		Value:  roomID,
	}
}
