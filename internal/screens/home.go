package screens

import (
	"context"
	"strings"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Home is the room directory. Rooms are loaded once per activation.
type Home struct {
	lifecycle

	db      database.RoomRepository
	router  *navigation.Router
	alerter Alerter

	mu    sync.Mutex
	rooms []models.Room
}

func NewHome(db database.RoomRepository, router *navigation.Router, alerter Alerter) *Home {
	return &Home{db: db, router: router, alerter: alerter}
}

func (h *Home) Activate(parent context.Context) error {
	ctx := h.begin(parent)

	rooms, err := h.db.ListRooms(ctx)
	if err != nil {
		logger.Warn("Loading rooms failed: %v", err)
		return err
	}

	h.mu.Lock()
	if ctx.Err() != nil {
		h.mu.Unlock()
		return ctx.Err()
	}
	h.rooms = make([]models.Room, 0, len(rooms))
	for _, r := range rooms {
		h.rooms = append(h.rooms, *r)
	}
	h.mu.Unlock()
	h.notify()
	return nil
}

func (h *Home) Deactivate() { h.end() }

func (h *Home) CanCreate(name string) bool {
	return strings.TrimSpace(name) != ""
}

// CreateRoom inserts a room and appends the returned row to the list.
// Names are not checked for uniqueness.
func (h *Home) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrEmptyName
	}

	room, err := h.db.CreateRoom(ctx, &models.CreateRoomRequest{Name: name})
	if err != nil {
		logger.Error("Creating room %q failed: %v", name, err)
		alert(h.alerter, "Error", errorMessage(err))
		return nil, err
	}

	active := h.active()
	h.mu.Lock()
	if active.Err() == nil {
		h.rooms = append(h.rooms, *room)
	}
	h.mu.Unlock()
	h.notify()
	return room, nil
}

// Rooms returns a copy of the list, oldest first.
func (h *Home) Rooms() []models.Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Room(nil), h.rooms...)
}

func (h *Home) OpenRoom(roomID string) {
	h.router.Navigate(navigation.Route{
		Name:   navigation.Chat,
		Params: map[string]string{"roomId": roomID},
	})
}
