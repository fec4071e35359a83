package database

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

var ErrClosed = errors.New("database closed")

// MemoryDB is an in-process backend: the three tables plus an insert feed.
// Used by the offline "memory" mode and by tests.
type MemoryDB struct {
	mu       sync.Mutex
	profiles map[string]*models.Profile
	rooms    []*models.Room
	messages []*models.Message
	subs     map[*memSubscription]struct{}
	closed   bool
	now      func() time.Time

	// Failure injection for tests; a non-nil value is returned by the call.
	FailGetProfile    error
	FailInsertMessage error
	FailCreateRoom    error
	FailUpsertProfile error
	FailListMessages  error

	// Call counters, read with Counts.
	inserts int
	lookups int
}

func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		profiles: make(map[string]*models.Profile),
		subs:     make(map[*memSubscription]struct{}),
		now:      time.Now,
	}
}

// SetClock replaces the clock used for created_at.
func (db *MemoryDB) SetClock(now func() time.Time) {
	db.mu.Lock()
	db.now = now
	db.mu.Unlock()
}

// Counts reports message inserts and profile lookups served so far.
func (db *MemoryDB) Counts() (inserts, lookups int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.inserts, db.lookups
}

func (db *MemoryDB) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.lookups++
	if db.FailGetProfile != nil {
		return nil, db.FailGetProfile
	}
	p, ok := db.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (db *MemoryDB) UpsertProfile(ctx context.Context, profile *models.Profile) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.FailUpsertProfile != nil {
		return db.FailUpsertProfile
	}
	cp := *profile
	db.profiles[profile.ID] = &cp
	return nil
}

func (db *MemoryDB) ListRooms(ctx context.Context) ([]*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	rooms := make([]*models.Room, 0, len(db.rooms))
	for _, r := range db.rooms {
		cp := *r
		rooms = append(rooms, &cp)
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms, nil
}

func (db *MemoryDB) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.Room, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.FailCreateRoom != nil {
		return nil, db.FailCreateRoom
	}
	room := &models.Room{ID: uuid.NewString(), Name: req.Name, CreatedAt: db.now()}
	db.rooms = append(db.rooms, room)
	cp := *room
	return &cp, nil
}

func (db *MemoryDB) ListMessages(ctx context.Context, roomID string) ([]*models.Message, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.FailListMessages != nil {
		return nil, db.FailListMessages
	}
	var out []*models.Message
	for _, m := range db.messages {
		if m.RoomID != roomID {
			continue
		}
		cp := *m
		if p, ok := db.profiles[m.UserID]; ok {
			cp.Nickname = p.Nickname
		}
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (db *MemoryDB) InsertMessage(ctx context.Context, msg *models.NewMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.inserts++
	if db.FailInsertMessage != nil {
		return db.FailInsertMessage
	}
	row := &models.Message{
		ID:        uuid.NewString(),
		RoomID:    msg.RoomID,
		Text:      msg.Text,
		UserID:    msg.UserID,
		CreatedAt: db.now(),
	}
	db.messages = append(db.messages, row)

	record, err := json.Marshal(row)
	if err != nil {
		return err
	}
	db.publishLocked(models.ChangeEvent{
		Type:            models.EventInsert,
		Schema:          "public",
		Table:           "messages",
		Record:          record,
		CommitTimestamp: row.CreatedAt,
	})
	return nil
}

// Publish delivers an arbitrary event to matching subscribers, e.g. to replay
// a duplicate delivery in tests.
func (db *MemoryDB) Publish(ev models.ChangeEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.publishLocked(ev)
}

func (db *MemoryDB) publishLocked(ev models.ChangeEvent) {
	for sub := range db.subs {
		if sub.filter.Matches(ev) {
			sub.push(ev)
		}
	}
}

func (db *MemoryDB) Subscribe(ctx context.Context, filter models.ChangeFilter) (Subscription, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrClosed
	}
	sub := &memSubscription{db: db, filter: filter, events: make(chan models.ChangeEvent, 256)}
	db.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribers reports the number of open subscriptions.
func (db *MemoryDB) Subscribers() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.subs)
}

func (db *MemoryDB) Close() error {
	db.mu.Lock()
	subs := make([]*memSubscription, 0, len(db.subs))
	for s := range db.subs {
		subs = append(subs, s)
	}
	db.closed = true
	db.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
	return nil
}

type memSubscription struct {
	db     *MemoryDB
	filter models.ChangeFilter
	events chan models.ChangeEvent
	once   sync.Once
}

func (s *memSubscription) Events() <-chan models.ChangeEvent { return s.events }

// push runs with db.mu held.
func (s *memSubscription) push(ev models.ChangeEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *memSubscription) Close() error {
	s.once.Do(func() {
		s.db.mu.Lock()
		delete(s.db.subs, s)
		s.db.mu.Unlock()
		close(s.events)
	})
	return nil
}
