package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

func steppingClock() func() time.Time {
	t := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemoryRoomsKeepInsertionOrder(t *testing.T) {
	db := NewMemoryDB()
	db.SetClock(steppingClock())
	ctx := context.Background()

	for _, name := range []string{"general", "random", "Test Room"} {
		_, err := db.CreateRoom(ctx, &models.CreateRoomRequest{Name: name})
		require.NoError(t, err)
	}

	rooms, err := db.ListRooms(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 3)
	assert.Equal(t, "Test Room", rooms[2].Name)
}

func TestMemoryInsertPublishesToMatchingSubscribers(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	r1, err := db.Subscribe(ctx, MessageFilter("r1"))
	require.NoError(t, err)
	r2, err := db.Subscribe(ctx, MessageFilter("r2"))
	require.NoError(t, err)

	require.NoError(t, db.InsertMessage(ctx, &models.NewMessage{RoomID: "r1", Text: "hi", UserID: "u1"}))

	select {
	case ev := <-r1.Events():
		msg, err := ev.Message()
		require.NoError(t, err)
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(time.Second):
		t.Fatal("r1 subscriber got nothing")
	}
	assert.Len(t, r2.Events(), 0)

	require.NoError(t, r1.Close())
	require.NoError(t, r1.Close())
	assert.Equal(t, 1, db.Subscribers())

	require.NoError(t, db.Close())
	assert.Equal(t, 0, db.Subscribers())
	_, err = db.Subscribe(ctx, MessageFilter("r1"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryListMessagesJoinsProfiles(t *testing.T) {
	db := NewMemoryDB()
	db.SetClock(steppingClock())
	ctx := context.Background()

	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u1", Nickname: "ada"}))
	require.NoError(t, db.InsertMessage(ctx, &models.NewMessage{RoomID: "r1", Text: "one", UserID: "u1"}))
	require.NoError(t, db.InsertMessage(ctx, &models.NewMessage{RoomID: "r1", Text: "two", UserID: "ghost"}))
	require.NoError(t, db.InsertMessage(ctx, &models.NewMessage{RoomID: "r2", Text: "elsewhere", UserID: "u1"}))

	msgs, err := db.ListMessages(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "ada", msgs[0].Nickname)
	assert.Equal(t, "", msgs[1].Nickname)
	assert.False(t, msgs[1].CreatedAt.Before(msgs[0].CreatedAt))

	inserts, _ := db.Counts()
	assert.Equal(t, 3, inserts)
}

func TestMemoryProfileUpsertReplaces(t *testing.T) {
	db := NewMemoryDB()
	ctx := context.Background()

	_, err := db.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u1", Nickname: "ada"}))
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: "u1", Nickname: "grace"}))

	p, err := db.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "grace", p.Nickname)
}
