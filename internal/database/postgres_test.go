package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

// Runs against a disposable Postgres when TEST_DATABASE_URL is set.
func openTestPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := NewPostgresDB(ctx, url)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresMessageFlow(t *testing.T) {
	db := openTestPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	userID := uuid.NewString()
	require.NoError(t, db.UpsertProfile(ctx, &models.Profile{ID: userID, Nickname: "ada"}))

	room, err := db.CreateRoom(ctx, &models.CreateRoomRequest{Name: "Test Room"})
	require.NoError(t, err)

	sub, err := db.Subscribe(ctx, MessageFilter(room.ID))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, db.InsertMessage(ctx, &models.NewMessage{RoomID: room.ID, Text: "hello", UserID: userID}))

	select {
	case ev := <-sub.Events():
		msg, err := ev.Message()
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, room.ID, msg.RoomID)
	case <-ctx.Done():
		t.Fatal("no notification received")
	}

	msgs, err := db.ListMessages(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "ada", msgs[0].Nickname)

	p, err := db.GetProfile(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "ada", p.Nickname)

	_, err = db.GetProfile(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)
}
