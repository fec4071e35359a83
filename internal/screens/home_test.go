package screens

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/navigation"
)

func TestHomeCreateAppendsAfterExistingRooms(t *testing.T) {
	db := database.NewMemoryDB()
	db.SetClock(clock())
	ctx := context.Background()
	for _, name := range []string{"general", "random"} {
		_, err := db.CreateRoom(ctx, &models.CreateRoomRequest{Name: name})
		require.NoError(t, err)
	}

	home := NewHome(db, navigation.NewRouter(), nil)
	require.NoError(t, home.Activate(ctx))
	defer home.Deactivate()
	require.Len(t, home.Rooms(), 2)

	room, err := home.CreateRoom(ctx, "  Test Room ")
	require.NoError(t, err)
	assert.Equal(t, "Test Room", room.Name)

	rooms := home.Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, "Test Room", rooms[2].Name)

	require.NoError(t, home.Activate(ctx))
	rooms = home.Rooms()
	require.Len(t, rooms, 3)
	assert.Equal(t, []string{"general", "random", "Test Room"}, []string{rooms[0].Name, rooms[1].Name, rooms[2].Name})
}

func TestHomeRejectsBlankName(t *testing.T) {
	db := database.NewMemoryDB()
	home := NewHome(db, navigation.NewRouter(), nil)
	require.NoError(t, home.Activate(context.Background()))

	_, err := home.CreateRoom(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
	assert.False(t, home.CanCreate(" "))
	assert.True(t, home.CanCreate("x"))

	rooms, _ := db.ListRooms(context.Background())
	assert.Empty(t, rooms)
}

func TestHomeCreateFailureAlerts(t *testing.T) {
	db := database.NewMemoryDB()
	db.FailCreateRoom = errors.New("network down")
	alerts := &alertLog{}
	home := NewHome(db, navigation.NewRouter(), alerts)
	require.NoError(t, home.Activate(context.Background()))

	_, err := home.CreateRoom(context.Background(), "Test Room")
	require.Error(t, err)
	assert.Empty(t, home.Rooms())
	title, body := alerts.last()
	assert.Equal(t, "Error", title)
	assert.Equal(t, "network down", body)
}

func TestHomeCreateAfterDeactivateKeepsListUntouched(t *testing.T) {
	db := database.NewMemoryDB()
	home := NewHome(db, navigation.NewRouter(), nil)
	require.NoError(t, home.Activate(context.Background()))
	home.Deactivate()

	_, err := home.CreateRoom(context.Background(), "Test Room")
	require.NoError(t, err)
	assert.Empty(t, home.Rooms())
}

func TestHomeOpenRoomPushesChat(t *testing.T) {
	router := navigation.NewRouter()
	router.Reset(navigation.Route{Name: navigation.MainTabs})
	home := NewHome(database.NewMemoryDB(), router, nil)

	home.OpenRoom("r1")
	cur, ok := router.Current()
	require.True(t, ok)
	assert.Equal(t, navigation.Chat, cur.Name)
	assert.Equal(t, "r1", cur.Param("roomId"))
	assert.Equal(t, []string{navigation.MainTabs, navigation.Chat}, router.Names())
}
