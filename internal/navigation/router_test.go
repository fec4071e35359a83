package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResetLeavesSingleEntry(t *testing.T) {
	r := NewRouter()
	r.Navigate(Route{Name: MainTabs})
	r.Navigate(Route{Name: Chat, Params: map[string]string{"roomId": "r1"}})

	r.Reset(Route{Name: Login})
	assert.Equal(t, []string{Login}, r.Names())
}

func TestReplaceSwapsTop(t *testing.T) {
	r := NewRouter()
	r.Replace(Route{Name: Profile})
	assert.Equal(t, []string{Profile}, r.Names())

	r.Replace(Route{Name: MainTabs})
	assert.Equal(t, []string{MainTabs}, r.Names())
	assert.False(t, r.Back())
}

func TestNavigateAndBack(t *testing.T) {
	r := NewRouter()
	r.Reset(Route{Name: MainTabs})
	r.Navigate(Route{Name: Chat, Params: map[string]string{"roomId": "r1"}})

	cur, ok := r.Current()
	require.True(t, ok)
	assert.Equal(t, "r1", cur.Param("roomId"))
	assert.Equal(t, "Chat(roomId=r1)", cur.String())

	assert.True(t, r.Back())
	cur, _ = r.Current()
	assert.Equal(t, MainTabs, cur.Name)
	assert.Equal(t, "", cur.Param("roomId"))
}

func TestTabs(t *testing.T) {
	r := NewRouter()
	r.Reset(Route{Name: MainTabs})
	require.NoError(t, r.SelectTab(TabSettings))
	assert.Equal(t, TabSettings, r.Tab())
	assert.Error(t, r.SelectTab("Camera"))

	r.Reset(Route{Name: MainTabs})
	assert.Equal(t, TabHome, r.Tab())
}

func TestSubscribersNotified(t *testing.T) {
	r := NewRouter()
	n := 0
	unsubscribe := r.Subscribe(func() {
		n++
		r.Stack()
	})
	r.Reset(Route{Name: Login})
	r.Navigate(Route{Name: Profile})
	assert.Equal(t, 2, n)

	unsubscribe()
	r.Back()
	assert.Equal(t, 2, n)
}
