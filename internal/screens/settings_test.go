package screens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/push"
	"github.com/SJKodehode/tutorial-chat-app/internal/storage"
)

type fakePush struct {
	status models.Permission
	grant  bool
	token  string
}

func (f *fakePush) PermissionStatus(ctx context.Context) (models.Permission, error) {
	if f.status == "" {
		return models.PermissionUndetermined, nil
	}
	return f.status, nil
}

func (f *fakePush) RequestPermission(ctx context.Context) (models.Permission, error) {
	if f.grant {
		f.status = models.PermissionGranted
	} else {
		f.status = models.PermissionDenied
	}
	return f.status, nil
}

func (f *fakePush) Token(ctx context.Context) (string, error) {
	if f.status != models.PermissionGranted {
		return "", push.ErrPermissionDenied
	}
	return f.token, nil
}

func newSettings(p push.Service, alerts Alerter) (*Settings, storage.Store, storage.Store) {
	plain := storage.NewMemoryStore()
	secure := storage.NewMemoryStore()
	return NewSettings(plain, secure, p, alerts), plain, secure
}

func TestSettingsDarkModeSurvivesReactivation(t *testing.T) {
	ctx := context.Background()
	s, plain, _ := newSettings(&fakePush{}, nil)
	require.NoError(t, s.Activate(ctx))
	assert.False(t, s.State().DarkMode)

	require.NoError(t, s.SetDarkMode(ctx, true))
	s.Deactivate()

	v, err := plain.Get(ThemeKey)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, v)

	require.NoError(t, s.Activate(ctx))
	assert.True(t, s.State().DarkMode)

	require.NoError(t, s.SetDarkMode(ctx, false))
	require.NoError(t, s.Activate(ctx))
	assert.False(t, s.State().DarkMode)
}

func TestSettingsClearHistory(t *testing.T) {
	alerts := &alertLog{}
	s, plain, _ := newSettings(&fakePush{}, alerts)
	require.NoError(t, plain.Set(HistoryKey, `[{"text":"old"}]`))

	require.NoError(t, s.ClearHistory(context.Background()))
	_, err := plain.Get(HistoryKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	title, _ := alerts.last()
	assert.Equal(t, "Cleared", title)
}

func TestSettingsRegisterForPush(t *testing.T) {
	ctx := context.Background()
	alerts := &alertLog{}
	p := &fakePush{grant: true, token: "ExponentPushToken[abc]"}
	s, _, secure := newSettings(p, alerts)
	require.NoError(t, s.Activate(ctx))
	assert.False(t, s.State().PushEnabled)

	require.NoError(t, s.RegisterForPush(ctx))
	state := s.State()
	assert.True(t, state.PushEnabled)
	assert.Equal(t, "ExponentPushToken[abc]", state.PushToken)

	stored, err := secure.Get(PushTokenKey)
	require.NoError(t, err)
	assert.Equal(t, "ExponentPushToken[abc]", stored)
	title, body := alerts.last()
	assert.Equal(t, "All set!", title)
	assert.Equal(t, "Token saved.", body)

	require.NoError(t, s.Activate(ctx))
	assert.Equal(t, "ExponentPushToken[abc]", s.State().PushToken)
	assert.True(t, s.State().PushEnabled)
}

func TestSettingsPushDenied(t *testing.T) {
	alerts := &alertLog{}
	s, _, secure := newSettings(&fakePush{grant: false}, alerts)

	err := s.RegisterForPush(context.Background())
	assert.ErrorIs(t, err, push.ErrPermissionDenied)
	title, _ := alerts.last()
	assert.Equal(t, "Permission denied", title)
	_, err = secure.Get(PushTokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, s.State().PushEnabled)
}
