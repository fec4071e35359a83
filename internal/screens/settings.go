package screens

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/push"
	"github.com/SJKodehode/tutorial-chat-app/internal/storage"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// Device store keys.
const (
	ThemeKey     = "theme"
	HistoryKey   = "msgs"
	PushTokenKey = "pushToken"

	ThemeDark  = "dark"
	ThemeLight = "light"
)

type SettingsState struct {
	DarkMode    bool
	PushEnabled bool
	PushToken   string
}

// Settings is device-local configuration; nothing here touches the backend.
type Settings struct {
	lifecycle

	plain   storage.Store
	secure  storage.Store
	push    push.Service
	alerter Alerter

	mu    sync.Mutex
	state SettingsState
}

func NewSettings(plain, secure storage.Store, pushService push.Service, alerter Alerter) *Settings {
	return &Settings{plain: plain, secure: secure, push: pushService, alerter: alerter}
}

func (s *Settings) Activate(parent context.Context) error {
	ctx := s.begin(parent)

	var next SettingsState
	theme, err := s.plain.Get(ThemeKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("read theme: %w", err)
	}
	next.DarkMode = theme == ThemeDark

	status, err := s.push.PermissionStatus(ctx)
	if err != nil {
		logger.Warn("Reading notification permission failed: %v", err)
	}
	next.PushEnabled = status == models.PermissionGranted

	token, err := s.secure.Get(PushTokenKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Reading stored push token failed: %v", err)
	}
	next.PushToken = token

	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return ctx.Err()
	}
	s.state = next
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Settings) Deactivate() { s.end() }

func (s *Settings) State() SettingsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Settings) SetDarkMode(ctx context.Context, dark bool) error {
	s.mu.Lock()
	s.state.DarkMode = dark
	s.mu.Unlock()
	s.notify()

	theme := ThemeLight
	if dark {
		theme = ThemeDark
	}
	if err := s.plain.Set(ThemeKey, theme); err != nil {
		return fmt.Errorf("save theme: %w", err)
	}
	return nil
}

func (s *Settings) ClearHistory(ctx context.Context) error {
	if err := s.plain.Delete(HistoryKey); err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	alert(s.alerter, "Cleared", "Chat history has been cleared.")
	return nil
}

// RegisterForPush asks for notification permission and stores the device
// token in the secure store.
func (s *Settings) RegisterForPush(ctx context.Context) error {
	status, err := s.push.RequestPermission(ctx)
	if err != nil {
		return fmt.Errorf("request notification permission: %w", err)
	}
	if status != models.PermissionGranted {
		alert(s.alerter, "Permission denied", "Cannot get push token without permission.")
		return push.ErrPermissionDenied
	}

	s.mu.Lock()
	s.state.PushEnabled = true
	s.mu.Unlock()
	s.notify()

	token, err := s.push.Token(ctx)
	if err != nil {
		return fmt.Errorf("get push token: %w", err)
	}
	if err := s.secure.Set(PushTokenKey, token); err != nil {
		return fmt.Errorf("save push token: %w", err)
	}

	s.mu.Lock()
	s.state.PushToken = token
	s.mu.Unlock()
	s.notify()
	alert(s.alerter, "All set!", "Token saved.")
	return nil
}
