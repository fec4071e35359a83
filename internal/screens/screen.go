package screens

import (
	"context"
	"errors"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/auth"
	"github.com/SJKodehode/tutorial-chat-app/internal/database"
	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

var (
	ErrEmptyText     = errors.New("message text is empty")
	ErrEmptyName     = errors.New("room name is empty")
	ErrEmptyNickname = errors.New("nickname is empty")
	ErrInactive      = errors.New("screen is not active")
)

// Screen is a controller with an active lifetime.
type Screen interface {
	Activate(ctx context.Context) error
	Deactivate()
	Subscribe(fn func()) func()
}

// Alerter shows a user-facing alert.
type Alerter interface {
	Alert(title, message string)
}

type AlertFunc func(title, message string)

func (f AlertFunc) Alert(title, message string) { f(title, message) }

// SessionSource resolves the signed-in user.
type SessionSource interface {
	CurrentUser(ctx context.Context) (*models.User, error)
}

// lifecycle scopes a controller's work to its active period. Every state
// write after a backend call checks the context returned by begin.
type lifecycle struct {
	lmu       sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	observers map[int]func()
	nextID    int
}

func (l *lifecycle) begin(parent context.Context) context.Context {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	l.ctx, l.cancel = context.WithCancel(parent)
	return l.ctx
}

func (l *lifecycle) end() {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
}

// active returns the current activation's context, or a cancelled one.
func (l *lifecycle) active() context.Context {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	if l.ctx == nil || l.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return l.ctx
}

func (l *lifecycle) Subscribe(fn func()) func() {
	l.lmu.Lock()
	if l.observers == nil {
		l.observers = make(map[int]func())
	}
	id := l.nextID
	l.nextID++
	l.observers[id] = fn
	l.lmu.Unlock()

	return func() {
		l.lmu.Lock()
		delete(l.observers, id)
		l.lmu.Unlock()
	}
}

func (l *lifecycle) notify() {
	l.lmu.Lock()
	fns := make([]func(), 0, len(l.observers))
	for _, fn := range l.observers {
		fns = append(fns, fn)
	}
	l.lmu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func alert(a Alerter, title, message string) {
	if a != nil {
		a.Alert(title, message)
	}
}

// errorMessage returns the backend's own message when there is one.
func errorMessage(err error) string {
	var dbErr *database.APIError
	if errors.As(err, &dbErr) {
		return dbErr.Message
	}
	var authErr *auth.APIError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return err.Error()
}
