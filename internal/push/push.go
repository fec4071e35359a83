package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
	"github.com/SJKodehode/tutorial-chat-app/internal/storage"
	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

var ErrPermissionDenied = errors.New("push: permission denied")

// Service is the device's push notification provider.
type Service interface {
	PermissionStatus(ctx context.Context) (models.Permission, error)
	RequestPermission(ctx context.Context) (models.Permission, error)
	Token(ctx context.Context) (string, error)
}

// Prompter asks the user to allow notifications.
type Prompter interface {
	Confirm(ctx context.Context, question string) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, question string) (bool, error)

func (f PrompterFunc) Confirm(ctx context.Context, question string) (bool, error) {
	return f(ctx, question)
}

const (
	permissionKey = "push.permission"
	deviceIDKey   = "push.device_id"
)

// Desktop keeps the permission decision and a stable device id in the plain
// device store. Tokens have the ExponentPushToken[...] shape the push
// gateway expects.
type Desktop struct {
	store  storage.Store
	prompt Prompter
}

func NewDesktop(store storage.Store, prompt Prompter) *Desktop {
	return &Desktop{store: store, prompt: prompt}
}

func (d *Desktop) PermissionStatus(ctx context.Context) (models.Permission, error) {
	v, err := d.store.Get(permissionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return models.PermissionUndetermined, nil
	}
	if err != nil {
		return models.PermissionUndetermined, fmt.Errorf("read push permission: %w", err)
	}
	return models.Permission(v), nil
}

// RequestPermission prompts only while the decision is undetermined; a
// previous answer is returned as is.
func (d *Desktop) RequestPermission(ctx context.Context) (models.Permission, error) {
	status, err := d.PermissionStatus(ctx)
	if err != nil || status != models.PermissionUndetermined {
		return status, err
	}
	if d.prompt == nil {
		return models.PermissionDenied, nil
	}

	ok, err := d.prompt.Confirm(ctx, "Allow notifications from this app?")
	if err != nil {
		return models.PermissionUndetermined, err
	}
	status = models.PermissionDenied
	if ok {
		status = models.PermissionGranted
	}
	if err := d.store.Set(permissionKey, string(status)); err != nil {
		return status, fmt.Errorf("save push permission: %w", err)
	}
	logger.Info("Push permission %s", status)
	return status, nil
}

func (d *Desktop) Token(ctx context.Context) (string, error) {
	status, err := d.PermissionStatus(ctx)
	if err != nil {
		return "", err
	}
	if status != models.PermissionGranted {
		return "", ErrPermissionDenied
	}

	id, err := d.store.Get(deviceIDKey)
	if errors.Is(err, storage.ErrNotFound) {
		id = uuid.NewString()
		if err := d.store.Set(deviceIDKey, id); err != nil {
			return "", fmt.Errorf("save device id: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	return "ExponentPushToken[" + id + "]", nil
}
