package screens

import (
	"context"
	"errors"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

type Facing string

const (
	FacingBack  Facing = "back"
	FacingFront Facing = "front"
)

// PhotoQuality is the compression quality photos are captured at.
const PhotoQuality = 0.6

var ErrNoCameraPermission = errors.New("camera permission not granted")

// CameraDevice is the platform camera.
type CameraDevice interface {
	PermissionStatus(ctx context.Context) (models.Permission, error)
	RequestPermission(ctx context.Context) (models.Permission, error)
	// TakePicture returns the URI of the captured image.
	TakePicture(ctx context.Context, facing Facing, quality float64) (string, error)
}

type CameraState struct {
	// Permission is empty until the first status check completes.
	Permission models.Permission
	Facing     Facing
	PhotoURI   string
}

type Camera struct {
	lifecycle

	device CameraDevice

	mu    sync.Mutex
	state CameraState
}

func NewCamera(device CameraDevice) *Camera {
	return &Camera{device: device, state: CameraState{Facing: FacingBack}}
}

// Activate checks the permission and asks for it once when undetermined.
func (c *Camera) Activate(parent context.Context) error {
	ctx := c.begin(parent)

	status, err := c.device.PermissionStatus(ctx)
	if err != nil {
		return err
	}
	c.setPermission(ctx, status)

	if status == models.PermissionUndetermined {
		return c.RequestPermission(ctx)
	}
	return nil
}

func (c *Camera) Deactivate() { c.end() }

func (c *Camera) RequestPermission(ctx context.Context) error {
	status, err := c.device.RequestPermission(ctx)
	if err != nil {
		return err
	}
	c.setPermission(c.active(), status)
	return nil
}

func (c *Camera) setPermission(ctx context.Context, status models.Permission) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state.Permission = status
	c.mu.Unlock()
	c.notify()
}

func (c *Camera) ToggleFacing() {
	c.mu.Lock()
	if c.state.Facing == FacingBack {
		c.state.Facing = FacingFront
	} else {
		c.state.Facing = FacingBack
	}
	c.mu.Unlock()
	c.notify()
}

// TakePhoto captures a picture and shows it as the preview.
func (c *Camera) TakePhoto(ctx context.Context) error {
	c.mu.Lock()
	granted := c.state.Permission == models.PermissionGranted
	facing := c.state.Facing
	c.mu.Unlock()
	if !granted {
		return ErrNoCameraPermission
	}

	uri, err := c.device.TakePicture(ctx, facing, PhotoQuality)
	if err != nil {
		return err
	}

	active := c.active()
	c.mu.Lock()
	if active.Err() != nil {
		c.mu.Unlock()
		return ErrInactive
	}
	c.state.PhotoURI = uri
	c.mu.Unlock()
	c.notify()
	return nil
}

// Retake drops the preview and returns to the live view.
func (c *Camera) Retake() {
	c.mu.Lock()
	c.state.PhotoURI = ""
	c.mu.Unlock()
	c.notify()
}

func (c *Camera) State() CameraState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
