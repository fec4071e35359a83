package screens

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SJKodehode/tutorial-chat-app/internal/models"
)

type fakeCamera struct {
	status   models.Permission
	grant    bool
	requests int
	shots    []string
	quality  float64
}

func (f *fakeCamera) PermissionStatus(ctx context.Context) (models.Permission, error) {
	return f.status, nil
}

func (f *fakeCamera) RequestPermission(ctx context.Context) (models.Permission, error) {
	f.requests++
	if f.grant {
		f.status = models.PermissionGranted
	} else {
		f.status = models.PermissionDenied
	}
	return f.status, nil
}

func (f *fakeCamera) TakePicture(ctx context.Context, facing Facing, quality float64) (string, error) {
	f.quality = quality
	uri := fmt.Sprintf("file:///tmp/%s-%d.jpg", facing, len(f.shots))
	f.shots = append(f.shots, uri)
	return uri, nil
}

func TestCameraAutoRequestsWhenUndetermined(t *testing.T) {
	dev := &fakeCamera{status: models.PermissionUndetermined, grant: true}
	cam := NewCamera(dev)
	require.NoError(t, cam.Activate(context.Background()))
	assert.Equal(t, 1, dev.requests)
	assert.Equal(t, models.PermissionGranted, cam.State().Permission)
}

func TestCameraDoesNotRequestAfterDenial(t *testing.T) {
	dev := &fakeCamera{status: models.PermissionDenied}
	cam := NewCamera(dev)
	require.NoError(t, cam.Activate(context.Background()))
	assert.Equal(t, 0, dev.requests)
	assert.ErrorIs(t, cam.TakePhoto(context.Background()), ErrNoCameraPermission)
}

func TestCameraCaptureAndRetake(t *testing.T) {
	dev := &fakeCamera{status: models.PermissionGranted}
	cam := NewCamera(dev)
	ctx := context.Background()
	require.NoError(t, cam.Activate(ctx))
	assert.Equal(t, FacingBack, cam.State().Facing)

	cam.ToggleFacing()
	assert.Equal(t, FacingFront, cam.State().Facing)

	require.NoError(t, cam.TakePhoto(ctx))
	assert.Equal(t, "file:///tmp/front-0.jpg", cam.State().PhotoURI)
	assert.Equal(t, PhotoQuality, dev.quality)

	cam.Retake()
	assert.Empty(t, cam.State().PhotoURI)

	cam.ToggleFacing()
	assert.Equal(t, FacingBack, cam.State().Facing)
}
