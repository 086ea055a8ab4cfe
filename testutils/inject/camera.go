package inject

import (
	"context"
	"image"

	"github.com/oliverbravery/3D-Print-Sentinel/components/camera"
)

// Camera is an injected camera.
type Camera struct {
	camera.Camera
	name             string
	CaptureFrameFunc func(ctx context.Context) (image.Image, error)
}

// NewCamera returns a new injected camera.
func NewCamera(name string) *Camera {
	return &Camera{name: name}
}

// Name returns the name of the camera.
func (c *Camera) Name() string {
	return c.name
}

// CaptureFrame calls the injected CaptureFrame or the real version.
func (c *Camera) CaptureFrame(ctx context.Context) (image.Image, error) {
	if c.CaptureFrameFunc == nil {
		return c.Camera.CaptureFrame(ctx)
	}
	return c.CaptureFrameFunc(ctx)
}
