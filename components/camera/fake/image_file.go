// Package fake contains cameras that do not need Home Assistant.
package fake

import (
	"context"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/components/camera"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// fileCamera returns the image stored at a path on every capture.
type fileCamera struct {
	path   string
	logger logging.Logger
}

// NewFileCamera returns a camera that reads its frames from an image file. The file is read
// again on every capture so it may be replaced while the camera is in use.
func NewFileCamera(path string, logger logging.Logger) (camera.Camera, error) {
	if path == "" {
		return nil, errors.New("no image file to read")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return &fileCamera{path: path, logger: logger}, nil
}

func (fc *fileCamera) Name() string {
	return fc.path
}

// CaptureFrame decodes the file, applying its EXIF orientation.
func (fc *fileCamera) CaptureFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := imaging.Open(fc.path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", fc.path)
	}
	fc.logger.CDebugw(ctx, "read frame from file", "path", fc.path, "bounds", img.Bounds().String())
	return img, nil
}
