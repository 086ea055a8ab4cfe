// Package camera defines the frame source the monitor samples.
package camera

import (
	"bytes"
	"context"
	"image"
	// register decoders for the formats Home Assistant cameras commonly serve.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// SubtypeName is a constant that identifies the camera component.
const SubtypeName = "camera"

// DefaultSnapshotFilename is where camera.snapshot writes the frame that warnings attach. Home
// Assistant serves it as /media/local/snapshot.jpg.
const DefaultSnapshotFilename = "/media/snapshot.jpg"

// ErrMIMETypeBytesMismatch indicates that the declared content type does not match the image bytes.
var ErrMIMETypeBytesMismatch = errors.New("content type does not match the image bytes")

// A Camera produces one decoded frame per call.
type Camera interface {
	Name() string
	// CaptureFrame returns the current frame. Any failure to retrieve or decode it is an error.
	CaptureFrame(ctx context.Context) (image.Image, error)
}

// DecodeImage decodes image bytes. When mimeType names an image format it must agree with the
// format found in the bytes; other content types are not checked.
func DecodeImage(buf []byte, mimeType string) (image.Image, error) {
	if len(buf) == 0 {
		return nil, errors.New("no image bytes")
	}
	img, format, err := image.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, errors.Wrap(err, "decoding frame")
	}
	if img.Bounds().Empty() {
		return nil, errors.Errorf("decoded %s frame has no pixels", format)
	}
	if mimeType = normalizeMIME(mimeType); strings.HasPrefix(mimeType, "image/") && mimeType != "image/"+format {
		return nil, errors.Wrapf(ErrMIMETypeBytesMismatch, "declared %s, found %s", mimeType, format)
	}
	return img, nil
}

func normalizeMIME(mimeType string) string {
	mimeType, _, _ = strings.Cut(mimeType, ";")
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	switch mimeType {
	case "image/jpg", "image/pjpeg":
		return "image/jpeg"
	case "image/x-ms-bmp", "image/x-bmp":
		return "image/bmp"
	}
	return mimeType
}

// Config describes a Home Assistant camera entity.
type Config struct {
	EntityID string
	// SnapshotFilename, when set, asks Home Assistant to write a fresh snapshot to this path with
	// the camera.snapshot service before each capture.
	SnapshotFilename string
}

type hassCamera struct {
	api    homeassistant.API
	conf   Config
	logger logging.Logger
}

// NewHomeAssistant returns a camera that reads frames through the camera proxy of an entity.
func NewHomeAssistant(api homeassistant.API, conf Config, logger logging.Logger) (Camera, error) {
	if conf.EntityID == "" {
		return nil, errors.New("camera entity id is required")
	}
	return &hassCamera{api: api, conf: conf, logger: logger}, nil
}

func (c *hassCamera) Name() string {
	return c.conf.EntityID
}

func (c *hassCamera) CaptureFrame(ctx context.Context) (image.Image, error) {
	if c.conf.SnapshotFilename != "" {
		if err := c.api.CallService(ctx, SubtypeName, "snapshot", map[string]interface{}{
			"entity_id": c.conf.EntityID,
			"filename":  c.conf.SnapshotFilename,
		}); err != nil {
			return nil, errors.Wrapf(err, "snapshot of %s", c.conf.EntityID)
		}
	}
	buf, mimeType, err := c.api.CameraSnapshot(ctx, c.conf.EntityID)
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(buf, mimeType)
	if err != nil {
		return nil, errors.Wrapf(err, "frame from %s", c.conf.EntityID)
	}
	c.logger.CDebugw(ctx, "captured frame", "camera", c.conf.EntityID, "bounds", img.Bounds().String())
	return img, nil
}
