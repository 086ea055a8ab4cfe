// Package button defines a momentary actuator such as the printer's stop job button.
package button

import (
	"context"

	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// SubtypeName is a constant that identifies the button component.
const SubtypeName = "button"

// A Button represents a physical or virtual button that can be pressed.
type Button interface {
	Name() string
	// Press pushes the button.
	Press(ctx context.Context) error
}

type hassButton struct {
	api      homeassistant.API
	entityID string
	logger   logging.Logger
}

// NewHomeAssistant returns a button that calls the button.press service on an entity.
func NewHomeAssistant(api homeassistant.API, entityID string, logger logging.Logger) (Button, error) {
	if entityID == "" {
		return nil, errors.New("button entity id is required")
	}
	return &hassButton{api: api, entityID: entityID, logger: logger}, nil
}

func (b *hassButton) Name() string {
	return b.entityID
}

func (b *hassButton) Press(ctx context.Context) error {
	if err := b.api.CallService(ctx, SubtypeName, "press", map[string]interface{}{"entity_id": b.entityID}); err != nil {
		return errors.Wrapf(err, "pressing %s", b.entityID)
	}
	b.logger.Infow("pressed button", "entity", b.entityID)
	return nil
}
