// Package sensor defines a numeric reading such as a nozzle or bed temperature.
package sensor

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/cast"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
)

// SubtypeName is a constant that identifies the sensor component.
const SubtypeName = "sensor"

// ErrUnavailable is returned when the entity exists but currently has no value.
var ErrUnavailable = errors.New("sensor reading unavailable")

// A Sensor returns one numeric reading.
type Sensor interface {
	Name() string
	Reading(ctx context.Context) (float64, error)
}

type hassSensor struct {
	api      homeassistant.API
	entityID string
}

// NewHomeAssistant returns a sensor reading the state of a numeric entity.
func NewHomeAssistant(api homeassistant.API, entityID string) (Sensor, error) {
	if entityID == "" {
		return nil, errors.New("sensor entity id is required")
	}
	return &hassSensor{api: api, entityID: entityID}, nil
}

func (s *hassSensor) Name() string {
	return s.entityID
}

func (s *hassSensor) Reading(ctx context.Context) (float64, error) {
	state, err := s.api.State(ctx, s.entityID)
	if err != nil {
		return 0, err
	}
	return ParseState(state.State)
}

// ParseState converts an entity state string into a number. Home Assistant reports
// "unavailable" and "unknown" for sensors it cannot currently read.
func ParseState(state string) (float64, error) {
	switch state {
	case "", "unavailable", "unknown":
		return 0, errors.Wrapf(ErrUnavailable, "state %q", state)
	}
	v, err := cast.ToFloat64E(state)
	if err != nil {
		return 0, errors.Wrap(err, "non-numeric sensor state")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("sensor state %q is not finite", state)
	}
	return v, nil
}
