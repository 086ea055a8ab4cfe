package inject

import (
	"context"

	"github.com/oliverbravery/3D-Print-Sentinel/components/sensor"
)

// Sensor is an injected sensor.
type Sensor struct {
	sensor.Sensor
	name        string
	ReadingFunc func(ctx context.Context) (float64, error)
}

// NewSensor returns a new injected sensor.
func NewSensor(name string) *Sensor {
	return &Sensor{name: name}
}

// Name returns the name of the sensor.
func (s *Sensor) Name() string {
	return s.name
}

// Reading calls the injected Reading or the real version.
func (s *Sensor) Reading(ctx context.Context) (float64, error) {
	if s.ReadingFunc == nil {
		return s.Sensor.Reading(ctx)
	}
	return s.ReadingFunc(ctx)
}
