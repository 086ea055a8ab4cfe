// Package printer reports whether the monitored printer is in a given state.
package printer

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// SubtypeName is a constant that identifies the printer component.
const SubtypeName = "printer"

// A Status answers state queries about the printer, e.g. whether it is printing.
type Status interface {
	Name() string
	IsInState(ctx context.Context, state string) (bool, error)
}

type hassStatus struct {
	api      homeassistant.API
	entityID string
	logger   logging.Logger
}

// NewHomeAssistant returns a Status backed by an entity such as binary_sensor.octoprint_printing.
func NewHomeAssistant(api homeassistant.API, entityID string, logger logging.Logger) (Status, error) {
	if entityID == "" {
		return nil, errors.New("printer entity id is required")
	}
	return &hassStatus{api: api, entityID: entityID, logger: logger}, nil
}

func (s *hassStatus) Name() string {
	return s.entityID
}

// IsInState compares the entity state, ignoring case, against state.
func (s *hassStatus) IsInState(ctx context.Context, state string) (bool, error) {
	es, err := s.api.State(ctx, s.entityID)
	if err != nil {
		return false, errors.Wrapf(err, "state of %s", s.entityID)
	}
	s.logger.CDebugw(ctx, "printer state", "entity", s.entityID, "state", es.State)
	return strings.EqualFold(es.State, state), nil
}
