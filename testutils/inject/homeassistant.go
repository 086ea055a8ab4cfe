package inject

import (
	"context"

	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
)

// HomeAssistant is an injected Home Assistant REST API.
type HomeAssistant struct {
	homeassistant.API
	StateFunc          func(ctx context.Context, entityID string) (*homeassistant.EntityState, error)
	CallServiceFunc    func(ctx context.Context, domain, service string, data map[string]interface{}) error
	CameraSnapshotFunc func(ctx context.Context, entityID string) ([]byte, string, error)
}

// State calls the injected State or the real version.
func (h *HomeAssistant) State(ctx context.Context, entityID string) (*homeassistant.EntityState, error) {
	if h.StateFunc == nil {
		return h.API.State(ctx, entityID)
	}
	return h.StateFunc(ctx, entityID)
}

// CallService calls the injected CallService or the real version.
func (h *HomeAssistant) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	if h.CallServiceFunc == nil {
		return h.API.CallService(ctx, domain, service, data)
	}
	return h.CallServiceFunc(ctx, domain, service, data)
}

// CameraSnapshot calls the injected CameraSnapshot or the real version.
func (h *HomeAssistant) CameraSnapshot(ctx context.Context, entityID string) ([]byte, string, error) {
	if h.CameraSnapshotFunc == nil {
		return h.API.CameraSnapshot(ctx, entityID)
	}
	return h.CameraSnapshotFunc(ctx, entityID)
}
