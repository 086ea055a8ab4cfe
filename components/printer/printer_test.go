package printer_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/oliverbravery/3D-Print-Sentinel/components/printer"
	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/testutils/inject"
)

func TestIsInState(t *testing.T) {
	logger := logging.NewTestLogger(t)
	ctx := context.Background()

	state := "on"
	api := &inject.HomeAssistant{
		StateFunc: func(ctx context.Context, entityID string) (*homeassistant.EntityState, error) {
			test.That(t, entityID, test.ShouldEqual, "binary_sensor.octoprint_printing")
			return &homeassistant.EntityState{EntityID: entityID, State: state}, nil
		},
	}

	_, err := printer.NewHomeAssistant(api, "", logger)
	test.That(t, err, test.ShouldNotBeNil)

	status, err := printer.NewHomeAssistant(api, "binary_sensor.octoprint_printing", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, status.Name(), test.ShouldEqual, "binary_sensor.octoprint_printing")

	ok, err := status.IsInState(ctx, "on")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	ok, err = status.IsInState(ctx, "ON")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	state = "off"
	ok, err = status.IsInState(ctx, "on")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	api.StateFunc = func(context.Context, string) (*homeassistant.EntityState, error) {
		return nil, errors.New("connection refused")
	}
	ok, err = status.IsInState(ctx, "on")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "binary_sensor.octoprint_printing")
	test.That(t, ok, test.ShouldBeFalse)
}
