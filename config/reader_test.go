package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/services/escalation"
)

const minimalConfig = `{
	"home_assistant": {"base_url": "${HASS_URL}", "token": "${HASS_TOKEN}"}
}`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sentinel.json")
	test.That(t, os.WriteFile(path, []byte(contents), 0o600), test.ShouldBeNil)
	return path
}

func TestReadDefaults(t *testing.T) {
	t.Setenv("HASS_URL", "http://homeassistant.local:8123")
	t.Setenv("HASS_TOKEN", "long-lived-token")
	logger := logging.NewTestLogger(t)

	path := writeConfig(t, minimalConfig)
	cfg, err := Read(context.Background(), path, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.HomeAssistant.BaseURL, test.ShouldEqual, "http://homeassistant.local:8123")
	test.That(t, cfg.HomeAssistant.Token, test.ShouldEqual, "long-lived-token")
	test.That(t, cfg.HomeAssistant.NotifyService, test.ShouldEqual, "notify")

	test.That(t, cfg.Printer.EntityID, test.ShouldEqual, "binary_sensor.octoprint_printing")
	test.That(t, cfg.Printer.ActiveState, test.ShouldEqual, "on")
	test.That(t, cfg.Printer.StopButtonID, test.ShouldEqual, "button.octoprint_stop_job")
	test.That(t, cfg.Printer.PollInterval(), test.ShouldEqual, 5*time.Second)
	test.That(t, cfg.Camera.EntityID, test.ShouldEqual, "camera.octoprint_camera")
	test.That(t, cfg.Camera.SnapshotImage, test.ShouldEqual, escalation.DefaultSnapshotImage)
	test.That(t, cfg.Camera.SnapshotFilename, test.ShouldEqual, "/media/snapshot.jpg")
	test.That(t, cfg.Escalation.TerminationDelay(), test.ShouldEqual, 120*time.Second)
	test.That(t, cfg.Escalation.MinDetections, test.ShouldEqual, 2)
	test.That(t, cfg.Network.BindAddress, test.ShouldEqual, DefaultBindAddress)

	params := cfg.Detection.Params()
	test.That(t, params.Threshold, test.ShouldEqual, 0.25)
	test.That(t, params.HierThreshold, test.ShouldEqual, 0.5)
	test.That(t, params.NMSThreshold, test.ShouldEqual, 0.4)
	test.That(t, cfg.Detection.Postprocessors(), test.ShouldBeEmpty)

	candidates := cfg.Model.Candidates()
	test.That(t, candidates, test.ShouldHaveLength, 2)
	test.That(t, candidates[0].UseGPU, test.ShouldBeTrue)
	test.That(t, candidates[1].UseGPU, test.ShouldBeFalse)
	test.That(t, candidates[0].WeightsPath, test.ShouldEqual, candidates[1].WeightsPath)
}

func TestReadOverrides(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg, err := FromReader(context.Background(), "", strings.NewReader(`{
		"home_assistant": {"base_url": "https://ha.example.com", "token": "t", "notify_service": "mobile_app_phone"},
		"printer": {"poll_interval_secs": 10},
		"model": {"weights_path": "/models/custom.onnx", "attributes": {"input_width": 416}},
		"detection": {"threshold": 0.5, "min_area": 100, "labels": ["failure"]},
		"escalation": {"termination_delay_secs": 60, "min_detections": 1},
		"debug": true,
		"log": [{"pattern": "sentinel.monitor", "level": "warn"}]
	}`), logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Printer.PollInterval(), test.ShouldEqual, 10*time.Second)
	// unset fields of a partially given section keep their defaults
	test.That(t, cfg.Printer.EntityID, test.ShouldEqual, "binary_sensor.octoprint_printing")
	test.That(t, cfg.Detection.Threshold, test.ShouldEqual, 0.5)
	test.That(t, cfg.Detection.NMSThreshold, test.ShouldEqual, 0.4)
	test.That(t, cfg.Detection.Postprocessors(), test.ShouldHaveLength, 2)
	test.That(t, cfg.Escalation.TerminationDelay(), test.ShouldEqual, time.Minute)
	test.That(t, cfg.Model.Candidates()[0].WeightsPath, test.ShouldEqual, "/models/custom.onnx")
	test.That(t, cfg.Model.Candidates()[1].Attributes["input_width"], test.ShouldEqual, 416.0)
	test.That(t, cfg.Debug, test.ShouldBeTrue)
	test.That(t, cfg.LogConfig, test.ShouldHaveLength, 1)
}

func TestReadErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)

	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing.json"), logger)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	_, err = FromReader(context.Background(), "", strings.NewReader(`{"home_assistant": `), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot parse config")

	_, err = FromReader(context.Background(), "", strings.NewReader(`{"home_asistant": {}}`), logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "home_asistant")

	// unset secrets substitute to empty strings and fail validation
	path := writeConfig(t, `{"home_assistant": {"base_url": "http://ha:8123", "token": "${SENTINEL_UNSET_TOKEN}"}}`)
	_, err = Read(context.Background(), path, logger)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "home_assistant")
	test.That(t, err.Error(), test.ShouldContainSubstring, "token")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.HomeAssistant.BaseURL = "http://homeassistant.local:8123"
		cfg.HomeAssistant.Token = "token"
		return cfg
	}
	test.That(t, valid().Validate(), test.ShouldBeNil)

	for _, tc := range []struct {
		name     string
		mutate   func(*Config)
		expected string
	}{
		{"missing base url", func(c *Config) { c.HomeAssistant.BaseURL = "" }, "base_url"},
		{"bad base url", func(c *Config) { c.HomeAssistant.BaseURL = "homeassistant.local" }, "base_url"},
		{"missing notify service", func(c *Config) { c.HomeAssistant.NotifyService = "" }, "notify_service"},
		{"missing printer", func(c *Config) { c.Printer.EntityID = "" }, "printer"},
		{"missing stop button", func(c *Config) { c.Printer.StopButtonID = "" }, "stop_button_entity_id"},
		{"zero poll interval", func(c *Config) { c.Printer.PollIntervalSec = 0 }, "poll_interval_secs"},
		{"missing camera", func(c *Config) { c.Camera.EntityID = "" }, "camera"},
		{"missing backend", func(c *Config) { c.Model.Backend = "" }, "backend"},
		{"threshold above one", func(c *Config) { c.Detection.Threshold = 1.5 }, "threshold"},
		{"negative nms", func(c *Config) { c.Detection.NMSThreshold = -0.1 }, "nms_threshold"},
		{"negative area", func(c *Config) { c.Detection.MinArea = -1 }, "min_area"},
		{"zero delay", func(c *Config) { c.Escalation.TerminationDelaySec = 0 }, "termination_delay_secs"},
		{"zero min detections", func(c *Config) { c.Escalation.MinDetections = 0 }, "min_detections"},
		{"warm up without sensors", func(c *Config) { c.WarmUp.Enabled = true }, "nozzle_entity_id"},
		{"bad bind address", func(c *Config) { c.Network.BindAddress = "localhost" }, "bind_address"},
		{"bad log pattern", func(c *Config) {
			c.LogConfig = []logging.LoggerPatternConfig{{Pattern: "sentinel..monitor", Level: "debug"}}
		}, "log.0"},
		{"bad log level", func(c *Config) {
			c.LogConfig = []logging.LoggerPatternConfig{{Pattern: "sentinel.*", Level: "loud"}}
		}, "log.0"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.expected)
		})
	}

	t.Run("disabled network skips bind address", func(t *testing.T) {
		cfg := valid()
		cfg.Network = NetworkConfig{Disabled: true, BindAddress: "nonsense"}
		test.That(t, cfg.Validate(), test.ShouldBeNil)
	})

	t.Run("empty bind address defaults", func(t *testing.T) {
		cfg := valid()
		cfg.Network.BindAddress = ""
		test.That(t, cfg.Validate(), test.ShouldBeNil)
		test.That(t, cfg.Network.BindAddress, test.ShouldEqual, DefaultBindAddress)
	})
}
