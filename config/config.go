// Package config defines the structures to configure the sentinel and its collaborators.
package config

import (
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/oliverbravery/3D-Print-Sentinel/components/camera"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	"github.com/oliverbravery/3D-Print-Sentinel/services/escalation"
	"github.com/oliverbravery/3D-Print-Sentinel/services/monitor"
	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// Config is the whole sentinel configuration.
type Config struct {
	HomeAssistant HomeAssistant                 `json:"home_assistant"`
	Printer       Printer                       `json:"printer"`
	Camera        Camera                        `json:"camera"`
	Model         Model                         `json:"model"`
	Detection     Detection                     `json:"detection"`
	Escalation    Escalation                    `json:"escalation"`
	WarmUp        WarmUp                        `json:"warm_up"`
	Network       NetworkConfig                 `json:"network"`
	Debug         bool                          `json:"debug,omitempty"`
	LogConfig     []logging.LoggerPatternConfig `json:"log,omitempty"`

	// ConfigFilePath is the file the config was read from, if any.
	ConfigFilePath string `json:"-"`
}

// HomeAssistant holds the connection secrets. Both usually come from the environment, e.g.
// "token": "${HASS_TOKEN}".
type HomeAssistant struct {
	BaseURL       string `json:"base_url"`
	Token         string `json:"token"`
	NotifyService string `json:"notify_service"`
}

// Validate ensures all parts of the config are valid.
func (c *HomeAssistant) Validate(path string) error {
	if c.BaseURL == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "base_url")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return utils.NewConfigValidationError(path, errors.Errorf("base_url %q must be an http or https url", c.BaseURL))
	}
	if c.Token == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "token")
	}
	if c.NotifyService == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "notify_service")
	}
	return nil
}

// Printer names the entities that report and control the print job.
type Printer struct {
	EntityID        string `json:"entity_id"`
	ActiveState     string `json:"active_state"`
	StopButtonID    string `json:"stop_button_entity_id"`
	PollIntervalSec int    `json:"poll_interval_secs"`
}

// PollInterval returns the poll interval as a duration.
func (c Printer) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSec) * time.Second
}

// Validate ensures all parts of the config are valid.
func (c *Printer) Validate(path string) error {
	if c.EntityID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "entity_id")
	}
	if c.ActiveState == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "active_state")
	}
	if c.StopButtonID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "stop_button_entity_id")
	}
	if c.PollIntervalSec <= 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("poll_interval_secs must be positive, got %d", c.PollIntervalSec))
	}
	return nil
}

// Camera names the camera entity and where its snapshots are kept.
type Camera struct {
	EntityID string `json:"entity_id"`
	// SnapshotFilename, when set, is passed to camera.snapshot before each capture.
	SnapshotFilename string `json:"snapshot_filename,omitempty"`
	// SnapshotImage is the media reference attached to warning notifications.
	SnapshotImage string `json:"snapshot_image"`
}

// Validate ensures all parts of the config are valid.
func (c *Camera) Validate(path string) error {
	if c.EntityID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "entity_id")
	}
	return nil
}

// Model selects the detection network.
type Model struct {
	Backend     string                 `json:"backend"`
	WeightsPath string                 `json:"weights_path,omitempty"`
	MetaPath    string                 `json:"meta_path"`
	Attributes  map[string]interface{} `json:"attributes,omitempty"`
}

// Candidates returns the GPU then CPU load order for the model.
func (c Model) Candidates() []inference.NetConfig {
	return inference.Priority(c.Backend, c.WeightsPath, c.Attributes)
}

// Validate ensures all parts of the config are valid.
func (c *Model) Validate(path string) error {
	if c.Backend == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "backend")
	}
	return nil
}

// Detection holds the decode thresholds and post-processing filters.
type Detection struct {
	Threshold     float64  `json:"threshold"`
	HierThreshold float64  `json:"hier_threshold"`
	NMSThreshold  float64  `json:"nms_threshold"`
	MinArea       float64  `json:"min_area,omitempty"`
	Labels        []string `json:"labels,omitempty"`
}

// Params returns the thresholds passed to the network.
func (c Detection) Params() objectdetection.DecodeParams {
	return objectdetection.DecodeParams{
		Threshold:     c.Threshold,
		HierThreshold: c.HierThreshold,
		NMSThreshold:  c.NMSThreshold,
	}
}

// Postprocessors returns the filters configured on top of the network's own output.
func (c Detection) Postprocessors() []objectdetection.Postprocessor {
	var filters []objectdetection.Postprocessor
	if c.MinArea > 0 {
		filters = append(filters, objectdetection.NewAreaFilter(c.MinArea))
	}
	if len(c.Labels) > 0 {
		filters = append(filters, objectdetection.NewLabelFilter(c.Labels))
	}
	return filters
}

// Validate ensures all parts of the config are valid.
func (c *Detection) Validate(path string) error {
	for _, field := range []struct {
		name  string
		value float64
	}{
		{"threshold", c.Threshold},
		{"hier_threshold", c.HierThreshold},
		{"nms_threshold", c.NMSThreshold},
	} {
		if field.value < 0 || field.value > 1 {
			return utils.NewConfigValidationError(path,
				errors.Errorf("%s must be within [0, 1], got %v", field.name, field.value))
		}
	}
	if c.MinArea < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_area must not be negative, got %v", c.MinArea))
	}
	return nil
}

// Escalation tunes the countdown that follows a detection.
type Escalation struct {
	TerminationDelaySec int `json:"termination_delay_secs"`
	MinDetections       int `json:"min_detections"`
}

// TerminationDelay returns the countdown length as a duration.
func (c Escalation) TerminationDelay() time.Duration {
	return time.Duration(c.TerminationDelaySec) * time.Second
}

// Validate ensures all parts of the config are valid.
func (c *Escalation) Validate(path string) error {
	if c.TerminationDelaySec <= 0 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("termination_delay_secs must be positive, got %d", c.TerminationDelaySec))
	}
	if c.MinDetections < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("min_detections must be at least 1, got %d", c.MinDetections))
	}
	return nil
}

// WarmUp configures the warmed up advisory.
type WarmUp struct {
	Enabled              bool   `json:"enabled"`
	NozzleEntityID       string `json:"nozzle_entity_id"`
	NozzleTargetEntityID string `json:"nozzle_target_entity_id"`
	BedEntityID          string `json:"bed_entity_id"`
	BedTargetEntityID    string `json:"bed_target_entity_id"`
}

// Validate ensures all parts of the config are valid.
func (c *WarmUp) Validate(path string) error {
	if !c.Enabled {
		return nil
	}
	for _, field := range []struct{ name, value string }{
		{"nozzle_entity_id", c.NozzleEntityID},
		{"nozzle_target_entity_id", c.NozzleTargetEntityID},
		{"bed_entity_id", c.BedEntityID},
		{"bed_target_entity_id", c.BedTargetEntityID},
	} {
		if field.value == "" {
			return utils.NewConfigValidationFieldRequiredError(path, field.name)
		}
	}
	return nil
}

// DefaultBindAddress is the default address the local web surface listens on.
const DefaultBindAddress = "localhost:8090"

// NetworkConfig describes the local web surface.
type NetworkConfig struct {
	// Disabled turns the web surface off.
	Disabled    bool   `json:"disabled,omitempty"`
	BindAddress string `json:"bind_address"`
	// ActionsPerMinute rate limits POST /actions. Zero uses the default.
	ActionsPerMinute int `json:"actions_per_minute,omitempty"`
	// Token, when set, is required as a bearer token on POST /actions.
	Token string `json:"token,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (nc *NetworkConfig) Validate(path string) error {
	if nc.Disabled {
		return nil
	}
	if nc.BindAddress == "" {
		nc.BindAddress = DefaultBindAddress
	}
	if _, _, err := net.SplitHostPort(nc.BindAddress); err != nil {
		return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating bind_address"))
	}
	if nc.ActionsPerMinute < 0 {
		return utils.NewConfigValidationError(path, errors.New("actions_per_minute must not be negative"))
	}
	return nil
}

// Default returns a config holding every default. Secrets are left empty.
func Default() *Config {
	return &Config{
		HomeAssistant: HomeAssistant{NotifyService: notify.DefaultService},
		Printer: Printer{
			EntityID:        "binary_sensor.octoprint_printing",
			ActiveState:     monitor.DefaultActiveState,
			StopButtonID:    "button.octoprint_stop_job",
			PollIntervalSec: int(monitor.DefaultPollInterval / time.Second),
		},
		Camera: Camera{
			EntityID:         "camera.octoprint_camera",
			SnapshotFilename: camera.DefaultSnapshotFilename,
			SnapshotImage:    escalation.DefaultSnapshotImage,
		},
		Model: Model{
			Backend:  inference.DefaultBackend,
			MetaPath: inference.DefaultMetaPath,
		},
		Detection: Detection{
			Threshold:     0.25,
			HierThreshold: 0.5,
			NMSThreshold:  0.4,
		},
		Escalation: Escalation{
			TerminationDelaySec: int(escalation.DefaultTerminationDelay / time.Second),
			MinDetections:       escalation.DefaultMinDetections,
		},
		Network: NetworkConfig{BindAddress: DefaultBindAddress},
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	for _, part := range []struct {
		path string
		v    interface{ Validate(path string) error }
	}{
		{"home_assistant", &c.HomeAssistant},
		{"printer", &c.Printer},
		{"camera", &c.Camera},
		{"model", &c.Model},
		{"detection", &c.Detection},
		{"escalation", &c.Escalation},
		{"warm_up", &c.WarmUp},
		{"network", &c.Network},
	} {
		if err := part.v.Validate(part.path); err != nil {
			return err
		}
	}
	for idx, pattern := range c.LogConfig {
		path := fmt.Sprintf("log.%d", idx)
		if !logging.ValidatePattern(pattern.Pattern) {
			return utils.NewConfigValidationError(path, errors.Errorf("invalid logger pattern %q", pattern.Pattern))
		}
		if _, err := logging.LevelFromString(pattern.Level); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}
