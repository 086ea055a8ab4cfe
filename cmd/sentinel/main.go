// Package main is the 3D print sentinel. It watches a printer's camera through Home Assistant,
// warns when the detection network sees a failing print and stops the job if nobody answers.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	goutils "go.viam.com/utils"

	"github.com/oliverbravery/3D-Print-Sentinel/config"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	// registers the onnx network backend.
	_ "github.com/oliverbravery/3D-Print-Sentinel/ml/inference/onnx"
	"github.com/oliverbravery/3D-Print-Sentinel/utils"
)

const (
	configFlag  = "config"
	debugFlag   = "debug"
	logFileFlag = "log-file"
	noWatchFlag = "no-watch"
	imageFlag   = "image"

	logFileMaxSizeMB  = 10
	logFileMaxBackups = 3
)

func newApp() *cli.App {
	return &cli.App{
		Name:            "sentinel",
		Usage:           "stop failing 3D prints through Home Assistant",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    configFlag,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				Value:   utils.DefaultConfigPath,
				EnvVars: []string{utils.ConfigPathEnvVar},
			},
			&cli.BoolFlag{
				Name:    debugFlag,
				Usage:   "enable debug logging",
				EnvVars: []string{utils.DebugEnvVar},
			},
			&cli.StringFlag{
				Name:    logFileFlag,
				Usage:   "also write logs to `FILE`, rotated by size",
				EnvVars: []string{utils.LogFileEnvVar},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "watch the printer until interrupted",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  noWatchFlag,
						Usage: "do not reload the config file when it changes",
					},
				},
				Action: runAction,
			},
			{
				Name:      "detect",
				Usage:     "run the detection network over image files and print what it finds",
				ArgsUsage: "[--image FILE]...",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     imageFlag,
						Aliases:  []string{"i"},
						Usage:    "image `FILE` to run detection on",
						Required: true,
					},
				},
				Action: detectAction,
			},
			{
				Name:   "validate",
				Usage:  "check the config file and print the settings in effect",
				Action: validateAction,
			},
		},
	}
}

// newLogger builds the process logger from the global flags. The returned func closes the log
// file, if any.
func newLogger(c *cli.Context) (logging.Logger, func()) {
	debug := c.Bool(debugFlag)
	logger := logging.NewLogger("sentinel")
	if debug {
		logger.SetLevel(logging.DEBUG)
	}
	closeLogger := func() {}
	if path := c.String(logFileFlag); path != "" {
		appender := logging.NewFileAppender(path, logFileMaxSizeMB, logFileMaxBackups)
		logger.AddAppender(appender)
		closeLogger = func() {
			goutils.UncheckedError(appender.Close())
		}
	}
	logging.RegisterLogger("sentinel", logger)
	config.InitLoggingSettings(logger, debug)
	return logger, closeLogger
}

func validateAction(c *cli.Context) error {
	logger, closeLogger := newLogger(c)
	defer closeLogger()

	cfg, err := config.Read(c.Context, c.String(configFlag), logger)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, renderSettings(cfg))
	return nil
}

// renderSettings lists the effective settings. The access token is never printed.
func renderSettings(cfg *config.Config) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Setting", "Value"})
	t.AppendRow(table.Row{"home_assistant.base_url", cfg.HomeAssistant.BaseURL})
	t.AppendRow(table.Row{"home_assistant.notify_service", cfg.HomeAssistant.NotifyService})
	t.AppendRow(table.Row{"printer.entity_id", cfg.Printer.EntityID})
	t.AppendRow(table.Row{"printer.active_state", cfg.Printer.ActiveState})
	t.AppendRow(table.Row{"printer.stop_button_entity_id", cfg.Printer.StopButtonID})
	t.AppendRow(table.Row{"printer.poll_interval", cfg.Printer.PollInterval()})
	t.AppendRow(table.Row{"camera.entity_id", cfg.Camera.EntityID})
	t.AppendRow(table.Row{"camera.snapshot_filename", cfg.Camera.SnapshotFilename})
	t.AppendRow(table.Row{"camera.snapshot_image", cfg.Camera.SnapshotImage})
	candidates := make([]string, 0, 2)
	for _, c := range cfg.Model.Candidates() {
		candidates = append(candidates, c.String())
	}
	t.AppendRow(table.Row{"model.candidates", strings.Join(candidates, "\n")})
	t.AppendRow(table.Row{"model.registered_backends", strings.Join(inference.RegisteredBackends(), ", ")})
	t.AppendRow(table.Row{"detection.threshold", cfg.Detection.Threshold})
	t.AppendRow(table.Row{"detection.nms_threshold", cfg.Detection.NMSThreshold})
	t.AppendRow(table.Row{"escalation.termination_delay", cfg.Escalation.TerminationDelay()})
	t.AppendRow(table.Row{"escalation.min_detections", cfg.Escalation.MinDetections})
	t.AppendRow(table.Row{"warm_up.enabled", cfg.WarmUp.Enabled})
	if cfg.Network.Disabled {
		t.AppendRow(table.Row{"network", "disabled"})
	} else {
		t.AppendRow(table.Row{"network.bind_address", cfg.Network.BindAddress})
		t.AppendRow(table.Row{"network.token", lo.Ternary(cfg.Network.Token == "", "unset", "set")})
	}
	return t.Render()
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
