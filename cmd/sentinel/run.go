package main

import (
	"context"
	"fmt"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"github.com/oliverbravery/3D-Print-Sentinel/components/button"
	"github.com/oliverbravery/3D-Print-Sentinel/components/camera"
	"github.com/oliverbravery/3D-Print-Sentinel/components/printer"
	"github.com/oliverbravery/3D-Print-Sentinel/components/sensor"
	"github.com/oliverbravery/3D-Print-Sentinel/config"
	"github.com/oliverbravery/3D-Print-Sentinel/homeassistant"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	"github.com/oliverbravery/3D-Print-Sentinel/services/escalation"
	"github.com/oliverbravery/3D-Print-Sentinel/services/monitor"
	"github.com/oliverbravery/3D-Print-Sentinel/services/notify"
	"github.com/oliverbravery/3D-Print-Sentinel/utils"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
	"github.com/oliverbravery/3D-Print-Sentinel/web"
)

// sentinel is every long lived part of a running process.
type sentinel struct {
	net       *inference.LoadedNet
	machine   *escalation.Machine
	monitor   *monitor.Monitor
	scheduler *monitor.Scheduler
	web       *web.Server
	logger    logging.Logger
}

// loadNetwork loads the configured model. A LoadError is returned as is.
func loadNetwork(ctx context.Context, cfg *config.Config, logger logging.Logger) (*inference.LoadedNet, error) {
	return inference.Load(ctx, cfg.Model.Candidates(), cfg.Model.MetaPath, logger.Sublogger("inference"))
}

// buildDetector binds the network to the configured thresholds and filters.
func buildDetector(net *inference.LoadedNet, cfg *config.Config) (objectdetection.Detector, error) {
	return objectdetection.Build(net.Detector(cfg.Detection.Params()), cfg.Detection.Postprocessors()...)
}

// newSentinel wires the components, the escalation machine and the poll loop over api. The
// scheduler is returned stopped.
func newSentinel(
	ctx context.Context,
	cfg *config.Config,
	api homeassistant.API,
	net *inference.LoadedNet,
	clk clock.Clock,
	eventsConnected func() bool,
	logger logging.Logger,
) (_ *sentinel, err error) {
	detector, err := buildDetector(net, cfg)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.NewHomeAssistant(api, cfg.HomeAssistant.NotifyService, logger.Sublogger("notify"))
	if err != nil {
		return nil, err
	}
	stopButton, err := button.NewHomeAssistant(api, cfg.Printer.StopButtonID, logger.Sublogger("button"))
	if err != nil {
		return nil, err
	}
	status, err := printer.NewHomeAssistant(api, cfg.Printer.EntityID, logger.Sublogger("printer"))
	if err != nil {
		return nil, err
	}
	cam, err := camera.NewHomeAssistant(api, camera.Config{
		EntityID:         cfg.Camera.EntityID,
		SnapshotFilename: cfg.Camera.SnapshotFilename,
	}, logger.Sublogger("camera"))
	if err != nil {
		return nil, err
	}

	var advisories []monitor.Advisory
	if cfg.WarmUp.Enabled {
		advisory, err := newWarmUpAdvisory(api, cfg.WarmUp, notifier, logger.Sublogger("warmup"))
		if err != nil {
			return nil, err
		}
		advisories = append(advisories, advisory)
	}

	machine, err := escalation.NewMachine(escalation.Config{
		TerminationDelay: cfg.Escalation.TerminationDelay(),
		MinDetections:    cfg.Escalation.MinDetections,
		SnapshotImage:    cfg.Camera.SnapshotImage,
	}, notifier, stopButton, escalation.NewTimerService(clk), logger.Sublogger("escalation"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			machine.Close()
		}
	}()

	mon, err := monitor.New(status, cfg.Printer.ActiveState, cam, detector, machine, clk,
		logger.Sublogger("monitor"), advisories...)
	if err != nil {
		return nil, err
	}
	scheduler, err := monitor.NewScheduler(mon, cfg.Printer.PollInterval(), logger.Sublogger("scheduler"))
	if err != nil {
		return nil, err
	}

	s := &sentinel{
		net:       net,
		machine:   machine,
		monitor:   mon,
		scheduler: scheduler,
		logger:    logger,
	}
	if !cfg.Network.Disabled {
		s.web, err = web.New(machine, mon, web.Options{
			BindAddress:      cfg.Network.BindAddress,
			ActionsPerMinute: cfg.Network.ActionsPerMinute,
			Token:            cfg.Network.Token,
			EventsConnected:  eventsConnected,
		}, logger.Sublogger("web"))
		if err != nil {
			return nil, multierr.Combine(err, scheduler.Shutdown())
		}
	}
	logger.CDebugw(ctx, "sentinel wired", "network", net.Config.String(), "labels", len(net.Labels))
	return s, nil
}

func newWarmUpAdvisory(
	api homeassistant.API,
	conf config.WarmUp,
	notifier notify.Notifier,
	logger logging.Logger,
) (*monitor.WarmUpAdvisory, error) {
	heater := func(name, actualID, targetID string) (monitor.Heater, error) {
		actual, err := sensor.NewHomeAssistant(api, actualID)
		if err != nil {
			return monitor.Heater{}, err
		}
		target, err := sensor.NewHomeAssistant(api, targetID)
		if err != nil {
			return monitor.Heater{}, err
		}
		return monitor.Heater{Name: name, Actual: actual, Target: target}, nil
	}
	nozzle, err := heater("nozzle", conf.NozzleEntityID, conf.NozzleTargetEntityID)
	if err != nil {
		return nil, err
	}
	bed, err := heater("bed", conf.BedEntityID, conf.BedTargetEntityID)
	if err != nil {
		return nil, err
	}
	return monitor.NewWarmUpAdvisory(notifier, logger, nozzle, bed)
}

// close stops polling, disarms any countdown and releases the network.
func (s *sentinel) close(ctx context.Context) error {
	err := s.scheduler.Shutdown()
	s.machine.Close()
	return multierr.Combine(err, s.net.Close(ctx))
}

// reloadConfig applies the parts of a changed config that can change while running. Everything
// else is reported as needing a restart.
func reloadConfig(current, next *config.Config, logger logging.Logger) {
	if err := config.ApplyLogSettings(next, logger); err != nil {
		logger.Warnw("failed to apply log settings", "error", err)
	}
	for _, section := range []struct {
		name       string
		prev, next interface{}
	}{
		{"home_assistant", current.HomeAssistant, next.HomeAssistant},
		{"printer", current.Printer, next.Printer},
		{"camera", current.Camera, next.Camera},
		{"model", current.Model, next.Model},
		{"detection", current.Detection, next.Detection},
		{"escalation", current.Escalation, next.Escalation},
		{"warm_up", current.WarmUp, next.WarmUp},
		{"network", current.Network, next.Network},
	} {
		if !reflect.DeepEqual(section.prev, section.next) {
			logger.Warnw("config section changed, restart to apply it", "section", section.name)
		}
	}
}

func runAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, closeLogger := newLogger(c)
	defer closeLogger()

	configPath := c.String(configFlag)
	cfg, err := config.Read(ctx, configPath, logger)
	if err != nil {
		return errors.Wrapf(err, "cannot read config %q", configPath)
	}
	if err := config.ApplyLogSettings(cfg, logger); err != nil {
		return err
	}

	client, err := homeassistant.NewClient(cfg.HomeAssistant.BaseURL, cfg.HomeAssistant.Token, logger.Sublogger("homeassistant"))
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		return errors.Wrap(err, "cannot reach Home Assistant")
	}

	net, err := loadNetwork(ctx, cfg, logger)
	if err != nil {
		var loadErr *inference.LoadError
		if errors.As(err, &loadErr) {
			fmt.Fprint(c.App.ErrWriter, loadErr.PrettyPrint())
		}
		return err
	}

	clk := clock.New()
	var events *homeassistant.EventSubscriber
	s, err := newSentinel(ctx, cfg, client, net, clk, func() bool { return events.Connected() }, logger)
	if err != nil {
		return multierr.Combine(err, net.Close(ctx))
	}
	events = homeassistant.NewEventSubscriber(client, s.machine.OnExternalAction, clk, logger.Sublogger("events"))

	workers := utils.NewStoppableWorkers(ctx, logger)
	workers.AddNamedWorker("events", events.Run)
	if s.web != nil {
		workers.AddNamedWorker("web", s.web.Serve)
	}
	if !c.Bool(noWatchFlag) {
		watcher, err := config.NewWatcher(configPath, config.DefaultReloadDelay, func(next *config.Config) {
			reloadConfig(cfg, next, logger)
		}, logger.Sublogger("config"))
		if err != nil {
			logger.Warnw("config changes will not be picked up", "error", err)
		} else {
			defer func() {
				if err := watcher.Close(); err != nil {
					logger.Debugw("failed to close config watcher", "error", err)
				}
			}()
			workers.AddNamedWorker("config", watcher.Run)
		}
	}
	s.scheduler.Start()
	logger.Infow("sentinel running", "printer", cfg.Printer.EntityID, "camera", cfg.Camera.EntityID)

	<-ctx.Done()
	logger.Info("shutting down")
	workers.Stop()
	return s.close(context.Background())
}
