package config

import (
	"sync"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// debugSources records where debug output was asked for. Either source turns it on.
var debugSources struct {
	mu   sync.Mutex
	flag bool
	file bool
}

// InitLoggingSettings records the --debug flag. It runs once at startup, before the first
// config read.
func InitLoggingSettings(logger logging.Logger, debugFlag bool) {
	debugSources.mu.Lock()
	defer debugSources.mu.Unlock()
	debugSources.flag = debugFlag
	debugSources.file = false
	logging.SetDebug(debugFlag)
	logger.Infow("log level initialized", "debug", debugFlag)
}

// ApplyLogSettings applies the debug flag and the per-logger levels of cfg. It runs on every
// config read, including reloads.
func ApplyLogSettings(cfg *Config, logger logging.Logger) error {
	debugSources.mu.Lock()
	debugSources.file = cfg.Debug
	debug := debugSources.flag || debugSources.file
	if logging.SetDebug(debug) {
		logger.Infow("debug logging changed", "debug", debug)
	}
	debugSources.mu.Unlock()
	return logging.UpdateLoggerRegistry(cfg.LogConfig, logger)
}
