package utils

const (
	// ConfigPathEnvVar overrides the default config file path.
	ConfigPathEnvVar = "SENTINEL_CONFIG"

	// LogFileEnvVar names a file the process logs into in addition to stdout.
	LogFileEnvVar = "SENTINEL_LOG_FILE"

	// DebugEnvVar enables debug logging when set to a true value.
	DebugEnvVar = "SENTINEL_DEBUG"

	// DefaultConfigPath is used when neither the flag nor ConfigPathEnvVar is set.
	DefaultConfigPath = "sentinel.json"
)
