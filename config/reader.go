package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// Read reads a config from the given file. ${VAR} references are replaced from the environment
// before parsing, so secrets need not be stored in the file.
func Read(
	ctx context.Context,
	filePath string,
	logger logging.Logger,
) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from.
// Fields missing from the input keep their defaults.
func FromReader(
	ctx context.Context,
	originalPath string,
	r io.Reader,
	logger logging.Logger,
) (*Config, error) {
	cfg := Default()
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	cfg.ConfigFilePath = originalPath

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "read config", "path", originalPath)
	return cfg, nil
}
