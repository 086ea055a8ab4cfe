package inference

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// Attempt records why one candidate failed to load.
type Attempt struct {
	Config NetConfig
	Err    error
}

// LoadError is returned when every candidate failed to load.
type LoadError struct {
	Attempts []Attempt
}

func (e *LoadError) Error() string {
	var sb strings.Builder
	sb.WriteString("failed to load any network after trying:")
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, " [%v: %v]", a.Config, a.Err)
	}
	return sb.String()
}

// PrettyPrint returns one line per attempted candidate.
func (e *LoadError) PrettyPrint() string {
	var sb strings.Builder
	sb.WriteString("Failed to load any network\n")
	for _, a := range e.Attempts {
		fmt.Fprintf(&sb, "- %v\n  Because %q\n", a.Config, a.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the individual failure reasons.
func (e *LoadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

// IsLoadError returns whether err is, or wraps, a LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// Load tries each candidate in order and returns the first network that opens. Later candidates
// are never tried once one succeeds. Labels are resolved from metaPath on a best-effort basis.
func Load(ctx context.Context, candidates []NetConfig, metaPath string, logger logging.Logger) (*LoadedNet, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no network candidates to load")
	}

	attempts := make([]Attempt, 0, len(candidates))
	for _, cfg := range candidates {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{cfg, err})
			break
		}
		logger.Infow("trying to load weights", "weights", cfg.WeightsPath, "use_gpu", cfg.UseGPU)
		net, err := open(ctx, cfg, logger)
		if err != nil {
			logger.Warnw("failed to load weights", "config", cfg.String(), "error", err)
			attempts = append(attempts, Attempt{cfg, err})
			continue
		}
		logger.Infow("loaded network", "config", cfg.String())
		return &LoadedNet{
			Network: net,
			Labels:  ResolveLabels(metaPath, logger),
			Config:  cfg,
		}, nil
	}

	return nil, &LoadError{Attempts: attempts}
}

func open(ctx context.Context, cfg NetConfig, logger logging.Logger) (net Network, err error) {
	name := cfg.Backend
	if name == "" {
		name = DefaultBackend
	}
	backend, ok := LookupBackend(name)
	if !ok {
		return nil, errors.Errorf("no network backend registered as %q", name)
	}
	defer func() {
		if r := recover(); r != nil {
			err = multierr.Append(err, errors.Errorf("backend %q panicked: %v", name, r))
		}
	}()
	net, err = backend.Open(ctx, cfg, logger)
	if err == nil && net == nil {
		err = errors.Errorf("backend %q returned no network", name)
	}
	return net, err
}
