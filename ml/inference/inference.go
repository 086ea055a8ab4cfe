// Package inference loads detection networks from a prioritized list of weight/accelerator
// candidates.
package inference

import (
	"context"
	"fmt"
	"image"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

const (
	// DefaultBackend is used when a candidate does not name one.
	DefaultBackend = "onnx"
	// DefaultModelDir holds the bundled weights and label metadata.
	DefaultModelDir = "model"
)

// DefaultWeightsPath is the weights location tried when no explicit path is configured.
var DefaultWeightsPath = filepath.Join(DefaultModelDir, "model-weights.onnx")

// NetConfig is one candidate in a load priority list.
type NetConfig struct {
	Backend     string
	WeightsPath string
	UseGPU      bool
	// Attributes are backend specific options.
	Attributes map[string]interface{}
}

func (c NetConfig) String() string {
	backend := c.Backend
	if backend == "" {
		backend = DefaultBackend
	}
	return fmt.Sprintf("%s:%s (use_gpu=%t)", backend, c.WeightsPath, c.UseGPU)
}

// Priority returns the candidates to try for the given weights path: first with the accelerator,
// then without it. An empty path selects DefaultWeightsPath.
func Priority(backend, weightsPath string, attrs map[string]interface{}) []NetConfig {
	if weightsPath == "" {
		weightsPath = DefaultWeightsPath
	}
	return []NetConfig{
		{Backend: backend, WeightsPath: weightsPath, UseGPU: true, Attributes: attrs},
		{Backend: backend, WeightsPath: weightsPath, UseGPU: false, Attributes: attrs},
	}
}

// Network is an initialized detection network.
type Network interface {
	objectdetection.Network
	Close(ctx context.Context) error
}

// Backend initializes networks from a candidate configuration.
type Backend interface {
	Open(ctx context.Context, cfg NetConfig, logger logging.Logger) (Network, error)
}

// BackendFunc adapts a function to a Backend.
type BackendFunc func(ctx context.Context, cfg NetConfig, logger logging.Logger) (Network, error)

// Open calls f.
func (f BackendFunc) Open(ctx context.Context, cfg NetConfig, logger logging.Logger) (Network, error) {
	return f(ctx, cfg, logger)
}

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{}
)

// RegisterBackend makes a backend selectable by name. It panics if the name is already taken.
func RegisterBackend(name string, backend Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, ok := backends[name]; ok {
		panic(errors.Errorf("trying to register two network backends named %q", name))
	}
	backends[name] = backend
}

// DeregisterBackend removes a registered backend.
func DeregisterBackend(name string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	delete(backends, name)
}

// LookupBackend returns the backend registered under name.
func LookupBackend(name string) (Backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

// RegisteredBackends returns the sorted names of all registered backends.
func RegisteredBackends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadedNet is a network that loaded successfully together with the labels used to name its
// class indices. It is shared read-only after loading.
type LoadedNet struct {
	Network Network
	Labels  []string
	Config  NetConfig
}

// Detect runs the detection pipeline over one frame.
func (ln *LoadedNet) Detect(ctx context.Context, frame image.Image, params objectdetection.DecodeParams) ([]objectdetection.Detection, error) {
	return objectdetection.Detect(ctx, ln.Network, ln.Labels, frame, params)
}

// Detector returns the network bound to its labels and thresholds.
func (ln *LoadedNet) Detector(params objectdetection.DecodeParams) objectdetection.Detector {
	return objectdetection.NewDetector(ln.Network, ln.Labels, params)
}

// Close releases the network.
func (ln *LoadedNet) Close(ctx context.Context) error {
	return ln.Network.Close(ctx)
}
