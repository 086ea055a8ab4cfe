package inject

import (
	"context"
	"image"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// Network is an injected detection network.
type Network struct {
	inference.Network
	DecodeFunc func(ctx context.Context, img image.Image, labels []string,
		params objectdetection.DecodeParams) ([]objectdetection.RawDetection, error)
	CloseFunc func(ctx context.Context) error
}

// Decode calls the injected Decode or the real version.
func (n *Network) Decode(
	ctx context.Context,
	img image.Image,
	labels []string,
	params objectdetection.DecodeParams,
) ([]objectdetection.RawDetection, error) {
	if n.DecodeFunc == nil {
		return n.Network.Decode(ctx, img, labels, params)
	}
	return n.DecodeFunc(ctx, img, labels, params)
}

// Close calls the injected Close or the real version. A network with neither is closed
// trivially.
func (n *Network) Close(ctx context.Context) error {
	if n.CloseFunc == nil {
		if n.Network == nil {
			return nil
		}
		return n.Network.Close(ctx)
	}
	return n.CloseFunc(ctx)
}

// Backend is an injected network backend.
type Backend struct {
	inference.Backend
	OpenFunc func(ctx context.Context, cfg inference.NetConfig, logger logging.Logger) (inference.Network, error)
}

// Open calls the injected Open or the real version.
func (b *Backend) Open(ctx context.Context, cfg inference.NetConfig, logger logging.Logger) (inference.Network, error) {
	if b.OpenFunc == nil {
		return b.Backend.Open(ctx, cfg, logger)
	}
	return b.OpenFunc(ctx, cfg, logger)
}
