// Package objectdetection turns raw network output into typed detections and filters them.
package objectdetection

import (
	"context"
	"fmt"
	"image"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// ErrEmptyFrame is returned for a frame with no pixels.
var ErrEmptyFrame = errors.New("frame has no pixels")

// Detection is a labeled, scored box found in one frame. It is never modified after creation.
type Detection struct {
	label string
	score float64
	box   Box
}

// NewDetection creates a detection.
func NewDetection(label string, score float64, box Box) Detection {
	return Detection{label: label, score: score, box: box}
}

// Label returns the class name.
func (d Detection) Label() string { return d.label }

// Score returns the confidence in [0, 1].
func (d Detection) Score() float64 { return d.score }

// Box returns the bounding box.
func (d Detection) Box() Box { return d.box }

func (d Detection) String() string {
	return fmt.Sprintf("%s %.2f %v", d.label, d.score, d.box)
}

// RawDetection is one (label, confidence, box) triple as produced by a network's decode
// routine. Coords holds center x, center y, width and height in frame pixels.
type RawDetection struct {
	Label      string
	Confidence float64
	Coords     [4]float64
}

// DecodeParams are the thresholds handed to a network's decode routine.
type DecodeParams struct {
	// Threshold drops candidates scoring below it.
	Threshold float64
	// HierThreshold is passed through to backends that use hierarchical class trees.
	HierThreshold float64
	// NMSThreshold is the overlap above which a weaker same-class candidate is suppressed.
	NMSThreshold float64
}

// Network scores a frame and returns confidence-filtered, de-duplicated raw triples.
type Network interface {
	Decode(ctx context.Context, img image.Image, labels []string, params DecodeParams) ([]RawDetection, error)
}

// Detector returns the detections found in an image.
type Detector func(context.Context, image.Image) ([]Detection, error)

// Detect runs the network over the frame and maps every raw triple into a Detection.
func Detect(ctx context.Context, net Network, labels []string, frame image.Image, params DecodeParams) ([]Detection, error) {
	if frame == nil {
		return nil, errors.New("no frame to run detection on")
	}
	if frame.Bounds().Empty() {
		return nil, ErrEmptyFrame
	}
	raw, err := net.Decode(ctx, frame, labels, params)
	if err != nil {
		return nil, err
	}
	return lo.Map(raw, func(r RawDetection, _ int) Detection {
		return NewDetection(r.Label, r.Confidence, FromRaw(r.Coords))
	}), nil
}

// NewDetector binds a network, its labels and thresholds into a Detector.
func NewDetector(net Network, labels []string, params DecodeParams) Detector {
	return func(ctx context.Context, img image.Image) ([]Detection, error) {
		return Detect(ctx, net, labels, img, params)
	}
}

// Build chains a detector with optional post-processing of its output.
func Build(det Detector, filters ...Postprocessor) (Detector, error) {
	if det == nil {
		return nil, errors.New("object detection pipeline must have a Detector")
	}
	return func(ctx context.Context, img image.Image) ([]Detection, error) {
		dets, err := det(ctx, img)
		if err != nil {
			return nil, err
		}
		for _, f := range filters {
			dets = f(dets)
		}
		return dets, nil
	}, nil
}
