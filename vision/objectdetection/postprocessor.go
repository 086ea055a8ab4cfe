package objectdetection

import (
	"github.com/samber/lo"
)

// Postprocessor defines a function that filters/modifies on an incoming array of Detections.
type Postprocessor func([]Detection) []Detection

// NewAreaFilter returns a function that filters out detections below a certain area.
func NewAreaFilter(area float64) Postprocessor {
	return func(in []Detection) []Detection {
		return lo.Filter(in, func(d Detection, _ int) bool {
			return d.Box().Area() >= area
		})
	}
}

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		return lo.Filter(in, func(d Detection, _ int) bool {
			return d.Score() >= conf
		})
	}
}

// NewLabelFilter returns a function that keeps only detections with one of the given labels. An
// empty label list keeps everything.
func NewLabelFilter(labels []string) Postprocessor {
	return func(in []Detection) []Detection {
		if len(labels) == 0 {
			return in
		}
		return lo.Filter(in, func(d Detection, _ int) bool {
			return lo.Contains(labels, d.Label())
		})
	}
}
