package onnx

import (
	"math"
	"sort"
	"strconv"

	"github.com/samber/lo"

	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// candidate is one box that passed the confidence threshold, in normalized corner form.
type candidate struct {
	x1, y1, x2, y2 float64
	score          float64
	class          int
}

func (c candidate) area() float64 {
	return (c.x2 - c.x1) * (c.y2 - c.y1)
}

// overlap is the classic intersection over union of two candidates.
func overlap(a, b candidate) float64 {
	w := math.Min(a.x2, b.x2) - math.Max(a.x1, b.x1)
	h := math.Min(a.y2, b.y2) - math.Max(a.y1, b.y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := a.area() + b.area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// selectCandidates keeps, for every box, its best scoring class when that score exceeds thresh.
// boxes holds numBoxes*4 normalized x1, y1, x2, y2 values and scores numBoxes*numClasses values.
func selectCandidates(boxes, scores []float32, numBoxes, numClasses int, thresh float64) []candidate {
	var out []candidate
	for i := 0; i < numBoxes; i++ {
		row := scores[i*numClasses : (i+1)*numClasses]
		best := 0
		for c := 1; c < numClasses; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		if float64(row[best]) <= thresh {
			continue
		}
		b := boxes[i*4 : i*4+4]
		out = append(out, candidate{
			x1: float64(b[0]), y1: float64(b[1]), x2: float64(b[2]), y2: float64(b[3]),
			score: float64(row[best]),
			class: best,
		})
	}
	return out
}

// suppress runs non-maximum suppression separately for each class. A candidate is dropped when it
// overlaps a stronger kept candidate of the same class by more than nmsThresh. The result is
// ordered by score, then class.
func suppress(cands []candidate, nmsThresh float64) []candidate {
	byClass := map[int][]candidate{}
	for _, c := range cands {
		byClass[c.class] = append(byClass[c.class], c)
	}
	classes := lo.Keys(byClass)
	sort.Ints(classes)

	var kept []candidate
	for _, class := range classes {
		group := byClass[class]
		sort.SliceStable(group, func(i, j int) bool { return group[i].score > group[j].score })
		suppressed := make([]bool, len(group))
		for i := range group {
			if suppressed[i] {
				continue
			}
			kept = append(kept, group[i])
			for j := i + 1; j < len(group); j++ {
				if !suppressed[j] && overlap(group[i], group[j]) > nmsThresh {
					suppressed[j] = true
				}
			}
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	return kept
}

// toRaw scales normalized candidates to frame pixels in center form and names their classes.
func toRaw(cands []candidate, labels []string, width, height int) []objectdetection.RawDetection {
	out := make([]objectdetection.RawDetection, 0, len(cands))
	w, h := float64(width), float64(height)
	for _, c := range cands {
		out = append(out, objectdetection.RawDetection{
			Label:      labelFor(labels, c.class),
			Confidence: c.score,
			Coords: [4]float64{
				(c.x1 + c.x2) / 2 * w,
				(c.y1 + c.y2) / 2 * h,
				(c.x2 - c.x1) * w,
				(c.y2 - c.y1) * h,
			},
		})
	}
	return out
}

func labelFor(labels []string, class int) string {
	if class < len(labels) {
		return labels[class]
	}
	return strconv.Itoa(class)
}
