package onnx

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

type modelLayout struct {
	inputName  string
	boxesName  string
	scoresName string
	width      int
	height     int
	numBoxes   int
	numClasses int
}

// tensorInfo is the part of ort.InputOutputInfo the layout needs.
type tensorInfo struct {
	name string
	dims []int64
}

func toTensorInfo(infos []ort.InputOutputInfo) []tensorInfo {
	out := make([]tensorInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, tensorInfo{name: info.Name, dims: info.Dimensions})
	}
	return out
}

func resolveLayout(attrs *Attributes, inputs, outputs []ort.InputOutputInfo) (*modelLayout, error) {
	return layoutFromInfo(attrs, toTensorInfo(inputs), toTensorInfo(outputs))
}

func findTensor(infos []tensorInfo, name string) (tensorInfo, bool) {
	for _, info := range infos {
		if info.name == name {
			return info, true
		}
	}
	return tensorInfo{}, false
}

// layoutFromInfo works out tensor names and sizes. Named tensors in attrs take precedence; by
// default the first input is the image, the rank 4 output is boxes and the rank 3 output is scores.
// Dynamic image dimensions must be fixed with input_width and input_height.
func layoutFromInfo(attrs *Attributes, inputs, outputs []tensorInfo) (*modelLayout, error) {
	if len(inputs) == 0 {
		return nil, errors.New("model has no inputs")
	}
	input := inputs[0]
	if attrs.InputName != "" {
		var ok bool
		if input, ok = findTensor(inputs, attrs.InputName); !ok {
			return nil, errors.Errorf("model has no input named %q", attrs.InputName)
		}
	}
	if len(input.dims) != 4 || (input.dims[1] != 3 && input.dims[1] != -1) {
		return nil, errors.Errorf("input %q has shape %v, expected [1 3 H W]", input.name, input.dims)
	}

	layout := &modelLayout{
		inputName: input.name,
		height:    int(input.dims[2]),
		width:     int(input.dims[3]),
	}
	if attrs.InputWidth > 0 {
		layout.width = attrs.InputWidth
	}
	if attrs.InputHeight > 0 {
		layout.height = attrs.InputHeight
	}
	if layout.width <= 0 || layout.height <= 0 {
		return nil, errors.Errorf("input %q has dynamic size %v; set input_width and input_height", input.name, input.dims)
	}

	var boxes, scores tensorInfo
	var haveBoxes, haveScores bool
	if attrs.BoxesOutput != "" {
		if boxes, haveBoxes = findTensor(outputs, attrs.BoxesOutput); !haveBoxes {
			return nil, errors.Errorf("model has no output named %q", attrs.BoxesOutput)
		}
	}
	if attrs.ScoresOutput != "" {
		if scores, haveScores = findTensor(outputs, attrs.ScoresOutput); !haveScores {
			return nil, errors.Errorf("model has no output named %q", attrs.ScoresOutput)
		}
	}
	for _, out := range outputs {
		switch {
		case !haveBoxes && len(out.dims) == 4:
			boxes, haveBoxes = out, true
		case !haveScores && len(out.dims) == 3:
			scores, haveScores = out, true
		}
	}
	if !haveBoxes || !haveScores {
		return nil, errors.Errorf("expected a boxes output [1 N 1 4] and a scores output [1 N C], got %v", outputs)
	}
	if len(boxes.dims) != 4 || boxes.dims[3] != 4 {
		return nil, errors.Errorf("boxes output %q has shape %v, expected [1 N 1 4]", boxes.name, boxes.dims)
	}
	if len(scores.dims) != 3 {
		return nil, errors.Errorf("scores output %q has shape %v, expected [1 N C]", scores.name, scores.dims)
	}
	if boxes.dims[1] <= 0 || boxes.dims[1] != scores.dims[1] || scores.dims[2] <= 0 {
		return nil, errors.Errorf("boxes %v and scores %v must have the same fixed box count", boxes.dims, scores.dims)
	}

	layout.boxesName = boxes.name
	layout.scoresName = scores.name
	layout.numBoxes = int(boxes.dims[1])
	layout.numClasses = int(scores.dims[2])
	return layout, nil
}
