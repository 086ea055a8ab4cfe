// Package onnx is a network backend running detection models with ONNX Runtime. Models are
// expected to have one NCHW image input and two outputs: boxes shaped [1, N, 1, 4] holding
// normalized corners and class scores shaped [1, N, C].
package onnx

import (
	"context"
	"image"
	"os"
	"strconv"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// BackendName is the name the backend registers under.
const BackendName = "onnx"

func init() {
	inference.RegisterBackend(BackendName, inference.BackendFunc(Open))
}

// Attributes are the backend options accepted in a candidate's attribute map.
type Attributes struct {
	SharedLibraryPath string `json:"shared_library_path"`
	InputName         string `json:"input_name"`
	BoxesOutput       string `json:"boxes_output"`
	ScoresOutput      string `json:"scores_output"`
	InputWidth        int    `json:"input_width"`
	InputHeight       int    `json:"input_height"`
	CUDADeviceID      int    `json:"cuda_device_id"`
	IntraOpThreads    int    `json:"intra_op_threads"`
}

// DecodeAttributes converts a free-form attribute map into Attributes.
func DecodeAttributes(attrs map[string]interface{}) (*Attributes, error) {
	var conf Attributes
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &conf,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "invalid onnx attributes")
	}
	if conf.InputWidth < 0 || conf.InputHeight < 0 {
		return nil, errors.New("input_width and input_height must not be negative")
	}
	return &conf, nil
}

var envMu sync.Mutex

func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	return errors.Wrap(ort.InitializeEnvironment(), "initializing onnxruntime")
}

type network struct {
	logger logging.Logger

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	boxes   *ort.Tensor[float32]
	scores  *ort.Tensor[float32]

	width, height int
	numBoxes      int
	numClasses    int
}

// Open creates a session for the candidate's weights. GPU candidates fail unless the CUDA
// execution provider can be attached.
func Open(ctx context.Context, cfg inference.NetConfig, logger logging.Logger) (inference.Network, error) {
	attrs, err := DecodeAttributes(cfg.Attributes)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.WeightsPath); err != nil {
		return nil, errors.Wrap(err, "weights not found")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := initEnvironment(attrs.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.WeightsPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading model inputs and outputs")
	}
	layout, err := resolveLayout(attrs, inputs, outputs)
	if err != nil {
		return nil, err
	}

	options, err := sessionOptions(cfg.UseGPU, attrs)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := options.Destroy(); err != nil {
			logger.Debugw("failed to release session options", "error", err)
		}
	}()

	net := &network{
		logger:     logger,
		width:      layout.width,
		height:     layout.height,
		numBoxes:   layout.numBoxes,
		numClasses: layout.numClasses,
	}
	if err := net.allocate(cfg.WeightsPath, layout, options); err != nil {
		return nil, multierr.Combine(err, net.Close(ctx))
	}
	logger.Infow("onnx session ready",
		"input", layout.inputName, "width", layout.width, "height", layout.height,
		"boxes", layout.numBoxes, "classes", layout.numClasses, "use_gpu", cfg.UseGPU)
	return net, nil
}

func sessionOptions(useGPU bool, attrs *Attributes) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	if attrs.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(attrs.IntraOpThreads); err != nil {
			return nil, multierr.Combine(err, options.Destroy())
		}
	}
	if !useGPU {
		return options, nil
	}

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "CUDA is unavailable"), options.Destroy())
	}
	defer func() {
		//nolint:errcheck,gosec
		cudaOptions.Destroy()
	}()
	if err := cudaOptions.Update(map[string]string{"device_id": strconv.Itoa(attrs.CUDADeviceID)}); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "configuring CUDA"), options.Destroy())
	}
	if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "enabling CUDA"), options.Destroy())
	}
	return options, nil
}

func (n *network) allocate(weightsPath string, layout *modelLayout, options *ort.SessionOptions) error {
	var err error
	if n.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(n.height), int64(n.width))); err != nil {
		return errors.Wrap(err, "allocating input tensor")
	}
	if n.boxes, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n.numBoxes), 1, 4)); err != nil {
		return errors.Wrap(err, "allocating boxes tensor")
	}
	if n.scores, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(n.numBoxes), int64(n.numClasses))); err != nil {
		return errors.Wrap(err, "allocating scores tensor")
	}
	n.session, err = ort.NewAdvancedSession(
		weightsPath,
		[]string{layout.inputName},
		[]string{layout.boxesName, layout.scoresName},
		[]ort.ArbitraryTensor{n.input},
		[]ort.ArbitraryTensor{n.boxes, n.scores},
		options,
	)
	return errors.Wrap(err, "creating session")
}

// Decode runs the model on img. hier_thresh has no meaning for this model family and is ignored.
func (n *network) Decode(
	ctx context.Context,
	img image.Image,
	labels []string,
	params objectdetection.DecodeParams,
) ([]objectdetection.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Bounds().Empty() {
		return nil, objectdetection.ErrEmptyFrame
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil {
		return nil, errors.New("onnx network is closed")
	}

	resized := imaging.Resize(img, n.width, n.height, imaging.Linear)
	fillInput(resized, n.input.GetData(), n.width, n.height)
	if err := n.session.Run(); err != nil {
		return nil, errors.Wrap(err, "model inference")
	}

	cands := selectCandidates(n.boxes.GetData(), n.scores.GetData(), n.numBoxes, n.numClasses, params.Threshold)
	kept := suppress(cands, params.NMSThreshold)
	bounds := img.Bounds()
	n.logger.Debugw("decoded frame", "candidates", len(cands), "kept", len(kept))
	return toRaw(kept, labels, bounds.Dx(), bounds.Dy()), nil
}

// fillInput writes img into buf as planar RGB scaled to [0, 1].
func fillInput(img *image.NRGBA, buf []float32, width, height int) {
	channelSize := width * height
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := y*width + x
			buf[i] = float32(row[x*4]) / 255
			buf[channelSize+i] = float32(row[x*4+1]) / 255
			buf[channelSize*2+i] = float32(row[x*4+2]) / 255
		}
	}
}

// Close releases the session and its tensors. It is safe to call more than once.
func (n *network) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var err error
	if n.session != nil {
		err = multierr.Append(err, n.session.Destroy())
		n.session = nil
	}
	for _, t := range []**ort.Tensor[float32]{&n.input, &n.boxes, &n.scores} {
		if *t != nil {
			err = multierr.Append(err, (*t).Destroy())
			*t = nil
		}
	}
	return err
}
