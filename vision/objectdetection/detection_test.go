package objectdetection

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

type fakeNetwork struct {
	raw    []RawDetection
	err    error
	params DecodeParams
	labels []string
	calls  int
}

func (f *fakeNetwork) Decode(_ context.Context, _ image.Image, labels []string, params DecodeParams) ([]RawDetection, error) {
	f.calls++
	f.params = params
	f.labels = labels
	return f.raw, f.err
}

func TestDetect(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 64, 48))
	params := DecodeParams{Threshold: 0.25, HierThreshold: 0.5, NMSThreshold: 0.4}

	t.Run("maps every triple", func(t *testing.T) {
		net := &fakeNetwork{raw: []RawDetection{
			{Label: "failure", Confidence: 0.9, Coords: [4]float64{10, 10, 4, 4}},
			{Label: "failure", Confidence: 0.3, Coords: [4]float64{30, 20, 8, 2}},
		}}
		dets, err := Detect(context.Background(), net, []string{"failure"}, frame, params)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dets, test.ShouldHaveLength, 2)
		test.That(t, dets[0].Label(), test.ShouldEqual, "failure")
		test.That(t, dets[0].Score(), test.ShouldEqual, 0.9)
		test.That(t, dets[0].Box(), test.ShouldResemble, NewBox(10, 10, 4, 4))
		test.That(t, dets[1].Box(), test.ShouldResemble, NewBox(30, 20, 8, 2))

		test.That(t, net.params, test.ShouldResemble, params)
		test.That(t, net.labels, test.ShouldResemble, []string{"failure"})
	})

	t.Run("no detections", func(t *testing.T) {
		dets, err := Detect(context.Background(), &fakeNetwork{}, nil, frame, params)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, dets, test.ShouldBeEmpty)
	})

	t.Run("network error", func(t *testing.T) {
		_, err := Detect(context.Background(), &fakeNetwork{err: errors.New("session closed")}, nil, frame, params)
		test.That(t, err, test.ShouldBeError, errors.New("session closed"))
	})

	t.Run("nil frame", func(t *testing.T) {
		net := &fakeNetwork{}
		_, err := Detect(context.Background(), net, nil, nil, params)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, net.calls, test.ShouldEqual, 0)
	})

	t.Run("empty frame", func(t *testing.T) {
		net := &fakeNetwork{}
		_, err := Detect(context.Background(), net, nil, image.NewNRGBA(image.Rect(0, 0, 0, 0)), params)
		test.That(t, errors.Is(err, ErrEmptyFrame), test.ShouldBeTrue)
		_, err = Detect(context.Background(), net, nil, image.NewNRGBA(image.Rect(5, 5, 5, 9)), params)
		test.That(t, errors.Is(err, ErrEmptyFrame), test.ShouldBeTrue)
		test.That(t, net.calls, test.ShouldEqual, 0)
	})
}

func TestBuildFunc(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 400))
	ctx := context.Background()

	_, err := Build(nil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "must have a Detector")

	// detector that creates an error
	det := func(context.Context, image.Image) ([]Detection, error) {
		return nil, errors.New("detector error")
	}
	pipeline, err := Build(det)
	test.That(t, err, test.ShouldBeNil)
	_, err = pipeline(ctx, img)
	test.That(t, err.Error(), test.ShouldEqual, "detector error")

	// make simple detector
	det = NewDetector(&fakeNetwork{raw: []RawDetection{
		{Label: "failure", Confidence: 0.8, Coords: [4]float64{5, 5, 10, 10}},
		{Label: "spaghetti", Confidence: 0.6, Coords: [4]float64{50, 50, 2, 2}},
		{Label: "failure", Confidence: 0.2, Coords: [4]float64{80, 80, 20, 20}},
	}}, []string{"failure", "spaghetti"}, DecodeParams{})
	pipeline, err = Build(det)
	test.That(t, err, test.ShouldBeNil)
	res, err := pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 3)

	pipeline, err = Build(det, NewScoreFilter(0.5))
	test.That(t, err, test.ShouldBeNil)
	res, err = pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 2)

	pipeline, err = Build(det, NewScoreFilter(0.5), NewAreaFilter(50))
	test.That(t, err, test.ShouldBeNil)
	res, err = pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 1)
	test.That(t, res[0].Score(), test.ShouldEqual, 0.8)

	pipeline, err = Build(det, NewLabelFilter([]string{"spaghetti"}))
	test.That(t, err, test.ShouldBeNil)
	res, err = pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 1)
	test.That(t, res[0].Label(), test.ShouldEqual, "spaghetti")

	pipeline, err = Build(det, NewLabelFilter(nil))
	test.That(t, err, test.ShouldBeNil)
	res, err = pipeline(ctx, img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res, test.ShouldHaveLength, 3)
}
