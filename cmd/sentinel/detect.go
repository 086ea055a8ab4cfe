package main

import (
	"context"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/oliverbravery/3D-Print-Sentinel/components/camera/fake"
	"github.com/oliverbravery/3D-Print-Sentinel/config"
	"github.com/oliverbravery/3D-Print-Sentinel/logging"
	"github.com/oliverbravery/3D-Print-Sentinel/ml/inference"
	"github.com/oliverbravery/3D-Print-Sentinel/vision/objectdetection"
)

// maxParallelDetections bounds how many images are decoded and run at once.
const maxParallelDetections = 4

type imageDetections struct {
	path       string
	detections []objectdetection.Detection
}

func detectAction(c *cli.Context) error {
	logger, closeLogger := newLogger(c)
	defer closeLogger()

	cfg, err := config.Read(c.Context, c.String(configFlag), logger)
	if err != nil {
		return err
	}
	net, err := loadNetwork(c.Context, cfg, logger)
	if err != nil {
		var loadErr *inference.LoadError
		if errors.As(err, &loadErr) {
			fmt.Fprint(c.App.ErrWriter, loadErr.PrettyPrint())
		}
		return err
	}
	results, err := detectImages(c.Context, net, cfg, c.StringSlice(imageFlag), logger)
	err = multierr.Combine(err, net.Close(c.Context))
	if err != nil {
		return err
	}
	return printDetections(c.App.Writer, results)
}

// detectImages runs the configured pipeline over each image file. Results keep the order of
// paths.
func detectImages(
	ctx context.Context,
	net *inference.LoadedNet,
	cfg *config.Config,
	paths []string,
	logger logging.Logger,
) ([]imageDetections, error) {
	detector, err := buildDetector(net, cfg)
	if err != nil {
		return nil, err
	}
	results := make([]imageDetections, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDetections)
	for i, path := range paths {
		g.Go(func() error {
			cam, err := fake.NewFileCamera(path, logger)
			if err != nil {
				return err
			}
			frame, err := cam.CaptureFrame(ctx)
			if err != nil {
				return errors.Wrapf(err, "cannot read %s", path)
			}
			dets, err := detector(ctx, frame)
			if err != nil {
				return errors.Wrapf(err, "detection failed on %s", path)
			}
			results[i] = imageDetections{path: path, detections: dets}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func printDetections(w io.Writer, results []imageDetections) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Image", "#", "Label", "Score", "Box"})
	total := 0
	for _, r := range results {
		if len(r.detections) == 0 {
			t.AppendRow(table.Row{r.path, "-", "", "", ""})
			continue
		}
		for i, d := range r.detections {
			t.AppendRow(table.Row{r.path, i, d.Label(), fmt.Sprintf("%.2f", d.Score()), d.Box().String()})
		}
		total += len(r.detections)
	}
	t.AppendFooter(table.Row{"", "", "", "Total", total})
	_, err := fmt.Fprintln(w, t.Render())
	return err
}
