package inference

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/oliverbravery/3D-Print-Sentinel/logging"
)

// FallbackLabel names every class when the label metadata cannot be read.
const FallbackLabel = "failure"

var namesLine = regexp.MustCompile(`(?im)names *= *(.*)$`)

// DefaultMetaPath is the label metadata descriptor shipped next to the default weights.
var DefaultMetaPath = filepath.Join(DefaultModelDir, "model.meta")

// ReadLabels parses a metadata descriptor containing a `names = <path>` line and returns the
// labels listed one per line in the names file. A relative names path is looked up in the
// working directory first and then next to the descriptor.
func ReadLabels(metaPath string) ([]string, error) {
	//nolint:gosec
	contents, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading label metadata")
	}
	match := namesLine.FindSubmatch(contents)
	if match == nil {
		return nil, errors.Errorf("no names entry in %s", metaPath)
	}
	namesPath := strings.TrimSpace(string(match[1]))
	if namesPath == "" {
		return nil, errors.Errorf("empty names entry in %s", metaPath)
	}
	if _, err := os.Stat(namesPath); err != nil && !filepath.IsAbs(namesPath) {
		namesPath = filepath.Join(filepath.Dir(metaPath), namesPath)
	}

	//nolint:gosec
	f, err := os.Open(namesPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening label names")
	}
	defer func() {
		//nolint:errcheck,gosec
		f.Close()
	}()

	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		labels = append(labels, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading label names")
	}
	blank := func(l string) bool { return l == "" }
	labels = lo.DropWhile(lo.DropRightWhile(labels, blank), blank)
	if len(labels) == 0 {
		return nil, errors.Errorf("no labels in %s", namesPath)
	}
	return labels, nil
}

// ResolveLabels reads the labels from metaPath, substituting a single FallbackLabel on any
// failure. A missing label file never prevents a network from being used.
func ResolveLabels(metaPath string, logger logging.Logger) []string {
	labels, err := ReadLabels(metaPath)
	if err != nil {
		logger.Warnw("could not resolve labels, using fallback", "meta", metaPath, "fallback", FallbackLabel, "error", err)
		return []string{FallbackLabel}
	}
	return labels
}
