package collect

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/env"
)

// Sample is one branching decision of the expert.
type Sample struct {
	Instance     string           `json:"instance"`
	Observation  *env.Observation `json:"observation"`
	ActionSet    []int            `json:"action_set"`
	ExpertScores []float64        `json:"expert_scores"`
	Choice       int              `json:"choice"` // index into ActionSet
}

func SamplePath(dir string, k int) string {
	return filepath.Join(dir, fmt.Sprintf("sample_%d.json.gz", k))
}

// Write stores s gzip-compressed at path.
func (s *Sample) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "collect: create %s", path)
	}
	zw := gzip.NewWriter(f)
	if err = json.NewEncoder(zw).Encode(s); err != nil {
		f.Close()
		return errors.Wrapf(err, "collect: encode %s", path)
	}
	if err = zw.Close(); err != nil {
		f.Close()
		return errors.Wrapf(err, "collect: compress %s", path)
	}
	return errors.Wrapf(f.Close(), "collect: close %s", path)
}

func ReadSample(path string) (*Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "collect: open %s", path)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "collect: decompress %s", path)
	}
	defer zr.Close()
	s := &Sample{}
	if err = json.NewDecoder(zr).Decode(s); err != nil {
		return nil, errors.Wrapf(err, "collect: decode %s", path)
	}
	if s.Observation == nil || len(s.ActionSet) == 0 || len(s.ExpertScores) != len(s.ActionSet) ||
		s.Choice < 0 || s.Choice >= len(s.ActionSet) {
		return nil, errors.Errorf("collect: %s is not a valid sample", path)
	}
	return s, nil
}

// List returns the sample files of dir ordered by their index.
func List(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "sample_*.json.gz"))
	if err != nil {
		return nil, errors.Wrapf(err, "collect: list %s", dir)
	}
	index := make(map[string]int, len(files))
	for _, f := range files {
		var k int
		if _, err := fmt.Sscanf(filepath.Base(f), "sample_%d.json.gz", &k); err != nil {
			return nil, errors.Errorf("collect: unexpected sample name %s", f)
		}
		index[f] = k
	}
	sort.Slice(files, func(a, b int) bool { return index[files[a]] < index[files[b]] })
	return files, nil
}
