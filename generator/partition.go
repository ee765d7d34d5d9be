package generator

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
)

var ErrSplitExists = errors.New("generator: split directory already exists")

// Split is one directory of instances of a single size.
type Split struct {
	Name  string
	Count int
	Size  int
}

// Partition writes every split below root as <root>/<name>/instance_<i>.lp
// (i from 1) with a JSON sidecar each. All directories are checked and
// created before the first instance is drawn; an existing one aborts the
// run with ErrSplitExists. Instances come from rng in split order, so one
// seeded stream reproduces the whole dataset.
func Partition(root string, splits []Split, rng *rand.Rand, seed int64) error {
	for _, s := range splits {
		if s.Size < 2 {
			return errors.Wrapf(ErrTooFewCities, "split %s has size %d", s.Name, s.Size)
		}
		dir := filepath.Join(root, s.Name)
		if _, err := os.Stat(dir); err == nil {
			return errors.Wrapf(ErrSplitExists, "%s", dir)
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "checking %s", dir)
		}
	}
	for _, s := range splits {
		dir := filepath.Join(root, s.Name)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
		glog.Infof("%d instances in %s", s.Count, dir)
	}

	for _, s := range splits {
		dir := filepath.Join(root, s.Name)
		for i := 1; i <= s.Count; i++ {
			path := filepath.Join(dir, fmt.Sprintf("instance_%d.lp", i))
			if _, err := writeInstance(path, s.Size, rng, seed, i); err != nil {
				return err
			}
		}
	}
	glog.Info("done.")
	return nil
}

// Splits lists the splits of an experiment in generation order: test,
// train, valid, then one transfer test split per transfer size.
func Splits(cfg l2b.ExperimentConfig) []Split {
	splits := []Split{
		{Name: "test", Count: cfg.Instances.Test, Size: cfg.Size},
		{Name: "train", Count: cfg.Instances.Train, Size: cfg.Size},
		{Name: "valid", Count: cfg.Instances.Valid, Size: cfg.Size},
	}
	for _, m := range cfg.TransferSizes {
		splits = append(splits, Split{Name: l2b.TransferSplit(m), Count: cfg.Instances.Transfer, Size: m})
	}
	return splits
}
