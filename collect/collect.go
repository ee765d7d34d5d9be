// Package collect records expert branching decisions as training samples
// for imitation learning.
package collect

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
)

var ErrNoDecisions = errors.New("collect: no instance needs a branching decision")

// Expert is the rule whose decisions are recorded.
const Expert = "strong"

type Config struct {
	RecordProb float64
	Seed       int64
	Env        env.Config
}

func DefaultConfig() Config {
	return Config{RecordProb: 0.05, Seed: 545, Env: env.DefaultConfig()}
}

type Collector struct {
	cfg Config
	rng *rand.Rand
}

func New(cfg Config) *Collector {
	return &Collector{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// Collect runs episodes on instances, in an order shuffled once and then
// repeated, until quota samples are written to dir. dir must not exist.
func (c *Collector) Collect(ctx context.Context, instances []string, dir string, quota int) (int, error) {
	if _, err := os.Stat(dir); err == nil {
		return 0, errors.Wrapf(generator.ErrSplitExists, "%s", dir)
	} else if !os.IsNotExist(err) {
		return 0, errors.Wrapf(err, "collect: check %s", dir)
	}
	if quota > 0 && len(instances) == 0 {
		return 0, errors.Errorf("collect: no instances for %s", dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.Wrapf(err, "collect: create %s", dir)
	}
	glog.Infof("%d samples to collect in %s", quota, dir)

	order := c.rng.Perm(len(instances))
	written := 0
	for round := 0; written < quota; round++ {
		decisions := 0
		for _, i := range order {
			if written >= quota {
				break
			}
			if err := ctx.Err(); err != nil {
				return written, err
			}
			cfg := c.cfg.Env
			cfg.Seed = c.cfg.Seed + int64(round*len(instances)+i)
			n, d, err := c.episode(ctx, cfg, instances[i], dir, written, quota)
			if err != nil {
				return written, err
			}
			written += n
			decisions += d
		}
		if decisions == 0 {
			return written, ErrNoDecisions
		}
	}
	glog.Infof("done: %d samples in %s", written, dir)
	return written, nil
}

// episode follows the expert on one instance and records a share of its
// decisions, numbering files after offset.
func (c *Collector) episode(ctx context.Context, cfg env.Config, path, dir string, offset, quota int) (written, decisions int, err error) {
	b := env.NewBranching(cfg)
	defer b.Close()
	t, err := b.Reset(ctx, path)
	if err != nil {
		return 0, 0, err
	}
	for !t.Done && offset+written < quota {
		scores, err := t.Scorer.Score(ctx, Expert)
		if err != nil {
			if ctx.Err() != nil {
				return written, decisions, ctx.Err()
			}
			return written, decisions, err
		}
		choice := env.Argmax(scores)
		decisions++
		if c.rng.Float64() < c.cfg.RecordProb {
			s := &Sample{
				Instance:     path,
				Observation:  t.Observation,
				ActionSet:    t.ActionSet,
				ExpertScores: scores,
				Choice:       choice,
			}
			if err = s.Write(SamplePath(dir, offset+written+1)); err != nil {
				return written, decisions, err
			}
			written++
			glog.V(1).Infof("sample %d from %s", offset+written, filepath.Base(path))
		}
		if t, err = b.Step(ctx, t.ActionSet[choice]); err != nil {
			return written, decisions, err
		}
	}
	return written, decisions, nil
}

// Instances lists the LP files of one instance split.
func Instances(cfg l2b.ExperimentConfig, split string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(cfg.InstanceDir(split), "instance_*.lp"))
	if err != nil {
		return nil, errors.Wrapf(err, "collect: list %s", split)
	}
	return files, nil
}

// Run collects the train, valid and test sample splits of an experiment.
func Run(ctx context.Context, ecfg l2b.ExperimentConfig, cfg Config) error {
	for _, s := range []struct {
		name  string
		quota int
	}{
		{"train", ecfg.Samples.Train},
		{"valid", ecfg.Samples.Valid},
		{"test", ecfg.Samples.Test},
	} {
		files, err := Instances(ecfg, s.name)
		if err != nil {
			return err
		}
		if _, err = New(cfg).Collect(ctx, files, ecfg.SampleDir(s.name), s.quota); err != nil {
			return errors.Wrapf(err, "collect: split %s", s.name)
		}
	}
	return nil
}
