package reinforce

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/train"
)

// Objective evaluates a knob value; lower is better.
type Objective func(ctx context.Context, x float64) (float64, error)

type TunerConfig struct {
	Iterations  int
	InitPoints  int // random draws before the surrogate is used
	Grid        int // acquisition is maximised over Grid+1 evenly spaced points
	Lower       float64
	Upper       float64
	Xi          float64 // improvement margin, in standard deviations of the observations
	LengthScale float64
	Noise       float64
	Patience    int
	DecayFactor float64
	Seed        int64
}

func DefaultTunerConfig() TunerConfig {
	return TunerConfig{
		Iterations:  50,
		InitPoints:  5,
		Grid:        200,
		Lower:       0,
		Upper:       1,
		Xi:          0.01,
		LengthScale: 0.2,
		Noise:       1e-6,
		Patience:    10,
		DecayFactor: 0.2,
		Seed:        545,
	}
}

// Tuner searches a scalar knob with a GP surrogate and probability of
// improvement. A plateau in the best observation shrinks the exploration
// margin xi.
type Tuner struct {
	cfg   TunerConfig
	gp    *GP
	rng   *rand.Rand
	sched *train.Plateau
	xi    float64
	xs    []float64
	ys    []float64
	best  int
}

func NewTuner(cfg TunerConfig) *Tuner {
	return &Tuner{
		cfg:   cfg,
		gp:    NewGP(cfg.LengthScale, cfg.Noise),
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		sched: train.NewPlateau(cfg.Patience, cfg.DecayFactor),
		xi:    cfg.Xi,
		best:  -1,
	}
}

// Next proposes the next knob value.
func (t *Tuner) Next() float64 {
	lo, hi := t.cfg.Lower, t.cfg.Upper
	if len(t.xs) < t.cfg.InitPoints || t.gp.Fit(t.xs, t.ys) != nil {
		return lo + t.rng.Float64()*(hi-lo)
	}
	bestY := t.ys[t.best]
	arg, top := lo, math.Inf(-1)
	for i := 0; i <= t.cfg.Grid; i++ {
		x := lo + (hi-lo)*float64(i)/float64(t.cfg.Grid)
		mu, sigma := t.gp.Predict(x)
		if pi := ProbabilityOfImprovement(mu, sigma, bestY, t.xi*t.gp.std); pi > top {
			arg, top = x, pi
		}
	}
	return arg
}

// Observe records y = f(x) and reports the scheduler's verdict.
func (t *Tuner) Observe(x, y float64) train.Verdict {
	t.xs = append(t.xs, x)
	t.ys = append(t.ys, y)
	v := t.sched.Step(y)
	switch v {
	case train.Improved:
		t.best = len(t.ys) - 1
	case train.Decay:
		t.xi *= t.cfg.DecayFactor
	}
	return v
}

// Best returns the best knob value and its observation.
func (t *Tuner) Best() (x, y float64, ok bool) {
	if t.best < 0 {
		return 0, 0, false
	}
	return t.xs[t.best], t.ys[t.best], true
}

func (t *Tuner) Xi() float64 { return t.xi }

// Result is the checkpoint of a tuning run.
type Result struct {
	ScoreFactor  float64 `json:"score_factor"`
	LPIterations float64 `json:"lp_iterations"`
	Iterations   int     `json:"iterations"`
}

// Run tunes f for cfg.Iterations rounds and checkpoints every improvement
// to path.
func (t *Tuner) Run(ctx context.Context, f Objective, path string, log *train.Logger) (Result, error) {
	for i := 1; i <= t.cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return t.result(i - 1), err
		}
		x := t.Next()
		y, err := f(ctx, x)
		if err != nil {
			return t.result(i - 1), err
		}
		v := t.Observe(x, y)
		log.Printf("ITERATION %d: score factor %0.4f, %g LP iterations (%s)", i, x, y, v)
		switch v {
		case train.Improved:
			if err = SaveResult(path, t.result(i)); err != nil {
				return t.result(i), err
			}
			log.Printf("  best score factor so far")
		case train.Decay:
			log.Printf("  %d iterations without improvement, exploration margin now %g", t.sched.BadEpochs(), t.xi)
		}
	}
	return t.result(t.cfg.Iterations), nil
}

func (t *Tuner) result(iterations int) Result {
	x, y, _ := t.Best()
	return Result{ScoreFactor: x, LPIterations: y, Iterations: iterations}
}

func SaveResult(path string, r Result) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "reinforce: create %s", filepath.Dir(path))
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "reinforce: encode result")
	}
	return errors.Wrapf(ioutil.WriteFile(path, raw, 0644), "reinforce: write %s", path)
}

func LoadResult(path string) (Result, error) {
	var r Result
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return r, errors.Wrapf(err, "reinforce: read %s", path)
	}
	return r, errors.Wrapf(json.Unmarshal(raw, &r), "reinforce: parse %s", path)
}

// EnvObjective solves one instance per call, cycling through instances,
// with the configuring environment and the score factor set to x. The
// value is the number of LP iterations, the negated reward.
func EnvObjective(cfg env.Config, instances []string) Objective {
	next := 0
	return func(ctx context.Context, x float64) (float64, error) {
		if len(instances) == 0 {
			return 0, errors.New("reinforce: no tuning instances")
		}
		path := instances[next%len(instances)]
		next++
		c := cfg
		c.ScoreFactor = x
		e, err := env.NewConfiguring(c)
		if err != nil {
			return 0, err
		}
		defer e.Close()
		if _, err = e.Reset(ctx, path); err != nil {
			return 0, err
		}
		tr, err := e.Step(ctx, 0)
		if err != nil {
			return 0, err
		}
		glog.V(1).Infof("%s with score factor %0.4f: %s, %d nodes", filepath.Base(path), x, e.Stats().Status, e.Stats().Nodes)
		return -tr.Reward, nil
	}
}
