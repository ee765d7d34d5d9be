// Package reinforce improves branching from experience: a policy gradient
// trainer for learned scorers, and a Bayesian tuner for the score factor
// of the internal rules.
package reinforce

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/policy"
	"github.com/loaychlih/Travel-the-Same-Path/train"
)

type Config struct {
	Episodes     int
	LR           float64
	EvalEvery    int // episodes between validation passes
	BaselineRate float64
	Patience     int
	DecayFactor  float64
	Seed         int64
	Env          env.Config
}

func DefaultConfig() Config {
	return Config{
		Episodes:     1000,
		LR:           1e-3,
		EvalEvery:    50,
		BaselineRate: 0.1,
		Patience:     10,
		DecayFactor:  0.2,
		Seed:         545,
		Env:          env.DefaultConfig(),
	}
}

// Episode summarises one branching run.
type Episode struct {
	Instance     string
	Steps        int
	Return       float64
	LPIterations int
	Nodes        int
	Status       env.Status
}

type step struct {
	trace  *policy.Trace
	probs  []float64
	action int // index into the candidate set
	reward float64
}

// Trainer runs REINFORCE on the branching environment.
type Trainer struct {
	cfg      Config
	dir      string
	Model    *policy.Model
	opt      *train.Adam
	sched    *train.Plateau
	log      *train.Logger
	rng      *rand.Rand
	grad     []float64
	baseline float64
	episodes int
}

// NewTrainer trains m in place and keeps its run log and checkpoint in dir.
func NewTrainer(cfg Config, m *policy.Model, dir string) (*Trainer, error) {
	lg, err := train.NewLogger(filepath.Join(dir, "train_log.txt"))
	if err != nil {
		return nil, err
	}
	return &Trainer{
		cfg:   cfg,
		dir:   dir,
		Model: m,
		opt:   train.NewAdam(cfg.LR, m.NumParams()),
		sched: train.NewPlateau(cfg.Patience, cfg.DecayFactor),
		log:   lg,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		grad:  make([]float64, m.NumParams()),
	}, nil
}

func (t *Trainer) CheckpointPath() string { return filepath.Join(t.dir, "train_params.json") }

func (t *Trainer) Close() error { return t.log.Close() }

// Returns is the reward to go of every step.
func Returns(rewards []float64) []float64 {
	g := make([]float64, len(rewards))
	acc := 0.0
	for i := len(rewards) - 1; i >= 0; i-- {
		acc += rewards[i]
		g[i] = acc
	}
	return g
}

// rollout runs one episode. Greedy episodes take the best-scored column,
// others sample from the softmax of the scores.
func (t *Trainer) rollout(ctx context.Context, path string, greedy bool) (Episode, []step, error) {
	cfg := t.cfg.Env
	cfg.Seed = t.cfg.Seed + int64(t.episodes)
	b := env.NewBranching(cfg)
	defer b.Close()

	ep := Episode{Instance: path}
	tr, err := b.Reset(ctx, path)
	if err != nil {
		return ep, nil, err
	}
	var steps []step
	pending := tr.Reward
	for !tr.Done {
		trace := t.Model.Forward(tr.Observation, tr.ActionSet)
		probs := train.Softmax(trace.Logits)
		k := env.Argmax(trace.Logits)
		if !greedy {
			k = sample(t.rng, probs)
		}
		if tr, err = b.Step(ctx, tr.ActionSet[k]); err != nil {
			return ep, nil, err
		}
		// The cost of reaching the first decision is not attributed to it.
		steps = append(steps, step{trace: trace, probs: probs, action: k, reward: tr.Reward})
		ep.Return += tr.Reward
	}
	st := b.Stats()
	ep.Return += pending
	ep.Steps = len(steps)
	ep.LPIterations, ep.Nodes, ep.Status = st.LPIterations, st.Nodes, st.Status
	return ep, steps, nil
}

func sample(rng *rand.Rand, probs []float64) int {
	u := rng.Float64()
	for i, p := range probs {
		u -= p
		if u < 0 {
			return i
		}
	}
	return len(probs) - 1
}

// Train runs one sampled episode on path and takes one Adam step on
// -sum_t (G_t - b) log pi(a_t|s_t).
func (t *Trainer) Train(ctx context.Context, path string) (Episode, error) {
	ep, steps, err := t.rollout(ctx, path, false)
	t.episodes++
	if err != nil || len(steps) == 0 {
		return ep, err
	}
	rewards := make([]float64, len(steps))
	for i, s := range steps {
		rewards[i] = s.reward
	}
	g := Returns(rewards)
	scale := 1 / float64(len(steps))
	for i, s := range steps {
		adv := (g[i] - t.baseline) * scale
		d := make([]float64, len(s.probs))
		floats.AddScaled(d, adv, s.probs)
		d[s.action] -= adv
		t.Model.Backward(s.trace, d, t.grad)
	}
	t.baseline += t.cfg.BaselineRate * (stat.Mean(g, nil) - t.baseline)
	for _, v := range t.grad {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			for i := range t.grad {
				t.grad[i] = 0
			}
			return ep, nil
		}
	}
	t.opt.Step(t.Model.Params(), t.grad)
	return ep, nil
}

// Validate runs greedy episodes and returns their mean LP iteration count.
func (t *Trainer) Validate(ctx context.Context, instances []string) (float64, error) {
	iters := make([]float64, 0, len(instances))
	for _, path := range instances {
		ep, _, err := t.rollout(ctx, path, true)
		if err != nil {
			return 0, err
		}
		iters = append(iters, float64(ep.LPIterations))
	}
	if len(iters) == 0 {
		return math.Inf(1), nil
	}
	return stat.Mean(iters, nil), nil
}

// Run trains on instances drawn uniformly from trainSet and checkpoints
// the model whenever the validation loss improves.
func (t *Trainer) Run(ctx context.Context, trainSet, validSet []string) (float64, error) {
	if len(trainSet) == 0 || len(validSet) == 0 {
		return 0, errors.New("reinforce: empty training or validation set")
	}
	t.log.Printf("episodes: %d", t.cfg.Episodes)
	t.log.Printf("lr: %g", t.cfg.LR)
	t.log.Printf("seed %d", t.cfg.Seed)
	if err := t.evaluate(ctx, validSet); err != nil {
		return 0, err
	}
	for i := 1; i <= t.cfg.Episodes; i++ {
		if err := ctx.Err(); err != nil {
			return t.sched.Best(), err
		}
		ep, err := t.Train(ctx, trainSet[t.rng.Intn(len(trainSet))])
		if err != nil {
			return t.sched.Best(), err
		}
		t.log.Printf("EPISODE %d: %d steps, return %g, %d nodes, %s", i, ep.Steps, ep.Return, ep.Nodes, ep.Status)
		if t.cfg.EvalEvery > 0 && i%t.cfg.EvalEvery == 0 {
			if err = t.evaluate(ctx, validSet); err != nil {
				return t.sched.Best(), err
			}
		}
	}
	if err := t.Model.LoadInto(t.CheckpointPath()); err != nil {
		return t.sched.Best(), err
	}
	t.log.Printf("BEST VALID LOSS: %0.3f", t.sched.Best())
	return t.sched.Best(), nil
}

func (t *Trainer) evaluate(ctx context.Context, validSet []string) error {
	loss, err := t.Validate(ctx, validSet)
	if err != nil {
		return err
	}
	t.log.Printf("VALID LOSS: %0.3f", loss)
	switch t.sched.Step(loss) {
	case train.Improved:
		if err = t.Model.Save(t.CheckpointPath()); err != nil {
			return err
		}
		t.log.Printf("  best model so far")
	case train.Decay:
		t.opt.LR *= t.cfg.DecayFactor
		t.log.Printf("  %d evaluations without improvement, decreasing learning rate to %g", t.sched.BadEpochs(), t.opt.LR)
	}
	return nil
}
