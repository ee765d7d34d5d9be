// Package imitation trains a policy to reproduce recorded expert
// branching decisions.
package imitation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/policy"
	"github.com/loaychlih/Travel-the-Same-Path/train"
)

type Config struct {
	MaxEpochs      int
	BatchSize      int
	ValidBatchSize int
	LR             float64
	EntropyBonus   float64
	TopK           []int
	Patience       int
	DecayFactor    float64
	Hidden         int
	Seed           int64
	RecordProb     float64 // names the run log and checkpoint
}

func DefaultConfig() Config {
	return Config{
		MaxEpochs:      1000,
		BatchSize:      32,
		ValidBatchSize: 128,
		LR:             1e-3,
		TopK:           []int{1, 3, 5, 10},
		Patience:       10,
		DecayFactor:    0.2,
		Hidden:         policy.DefaultHidden,
		Seed:           545,
		RecordProb:     0.05,
	}
}

// State is the phase an epoch goes through.
type State int

const (
	Warmup State = iota
	Train
	Evaluate
	Checkpoint
	Decay
	Continue
)

var stateNames = [...]string{"warmup", "train", "evaluate", "checkpoint", "decay", "continue"}

func (s State) String() string { return stateNames[s] }

// Metrics are averaged over the samples of the processed batches.
type Metrics struct {
	Loss     float64
	Accuracy []float64
	Entropy  float64
	Samples  int
}

func (m Metrics) format(topK []int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%0.3f ", m.Loss)
	for i, k := range topK {
		fmt.Fprintf(&b, " acc@%d: %0.3f", k, m.Accuracy[i])
	}
	return b.String()
}

// Trainer runs imitation epochs. Epoch 0 initialises the pre-norm layers,
// later epochs run Adam over minibatches; every epoch ends with a
// validation pass that drives checkpointing and learning rate decay.
type Trainer struct {
	cfg   Config
	dir   string
	Model *policy.Model
	opt   *train.Adam
	sched *train.Plateau
	log   *train.Logger
	rng   *rand.Rand
	grad  []float64

	// OnState, if set, sees every state the trainer enters.
	OnState func(epoch int, s State)
}

// NewTrainer starts a run in dir, replacing any previous run log.
func NewTrainer(cfg Config, dir string) (*Trainer, error) {
	if cfg.BatchSize <= 0 || cfg.ValidBatchSize <= 0 {
		return nil, errors.Errorf("imitation: batch sizes %d and %d", cfg.BatchSize, cfg.ValidBatchSize)
	}
	lg, err := train.NewLogger(filepath.Join(dir, fmt.Sprintf("train_log_%gp.txt", cfg.RecordProb)))
	if err != nil {
		return nil, err
	}
	m := policy.NewModel(cfg.Hidden, cfg.Seed)
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

// CheckpointPath is where the best parameters of the run are saved.
func (t *Trainer) CheckpointPath() string {
	return filepath.Join(t.dir, fmt.Sprintf("train_params_%gp.json", t.cfg.RecordProb))
}

// LatestPath is the checkpoint other stages load.
func (t *Trainer) LatestPath() string { return filepath.Join(t.dir, "train_params.json") }

func (t *Trainer) enter(epoch int, s State) {
	if t.OnState != nil {
		t.OnState(epoch, s)
	}
}

func (t *Trainer) Close() error { return t.log.Close() }

// Pretrain passes over data until the model has no pre-norm layer left to
// initialise, and returns the number of layers initialised.
func (t *Trainer) Pretrain(ctx context.Context, data Dataset) (int, error) {
	t.Model.PreTrainInit()
	layers := 0
	for {
		for i := 0; i < data.Len(); i++ {
			if err := ctx.Err(); err != nil {
				return layers, err
			}
			s, err := data.Get(i)
			if err != nil {
				return layers, err
			}
			if !t.Model.PreTrain(s.Observation) {
				break
			}
		}
		if !t.Model.PreTrainNext() {
			return layers, nil
		}
		layers++
	}
}

// Process computes the metrics of data, in minibatches when training.
// Batches with a NaN cross-entropy are left out.
func (t *Trainer) Process(ctx context.Context, data Dataset, learn bool) (Metrics, error) {
	out := Metrics{Accuracy: make([]float64, len(t.cfg.TopK))}
	size := t.cfg.ValidBatchSize
	if learn {
		size = t.cfg.BatchSize
	}
	for start := 0; start < data.Len(); start += size {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		end := start + size
		if end > data.Len() {
			end = data.Len()
		}
		if err := t.batch(data, start, end, learn, &out); err != nil {
			return out, err
		}
	}
	if out.Samples > 0 {
		n := float64(out.Samples)
		out.Loss /= n
		out.Entropy /= n
		for i := range out.Accuracy {
			out.Accuracy[i] /= n
		}
	}
	return out, nil
}

func (t *Trainer) batch(data Dataset, start, end int, learn bool, out *Metrics) error {
	var ce, entropy float64
	acc := make([]float64, len(t.cfg.TopK))
	for i := start; i < end; i++ {
		s, err := data.Get(i)
		if err != nil {
			return err
		}
		trace := t.Model.Forward(s.Observation, s.ActionSet)
		_, sampleCE, dLogits := train.ImitationLoss(trace.Logits, s.Choice, t.cfg.EntropyBonus)
		ce += sampleCE
		entropy += train.Entropy(trace.Logits)
		for k, v := range train.TopKAccuracy(trace.Logits, s.ExpertScores, t.cfg.TopK) {
			acc[k] += v
		}
		if learn {
			t.Model.Backward(trace, dLogits, t.grad)
		}
	}
	if math.IsNaN(ce) {
		for i := range t.grad {
			t.grad[i] = 0
		}
		return nil
	}
	if learn {
		scale := 1 / float64(end-start)
		for i := range t.grad {
			t.grad[i] *= scale
		}
		t.opt.Step(t.Model.Params(), t.grad)
	}
	out.Loss += ce
	out.Entropy += entropy
	for k := range acc {
		out.Accuracy[k] += acc[k]
	}
	out.Samples += end - start
	return nil
}

// Epoch runs one epoch and returns the scheduler's verdict on it.
func (t *Trainer) Epoch(ctx context.Context, epoch int, trainData, validData Dataset) (train.Verdict, error) {
	t.log.Printf("EPOCH %d...", epoch)
	if epoch == 0 {
		t.enter(epoch, Warmup)
		n, err := t.Pretrain(ctx, every{trainData, 10})
		if err != nil {
			return train.Continue, err
		}
		t.log.Printf("PRETRAINED %d LAYERS", n)
	} else {
		t.enter(epoch, Train)
		m, err := t.Process(ctx, t.resample(trainData), true)
		if err != nil {
			return train.Continue, err
		}
		t.log.Printf("TRAIN LOSS: %s", m.format(t.cfg.TopK))
	}

	t.enter(epoch, Evaluate)
	valid, err := t.Process(ctx, validData, false)
	if err != nil {
		return train.Continue, err
	}
	t.log.Printf("VALID LOSS: %s", valid.format(t.cfg.TopK))

	v := t.sched.Step(valid.Loss)
	switch v {
	case train.Improved:
		t.enter(epoch, Checkpoint)
		if err = t.Model.Save(t.CheckpointPath()); err != nil {
			return v, err
		}
		if err = t.Model.Save(t.LatestPath()); err != nil {
			return v, err
		}
		t.log.Printf("  best model so far")
	case train.Decay:
		t.enter(epoch, Decay)
		t.opt.LR *= t.cfg.DecayFactor
		t.log.Printf("  %d epochs without improvement, decreasing learning rate to %g", t.sched.BadEpochs(), t.opt.LR)
	default:
		t.enter(epoch, Continue)
	}
	return v, nil
}

// resample draws floor(N/B)*B training samples with replacement.
func (t *Trainer) resample(data Dataset) Dataset {
	n := data.Len() / t.cfg.BatchSize * t.cfg.BatchSize
	idx := make([]int, n)
	for i := range idx {
		idx[i] = t.rng.Intn(data.Len())
	}
	t.rng.Shuffle(n, func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
	return pick{data, idx}
}

// Run trains for MaxEpochs epochs after the warmup, then reloads the best
// checkpoint and returns its validation metrics.
func (t *Trainer) Run(ctx context.Context, trainData, validData Dataset) (Metrics, error) {
	if trainData.Len() == 0 || validData.Len() == 0 {
		return Metrics{}, errors.New("imitation: empty training or validation set")
	}
	t.log.Printf("max_epochs: %d", t.cfg.MaxEpochs)
	t.log.Printf("batch_size: %d", t.cfg.BatchSize)
	t.log.Printf("lr: %g", t.cfg.LR)
	t.log.Printf("entropy bonus: %g", t.cfg.EntropyBonus)
	t.log.Printf("top_k: %v", t.cfg.TopK)
	t.log.Printf("seed %d", t.cfg.Seed)
	t.log.Printf("%d training samples, %d validation samples", trainData.Len(), validData.Len())

	for epoch := 0; epoch <= t.cfg.MaxEpochs; epoch++ {
		if _, err := t.Epoch(ctx, epoch, trainData, validData); err != nil {
			return Metrics{}, err
		}
	}

	if err := t.Model.LoadInto(t.CheckpointPath()); err != nil {
		return Metrics{}, err
	}
	best, err := t.Process(ctx, validData, false)
	if err != nil {
		return Metrics{}, err
	}
	t.log.Printf("BEST VALID LOSS: %s", best.format(t.cfg.TopK))
	return best, nil
}
