package imitation

import (
	"context"
	"io/ioutil"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loaychlih/Travel-the-Same-Path/collect"
	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/train"
)

// synthetic builds samples whose expert picks the candidate with the
// largest first column feature.
func synthetic(seed int64, count int) Memory {
	rng := rand.New(rand.NewSource(seed))
	var out Memory
	for s := 0; s < count; s++ {
		obs := &env.Observation{}
		for i := 0; i < 3; i++ {
			f := make([]float64, env.NumRowFeatures)
			for k := range f {
				f[k] = rng.Float64()
			}
			obs.RowFeatures = append(obs.RowFeatures, f)
		}
		for j := 0; j < 6; j++ {
			f := make([]float64, env.NumColumnFeatures)
			for k := range f {
				f[k] = rng.NormFloat64()
			}
			obs.ColumnFeatures = append(obs.ColumnFeatures, f)
			obs.EdgeRows = append(obs.EdgeRows, j%3)
			obs.EdgeCols = append(obs.EdgeCols, j)
			obs.EdgeValues = append(obs.EdgeValues, 1)
		}
		cands := []int{0, 1, 2, 3, 4, 5}
		scores := make([]float64, len(cands))
		for k, c := range cands {
			scores[k] = obs.ColumnFeatures[c][0]
		}
		out = append(out, &collect.Sample{
			Observation:  obs,
			ActionSet:    cands,
			ExpertScores: scores,
			Choice:       env.Argmax(scores),
		})
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxEpochs = 3
	cfg.BatchSize = 4
	cfg.ValidBatchSize = 8
	cfg.LR = 1e-2
	cfg.Hidden = 8
	return cfg
}

func TestRunWritesCheckpointsAndLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "imitation", "15n")
	tr, err := NewTrainer(testConfig(), dir)
	require.NoError(t, err)

	var states []State
	tr.OnState = func(epoch int, s State) {
		if epoch == 0 {
			states = append(states, s)
		}
	}
	best, err := tr.Run(context.Background(), synthetic(1, 40), synthetic(2, 12))
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	assert.Equal(t, []State{Warmup, Evaluate, Checkpoint}, states)
	assert.Equal(t, 12, best.Samples)
	for i := 1; i < len(best.Accuracy); i++ {
		assert.GreaterOrEqual(t, best.Accuracy[i], best.Accuracy[i-1])
	}
	assert.FileExists(t, filepath.Join(dir, "train_params_0.05p.json"))
	assert.FileExists(t, filepath.Join(dir, "train_params.json"))

	raw, err := ioutil.ReadFile(filepath.Join(dir, "train_log_0.05p.txt"))
	require.NoError(t, err)
	log := string(raw)
	assert.Contains(t, log, "PRETRAINED 4 LAYERS")
	assert.Contains(t, log, "EPOCH 3...")
	assert.Contains(t, log, "BEST VALID LOSS")
	for _, n := range tr.Model.Norms {
		assert.True(t, n.Ready)
	}
}

func TestNewTrainerClearsOldLog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "train_log_0.05p.txt")
	require.NoError(t, ioutil.WriteFile(path, []byte("old run\n"), 0644))
	tr, err := NewTrainer(testConfig(), dir)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "old run"))
}

func TestTrainingReducesLoss(t *testing.T) {
	cfg := testConfig()
	tr, err := NewTrainer(cfg, t.TempDir())
	require.NoError(t, err)
	defer tr.Close()
	ctx := context.Background()
	data := synthetic(3, 64)

	_, err = tr.Pretrain(ctx, data)
	require.NoError(t, err)
	before, err := tr.Process(ctx, data, false)
	require.NoError(t, err)
	for epoch := 0; epoch < 40; epoch++ {
		_, err = tr.Process(ctx, data, true)
		require.NoError(t, err)
	}
	after, err := tr.Process(ctx, data, false)
	require.NoError(t, err)
	assert.Less(t, after.Loss, before.Loss)
}

func TestNaNBatchesAreSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.ValidBatchSize = 1
	tr, err := NewTrainer(cfg, t.TempDir())
	require.NoError(t, err)
	defer tr.Close()

	params := tr.Model.Params()
	params[len(params)-1] = math.NaN()
	m, err := tr.Process(context.Background(), synthetic(4, 3), false)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Samples)
	assert.Equal(t, 0.0, m.Loss)

	// A training step on a NaN batch leaves the parameters alone.
	before := append([]float64(nil), params...)
	_, err = tr.Process(context.Background(), synthetic(4, 4), true)
	require.NoError(t, err)
	assert.Equal(t, before[:len(before)-1], params[:len(params)-1])
}

func TestPlateauDecaysLearningRate(t *testing.T) {
	cfg := testConfig()
	cfg.LR = 0
	tr, err := NewTrainer(cfg, t.TempDir())
	require.NoError(t, err)
	defer tr.Close()
	ctx := context.Background()
	data := synthetic(5, 8)

	var verdicts []train.Verdict
	for epoch := 0; epoch <= 11; epoch++ {
		v, err := tr.Epoch(ctx, epoch, data, data)
		require.NoError(t, err)
		verdicts = append(verdicts, v)
	}
	// With a zero learning rate the validation loss never moves.
	assert.Equal(t, train.Improved, verdicts[0])
	for epoch := 1; epoch <= 11; epoch++ {
		if epoch == 10 {
			assert.Equal(t, train.Decay, verdicts[epoch])
		} else {
			assert.Equal(t, train.Continue, verdicts[epoch], "epoch %d", epoch)
		}
	}
}

func TestOpenDir(t *testing.T) {
	dir := t.TempDir()
	for k, s := range synthetic(6, 3) {
		require.NoError(t, s.Write(collect.SamplePath(dir, k+1)))
	}
	files, err := OpenDir(dir)
	require.NoError(t, err)
	require.Equal(t, 3, files.Len())
	s, err := files.Get(2)
	require.NoError(t, err)
	assert.Len(t, s.ActionSet, 6)

	_, err = OpenDir(filepath.Join(dir, "missing"))
	assert.NoError(t, err)
}
