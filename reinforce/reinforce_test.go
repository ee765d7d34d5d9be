package reinforce

import (
	"context"
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
	"github.com/loaychlih/Travel-the-Same-Path/policy"
	"github.com/loaychlih/Travel-the-Same-Path/train"
)

func instances(t *testing.T, count, n int) []string {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(545))
	var files []string
	for i := 0; i < count; i++ {
		path := filepath.Join(dir, "instance_"+string(rune('1'+i))+".lp")
		_, err := generator.WriteInstance(path, n, rng)
		require.NoError(t, err)
		files = append(files, path)
	}
	return files
}

func TestReturns(t *testing.T) {
	assert.Equal(t, []float64{-6, -5, -3}, Returns([]float64{-1, -2, -3}))
	assert.Empty(t, Returns(nil))
}

func TestGPInterpolates(t *testing.T) {
	xs := []float64{0, 0.25, 0.5, 0.75, 1}
	ys := []float64{3, 1, 0.5, 2, 4}
	gp := NewGP(0.2, 1e-8)
	require.NoError(t, gp.Fit(xs, ys))
	for i, x := range xs {
		mu, sigma := gp.Predict(x)
		assert.InDelta(t, ys[i], mu, 1e-3, "x=%v", x)
		assert.Less(t, sigma, 1e-2)
	}
	_, far := gp.Predict(3)
	_, near := gp.Predict(0.5)
	assert.Greater(t, far, near)

	assert.Error(t, NewGP(0.2, 1e-8).Fit(nil, nil))
}

func TestProbabilityOfImprovement(t *testing.T) {
	for _, tc := range []struct{ mu, sigma, best, xi float64 }{
		{0, 1, 0, 0},
		{5, 0.1, 0, 0},
		{-5, 2, 0, 0.1},
		{1, 0, 2, 0},
		{3, 0, 2, 0},
	} {
		pi := ProbabilityOfImprovement(tc.mu, tc.sigma, tc.best, tc.xi)
		assert.GreaterOrEqual(t, pi, 0.0)
		assert.LessOrEqual(t, pi, 1.0)
	}
	assert.InDelta(t, 0.5, ProbabilityOfImprovement(0, 1, 0, 0), 1e-12)
	assert.Equal(t, 1.0, ProbabilityOfImprovement(1, 0, 2, 0))
	assert.Equal(t, 0.0, ProbabilityOfImprovement(3, 0, 2, 0))
}

func TestTunerFindsMinimum(t *testing.T) {
	cfg := DefaultTunerConfig()
	cfg.Iterations = 30
	tuner := NewTuner(cfg)
	f := func(_ context.Context, x float64) (float64, error) {
		return 100 + 50*(x-0.3)*(x-0.3), nil
	}
	lg, err := train.NewLogger("")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "score_factor.json")
	res, err := tuner.Run(context.Background(), f, path, lg)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.ScoreFactor, 0.1)
	assert.Equal(t, 30, res.Iterations)

	saved, err := LoadResult(path)
	require.NoError(t, err)
	assert.Equal(t, res.ScoreFactor, saved.ScoreFactor)
	assert.Equal(t, res.LPIterations, saved.LPIterations)
}

func TestTunerShrinksMarginOnPlateau(t *testing.T) {
	cfg := DefaultTunerConfig()
	tuner := NewTuner(cfg)
	assert.Equal(t, train.Improved, tuner.Observe(0.5, 10))
	for i := 0; i < 9; i++ {
		assert.Equal(t, train.Continue, tuner.Observe(0.5, 10))
	}
	assert.Equal(t, train.Decay, tuner.Observe(0.5, 10))
	assert.InDelta(t, cfg.Xi*cfg.DecayFactor, tuner.Xi(), 1e-15)
	x, y, ok := tuner.Best()
	assert.True(t, ok)
	assert.Equal(t, 0.5, x)
	assert.Equal(t, 10.0, y)
}

func TestEnvObjective(t *testing.T) {
	cfg := env.DefaultConfig()
	cfg.TimeLimit = 60
	cfg.Rule = "pscost"
	f := EnvObjective(cfg, instances(t, 1, 5))
	y, err := f(context.Background(), 0.5)
	require.NoError(t, err)
	assert.Greater(t, y, 0.0)

	_, err = EnvObjective(cfg, nil)(context.Background(), 0.5)
	assert.Error(t, err)
}

func TestPolicyGradientRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Episodes = 3
	cfg.EvalEvery = 2
	cfg.LR = 1e-2
	cfg.Env.TimeLimit = 60
	files := instances(t, 2, 6)
	dir := filepath.Join(t.TempDir(), "reinforce", "15-15n")

	m := policy.NewModel(8, 1)
	tr, err := NewTrainer(cfg, m, dir)
	require.NoError(t, err)
	defer tr.Close()

	best, err := tr.Run(context.Background(), files, files[:1])
	require.NoError(t, err)
	assert.False(t, math.IsInf(best, 0))
	assert.Greater(t, best, 0.0)
	assert.FileExists(t, tr.CheckpointPath())

	ep, err := tr.Train(context.Background(), files[0])
	require.NoError(t, err)
	assert.LessOrEqual(t, ep.Return, 0.0)
	assert.Equal(t, -float64(ep.LPIterations), ep.Return)
}

func TestPolicyGradientNeedsInstances(t *testing.T) {
	tr, err := NewTrainer(DefaultConfig(), policy.NewModel(4, 1), t.TempDir())
	require.NoError(t, err)
	defer tr.Close()
	_, err = tr.Run(context.Background(), nil, nil)
	assert.Error(t, err)
}
