package env

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

var cities = [][]float64{{10, 10}, {80, 15}, {55, 70}, {20, 60}, {90, 90}}

func tspModel(t *testing.T) *lp.Model {
	m, err := generator.Build("TSP", cities)
	require.NoError(t, err)
	return m
}

// bruteForce returns the length of the shortest closed tour through coords.
func bruteForce(coords [][]float64) float64 {
	dist := l2b.CalcEdgeDist(coords, l2b.EUC_2D)
	n := len(coords)
	best := math.Inf(1)
	perm := make([]int, 0, n)
	used := make([]bool, n)
	var rec func(last int, length float64)
	rec = func(last int, length float64) {
		if len(perm) == n-1 {
			best = math.Min(best, length+dist[last][0])
			return
		}
		for c := 1; c < n; c++ {
			if used[c] {
				continue
			}
			used[c] = true
			perm = append(perm, c)
			rec(c, length+dist[last][c])
			perm = perm[:len(perm)-1]
			used[c] = false
		}
	}
	rec(0, 0)
	return best
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TimeLimit = 60
	cfg.Seed = 545
	return cfg
}

func TestGap(t *testing.T) {
	for _, tc := range []struct {
		primal, dual, want float64
	}{
		{10, 10, 0},
		{10, 8, 0.25},
		{-8, -10, 0.25},
		{10, -2, math.Inf(1)},
		{10, 0, math.Inf(1)},
		{math.Inf(1), 3, math.Inf(1)},
	} {
		assert.Equal(t, tc.want, Gap(tc.primal, tc.dual), "%v/%v", tc.primal, tc.dual)
	}
}

func TestArgmaxPrefersFirst(t *testing.T) {
	assert.Equal(t, 1, Argmax([]float64{0, 3, 3, 1}))
	assert.Equal(t, 0, Argmax([]float64{2}))
	assert.Equal(t, -1, Argmax(nil))
}

func TestScoreGains(t *testing.T) {
	assert.InDelta(t, 2.0, ScoreGains(2, 8, 0), 1e-12)
	assert.InDelta(t, 8.0, ScoreGains(8, 2, 1), 1e-12)
	assert.InDelta(t, 3.0, ScoreGains(2, 8, 1.0/6), 1e-12)
}

func TestPseudoCostFallbacks(t *testing.T) {
	pc := newPseudoCosts(3)
	assert.Equal(t, 1.0, pc.value(0, true))
	pc.update(1, true, 4, 0.5)
	pc.update(1, true, -1, 0.5)
	assert.InDelta(t, 4.0, pc.value(1, true), 1e-12)
	assert.InDelta(t, 4.0, pc.value(2, true), 1e-12, "global average for unseen columns")
	assert.Equal(t, 1.0, pc.value(1, false))
	assert.False(t, pc.reliable(1, 1))
}

func TestBranchingReachesOptimum(t *testing.T) {
	ctx := context.Background()
	b := NewBranching(testConfig())
	defer b.Close()

	tr, err := b.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	reward := tr.Reward
	steps := 0
	for !tr.Done {
		require.NotEmpty(t, tr.ActionSet)
		require.NotNil(t, tr.Observation)
		tr, err = b.Step(ctx, tr.ActionSet[0])
		require.NoError(t, err)
		reward += tr.Reward
		steps++
	}
	st := b.Stats()
	assert.Equal(t, StatusOptimal, st.Status)
	assert.InDelta(t, bruteForce(cities), st.Primal, 1e-6)
	assert.Equal(t, 0.0, st.Gap)
	assert.Equal(t, -float64(st.LPIterations), reward)
	assert.GreaterOrEqual(t, st.Nodes, steps+1)

	x := b.Solution()
	require.NotNil(t, x)
	arcs := 0
	for j := 0; j < 20; j++ {
		if x[j] > 0.5 {
			arcs++
		}
	}
	assert.Equal(t, 5, arcs)
}

func TestObservationShape(t *testing.T) {
	ctx := context.Background()
	b := NewBranching(testConfig())
	defer b.Close()

	m := tspModel(t)
	tr, err := b.ResetModel(ctx, m)
	require.NoError(t, err)
	if tr.Done {
		t.Skip("root LP already integral")
	}
	obs := tr.Observation
	lin, err := m.Linearize()
	require.NoError(t, err)

	require.Len(t, obs.ColumnFeatures, len(m.Vars))
	require.Len(t, obs.RowFeatures, len(lin.Constrs))
	for _, f := range obs.ColumnFeatures {
		assert.Len(t, f, NumColumnFeatures)
	}
	for _, f := range obs.RowFeatures {
		assert.Len(t, f, NumRowFeatures)
	}
	assert.Equal(t, len(obs.EdgeRows), obs.NumEdges())
	assert.Equal(t, len(obs.EdgeCols), obs.NumEdges())
	for _, col := range tr.ActionSet {
		assert.Equal(t, 1.0, obs.ColumnFeatures[col][1], "candidates are integer columns")
		assert.Greater(t, obs.ColumnFeatures[col][3], 0.0, "candidates are fractional")
	}
}

func TestStepErrors(t *testing.T) {
	ctx := context.Background()
	b := NewBranching(testConfig())
	defer b.Close()

	_, err := b.Step(ctx, 0)
	assert.Equal(t, ErrNotReset, errors.Cause(err))

	tr, err := b.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	if tr.Done {
		t.Skip("root LP already integral")
	}
	d, _ := tspModel(t).VarIndex("d_1")
	_, err = b.Step(ctx, d)
	assert.Equal(t, ErrInvalidAction, errors.Cause(err))

	_, err = tr.Scorer.Score(ctx, "nosuchrule")
	assert.Equal(t, ErrUnknownRule, errors.Cause(err))
}

func TestConfiguringRulesAgree(t *testing.T) {
	ctx := context.Background()
	want := bruteForce(cities)
	for _, rule := range append(append([]string(nil), Rules...), RuleHiGHS) {
		t.Run(rule, func(t *testing.T) {
			cfg := testConfig()
			cfg.Rule = rule
			c, err := NewConfiguring(cfg)
			require.NoError(t, err)
			defer c.Close()

			_, err = c.ResetModel(ctx, tspModel(t))
			require.NoError(t, err)
			tr, err := c.Step(ctx, 0)
			require.NoError(t, err)
			assert.True(t, tr.Done)
			st := c.Stats()
			assert.Equal(t, StatusOptimal, st.Status)
			assert.InDelta(t, want, st.Primal, 1e-5)
			assert.LessOrEqual(t, tr.Reward, 0.0)

			_, err = c.Step(ctx, 0)
			assert.Equal(t, ErrDone, errors.Cause(err))
		})
	}
}

func TestConstantPolicyMatchesFirstRule(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Rule = "first"
	c, err := NewConfiguring(cfg)
	require.NoError(t, err)
	_, err = c.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	_, err = c.Step(ctx, 0)
	require.NoError(t, err)

	b := NewBranching(cfg)
	defer b.Close()
	tr, err := b.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	for !tr.Done {
		tr, err = b.Step(ctx, tr.ActionSet[0])
		require.NoError(t, err)
	}
	assert.Equal(t, c.Stats().Nodes, b.Stats().Nodes)
	assert.Equal(t, c.Stats().LPIterations, b.Stats().LPIterations)
}

func TestUnknownConfiguringRule(t *testing.T) {
	cfg := testConfig()
	cfg.Rule = "vanilla"
	_, err := NewConfiguring(cfg)
	assert.Equal(t, ErrUnknownRule, errors.Cause(err))
}

func TestCancelledContextInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBranching(testConfig())
	defer b.Close()
	tr, err := b.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	assert.True(t, tr.Done)
	assert.Equal(t, StatusUserInterrupt, b.Stats().Status)
}

func TestNodeLimit(t *testing.T) {
	cfg := testConfig()
	cfg.NodeLimit = 1
	b := NewBranching(cfg)
	defer b.Close()
	ctx := context.Background()
	tr, err := b.ResetModel(ctx, tspModel(t))
	require.NoError(t, err)
	for !tr.Done {
		tr, err = b.Step(ctx, tr.ActionSet[0])
		require.NoError(t, err)
	}
	st := b.Stats()
	if st.Status != StatusOptimal {
		assert.Equal(t, StatusNodeLimit, st.Status)
		assert.Equal(t, 1, st.Nodes)
	}
}

func TestResetFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance_1.lp")
	require.NoError(t, tspModel(t).WriteFile(path))

	cfg := testConfig()
	cfg.Rule = "pscost"
	c, err := NewConfiguring(cfg)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Reset(context.Background(), path)
	require.NoError(t, err)
	_, err = c.Step(context.Background(), 0)
	require.NoError(t, err)
	assert.InDelta(t, bruteForce(cities), c.Stats().Primal, 1e-5)
	assert.Greater(t, c.Stats().Nodes, 0)
}
