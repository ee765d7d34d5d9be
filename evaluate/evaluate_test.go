package evaluate

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
	"github.com/loaychlih/Travel-the-Same-Path/policy"
)

// fakeEnv branches a fixed number of times on a two-column observation.
type fakeEnv struct {
	steps   int
	taken   []int
	rule    string
	closed  bool
	scorers int
}

func (f *fakeEnv) transition() env.Transition {
	if len(f.taken) >= f.steps {
		return env.Transition{Done: true, Reward: -1}
	}
	obs := &env.Observation{
		RowFeatures:    [][]float64{make([]float64, env.NumRowFeatures)},
		ColumnFeatures: [][]float64{make([]float64, env.NumColumnFeatures), make([]float64, env.NumColumnFeatures)},
		EdgeRows:       []int{0, 0},
		EdgeCols:       []int{0, 1},
		EdgeValues:     []float64{1, 1},
	}
	return env.Transition{Observation: obs, ActionSet: []int{1, 0}, Reward: -1, Scorer: f}
}

func (f *fakeEnv) Score(context.Context, string) ([]float64, error) {
	f.scorers++
	return []float64{0, 1}, nil
}

func (f *fakeEnv) Reset(context.Context, string) (env.Transition, error) {
	f.taken = nil
	return f.transition(), nil
}

func (f *fakeEnv) Step(_ context.Context, action int) (env.Transition, error) {
	f.taken = append(f.taken, action)
	return f.transition(), nil
}

func (f *fakeEnv) Stats() env.Stats {
	return env.Stats{Nodes: 2*len(f.taken) + 1, LPs: 3, SolveTime: 0.5, Gap: 0, Status: env.StatusOptimal}
}

func (f *fakeEnv) Close() { f.closed = true }

func TestInstances(t *testing.T) {
	cfg := l2b.DefaultConfig()
	cfg.Instances.Test = 2
	cfg.Instances.Transfer = 1
	got := Instances(cfg)
	require.Len(t, got, 5)
	assert.Equal(t, Instance{"tsp15", filepath.Join("data", "tsp15", "instances", "test", "instance_1.lp")}, got[0])
	assert.Equal(t, "transfer-7n", got[2].Type)
	assert.Equal(t, filepath.Join("data", "tsp15", "instances", "test_30n", "instance_1.lp"), got[4].Path)
}

func TestPaths(t *testing.T) {
	cfg := l2b.DefaultConfig()
	now := time.Date(2024, 3, 1, 12, 30, 5, 0, time.UTC)
	assert.Equal(t, filepath.Join("results", "15-on-15n_20240301-123005.csv"), ResultsPath(cfg, 15, now))
	assert.Equal(t, filepath.Join("model", "imitation", "15n", "train_params.json"), ModelPath(cfg, 0))
	assert.Equal(t, filepath.Join("model", "reinforce", "mixed-15n", "train_params.json"), ModelPath(cfg, -1))
}

func TestHarnessWritesOneRowPerSolve(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, policy.NewModel(4, 1).Save(filepath.Join(dir, "imitation.json")))
	cache := policy.NewCache(func(name string) string { return filepath.Join(dir, name+".json") })

	out, err := Create(filepath.Join(dir, "results", "0-on-15n.csv"))
	require.NoError(t, err)
	h, err := NewHarness(DefaultConfig(), cache, out)
	require.NoError(t, err)

	var made []*fakeEnv
	h.Branching = func(env.Config) env.Environment {
		f := &fakeEnv{steps: 2}
		made = append(made, f)
		return f
	}
	h.Configuring = func(c env.Config) (env.Environment, error) {
		f := &fakeEnv{steps: 0, rule: c.Rule}
		made = append(made, f)
		return f, nil
	}

	records, err := h.Run(context.Background(), []Instance{{"tsp15", "a.lp"}, {"transfer-7n", "b.lp"}})
	require.NoError(t, err)
	require.NoError(t, out.Close())
	require.Len(t, records, 4)
	assert.Equal(t, "internal:relpscost", records[0].Policy)
	assert.Equal(t, "gnn:imitation", records[1].Policy)
	assert.Equal(t, 5, records[1].Nodes)
	assert.Equal(t, "optimal", records[1].Status)
	assert.Equal(t, "transfer-7n", records[2].Type)
	assert.Equal(t, 1, cache.Len())

	require.Len(t, made, 4)
	assert.Equal(t, "relpscost", made[0].rule)
	for _, f := range made {
		assert.True(t, f.closed)
	}
	assert.Len(t, made[1].taken, 2)

	f, err := os.Open(out.Path())
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, Fields, rows[0])
	assert.Equal(t, []string{"gnn:imitation", "545", "tsp15", "a.lp", "5", "3", "0.5", "0", "optimal"}, rows[2][:9])
}

func TestHarnessRejectsUnknownPolicy(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policies = []string{"internal:vanilla"}
	_, err := NewHarness(cfg, policy.NewCache(func(string) string { return "" }), nil)
	assert.Error(t, err)

	cfg.Policies = []string{"gnn:imitation"}
	_, err = NewHarness(cfg, policy.NewCache(func(string) string { return filepath.Join(t.TempDir(), "none.json") }), nil)
	assert.Error(t, err)
}

func TestHarnessOnRealInstance(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instance_1.lp")
	m, err := generator.Seeded(5, 545)
	require.NoError(t, err)
	require.NoError(t, m.WriteFile(path))
	zero := policy.NewModel(4, 1)
	zero.Zero()
	require.NoError(t, zero.Save(filepath.Join(dir, "zero.json")))

	cfg := DefaultConfig()
	cfg.Env.TimeLimit = 60
	cfg.Policies = []string{"internal:first", "gnn:zero"}
	h, err := NewHarness(cfg, policy.NewCache(func(name string) string { return filepath.Join(dir, name+".json") }), nil)
	require.NoError(t, err)
	records, err := h.Run(context.Background(), []Instance{{"tsp5", path}})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, records[0].Nodes, records[1].Nodes)
	assert.Equal(t, "optimal", records[0].Status)
	assert.Equal(t, "optimal", records[1].Status)
	assert.GreaterOrEqual(t, records[1].ProcTime, 0.0)
}
