package l2b

import (
	"flag"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"n": 20, "time_limit": 60, "instances": {"train": 5}}`), 0644))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Size)
	assert.Equal(t, 60.0, cfg.TimeLimit)
	assert.Equal(t, 5, cfg.Instances.Train)
	assert.Equal(t, 0, cfg.Instances.Valid)
	assert.Equal(t, int64(545), cfg.Seed)
	assert.Equal(t, "data", cfg.DataRoot)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "none.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, mutate := range map[string]func(*ExperimentConfig){
		"size":          func(c *ExperimentConfig) { c.Size = 1 },
		"time limit":    func(c *ExperimentConfig) { c.TimeLimit = 0 },
		"negative":      func(c *ExperimentConfig) { c.Samples.Valid = -1 },
		"transfer size": func(c *ExperimentConfig) { c.TransferSizes = []int{1} },
		"record prob":   func(c *ExperimentConfig) { c.NodeRecordProb = 1.5 },
	} {
		cfg := DefaultConfig()
		mutate(&cfg)
		assert.Error(t, cfg.Validate(), name)
	}
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	cfg.Size = -1
	assert.NoError(t, cfg.Validate())
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, filepath.Join("data", "tsp15", "instances", "train", "instance_3.lp"), cfg.InstancePath("train", 3))
	assert.Equal(t, filepath.Join("data", "tsp15", "samples", "valid"), cfg.SampleDir("valid"))
	assert.Equal(t, "test_30n", TransferSplit(30))
	assert.Equal(t, filepath.Join("model", "imitation", "mixed"), cfg.ImitationDir(-1))
	assert.Equal(t, filepath.Join("model", "reinforce", "15-20n"), cfg.ReinforceDir(15, 20))
	assert.Equal(t, filepath.Join("model", "reinforce", "mixed-15n"), cfg.ReinforceDir(-1, 15))
	assert.Equal(t, []int{7, 10, 30}, TransferSizesFor(15))
	assert.Nil(t, TransferSizesFor(8))
}

func TestGetEdgeIndex(t *testing.T) {
	N := 5
	seen := make(map[int]bool)
	next := 0
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			idx := GetEdgeIndex(i, j, N, 3)
			assert.Equal(t, 3+next, idx, "(%d,%d)", i, j)
			assert.Equal(t, idx, GetEdgeIndex(j, i, N, 3))
			seen[idx] = true
			next++
		}
	}
	assert.Len(t, seen, N*(N-1)/2)
}

func TestGetSECs(t *testing.T) {
	ind, val, rhs := GetSECs([][]int{{0, 1, 2}, {3, 4}}, 5, 0)
	require.Len(t, ind, 2)
	assert.Equal(t, []int{0, 1, 4}, ind[0])
	assert.Equal(t, []float64{1, 1, 1}, val[0])
	assert.Equal(t, []int{GetEdgeIndex(3, 4, 5, 0)}, ind[1])
	assert.Equal(t, []float64{2, 1}, rhs)
}

func TestCalcEdgeDist(t *testing.T) {
	coords := [][]float64{{0, 0}, {3, 4}, {1.5, 0}}
	d := CalcEdgeDist(coords, EUC_2D)
	assert.Equal(t, 5.0, d[0][1])
	assert.Equal(t, 5.0, d[1][0])
	assert.Equal(t, 0.0, d[2][2])
	assert.Equal(t, 1.5, d[0][2])
	assert.Equal(t, 2.0, CalcEdgeDist(coords, CEIL_2D)[0][2])
}

func TestInstanceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance_1.json")
	inst := &Instance{
		Name:            "instance_1",
		Type:            INSTANCE_TSP,
		Dimension:       3,
		EdgeWeightType:  EUC_2D,
		Seed:            545,
		Index:           1,
		NodeCoordinates: [][]float64{{0, 0}, {3, 4}, {-1.25, 10}},
		Solution:        &Solution{Cost: 12, Optimal: true, Tour: []int{0, 2, 1}},
	}
	require.NoError(t, WriteInstance(path, inst))
	raw, err := ioutil.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[3,4]")
	assert.Contains(t, string(raw), "[-1.25,10]")

	got, err := ReadInstance(path)
	require.NoError(t, err)
	assert.Equal(t, inst, got)
}

func TestArrayFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var sizes ArrayIntFlags
	var names ArrayStringFlags
	fs.Var(&sizes, "size", "")
	fs.Var(&names, "policy", "")
	require.NoError(t, fs.Parse([]string{"-size", "7,10", "-size", "30", "-policy", "internal:first", "-policy", "gnn:imitation"}))
	assert.Equal(t, ArrayIntFlags{7, 10, 30}, sizes)
	assert.Equal(t, ArrayStringFlags{"internal:first", "gnn:imitation"}, names)
	assert.Error(t, sizes.Set("x"))
}
