package generator

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

func lpText(t *testing.T, m *lp.Model) string {
	var buf bytes.Buffer
	require.NoError(t, m.Write(&buf))
	return buf.String()
}

func TestGenerateIsDeterministic(t *testing.T) {
	a, err := Seeded(8, 545)
	require.NoError(t, err)
	b, err := Seeded(8, 545)
	require.NoError(t, err)
	c, err := Seeded(8, 546)
	require.NoError(t, err)

	assert.Equal(t, lpText(t, a), lpText(t, b))
	assert.NotEqual(t, lpText(t, a), lpText(t, c))
}

func TestGenerateCounts(t *testing.T) {
	m, err := Seeded(5, 545)
	require.NoError(t, err)

	assert.Equal(t, 20, m.CountVars(lp.Binary))
	assert.Equal(t, 5, m.CountVars(lp.Continuous))
	assert.Len(t, m.Constrs, 10)
	assert.Len(t, m.Indicators, 16)

	for c := 0; c < 5; c++ {
		out, ok := m.Constr(fmt.Sprintf("out_%d", c))
		require.True(t, ok)
		in, ok := m.Constr(fmt.Sprintf("in_%d", c))
		require.True(t, ok)
		assert.Len(t, out.Terms, 4)
		assert.Len(t, in.Terms, 4)
		assert.Equal(t, lp.Equal, out.Sense)
		assert.Equal(t, 1.0, in.RHS)
	}
}

func TestNoOrderingIntoDepot(t *testing.T) {
	m, err := Seeded(6, 1)
	require.NoError(t, err)
	for _, ind := range m.Indicators {
		name := m.Vars[ind.Binary].Name
		assert.False(t, strings.HasSuffix(name, "_0"), "indicator %s on arc %s", ind.Name, name)
		assert.Equal(t, 1, ind.Value)
		assert.Equal(t, lp.Equal, ind.Constr.Sense)
		assert.Equal(t, -1.0, ind.Constr.RHS)
	}
	assert.Len(t, m.Indicators, 6*5-5)
}

func TestObjectiveIsEuclidean(t *testing.T) {
	coords := [][]float64{{0, 0}, {3, 4}, {6, 8}}
	m, err := Build("tri", coords)
	require.NoError(t, err)

	col, ok := m.VarIndex(ArcName(0, 1))
	require.True(t, ok)
	for _, term := range m.Objective {
		if term.Var == col {
			assert.InDelta(t, 5.0, term.Coef, 1e-12)
		}
	}
	d, ok := m.VarIndex(PositionName(2))
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Vars[d].Lower)
	assert.Equal(t, 2.0, m.Vars[d].Upper)
}

func TestCoordinatesDrawXThenY(t *testing.T) {
	coords := Coordinates(3, rand.New(rand.NewSource(7)))
	rng := rand.New(rand.NewSource(7))
	var draws []float64
	for i := 0; i < 6; i++ {
		draws = append(draws, rng.Float64()*Scale)
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, draws[i], coords[i][0])
		assert.Equal(t, draws[3+i], coords[i][1])
		assert.True(t, coords[i][0] >= 0 && coords[i][0] < Scale)
	}
}

func TestTooFewCities(t *testing.T) {
	_, err := Seeded(1, 545)
	assert.Equal(t, ErrTooFewCities, errors.Cause(err))
	_, err = Build("empty", nil)
	assert.Equal(t, ErrTooFewCities, errors.Cause(err))
}

func TestWriteInstanceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instance_1.lp")
	inst, err := WriteInstance(path, 6, rand.New(rand.NewSource(545)))
	require.NoError(t, err)

	m, err := lp.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 30, m.CountVars(lp.Binary))
	assert.Len(t, m.Indicators, 25)

	side, err := l2b.ReadInstance(SidecarPath(path))
	require.NoError(t, err)
	assert.Equal(t, "instance_1", side.Name)
	assert.Equal(t, 6, side.Dimension)
	assert.Equal(t, inst.NodeCoordinates, side.NodeCoordinates)
}

func TestPartition(t *testing.T) {
	root := t.TempDir()
	splits := []Split{
		{Name: "test", Count: 2, Size: 4},
		{Name: "train", Count: 3, Size: 4},
		{Name: "test_3n", Count: 1, Size: 3},
	}
	require.NoError(t, Partition(root, splits, rand.New(rand.NewSource(545)), 545))

	for _, s := range splits {
		for i := 1; i <= s.Count; i++ {
			assert.FileExists(t, filepath.Join(root, s.Name, fmt.Sprintf("instance_%d.lp", i)))
			assert.FileExists(t, filepath.Join(root, s.Name, fmt.Sprintf("instance_%d.json", i)))
		}
	}
	inst, err := l2b.ReadInstance(filepath.Join(root, "train", "instance_3.json"))
	require.NoError(t, err)
	assert.Equal(t, int64(545), inst.Seed)
	assert.Equal(t, 3, inst.Index)

	// Same seed, same stream: the first train instance follows the two test ones.
	rng := rand.New(rand.NewSource(545))
	Coordinates(4, rng)
	Coordinates(4, rng)
	want := Coordinates(4, rng)
	first, err := l2b.ReadInstance(filepath.Join(root, "train", "instance_1.json"))
	require.NoError(t, err)
	assert.Equal(t, want, first.NodeCoordinates)
}

func TestPartitionRefusesExistingSplit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "valid"), 0755))
	splits := []Split{
		{Name: "train", Count: 1, Size: 4},
		{Name: "valid", Count: 1, Size: 4},
	}
	err := Partition(root, splits, rand.New(rand.NewSource(1)), 1)
	assert.Equal(t, ErrSplitExists, errors.Cause(err))
	assert.NoDirExists(t, filepath.Join(root, "train"))
}

func TestSplitsOrder(t *testing.T) {
	cfg := l2b.DefaultConfig()
	splits := Splits(cfg)
	require.Len(t, splits, 6)
	assert.Equal(t, []string{"test", "train", "valid", "test_7n", "test_10n", "test_30n"},
		[]string{splits[0].Name, splits[1].Name, splits[2].Name, splits[3].Name, splits[4].Name, splits[5].Name})
	assert.Equal(t, 100, splits[3].Count)
	assert.Equal(t, 30, splits[5].Size)
}
