// Package generator builds random Euclidean TSP instances as MILPs in the
// sequential (position variable) formulation and partitions them into
// dataset splits on disk.
package generator

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

// Coordinate range of every city on both axes: [0, Scale).
const Scale = 100.0

var ErrTooFewCities = errors.New("generator: a tour needs at least 2 cities")

// Coordinates draws n x-coordinates, then n y-coordinates, from rng.
func Coordinates(n int, rng *rand.Rand) [][]float64 {
	xs := make([]float64, n)
	for i := range xs {
		xs[i] = rng.Float64() * Scale
	}
	coords := make([][]float64, n)
	for i := range coords {
		coords[i] = []float64{xs[i], rng.Float64() * Scale}
	}
	return coords
}

// ArcName is the binary variable of the arc i -> j.
func ArcName(i, j int) string { return fmt.Sprintf("x_%d_%d", i, j) }

// PositionName is the continuous visiting position of city c.
func PositionName(c int) string { return fmt.Sprintf("d_%d", c) }

// Build formulates the TSP over coords:
//
//	min  sum dist(i,j) x_i_j
//	out_c: sum_j x_c_j = 1, in_c: sum_i x_i_c = 1
//	order_(i,_j): x_i_j = 1 -> d_i - d_j = -1   for every j != 0
//	0 <= d_c <= n-1
func Build(name string, coords [][]float64) (*lp.Model, error) {
	n := len(coords)
	if n < 2 {
		return nil, errors.Wrapf(ErrTooFewCities, "got %d", n)
	}
	dist := l2b.CalcEdgeDist(coords, l2b.EUC_2D)

	m := lp.NewModel(name)
	arcs := make([][]int, n)
	var obj []lp.Term
	for i := 0; i < n; i++ {
		arcs[i] = make([]int, n)
		for j := 0; j < n; j++ {
			arcs[i][j] = -1
			if i == j {
				continue
			}
			col, err := m.AddVar(ArcName(i, j), lp.Binary, 0, 1)
			if err != nil {
				return nil, err
			}
			arcs[i][j] = col
			obj = append(obj, lp.Term{Var: col, Coef: dist[i][j]})
		}
	}
	pos := make([]int, n)
	for c := 0; c < n; c++ {
		col, err := m.AddVar(PositionName(c), lp.Continuous, 0, float64(n-1))
		if err != nil {
			return nil, err
		}
		pos[c] = col
	}
	if err := m.SetObjective(obj, false); err != nil {
		return nil, err
	}

	for c := 0; c < n; c++ {
		var out, in []lp.Term
		for k := 0; k < n; k++ {
			if k == c {
				continue
			}
			out = append(out, lp.Term{Var: arcs[c][k], Coef: 1})
			in = append(in, lp.Term{Var: arcs[k][c], Coef: 1})
		}
		if err := m.AddConstr(fmt.Sprintf("out_%d", c), out, lp.Equal, 1); err != nil {
			return nil, err
		}
		if err := m.AddConstr(fmt.Sprintf("in_%d", c), in, lp.Equal, 1); err != nil {
			return nil, err
		}
	}

	for i := 0; i < n; i++ {
		for j := 1; j < n; j++ {
			if i == j {
				continue
			}
			terms := []lp.Term{{Var: pos[i], Coef: 1}, {Var: pos[j], Coef: -1}}
			if err := m.AddIndicator(fmt.Sprintf("order_(%d,_%d)", i, j), arcs[i][j], 1, terms, lp.Equal, -1); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

// Generate draws a fresh n-city instance from rng.
func Generate(n int, rng *rand.Rand) (*lp.Model, error) {
	if n < 2 {
		return nil, errors.Wrapf(ErrTooFewCities, "got %d", n)
	}
	return Build("TSP", Coordinates(n, rng))
}

// Seeded is Generate with a private source seeded with seed.
func Seeded(n int, seed int64) (*lp.Model, error) {
	return Generate(n, rand.New(rand.NewSource(seed)))
}

// WriteInstance draws an instance from rng and stores it as path (LP)
// plus the JSON sidecar with the same base name and a .json extension.
func WriteInstance(path string, n int, rng *rand.Rand) (*l2b.Instance, error) {
	return writeInstance(path, n, rng, 0, 0)
}

func writeInstance(path string, n int, rng *rand.Rand, seed int64, index int) (*l2b.Instance, error) {
	if n < 2 {
		return nil, errors.Wrapf(ErrTooFewCities, "got %d", n)
	}
	coords := Coordinates(n, rng)
	m, err := Build("TSP", coords)
	if err != nil {
		return nil, err
	}
	if err = m.WriteFile(path); err != nil {
		return nil, err
	}
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	inst := &l2b.Instance{
		Name:            base,
		Comment:         fmt.Sprintf("Random euclidean TSP with %d cities in [0,%g)^2", n, Scale),
		Type:            l2b.INSTANCE_TSP,
		Dimension:       n,
		EdgeWeightType:  l2b.EUC_2D,
		Seed:            seed,
		Index:           index,
		NodeCoordinates: coords,
	}
	if err = l2b.WriteInstance(SidecarPath(path), inst); err != nil {
		return nil, err
	}
	glog.V(1).Infof("generated %s (%d cities)", path, n)
	return inst, nil
}

// SidecarPath maps an instance LP path to its JSON sidecar.
func SidecarPath(lpPath string) string {
	return strings.TrimSuffix(lpPath, filepath.Ext(lpPath)) + ".json"
}
