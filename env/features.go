package env

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

// Row features: bias, equality flag, dual value, slack, tightness.
const NumRowFeatures = 5

// Column features: objective, integrality, LP value, fractionality, at
// lower bound, at upper bound, reduced cost, fixed flag, pseudo cost score.
const NumColumnFeatures = 9

// observer holds the parts of an observation that do not change between
// nodes of one episode.
type observer struct {
	arrays   *lp.Arrays
	rowNorm  []float64
	objNorm  float64
	edgeRows []int
	edgeCols []int
	edgeVals []float64
}

func newObserver(a *lp.Arrays) *observer {
	o := &observer{arrays: a, rowNorm: make([]float64, a.NumRow)}
	o.objNorm = floats.Norm(a.ColCost, math.Inf(1))
	if o.objNorm == 0 {
		o.objNorm = 1
	}
	for i := 0; i < a.NumRow; i++ {
		idx, val := a.Row(i)
		norm := floats.Norm(val, 2)
		if norm == 0 {
			norm = 1
		}
		o.rowNorm[i] = norm
		for k := range idx {
			o.edgeRows = append(o.edgeRows, i)
			o.edgeCols = append(o.edgeCols, idx[k])
			o.edgeVals = append(o.edgeVals, val[k]/norm)
		}
	}
	return o
}

func (o *observer) observe(e *engine) *Observation {
	a := o.arrays
	sol := e.curLP.sol
	n := e.cur

	obs := &Observation{
		RowFeatures:    make([][]float64, a.NumRow),
		ColumnFeatures: make([][]float64, a.NumCol),
		EdgeRows:       o.edgeRows,
		EdgeCols:       o.edgeCols,
		EdgeValues:     o.edgeVals,
	}
	for i := 0; i < a.NumRow; i++ {
		norm := o.rowNorm[i]
		lo, up := a.RowLower[i], a.RowUpper[i]
		f := make([]float64, NumRowFeatures)
		switch {
		case !math.IsInf(up, 1):
			f[0] = up / norm
		case !math.IsInf(lo, -1):
			f[0] = -lo / norm
		}
		if lo == up {
			f[1] = 1
		}
		activity := valueAt(sol.RowValues, i)
		slack := math.Inf(1)
		if !math.IsInf(up, 1) {
			slack = up - activity
		}
		if !math.IsInf(lo, -1) {
			slack = math.Min(slack, activity-lo)
		}
		f[2] = valueAt(sol.RowDuals, i) / (norm * o.objNorm)
		if !math.IsInf(slack, 1) {
			f[3] = math.Max(slack, 0) / norm
		}
		if slack <= intTol {
			f[4] = 1
		}
		obs.RowFeatures[i] = f
	}

	for j := 0; j < a.NumCol; j++ {
		x := valueAt(sol.ColValues, j)
		f := make([]float64, NumColumnFeatures)
		f[0] = a.ColCost[j] / o.objNorm
		if e.integer[j] {
			f[1] = 1
			frac := x - math.Floor(x)
			f[3] = math.Min(frac, 1-frac)
			f[8] = e.pseudoScore(j, x, e.cfg.ScoreFactor) / o.objNorm
		}
		f[2] = x
		if x-n.lower[j] <= intTol {
			f[4] = 1
		}
		if n.upper[j]-x <= intTol {
			f[5] = 1
		}
		f[6] = valueAt(sol.ColDuals, j) / o.objNorm
		if n.lower[j] == n.upper[j] {
			f[7] = 1
		}
		obs.ColumnFeatures[j] = f
	}
	return obs
}

func valueAt(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}
