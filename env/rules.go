package env

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// Rules are the internal branching rules a Scorer understands. "highs" is
// handled by the Configuring environment only.
var Rules = []string{"first", "mostinf", "pscost", "relpscost", "strong"}

// infeasibleGain stands in for the gain of a child whose LP is infeasible.
const infeasibleGain = 1e6

// pseudoCosts keeps, per column and direction, the average objective gain
// per unit of bound change.
type pseudoCosts struct {
	sum   [2][]float64
	count [2][]int
	total [2]float64
	n     [2]int
}

func newPseudoCosts(cols int) *pseudoCosts {
	pc := &pseudoCosts{}
	for d := 0; d < 2; d++ {
		pc.sum[d] = make([]float64, cols)
		pc.count[d] = make([]int, cols)
	}
	return pc
}

func dir(up bool) int {
	if up {
		return 1
	}
	return 0
}

func (pc *pseudoCosts) update(col int, up bool, gain, delta float64) {
	if delta <= 0 || math.IsNaN(gain) || math.IsInf(gain, 0) {
		return
	}
	unit := math.Max(gain, 0) / delta
	d := dir(up)
	pc.sum[d][col] += unit
	pc.count[d][col]++
	pc.total[d] += unit
	pc.n[d]++
}

// value is the column average, the global average for columns never
// branched on, and 1 before any observation.
func (pc *pseudoCosts) value(col int, up bool) float64 {
	d := dir(up)
	if pc.count[d][col] > 0 {
		return pc.sum[d][col] / float64(pc.count[d][col])
	}
	if pc.n[d] > 0 {
		return pc.total[d] / float64(pc.n[d])
	}
	return 1
}

func (pc *pseudoCosts) reliable(col, threshold int) bool {
	return pc.count[0][col] >= threshold && pc.count[1][col] >= threshold
}

// ScoreGains combines the two child gains: (1-mu)*min + mu*max.
func ScoreGains(down, up, mu float64) float64 {
	lo, hi := math.Min(down, up), math.Max(down, up)
	return (1-mu)*lo + mu*hi
}

type scorer struct {
	e *engine
}

func (s *scorer) Score(ctx context.Context, rule string) ([]float64, error) {
	e := s.e
	if e.done || e.cur == nil {
		return nil, ErrDone
	}
	if len(e.cands) == 0 {
		return nil, ErrNoCandidates
	}
	x := e.curLP.sol.ColValues
	scores := make([]float64, len(e.cands))
	mu := e.cfg.ScoreFactor

	switch rule {
	case "first":
		for k := range scores {
			scores[k] = -float64(k)
		}
	case "mostinf":
		for k, col := range e.cands {
			f := x[col] - math.Floor(x[col])
			scores[k] = math.Min(f, 1-f)
		}
	case "pscost":
		for k, col := range e.cands {
			scores[k] = e.pseudoScore(col, x[col], mu)
		}
	case "strong":
		for k, col := range e.cands {
			score, err := e.strongScore(ctx, col, x[col], mu)
			if err != nil {
				return nil, err
			}
			scores[k] = score
		}
	case "relpscost":
		for k, col := range e.cands {
			if e.pseudo.reliable(col, e.cfg.Reliability) {
				scores[k] = e.pseudoScore(col, x[col], mu)
				continue
			}
			score, err := e.strongScore(ctx, col, x[col], mu)
			if err != nil {
				return nil, err
			}
			scores[k] = score
		}
	default:
		return nil, errors.Wrapf(ErrUnknownRule, "%q", rule)
	}
	return scores, nil
}

func (e *engine) pseudoScore(col int, v, mu float64) float64 {
	f := v - math.Floor(v)
	return ScoreGains(f*e.pseudo.value(col, false), (1-f)*e.pseudo.value(col, true), mu)
}

// strongScore solves both children of col and records their gains as
// pseudo cost observations.
func (e *engine) strongScore(ctx context.Context, col int, v, mu float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n := e.cur
	lower := append([]float64(nil), n.lower...)
	upper := append([]float64(nil), n.upper...)
	lo, up := math.Floor(v), math.Ceil(v)

	var gains [2]float64
	for d, bound := range [2]float64{lo, up} {
		l, u := n.lower[col], n.upper[col]
		if d == 0 {
			upper[col] = bound
		} else {
			lower[col] = bound
		}
		res, err := e.solveLP(lower, upper)
		lower[col], upper[col] = l, u
		if err != nil {
			return 0, err
		}
		switch {
		case res.feasible:
			gains[d] = math.Max(res.obj-e.curLP.obj, 0)
			delta := v - lo
			if d == 1 {
				delta = up - v
			}
			e.pseudo.update(col, d == 1, gains[d], delta)
		case res.limit:
			gains[d] = 0
		default:
			gains[d] = infeasibleGain
		}
	}
	return ScoreGains(gains[0], gains[1], mu), nil
}
