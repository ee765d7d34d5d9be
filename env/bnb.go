package env

import (
	"container/heap"
	"context"
	"math"
	"time"

	"github.com/bartolsthoorn/gohighs/highs"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

const (
	intTol   = 1e-6
	boundTol = 1e-9
)

type node struct {
	id     int
	depth  int
	lower  []float64
	upper  []float64
	bound  float64
	parent float64 // LP objective of the parent, NaN at the root

	branchCol int
	up        bool
	delta     float64 // distance the branched value was pushed
}

// nodeQueue is a best-bound-first heap; ties go to the older node.
type nodeQueue []*node

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].bound != q[j].bound {
		return q[i].bound < q[j].bound
	}
	return q[i].id < q[j].id
}
func (q nodeQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x interface{}) { *q = append(*q, x.(*node)) }
func (q *nodeQueue) Pop() interface{} {
	old := *q
	n := old[len(old)-1]
	*q = old[:len(old)-1]
	return n
}

type lpResult struct {
	feasible bool
	limit    bool
	obj      float64
	sol      *highs.Solution
	iters    int
}

// engine is a best-first branch and bound over LP relaxations solved with
// one warm HiGHS instance. Objectives are kept in minimisation form.
type engine struct {
	cfg     Config
	arrays  *lp.Arrays
	solver  *highs.Solver
	sign    float64
	integer []bool

	loadedLower, loadedUpper []float64

	open    nodeQueue
	nextID  int
	cur     *node
	curLP   lpResult
	cands   []int
	pseudo  *pseudoCosts
	obs     *observer
	start   time.Time
	stopped time.Time
	pending int // LP iterations spent since the last transition

	incumbent float64
	best      []float64
	stats     Stats
	done      bool
}

func newEngine(cfg Config, m *lp.Model) (*engine, error) {
	arrays, err := m.Compile()
	if err != nil {
		return nil, err
	}
	e := &engine{
		cfg:       cfg,
		arrays:    arrays,
		sign:      1,
		integer:   make([]bool, arrays.NumCol),
		incumbent: math.Inf(1),
		pseudo:    newPseudoCosts(arrays.NumCol),
		start:     time.Now(),
	}
	for j, t := range arrays.Integrality {
		e.integer[j] = t != highs.Continuous
	}
	if arrays.Maximize {
		// Work on min -c.x.
		e.sign = -1
		cost := make([]float64, len(arrays.ColCost))
		for j, c := range arrays.ColCost {
			cost[j] = -c
		}
		cp := *arrays
		cp.ColCost, cp.Maximize = cost, false
		e.arrays = &cp
	}
	e.obs = newObserver(e.arrays)

	if e.solver, err = highs.NewSolver(); err != nil {
		return nil, errors.Wrap(err, "env: create HiGHS solver")
	}
	seed := cfg.Seed % math.MaxInt32
	if seed < 0 {
		seed = -seed
	}
	for _, opt := range []func() error{
		func() error { return e.solver.SetBoolOption("output_flag", false) },
		func() error { return e.solver.SetStringOption("presolve", "off") },
		func() error { return e.solver.SetIntOption("random_seed", int(seed)) },
	} {
		if err = opt(); err != nil {
			e.close()
			return nil, errors.Wrap(err, "env: configure HiGHS")
		}
	}
	if err = e.arrays.Pass(e.solver, true); err != nil {
		e.close()
		return nil, err
	}
	e.loadedLower = append([]float64(nil), e.arrays.ColLower...)
	e.loadedUpper = append([]float64(nil), e.arrays.ColUpper...)

	e.push(&node{
		lower:     append([]float64(nil), e.arrays.ColLower...),
		upper:     append([]float64(nil), e.arrays.ColUpper...),
		bound:     math.Inf(-1),
		parent:    math.NaN(),
		branchCol: -1,
	})
	e.stats.Status = StatusUnknown
	e.stats.Primal, e.stats.Dual = math.Inf(1), math.Inf(-1)
	return e, nil
}

func (e *engine) close() {
	if e.solver != nil {
		e.solver.Close()
		e.solver = nil
	}
}

func (e *engine) push(n *node) {
	n.id = e.nextID
	e.nextID++
	heap.Push(&e.open, n)
}

func (e *engine) elapsed() float64 {
	if !e.stopped.IsZero() {
		return e.stopped.Sub(e.start).Seconds()
	}
	return time.Since(e.start).Seconds()
}

func (e *engine) outOfTime() bool {
	return e.cfg.TimeLimit > 0 && e.elapsed() >= e.cfg.TimeLimit
}

// solveLP loads the bounds and solves the relaxation.
func (e *engine) solveLP(lower, upper []float64) (lpResult, error) {
	for j := range lower {
		if lower[j] != e.loadedLower[j] || upper[j] != e.loadedUpper[j] {
			if err := e.solver.SetColBounds(j, lower[j], upper[j]); err != nil {
				return lpResult{}, errors.Wrapf(err, "env: bounds of column %d", j)
			}
			e.loadedLower[j], e.loadedUpper[j] = lower[j], upper[j]
		}
	}
	if e.cfg.TimeLimit > 0 {
		remaining := math.Max(e.cfg.TimeLimit-e.elapsed(), 1e-3)
		if err := e.solver.SetFloatOption("time_limit", remaining); err != nil {
			return lpResult{}, errors.Wrap(err, "env: set time limit")
		}
	}
	sol, err := e.solver.Run()
	if err != nil {
		return lpResult{}, errors.Wrap(err, "env: solve LP relaxation")
	}
	iters, err := e.solver.GetIntInfo("simplex_iteration_count")
	if err != nil {
		iters = 0
	}
	e.stats.LPs++
	e.stats.LPIterations += iters
	e.pending += iters

	res := lpResult{sol: sol, iters: iters}
	switch {
	case sol.IsOptimal():
		res.feasible = true
		res.obj = sol.Objective
	case sol.IsTimeLimit() || sol.Status == highs.ModelStatusIterationLimit:
		res.limit = true
	case sol.IsInfeasible():
	default:
		return res, errors.Errorf("env: LP relaxation ended with status %s", sol.Status)
	}
	return res, nil
}

// fractional lists the integer columns with a fractional LP value.
func (e *engine) fractional(x []float64) []int {
	var cands []int
	for j, isInt := range e.integer {
		if isInt && math.Abs(x[j]-math.Round(x[j])) > intTol {
			cands = append(cands, j)
		}
	}
	return cands
}

// advance processes nodes until one needs a branching decision or the
// search ends.
func (e *engine) advance(ctx context.Context) error {
	e.cur, e.cands = nil, nil
	for e.open.Len() > 0 {
		if ctx.Err() != nil {
			e.finish(StatusUserInterrupt)
			return nil
		}
		if e.outOfTime() {
			e.finish(StatusTimeLimit)
			return nil
		}
		if e.cfg.NodeLimit > 0 && e.stats.Nodes >= e.cfg.NodeLimit {
			e.finish(StatusNodeLimit)
			return nil
		}

		n := heap.Pop(&e.open).(*node)
		if n.bound >= e.incumbent-boundTol {
			continue
		}
		res, err := e.solveLP(n.lower, n.upper)
		if err != nil {
			return err
		}
		e.stats.Nodes++
		if res.limit {
			heap.Push(&e.open, n)
			e.finish(StatusTimeLimit)
			return nil
		}
		if !res.feasible {
			glog.V(2).Infof("node %d infeasible", n.id)
			continue
		}
		if !math.IsNaN(n.parent) && n.branchCol >= 0 {
			e.pseudo.update(n.branchCol, n.up, res.obj-n.parent, n.delta)
		}
		if res.obj >= e.incumbent-boundTol {
			continue
		}
		x := res.sol.ColValues
		cands := e.fractional(x)
		if len(cands) == 0 {
			e.incumbent = res.obj
			e.best = append(e.best[:0], x...)
			glog.V(1).Infof("node %d: new incumbent %.6f after %d nodes", n.id, e.sign*res.obj, e.stats.Nodes)
			continue
		}
		e.cur, e.curLP, e.cands = n, res, cands
		e.refreshBounds()
		return nil
	}
	if math.IsInf(e.incumbent, 1) {
		e.finish(StatusInfeasible)
	} else {
		e.finish(StatusOptimal)
	}
	return nil
}

// branch splits the current node on column col and resumes the search.
func (e *engine) branch(ctx context.Context, col int) error {
	n := e.cur
	v := e.curLP.sol.ColValues[col]
	lo, up := math.Floor(v), math.Ceil(v)

	down := &node{
		depth: n.depth + 1, bound: e.curLP.obj, parent: e.curLP.obj,
		lower: append([]float64(nil), n.lower...), upper: append([]float64(nil), n.upper...),
		branchCol: col, delta: v - lo,
	}
	down.upper[col] = lo
	upper := &node{
		depth: n.depth + 1, bound: e.curLP.obj, parent: e.curLP.obj,
		lower: append([]float64(nil), n.lower...), upper: append([]float64(nil), n.upper...),
		branchCol: col, up: true, delta: up - v,
	}
	upper.lower[col] = up
	e.push(down)
	e.push(upper)
	glog.V(2).Infof("node %d: branch on column %d (%.4f)", n.id, col, v)
	return e.advance(ctx)
}

func (e *engine) finish(status Status) {
	e.done = true
	e.stopped = time.Now()
	e.cur, e.cands = nil, nil
	e.stats.Status = status
	e.refreshBounds()
}

// refreshBounds recomputes primal, dual and gap from the open nodes.
func (e *engine) refreshBounds() {
	dual := e.incumbent
	if e.cur != nil {
		dual = math.Min(dual, e.curLP.obj)
	}
	for _, n := range e.open {
		dual = math.Min(dual, n.bound)
	}
	if e.done && e.stats.Status == StatusOptimal {
		dual = e.incumbent
	}
	if e.done && e.stats.Status == StatusInfeasible {
		dual = math.Inf(1)
	}
	e.stats.Primal = e.sign * e.incumbent
	e.stats.Dual = e.sign * dual
	e.stats.Gap = Gap(e.stats.Primal, e.stats.Dual)
	e.stats.SolveTime = e.elapsed()
}

// takeReward returns minus the LP iterations spent since the last call.
func (e *engine) takeReward() float64 {
	r := -float64(e.pending)
	e.pending = 0
	return r
}

func (e *engine) transition() Transition {
	t := Transition{Reward: e.takeReward(), Done: e.done}
	if !e.done {
		t.ActionSet = append([]int(nil), e.cands...)
		t.Observation = e.obs.observe(e)
		t.Scorer = &scorer{e: e}
	}
	return t
}

// Solution returns the best integer point found, in column order.
func (e *engine) solution() []float64 {
	return append([]float64(nil), e.best...)
}
