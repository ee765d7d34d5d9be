// Package tsp solves symmetric euclidean TSP instances exactly and
// benchmarks them. The base MIP only includes degree-2 constraints, so its
// solutions may contain subtours; every subtour found in an integer
// solution is cut off with a subtour elimination constraint and the MIP is
// solved again until the solution is a single tour.
package tsp

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/bartolsthoorn/gohighs/highs"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

var ErrNoTour = errors.New("tsp: no tour found")

// Result of an exact solve.
type Result struct {
	Tour     []int
	Cost     float64
	Optimal  bool
	Rounds   int // MIP solves
	SECs     int
	WallTime float64
}

// subtours splits the edge matrix of a degree-2 solution into its cycles,
// shortest first.
func subtours(edges [][]int) [][]int {
	n := len(edges)
	seen := make([]bool, n)
	var tours [][]int
	for start := 0; start < n; start++ {
		if seen[start] {
			continue
		}
		var tour []int
		for node := start; node >= 0; {
			tour = append(tour, node)
			seen[node] = true
			next := -1
			for i := 0; i < n; i++ {
				if edges[node][i] == 1 && !seen[i] {
					next = i
					break
				}
			}
			node = next
		}
		tours = append(tours, tour)
	}
	for i := 1; i < len(tours); i++ {
		for j := i; j > 0 && len(tours[j]) < len(tours[j-1]); j-- {
			tours[j], tours[j-1] = tours[j-1], tours[j]
		}
	}
	return tours
}

func extractEdgeMatrix(sol []float64, N int) [][]int {
	yMat := make([][]int, N)
	for i := 0; i < N; i++ {
		yMat[i] = make([]int, N)
	}
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			if sol[l2b.GetEdgeIndex(i, j, N, 0)] > 0.5 {
				yMat[i][j] = 1
				yMat[j][i] = 1
			}
		}
	}
	return yMat
}

// buildModel adds one binary Y_i_j per pair i < j weighted by the distance,
// in the column order of l2b.GetEdgeIndex, and forces every node to have
// exactly two incident edges.
func buildModel(d [][]float64) (*lp.Model, error) {
	N := len(d)
	m := lp.NewModel("tsp")
	var obj []lp.Term
	for i := 0; i < N; i++ {
		for j := i + 1; j < N; j++ {
			col, err := m.AddVar(fmt.Sprintf("Y_%d_%d", i, j), lp.Binary, 0, 1)
			if err != nil {
				return nil, err
			}
			obj = append(obj, lp.Term{Var: col, Coef: d[i][j]})
		}
	}
	if err := m.SetObjective(obj, false); err != nil {
		return nil, err
	}
	for i := 0; i < N; i++ {
		var row []lp.Term
		for j := 0; j < N; j++ {
			if j != i {
				row = append(row, lp.Term{Var: l2b.GetEdgeIndex(i, j, N, 0), Coef: 1})
			}
		}
		if err := m.AddConstr(fmt.Sprintf("node_2_%d", i), row, lp.Equal, 2); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func addSECs(m *lp.Model, tours [][]int, N, offset int) error {
	secInd, secVal, rhs := l2b.GetSECs(tours, N, 0)
	for k := range secInd {
		row := make([]lp.Term, len(secInd[k]))
		for t, col := range secInd[k] {
			row[t] = lp.Term{Var: col, Coef: secVal[k][t]}
		}
		if err := m.AddConstr(fmt.Sprintf("sec_%d", offset+k), row, lp.LessEqual, rhs[k]); err != nil {
			return err
		}
	}
	return nil
}

func solveMIP(m *lp.Model, timeLimit float64) (*highs.Solution, error) {
	arrays, err := m.Compile()
	if err != nil {
		return nil, err
	}
	s, err := highs.NewSolver()
	if err != nil {
		return nil, errors.Wrap(err, "tsp: create HiGHS solver")
	}
	defer s.Close()
	if err = s.SetBoolOption("output_flag", false); err != nil {
		return nil, errors.Wrap(err, "tsp: configure HiGHS")
	}
	if err = s.SetFloatOption("mip_rel_gap", 0); err != nil {
		return nil, errors.Wrap(err, "tsp: configure HiGHS")
	}
	if timeLimit > 0 {
		if err = s.SetFloatOption("time_limit", timeLimit); err != nil {
			return nil, errors.Wrap(err, "tsp: configure HiGHS")
		}
	}
	if err = arrays.Pass(s, false); err != nil {
		return nil, err
	}
	sol, err := s.Run()
	return sol, errors.Wrap(err, "tsp: HiGHS solve")
}

// SolveTSP finds a shortest closed tour over the distance matrix d within
// timeLimit seconds (no limit if <= 0).
func SolveTSP(ctx context.Context, d [][]float64, timeLimit float64) (*Result, error) {
	start := time.Now()
	N := len(d)
	switch N {
	case 0:
		return nil, errors.Wrap(ErrNoTour, "empty instance")
	case 1:
		return &Result{Tour: []int{0}, Optimal: true}, nil
	case 2:
		return &Result{Tour: []int{0, 1}, Cost: 2 * d[0][1], Optimal: true}, nil
	}

	m, err := buildModel(d)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	for {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		remaining := 0.0
		if timeLimit > 0 {
			if remaining = timeLimit - time.Since(start).Seconds(); remaining <= 0 {
				return nil, errors.Wrapf(ErrNoTour, "time limit after %d rounds", res.Rounds)
			}
		}
		sol, err := solveMIP(m, remaining)
		if err != nil {
			return nil, err
		}
		res.Rounds++
		if !sol.HasSolution() {
			return nil, errors.Wrapf(ErrNoTour, "HiGHS status %v after %d rounds", sol.Status, res.Rounds)
		}
		tours := subtours(extractEdgeMatrix(sol.ColValues, N))
		if len(tours) == 1 {
			res.Tour = tours[0]
			res.Optimal = sol.IsOptimal()
			break
		}
		if !sol.IsOptimal() {
			return nil, errors.Wrapf(ErrNoTour, "time limit with %d subtours", len(tours))
		}
		glog.V(1).Infof("round %d: %d subtours, shortest has %d nodes", res.Rounds, len(tours), len(tours[0]))
		if err = addSECs(m, tours, N, res.SECs); err != nil {
			return nil, err
		}
		res.SECs += len(tours)
	}
	for i := range res.Tour {
		res.Cost += d[res.Tour[i]][res.Tour[(i+1)%N]]
	}
	res.WallTime = time.Since(start).Seconds()
	return res, nil
}

// ValidateTour checks that tour visits every node of inst exactly once and
// returns its length.
func ValidateTour(inst *l2b.Instance, tour []int) (float64, error) {
	if len(tour) != inst.Dimension {
		return -1, errors.Errorf("tour has %d nodes, instance %d", len(tour), inst.Dimension)
	}
	for _, a := range tour {
		if a < 0 || a >= inst.Dimension {
			return -1, errors.Errorf("node %d out of range", a)
		}
	}
	edgeWeights := l2b.CalcEdgeDist(inst.NodeCoordinates, inst.EdgeWeightType)
	used := make([]bool, inst.Dimension)
	sum := 0.0
	for i := 0; i < len(tour); i++ {
		a := tour[i]
		b := tour[(i+1)%len(tour)]
		if used[a] {
			return -1, errors.Errorf("node %d visited twice", a)
		}
		used[a] = true
		sum += edgeWeights[a][b]
	}
	if math.IsNaN(sum) {
		return -1, errors.New("tour length is not a number")
	}
	return sum, nil
}
