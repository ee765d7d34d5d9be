// Package env drives branch-and-bound solves of MILP instances over HiGHS
// LP relaxations and exposes them through a reset/step protocol.
//
// The Branching environment stops at every node that needs a branching
// decision and lets the caller pick the variable. The Configuring
// environment runs a whole solve with one named internal rule.
package env

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

var (
	ErrNotReset      = errors.New("env: step before reset")
	ErrDone          = errors.New("env: episode is over")
	ErrInvalidAction = errors.New("env: action is not in the action set")
	ErrUnknownRule   = errors.New("env: unknown branching rule")
	ErrNoCandidates  = errors.New("env: no branching candidates")
)

type Status string

const (
	StatusUnknown       Status = "unknown"
	StatusOptimal       Status = "optimal"
	StatusInfeasible    Status = "infeasible"
	StatusTimeLimit     Status = "timelimit"
	StatusNodeLimit     Status = "nodelimit"
	StatusUserInterrupt Status = "userinterrupt"
)

// Config is shared by both environments.
type Config struct {
	TimeLimit   float64 // seconds; <= 0 for none
	NodeLimit   int     // processed nodes; <= 0 for none
	Seed        int64
	ScoreFactor float64 // weight of the larger child gain in scores
	Reliability int     // strong branching runs until a pseudo cost has this many observations
	Rule        string  // Configuring only
}

func DefaultConfig() Config {
	return Config{
		TimeLimit:   3600,
		ScoreFactor: 1.0 / 6,
		Reliability: 4,
		Rule:        "relpscost",
	}
}

// Observation is the bipartite state of a branching node: one feature row
// per LP row and per column, and the nonzeros of the constraint matrix as
// (row, column, value) edges.
type Observation struct {
	RowFeatures    [][]float64 `json:"row_features"`
	ColumnFeatures [][]float64 `json:"column_features"`
	EdgeRows       []int       `json:"edge_rows"`
	EdgeCols       []int       `json:"edge_cols"`
	EdgeValues     []float64   `json:"edge_values"`
}

// NumEdges is the number of matrix nonzeros.
func (o *Observation) NumEdges() int { return len(o.EdgeValues) }

// Transition is what Reset and Step return. ActionSet holds the column
// indices the next Step may branch on. Scorer is nil once Done.
type Transition struct {
	Observation *Observation
	ActionSet   []int
	Reward      float64
	Done        bool
	Scorer      Scorer
}

// Scorer rates the candidates of the current node with an internal rule.
// Rules that solve LPs (strong branching) count towards Stats and the
// reward of the next step.
type Scorer interface {
	Score(ctx context.Context, rule string) ([]float64, error)
}

// Stats describe the solve so far.
type Stats struct {
	Nodes        int
	LPs          int
	LPIterations int
	SolveTime    float64
	Primal       float64
	Dual         float64
	Gap          float64
	Status       Status
}

// Environment is a resumable solve of one instance file.
type Environment interface {
	Reset(ctx context.Context, path string) (Transition, error)
	Step(ctx context.Context, action int) (Transition, error)
	Stats() Stats
	Close()
}

// Gap is the relative primal/dual gap: 0 when both bounds agree, +Inf when
// either is missing, zero, or when they have opposite signs.
func Gap(primal, dual float64) float64 {
	switch {
	case primal == dual:
		return 0
	case math.IsInf(primal, 0) || math.IsInf(dual, 0):
		return math.Inf(1)
	case primal == 0 || dual == 0 || primal*dual < 0:
		return math.Inf(1)
	}
	return math.Abs(primal-dual) / math.Min(math.Abs(primal), math.Abs(dual))
}

// Argmax returns the position of the largest score, the first on ties.
func Argmax(scores []float64) int {
	best := -1
	for i, s := range scores {
		if best < 0 || s > scores[best] {
			best = i
		}
	}
	return best
}
