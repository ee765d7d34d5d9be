package env

import (
	"context"
	"math"
	"time"

	"github.com/bartolsthoorn/gohighs/highs"
	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

// RuleHiGHS delegates the whole solve, branching included, to HiGHS.
const RuleHiGHS = "highs"

// Configuring solves an instance in a single step with cfg.Rule. The
// action passed to Step is ignored.
type Configuring struct {
	cfg   Config
	model *lp.Model
	inner *Branching
	stats Stats
	best  []float64
	done  bool
}

func NewConfiguring(cfg Config) (*Configuring, error) {
	if !KnownRule(cfg.Rule) {
		return nil, errors.Wrapf(ErrUnknownRule, "%q", cfg.Rule)
	}
	return &Configuring{cfg: cfg}, nil
}

// KnownRule reports whether name is an internal rule or "highs".
func KnownRule(name string) bool {
	if name == RuleHiGHS {
		return true
	}
	for _, r := range Rules {
		if r == name {
			return true
		}
	}
	return false
}

func (c *Configuring) Reset(ctx context.Context, path string) (Transition, error) {
	m, err := lp.ReadFile(path)
	if err != nil {
		return Transition{}, err
	}
	return c.ResetModel(ctx, m)
}

func (c *Configuring) ResetModel(ctx context.Context, m *lp.Model) (Transition, error) {
	c.Close()
	c.model, c.done, c.best = m, false, nil
	c.stats = Stats{Status: StatusUnknown, Primal: math.Inf(1), Dual: math.Inf(-1), Gap: math.Inf(1)}
	return Transition{}, ctx.Err()
}

// Step runs the solve to the end.
func (c *Configuring) Step(ctx context.Context, _ int) (Transition, error) {
	if c.model == nil {
		return Transition{}, ErrNotReset
	}
	if c.done {
		return Transition{}, ErrDone
	}
	var (
		reward float64
		err    error
	)
	if c.cfg.Rule == RuleHiGHS {
		reward, err = c.solveMIP(ctx)
	} else {
		reward, err = c.solveWithRule(ctx)
	}
	if err != nil {
		return Transition{}, err
	}
	c.done = true
	return Transition{Reward: reward, Done: true}, nil
}

func (c *Configuring) solveWithRule(ctx context.Context) (float64, error) {
	c.inner = NewBranching(c.cfg)
	t, err := c.inner.ResetModel(ctx, c.model)
	if err != nil {
		return 0, err
	}
	reward := t.Reward
	for !t.Done {
		scores, err := t.Scorer.Score(ctx, c.cfg.Rule)
		if err != nil {
			if ctx.Err() != nil {
				c.inner.Close()
				break
			}
			return 0, err
		}
		if t, err = c.inner.Step(ctx, t.ActionSet[Argmax(scores)]); err != nil {
			return 0, err
		}
		reward += t.Reward
	}
	c.stats = c.inner.Stats()
	c.best = c.inner.Solution()
	c.inner.Close()
	return reward, nil
}

func (c *Configuring) solveMIP(ctx context.Context) (float64, error) {
	arrays, err := c.model.Compile()
	if err != nil {
		return 0, err
	}
	s, err := highs.NewSolver()
	if err != nil {
		return 0, errors.Wrap(err, "env: create HiGHS solver")
	}
	defer s.Close()
	if err = s.SetBoolOption("output_flag", false); err != nil {
		return 0, errors.Wrap(err, "env: configure HiGHS")
	}
	if err = s.SetFloatOption("mip_rel_gap", 0); err != nil {
		return 0, errors.Wrap(err, "env: configure HiGHS")
	}
	if c.cfg.TimeLimit > 0 {
		if err = s.SetFloatOption("time_limit", c.cfg.TimeLimit); err != nil {
			return 0, errors.Wrap(err, "env: configure HiGHS")
		}
	}
	if err = arrays.Pass(s, false); err != nil {
		return 0, err
	}
	if err = ctx.Err(); err != nil {
		c.stats.Status = StatusUserInterrupt
		return 0, nil
	}

	start := time.Now()
	sol, err := s.Run()
	if err != nil {
		return 0, errors.Wrap(err, "env: HiGHS MIP solve")
	}
	c.stats.SolveTime = time.Since(start).Seconds()
	if nodes, err := s.GetInt64Info("mip_node_count"); err == nil {
		c.stats.Nodes = int(nodes)
	}
	if iters, err := s.GetIntInfo("simplex_iteration_count"); err == nil {
		c.stats.LPIterations = iters
	}
	// HiGHS does not report how many LPs its search solved.
	c.stats.LPs = -1

	switch {
	case sol.IsOptimal():
		c.stats.Status = StatusOptimal
	case sol.IsTimeLimit():
		c.stats.Status = StatusTimeLimit
	case sol.IsInfeasible():
		c.stats.Status = StatusInfeasible
	default:
		c.stats.Status = StatusUnknown
	}
	if sol.HasSolution() {
		c.stats.Primal = sol.Objective
		c.best = sol.ColValues
	}
	if dual, err := s.GetFloatInfo("mip_dual_bound"); err == nil {
		c.stats.Dual = dual
	}
	if c.stats.Status == StatusOptimal {
		c.stats.Dual = c.stats.Primal
	}
	c.stats.Gap = Gap(c.stats.Primal, c.stats.Dual)
	return -float64(c.stats.LPIterations), nil
}

func (c *Configuring) Stats() Stats { return c.stats }

// Solution is the best integer point found, nil if none.
func (c *Configuring) Solution() []float64 { return c.best }

func (c *Configuring) Close() {
	if c.inner != nil {
		c.inner.Close()
		c.inner = nil
	}
}
