package env

import (
	"context"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/lp"
)

// Branching hands every branching decision to the caller. One value runs
// one episode at a time; Reset starts a new one.
type Branching struct {
	cfg Config
	eng *engine
}

func NewBranching(cfg Config) *Branching {
	return &Branching{cfg: cfg}
}

// Reset loads the LP file at path and runs to the first branching node.
func (b *Branching) Reset(ctx context.Context, path string) (Transition, error) {
	m, err := lp.ReadFile(path)
	if err != nil {
		return Transition{}, err
	}
	return b.ResetModel(ctx, m)
}

// ResetModel is Reset for a model already in memory.
func (b *Branching) ResetModel(ctx context.Context, m *lp.Model) (Transition, error) {
	b.Close()
	eng, err := newEngine(b.cfg, m)
	if err != nil {
		return Transition{}, err
	}
	b.eng = eng
	glog.V(1).Infof("reset %s: %s", m.Name, eng.arrays.Describe())
	if err = eng.advance(ctx); err != nil {
		return Transition{}, err
	}
	return eng.transition(), nil
}

// Step branches the current node on column action.
func (b *Branching) Step(ctx context.Context, action int) (Transition, error) {
	if b.eng == nil {
		return Transition{}, ErrNotReset
	}
	if b.eng.done {
		return Transition{}, ErrDone
	}
	if !contains(b.eng.cands, action) {
		return Transition{}, errors.Wrapf(ErrInvalidAction, "column %d", action)
	}
	if err := b.eng.branch(ctx, action); err != nil {
		return Transition{}, err
	}
	return b.eng.transition(), nil
}

func (b *Branching) Stats() Stats {
	if b.eng == nil {
		return Stats{Status: StatusUnknown}
	}
	b.eng.refreshBounds()
	return b.eng.stats
}

// Solution is the best integer point of the episode, nil if none.
func (b *Branching) Solution() []float64 {
	if b.eng == nil || b.eng.best == nil {
		return nil
	}
	return b.eng.solution()
}

// Close releases the solver. Stats stay readable; an unfinished episode
// ends as interrupted.
func (b *Branching) Close() {
	if b.eng == nil {
		return
	}
	if !b.eng.done {
		b.eng.finish(StatusUserInterrupt)
	}
	b.eng.close()
}

func contains(set []int, v int) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
