package train

import "math"

// Verdict is what the scheduler makes of one epoch.
type Verdict int

const (
	Continue Verdict = iota
	Improved
	Decay
)

func (v Verdict) String() string {
	switch v {
	case Improved:
		return "improved"
	case Decay:
		return "decay"
	}
	return "continue"
}

// Plateau tracks the best validation loss. An improvement resets the bad
// epoch counter; every time the counter reaches a multiple of Patience the
// caller should decay its learning rate by Factor.
type Plateau struct {
	Patience int
	Factor   float64

	best float64
	bad  int
}

func NewPlateau(patience int, factor float64) *Plateau {
	return &Plateau{Patience: patience, Factor: factor, best: math.Inf(1)}
}

func (p *Plateau) Step(loss float64) Verdict {
	if loss < p.best {
		p.best = loss
		p.bad = 0
		return Improved
	}
	p.bad++
	if p.Patience > 0 && p.bad%p.Patience == 0 {
		return Decay
	}
	return Continue
}

func (p *Plateau) Best() float64 { return p.best }

func (p *Plateau) BadEpochs() int { return p.bad }
