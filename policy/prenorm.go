package policy

import "math"

// PreNorm shifts and scales each feature to zero mean and unit variance.
// Its statistics are fixed once, from a pass over sample data, and are
// not trained.
type PreNorm struct {
	Shift []float64 `json:"shift"`
	Scale []float64 `json:"scale"`
	Ready bool      `json:"ready"`

	waiting bool
	count   float64
	sum     []float64
	sumSq   []float64
}

func newPreNorm(width int) *PreNorm {
	p := &PreNorm{Shift: make([]float64, width), Scale: make([]float64, width)}
	for i := range p.Scale {
		p.Scale[i] = 1
	}
	return p
}

// Apply normalises x in place.
func (p *PreNorm) Apply(x []float64) {
	for i := range x {
		x[i] = (x[i] + p.Shift[i]) * p.Scale[i]
	}
}

func (p *PreNorm) start() {
	p.waiting = true
	p.count = 0
	p.sum = make([]float64, len(p.Shift))
	p.sumSq = make([]float64, len(p.Shift))
}

func (p *PreNorm) observe(x []float64) {
	for i, v := range x {
		p.sum[i] += v
		p.sumSq[i] += v * v
	}
	p.count++
}

func (p *PreNorm) finish() {
	p.waiting = false
	p.Ready = true
	if p.count == 0 {
		return
	}
	for i := range p.Shift {
		mean := p.sum[i] / p.count
		variance := p.sumSq[i]/p.count - mean*mean
		p.Shift[i] = -mean
		p.Scale[i] = 1
		if variance > 1e-12 {
			p.Scale[i] = 1 / math.Sqrt(variance)
		}
	}
	p.sum, p.sumSq = nil, nil
}
