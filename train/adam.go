package train

import "math"

// Adam updates a parameter vector in place from accumulated gradients.
type Adam struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64

	m, v []float64
	t    int
}

func NewAdam(lr float64, size int) *Adam {
	return &Adam{
		LR:      lr,
		Beta1:   0.9,
		Beta2:   0.999,
		Epsilon: 1e-8,
		m:       make([]float64, size),
		v:       make([]float64, size),
	}
}

// Step applies one update to params and clears grad.
func (a *Adam) Step(params, grad []float64) {
	a.t++
	c1 := 1 - math.Pow(a.Beta1, float64(a.t))
	c2 := 1 - math.Pow(a.Beta2, float64(a.t))
	for i, g := range grad {
		a.m[i] = a.Beta1*a.m[i] + (1-a.Beta1)*g
		a.v[i] = a.Beta2*a.v[i] + (1-a.Beta2)*g*g
		params[i] -= a.LR * (a.m[i] / c1) / (math.Sqrt(a.v[i]/c2) + a.Epsilon)
		grad[i] = 0
	}
}

func (a *Adam) Steps() int { return a.t }
