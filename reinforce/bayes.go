package reinforce

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var ErrNotFitted = errors.New("reinforce: surrogate has no observations")

// GP is a one-dimensional Gaussian process with an RBF kernel over
// standardised targets.
type GP struct {
	LengthScale float64
	Noise       float64 // added to the kernel diagonal

	xs    []float64
	mean  float64
	std   float64
	chol  mat.Cholesky
	alpha *mat.VecDense
}

func NewGP(lengthScale, noise float64) *GP {
	return &GP{LengthScale: lengthScale, Noise: noise}
}

func (g *GP) kernel(a, b float64) float64 {
	d := (a - b) / g.LengthScale
	return math.Exp(-0.5 * d * d)
}

// Fit conditions the process on the observations ys at xs.
func (g *GP) Fit(xs, ys []float64) error {
	if len(xs) == 0 || len(xs) != len(ys) {
		return errors.Wrapf(ErrNotFitted, "%d points, %d values", len(xs), len(ys))
	}
	g.mean, g.std = stat.MeanStdDev(ys, nil)
	if len(ys) < 2 || g.std == 0 || math.IsNaN(g.std) {
		g.std = 1
	}
	n := len(xs)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := g.kernel(xs[i], xs[j])
			if i == j {
				v += g.Noise
			}
			k.SetSym(i, j, v)
		}
	}
	if ok := g.chol.Factorize(k); !ok {
		return errors.New("reinforce: kernel matrix is not positive definite")
	}
	z := mat.NewVecDense(n, nil)
	for i, y := range ys {
		z.SetVec(i, (y-g.mean)/g.std)
	}
	g.alpha = mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(g.alpha, z); err != nil {
		return errors.Wrap(err, "reinforce: solve kernel system")
	}
	g.xs = append(g.xs[:0], xs...)
	return nil
}

// Predict returns the posterior mean and standard deviation at x.
func (g *GP) Predict(x float64) (mu, sigma float64) {
	if g.alpha == nil {
		return 0, 1
	}
	n := len(g.xs)
	ks := mat.NewVecDense(n, nil)
	for i, xi := range g.xs {
		ks.SetVec(i, g.kernel(x, xi))
	}
	tmp := mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(tmp, ks); err != nil {
		return g.mean, g.std
	}
	variance := g.kernel(x, x) - mat.Dot(ks, tmp)
	if variance < 0 {
		variance = 0
	}
	return g.mean + g.std*mat.Dot(ks, g.alpha), g.std * math.Sqrt(variance)
}

// ProbabilityOfImprovement is P(f(x) < best - xi) under the posterior
// N(mu, sigma^2), for a minimised objective.
func ProbabilityOfImprovement(mu, sigma, best, xi float64) float64 {
	if sigma <= 0 {
		if mu < best-xi {
			return 1
		}
		return 0
	}
	return distuv.UnitNormal.CDF((best - xi - mu) / sigma)
}
