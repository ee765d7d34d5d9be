// Package train holds the machinery shared by the training loops: losses
// over candidate logits, an Adam optimiser, the plateau scheduler and the
// run log.
package train

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Softmax returns exp(z)/sum(exp(z)), shifted by max(z) for stability.
func Softmax(z []float64) []float64 {
	if len(z) == 0 {
		return nil
	}
	p := make([]float64, len(z))
	copy(p, z)
	floats.AddConst(-floats.Max(z), p)
	for i, v := range p {
		p[i] = math.Exp(v)
	}
	floats.Scale(1/floats.Sum(p), p)
	return p
}

// LogSoftmax is log(Softmax(z)).
func LogSoftmax(z []float64) []float64 {
	if len(z) == 0 {
		return nil
	}
	out := make([]float64, len(z))
	copy(out, z)
	floats.AddConst(-floats.LogSumExp(z), out)
	return out
}

// CrossEntropy is -log softmax(z)[target].
func CrossEntropy(z []float64, target int) float64 {
	return floats.LogSumExp(z) - z[target]
}

// Entropy of softmax(z).
func Entropy(z []float64) float64 {
	p := Softmax(z)
	logp := LogSoftmax(z)
	var h float64
	for i := range p {
		if p[i] > 0 {
			h -= p[i] * logp[i]
		}
	}
	return h
}

// ImitationLoss is the cross-entropy against target minus entropyBonus
// times the entropy. It returns the loss, the cross-entropy term alone, and
// the gradient with respect to z.
func ImitationLoss(z []float64, target int, entropyBonus float64) (loss, ce float64, grad []float64) {
	p := Softmax(z)
	logp := LogSoftmax(z)
	ce = -logp[target]
	h := 0.0
	for i := range p {
		if p[i] > 0 {
			h -= p[i] * logp[i]
		}
	}
	grad = make([]float64, len(z))
	for i := range z {
		grad[i] = p[i]
		if p[i] > 0 {
			// dH/dz_i = -p_i (log p_i + H)
			grad[i] += entropyBonus * p[i] * (logp[i] + h)
		}
	}
	grad[target]--
	return ce - entropyBonus*h, ce, grad
}

// TopKAccuracy reports, for each k, whether one of the k best-scored
// candidates has the maximal expert score. A sample with fewer than k
// candidates counts as correct.
func TopKAccuracy(logits, expert []float64, ks []int) []float64 {
	acc := make([]float64, len(ks))
	if len(logits) == 0 {
		return acc
	}
	best := floats.Max(expert)
	order := make([]int, len(logits))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return logits[order[a]] > logits[order[b]] })
	for i, k := range ks {
		if len(logits) < k {
			acc[i] = 1
			continue
		}
		for _, c := range order[:k] {
			if expert[c] == best {
				acc[i] = 1
				break
			}
		}
	}
	return acc
}
