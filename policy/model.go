package policy

import (
	"encoding/json"
	"io/ioutil"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/loaychlih/Travel-the-Same-Path/env"
)

const DefaultHidden = 32

// Pre-norm layers in the order they are initialised. The message layer
// sees normalised rows, so it comes after rowLayer.
const (
	edgeLayer = iota
	rowLayer
	colLayer
	msgLayer
	numLayers
)

// inputWidth is the per-column input: column features, the aggregated row
// message, and a constant 1 for the bias.
const inputWidth = env.NumColumnFeatures + env.NumRowFeatures + 1

// Model scores every column of a bipartite observation. Each column gets
// its normalised features together with the sum of its normalised rows
// weighted by the normalised matrix coefficients. A one-hidden-layer
// perceptron maps that input to a logit.
type Model struct {
	Hidden int        `json:"hidden"`
	Norms  []*PreNorm `json:"norms"`
	Theta  []float64  `json:"theta"`

	w1 *mat.Dense
	w2 []float64

	pretraining int
}

// NewModel draws Glorot-uniform weights from seed.
func NewModel(hidden int, seed int64) *Model {
	m := newModel(hidden)
	rng := rand.New(rand.NewSource(seed))
	limit1 := math.Sqrt(6 / float64(inputWidth+hidden))
	limit2 := math.Sqrt(6 / float64(hidden+1))
	for i := 0; i < hidden*inputWidth; i++ {
		m.Theta[i] = (2*rng.Float64() - 1) * limit1
	}
	for i := 0; i < hidden; i++ {
		m.w2[i] = (2*rng.Float64() - 1) * limit2
	}
	return m
}

func newModel(hidden int) *Model {
	m := &Model{
		Hidden:      hidden,
		Theta:       make([]float64, hidden*inputWidth+hidden+1),
		pretraining: -1,
	}
	widths := [numLayers]int{1, env.NumRowFeatures, env.NumColumnFeatures, env.NumRowFeatures}
	for _, w := range widths {
		m.Norms = append(m.Norms, newPreNorm(w))
	}
	m.bind()
	return m
}

// bind points the weight views into Theta.
func (m *Model) bind() {
	h := m.Hidden
	m.w1 = mat.NewDense(h, inputWidth, m.Theta[:h*inputWidth])
	m.w2 = m.Theta[h*inputWidth : h*inputWidth+h]
}

func (m *Model) bias() float64 { return m.Theta[len(m.Theta)-1] }

// Zero clears every weight: all logits become equal.
func (m *Model) Zero() {
	for i := range m.Theta {
		m.Theta[i] = 0
	}
}

func (m *Model) NumParams() int { return len(m.Theta) }

// Params is the flat parameter vector; optimisers update it in place.
func (m *Model) Params() []float64 { return m.Theta }

// Clone returns an independent copy.
func (m *Model) Clone() *Model {
	raw, _ := json.Marshal(m)
	c := &Model{}
	_ = json.Unmarshal(raw, c)
	c.pretraining = -1
	c.bind()
	return c
}

// Trace keeps the intermediate values of one forward pass for Backward.
type Trace struct {
	Logits []float64
	inputs [][]float64
	pre    [][]float64
	hidden [][]float64
}

// columnInputs builds the inputs of every column. With normMsg unset the
// aggregated messages are left raw.
func (m *Model) columnInputs(obs *env.Observation, normMsg bool) [][]float64 {
	rows := make([][]float64, len(obs.RowFeatures))
	for i, f := range obs.RowFeatures {
		r := append([]float64(nil), f...)
		m.Norms[rowLayer].Apply(r)
		rows[i] = r
	}
	msgs := make([][]float64, len(obs.ColumnFeatures))
	for j := range msgs {
		msgs[j] = make([]float64, env.NumRowFeatures)
	}
	edge := []float64{0}
	for k, v := range obs.EdgeValues {
		edge[0] = v
		m.Norms[edgeLayer].Apply(edge)
		floats.AddScaled(msgs[obs.EdgeCols[k]], edge[0], rows[obs.EdgeRows[k]])
	}
	inputs := make([][]float64, len(obs.ColumnFeatures))
	for j, f := range obs.ColumnFeatures {
		c := append([]float64(nil), f...)
		m.Norms[colLayer].Apply(c)
		if normMsg {
			m.Norms[msgLayer].Apply(msgs[j])
		}
		in := make([]float64, 0, inputWidth)
		in = append(in, c...)
		in = append(in, msgs[j]...)
		in = append(in, 1)
		inputs[j] = in
	}
	return inputs
}

// Forward scores the columns in cands.
func (m *Model) Forward(obs *env.Observation, cands []int) *Trace {
	all := m.columnInputs(obs, true)
	t := &Trace{
		Logits: make([]float64, len(cands)),
		inputs: make([][]float64, len(cands)),
		pre:    make([][]float64, len(cands)),
		hidden: make([][]float64, len(cands)),
	}
	for k, col := range cands {
		z := mat.NewVecDense(inputWidth, all[col])
		a := mat.NewVecDense(m.Hidden, nil)
		a.MulVec(m.w1, z)
		pre := a.RawVector().Data
		h := make([]float64, m.Hidden)
		for i, v := range pre {
			if v > 0 {
				h[i] = v
			}
		}
		t.inputs[k], t.pre[k], t.hidden[k] = all[col], pre, h
		t.Logits[k] = floats.Dot(m.w2, h) + m.bias()
	}
	return t
}

// Logits is Forward without the trace.
func (m *Model) Logits(obs *env.Observation, cands []int) []float64 {
	return m.Forward(obs, cands).Logits
}

// Backward adds to grad (laid out like Theta) the gradient of a loss
// whose derivative with respect to t.Logits is dLogits.
func (m *Model) Backward(t *Trace, dLogits []float64, grad []float64) {
	h := m.Hidden
	gw1 := mat.NewDense(h, inputWidth, grad[:h*inputWidth])
	gw2 := grad[h*inputWidth : h*inputWidth+h]
	dPre := make([]float64, h)
	for k, g := range dLogits {
		if g == 0 {
			continue
		}
		floats.AddScaled(gw2, g, t.hidden[k])
		grad[len(grad)-1] += g
		for i := range dPre {
			dPre[i] = 0
			if t.pre[k][i] > 0 {
				dPre[i] = g * m.w2[i]
			}
		}
		var outer mat.Dense
		outer.Outer(1, mat.NewVecDense(h, dPre), mat.NewVecDense(inputWidth, t.inputs[k]))
		gw1.Add(gw1, &outer)
	}
}

// PreTrainInit starts initialising the pre-norm layers from scratch.
func (m *Model) PreTrainInit() {
	for _, n := range m.Norms {
		n.Ready = false
		n.waiting = false
	}
	m.pretraining = 0
	m.Norms[0].start()
}

// PreTrain feeds one observation to the layer being initialised. It
// returns false once no layer is waiting for data.
func (m *Model) PreTrain(obs *env.Observation) bool {
	if m.pretraining < 0 || m.pretraining >= numLayers {
		return false
	}
	layer := m.Norms[m.pretraining]
	switch m.pretraining {
	case edgeLayer:
		for _, v := range obs.EdgeValues {
			layer.observe([]float64{v})
		}
	case rowLayer:
		for _, f := range obs.RowFeatures {
			layer.observe(f)
		}
	case colLayer:
		for _, f := range obs.ColumnFeatures {
			layer.observe(f)
		}
	case msgLayer:
		for _, in := range m.columnInputs(obs, false) {
			layer.observe(in[env.NumColumnFeatures : env.NumColumnFeatures+env.NumRowFeatures])
		}
	}
	return true
}

// PreTrainNext fixes the statistics of the current layer and moves to the
// next one. It returns false when there was no layer left to initialise.
func (m *Model) PreTrainNext() bool {
	if m.pretraining < 0 || m.pretraining >= numLayers {
		m.pretraining = -1
		return false
	}
	m.Norms[m.pretraining].finish()
	m.pretraining++
	if m.pretraining < numLayers {
		m.Norms[m.pretraining].start()
	}
	return true
}

// Save writes the model as JSON, creating the directory if needed.
func (m *Model) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "policy: create %s", filepath.Dir(path))
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "policy: encode model")
	}
	return errors.Wrapf(ioutil.WriteFile(path, raw, 0644), "policy: write %s", path)
}

// Load reads a model written by Save.
func Load(path string) (*Model, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "policy: read %s", path)
	}
	m := &Model{}
	if err = json.Unmarshal(raw, m); err != nil {
		return nil, errors.Wrapf(err, "policy: parse %s", path)
	}
	if m.Hidden <= 0 || len(m.Theta) != m.Hidden*inputWidth+m.Hidden+1 || len(m.Norms) != numLayers {
		return nil, errors.Errorf("policy: %s does not hold a model of this shape", path)
	}
	m.pretraining = -1
	m.bind()
	return m, nil
}

// LoadInto copies the parameters stored at path into m.
func (m *Model) LoadInto(path string) error {
	src, err := Load(path)
	if err != nil {
		return err
	}
	if src.Hidden != m.Hidden {
		return errors.Errorf("policy: %s has %d hidden units, want %d", path, src.Hidden, m.Hidden)
	}
	copy(m.Theta, src.Theta)
	m.Norms = src.Norms
	return nil
}
