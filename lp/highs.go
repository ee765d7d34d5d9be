package lp

import (
	"math"
	"sort"
	"strconv"

	"github.com/bartolsthoorn/gohighs/highs"
	"github.com/pkg/errors"
)

// Arrays is a model in the row-wise compressed form HiGHS takes in
// PassModel. Indicators must have been linearised.
type Arrays struct {
	NumCol, NumRow     int
	ColCost            []float64
	ColLower, ColUpper []float64
	RowLower, RowUpper []float64
	AStart, AIndex     []int
	AValue             []float64
	Integrality        []highs.VariableType
	Maximize           bool
}

// Clone returns a deep copy of m.
func (m *Model) Clone() *Model {
	c := NewModel(m.Name)
	c.Maximize = m.Maximize
	c.ObjName = m.ObjName
	c.Objective = append([]Term(nil), m.Objective...)
	c.Vars = append([]Var(nil), m.Vars...)
	for i, v := range c.Vars {
		c.varIndex[v.Name] = i
	}
	for _, con := range m.Constrs {
		con.Terms = append([]Term(nil), con.Terms...)
		c.Constrs = append(c.Constrs, con)
		c.rowNames[con.Name] = true
	}
	for _, ind := range m.Indicators {
		ind.Constr.Terms = append([]Term(nil), ind.Constr.Terms...)
		c.Indicators = append(c.Indicators, ind)
		c.rowNames[ind.Name] = true
	}
	return c
}

// Linearize returns a copy of m where every indicator "y = v -> a.x sense b"
// is replaced by big-M rows. M is taken from the activity range of a.x
// over the variable bounds, so it is as tight as the bounds allow. Equality
// indicators become a <= and a >= row, suffixed _ub and _lb.
func (m *Model) Linearize() (*Model, error) {
	out := m.Clone()
	out.Indicators = nil
	for _, ind := range m.Indicators {
		lo, hi := m.activityRange(ind.Constr.Terms)
		c := ind.Constr
		switch c.Sense {
		case LessEqual:
			row, err := bigMUpper(ind, lo, hi)
			if err != nil {
				return nil, err
			}
			row.Name = ind.Name
			out.Constrs = append(out.Constrs, row)
		case GreaterEqual:
			row, err := bigMLower(ind, lo, hi)
			if err != nil {
				return nil, err
			}
			row.Name = ind.Name
			out.Constrs = append(out.Constrs, row)
		case Equal:
			up, err := bigMUpper(ind, lo, hi)
			if err != nil {
				return nil, err
			}
			low, err := bigMLower(ind, lo, hi)
			if err != nil {
				return nil, err
			}
			up.Name, low.Name = ind.Name+"_ub", ind.Name+"_lb"
			if out.rowNames[up.Name] || out.rowNames[low.Name] {
				return nil, errors.Wrapf(ErrDuplicateName, "linearising %s", ind.Name)
			}
			out.rowNames[up.Name], out.rowNames[low.Name] = true, true
			out.Constrs = append(out.Constrs, up, low)
		}
	}
	return out, nil
}

// bigMUpper enforces a.x <= b when y = v:
// v = 1: a.x + M y <= b + M, v = 0: a.x - M y <= b, with M = max(a.x) - b.
func bigMUpper(ind Indicator, lo, hi float64) (Constr, error) {
	c := ind.Constr
	if math.IsInf(hi, 1) {
		return Constr{}, errors.Wrapf(ErrUnboundedIndicator, "%s has no finite upper activity", ind.Name)
	}
	bigM := math.Max(hi-c.RHS, 0)
	row := Constr{Sense: LessEqual, RHS: c.RHS}
	if ind.Value == 1 {
		row.Terms = mergeTerm(c.Terms, ind.Binary, bigM)
		row.RHS += bigM
	} else {
		row.Terms = mergeTerm(c.Terms, ind.Binary, -bigM)
	}
	return row, nil
}

// bigMLower enforces a.x >= b when y = v:
// v = 1: a.x - M y >= b - M, v = 0: a.x + M y >= b, with M = b - min(a.x).
func bigMLower(ind Indicator, lo, hi float64) (Constr, error) {
	c := ind.Constr
	if math.IsInf(lo, -1) {
		return Constr{}, errors.Wrapf(ErrUnboundedIndicator, "%s has no finite lower activity", ind.Name)
	}
	bigM := math.Max(c.RHS-lo, 0)
	row := Constr{Sense: GreaterEqual, RHS: c.RHS}
	if ind.Value == 1 {
		row.Terms = mergeTerm(c.Terms, ind.Binary, -bigM)
		row.RHS -= bigM
	} else {
		row.Terms = mergeTerm(c.Terms, ind.Binary, bigM)
	}
	return row, nil
}

func mergeTerm(terms []Term, col int, coef float64) []Term {
	out := append([]Term(nil), terms...)
	for i := range out {
		if out[i].Var == col {
			out[i].Coef += coef
			return out
		}
	}
	return append(out, Term{Var: col, Coef: coef})
}

// Compile linearises the indicators of m if it has any and lays the
// result out for HiGHS. The row order is Constrs, then the linearised
// indicators in declaration order.
func (m *Model) Compile() (*Arrays, error) {
	src := m
	if len(m.Indicators) > 0 {
		var err error
		if src, err = m.Linearize(); err != nil {
			return nil, err
		}
	}

	a := &Arrays{
		NumCol:      len(src.Vars),
		NumRow:      len(src.Constrs),
		ColCost:     make([]float64, len(src.Vars)),
		ColLower:    make([]float64, len(src.Vars)),
		ColUpper:    make([]float64, len(src.Vars)),
		RowLower:    make([]float64, len(src.Constrs)),
		RowUpper:    make([]float64, len(src.Constrs)),
		AStart:      make([]int, len(src.Constrs)),
		Integrality: make([]highs.VariableType, len(src.Vars)),
		Maximize:    src.Maximize,
	}
	for _, t := range src.Objective {
		a.ColCost[t.Var] += t.Coef
	}
	for j, v := range src.Vars {
		a.ColLower[j], a.ColUpper[j] = v.Lower, v.Upper
		if v.Type != Continuous {
			a.Integrality[j] = highs.Integer
		}
	}
	for i, c := range src.Constrs {
		a.AStart[i] = len(a.AIndex)
		for _, t := range compact(c.Terms) {
			a.AIndex = append(a.AIndex, t.Var)
			a.AValue = append(a.AValue, t.Coef)
		}
		switch c.Sense {
		case LessEqual:
			a.RowLower[i], a.RowUpper[i] = math.Inf(-1), c.RHS
		case GreaterEqual:
			a.RowLower[i], a.RowUpper[i] = c.RHS, math.Inf(1)
		default:
			a.RowLower[i], a.RowUpper[i] = c.RHS, c.RHS
		}
	}
	return a, nil
}

// compact sorts terms by column, sums duplicates and drops zeros.
func compact(terms []Term) []Term {
	out := append([]Term(nil), terms...)
	sort.Slice(out, func(i, j int) bool { return out[i].Var < out[j].Var })
	k := 0
	for _, t := range out {
		if k > 0 && out[k-1].Var == t.Var {
			out[k-1].Coef += t.Coef
			continue
		}
		out[k] = t
		k++
	}
	res := out[:0]
	for _, t := range out[:k] {
		if t.Coef != 0 {
			res = append(res, t)
		}
	}
	return res
}

// Pass loads a into s. With relax set the integrality is dropped and s
// holds the LP relaxation.
func (a *Arrays) Pass(s *highs.Solver, relax bool) error {
	integrality := a.Integrality
	if relax {
		integrality = nil
	}
	err := s.PassModel(a.NumCol, a.NumRow,
		a.ColCost, a.ColLower, a.ColUpper,
		a.RowLower, a.RowUpper,
		a.AStart, a.AIndex, a.AValue,
		integrality, a.Maximize, 0)
	return errors.Wrap(err, "lp: pass model to HiGHS")
}

// Row returns the sparse row i of a.
func (a *Arrays) Row(i int) (index []int, value []float64) {
	end := len(a.AIndex)
	if i+1 < a.NumRow {
		end = a.AStart[i+1]
	}
	return a.AIndex[a.AStart[i]:end], a.AValue[a.AStart[i]:end]
}

// NNZ is the number of stored coefficients.
func (a *Arrays) NNZ() int { return len(a.AValue) }

// Describe is a short summary used in log lines.
func (a *Arrays) Describe() string {
	return strconv.Itoa(a.NumCol) + " cols, " + strconv.Itoa(a.NumRow) + " rows, " + strconv.Itoa(a.NNZ()) + " nnz"
}
