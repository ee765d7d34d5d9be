// Package lp holds an in-memory mixed-integer linear program, writes and
// reads it in CPLEX LP text format, and hands it to HiGHS.
//
// Indicator constraints are kept as such in the model and in LP files.
// Solvers without indicator support get a big-M linearisation (see
// Linearize), which needs finite bounds on every variable of the
// indicator's linear part.
package lp

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrDuplicateName      = errors.New("lp: duplicate name")
	ErrUnknownVar         = errors.New("lp: unknown variable")
	ErrNotBinary          = errors.New("lp: indicator variable is not binary")
	ErrUnboundedIndicator = errors.New("lp: indicator expression is unbounded")
	ErrEmptyRow           = errors.New("lp: row without terms")
	ErrSyntax             = errors.New("lp: syntax error")
)

type VarType int

const (
	Continuous VarType = iota
	Binary
	Integer
)

func (t VarType) String() string {
	switch t {
	case Binary:
		return "binary"
	case Integer:
		return "integer"
	default:
		return "continuous"
	}
}

type Sense int

const (
	LessEqual Sense = iota
	Equal
	GreaterEqual
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	default:
		return "="
	}
}

type Var struct {
	Name  string
	Type  VarType
	Lower float64
	Upper float64
}

// Term is Coef * Vars[Var].
type Term struct {
	Var  int
	Coef float64
}

type Constr struct {
	Name  string
	Terms []Term
	Sense Sense
	RHS   float64
}

// Indicator enforces Constr whenever Vars[Binary] == Value.
type Indicator struct {
	Name   string
	Binary int
	Value  int
	Constr Constr
}

type Model struct {
	Name       string
	Maximize   bool
	ObjName    string
	Objective  []Term
	Vars       []Var
	Constrs    []Constr
	Indicators []Indicator

	varIndex map[string]int
	rowNames map[string]bool
}

func NewModel(name string) *Model {
	return &Model{
		Name:     name,
		ObjName:  "obj",
		varIndex: make(map[string]int),
		rowNames: make(map[string]bool),
	}
}

// AddVar appends a variable and returns its column. Binary variables are
// always bounded to [0, 1].
func (m *Model) AddVar(name string, typ VarType, lower, upper float64) (int, error) {
	if _, ok := m.varIndex[name]; ok {
		return -1, errors.Wrapf(ErrDuplicateName, "variable %s", name)
	}
	if typ == Binary {
		lower, upper = 0, 1
	}
	m.Vars = append(m.Vars, Var{Name: name, Type: typ, Lower: lower, Upper: upper})
	m.varIndex[name] = len(m.Vars) - 1
	return len(m.Vars) - 1, nil
}

// VarIndex looks a variable up by name.
func (m *Model) VarIndex(name string) (int, bool) {
	i, ok := m.varIndex[name]
	return i, ok
}

func (m *Model) SetObjective(terms []Term, maximize bool) error {
	if err := m.checkTerms(terms); err != nil {
		return errors.Wrap(err, "objective")
	}
	m.Objective = terms
	m.Maximize = maximize
	return nil
}

func (m *Model) AddConstr(name string, terms []Term, sense Sense, rhs float64) error {
	name, err := m.claimRow(name)
	if err != nil {
		return err
	}
	if len(terms) == 0 {
		return errors.Wrapf(ErrEmptyRow, "constraint %s", name)
	}
	if err := m.checkTerms(terms); err != nil {
		return errors.Wrapf(err, "constraint %s", name)
	}
	m.Constrs = append(m.Constrs, Constr{Name: name, Terms: terms, Sense: sense, RHS: rhs})
	return nil
}

// AddIndicator adds "bin = value -> terms sense rhs".
func (m *Model) AddIndicator(name string, bin int, value int, terms []Term, sense Sense, rhs float64) error {
	name, err := m.claimRow(name)
	if err != nil {
		return err
	}
	if bin < 0 || bin >= len(m.Vars) {
		return errors.Wrapf(ErrUnknownVar, "indicator %s: column %d", name, bin)
	}
	if m.Vars[bin].Type != Binary {
		return errors.Wrapf(ErrNotBinary, "indicator %s: %s", name, m.Vars[bin].Name)
	}
	if value != 0 && value != 1 {
		return errors.Errorf("lp: indicator %s: activation value %d, want 0 or 1", name, value)
	}
	if len(terms) == 0 {
		return errors.Wrapf(ErrEmptyRow, "indicator %s", name)
	}
	if err := m.checkTerms(terms); err != nil {
		return errors.Wrapf(err, "indicator %s", name)
	}
	m.Indicators = append(m.Indicators, Indicator{
		Name:   name,
		Binary: bin,
		Value:  value,
		Constr: Constr{Terms: terms, Sense: sense, RHS: rhs},
	})
	return nil
}

// CountVars returns the number of variables of the given type.
func (m *Model) CountVars(typ VarType) int {
	count := 0
	for _, v := range m.Vars {
		if v.Type == typ {
			count++
		}
	}
	return count
}

// Constr returns the linear constraint called name.
func (m *Model) Constr(name string) (Constr, bool) {
	for _, c := range m.Constrs {
		if c.Name == name {
			return c, true
		}
	}
	return Constr{}, false
}

// claimRow reserves a row name; unnamed rows get c<k>.
func (m *Model) claimRow(name string) (string, error) {
	if name == "" {
		name = "c" + strconv.Itoa(len(m.Constrs)+len(m.Indicators)+1)
	}
	if m.rowNames[name] {
		return "", errors.Wrapf(ErrDuplicateName, "row %s", name)
	}
	m.rowNames[name] = true
	return name, nil
}

func (m *Model) checkTerms(terms []Term) error {
	for _, t := range terms {
		if t.Var < 0 || t.Var >= len(m.Vars) {
			return errors.Wrapf(ErrUnknownVar, "column %d", t.Var)
		}
		if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
			return errors.Errorf("lp: coefficient %v on %s", t.Coef, m.Vars[t.Var].Name)
		}
	}
	return nil
}

// activityRange returns the smallest and largest value sum(terms) can take
// within the variable bounds.
func (m *Model) activityRange(terms []Term) (lo, hi float64) {
	for _, t := range terms {
		v := m.Vars[t.Var]
		a, b := t.Coef*v.Lower, t.Coef*v.Upper
		if t.Coef == 0 {
			a, b = 0, 0
		}
		lo += math.Min(a, b)
		hi += math.Max(a, b)
	}
	return lo, hi
}

