package lp

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type section int

const (
	secNone section = iota
	secObjective
	secConstraints
	secBounds
	secBinaries
	secGenerals
	secEnd
)

var sectionNames = map[string]section{
	"minimize": secObjective, "minimum": secObjective, "min": secObjective,
	"maximize": secObjective, "maximum": secObjective, "max": secObjective,
	"subject to": secConstraints, "such that": secConstraints, "st": secConstraints, "s.t.": secConstraints,
	"bounds": secBounds, "bound": secBounds,
	"binaries": secBinaries, "binary": secBinaries, "bin": secBinaries,
	"generals": secGenerals, "general": secGenerals, "gen": secGenerals, "integers": secGenerals,
	"end": secEnd,
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokNum
	tokOp
	tokColon
)

type token struct {
	kind tokKind
	text string
	num  float64
	line int
}

type rawTerm struct {
	name string
	coef float64
}

type rawRow struct {
	name  string
	terms []rawTerm
	sense Sense
	rhs   float64

	indicator bool
	binary    string
	value     int
}

type bound struct {
	lower, upper float64
}

// reader collects the sections of one LP file before the model is built,
// since variable types are only known once Binaries and Generals are read.
type reader struct {
	name     string
	maximize bool
	objName  string
	obj      []rawTerm
	rows     []rawRow
	bounds   map[string]*bound
	types    map[string]VarType
	order    []string
	seen     map[string]bool
}

// Read parses the CPLEX LP subset produced by Write: one objective,
// linear rows, indicator rows, bounds, binaries and generals.
func Read(r io.Reader) (*Model, error) {
	rd := &reader{
		objName: "obj",
		bounds:  make(map[string]*bound),
		types:   make(map[string]VarType),
		seen:    make(map[string]bool),
	}

	var (
		cur    = secNone
		tokens []token
	)
	flush := func() error {
		if err := rd.parseSection(cur, tokens); err != nil {
			return err
		}
		tokens = tokens[:0]
		return nil
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if strings.HasPrefix(line, `\Problem name:`) {
			rd.name = strings.TrimSpace(strings.TrimPrefix(line, `\Problem name:`))
			continue
		}
		if i := strings.IndexByte(line, '\\'); i >= 0 {
			line = line[:i]
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(strings.Join(strings.Fields(trimmed), " "))
		if sec, ok := sectionNames[key]; ok {
			if err := flush(); err != nil {
				return nil, err
			}
			if sec == secObjective {
				rd.maximize = strings.HasPrefix(key, "max")
			}
			cur = sec
			if cur == secEnd {
				break
			}
			continue
		}
		if cur == secNone {
			return nil, errors.Wrapf(ErrSyntax, "line %d: content before objective section", lineNo)
		}
		lineTokens, err := tokenize(line, lineNo)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, lineTokens...)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "lp: read")
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return rd.build()
}

// ReadFile reads the LP file at path.
func ReadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "lp: open %s", path)
	}
	defer f.Close()
	m, err := Read(f)
	if err != nil {
		return nil, errors.Wrapf(err, "lp: %s", path)
	}
	return m, nil
}

func (rd *reader) use(name string) {
	if !rd.seen[name] {
		rd.seen[name] = true
		rd.order = append(rd.order, name)
	}
}

func (rd *reader) parseSection(sec section, toks []token) error {
	p := &parser{toks: toks}
	switch sec {
	case secNone, secEnd:
		return nil
	case secObjective:
		if p.peekLabel() {
			rd.objName = p.next().text
			p.next()
		}
		terms, err := p.expr()
		if err != nil {
			return err
		}
		if !p.done() {
			return p.errorf("unexpected %q in objective", p.peek().text)
		}
		rd.obj = terms
		for _, t := range terms {
			rd.use(t.name)
		}
	case secConstraints:
		for !p.done() {
			row, err := p.row()
			if err != nil {
				return err
			}
			if row.indicator {
				rd.use(row.binary)
			}
			for _, t := range row.terms {
				rd.use(t.name)
			}
			rd.rows = append(rd.rows, row)
		}
	case secBounds:
		for !p.done() {
			if err := rd.parseBound(p); err != nil {
				return err
			}
		}
	case secBinaries, secGenerals:
		typ := Binary
		if sec == secGenerals {
			typ = Integer
		}
		for !p.done() {
			t := p.next()
			if t.kind != tokIdent {
				return p.errorf("expected variable name, got %q", t.text)
			}
			rd.use(t.text)
			rd.types[t.text] = typ
		}
	}
	return nil
}

func (rd *reader) parseBound(p *parser) error {
	b := func(name string) *bound {
		rd.use(name)
		if rd.bounds[name] == nil {
			rd.bounds[name] = &bound{lower: 0, upper: math.Inf(1)}
		}
		return rd.bounds[name]
	}

	if t := p.peek(); t.kind == tokIdent && !isInf(t.text) {
		name := p.next().text
		if n := p.peek(); n.kind == tokIdent && strings.EqualFold(n.text, "free") {
			p.next()
			bd := b(name)
			bd.lower, bd.upper = math.Inf(-1), math.Inf(1)
			return nil
		}
		sense, err := p.sense()
		if err != nil {
			return err
		}
		val, err := p.value()
		if err != nil {
			return err
		}
		bd := b(name)
		switch sense {
		case LessEqual:
			bd.upper = val
		case GreaterEqual:
			bd.lower = val
		default:
			bd.lower, bd.upper = val, val
		}
		return nil
	}

	lo, err := p.value()
	if err != nil {
		return err
	}
	sense, err := p.sense()
	if err != nil {
		return err
	}
	t := p.next()
	if t.kind != tokIdent {
		return p.errorf("expected variable name in bound, got %q", t.text)
	}
	bd := b(t.text)
	switch sense {
	case LessEqual:
		bd.lower = lo
	case GreaterEqual:
		bd.upper = lo
	default:
		bd.lower, bd.upper = lo, lo
		return nil
	}
	if n := p.peek(); n.kind == tokOp && senseOf(n.text) >= 0 {
		sense2, _ := p.sense()
		up, err := p.value()
		if err != nil {
			return err
		}
		if sense2 == LessEqual {
			bd.upper = up
		} else {
			bd.lower = up
		}
	}
	return nil
}

func (rd *reader) build() (*Model, error) {
	m := NewModel(rd.name)
	m.ObjName = rd.objName

	for _, name := range rd.order {
		typ := rd.types[name]
		lo, up := 0.0, math.Inf(1)
		if typ == Binary {
			up = 1
		}
		if bd := rd.bounds[name]; bd != nil {
			lo, up = bd.lower, bd.upper
		}
		if _, err := m.AddVar(name, typ, lo, up); err != nil {
			return nil, err
		}
		if typ == Binary && rd.bounds[name] != nil {
			m.Vars[len(m.Vars)-1].Lower, m.Vars[len(m.Vars)-1].Upper = lo, up
		}
	}

	if err := m.SetObjective(m.resolve(rd.obj), rd.maximize); err != nil {
		return nil, err
	}
	for _, r := range rd.rows {
		terms := m.resolve(r.terms)
		if !r.indicator {
			if err := m.AddConstr(r.name, terms, r.sense, r.rhs); err != nil {
				return nil, err
			}
			continue
		}
		bin, _ := m.VarIndex(r.binary)
		if err := m.AddIndicator(r.name, bin, r.value, terms, r.sense, r.rhs); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Model) resolve(raw []rawTerm) []Term {
	terms := make([]Term, 0, len(raw))
	for _, t := range raw {
		idx, _ := m.VarIndex(t.name)
		terms = append(terms, Term{Var: idx, Coef: t.coef})
	}
	return terms
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokOp, text: "<eof>"}
	}
	return p.toks[p.pos]
}

func (p *parser) peekAt(k int) token {
	if p.pos+k >= len(p.toks) {
		return token{kind: tokOp, text: "<eof>"}
	}
	return p.toks[p.pos+k]
}

func (p *parser) next() token {
	t := p.peek()
	p.pos++
	return t
}

func (p *parser) peekLabel() bool {
	return p.peek().kind == tokIdent && p.peekAt(1).kind == tokColon
}

func (p *parser) errorf(format string, args ...interface{}) error {
	line := 0
	if n := len(p.toks); n > 0 {
		i := p.pos
		if i >= n {
			i = n - 1
		}
		line = p.toks[i].line
	}
	return errors.Wrapf(ErrSyntax, "line %d: "+format, append([]interface{}{line}, args...)...)
}

// row parses "[name:] expr sense rhs" or "[name:] bin = v -> expr sense rhs".
func (p *parser) row() (rawRow, error) {
	var row rawRow
	if p.peekLabel() {
		row.name = p.next().text
		p.next()
	}
	if p.peek().kind == tokIdent && p.peekAt(1).text == "=" &&
		p.peekAt(2).kind == tokNum && p.peekAt(3).text == "->" {
		row.indicator = true
		row.binary = p.next().text
		p.next()
		v := p.next().num
		if v != 0 && v != 1 {
			return row, p.errorf("indicator %s activates on %v, want 0 or 1", row.name, v)
		}
		row.value = int(v)
		p.next()
	}
	terms, err := p.expr()
	if err != nil {
		return row, err
	}
	if len(terms) == 0 {
		return row, p.errorf("row %s has no terms", row.name)
	}
	row.terms = terms
	if row.sense, err = p.sense(); err != nil {
		return row, err
	}
	if row.rhs, err = p.value(); err != nil {
		return row, err
	}
	return row, nil
}

// expr parses a sum of [sign] [coef] name terms, stopping at a sense
// operator, a label or the end of input.
func (p *parser) expr() ([]rawTerm, error) {
	var terms []rawTerm
	for !p.done() {
		t := p.peek()
		if t.kind == tokOp && senseOf(t.text) >= 0 || t.text == "->" {
			break
		}
		if len(terms) > 0 && p.peekLabel() {
			break
		}
		sign := 1.0
		signed := false
		for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
			if p.next().text == "-" {
				sign = -sign
			}
			signed = true
		}
		if len(terms) > 0 && !signed {
			return nil, p.errorf("missing operator before %q", p.peek().text)
		}
		coef := 1.0
		if p.peek().kind == tokNum {
			coef = p.next().num
		}
		name := p.next()
		if name.kind != tokIdent {
			return nil, p.errorf("expected variable name, got %q", name.text)
		}
		terms = append(terms, rawTerm{name: name.text, coef: sign * coef})
	}
	return terms, nil
}

func (p *parser) sense() (Sense, error) {
	t := p.next()
	s := senseOf(t.text)
	if t.kind != tokOp || s < 0 {
		return 0, p.errorf("expected <=, >= or =, got %q", t.text)
	}
	return Sense(s), nil
}

// value parses a signed number or +-inf.
func (p *parser) value() (float64, error) {
	sign := 1.0
	for p.peek().kind == tokOp && (p.peek().text == "+" || p.peek().text == "-") {
		if p.next().text == "-" {
			sign = -sign
		}
	}
	t := p.next()
	switch {
	case t.kind == tokNum:
		return sign * t.num, nil
	case t.kind == tokIdent && isInf(t.text):
		return sign * math.Inf(1), nil
	}
	return 0, p.errorf("expected number, got %q", t.text)
}

func senseOf(op string) int {
	switch op {
	case "<=", "=<", "<":
		return int(LessEqual)
	case ">=", "=>", ">":
		return int(GreaterEqual)
	case "=":
		return int(Equal)
	}
	return -1
}

func isInf(s string) bool {
	s = strings.ToLower(s)
	return s == "inf" || s == "infinity"
}

func tokenize(line string, lineNo int) ([]token, error) {
	var toks []token
	i := 0
	for i < len(line) {
		c := line[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == ':':
			toks = append(toks, token{kind: tokColon, text: ":", line: lineNo})
			i++
		case c == '+':
			toks = append(toks, token{kind: tokOp, text: "+", line: lineNo})
			i++
		case c == '-':
			if i+1 < len(line) && line[i+1] == '>' {
				toks = append(toks, token{kind: tokOp, text: "->", line: lineNo})
				i += 2
			} else {
				toks = append(toks, token{kind: tokOp, text: "-", line: lineNo})
				i++
			}
		case c == '<' || c == '>' || c == '=':
			j := i + 1
			if j < len(line) && (line[j] == '=' || line[j] == '<' || line[j] == '>') && line[j] != c {
				j++
			}
			toks = append(toks, token{kind: tokOp, text: line[i:j], line: lineNo})
			i = j
		case c >= '0' && c <= '9' || c == '.':
			j := i
			for j < len(line) && (line[j] >= '0' && line[j] <= '9' || line[j] == '.') {
				j++
			}
			if j < len(line) && (line[j] == 'e' || line[j] == 'E') {
				k := j + 1
				if k < len(line) && (line[k] == '+' || line[k] == '-') {
					k++
				}
				if k < len(line) && line[k] >= '0' && line[k] <= '9' {
					for k < len(line) && line[k] >= '0' && line[k] <= '9' {
						k++
					}
					j = k
				}
			}
			v, err := strconv.ParseFloat(line[i:j], 64)
			if err != nil {
				return nil, errors.Wrapf(ErrSyntax, "line %d: bad number %q", lineNo, line[i:j])
			}
			toks = append(toks, token{kind: tokNum, text: line[i:j], num: v, line: lineNo})
			i = j
		default:
			j := i
			for j < len(line) && isNameChar(line[j]) {
				j++
			}
			if j == i {
				return nil, errors.Wrapf(ErrSyntax, "line %d: unexpected character %q", lineNo, c)
			}
			toks = append(toks, token{kind: tokIdent, text: line[i:j], line: lineNo})
			i = j
		}
	}
	return toks, nil
}

func isNameChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	}
	return strings.IndexByte("_!\"#$%&()/,.;?@`'{}|~[]^", c) >= 0
}
