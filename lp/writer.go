package lp

import (
	"bufio"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const termsPerLine = 8

// Write prints m in CPLEX LP format.
func (m *Model) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if m.Name != "" {
		bw.WriteString(`\Problem name: ` + m.Name + "\n\n")
	}
	if m.Maximize {
		bw.WriteString("Maximize\n")
	} else {
		bw.WriteString("Minimize\n")
	}
	bw.WriteString(" " + m.ObjName + ":")
	m.writeTerms(bw, m.Objective)
	bw.WriteString("\n")

	bw.WriteString("Subject To\n")
	for _, c := range m.Constrs {
		bw.WriteString(" " + c.Name + ":")
		m.writeTerms(bw, c.Terms)
		bw.WriteString(" " + c.Sense.String() + " " + formatNum(c.RHS) + "\n")
	}
	for _, ind := range m.Indicators {
		bw.WriteString(" " + ind.Name + ": " + m.Vars[ind.Binary].Name + " = " + strconv.Itoa(ind.Value) + " ->")
		m.writeTerms(bw, ind.Constr.Terms)
		bw.WriteString(" " + ind.Constr.Sense.String() + " " + formatNum(ind.Constr.RHS) + "\n")
	}

	bounds := false
	for _, v := range m.Vars {
		line := boundLine(v)
		if line == "" {
			continue
		}
		if !bounds {
			bw.WriteString("Bounds\n")
			bounds = true
		}
		bw.WriteString(" " + line + "\n")
	}

	m.writeNames(bw, "Binaries", Binary)
	m.writeNames(bw, "Generals", Integer)
	bw.WriteString("End\n")

	return errors.Wrap(bw.Flush(), "lp: write")
}

// WriteFile writes m to path, replacing any existing file.
func (m *Model) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "lp: create %s", path)
	}
	if err = m.Write(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "lp: %s", path)
	}
	return errors.Wrapf(f.Close(), "lp: close %s", path)
}

func (m *Model) writeTerms(bw *bufio.Writer, terms []Term) {
	for k, t := range terms {
		if k > 0 && k%termsPerLine == 0 {
			bw.WriteString("\n  ")
		}
		coef := t.Coef
		switch {
		case coef < 0:
			bw.WriteString(" - ")
			coef = -coef
		case k > 0:
			bw.WriteString(" + ")
		default:
			bw.WriteString(" ")
		}
		if coef != 1 {
			bw.WriteString(formatNum(coef) + " ")
		}
		bw.WriteString(m.Vars[t.Var].Name)
	}
}

func (m *Model) writeNames(bw *bufio.Writer, section string, typ VarType) {
	count := 0
	for _, v := range m.Vars {
		if v.Type != typ {
			continue
		}
		if count == 0 {
			bw.WriteString(section + "\n")
		}
		if count%termsPerLine == 0 {
			if count > 0 {
				bw.WriteString("\n")
			}
			bw.WriteString(" ")
		}
		bw.WriteString(" " + v.Name)
		count++
	}
	if count > 0 {
		bw.WriteString("\n")
	}
}

// boundLine returns the Bounds entry of v, or "" when the LP defaults
// ([0, inf) for continuous and general variables, [0, 1] for binaries)
// already describe it.
func boundLine(v Var) string {
	lo, up := v.Lower, v.Upper
	if v.Type == Binary {
		if lo == 0 && up == 1 {
			return ""
		}
	} else if lo == 0 && math.IsInf(up, 1) {
		return ""
	}
	switch {
	case math.IsInf(lo, -1) && math.IsInf(up, 1):
		return v.Name + " free"
	case lo == up:
		return v.Name + " = " + formatNum(lo)
	case math.IsInf(up, 1):
		return v.Name + " >= " + formatNum(lo)
	default:
		return formatNum(lo) + " <= " + v.Name + " <= " + formatNum(up)
	}
}

func formatNum(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
