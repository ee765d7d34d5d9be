package evaluate

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Fields are the results CSV columns, in order.
var Fields = []string{"policy", "seed", "type", "instance", "nnodes", "nlps", "stime", "gap", "status", "walltime", "proctime"}

// Record is one (instance, policy) solve.
type Record struct {
	Policy    string
	Seed      int64
	Type      string
	Instance  string
	Nodes     int
	LPs       int
	SolveTime float64
	Gap       float64
	Status    string
	WallTime  float64
	ProcTime  float64
}

func (r Record) row() []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return []string{
		r.Policy,
		strconv.FormatInt(r.Seed, 10),
		r.Type,
		r.Instance,
		strconv.Itoa(r.Nodes),
		strconv.Itoa(r.LPs),
		f(r.SolveTime),
		f(r.Gap),
		r.Status,
		f(r.WallTime),
		f(r.ProcTime),
	}
}

// Writer appends records to a CSV file, flushing after each one.
type Writer struct {
	f *os.File
	w *csv.Writer
}

// Create opens path, writing the header.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "evaluate: create %s", filepath.Dir(path))
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluate: create %s", path)
	}
	w := &Writer{f: f, w: csv.NewWriter(f)}
	if err = w.write(Fields); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) write(row []string) error {
	if err := w.w.Write(row); err != nil {
		return errors.Wrapf(err, "evaluate: write %s", w.f.Name())
	}
	w.w.Flush()
	return errors.Wrapf(w.w.Error(), "evaluate: flush %s", w.f.Name())
}

func (w *Writer) Write(r Record) error { return w.write(r.row()) }

func (w *Writer) Path() string { return w.f.Name() }

func (w *Writer) Close() error {
	w.w.Flush()
	return w.f.Close()
}
