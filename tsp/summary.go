package tsp

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
)

// SummaryFields are the columns written by Summarize.
var SummaryFields = []string{"name", "optimal", "time", "cost", "dimension", "comment"}

// Summarize writes one CSV row per instance sidecar in dir. Stored tours are
// validated again; a tour that fails is kept with the error in its
// comment. Instances without a solution get an empty row.
func Summarize(w io.Writer, dir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, errors.Wrapf(err, "tsp: list %s", dir)
	}
	sort.Strings(files)
	cw := csv.NewWriter(w)
	if err = cw.Write(SummaryFields); err != nil {
		return 0, err
	}
	n := 0
	for _, path := range files {
		inst, err := l2b.ReadInstance(path)
		if err != nil {
			return n, err
		}
		var sol l2b.Solution
		if inst.Solution != nil {
			sol = *inst.Solution
			if _, err = ValidateTour(inst, sol.Tour); err != nil {
				sol.Comment += fmt.Sprintf(" INVALID: %v", err)
			}
		}
		if err = cw.Write([]string{
			inst.Name,
			strconv.FormatBool(sol.Optimal),
			sol.Time,
			strconv.FormatFloat(sol.Cost, 'f', 4, 64),
			strconv.Itoa(inst.Dimension),
			sol.Comment,
		}); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	return n, cw.Error()
}
