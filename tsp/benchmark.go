package tsp

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
)

// BenchmarkPath is <results>/concorde/<n>n_<timestamp>.csv.
func BenchmarkPath(cfg l2b.ExperimentConfig, now time.Time) string {
	return filepath.Join(cfg.ResultsRoot, "concorde", fmt.Sprintf("%s_%s.csv", l2b.SizeTag(cfg.Size), now.Format("20060102-150405")))
}

// Entry is one benchmark row.
type Entry struct {
	Instance string
	WallTime float64
	Cost     float64
	Cached   bool
}

// Solve returns the exact solution of the instance behind lpPath. A solution
// already stored in the JSON sidecar is reused; a new one is validated and
// stored there.
func Solve(ctx context.Context, lpPath string, timeLimit float64) (*l2b.Solution, bool, error) {
	sidecar := generator.SidecarPath(lpPath)
	inst, err := l2b.ReadInstance(sidecar)
	if err != nil {
		return nil, false, err
	}
	if inst.Solution != nil && inst.Solution.Optimal {
		if _, err := ValidateTour(inst, inst.Solution.Tour); err == nil {
			return inst.Solution, true, nil
		}
		glog.Warningf("%s: cached tour is invalid, solving again", sidecar)
	}

	res, err := SolveTSP(ctx, l2b.CalcEdgeDist(inst.NodeCoordinates, inst.EdgeWeightType), timeLimit)
	if err != nil {
		return nil, false, err
	}
	cost, err := ValidateTour(inst, res.Tour)
	if err != nil {
		return nil, false, errors.Wrapf(err, "tsp: %s", lpPath)
	}
	sol := &l2b.Solution{
		Cost:     cost,
		Optimal:  res.Optimal,
		Tour:     res.Tour,
		Time:     time.Duration(res.WallTime * float64(time.Second)).String(),
		WallTime: res.WallTime,
		System:   l2b.SystemInfo(),
		Comment:  fmt.Sprintf("%d MIP rounds, %d subtour cuts", res.Rounds, res.SECs),
	}
	inst.Solution = sol
	if err = l2b.WriteInstance(sidecar, inst); err != nil {
		return nil, false, err
	}
	return sol, false, nil
}

// Benchmark solves every instance exactly and writes one row per solved
// instance to out. Instances without a solution are logged and left out.
func Benchmark(ctx context.Context, instances []string, out string, timeLimit float64) ([]Entry, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return nil, errors.Wrapf(err, "tsp: create %s", filepath.Dir(out))
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, errors.Wrapf(err, "tsp: create %s", out)
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err = w.Write([]string{"instance", "walltime", "cost"}); err != nil {
		return nil, errors.Wrapf(err, "tsp: write %s", out)
	}

	var entries []Entry
	for _, path := range instances {
		if err = ctx.Err(); err != nil {
			return entries, err
		}
		sol, cached, err := Solve(ctx, path, timeLimit)
		if err != nil {
			if ctx.Err() != nil {
				return entries, ctx.Err()
			}
			glog.Warningf("%s: %v", path, err)
			continue
		}
		e := Entry{Instance: path, WallTime: sol.WallTime, Cost: sol.Cost, Cached: cached}
		entries = append(entries, e)
		if err = w.Write([]string{e.Instance, strconv.FormatFloat(e.WallTime, 'g', -1, 64), strconv.FormatFloat(e.Cost, 'g', -1, 64)}); err != nil {
			return entries, errors.Wrapf(err, "tsp: write %s", out)
		}
		w.Flush()
		if err = w.Error(); err != nil {
			return entries, errors.Wrapf(err, "tsp: flush %s", out)
		}
		glog.Infof("%s: %.4f in %.2f s (cached %t)", filepath.Base(path), e.Cost, e.WallTime, cached)
	}
	return entries, nil
}
