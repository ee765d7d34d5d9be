// Package evaluate compares branching policies on test instances and
// records one CSV row per solve.
package evaluate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/process"
	"gonum.org/v1/gonum/stat"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/env"
	"github.com/loaychlih/Travel-the-Same-Path/policy"
)

// Instance is one instance file and the set it belongs to.
type Instance struct {
	Type string
	Path string
}

// Instances lists the test split of the experiment size followed by its
// transfer splits.
func Instances(cfg l2b.ExperimentConfig) []Instance {
	var out []Instance
	for i := 1; i <= cfg.Instances.Test; i++ {
		out = append(out, Instance{Type: fmt.Sprintf("tsp%d", cfg.Size), Path: cfg.InstancePath("test", i)})
	}
	for _, m := range cfg.TransferSizes {
		for i := 1; i <= cfg.Instances.Transfer; i++ {
			out = append(out, Instance{Type: "transfer-" + l2b.SizeTag(m), Path: cfg.InstancePath(l2b.TransferSplit(m), i)})
		}
	}
	return out
}

// ResultsPath is <results>/<load>-on-<n>n_<timestamp>.csv.
func ResultsPath(cfg l2b.ExperimentConfig, load int, now time.Time) string {
	return filepath.Join(cfg.ResultsRoot, fmt.Sprintf("%d-on-%s_%s.csv", load, l2b.SizeTag(cfg.Size), now.Format("20060102-150405")))
}

// ModelPath resolves the checkpoint a learned policy is evaluated with:
// the imitation model of size n for load 0, otherwise the reinforcement
// model that started from size load.
func ModelPath(cfg l2b.ExperimentConfig, load int) string {
	if load == 0 {
		return filepath.Join(cfg.ImitationDir(cfg.Size), "train_params.json")
	}
	return filepath.Join(cfg.ReinforceDir(load, cfg.Size), "train_params.json")
}

type Config struct {
	Seed     int64
	Env      env.Config
	Policies []string // "type:name"
}

func DefaultConfig() Config {
	return Config{
		Seed:     545,
		Env:      env.DefaultConfig(),
		Policies: []string{"internal:relpscost", "gnn:imitation"},
	}
}

// Harness solves every instance with every policy.
type Harness struct {
	cfg      Config
	policies []*policy.Policy
	out      *Writer

	// Environment constructors; tests replace them.
	Branching   func(cfg env.Config) env.Environment
	Configuring func(cfg env.Config) (env.Environment, error)
}

// NewHarness parses the policies and loads the learned models through
// cache, each one once.
func NewHarness(cfg Config, cache *policy.Cache, out *Writer) (*Harness, error) {
	h := &Harness{
		cfg: cfg,
		out: out,
		Branching: func(c env.Config) env.Environment {
			return env.NewBranching(c)
		},
		Configuring: func(c env.Config) (env.Environment, error) {
			return env.NewConfiguring(c)
		},
	}
	for _, s := range cfg.Policies {
		p, err := policy.Parse(s)
		if err != nil {
			return nil, err
		}
		if err = cache.Resolve(p); err != nil {
			return nil, err
		}
		h.policies = append(h.policies, p)
	}
	return h, nil
}

// Run evaluates every policy on every instance and returns the records.
func (h *Harness) Run(ctx context.Context, instances []Instance) ([]Record, error) {
	glog.Infof("system: %+v", l2b.SystemInfo())
	glog.Infof("time limit: %g s", h.cfg.Env.TimeLimit)
	var records []Record
	for _, inst := range instances {
		glog.Infof("%s: %s...", inst.Type, inst.Path)
		for _, p := range h.policies {
			if err := ctx.Err(); err != nil {
				return records, err
			}
			r, err := h.solve(ctx, inst, p)
			if err != nil {
				return records, errors.Wrapf(err, "evaluate: %s on %s", p, inst.Path)
			}
			if h.out != nil {
				if err = h.out.Write(r); err != nil {
					return records, err
				}
			}
			records = append(records, r)
			glog.Infof("  %s %d: %d nodes %d lps %.2f (%.2f wall %.2f proc) s. %s",
				r.Policy, r.Seed, r.Nodes, r.LPs, r.SolveTime, r.WallTime, r.ProcTime, r.Status)
		}
	}
	summarize(records)
	return records, nil
}

func (h *Harness) solve(ctx context.Context, inst Instance, p *policy.Policy) (Record, error) {
	cfg := h.cfg.Env
	cfg.Seed = h.cfg.Seed
	var (
		e   env.Environment
		err error
	)
	if p.Type == policy.Internal {
		cfg.Rule = p.Name
		if e, err = h.Configuring(cfg); err != nil {
			return Record{}, err
		}
	} else {
		e = h.Branching(cfg)
	}
	defer e.Close()

	wall := time.Now()
	proc := procTime()
	t, err := e.Reset(ctx, inst.Path)
	if err != nil {
		return Record{}, err
	}
	if p.Type == policy.Internal {
		_, err = e.Step(ctx, 0)
	} else {
		for !t.Done && err == nil {
			var action int
			if action, err = p.Decide(ctx, t); err == nil {
				t, err = e.Step(ctx, action)
			}
		}
	}
	if err != nil && ctx.Err() == nil {
		return Record{}, err
	}
	st := e.Stats()
	return Record{
		Policy:    p.String(),
		Seed:      h.cfg.Seed,
		Type:      inst.Type,
		Instance:  inst.Path,
		Nodes:     st.Nodes,
		LPs:       st.LPs,
		SolveTime: st.SolveTime,
		Gap:       st.Gap,
		Status:    string(st.Status),
		WallTime:  time.Since(wall).Seconds(),
		ProcTime:  procTime() - proc,
	}, nil
}

// procTime is the CPU time of this process so far, 0 if unavailable.
func procTime() float64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	t, err := p.Times()
	if err != nil {
		return 0
	}
	return t.User + t.System
}

// summarize logs the mean node count and solve time per policy and type.
func summarize(records []Record) {
	type key struct{ policy, typ string }
	nodes := make(map[key][]float64)
	times := make(map[key][]float64)
	var order []key
	for _, r := range records {
		k := key{r.Policy, r.Type}
		if _, ok := nodes[k]; !ok {
			order = append(order, k)
		}
		nodes[k] = append(nodes[k], float64(r.Nodes))
		times[k] = append(times[k], r.SolveTime)
	}
	for _, k := range order {
		glog.Infof("%s on %s: %d solves, %.1f nodes, %.2f s on average",
			k.policy, k.typ, len(nodes[k]), stat.Mean(nodes[k], nil), stat.Mean(times[k], nil))
	}
}
