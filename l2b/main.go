// Command l2b runs the stages of a learning-to-branch experiment on TSP
// instances: instance generation, expert sample collection, imitation and
// reinforcement training, policy evaluation and the exact benchmark.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/urfave/cli"

	l2b "github.com/loaychlih/Travel-the-Same-Path"
	"github.com/loaychlih/Travel-the-Same-Path/collect"
	"github.com/loaychlih/Travel-the-Same-Path/evaluate"
	"github.com/loaychlih/Travel-the-Same-Path/generator"
	"github.com/loaychlih/Travel-the-Same-Path/imitation"
	"github.com/loaychlih/Travel-the-Same-Path/policy"
	"github.com/loaychlih/Travel-the-Same-Path/reinforce"
	"github.com/loaychlih/Travel-the-Same-Path/train"
	"github.com/loaychlih/Travel-the-Same-Path/tsp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	app := cli.NewApp()
	app.Name = "l2b"
	app.Usage = "learning to branch on TSP instances"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "config", Usage: "JSON experiment config laid over the defaults"},
		cli.IntFlag{Name: "log-v", Usage: "glog verbosity"},
	}
	app.Before = func(c *cli.Context) error {
		flag.CommandLine.Parse(nil)
		flag.Set("logtostderr", "true")
		return flag.Set("v", strconv.Itoa(c.GlobalInt("log-v")))
	}
	app.Commands = []cli.Command{
		{
			Name:   "generate",
			Usage:  "write the train, valid, test and transfer instance splits",
			Flags:  append(sizeFlags(), splitFlags()...),
			Action: func(c *cli.Context) error { return generate(c) },
		},
		{
			Name:   "collect",
			Usage:  "record expert branching decisions on the train, valid and test splits",
			Flags:  append(sizeFlags(), recordFlag()),
			Action: func(c *cli.Context) error { return collectSamples(ctx, c) },
		},
		{
			Name:   "train-imitation",
			Usage:  "train the branching model on recorded expert decisions",
			Flags:  append(sizeFlags(), gpuFlag(), recordFlag(), cli.IntFlag{Name: "epochs", Value: imitation.DefaultConfig().MaxEpochs}),
			Action: func(c *cli.Context) error { return trainImitation(ctx, c) },
		},
		{
			Name:  "train-reinforce",
			Usage: "refine a model with policy gradient and tune the branching score factor",
			Flags: append(sizeFlags(), gpuFlag(), loadFlag(),
				cli.IntFlag{Name: "episodes", Value: reinforce.DefaultConfig().Episodes},
				cli.IntFlag{Name: "tune-iterations", Value: reinforce.DefaultTunerConfig().Iterations, Usage: "0 skips tuning"},
			),
			Action: func(c *cli.Context) error { return trainReinforce(ctx, c) },
		},
		{
			Name:  "evaluate",
			Usage: "solve the test and transfer splits with every policy",
			Flags: append(sizeFlags(), gpuFlag(), loadFlag(),
				cli.GenericFlag{Name: "policy", Value: &l2b.ArrayStringFlags{}, Usage: "type:name, repeatable"},
			),
			Action: func(c *cli.Context) error { return evaluatePolicies(ctx, c) },
		},
		{
			Name:   "benchmark",
			Usage:  "solve the test and transfer splits exactly",
			Flags:  sizeFlags(),
			Action: func(c *cli.Context) error { return benchmark(ctx, c) },
		},
		{
			Name:      "summarize",
			Usage:     "print the stored exact solutions of instance directories as CSV",
			ArgsUsage: "DIR...",
			Action:    summarize,
		},
	}

	if err := app.Run(os.Args); err != nil {
		glog.Exitf("%v", err)
	}
	glog.Flush()
}

func sizeFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{Name: "n, num", Usage: "tsp size, -1 for mixed"},
		cli.Int64Flag{Name: "seed", Usage: "random seed"},
		cli.Float64Flag{Name: "time-limit", Usage: "solver time limit in seconds"},
	}
}

func splitFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{Name: "t, train"},
		cli.IntFlag{Name: "v, valid"},
		cli.IntFlag{Name: "s, test"},
		cli.IntFlag{Name: "transfer"},
		cli.GenericFlag{Name: "transfer-sizes", Value: &l2b.ArrayIntFlags{}, Usage: "e.g. 7,10,30"},
	}
}

func gpuFlag() cli.Flag {
	return cli.IntFlag{Name: "g, gpu", Value: -1, Usage: "GPU id, accepted for compatibility; training runs on the CPU"}
}

func loadFlag() cli.Flag {
	return cli.IntFlag{Name: "l, load", Value: 15, Usage: "size the loaded model was trained on, -1 for mixed, 0 for a fresh model"}
}

func recordFlag() cli.Flag {
	return cli.Float64Flag{Name: "p, node-record-prob", Usage: "probability of recording a branching decision"}
}

// experiment builds the config of a command: defaults, the --config file,
// then the command flags that are set.
func experiment(c *cli.Context) (l2b.ExperimentConfig, error) {
	cfg := l2b.DefaultConfig()
	if path := c.GlobalString("config"); path != "" {
		var err error
		if cfg, err = l2b.LoadConfig(path); err != nil {
			return cfg, err
		}
	}
	if c.IsSet("n") {
		cfg.Size = c.Int("n")
		cfg.TransferSizes = l2b.TransferSizesFor(cfg.Size)
	}
	if c.IsSet("seed") {
		cfg.Seed = c.Int64("seed")
	}
	if c.IsSet("time-limit") {
		cfg.TimeLimit = c.Float64("time-limit")
	}
	if c.IsSet("p") {
		cfg.NodeRecordProb = c.Float64("p")
	}
	for name, dst := range map[string]*int{
		"train": &cfg.Instances.Train, "valid": &cfg.Instances.Valid,
		"test": &cfg.Instances.Test, "transfer": &cfg.Instances.Transfer,
	} {
		if c.IsSet(name) {
			*dst = c.Int(name)
		}
	}
	if sizes, ok := c.Generic("transfer-sizes").(*l2b.ArrayIntFlags); ok && len(*sizes) > 0 {
		cfg.TransferSizes = *sizes
	}
	if c.IsSet("g") {
		glog.Infof("gpu %d requested, running on the CPU", c.Int("g"))
	}
	return cfg, cfg.Validate()
}

func generate(c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	root := filepath.Join(cfg.ProblemDir(), "instances")
	return generator.Partition(root, generator.Splits(cfg), rand.New(rand.NewSource(cfg.Seed)), cfg.Seed)
}

func collectSamples(ctx context.Context, c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	ccfg := collect.DefaultConfig()
	ccfg.RecordProb = cfg.NodeRecordProb
	ccfg.Seed = cfg.Seed
	ccfg.Env.TimeLimit = cfg.TimeLimit
	ccfg.Env.Seed = cfg.Seed
	return collect.Run(ctx, cfg, ccfg)
}

func trainImitation(ctx context.Context, c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	trainData, err := imitation.OpenDir(cfg.SampleDir("train"))
	if err != nil {
		return err
	}
	validData, err := imitation.OpenDir(cfg.SampleDir("valid"))
	if err != nil {
		return err
	}
	glog.Infof("%d training samples, %d validation samples", trainData.Len(), validData.Len())

	icfg := imitation.DefaultConfig()
	icfg.MaxEpochs = c.Int("epochs")
	icfg.Seed = cfg.Seed
	icfg.RecordProb = cfg.NodeRecordProb
	t, err := imitation.NewTrainer(icfg, cfg.ImitationDir(cfg.Size))
	if err != nil {
		return err
	}
	defer t.Close()
	_, err = t.Run(ctx, trainData, validData)
	return err
}

func trainReinforce(ctx context.Context, c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	load := c.Int("l")
	var m *policy.Model
	if load == 0 {
		m = policy.NewModel(policy.DefaultHidden, cfg.Seed)
	} else if m, err = policy.Load(filepath.Join(cfg.ImitationDir(load), "train_params.json")); err != nil {
		return err
	}
	trainSet, err := collect.Instances(cfg, "train")
	if err != nil {
		return err
	}
	validSet, err := collect.Instances(cfg, "valid")
	if err != nil {
		return err
	}

	rcfg := reinforce.DefaultConfig()
	rcfg.Episodes = c.Int("episodes")
	rcfg.Seed = cfg.Seed
	rcfg.Env.Seed = cfg.Seed
	rcfg.Env.TimeLimit = cfg.TimeLimit
	dir := cfg.ReinforceDir(load, cfg.Size)
	t, err := reinforce.NewTrainer(rcfg, m, dir)
	if err != nil {
		return err
	}
	defer t.Close()
	if _, err = t.Run(ctx, trainSet, validSet); err != nil {
		return err
	}

	tcfg := reinforce.DefaultTunerConfig()
	tcfg.Iterations = c.Int("tune-iterations")
	tcfg.Seed = cfg.Seed
	if tcfg.Iterations <= 0 {
		return nil
	}
	log, err := train.NewLogger(filepath.Join(dir, "tune_log.txt"))
	if err != nil {
		return err
	}
	defer log.Close()
	res, err := reinforce.NewTuner(tcfg).Run(ctx, reinforce.EnvObjective(rcfg.Env, trainSet), filepath.Join(dir, "score_factor.json"), log)
	if err != nil {
		return err
	}
	log.Printf("BEST SCORE FACTOR: %0.4f (%g LP iterations)", res.ScoreFactor, res.LPIterations)
	return nil
}

func evaluatePolicies(ctx context.Context, c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	load := c.Int("l")
	cache := policy.NewCache(func(name string) string {
		if filepath.Ext(name) == ".json" {
			return name
		}
		return evaluate.ModelPath(cfg, load)
	})

	ecfg := evaluate.DefaultConfig()
	ecfg.Seed = cfg.Seed
	ecfg.Env.Seed = cfg.Seed
	ecfg.Env.TimeLimit = cfg.TimeLimit
	if ps, ok := c.Generic("policy").(*l2b.ArrayStringFlags); ok && len(*ps) > 0 {
		ecfg.Policies = *ps
	}

	out, err := evaluate.Create(evaluate.ResultsPath(cfg, load, time.Now()))
	if err != nil {
		return err
	}
	defer out.Close()
	h, err := evaluate.NewHarness(ecfg, cache, out)
	if err != nil {
		return err
	}
	glog.Infof("writing %s", out.Path())
	_, err = h.Run(ctx, evaluate.Instances(cfg))
	return err
}

func benchmark(ctx context.Context, c *cli.Context) error {
	cfg, err := experiment(c)
	if err != nil {
		return err
	}
	var paths []string
	for _, inst := range evaluate.Instances(cfg) {
		paths = append(paths, inst.Path)
	}
	out := tsp.BenchmarkPath(cfg, time.Now())
	entries, err := tsp.Benchmark(ctx, paths, out, cfg.TimeLimit)
	if err != nil {
		return err
	}
	glog.Infof("%d of %d instances solved, %s", len(entries), len(paths), out)
	return nil
}

func summarize(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.NewExitError("summarize: no directory given", 2)
	}
	for _, dir := range c.Args() {
		if _, err := tsp.Summarize(os.Stdout, dir); err != nil {
			return err
		}
	}
	return nil
}
