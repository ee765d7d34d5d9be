package l2b

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"

	"github.com/pkg/errors"
)

// ExperimentConfig holds the values shared by every stage of an
// experiment. It replaces process-wide parameters: each stage receives
// the config it runs with.
type ExperimentConfig struct {
	Seed      int64   `json:"seed"`
	TimeLimit float64 `json:"time_limit"` // seconds, enforced by the solver
	Size      int     `json:"n"`

	Instances     SplitCounts `json:"instances"`
	TransferSizes []int       `json:"transfer_sizes"`
	Samples       SplitCounts `json:"samples"`

	NodeRecordProb float64 `json:"node_record_prob"`

	DataRoot    string `json:"data_root"`
	ModelRoot   string `json:"model_root"`
	ResultsRoot string `json:"results_root"`
}

// SplitCounts is the number of items per dataset split.
type SplitCounts struct {
	Train    int `json:"train"`
	Valid    int `json:"valid"`
	Test     int `json:"test"`
	Transfer int `json:"transfer"`
}

// DefaultConfig returns the values the experiments were run with.
func DefaultConfig() ExperimentConfig {
	return ExperimentConfig{
		Seed:           545,
		TimeLimit:      3600,
		Size:           15,
		Instances:      SplitCounts{Train: 10000, Valid: 2000, Test: 2000, Transfer: 100},
		TransferSizes:  TransferSizesFor(15),
		Samples:        SplitCounts{Train: 100000, Valid: 20000, Test: 20000},
		NodeRecordProb: 0.05,
		DataRoot:       "data",
		ModelRoot:      "model",
		ResultsRoot:    "results",
	}
}

// LoadConfig overlays the JSON file at path on top of DefaultConfig.
func LoadConfig(path string) (ExperimentConfig, error) {
	cfg := DefaultConfig()
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err = json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, cfg.Validate()
}

// Validate checks counts and sizes are usable.
func (c ExperimentConfig) Validate() error {
	if c.Size < 2 && c.Size != -1 {
		return errors.Errorf("config: problem size %d, want >= 2 (or -1 for mixed)", c.Size)
	}
	if c.TimeLimit <= 0 {
		return errors.Errorf("config: time limit %v, want > 0", c.TimeLimit)
	}
	for name, v := range map[string]int{
		"instances.train": c.Instances.Train, "instances.valid": c.Instances.Valid,
		"instances.test": c.Instances.Test, "instances.transfer": c.Instances.Transfer,
		"samples.train": c.Samples.Train, "samples.valid": c.Samples.Valid, "samples.test": c.Samples.Test,
	} {
		if v < 0 {
			return errors.Errorf("config: %s = %d, want >= 0", name, v)
		}
	}
	for _, m := range c.TransferSizes {
		if m < 2 {
			return errors.Errorf("config: transfer size %d, want >= 2", m)
		}
	}
	if c.NodeRecordProb <= 0 || c.NodeRecordProb > 1 {
		return errors.Errorf("config: node record probability %v, want in (0, 1]", c.NodeRecordProb)
	}
	return nil
}

// TransferSizesFor returns the small, medium and big transfer sizes used
// for a training size, or nil when none are defined.
func TransferSizesFor(n int) []int {
	switch n {
	case 15:
		return []int{7, 10, 30}
	case 20:
		return []int{10, 13, 40}
	case 25:
		return []int{12, 16, 50}
	}
	return nil
}

// SizeTag names a problem size in paths: "15n", or "mixed" for -1.
func SizeTag(n int) string {
	if n == -1 {
		return "mixed"
	}
	return fmt.Sprintf("%dn", n)
}

// ProblemDir is <data>/tsp<n>.
func (c ExperimentConfig) ProblemDir() string {
	return filepath.Join(c.DataRoot, fmt.Sprintf("tsp%d", c.Size))
}

// InstanceDir is the directory of one instance split.
func (c ExperimentConfig) InstanceDir(split string) string {
	return filepath.Join(c.ProblemDir(), "instances", split)
}

// SampleDir is the directory of one recorded sample split.
func (c ExperimentConfig) SampleDir(split string) string {
	return filepath.Join(c.ProblemDir(), "samples", split)
}

// InstancePath is the LP file of the i-th (1-based) instance of a split.
func (c ExperimentConfig) InstancePath(split string, i int) string {
	return filepath.Join(c.InstanceDir(split), fmt.Sprintf("instance_%d.lp", i))
}

// TransferSplit names the transfer test split of size m.
func TransferSplit(m int) string {
	return fmt.Sprintf("test_%dn", m)
}

// ImitationDir is the running directory of imitation training.
func (c ExperimentConfig) ImitationDir(n int) string {
	return filepath.Join(c.ModelRoot, "imitation", SizeTag(n))
}

// ReinforceDir is the running directory of reinforcement training that
// starts from the imitation model trained on size load.
func (c ExperimentConfig) ReinforceDir(load, n int) string {
	loadTag := "mixed"
	if load != -1 {
		loadTag = fmt.Sprintf("%d", load)
	}
	return filepath.Join(c.ModelRoot, "reinforce", loadTag+"-"+SizeTag(n))
}
