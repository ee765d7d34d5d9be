package imitation

import (
	"github.com/loaychlih/Travel-the-Same-Path/collect"
)

// Dataset is an indexed set of expert samples.
type Dataset interface {
	Len() int
	Get(i int) (*collect.Sample, error)
}

// Files reads samples from disk on demand.
type Files []string

func (f Files) Len() int { return len(f) }

func (f Files) Get(i int) (*collect.Sample, error) { return collect.ReadSample(f[i]) }

// OpenDir lists the samples of one split directory.
func OpenDir(dir string) (Files, error) {
	files, err := collect.List(dir)
	return Files(files), err
}

// Memory is a dataset held in memory.
type Memory []*collect.Sample

func (m Memory) Len() int { return len(m) }

func (m Memory) Get(i int) (*collect.Sample, error) { return m[i], nil }

// every keeps every k-th sample, starting with the first.
type every struct {
	Dataset
	k int
}

func (e every) Len() int { return (e.Dataset.Len() + e.k - 1) / e.k }

func (e every) Get(i int) (*collect.Sample, error) { return e.Dataset.Get(i * e.k) }

// pick is a dataset viewed through a list of indices.
type pick struct {
	Dataset
	idx []int
}

func (p pick) Len() int { return len(p.idx) }

func (p pick) Get(i int) (*collect.Sample, error) { return p.Dataset.Get(p.idx[i]) }
