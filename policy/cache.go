package policy

import (
	"github.com/golang/glog"
)

// Cache loads every learned model once and shares it between instances.
type Cache struct {
	path   func(name string) string
	models map[string]*Model
}

// NewCache resolves model names to checkpoint files with path.
func NewCache(path func(name string) string) *Cache {
	return &Cache{path: path, models: make(map[string]*Model)}
}

func (c *Cache) Get(name string) (*Model, error) {
	if m, ok := c.models[name]; ok {
		return m, nil
	}
	path := c.path(name)
	m, err := Load(path)
	if err != nil {
		return nil, err
	}
	glog.Infof("loaded model %s from %s", name, path)
	c.models[name] = m
	return m, nil
}

// Resolve attaches the cached model to a learned policy.
func (c *Cache) Resolve(p *Policy) error {
	if p.Type != Learned || p.Model != nil {
		return nil
	}
	m, err := c.Get(p.Name)
	if err != nil {
		return err
	}
	p.Model = m
	return nil
}

func (c *Cache) Len() int { return len(c.models) }
