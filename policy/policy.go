// Package policy holds the branching policies compared and trained by the
// harness: internal rules of the solving environment and learned column
// scorers.
package policy

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/loaychlih/Travel-the-Same-Path/env"
)

var ErrUnknownPolicy = errors.New("unknown policy")

type Type string

const (
	Internal Type = "internal"
	Learned  Type = "gnn"
)

// Policy is either an internal rule of the environment, identified by
// Name, or a learned scorer with its Model.
type Policy struct {
	Type  Type
	Name  string
	Model *Model
}

func NewInternal(rule string) (*Policy, error) {
	if !env.KnownRule(rule) {
		return nil, errors.Wrapf(ErrUnknownPolicy, "internal rule %q", rule)
	}
	return &Policy{Type: Internal, Name: rule}, nil
}

func NewLearned(name string, m *Model) *Policy {
	return &Policy{Type: Learned, Name: name, Model: m}
}

// Parse reads the "type:name" form used on the command line and in result
// files. Learned policies come back without a model.
func Parse(s string) (*Policy, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, errors.Wrapf(ErrUnknownPolicy, "%q", s)
	}
	switch Type(parts[0]) {
	case Internal:
		return NewInternal(parts[1])
	case Learned:
		return &Policy{Type: Learned, Name: parts[1]}, nil
	}
	return nil, errors.Wrapf(ErrUnknownPolicy, "%q", s)
}

func (p *Policy) String() string { return string(p.Type) + ":" + p.Name }

// Decide picks a column from t.ActionSet.
func (p *Policy) Decide(ctx context.Context, t env.Transition) (int, error) {
	if len(t.ActionSet) == 0 {
		return -1, env.ErrNoCandidates
	}
	var (
		scores []float64
		err    error
	)
	switch p.Type {
	case Internal:
		if t.Scorer == nil {
			return -1, errors.Errorf("policy: %s needs a scorer", p)
		}
		scores, err = t.Scorer.Score(ctx, p.Name)
	case Learned:
		if p.Model == nil {
			return -1, errors.Errorf("policy: %s has no model loaded", p)
		}
		if t.Observation == nil {
			return -1, errors.Errorf("policy: %s needs an observation", p)
		}
		scores = p.Model.Logits(t.Observation, t.ActionSet)
	default:
		return -1, errors.Wrapf(ErrUnknownPolicy, "%q", p.Type)
	}
	if err != nil {
		return -1, err
	}
	return t.ActionSet[env.Argmax(scores)], nil
}
