// Package query compiles a logical attribute and a rule into a predicate
// fragment with normalized bound values, expanding crosscheck alternatives
// into OR groups.
package query

import (
	"log/slog"

	"ormatch/internal/match/config"
	"ormatch/internal/match/predicate"
	dErrors "ormatch/pkg/domain-errors"
)

// Builder turns (attribute, rule, requested value) into predicate nodes.
type Builder struct {
	cfg    *config.Config
	logger *slog.Logger
}

func NewBuilder(cfg *config.Config, logger *slog.Logger) *Builder {
	return &Builder{cfg: cfg, logger: logger}
}

// Build compiles the predicate for one attribute under the given rule.
// requested maps attribute names to their resolved request values; an
// attribute with no requested value is a configuration error here (callers
// decide beforehand whether a missing value skips the whole rule set).
//
// When allowCrosscheck is set and the attribute declares crosscheck
// attributes, each crosscheck attribute's predicate under the same rule is
// ORed with the primary one. Crosscheck branches that cannot be built (no
// requested value, or a configuration problem on the alternate attribute)
// are dropped, not fatal.
func (b *Builder) Build(name string, rule config.Rule, requested map[string]string, allowCrosscheck bool) (predicate.Node, error) {
	attr, err := b.cfg.Attribute(name)
	if err != nil {
		return nil, err
	}

	val, ok := requested[name]
	if !ok || val == "" {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "no value requested for attribute %q", name)
	}

	if !attr.Search.Supports(rule) {
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "attribute %q is not configured for %q search", name, rule)
	}

	primary, err := leaf(attr, rule, val)
	if err != nil {
		return nil, err
	}

	if !allowCrosscheck || len(attr.Crosscheck) == 0 {
		return primary, nil
	}

	branches := []predicate.Node{primary}
	for _, cc := range attr.Crosscheck {
		branch, err := b.Build(cc.Attribute, rule, requested, false)
		if err != nil {
			// A crosscheck alternative is best effort; drop the branch.
			b.logger.Debug("dropping crosscheck branch",
				"attribute", name,
				"crosscheck", cc.Attribute,
				"error", err,
			)
			continue
		}
		if cc.SOR != "" {
			branch = predicate.And{Nodes: []predicate.Node{
				branch,
				predicate.Exact{Column: "sor", Value: cc.SOR},
			}}
		}
		branches = append(branches, branch)
	}

	if len(branches) == 1 {
		return primary, nil
	}
	return predicate.Or{Nodes: branches}, nil
}

// leaf emits the rule-specific predicate with the bound value normalized the
// same way the column side is transformed.
func leaf(attr *config.Attribute, rule config.Rule, val string) (predicate.Node, error) {
	norm := predicate.Normalize(val, attr.Fold(), attr.Alphanum)

	switch rule {
	case config.RuleExact:
		return predicate.Exact{
			Column:   attr.Column,
			Value:    norm,
			Fold:     attr.Fold(),
			Alphanum: attr.Alphanum,
		}, nil
	case config.RuleDistance:
		return predicate.Distance{
			Column:    attr.Column,
			Value:     norm,
			Fold:      attr.Fold(),
			Alphanum:  attr.Alphanum,
			Threshold: attr.Search.Distance,
		}, nil
	case config.RuleSubstr:
		w := attr.Search.Substr
		return predicate.Substr{
			Column:   attr.Column,
			Value:    predicate.Window(norm, w.Offset, w.Length),
			Fold:     attr.Fold(),
			Alphanum: attr.Alphanum,
			Offset:   w.Offset,
			Length:   w.Length,
		}, nil
	case config.RuleSoundex:
		return nil, dErrors.New(dErrors.CodeUnsupportedRule, "soundex search is not implemented")
	default:
		return nil, dErrors.Newf(dErrors.CodeInvalidConfiguration, "unknown search rule %q", rule)
	}
}
