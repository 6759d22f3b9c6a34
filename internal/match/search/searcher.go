// Package search runs the configured rule sets against the registry and
// scores the resulting candidates.
package search

import (
	"context"
	"log/slog"
	"sort"

	"ormatch/internal/match/attrs"
	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	"ormatch/internal/match/predicate"
	"ormatch/internal/match/query"
)

// Confidence tiers. Canonical matches start at the canonical tier and are
// downgraded to the potential tier when an invalidating attribute contradicts
// the request without a crosscheck excusing it.
const (
	confidenceCanonical = 95
	confidencePotential = 85
)

// Registry is the read side of the registry store the searcher needs.
// Search returns only rows with a non-null reference id.
type Registry interface {
	Search(ctx context.Context, pred predicate.Node) ([]models.LinkageRow, error)
	FindByReference(ctx context.Context, referenceID string) ([]models.LinkageRow, error)
}

// Searcher orchestrates rule sets against the registry.
type Searcher struct {
	cfg      *config.Config
	resolver *attrs.Resolver
	builder  *query.Builder
	mapper   *attrs.ResponseMapper
	logger   *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) *Searcher {
	return &Searcher{
		cfg:      cfg,
		resolver: attrs.NewResolver(cfg),
		builder:  query.NewBuilder(cfg, logger),
		mapper:   attrs.NewResponseMapper(cfg),
		logger:   logger,
	}
}

// FindCandidates runs the canonical search and, only when it yields nothing,
// the potential search. The caller owns the surrounding transaction.
func (s *Searcher) FindCandidates(ctx context.Context, reg Registry, req models.Request) (map[string]*models.Candidate, error) {
	candidates, err := s.Search(ctx, reg, config.SearchCanonical, req)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates, err = s.Search(ctx, reg, config.SearchPotential, req)
		if err != nil {
			return nil, err
		}
	}
	return candidates, nil
}

// Search evaluates every rule set of the given type in configured order and
// returns the surviving candidates keyed by reference id. A rule set whose
// attributes are not all present in the request is skipped, not an error.
func (s *Searcher) Search(ctx context.Context, reg Registry, typ config.SearchType, req models.Request) (map[string]*models.Candidate, error) {
	s.logger.Info("looking for matches", "type", typ, "sor", req.SOR, "sorid", req.SORID)

	candidates := make(map[string]*models.Candidate)

	for _, set := range s.cfg.RuleSets(typ) {
		s.logger.Info("attempting match", "type", typ, "rule_set", set.Name)

		rules, order := s.setRules(typ, set)

		requested, complete, err := s.requestedValues(req, order)
		if err != nil {
			return nil, err
		}
		if !complete {
			s.logger.Info("request lacks a value for the rule set, skipping", "rule_set", set.Name)
			continue
		}

		nodes := make([]predicate.Node, 0, len(order))
		for _, attrName := range order {
			node, err := s.builder.Build(attrName, rules[attrName], requested, true)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}

		rows, err := reg.Search(ctx, predicate.And{Nodes: nodes})
		if err != nil {
			return nil, err
		}

		for i := range rows {
			row := &rows[i]
			if !row.Resolved() {
				continue
			}
			confidence := confidencePotential
			if typ == config.SearchCanonical {
				confidence = s.scoreCanonical(row, req)
			}
			s.addCandidate(candidates, row, confidence)
		}
	}

	if err := s.backfill(ctx, reg, candidates); err != nil {
		return nil, err
	}

	return candidates, nil
}

// setRules expands a rule set into attribute -> rule plus a deterministic
// evaluation order. Canonical sets compare exactly, except attributes
// configured exact => substr; potential sets carry their rules explicitly.
func (s *Searcher) setRules(typ config.SearchType, set config.RuleSet) (map[string]config.Rule, []string) {
	rules := make(map[string]config.Rule)
	var order []string

	if typ == config.SearchCanonical {
		for _, name := range set.Attributes {
			rule := config.RuleExact
			if attr, ok := s.cfg.Attributes[name]; ok {
				rule = attr.CanonicalRule()
			}
			rules[name] = rule
			order = append(order, name)
		}
		return rules, order
	}

	for name, rule := range set.Rules {
		rules[name] = rule
		order = append(order, name)
	}
	sort.Strings(order)
	return rules, order
}

// requestedValues resolves every attribute the rule set needs. complete is
// false when any attribute has no usable request value.
func (s *Searcher) requestedValues(req models.Request, names []string) (map[string]string, bool, error) {
	requested := make(map[string]string, len(names))
	for _, name := range names {
		v, ok, err := s.resolver.Resolve(name, req)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		requested[name] = v
	}

	// Crosscheck alternatives draw on attributes outside the set; resolve
	// them opportunistically so the builder can expand OR branches.
	for _, name := range names {
		attr, err := s.cfg.Attribute(name)
		if err != nil {
			continue
		}
		for _, cc := range attr.Crosscheck {
			if _, done := requested[cc.Attribute]; done {
				continue
			}
			if v, ok, err := s.resolver.Resolve(cc.Attribute, req); err == nil && ok {
				requested[cc.Attribute] = v
			}
		}
	}

	return requested, true, nil
}

// scoreCanonical starts at the canonical tier and downgrades once when any
// invalidating attribute's stored value contradicts the requested one and no
// crosscheck excuses the mismatch.
func (s *Searcher) scoreCanonical(row *models.LinkageRow, req models.Request) int {
	confidence := confidenceCanonical

	for name, attr := range s.cfg.Attributes {
		if !attr.Invalidates {
			continue
		}
		requested, ok, err := s.resolver.Resolve(name, req)
		if err != nil || !ok {
			continue
		}
		stored := row.Attributes[attr.Column]
		if stored == requested {
			continue
		}
		if s.excused(attr, row, requested) {
			continue
		}
		s.logger.Info("candidate downgraded to potential due to invalidating attribute",
			"reference_id", *row.ReferenceID,
			"attribute", name,
		)
		confidence = confidencePotential
	}

	return confidence
}

// excused reports whether a crosscheck attribute's stored value matches the
// requested value, excusing the primary mismatch. A SOR-pinned crosscheck
// only applies to rows submitted by that SOR.
func (s *Searcher) excused(attr *config.Attribute, row *models.LinkageRow, requested string) bool {
	for _, cc := range attr.Crosscheck {
		if cc.SOR != "" && row.SOR != cc.SOR {
			continue
		}
		ccAttr, ok := s.cfg.Attributes[cc.Attribute]
		if !ok {
			continue
		}
		if row.Attributes[ccAttr.Column] == requested {
			return true
		}
	}
	return false
}

// addCandidate groups a row under its reference id, deduplicating attribute
// sets by (sor, sorid) so a row matched by several rule sets appears once.
func (s *Searcher) addCandidate(candidates map[string]*models.Candidate, row *models.LinkageRow, confidence int) {
	ref := *row.ReferenceID

	cand, ok := candidates[ref]
	if !ok {
		s.logger.Info("found matching candidate", "reference_id", ref, "confidence", confidence)
		cand = &models.Candidate{ID: ref, Confidence: confidence}
		candidates[ref] = cand
	}
	if cand.HasSORRecord(row.SOR, row.SORID) {
		return
	}
	cand.Origins = append(cand.Origins, models.Origin{SOR: row.SOR, SORID: row.SORID})
	cand.Attributes = append(cand.Attributes, s.mapper.Map(row.Columns()))
}

// backfill pulls every row linked to each surviving identity, since an
// identity can be linked to more rows than those that satisfied the rule.
func (s *Searcher) backfill(ctx context.Context, reg Registry, candidates map[string]*models.Candidate) error {
	refs := make([]string, 0, len(candidates))
	for ref := range candidates {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	for _, ref := range refs {
		rows, err := reg.FindByReference(ctx, ref)
		if err != nil {
			return err
		}
		cand := candidates[ref]
		for i := range rows {
			row := &rows[i]
			if cand.HasSORRecord(row.SOR, row.SORID) {
				continue
			}
			cand.Origins = append(cand.Origins, models.Origin{SOR: row.SOR, SORID: row.SORID})
			cand.Attributes = append(cand.Attributes, s.mapper.Map(row.Columns()))
		}
	}
	return nil
}
