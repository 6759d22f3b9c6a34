package search

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	"ormatch/internal/match/store"
)

const testRules = `
reference_id: sequence

attributes:
  sor:
    attribute: sor
    column: sor
  sorid:
    attribute: identifier:sor
    column: sorid
  national_id:
    attribute: identifier:national
    column: national_id
    alphanum: true
    invalidates: true
    search:
      exact: true
    crosscheck:
      - attribute: student_id
        sor: sis
  student_id:
    attribute: identifier:student
    column: student_id
    alphanum: true
    search:
      exact: true
  family_name:
    attribute: name:family
    group: official
    column: family_name
    search:
      exact: true
      distance: 2
  date_of_birth:
    attribute: date_of_birth
    column: date_of_birth
    search:
      exact: true

canonical:
  - name: name-dob
    attributes: [family_name, date_of_birth]

potential:
  - name: fuzzy-name
    rules:
      family_name: distance
      date_of_birth: exact
`

type SearcherSuite struct {
	suite.Suite
	cfg      *config.Config
	registry *store.InMemory
	searcher *Searcher
	ctx      context.Context
}

func TestSearcherSuite(t *testing.T) {
	suite.Run(t, new(SearcherSuite))
}

func (s *SearcherSuite) SetupTest() {
	cfg, err := config.Parse([]byte(testRules))
	s.Require().NoError(err)
	s.cfg = cfg
	s.registry = store.NewInMemory(cfg)
	s.searcher = New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.ctx = context.Background()
}

func (s *SearcherSuite) insert(sor, sorid string, values map[string]string) string {
	s.T().Helper()
	ins, err := s.registry.Insert(s.ctx, models.Request{SOR: sor, SORID: sorid}, values, "", true)
	s.Require().NoError(err)
	return ins.ReferenceID
}

func (s *SearcherSuite) link(sor, sorid, ref string, values map[string]string) {
	s.T().Helper()
	_, err := s.registry.Insert(s.ctx, models.Request{SOR: sor, SORID: sorid}, values, ref, false)
	s.Require().NoError(err)
}

func request(sor, sorid, family, dob, national, student string) models.Request {
	attrs := models.SORAttributes{}
	if family != "" {
		attrs["names"] = []any{map[string]any{"type": "official", "family": family}}
	}
	if dob != "" {
		attrs["date_of_birth"] = dob
	}
	var ids []any
	if national != "" {
		ids = append(ids, map[string]any{"type": "national", "identifier": national})
	}
	if student != "" {
		ids = append(ids, map[string]any{"type": "student", "identifier": student})
	}
	if len(ids) > 0 {
		attrs["identifiers"] = ids
	}
	return models.Request{SOR: sor, SORID: sorid, Attributes: attrs}
}

func (s *SearcherSuite) TestCanonicalMatch() {
	ref := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "smith", "1984-03-09", "", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)

	cand := candidates[ref]
	s.Require().NotNil(cand)
	s.Equal(95, cand.Confidence)
	s.Len(cand.Attributes, 1)
}

func (s *SearcherSuite) TestPotentialMatch() {
	ref := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})

	// One letter off, so canonical misses and the distance rule catches it.
	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Smyth", "1984-03-09", "", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(85, candidates[ref].Confidence)
}

func (s *SearcherSuite) TestNoMatch() {
	s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Nakamura", "1990-12-01", "", ""))
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *SearcherSuite) TestInvalidatingAttributeDowngrades() {
	ref := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
		"national_id":   "999-99-9999",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Smith", "1984-03-09", "123-45-6789", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(85, candidates[ref].Confidence)
}

func (s *SearcherSuite) TestCrosscheckExcusesInvalidation() {
	// Stored national id contradicts the request, but the sis row's student id
	// carries the requested value, which the crosscheck accepts.
	ref := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
		"national_id":   "999-99-9999",
		"student_id":    "123-45-6789",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Smith", "1984-03-09", "123-45-6789", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(95, candidates[ref].Confidence)
}

func (s *SearcherSuite) TestCrosscheckPinnedToOtherSORDoesNotExcuse() {
	ref := s.insert("hr", "h9", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
		"national_id":   "999-99-9999",
		"student_id":    "123-45-6789",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("payroll", "p1", "Smith", "1984-03-09", "123-45-6789", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)
	s.Equal(85, candidates[ref].Confidence)
}

func (s *SearcherSuite) TestIncompleteRuleSetIsSkipped() {
	s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})

	// No date of birth in the request, so every rule set lacks a value.
	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Smith", "", "", ""))
	s.Require().NoError(err)
	s.Empty(candidates)
}

func (s *SearcherSuite) TestBackfillPullsLinkedRows() {
	ref := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})
	// A second row linked to the same identity that no rule matches.
	s.link("hr", "h9", ref, map[string]string{
		"family_name": "Smythe",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("payroll", "p1", "Smith", "1984-03-09", "", ""))
	s.Require().NoError(err)
	s.Require().Len(candidates, 1)

	cand := candidates[ref]
	s.Len(cand.Attributes, 2)
	s.True(cand.HasSORRecord("sis", "1"))
	s.True(cand.HasSORRecord("hr", "h9"))
}

func (s *SearcherSuite) TestMultipleCandidates() {
	refA := s.insert("sis", "1", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})
	refB := s.insert("sis", "2", map[string]string{
		"family_name":   "Smith",
		"date_of_birth": "1984-03-09",
	})

	candidates, err := s.searcher.FindCandidates(s.ctx, s.registry,
		request("hr", "h1", "Smith", "1984-03-09", "", ""))
	s.Require().NoError(err)
	s.Len(candidates, 2)
	s.Contains(candidates, refA)
	s.Contains(candidates, refB)
}
