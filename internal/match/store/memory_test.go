package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	"ormatch/internal/match/predicate"
	dErrors "ormatch/pkg/domain-errors"
)

const sequenceRules = `
reference_id: sequence

attributes:
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
`

const uuidRules = `
reference_id: uuid

attributes:
  family_name:
    attribute: name:family
    group: official
    column: family_name
    search:
      exact: true
`

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	cfg, err := config.Parse([]byte(sequenceRules))
	s.Require().NoError(err)
	s.store = NewInMemory(cfg)
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) request(sor, sorid string) models.Request {
	return models.Request{SOR: sor, SORID: sorid}
}

func (s *MemoryStoreSuite) TestInsertAndFind() {
	s.Run("assigns sequential reference ids", func() {
		first, err := s.store.Insert(s.ctx, s.request("sis", "1"),
			map[string]string{"family_name": "Smith"}, "", true)
		s.Require().NoError(err)
		s.Equal("1", first.ReferenceID)

		second, err := s.store.Insert(s.ctx, s.request("sis", "2"),
			map[string]string{"family_name": "Jones"}, "", true)
		s.Require().NoError(err)
		s.Equal("2", second.ReferenceID)
	})

	s.Run("find by sor", func() {
		row, err := s.store.FindBySOR(s.ctx, "sis", "1")
		s.Require().NoError(err)
		s.Equal("Smith", row.Attributes["family_name"])
		s.True(row.Resolved())
		s.NotNil(row.ResolutionTime)
	})

	s.Run("find by sor not found", func() {
		_, err := s.store.FindBySOR(s.ctx, "sis", "99")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("find by reference", func() {
		_, err := s.store.Insert(s.ctx, s.request("hr", "h1"),
			map[string]string{"family_name": "Smith"}, "1", false)
		s.Require().NoError(err)

		rows, err := s.store.FindByReference(s.ctx, "1")
		s.Require().NoError(err)
		s.Len(rows, 2)
	})
}

func (s *MemoryStoreSuite) TestPendingRows() {
	s.Run("insert without a reference id stays pending", func() {
		ins, err := s.store.Insert(s.ctx, s.request("sis", "p1"),
			map[string]string{"family_name": "Gray"}, "", false)
		s.Require().NoError(err)
		s.Empty(ins.ReferenceID)

		row, err := s.store.FindBySOR(s.ctx, "sis", "p1")
		s.Require().NoError(err)
		s.False(row.Resolved())
		s.Nil(row.ResolutionTime)
	})

	s.Run("resubmission replaces the pending row", func() {
		ins, err := s.store.Insert(s.ctx, s.request("sis", "p1"),
			map[string]string{"family_name": "Grey"}, "", true)
		s.Require().NoError(err)
		s.NotEmpty(ins.ReferenceID)

		rows, err := s.store.FindByReference(s.ctx, ins.ReferenceID)
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal("Grey", rows[0].Attributes["family_name"])
	})

	s.Run("resubmission over a resolved row conflicts", func() {
		_, err := s.store.Insert(s.ctx, s.request("sis", "p1"),
			map[string]string{"family_name": "Grey"}, "", true)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *MemoryStoreSuite) TestUUIDReferenceIDs() {
	cfg, err := config.Parse([]byte(uuidRules))
	s.Require().NoError(err)
	store := NewInMemory(cfg)

	ins, err := store.Insert(s.ctx, s.request("sis", "1"),
		map[string]string{"family_name": "Smith"}, "", true)
	s.Require().NoError(err)

	parsed, err := uuid.Parse(ins.ReferenceID)
	s.Require().NoError(err)
	s.Equal(uuid.Version(4), parsed.Version())
}

func (s *MemoryStoreSuite) TestUpdate() {
	_, err := s.store.Insert(s.ctx, s.request("sis", "1"),
		map[string]string{"family_name": "Smith", "date_of_birth": "1984-03-09"}, "", true)
	s.Require().NoError(err)

	s.Run("replaces attributes wholesale", func() {
		res, err := s.store.Update(s.ctx, s.request("sis", "1"),
			map[string]string{"family_name": "Smythe"})
		s.Require().NoError(err)
		s.Equal("1", res.ReferenceID)

		row, err := s.store.FindBySOR(s.ctx, "sis", "1")
		s.Require().NoError(err)
		s.Equal("Smythe", row.Attributes["family_name"])
		s.NotContains(row.Attributes, "date_of_birth")
	})

	s.Run("not found", func() {
		_, err := s.store.Update(s.ctx, s.request("sis", "99"), map[string]string{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *MemoryStoreSuite) TestSearch() {
	_, err := s.store.Insert(s.ctx, s.request("sis", "1"),
		map[string]string{"family_name": "Smith", "date_of_birth": "1984-03-09"}, "", true)
	s.Require().NoError(err)
	_, err = s.store.Insert(s.ctx, s.request("sis", "2"),
		map[string]string{"family_name": "Smith"}, "", false)
	s.Require().NoError(err)

	s.Run("matches resolved rows only", func() {
		rows, err := s.store.Search(s.ctx, predicate.Exact{Column: "family_name", Value: "smith", Fold: true})
		s.Require().NoError(err)
		s.Require().Len(rows, 1)
		s.Equal("1", rows[0].SORID)
	})

	s.Run("unset columns never match", func() {
		rows, err := s.store.Search(s.ctx, predicate.Exact{Column: "date_of_birth", Value: ""})
		s.Require().NoError(err)
		s.Empty(rows)
	})

	s.Run("returned rows are copies", func() {
		rows, err := s.store.Search(s.ctx, predicate.Exact{Column: "family_name", Value: "smith", Fold: true})
		s.Require().NoError(err)
		rows[0].Attributes["family_name"] = "mutated"

		again, err := s.store.FindBySOR(s.ctx, "sis", "1")
		s.Require().NoError(err)
		s.Equal("Smith", again.Attributes["family_name"])
	})
}
