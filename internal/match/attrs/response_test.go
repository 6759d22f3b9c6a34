package attrs

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
)

type ResponseMapperSuite struct {
	suite.Suite
	cfg    *config.Config
	mapper *ResponseMapper
}

func TestResponseMapperSuite(t *testing.T) {
	suite.Run(t, new(ResponseMapperSuite))
}

func (s *ResponseMapperSuite) SetupTest() {
	cfg, err := config.Parse([]byte(testRules))
	s.Require().NoError(err)
	s.cfg = cfg
	s.mapper = NewResponseMapper(cfg)
}

func (s *ResponseMapperSuite) TestMap() {
	columns := map[string]string{
		"sor":           "sis",
		"sorid":         "sis-42",
		"date_of_birth": "1984-03-09",
		"family_name":   "Smith",
		"given_name":    "Robert",
		"national_id":   "123456789",
	}

	out := s.mapper.Map(columns)

	s.Run("flat fields", func() {
		s.Equal("sis", out["sor"])
		s.Equal("1984-03-09", out["date_of_birth"])
	})

	s.Run("type discriminated identifiers", func() {
		s.Equal([]map[string]any{
			{"identifier": "123456789", "type": "national"},
			{"identifier": "sis-42", "type": "sor"},
		}, out["identifiers"])
	})

	s.Run("group discriminated names", func() {
		s.Equal([]map[string]any{
			{"type": "official", "given": "Robert", "family": "Smith"},
		}, out["names"])
	})

	s.Run("empty columns dropped", func() {
		withEmpty := map[string]string{"sor": "sis", "date_of_birth": ""}
		s.NotContains(s.mapper.Map(withEmpty), "date_of_birth")
	})

	s.Run("unmapped columns dropped", func() {
		s.NotContains(s.mapper.Map(map[string]string{"shoe_size": "11"}), "shoe_size")
	})
}

// TestRoundTrip verifies the resolver can read values back out of a mapped
// record, which the searcher relies on when candidates are re-submitted.
func (s *ResponseMapperSuite) TestRoundTrip() {
	columns := map[string]string{
		"sor":         "sis",
		"sorid":       "sis-42",
		"family_name": "Smith",
		"given_name":  "Robert",
		"national_id": "123456789",
	}
	out := s.mapper.Map(columns)

	resolver := NewResolver(s.cfg)
	req := models.Request{SOR: "sis", SORID: "sis-42", Attributes: models.SORAttributes(out)}

	for name, want := range map[string]string{
		"family_name": "Smith",
		"given_name":  "Robert",
		"national_id": "123456789",
	} {
		v, ok, err := resolver.Resolve(name, req)
		s.Require().NoError(err, name)
		s.True(ok, name)
		s.Equal(want, v, name)
	}
}
