package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"ormatch/internal/auth"
	"ormatch/internal/match/models"
	dErrors "ormatch/pkg/domain-errors"
)

// stubService returns canned results so the handler's wiring and status
// mapping can be tested in isolation.
type stubService struct {
	result  *models.Result
	records []models.SORRecord
	err     error

	lastReq models.Request
}

func (s *stubService) Submit(_ context.Context, req models.Request) (*models.Result, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *stubService) Search(_ context.Context, req models.Request) (*models.Result, error) {
	s.lastReq = req
	return s.result, s.err
}

func (s *stubService) SORRecords(context.Context, string) ([]models.SORRecord, error) {
	return s.records, s.err
}

type HandlerSuite struct {
	suite.Suite
	svc    *stubService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	creds := auth.NewMemoryStore()
	hash, err := bcrypt.GenerateFromPassword([]byte("sis-key"), bcrypt.MinCost)
	s.Require().NoError(err)
	creds.Add("sis-batch", "sis", string(hash))
	creds.Add("admin", auth.WildcardSOR, string(hash))

	s.svc = &stubService{}
	s.router = chi.NewRouter()
	New(s.svc, auth.NewAuthorizer(creds, logger), logger).Register(s.router)
}

func (s *HandlerSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.SetBasicAuth("sis-batch", "sis-key")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) TestSubmit() {
	s.Run("new identity", func() {
		s.svc.result = &models.Result{State: models.StateNoMatch, Status: http.StatusCreated, ReferenceID: "1"}

		rec := s.do(http.MethodPut, "/v1/people/sis/42", `{"names":[{"type":"official","family":"Smith"}]}`)
		s.Equal(http.StatusCreated, rec.Code)

		var body map[string]any
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal("1", body["referenceId"])

		s.Equal("sis", s.svc.lastReq.SOR)
		s.Equal("42", s.svc.lastReq.SORID)
		s.Contains(s.svc.lastReq.Attributes, "names")
	})

	s.Run("queued pending resolution", func() {
		s.svc.result = &models.Result{State: models.StateSingleFuzzyMatch, Status: http.StatusAccepted, MatchRequest: 17}

		rec := s.do(http.MethodPut, "/v1/people/sis/42", `{}`)
		s.Equal(http.StatusAccepted, rec.Code)

		var body map[string]any
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Equal(float64(17), body["matchRequest"])
		s.NotContains(body, "referenceId")
	})

	s.Run("invalid body", func() {
		rec := s.do(http.MethodPut, "/v1/people/sis/42", `{not json`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("service conflict", func() {
		s.svc.result = nil
		s.svc.err = dErrors.New(dErrors.CodeConflict, "row is already resolved")

		rec := s.do(http.MethodPut, "/v1/people/sis/42", `{}`)
		s.Equal(http.StatusConflict, rec.Code)
		s.svc.err = nil
	})
}

func (s *HandlerSuite) TestSearch() {
	s.Run("candidate list", func() {
		s.svc.result = &models.Result{
			State:  models.StateMultipleMatch,
			Status: http.StatusMultipleChoices,
			Candidates: []models.Candidate{
				{ID: "1", Confidence: 95, Attributes: []models.SORRecord{{"sor": "sis"}}},
				{ID: "2", Confidence: 85, Attributes: []models.SORRecord{{"sor": "hr"}}},
			},
		}

		rec := s.do(http.MethodPost, "/v1/people/sis/42", `{}`)
		s.Equal(http.StatusMultipleChoices, rec.Code)

		var body struct {
			Candidates []models.Candidate `json:"candidates"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Require().Len(body.Candidates, 2)
		s.Equal("1", body.Candidates[0].ID)
		s.Equal(95, body.Candidates[0].Confidence)
	})

	s.Run("no match", func() {
		s.svc.result = &models.Result{State: models.StateNoMatch, Status: http.StatusNotFound}

		rec := s.do(http.MethodPost, "/v1/people/sis/42", `{}`)
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestReferenceIDs() {
	s.Run("requires a wildcard credential", func() {
		rec := s.do(http.MethodGet, "/v1/referenceIds/1", "")
		s.Equal(http.StatusUnauthorized, rec.Code)
	})

	s.Run("returns linked records", func() {
		s.svc.records = []models.SORRecord{
			{"sor": "sis", "date_of_birth": "1984-03-09"},
			{"sor": "hr"},
		}

		req := httptest.NewRequest(http.MethodGet, "/v1/referenceIds/1", nil)
		req.SetBasicAuth("admin", "sis-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		s.Equal(http.StatusOK, rec.Code)

		var body struct {
			SORPeople []models.SORRecord `json:"sorPeople"`
		}
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Len(body.SORPeople, 2)
	})

	s.Run("unknown reference id", func() {
		s.svc.records = nil
		s.svc.err = dErrors.New(dErrors.CodeNotFound, "no records")

		req := httptest.NewRequest(http.MethodGet, "/v1/referenceIds/9", nil)
		req.SetBasicAuth("admin", "sis-key")
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)

		s.Equal(http.StatusNotFound, rec.Code)

		var body map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
		s.Contains(body["error"], "no records")
		s.svc.err = nil
	})
}

func (s *HandlerSuite) TestUnauthorized() {
	req := httptest.NewRequest(http.MethodPut, "/v1/people/sis/42", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusUnauthorized, rec.Code)
}
