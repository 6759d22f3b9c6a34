// Package service drives one match request from search outcome to registry
// action: the request state machine, executed inside a single transaction.
package service

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"ormatch/internal/match/attrs"
	"ormatch/internal/match/config"
	"ormatch/internal/match/metrics"
	"ormatch/internal/match/models"
	"ormatch/internal/match/search"
	"ormatch/internal/match/store"
	dErrors "ormatch/pkg/domain-errors"
)

// TxRunner provides the transactional boundary for one request. The function
// receives a context carrying the transaction; every store call inside joins
// it. The runner commits on nil and rolls back on error, so no partial
// mutation is ever visible outside a committed transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service is the request orchestrator.
type Service struct {
	cfg      *config.Config
	registry store.Registry
	runner   TxRunner
	searcher *search.Searcher
	resolver *attrs.Resolver
	mapper   *attrs.ResponseMapper
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(cfg *config.Config, registry store.Registry, runner TxRunner, logger *slog.Logger, opts ...Option) (*Service, error) {
	if cfg == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "match configuration is required")
	}
	if registry == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "registry store is required")
	}
	if runner == nil {
		return nil, dErrors.New(dErrors.CodeInternal, "transaction runner is required")
	}

	svc := &Service{
		cfg:      cfg,
		registry: registry,
		runner:   runner,
		searcher: search.New(cfg, logger),
		resolver: attrs.NewResolver(cfg),
		mapper:   attrs.NewResponseMapper(cfg),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Submit processes a match request that may mutate the registry.
func (s *Service) Submit(ctx context.Context, req models.Request) (*models.Result, error) {
	return s.perform(ctx, req, false)
}

// Search runs the same logic as Submit but never mutates the registry.
func (s *Service) Search(ctx context.Context, req models.Request) (*models.Result, error) {
	return s.perform(ctx, req, true)
}

// SORRecords returns every stored record linked to a reference id, in wire
// shape.
func (s *Service) SORRecords(ctx context.Context, referenceID string) ([]models.SORRecord, error) {
	rows, err := s.registry.FindByReference(ctx, referenceID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no records for reference id %s", referenceID)
	}
	records := make([]models.SORRecord, 0, len(rows))
	for i := range rows {
		records = append(records, s.mapper.Map(rows[i].Columns()))
	}
	return records, nil
}

func (s *Service) perform(ctx context.Context, req models.Request, searchOnly bool) (*models.Result, error) {
	operation := "submit"
	if searchOnly {
		operation = "search"
	}
	start := time.Now()

	s.logger.Info("request received", "operation", operation, "sor", req.SOR, "sorid", req.SORID)

	var result *models.Result
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.decide(ctx, req, searchOnly)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if err != nil {
		s.metrics.RecordRequest(operation, "error", 0, time.Since(start))
		return nil, err
	}
	s.metrics.RecordRequest(operation, string(result.State), len(result.Candidates), time.Since(start))
	return result, nil
}

// decide is the request state machine; it runs inside the transaction.
func (s *Service) decide(ctx context.Context, req models.Request, searchOnly bool) (*models.Result, error) {
	values, err := s.resolver.ColumnValues(req)
	if err != nil {
		return nil, err
	}

	// A prior row for this (sor, sorid) pair means the submission is an
	// attribute update, not a new match request.
	existing, err := s.registry.FindBySOR(ctx, req.SOR, req.SORID)
	switch {
	case err == nil:
		return s.alreadyOnFile(ctx, req, values, existing, searchOnly)
	case dErrors.HasCode(err, dErrors.CodeNotFound):
		// New pair, continue with candidate search.
	default:
		return nil, err
	}

	candidates, err := s.searcher.FindCandidates(ctx, s.registry, req)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return s.noMatch(ctx, req, values, searchOnly)
	}

	if cand := singleExact(candidates); cand != nil {
		return s.singleExactMatch(ctx, req, values, cand, searchOnly)
	}

	return s.ambiguous(ctx, req, values, candidates, searchOnly)
}

func (s *Service) alreadyOnFile(ctx context.Context, req models.Request, values map[string]string, existing *models.LinkageRow, searchOnly bool) (*models.Result, error) {
	result := &models.Result{State: models.StateAlreadyOnFile, Status: http.StatusOK}
	if existing.Resolved() {
		result.ReferenceID = *existing.ReferenceID
	}
	if searchOnly {
		return result, nil
	}

	upd, err := s.registry.Update(ctx, req, values)
	if err != nil {
		return nil, err
	}
	s.logger.Info("attributes updated", "sor", req.SOR, "sorid", req.SORID, "row_id", upd.RowID)
	return result, nil
}

func (s *Service) noMatch(ctx context.Context, req models.Request, values map[string]string, searchOnly bool) (*models.Result, error) {
	if searchOnly {
		return &models.Result{State: models.StateNoMatch, Status: http.StatusNotFound}, nil
	}

	ins, err := s.registry.Insert(ctx, req, values, "", true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("new identity created", "sor", req.SOR, "sorid", req.SORID, "reference_id", ins.ReferenceID)
	return &models.Result{
		State:       models.StateNoMatch,
		Status:      http.StatusCreated,
		ReferenceID: ins.ReferenceID,
	}, nil
}

func (s *Service) singleExactMatch(ctx context.Context, req models.Request, values map[string]string, cand *models.Candidate, searchOnly bool) (*models.Result, error) {
	result := &models.Result{
		State:       models.StateSingleExactMatch,
		Status:      http.StatusOK,
		ReferenceID: cand.ID,
	}
	if searchOnly {
		return result, nil
	}

	// A match against our own (sor, sorid) should have arrived as an
	// attribute update; apply update semantics instead of inserting a
	// duplicate row.
	if cand.HasSORRecord(req.SOR, req.SORID) {
		if _, err := s.registry.Update(ctx, req, values); err != nil {
			return nil, err
		}
		return result, nil
	}

	if _, err := s.registry.Insert(ctx, req, values, cand.ID, false); err != nil {
		return nil, err
	}
	s.logger.Info("linked to existing identity", "sor", req.SOR, "sorid", req.SORID, "reference_id", cand.ID)
	return result, nil
}

func (s *Service) ambiguous(ctx context.Context, req models.Request, values map[string]string, candidates map[string]*models.Candidate, searchOnly bool) (*models.Result, error) {
	// A candidate already carrying this (sor, sorid) pair alongside other
	// candidates is a registry contradiction the caller must resolve.
	for _, cand := range candidates {
		if cand.HasSORRecord(req.SOR, req.SORID) {
			s.logger.Warn("conflicting state detected",
				"sor", req.SOR, "sorid", req.SORID, "reference_id", cand.ID)
			return &models.Result{State: models.StateConflictDetected, Status: http.StatusConflict}, nil
		}
	}

	if searchOnly || s.cfg.Interactive(req.SOR) {
		return &models.Result{
			State:      models.StateMultipleMatch,
			Status:     http.StatusMultipleChoices,
			Candidates: sortedCandidates(candidates),
		}, nil
	}

	// Queue for asynchronous reconciliation: insert pending and hand back the
	// row id as an opaque match request handle.
	ins, err := s.registry.Insert(ctx, req, values, "", false)
	if err != nil {
		return nil, err
	}
	s.logger.Info("queued for resolution", "sor", req.SOR, "sorid", req.SORID, "match_request", ins.RowID)
	return &models.Result{
		State:        models.StateSingleFuzzyMatch,
		Status:       http.StatusAccepted,
		MatchRequest: ins.RowID,
	}, nil
}

// singleExact returns the lone candidate when it clears the exact-match
// confidence threshold, else nil.
func singleExact(candidates map[string]*models.Candidate) *models.Candidate {
	if len(candidates) != 1 {
		return nil
	}
	for _, cand := range candidates {
		if cand.Confidence >= models.ExactMatchThreshold {
			return cand
		}
	}
	return nil
}

func sortedCandidates(candidates map[string]*models.Candidate) []models.Candidate {
	out := make([]models.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, *cand)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}
