package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	"ormatch/internal/match/predicate"
	dErrors "ormatch/pkg/domain-errors"
)

// InMemory is a registry store for tests and local development. It evaluates
// predicates with the same semantics the Postgres renderer emits.
type InMemory struct {
	mu        sync.Mutex
	cfg       *config.Config
	rows      []models.LinkageRow
	nextRowID int64
	nextRef   int64
}

func NewInMemory(cfg *config.Config) *InMemory {
	return &InMemory{cfg: cfg}
}

func (m *InMemory) FindBySOR(_ context.Context, sor, sorid string) (*models.LinkageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if row := m.lookup(sor, sorid); row != nil {
		cp := copyRow(*row)
		return &cp, nil
	}
	return nil, dErrors.Newf(dErrors.CodeNotFound, "no row for %s/%s", sor, sorid)
}

func (m *InMemory) FindByReference(_ context.Context, referenceID string) ([]models.LinkageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LinkageRow
	for i := range m.rows {
		if m.rows[i].ReferenceID != nil && *m.rows[i].ReferenceID == referenceID {
			out = append(out, copyRow(m.rows[i]))
		}
	}
	return out, nil
}

func (m *InMemory) Search(_ context.Context, pred predicate.Node) ([]models.LinkageRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.LinkageRow
	for i := range m.rows {
		row := &m.rows[i]
		if !row.Resolved() {
			continue
		}
		cols := row.Columns()
		match := predicate.Eval(pred, func(col string) (string, bool) {
			v, ok := cols[col]
			return v, ok && v != ""
		})
		if match {
			out = append(out, copyRow(*row))
		}
	}
	return out, nil
}

func (m *InMemory) Insert(_ context.Context, req models.Request, values map[string]string, referenceID string, assign bool) (*InsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.lookup(req.SOR, req.SORID); existing != nil {
		if existing.Resolved() {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"row for %s/%s is already resolved; update expected", req.SOR, req.SORID)
		}
		m.remove(existing.ID)
	}

	ref := referenceID
	if assign {
		if m.cfg.ReferenceID == config.ReferenceIDSequence {
			m.nextRef++
			ref = strconv.FormatInt(m.nextRef, 10)
		} else {
			ref = uuid.NewString()
		}
	}

	now := time.Now().UTC()
	m.nextRowID++
	row := models.LinkageRow{
		ID:          m.nextRowID,
		SOR:         req.SOR,
		SORID:       req.SORID,
		RequestTime: now,
		Attributes:  copyValues(values),
	}
	if ref != "" {
		row.ReferenceID = &ref
		resolved := now
		row.ResolutionTime = &resolved
	}
	m.rows = append(m.rows, row)

	return &InsertResult{RowID: row.ID, ReferenceID: ref}, nil
}

func (m *InMemory) Update(_ context.Context, req models.Request, values map[string]string) (*UpdateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row := m.lookup(req.SOR, req.SORID)
	if row == nil {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no row for %s/%s", req.SOR, req.SORID)
	}

	row.Attributes = copyValues(values)

	res := &UpdateResult{RowID: row.ID}
	if row.ReferenceID != nil {
		res.ReferenceID = *row.ReferenceID
	}
	return res, nil
}

func (m *InMemory) lookup(sor, sorid string) *models.LinkageRow {
	for i := range m.rows {
		if m.rows[i].SOR == sor && m.rows[i].SORID == sorid {
			return &m.rows[i]
		}
	}
	return nil
}

func (m *InMemory) remove(rowID int64) {
	for i := range m.rows {
		if m.rows[i].ID == rowID {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return
		}
	}
}

func copyRow(row models.LinkageRow) models.LinkageRow {
	cp := row
	cp.Attributes = copyValues(row.Attributes)
	if row.ReferenceID != nil {
		ref := *row.ReferenceID
		cp.ReferenceID = &ref
	}
	if row.ResolutionTime != nil {
		t := *row.ResolutionTime
		cp.ResolutionTime = &t
	}
	return cp
}

func copyValues(values map[string]string) map[string]string {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return cp
}
