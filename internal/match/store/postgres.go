package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ormatch/internal/match/config"
	"ormatch/internal/match/models"
	"ormatch/internal/match/predicate"
	dErrors "ormatch/pkg/domain-errors"
	txcontext "ormatch/pkg/platform/tx"
)

// Postgres persists linkage rows in the matchgrid table. Attribute columns
// are configuration-driven, so queries are assembled dynamically from the
// configured column list and parameterized predicates.
type Postgres struct {
	db     *sql.DB
	cfg    *config.Config
	tracer *slog.Logger
}

type PostgresOption func(*Postgres)

// WithSQLTrace logs every rendered search query and its bind values at debug
// level.
func WithSQLTrace(logger *slog.Logger) PostgresOption {
	return func(p *Postgres) {
		p.tracer = logger
	}
}

func NewPostgres(db *sql.DB, cfg *config.Config, opts ...PostgresOption) *Postgres {
	p := &Postgres{db: db, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns the transaction carried by the context, or the pool.
func (p *Postgres) q(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

// selectColumns is the fixed row head followed by the configured attribute
// columns, in the order scanRow expects.
func (p *Postgres) selectColumns() string {
	cols := append([]string{"id", "sor", "sorid", "reference_id", "request_time", "resolution_time"},
		p.cfg.AttributeColumns()...)
	return strings.Join(cols, ", ")
}

func (p *Postgres) FindBySOR(ctx context.Context, sor, sorid string) (*models.LinkageRow, error) {
	query := fmt.Sprintf("SELECT %s FROM matchgrid WHERE sor = $1 AND sorid = $2", p.selectColumns())

	rows, err := p.q(ctx).QueryContext(ctx, query, sor, sorid)
	if err != nil {
		return nil, fmt.Errorf("find by sor: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find by sor: %w", err)
		}
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no row for %s/%s", sor, sorid)
	}
	row, err := p.scanRow(rows)
	if err != nil {
		return nil, err
	}
	return row, rows.Err()
}

func (p *Postgres) FindByReference(ctx context.Context, referenceID string) ([]models.LinkageRow, error) {
	query := fmt.Sprintf("SELECT %s FROM matchgrid WHERE reference_id = $1", p.selectColumns())
	return p.queryRows(ctx, query, referenceID)
}

func (p *Postgres) Search(ctx context.Context, pred predicate.Node) ([]models.LinkageRow, error) {
	clause, args := predicate.SQL(pred)
	query := fmt.Sprintf("SELECT %s FROM matchgrid WHERE reference_id IS NOT NULL AND (%s)",
		p.selectColumns(), clause)
	if p.tracer != nil {
		p.tracer.DebugContext(ctx, "search sql", "query", query, "args", args)
	}
	return p.queryRows(ctx, query, args...)
}

func (p *Postgres) Insert(ctx context.Context, req models.Request, values map[string]string, referenceID string, assign bool) (*InsertResult, error) {
	q := p.q(ctx)

	// Lock any existing row for this pair so concurrent submissions serialize
	// on the replace-pending path.
	var (
		existingID  int64
		existingRef sql.NullString
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, reference_id FROM matchgrid WHERE sor = $1 AND sorid = $2 FOR UPDATE",
		req.SOR, req.SORID).Scan(&existingID, &existingRef)
	switch {
	case err == nil:
		if existingRef.Valid {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"row for %s/%s is already resolved; update expected", req.SOR, req.SORID)
		}
		// A fresh submission supersedes the old pending row.
		if _, err := q.ExecContext(ctx, "DELETE FROM matchgrid WHERE id = $1", existingID); err != nil {
			return nil, fmt.Errorf("replace pending row: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// No prior row, plain insert.
	default:
		return nil, fmt.Errorf("check existing row: %w", err)
	}

	ref := referenceID
	if assign {
		ref, err = p.allocateReferenceID(ctx)
		if err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	columns := []string{"sor", "sorid", "reference_id", "request_time", "resolution_time"}
	args := []any{req.SOR, req.SORID, nullable(ref), now, nil}
	if ref != "" {
		args[4] = now
	}
	for _, col := range p.cfg.AttributeColumns() {
		if v, ok := values[col]; ok {
			columns = append(columns, col)
			args = append(args, v)
		}
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query := fmt.Sprintf("INSERT INTO matchgrid (%s) VALUES (%s) RETURNING id",
		strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var rowID int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&rowID); err != nil {
		return nil, fmt.Errorf("insert linkage row: %w", err)
	}

	return &InsertResult{RowID: rowID, ReferenceID: ref}, nil
}

func (p *Postgres) Update(ctx context.Context, req models.Request, values map[string]string) (*UpdateResult, error) {
	assignments := make([]string, 0, len(p.cfg.AttributeColumns()))
	args := make([]any, 0, len(p.cfg.AttributeColumns())+2)
	for _, col := range p.cfg.AttributeColumns() {
		args = append(args, nullable(values[col]))
		assignments = append(assignments, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, req.SOR, req.SORID)

	query := fmt.Sprintf("UPDATE matchgrid SET %s WHERE sor = $%d AND sorid = $%d RETURNING id, reference_id",
		strings.Join(assignments, ", "), len(args)-1, len(args))

	var (
		rowID int64
		ref   sql.NullString
	)
	if err := p.q(ctx).QueryRowContext(ctx, query, args...).Scan(&rowID, &ref); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "no row for %s/%s", req.SOR, req.SORID)
		}
		return nil, fmt.Errorf("update linkage row: %w", err)
	}

	return &UpdateResult{RowID: rowID, ReferenceID: ref.String}, nil
}

// allocateReferenceID generates a new identity per the configured method.
func (p *Postgres) allocateReferenceID(ctx context.Context) (string, error) {
	if p.cfg.ReferenceID == config.ReferenceIDSequence {
		var next int64
		err := p.q(ctx).QueryRowContext(ctx, "SELECT nextval('matchgrid_reference_id_seq')").Scan(&next)
		if err != nil {
			return "", fmt.Errorf("allocate reference id: %w", err)
		}
		return strconv.FormatInt(next, 10), nil
	}
	return uuid.NewString(), nil
}

func (p *Postgres) queryRows(ctx context.Context, query string, args ...any) ([]models.LinkageRow, error) {
	rows, err := p.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query matchgrid: %w", err)
	}
	defer rows.Close()

	var out []models.LinkageRow
	for rows.Next() {
		row, err := p.scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (p *Postgres) scanRow(rows *sql.Rows) (*models.LinkageRow, error) {
	attrCols := p.cfg.AttributeColumns()

	var (
		row     models.LinkageRow
		ref     sql.NullString
		resTime sql.NullTime
		attrs   = make([]sql.NullString, len(attrCols))
	)

	dest := []any{&row.ID, &row.SOR, &row.SORID, &ref, &row.RequestTime, &resTime}
	for i := range attrs {
		dest = append(dest, &attrs[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan linkage row: %w", err)
	}

	if ref.Valid {
		row.ReferenceID = &ref.String
	}
	if resTime.Valid {
		row.ResolutionTime = &resTime.Time
	}
	row.Attributes = make(map[string]string, len(attrCols))
	for i, col := range attrCols {
		if attrs[i].Valid && attrs[i].String != "" {
			row.Attributes[col] = attrs[i].String
		}
	}
	return &row, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
