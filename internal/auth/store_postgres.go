package auth

import (
	"context"
	"database/sql"
	"fmt"

	txcontext "ormatch/pkg/platform/tx"
)

// PostgresStore reads credentials from the matchauth table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Hashes(ctx context.Context, apiUser, sor string) ([]string, error) {
	q := querier(ctx, s.db)

	rows, err := q.QueryContext(ctx,
		"SELECT apikey FROM matchauth WHERE apiuser = $1 AND sor IN ($2, $3)",
		apiUser, sor, WildcardSOR)
	if err != nil {
		return nil, fmt.Errorf("query matchauth: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan matchauth row: %w", err)
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

type rowQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func querier(ctx context.Context, db *sql.DB) rowQuerier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return db
}
