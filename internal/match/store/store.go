// Package store persists linkage rows. The postgres implementation is the
// production registry; the memory implementation backs unit tests and applies
// the same predicate semantics through the predicate evaluator.
package store

import (
	"context"

	"ormatch/internal/match/models"
	"ormatch/internal/match/predicate"
)

// Registry is the persistence contract for the match registry.
//
// All methods participate in the caller's transaction when one is carried in
// the context (see pkg/platform/tx); the orchestrator owns transaction
// boundaries.
type Registry interface {
	// FindBySOR returns the row for a (sor, sorid) pair, or a not-found error.
	FindBySOR(ctx context.Context, sor, sorid string) (*models.LinkageRow, error)

	// FindByReference returns every row linked to a reference id.
	FindByReference(ctx context.Context, referenceID string) ([]models.LinkageRow, error)

	// Search returns the rows satisfying the predicate. Only rows with a
	// non-null reference id are eligible match candidates and returned.
	Search(ctx context.Context, pred predicate.Node) ([]models.LinkageRow, error)

	// Insert adds a linkage row for (sor, sorid) with the given attribute
	// column values. A still-pending row for the same pair is replaced; a
	// resolved row is a conflict error (the caller should have updated).
	// referenceID links the row to an existing identity; assign allocates a
	// fresh one. With neither, the row is inserted pending resolution.
	Insert(ctx context.Context, req models.Request, values map[string]string, referenceID string, assign bool) (*InsertResult, error)

	// Update overwrites every configured attribute column for the row
	// matching (sor, sorid), setting absent values to NULL. It does not touch
	// the reference id.
	Update(ctx context.Context, req models.Request, values map[string]string) (*UpdateResult, error)
}

// InsertResult reports the inserted row. ReferenceID is empty when the row
// was inserted pending resolution; RowID then serves as the opaque match
// request handle.
type InsertResult struct {
	RowID       int64
	ReferenceID string
}

// UpdateResult confirms the updated row.
type UpdateResult struct {
	RowID       int64
	ReferenceID string
}
