package main

import (
	"context"
	"database/sql"
	"time"

	dErrors "ormatch/pkg/domain-errors"
	txcontext "ormatch/pkg/platform/tx"
)

const defaultTxTimeout = 10 * time.Second

// postgresTx runs one match request inside a database transaction. The
// transaction rides the context so every store call inside the callback
// joins it.
type postgresTx struct {
	db      *sql.DB
	timeout time.Duration
}

func newPostgresTx(db *sql.DB, timeout time.Duration) *postgresTx {
	return &postgresTx{db: db, timeout: timeout}
}

func (t *postgresTx) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		return err
	}

	return tx.Commit()
}
