// Package repository is the persistent record store used by the quota engine.
//
// It reads content records (for storage accounting) and the user profile
// (for the Stripe customer handle and the post-downgrade grace fields).
package repository

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// New creates a Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// Queries holds the record store queries.
type Queries struct {
	db DBTX
}
