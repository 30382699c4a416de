// Package catalog provides read access to the books and borrowers owned by
// the catalog and borrower-management collaborators.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/server/models"
)

// PostgresRepository implements catalog lookups over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) BorrowerExists(ctx context.Context, cardID string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM borrowers WHERE card_id = $1)`, cardID)
}

func (r *PostgresRepository) BookExists(ctx context.Context, isbn string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS (SELECT 1 FROM books WHERE isbn = $1)`, isbn)
}

// GetBorrower loads a borrower by card id. Returns common.ErrorNotFound if absent.
func (r *PostgresRepository) GetBorrower(ctx context.Context, cardID string) (*models.Borrower, error) {
	query := `SELECT card_id, bname, address, phone FROM borrowers WHERE card_id = $1`

	var b models.Borrower
	err := r.db.QueryRowContext(ctx, query, cardID).Scan(&b.CardID, &b.Name, &b.Address, &b.Phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &b, nil
}

func (r *PostgresRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}
