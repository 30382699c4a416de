package catalog

import (
	"context"

	"github.com/dmitrijs2005/circulation/internal/server/models"
)

// Repository is the read-only view of books and borrowers.
type Repository interface {
	BorrowerExists(ctx context.Context, cardID string) (bool, error)
	GetBorrower(ctx context.Context, cardID string) (*models.Borrower, error)
	BookExists(ctx context.Context, isbn string) (bool, error)
}
