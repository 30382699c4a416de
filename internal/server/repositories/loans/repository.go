package loans

import (
	"context"
	"time"

	"github.com/dmitrijs2005/circulation/internal/server/models"
)

type Repository interface {
	NextID(ctx context.Context) (int64, error)
	CountActiveByBorrower(ctx context.Context, cardID string) (int, error)
	HasActiveForBook(ctx context.Context, isbn string) (bool, error)
	Create(ctx context.Context, loan *models.Loan) error
	Exists(ctx context.Context, loanID int64) (bool, error)
	GetForShare(ctx context.Context, loanID int64) (*models.Loan, error)
	MarkReturned(ctx context.Context, loanID int64, dateIn time.Time) (bool, error)
	OverdueIDs(ctx context.Context, today time.Time) ([]int64, error)
	SearchActive(ctx context.Context, term string) ([]models.ActiveLoan, error)
	ByBorrower(ctx context.Context, cardID string) ([]models.BorrowerLoan, error)
}
