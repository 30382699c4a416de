package fines

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/server/models"
)

type Repository interface {
	HasUnpaidForBorrower(ctx context.Context, cardID string) (bool, error)
	GetForUpdate(ctx context.Context, loanID int64) (*models.Fine, error)
	Insert(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error)
	UpdateUnpaidAmount(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error)
	HasUnpaidOnActiveLoan(ctx context.Context, cardID string) (bool, error)
	UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error)
	MarkAllPaid(ctx context.Context, cardID string) (int64, error)
	ListDetails(ctx context.Context, includePaid bool) ([]models.FineDetail, error)
}
