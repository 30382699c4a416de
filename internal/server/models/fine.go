package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Fine struct {
	LoanID int64           `db:"loan_id"`
	Amount decimal.Decimal `db:"fine_amt"`
	Paid   bool            `db:"paid"`
}

// FineDetail is a fine joined with its loan, book and borrower.
type FineDetail struct {
	CardID       string
	BorrowerName string
	LoanID       int64
	ISBN         string
	Title        string
	DueDate      time.Time
	DateIn       *time.Time
	Amount       decimal.Decimal
	Paid         bool
}

// BorrowerFines groups the fines of one borrower with their total.
type BorrowerFines struct {
	CardID  string
	Name    string
	Total   decimal.Decimal
	Details []FineDetail
}

type ReconcileResult struct {
	Inserted    int
	Updated     int
	SkippedPaid int
}

type PaymentResult struct {
	PaidCount int64
}
