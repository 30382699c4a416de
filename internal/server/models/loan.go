package models

import "time"

// Loan is one checkout event. DateIn is nil while the book is out.
type Loan struct {
	ID      int64      `db:"loan_id"`
	ISBN    string     `db:"isbn"`
	CardID  string     `db:"card_id"`
	DateOut time.Time  `db:"date_out"`
	DueDate time.Time  `db:"due_date"`
	DateIn  *time.Time `db:"date_in"`
}

func (l *Loan) Active() bool {
	return l.DateIn == nil
}

// ActiveLoan is a search hit joined with the book title and borrower name.
type ActiveLoan struct {
	LoanID       int64
	ISBN         string
	Title        string
	CardID       string
	BorrowerName string
	DateOut      time.Time
	DueDate      time.Time
}

// BorrowerLoan is a row of a borrower's loan history.
type BorrowerLoan struct {
	LoanID  int64
	ISBN    string
	Title   string
	DateOut time.Time
	DueDate time.Time
	DateIn  *time.Time
}

type CheckoutResult struct {
	LoanID  int64
	DueDate time.Time
}

// CheckInResult reports the outcome for a single loan id of a check-in batch.
// Err is nil on success.
type CheckInResult struct {
	LoanID  int64
	Message string
	Err     error
}
