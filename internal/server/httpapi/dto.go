package httpapi

import (
	"time"

	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

type checkoutRequest struct {
	ISBN   string `json:"isbn"`
	CardID string `json:"card_id"`
}

type checkoutResponse struct {
	LoanID  int64  `json:"loan_id"`
	DueDate string `json:"due_date"`
	Message string `json:"message"`
}

type checkInRequest struct {
	LoanIDs []int64 `json:"loan_ids"`
}

type checkInResult struct {
	LoanID  int64  `json:"loan_id"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type payRequest struct {
	CardID string `json:"card_id"`
}

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type totalResponse struct {
	CardID string `json:"card_id"`
	Total  string `json:"total"`
}

type reconcileResponse struct {
	Inserted    int `json:"inserted"`
	Updated     int `json:"updated"`
	SkippedPaid int `json:"skipped_paid"`
}

type paymentResponse struct {
	PaidCount int64 `json:"paid_count"`
}

type activeLoan struct {
	LoanID       int64  `json:"loan_id"`
	ISBN         string `json:"isbn"`
	Title        string `json:"title"`
	CardID       string `json:"card_id"`
	BorrowerName string `json:"borrower_name"`
	DateOut      string `json:"date_out"`
	DueDate      string `json:"due_date"`
}

type borrowerLoan struct {
	LoanID  int64   `json:"loan_id"`
	ISBN    string  `json:"isbn"`
	Title   string  `json:"title"`
	DateOut string  `json:"date_out"`
	DueDate string  `json:"due_date"`
	DateIn  *string `json:"date_in"`
}

type fineDetail struct {
	LoanID  int64   `json:"loan_id"`
	ISBN    string  `json:"isbn"`
	Title   string  `json:"title"`
	DueDate string  `json:"due_date"`
	DateIn  *string `json:"date_in"`
	Amount  string  `json:"fine_amt"`
	Paid    bool    `json:"paid"`
}

type borrowerFines struct {
	CardID  string       `json:"card_id"`
	Name    string       `json:"bname"`
	Total   string       `json:"total"`
	Details []fineDetail `json:"details"`
}

func formatDate(t time.Time) string {
	return timex.FormatDate(t)
}

func formatOptionalDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := timex.FormatDate(*t)
	return &s
}

func toActiveLoans(in []models.ActiveLoan) []activeLoan {
	out := make([]activeLoan, 0, len(in))
	for _, l := range in {
		out = append(out, activeLoan{
			LoanID:       l.LoanID,
			ISBN:         l.ISBN,
			Title:        l.Title,
			CardID:       l.CardID,
			BorrowerName: l.BorrowerName,
			DateOut:      formatDate(l.DateOut),
			DueDate:      formatDate(l.DueDate),
		})
	}
	return out
}

func toCheckInResults(in []models.CheckInResult) []checkInResult {
	out := make([]checkInResult, 0, len(in))
	for _, r := range in {
		res := checkInResult{LoanID: r.LoanID, Message: r.Message}
		if r.Err != nil {
			res.Error = r.Err.Error()
		}
		out = append(out, res)
	}
	return out
}

func toBorrowerLoans(in []models.BorrowerLoan) []borrowerLoan {
	out := make([]borrowerLoan, 0, len(in))
	for _, l := range in {
		out = append(out, borrowerLoan{
			LoanID:  l.LoanID,
			ISBN:    l.ISBN,
			Title:   l.Title,
			DateOut: formatDate(l.DateOut),
			DueDate: formatDate(l.DueDate),
			DateIn:  formatOptionalDate(l.DateIn),
		})
	}
	return out
}

func toBorrowerFines(in []models.BorrowerFines) []borrowerFines {
	out := make([]borrowerFines, 0, len(in))
	for _, g := range in {
		details := make([]fineDetail, 0, len(g.Details))
		for _, d := range g.Details {
			details = append(details, fineDetail{
				LoanID:  d.LoanID,
				ISBN:    d.ISBN,
				Title:   d.Title,
				DueDate: formatDate(d.DueDate),
				DateIn:  formatOptionalDate(d.DateIn),
				Amount:  d.Amount.StringFixed(2),
				Paid:    d.Paid,
			})
		}
		out = append(out, borrowerFines{
			CardID:  g.CardID,
			Name:    g.Name,
			Total:   g.Total.StringFixed(2),
			Details: details,
		})
	}
	return out
}
