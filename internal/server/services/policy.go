package services

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

// Policy holds the circulation constants: loan length, fine rate and caps.
type Policy struct {
	LoanPeriodDays  int
	DailyFineRate   decimal.Decimal
	MaxActiveLoans  int
	MaxCheckInBatch int
}

func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:  14,
		DailyFineRate:   decimal.RequireFromString("0.25"),
		MaxActiveLoans:  3,
		MaxCheckInBatch: 3,
	}
}

func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		LoanPeriodDays:  cfg.LoanPeriodDays,
		DailyFineRate:   cfg.DailyFineRate,
		MaxActiveLoans:  cfg.MaxActiveLoans,
		MaxCheckInBatch: cfg.MaxCheckInBatch,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.LoanPeriodDays <= 0:
		return fmt.Errorf("%w: loan period must be positive", common.ErrInvalidArgument)
	case !p.DailyFineRate.IsPositive():
		return fmt.Errorf("%w: daily fine rate must be positive", common.ErrInvalidArgument)
	case p.MaxActiveLoans <= 0:
		return fmt.Errorf("%w: max active loans must be positive", common.ErrInvalidArgument)
	case p.MaxCheckInBatch <= 0:
		return fmt.Errorf("%w: max check-in batch must be positive", common.ErrInvalidArgument)
	}
	return nil
}

// DueDate is the checkout date plus the loan period in calendar days.
func (p Policy) DueDate(out time.Time) time.Time {
	return timex.AddDays(out, p.LoanPeriodDays)
}

// DaysLate counts whole days past the due date, measured at the return date
// or at today for a loan still out. Never negative.
func (p Policy) DaysLate(loan *models.Loan, today time.Time) int {
	end := today
	if loan.DateIn != nil {
		end = *loan.DateIn
	}
	if d := timex.DaysBetween(loan.DueDate, end); d > 0 {
		return d
	}
	return 0
}

// Fine is DaysLate times the daily rate, rounded to cents. Zero means no fine.
func (p Policy) Fine(loan *models.Loan, today time.Time) decimal.Decimal {
	return p.DailyFineRate.Mul(decimal.NewFromInt(int64(p.DaysLate(loan, today)))).Round(2)
}
