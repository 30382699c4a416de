// Package services contains the circulation business logic. This file
// implements CirculationService, the loan ledger: checkout, check-in and the
// read paths over open and historical loans.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

// User-facing check-in outcomes.
const (
	MsgLoanNotFound    = "Loan not found."
	MsgAlreadyReturned = "Book already checked in."
	MsgCheckedIn       = "Book checked in successfully."
	MsgCheckInFailed   = "Check-in failed."
)

var serializable = &sql.TxOptions{Isolation: sql.LevelSerializable}

// CirculationService owns loan rows. Every call re-reads current state from
// the database; nothing is cached between calls.
type CirculationService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	policy      Policy
	attempts    uint64
	logger      logging.Logger
	now         func() time.Time
}

// NewCirculationService constructs a CirculationService using repositories and server config.
func NewCirculationService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *CirculationService {
	return &CirculationService{
		db:          db,
		repomanager: m,
		policy:      PolicyFromConfig(cfg),
		attempts:    attemptsFromConfig(cfg),
		logger:      logger.With("service", "circulation"),
		now:         time.Now,
	}
}

func attemptsFromConfig(cfg *config.Config) uint64 {
	if cfg.TxRetryAttempts < 1 {
		return 1
	}
	return uint64(cfg.TxRetryAttempts)
}

// Checkout lends a book to a borrower. Preconditions are checked in order:
// borrower exists, no unpaid fines, below the active-loan cap, book not out,
// book exists. Checks and insert share one serializable transaction that is
// replayed on serialization failures, so concurrent checkouts of one book or
// by one borrower cannot both pass.
func (s *CirculationService) Checkout(ctx context.Context, isbn, cardID string) (*models.CheckoutResult, error) {
	isbn = strings.TrimSpace(isbn)
	cardID = strings.TrimSpace(cardID)
	if isbn == "" || cardID == "" {
		return nil, fmt.Errorf("%w: isbn and card id are required", common.ErrInvalidArgument)
	}

	today := timex.Date(s.now())
	var result *models.CheckoutResult

	err := dbx.WithTxRetry(ctx, s.db, serializable, s.attempts, func(ctx context.Context, tx dbx.DBTX) error {
		catalogRepo := s.repomanager.Catalog(tx)
		loanRepo := s.repomanager.Loans(tx)
		fineRepo := s.repomanager.Fines(tx)

		ok, err := catalogRepo.BorrowerExists(ctx, cardID)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrBorrowerNotFound
		}

		unpaid, err := fineRepo.HasUnpaidForBorrower(ctx, cardID)
		if err != nil {
			return err
		}
		if unpaid {
			return common.ErrUnpaidFinesOutstanding
		}

		active, err := loanRepo.CountActiveByBorrower(ctx, cardID)
		if err != nil {
			return err
		}
		if active >= s.policy.MaxActiveLoans {
			return common.ErrMaxActiveLoansReached
		}

		out, err := loanRepo.HasActiveForBook(ctx, isbn)
		if err != nil {
			return err
		}
		if out {
			return common.ErrBookAlreadyCheckedOut
		}

		ok, err = catalogRepo.BookExists(ctx, isbn)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrBookNotFound
		}

		id, err := loanRepo.NextID(ctx)
		if err != nil {
			return err
		}

		loan := &models.Loan{
			ID:      id,
			ISBN:    isbn,
			CardID:  cardID,
			DateOut: today,
			DueDate: s.policy.DueDate(today),
		}
		if err := loanRepo.Create(ctx, loan); err != nil {
			return err
		}

		result = &models.CheckoutResult{LoanID: loan.ID, DueDate: loan.DueDate}
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "checkout rejected", err, "isbn", isbn, "card_id", cardID)
		return nil, err
	}

	s.logger.Info(ctx, "book checked out", "loan_id", result.LoanID, "isbn", isbn, "card_id", cardID,
		"due_date", timex.FormatDate(result.DueDate))
	return result, nil
}

// CheckIn returns up to MaxCheckInBatch loans. Each id is handled on its own,
// so one failing id does not affect the others; the call itself only fails
// for an invalid batch size.
func (s *CirculationService) CheckIn(ctx context.Context, loanIDs []int64) ([]models.CheckInResult, error) {
	if len(loanIDs) == 0 || len(loanIDs) > s.policy.MaxCheckInBatch {
		return nil, fmt.Errorf("%w: between 1 and %d loan ids are allowed, got %d",
			common.ErrInvalidCheckInBatch, s.policy.MaxCheckInBatch, len(loanIDs))
	}

	today := timex.Date(s.now())
	results := make([]models.CheckInResult, 0, len(loanIDs))

	for _, id := range loanIDs {
		err := s.checkInOne(ctx, id, today)
		if err != nil {
			s.logFailure(ctx, "check-in rejected", err, "loan_id", id)
		} else {
			s.logger.Info(ctx, "book checked in", "loan_id", id)
		}
		results = append(results, models.CheckInResult{LoanID: id, Message: checkInMessage(err), Err: err})
	}

	return results, nil
}

// checkInOne closes a loan with a conditional update, so of two racing
// check-ins of one loan exactly one changes the row.
func (s *CirculationService) checkInOne(ctx context.Context, loanID int64, today time.Time) error {
	if loanID <= 0 {
		return common.ErrLoanNotFound
	}

	return dbx.WithTxRetry(ctx, s.db, nil, s.attempts, func(ctx context.Context, tx dbx.DBTX) error {
		loanRepo := s.repomanager.Loans(tx)

		updated, err := loanRepo.MarkReturned(ctx, loanID, today)
		if err != nil {
			return err
		}
		if updated {
			return nil
		}

		exists, err := loanRepo.Exists(ctx, loanID)
		if err != nil {
			return err
		}
		if !exists {
			return common.ErrLoanNotFound
		}
		return common.ErrAlreadyReturned
	})
}

func checkInMessage(err error) string {
	switch {
	case err == nil:
		return MsgCheckedIn
	case errors.Is(err, common.ErrLoanNotFound):
		return MsgLoanNotFound
	case errors.Is(err, common.ErrAlreadyReturned):
		return MsgAlreadyReturned
	default:
		return MsgCheckInFailed
	}
}

// SearchActiveLoans finds open loans whose isbn, card id or borrower name
// contains term. A blank term matches nothing.
func (s *CirculationService) SearchActiveLoans(ctx context.Context, term string) ([]models.ActiveLoan, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []models.ActiveLoan{}, nil
	}
	loans, err := s.repomanager.Loans(s.db).SearchActive(ctx, term)
	if err != nil {
		s.logger.Error(ctx, "search active loans failed", "error", err)
		return nil, err
	}
	return loans, nil
}

// BorrowerLoans returns the borrower's loan history, newest checkout first.
func (s *CirculationService) BorrowerLoans(ctx context.Context, cardID string) ([]models.BorrowerLoan, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, fmt.Errorf("%w: card id is required", common.ErrInvalidArgument)
	}

	if _, err := s.repomanager.Catalog(s.db).GetBorrower(ctx, cardID); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrBorrowerNotFound
		}
		return nil, err
	}

	return s.repomanager.Loans(s.db).ByBorrower(ctx, cardID)
}

func (s *CirculationService) logFailure(ctx context.Context, msg string, err error, args ...any) {
	logFailure(ctx, s.logger, msg, err, args...)
}

// logFailure logs expected rejections at info and everything else at error.
func logFailure(ctx context.Context, logger logging.Logger, msg string, err error, args ...any) {
	args = append(args, "error", err)
	if common.IsBusinessRule(err) || common.IsNotFound(err) || common.IsInvalidInput(err) {
		logger.Info(ctx, msg, args...)
		return
	}
	logger.Error(ctx, msg, args...)
}
