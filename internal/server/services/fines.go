package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/circulation/internal/timex"
)

// FineService derives fines from loans and settles them.
// Loan rows are only ever read here.
type FineService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	policy      Policy
	attempts    uint64
	logger      logging.Logger
	now         func() time.Time
}

func NewFineService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, logger logging.Logger) *FineService {
	return &FineService{
		db:          db,
		repomanager: m,
		policy:      PolicyFromConfig(cfg),
		attempts:    attemptsFromConfig(cfg),
		logger:      logger.With("service", "fines"),
		now:         time.Now,
	}
}

type reconcileOutcome int

const (
	outcomeUnchanged reconcileOutcome = iota
	outcomeInserted
	outcomeUpdated
	outcomeSkippedPaid
)

// Reconcile brings the fine ledger in line with the loan ledger: a fine is
// inserted for each newly late loan and unpaid amounts are recomputed. Paid
// fines are never touched. Each loan is handled in its own transaction; on
// an infrastructure error the counts accumulated so far are returned with it.
func (s *FineService) Reconcile(ctx context.Context) (*models.ReconcileResult, error) {
	today := timex.Date(s.now())
	result := &models.ReconcileResult{}

	ids, err := s.repomanager.Loans(s.db).OverdueIDs(ctx, today)
	if err != nil {
		s.logger.Error(ctx, "reconcile scan failed", "error", err)
		return result, err
	}

	for _, id := range ids {
		outcome, err := s.reconcileLoan(ctx, id, today)
		if err != nil {
			s.logger.Error(ctx, "reconcile stopped", "loan_id", id, "error", err,
				"inserted", result.Inserted, "updated", result.Updated, "skipped_paid", result.SkippedPaid)
			return result, fmt.Errorf("reconcile loan %d: %w", id, err)
		}
		switch outcome {
		case outcomeInserted:
			result.Inserted++
		case outcomeUpdated:
			result.Updated++
		case outcomeSkippedPaid:
			result.SkippedPaid++
		}
	}

	s.logger.Info(ctx, "fines reconciled", "scanned", len(ids),
		"inserted", result.Inserted, "updated", result.Updated, "skipped_paid", result.SkippedPaid)
	return result, nil
}

// reconcileLoan share-locks the loan and row-locks its fine so a concurrent
// check-in or payment cannot interleave with the recomputation.
func (s *FineService) reconcileLoan(ctx context.Context, loanID int64, today time.Time) (reconcileOutcome, error) {
	var outcome reconcileOutcome

	err := dbx.WithTxRetry(ctx, s.db, nil, s.attempts, func(ctx context.Context, tx dbx.DBTX) error {
		outcome = outcomeUnchanged
		loanRepo := s.repomanager.Loans(tx)
		fineRepo := s.repomanager.Fines(tx)

		loan, err := loanRepo.GetForShare(ctx, loanID)
		if err != nil {
			return err
		}

		amount := s.policy.Fine(loan, today)
		if !amount.IsPositive() {
			return nil
		}

		fine, err := fineRepo.GetForUpdate(ctx, loanID)
		if errors.Is(err, common.ErrorNotFound) {
			inserted, err := fineRepo.Insert(ctx, loanID, amount)
			if err != nil {
				return err
			}
			if inserted {
				outcome = outcomeInserted
				return nil
			}
			// another reconcile created it first
			fine, err = fineRepo.GetForUpdate(ctx, loanID)
			if err != nil {
				return err
			}
		} else if err != nil {
			return err
		}

		if fine.Paid {
			outcome = outcomeSkippedPaid
			return nil
		}
		if fine.Amount.Equal(amount) {
			return nil
		}

		updated, err := fineRepo.UpdateUnpaidAmount(ctx, loanID, amount)
		if err != nil {
			return err
		}
		if updated {
			outcome = outcomeUpdated
		}
		return nil
	})

	return outcome, err
}

// PayAll settles every unpaid fine of a borrower in one statement inside a
// serializable transaction. It is refused while any fined book is still out,
// and when nothing is owed.
func (s *FineService) PayAll(ctx context.Context, cardID string) (*models.PaymentResult, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return nil, fmt.Errorf("%w: card id is required", common.ErrInvalidArgument)
	}

	var paid int64
	err := dbx.WithTxRetry(ctx, s.db, serializable, s.attempts, func(ctx context.Context, tx dbx.DBTX) error {
		fineRepo := s.repomanager.Fines(tx)

		blocked, err := fineRepo.HasUnpaidOnActiveLoan(ctx, cardID)
		if err != nil {
			return err
		}
		if blocked {
			return common.ErrUnreturnedBooksBlockPayment
		}

		total, err := fineRepo.UnpaidTotal(ctx, cardID)
		if err != nil {
			return err
		}
		if !total.IsPositive() {
			return common.ErrNoUnpaidFines
		}

		paid, err = fineRepo.MarkAllPaid(ctx, cardID)
		return err
	})
	if err != nil {
		logFailure(ctx, s.logger, "payment rejected", err, "card_id", cardID)
		return nil, err
	}

	s.logger.Info(ctx, "fines paid", "card_id", cardID, "paid_count", paid)
	return &models.PaymentResult{PaidCount: paid}, nil
}

// ListByBorrower groups fines per borrower, ordered by name then card id.
// Without includePaid, paid fines are left out entirely and borrowers who
// owe nothing do not appear.
func (s *FineService) ListByBorrower(ctx context.Context, includePaid bool) ([]models.BorrowerFines, error) {
	details, err := s.repomanager.Fines(s.db).ListDetails(ctx, includePaid)
	if err != nil {
		s.logger.Error(ctx, "list fines failed", "error", err)
		return nil, err
	}
	return groupByBorrower(details), nil
}

// groupByBorrower folds detail rows, already sorted by borrower, into summaries.
func groupByBorrower(details []models.FineDetail) []models.BorrowerFines {
	result := []models.BorrowerFines{}
	for _, d := range details {
		n := len(result)
		if n == 0 || result[n-1].CardID != d.CardID {
			result = append(result, models.BorrowerFines{CardID: d.CardID, Name: d.BorrowerName, Total: decimal.Zero})
			n++
		}
		g := &result[n-1]
		g.Total = g.Total.Add(d.Amount)
		g.Details = append(g.Details, d)
	}
	return result
}

// UnpaidTotal returns what the borrower currently owes.
func (s *FineService) UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error) {
	cardID = strings.TrimSpace(cardID)
	if cardID == "" {
		return decimal.Zero, fmt.Errorf("%w: card id is required", common.ErrInvalidArgument)
	}

	ok, err := s.repomanager.Catalog(s.db).BorrowerExists(ctx, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, common.ErrBorrowerNotFound
	}

	total, err := s.repomanager.Fines(s.db).UnpaidTotal(ctx, cardID)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}
