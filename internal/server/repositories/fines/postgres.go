// Package fines provides the PostgreSQL-backed fine ledger.
package fines

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/server/models"
)

var dialect = goqu.Dialect("postgres")

// PostgresRepository implements fine storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// HasUnpaidForBorrower reports whether any loan of the borrower carries an unpaid fine.
func (r *PostgresRepository) HasUnpaidForBorrower(ctx context.Context, cardID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fines f
			JOIN book_loans bl ON bl.loan_id = f.loan_id
			WHERE bl.card_id = $1 AND f.paid = FALSE
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, cardID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// GetForUpdate reads and row-locks the fine of a loan.
// Returns common.ErrorNotFound if the loan has no fine yet.
func (r *PostgresRepository) GetForUpdate(ctx context.Context, loanID int64) (*models.Fine, error) {
	query := `SELECT loan_id, fine_amt, paid FROM fines WHERE loan_id = $1 FOR UPDATE`

	var f models.Fine
	err := r.db.QueryRowContext(ctx, query, loanID).Scan(&f.LoanID, &f.Amount, &f.Paid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return &f, nil
}

// Insert creates an unpaid fine. It reports false without error when a
// concurrent writer created the row first.
func (r *PostgresRepository) Insert(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error) {
	query := `
		INSERT INTO fines (loan_id, fine_amt, paid)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (loan_id) DO NOTHING
	`
	return r.execOne(ctx, query, loanID, amount)
}

// UpdateUnpaidAmount overwrites the amount of an unpaid fine. Paid fines are
// never matched, so it reports false for them.
func (r *PostgresRepository) UpdateUnpaidAmount(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error) {
	query := `UPDATE fines SET fine_amt = $1 WHERE loan_id = $2 AND paid = FALSE`
	return r.execOne(ctx, query, amount, loanID)
}

// HasUnpaidOnActiveLoan reports whether the borrower has an unpaid fine on a
// loan that is still out.
func (r *PostgresRepository) HasUnpaidOnActiveLoan(ctx context.Context, cardID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM fines f
			JOIN book_loans bl ON bl.loan_id = f.loan_id
			WHERE bl.card_id = $1 AND f.paid = FALSE AND bl.date_in IS NULL
		)
	`
	var ok bool
	if err := r.db.QueryRowContext(ctx, query, cardID).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(f.fine_amt), 0)
		FROM fines f
		JOIN book_loans bl ON bl.loan_id = f.loan_id
		WHERE bl.card_id = $1 AND f.paid = FALSE
	`
	var total decimal.Decimal
	if err := r.db.QueryRowContext(ctx, query, cardID).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("db error: %w", err)
	}
	return total, nil
}

// MarkAllPaid flips every unpaid fine of the borrower in one statement and
// returns the number of rows changed.
func (r *PostgresRepository) MarkAllPaid(ctx context.Context, cardID string) (int64, error) {
	query := `
		UPDATE fines f SET paid = TRUE
		FROM book_loans bl
		WHERE bl.loan_id = f.loan_id AND bl.card_id = $1 AND f.paid = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, cardID)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

// ListDetails returns fines joined with loan, book and borrower, ordered by
// borrower name, card id and loan id. Paid fines are skipped unless includePaid.
func (r *PostgresRepository) ListDetails(ctx context.Context, includePaid bool) ([]models.FineDetail, error) {
	ds := dialect.
		From(goqu.T("fines").As("f")).
		Select("br.card_id", "br.bname", "f.loan_id", "bl.isbn", "b.title", "bl.due_date", "bl.date_in", "f.fine_amt", "f.paid").
		Join(goqu.T("book_loans").As("bl"), goqu.On(goqu.I("bl.loan_id").Eq(goqu.I("f.loan_id")))).
		Join(goqu.T("borrowers").As("br"), goqu.On(goqu.I("br.card_id").Eq(goqu.I("bl.card_id")))).
		LeftJoin(goqu.T("books").As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("bl.isbn")))).
		Order(goqu.I("br.bname").Asc(), goqu.I("br.card_id").Asc(), goqu.I("f.loan_id").Asc())
	if !includePaid {
		ds = ds.Where(goqu.I("f.paid").IsFalse())
	}

	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.FineDetail
	for rows.Next() {
		var (
			d      models.FineDetail
			title  sql.NullString
			dateIn sql.NullTime
		)
		if err := rows.Scan(&d.CardID, &d.BorrowerName, &d.LoanID, &d.ISBN, &title, &d.DueDate, &dateIn, &d.Amount, &d.Paid); err != nil {
			return nil, err
		}
		d.Title = title.String
		if dateIn.Valid {
			d.DateIn = &dateIn.Time
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("unexpected rows affected: %d", n)
	}
}
