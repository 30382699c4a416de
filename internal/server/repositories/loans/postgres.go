// Package loans provides the PostgreSQL-backed loan ledger.
package loans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/server/models"
)

// ActiveBookIndex is the partial unique index allowing one open loan per isbn.
const ActiveBookIndex = "book_loans_one_active_per_book"

const primaryKey = "book_loans_pkey"

var dialect = goqu.Dialect("postgres")

// PostgresRepository implements loan storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// NextID returns MAX(loan_id)+1, or 1 for an empty ledger. It is only
// meaningful inside the transaction that inserts the loan.
func (r *PostgresRepository) NextID(ctx context.Context) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(loan_id), 0) + 1 FROM book_loans`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) CountActiveByBorrower(ctx context.Context, cardID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM book_loans WHERE card_id = $1 AND date_in IS NULL`, cardID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) HasActiveForBook(ctx context.Context, isbn string) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM book_loans WHERE isbn = $1 AND date_in IS NULL)`, isbn).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// Create inserts a new open loan. A collision on the active-book index is
// reported as common.ErrBookAlreadyCheckedOut, one on the loan id as
// dbx.ErrConflict.
func (r *PostgresRepository) Create(ctx context.Context, loan *models.Loan) error {
	query := `
		INSERT INTO book_loans (loan_id, isbn, card_id, date_out, due_date, date_in)
		VALUES ($1, $2, $3, $4, $5, NULL)
	`
	_, err := r.db.ExecContext(ctx, query, loan.ID, loan.ISBN, loan.CardID, loan.DateOut, loan.DueDate)
	if err != nil {
		if dbx.IsUniqueViolation(err, ActiveBookIndex) {
			return common.ErrBookAlreadyCheckedOut
		}
		if dbx.IsUniqueViolation(err, primaryKey) {
			return fmt.Errorf("loan id %d: %w", loan.ID, dbx.ErrConflict)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Exists(ctx context.Context, loanID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM book_loans WHERE loan_id = $1)`, loanID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

// GetForShare reads a loan and holds a share lock on it until the
// surrounding transaction ends, so a concurrent check-in waits for it.
// Returns common.ErrorNotFound if absent.
func (r *PostgresRepository) GetForShare(ctx context.Context, loanID int64) (*models.Loan, error) {
	query := `
		SELECT loan_id, isbn, card_id, date_out, due_date, date_in
		FROM book_loans WHERE loan_id = $1
		FOR SHARE
	`
	var (
		l      models.Loan
		dateIn sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, loanID).
		Scan(&l.ID, &l.ISBN, &l.CardID, &l.DateOut, &l.DueDate, &dateIn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if dateIn.Valid {
		l.DateIn = &dateIn.Time
	}
	return &l, nil
}

// MarkReturned sets date_in on an open loan. It reports false when the loan
// does not exist or was already returned; the caller tells the two apart.
func (r *PostgresRepository) MarkReturned(ctx context.Context, loanID int64, dateIn time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE book_loans SET date_in = $1 WHERE loan_id = $2 AND date_in IS NULL`, dateIn, loanID)
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

// OverdueIDs lists loans returned after their due date or still open past it.
func (r *PostgresRepository) OverdueIDs(ctx context.Context, today time.Time) ([]int64, error) {
	query := `
		SELECT loan_id FROM book_loans
		WHERE (date_in IS NOT NULL AND date_in > due_date)
		   OR (date_in IS NULL AND $1::date > due_date)
		ORDER BY loan_id
	`
	rows, err := r.db.QueryContext(ctx, query, today)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// SearchActive matches term case-insensitively against isbn, card id and
// borrower name among open loans, most recent checkout first.
func (r *PostgresRepository) SearchActive(ctx context.Context, term string) ([]models.ActiveLoan, error) {
	pattern := "%" + escapeLike(term) + "%"

	query, args, err := dialect.
		From(goqu.T("book_loans").As("bl")).
		Select("bl.loan_id", "bl.isbn", "b.title", "bl.card_id", "br.bname", "bl.date_out", "bl.due_date").
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("bl.isbn")))).
		Join(goqu.T("borrowers").As("br"), goqu.On(goqu.I("br.card_id").Eq(goqu.I("bl.card_id")))).
		Where(
			goqu.I("bl.date_in").IsNull(),
			goqu.Or(
				goqu.I("bl.isbn").ILike(pattern),
				goqu.I("bl.card_id").ILike(pattern),
				goqu.I("br.bname").ILike(pattern),
			),
		).
		Order(goqu.I("bl.date_out").Desc(), goqu.I("bl.loan_id").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.ActiveLoan{}
	for rows.Next() {
		var l models.ActiveLoan
		if err := rows.Scan(&l.LoanID, &l.ISBN, &l.Title, &l.CardID, &l.BorrowerName, &l.DateOut, &l.DueDate); err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ByBorrower returns the full loan history of a borrower, newest first.
func (r *PostgresRepository) ByBorrower(ctx context.Context, cardID string) ([]models.BorrowerLoan, error) {
	query, args, err := dialect.
		From(goqu.T("book_loans").As("bl")).
		Select("bl.loan_id", "bl.isbn", "b.title", "bl.date_out", "bl.due_date", "bl.date_in").
		Join(goqu.T("books").As("b"), goqu.On(goqu.I("b.isbn").Eq(goqu.I("bl.isbn")))).
		Where(goqu.I("bl.card_id").Eq(cardID)).
		Order(goqu.I("bl.date_out").Desc(), goqu.I("bl.loan_id").Desc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.BorrowerLoan{}
	for rows.Next() {
		var (
			l      models.BorrowerLoan
			dateIn sql.NullTime
		)
		if err := rows.Scan(&l.LoanID, &l.ISBN, &l.Title, &l.DateOut, &l.DueDate, &dateIn); err != nil {
			return nil, err
		}
		if dateIn.Valid {
			l.DateIn = &dateIn.Time
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
