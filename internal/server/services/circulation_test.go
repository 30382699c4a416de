package services

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/server/models"
)

func TestCheckout_Success(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada Lovelace").addBook("B1", "Sketch")
	f.commits(1)

	res, err := f.circ.Checkout(context.Background(), " B1 ", "000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LoanID)
	assert.Equal(t, day(2024, 1, 15), res.DueDate)

	loan := f.store.loans[1]
	require.NotNil(t, loan)
	assert.Equal(t, "B1", loan.ISBN)
	assert.Equal(t, day(2024, 1, 1), loan.DateOut)
	assert.True(t, loan.Active())
	f.verify(t)
}

func TestCheckout_IDsIncrease(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada").addBook("B1", "One").addBook("B2", "Two")
	f.store.loans[41] = &models.Loan{ID: 41, ISBN: "B9", CardID: "000009", DateOut: day(2023, 1, 1), DueDate: day(2023, 1, 15), DateIn: ptr(day(2023, 1, 2))}
	f.commits(2)

	r1, err := f.circ.Checkout(context.Background(), "B1", "000001")
	require.NoError(t, err)
	r2, err := f.circ.Checkout(context.Background(), "B2", "000001")
	require.NoError(t, err)

	assert.Equal(t, int64(42), r1.LoanID)
	assert.Equal(t, int64(43), r2.LoanID)
	f.verify(t)
}

func TestCheckout_Preconditions(t *testing.T) {
	tests := []struct {
		name  string
		setup func(s *memStore)
		isbn  string
		card  string
		want  error
	}{
		{
			name: "borrower not found",
			setup: func(s *memStore) {
				s.addBook("B1", "One")
			},
			isbn: "B1", card: "000404", want: common.ErrBorrowerNotFound,
		},
		{
			name: "unpaid fines",
			setup: func(s *memStore) {
				s.addBorrower("000001", "Ada").addBook("B1", "One").addBook("B2", "Two")
				s.loans[1] = &models.Loan{ID: 1, ISBN: "B2", CardID: "000001", DateOut: day(2023, 1, 1), DueDate: day(2023, 1, 15), DateIn: ptr(day(2023, 1, 20))}
				s.fines[1] = &models.Fine{LoanID: 1, Amount: dec("1.25")}
			},
			isbn: "B1", card: "000001", want: common.ErrUnpaidFinesOutstanding,
		},
		{
			name: "max active loans",
			setup: func(s *memStore) {
				s.addBorrower("000001", "Ada").addBook("B4", "Four")
				for i, isbn := range []string{"B1", "B2", "B3"} {
					id := int64(i + 1)
					s.loans[id] = &models.Loan{ID: id, ISBN: isbn, CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
				}
			},
			isbn: "B4", card: "000001", want: common.ErrMaxActiveLoansReached,
		},
		{
			name: "book already out",
			setup: func(s *memStore) {
				s.addBorrower("000001", "Ada").addBorrower("000002", "Bob").addBook("B1", "One")
				s.loans[1] = &models.Loan{ID: 1, ISBN: "B1", CardID: "000002", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
			},
			isbn: "B1", card: "000001", want: common.ErrBookAlreadyCheckedOut,
		},
		{
			name: "book not in catalog",
			setup: func(s *memStore) {
				s.addBorrower("000001", "Ada")
			},
			isbn: "NOPE", card: "000001", want: common.ErrBookNotFound,
		},
		{
			name: "unknown borrower checked before unknown book",
			setup: func(s *memStore) {},
			isbn: "NOPE", card: "000404", want: common.ErrBorrowerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f.store)
			before := len(f.store.loans)
			f.rollbacks(1)

			_, err := f.circ.Checkout(context.Background(), tt.isbn, tt.card)
			require.ErrorIs(t, err, tt.want)
			assert.True(t, common.IsBusinessRule(err) || common.IsNotFound(err))
			assert.Len(t, f.store.loans, before, "rejected checkout must not write")
			f.verify(t)
		})
	}
}

func TestCheckout_BlankArguments(t *testing.T) {
	f := newFixture(t)

	_, err := f.circ.Checkout(context.Background(), "  ", "000001")
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	_, err = f.circ.Checkout(context.Background(), "B1", "")
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	f.verify(t)
}

func TestCheckout_RetriesSerializationFailure(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada").addBook("B1", "One")
	f.store.failNext("NextID", &pgconn.PgError{Code: "40001"})
	f.rollbacks(1)
	f.commits(1)

	res, err := f.circ.Checkout(context.Background(), "B1", "000001")
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LoanID)
	assert.Equal(t, 2, f.store.calls["BorrowerExists"], "preconditions are re-validated on replay")
	f.verify(t)
}

func TestCheckout_ActiveIndexCollision(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada").addBook("B1", "One")
	f.store.failNext("Create", common.ErrBookAlreadyCheckedOut)
	f.rollbacks(1)

	_, err := f.circ.Checkout(context.Background(), "B1", "000001")
	require.ErrorIs(t, err, common.ErrBookAlreadyCheckedOut)
	f.verify(t)
}

func TestCheckout_InfrastructureError(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada").addBook("B1", "One")
	boom := errors.New("db error: connection reset")
	f.store.failNext("CountActiveByBorrower", boom)
	f.rollbacks(1)

	_, err := f.circ.Checkout(context.Background(), "B1", "000001")
	require.ErrorIs(t, err, boom)
	assert.False(t, common.IsBusinessRule(err))
	f.verify(t)
}

func TestCheckIn_BatchSize(t *testing.T) {
	f := newFixture(t)

	_, err := f.circ.CheckIn(context.Background(), nil)
	require.ErrorIs(t, err, common.ErrInvalidCheckInBatch)

	_, err = f.circ.CheckIn(context.Background(), []int64{1, 2, 3, 4})
	require.ErrorIs(t, err, common.ErrInvalidCheckInBatch)
	f.verify(t)
}

func TestCheckIn_PerLoanResults(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada")
	f.store.loans[1] = &models.Loan{ID: 1, ISBN: "B1", CardID: "000001", DateOut: day(2023, 12, 20), DueDate: day(2024, 1, 3)}
	f.store.loans[2] = &models.Loan{ID: 2, ISBN: "B2", CardID: "000001", DateOut: day(2023, 12, 1), DueDate: day(2023, 12, 15), DateIn: ptr(day(2023, 12, 10))}
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()
	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	results, err := f.circ.CheckIn(context.Background(), []int64{1, 2, 99})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, models.CheckInResult{LoanID: 1, Message: MsgCheckedIn}, results[0])
	assert.Equal(t, int64(2), results[1].LoanID)
	assert.Equal(t, MsgAlreadyReturned, results[1].Message)
	assert.ErrorIs(t, results[1].Err, common.ErrAlreadyReturned)
	assert.Equal(t, MsgLoanNotFound, results[2].Message)
	assert.ErrorIs(t, results[2].Err, common.ErrLoanNotFound)

	require.NotNil(t, f.store.loans[1].DateIn)
	assert.Equal(t, day(2024, 1, 1), *f.store.loans[1].DateIn)
	assert.Equal(t, day(2023, 12, 10), *f.store.loans[2].DateIn, "returned loan must not change")
	f.verify(t)
}

func TestCheckIn_NonPositiveID(t *testing.T) {
	f := newFixture(t)

	results, err := f.circ.CheckIn(context.Background(), []int64{0})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, MsgLoanNotFound, results[0].Message)
	f.verify(t)
}

func TestCheckIn_SecondOfDuplicateIsAlreadyReturned(t *testing.T) {
	f := newFixture(t)
	f.store.loans[5] = &models.Loan{ID: 5, ISBN: "B1", CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
	f.commits(1)
	f.rollbacks(1)

	results, err := f.circ.CheckIn(context.Background(), []int64{5, 5})
	require.NoError(t, err)
	assert.Equal(t, MsgCheckedIn, results[0].Message)
	assert.Equal(t, MsgAlreadyReturned, results[1].Message)
	f.verify(t)
}

func TestCheckIn_FailureDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	f.store.loans[1] = &models.Loan{ID: 1, ISBN: "B1", CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
	f.store.loans[2] = &models.Loan{ID: 2, ISBN: "B2", CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
	boom := errors.New("db error: broken pipe")
	f.store.failNext("MarkReturned", boom)
	f.rollbacks(1)
	f.commits(1)

	results, err := f.circ.CheckIn(context.Background(), []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, MsgCheckInFailed, results[0].Message)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, MsgCheckedIn, results[1].Message)
	assert.True(t, f.store.loans[1].Active())
	assert.False(t, f.store.loans[2].Active())
	f.verify(t)
}

func TestSearchActiveLoans(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada Lovelace").addBorrower("000002", "Bob").addBook("B1", "One").addBook("B2", "Two")
	f.store.loans[1] = &models.Loan{ID: 1, ISBN: "B1", CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}
	f.store.loans[2] = &models.Loan{ID: 2, ISBN: "B2", CardID: "000001", DateOut: day(2024, 1, 5), DueDate: day(2024, 1, 19)}
	f.store.loans[3] = &models.Loan{ID: 3, ISBN: "B3", CardID: "000002", DateOut: day(2024, 1, 9), DueDate: day(2024, 1, 23), DateIn: ptr(day(2024, 1, 10))}

	got, err := f.circ.SearchActiveLoans(context.Background(), "lovelace")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].LoanID, "most recent checkout first")
	assert.Equal(t, "Two", got[0].Title)

	got, err = f.circ.SearchActiveLoans(context.Background(), "000002")
	require.NoError(t, err)
	assert.Empty(t, got, "returned loans are excluded")
}

func TestSearchActiveLoans_BlankTerm(t *testing.T) {
	f := newFixture(t)

	got, err := f.circ.SearchActiveLoans(context.Background(), "   ")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Zero(t, f.store.calls["SearchActive"])
}

func TestSearchActiveLoans_Error(t *testing.T) {
	f := newFixture(t)
	f.store.failNext("SearchActive", errors.New("db error: x"))

	_, err := f.circ.SearchActiveLoans(context.Background(), "x")
	require.Error(t, err)
}

func TestBorrowerLoans(t *testing.T) {
	f := newFixture(t)
	f.store.addBorrower("000001", "Ada").addBook("B1", "One").addBook("B2", "Two")
	f.store.loans[1] = &models.Loan{ID: 1, ISBN: "B1", CardID: "000001", DateOut: day(2023, 12, 1), DueDate: day(2023, 12, 15), DateIn: ptr(day(2023, 12, 2))}
	f.store.loans[2] = &models.Loan{ID: 2, ISBN: "B2", CardID: "000001", DateOut: day(2024, 1, 1), DueDate: day(2024, 1, 15)}

	got, err := f.circ.BorrowerLoans(context.Background(), "000001")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].LoanID)
	assert.Nil(t, got[0].DateIn)
	assert.NotNil(t, got[1].DateIn)

	_, err = f.circ.BorrowerLoans(context.Background(), "000404")
	require.ErrorIs(t, err, common.ErrBorrowerNotFound)

	_, err = f.circ.BorrowerLoans(context.Background(), "")
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestBorrowerLoans_LookupError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("db error: timeout")
	f.store.failNext("GetBorrower", boom)

	_, err := f.circ.BorrowerLoans(context.Background(), "000001")
	require.ErrorIs(t, err, boom)
}

func TestCheckInMessage(t *testing.T) {
	assert.Equal(t, MsgCheckedIn, checkInMessage(nil))
	assert.Equal(t, MsgLoanNotFound, checkInMessage(common.ErrLoanNotFound))
	assert.Equal(t, MsgAlreadyReturned, checkInMessage(common.ErrAlreadyReturned))
	assert.Equal(t, MsgCheckInFailed, checkInMessage(errors.New("x")))
}
