package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"

	"github.com/dmitrijs2005/circulation/internal/common"
	"github.com/dmitrijs2005/circulation/internal/dbx"
	"github.com/dmitrijs2005/circulation/internal/logging"
	"github.com/dmitrijs2005/circulation/internal/server/config"
	"github.com/dmitrijs2005/circulation/internal/server/models"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/fines"
	"github.com/dmitrijs2005/circulation/internal/server/repositories/loans"
)

// memStore is an in-memory stand-in for the three tables. Transactions are
// driven through sqlmock; the store itself applies writes immediately.
type memStore struct {
	mu        sync.Mutex
	books     map[string]string
	borrowers map[string]models.Borrower
	loans     map[int64]*models.Loan
	fines     map[int64]*models.Fine

	// failures maps a method name to the errors it returns, one per call.
	failures map[string][]error
	calls    map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		books:     map[string]string{},
		borrowers: map[string]models.Borrower{},
		loans:     map[int64]*models.Loan{},
		fines:     map[int64]*models.Fine{},
		failures:  map[string][]error{},
		calls:     map[string]int{},
	}
}

func (s *memStore) addBook(isbn, title string) *memStore {
	s.books[isbn] = title
	return s
}

func (s *memStore) addBorrower(cardID, name string) *memStore {
	s.borrowers[cardID] = models.Borrower{CardID: cardID, Name: name}
	return s
}

func (s *memStore) failNext(method string, errs ...error) {
	s.failures[method] = append(s.failures[method], errs...)
}

// enter records the call and pops an injected failure, if any.
func (s *memStore) enter(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if q := s.failures[method]; len(q) > 0 {
		s.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

type memCatalog struct{ s *memStore }

func (r memCatalog) BorrowerExists(ctx context.Context, cardID string) (bool, error) {
	if err := r.s.enter("BorrowerExists"); err != nil {
		return false, err
	}
	_, ok := r.s.borrowers[cardID]
	return ok, nil
}

func (r memCatalog) GetBorrower(ctx context.Context, cardID string) (*models.Borrower, error) {
	if err := r.s.enter("GetBorrower"); err != nil {
		return nil, err
	}
	b, ok := r.s.borrowers[cardID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &b, nil
}

func (r memCatalog) BookExists(ctx context.Context, isbn string) (bool, error) {
	if err := r.s.enter("BookExists"); err != nil {
		return false, err
	}
	_, ok := r.s.books[isbn]
	return ok, nil
}

type memLoans struct{ s *memStore }

func (r memLoans) NextID(ctx context.Context) (int64, error) {
	if err := r.s.enter("NextID"); err != nil {
		return 0, err
	}
	var max int64
	for id := range r.s.loans {
		if id > max {
			max = id
		}
	}
	return max + 1, nil
}

func (r memLoans) CountActiveByBorrower(ctx context.Context, cardID string) (int, error) {
	if err := r.s.enter("CountActiveByBorrower"); err != nil {
		return 0, err
	}
	n := 0
	for _, l := range r.s.loans {
		if l.CardID == cardID && l.Active() {
			n++
		}
	}
	return n, nil
}

func (r memLoans) HasActiveForBook(ctx context.Context, isbn string) (bool, error) {
	if err := r.s.enter("HasActiveForBook"); err != nil {
		return false, err
	}
	for _, l := range r.s.loans {
		if l.ISBN == isbn && l.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (r memLoans) Create(ctx context.Context, loan *models.Loan) error {
	if err := r.s.enter("Create"); err != nil {
		return err
	}
	cp := *loan
	r.s.loans[loan.ID] = &cp
	return nil
}

func (r memLoans) Exists(ctx context.Context, loanID int64) (bool, error) {
	if err := r.s.enter("Exists"); err != nil {
		return false, err
	}
	_, ok := r.s.loans[loanID]
	return ok, nil
}

func (r memLoans) GetForShare(ctx context.Context, loanID int64) (*models.Loan, error) {
	if err := r.s.enter("GetForShare"); err != nil {
		return nil, err
	}
	l, ok := r.s.loans[loanID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *l
	return &cp, nil
}

func (r memLoans) MarkReturned(ctx context.Context, loanID int64, dateIn time.Time) (bool, error) {
	if err := r.s.enter("MarkReturned"); err != nil {
		return false, err
	}
	l, ok := r.s.loans[loanID]
	if !ok || !l.Active() {
		return false, nil
	}
	d := dateIn
	l.DateIn = &d
	return true, nil
}

func (r memLoans) OverdueIDs(ctx context.Context, today time.Time) ([]int64, error) {
	if err := r.s.enter("OverdueIDs"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, l := range r.s.loans {
		if (l.DateIn != nil && l.DateIn.After(l.DueDate)) || (l.DateIn == nil && today.After(l.DueDate)) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (r memLoans) SearchActive(ctx context.Context, term string) ([]models.ActiveLoan, error) {
	if err := r.s.enter("SearchActive"); err != nil {
		return nil, err
	}
	term = strings.ToLower(term)
	result := []models.ActiveLoan{}
	for _, l := range r.s.loans {
		name := r.s.borrowers[l.CardID].Name
		if !l.Active() {
			continue
		}
		if strings.Contains(strings.ToLower(l.ISBN), term) || strings.Contains(strings.ToLower(l.CardID), term) ||
			strings.Contains(strings.ToLower(name), term) {
			result = append(result, models.ActiveLoan{
				LoanID: l.ID, ISBN: l.ISBN, Title: r.s.books[l.ISBN], CardID: l.CardID,
				BorrowerName: name, DateOut: l.DateOut, DueDate: l.DueDate,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DateOut.Equal(result[j].DateOut) {
			return result[i].DateOut.After(result[j].DateOut)
		}
		return result[i].LoanID > result[j].LoanID
	})
	return result, nil
}

func (r memLoans) ByBorrower(ctx context.Context, cardID string) ([]models.BorrowerLoan, error) {
	if err := r.s.enter("ByBorrower"); err != nil {
		return nil, err
	}
	result := []models.BorrowerLoan{}
	for _, l := range r.s.loans {
		if l.CardID == cardID {
			result = append(result, models.BorrowerLoan{
				LoanID: l.ID, ISBN: l.ISBN, Title: r.s.books[l.ISBN], DateOut: l.DateOut, DueDate: l.DueDate, DateIn: l.DateIn,
			})
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].DateOut.Equal(result[j].DateOut) {
			return result[i].DateOut.After(result[j].DateOut)
		}
		return result[i].LoanID > result[j].LoanID
	})
	return result, nil
}

type memFines struct{ s *memStore }

func (r memFines) ofBorrower(cardID string, pred func(*models.Fine, *models.Loan) bool) []*models.Fine {
	var out []*models.Fine
	for id, f := range r.s.fines {
		l := r.s.loans[id]
		if l != nil && l.CardID == cardID && pred(f, l) {
			out = append(out, f)
		}
	}
	return out
}

func (r memFines) HasUnpaidForBorrower(ctx context.Context, cardID string) (bool, error) {
	if err := r.s.enter("HasUnpaidForBorrower"); err != nil {
		return false, err
	}
	return len(r.ofBorrower(cardID, func(f *models.Fine, _ *models.Loan) bool { return !f.Paid })) > 0, nil
}

func (r memFines) GetForUpdate(ctx context.Context, loanID int64) (*models.Fine, error) {
	if err := r.s.enter("GetForUpdate"); err != nil {
		return nil, err
	}
	f, ok := r.s.fines[loanID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *f
	return &cp, nil
}

func (r memFines) Insert(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error) {
	if err := r.s.enter("Insert"); err != nil {
		return false, err
	}
	if _, ok := r.s.fines[loanID]; ok {
		return false, nil
	}
	r.s.fines[loanID] = &models.Fine{LoanID: loanID, Amount: amount}
	return true, nil
}

func (r memFines) UpdateUnpaidAmount(ctx context.Context, loanID int64, amount decimal.Decimal) (bool, error) {
	if err := r.s.enter("UpdateUnpaidAmount"); err != nil {
		return false, err
	}
	f, ok := r.s.fines[loanID]
	if !ok || f.Paid {
		return false, nil
	}
	f.Amount = amount
	return true, nil
}

func (r memFines) HasUnpaidOnActiveLoan(ctx context.Context, cardID string) (bool, error) {
	if err := r.s.enter("HasUnpaidOnActiveLoan"); err != nil {
		return false, err
	}
	return len(r.ofBorrower(cardID, func(f *models.Fine, l *models.Loan) bool { return !f.Paid && l.Active() })) > 0, nil
}

func (r memFines) UnpaidTotal(ctx context.Context, cardID string) (decimal.Decimal, error) {
	if err := r.s.enter("UnpaidTotal"); err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, f := range r.ofBorrower(cardID, func(f *models.Fine, _ *models.Loan) bool { return !f.Paid }) {
		total = total.Add(f.Amount)
	}
	return total, nil
}

func (r memFines) MarkAllPaid(ctx context.Context, cardID string) (int64, error) {
	if err := r.s.enter("MarkAllPaid"); err != nil {
		return 0, err
	}
	var n int64
	for _, f := range r.ofBorrower(cardID, func(f *models.Fine, _ *models.Loan) bool { return !f.Paid }) {
		f.Paid = true
		n++
	}
	return n, nil
}

func (r memFines) ListDetails(ctx context.Context, includePaid bool) ([]models.FineDetail, error) {
	if err := r.s.enter("ListDetails"); err != nil {
		return nil, err
	}
	var out []models.FineDetail
	for id, f := range r.s.fines {
		if f.Paid && !includePaid {
			continue
		}
		l := r.s.loans[id]
		b := r.s.borrowers[l.CardID]
		out = append(out, models.FineDetail{
			CardID: b.CardID, BorrowerName: b.Name, LoanID: id, ISBN: l.ISBN, Title: r.s.books[l.ISBN],
			DueDate: l.DueDate, DateIn: l.DateIn, Amount: f.Amount, Paid: f.Paid,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BorrowerName != out[j].BorrowerName {
			return out[i].BorrowerName < out[j].BorrowerName
		}
		if out[i].CardID != out[j].CardID {
			return out[i].CardID < out[j].CardID
		}
		return out[i].LoanID < out[j].LoanID
	})
	return out, nil
}

type fakeRepoManager struct{ s *memStore }

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Catalog(db dbx.DBTX) catalog.Repository      { return memCatalog{m.s} }
func (m *fakeRepoManager) Loans(db dbx.DBTX) loans.Repository          { return memLoans{m.s} }
func (m *fakeRepoManager) Fines(db dbx.DBTX) fines.Repository          { return memFines{m.s} }

// --- helpers ---

type clock struct{ t time.Time }

func (c *clock) now() time.Time   { return c.t }
func (c *clock) advance(days int) { c.t = c.t.AddDate(0, 0, days) }

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ptr[T any](v T) *T { return &v }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	return cfg
}

type fixture struct {
	store *memStore
	mock  sqlmock.Sqlmock
	clock *clock
	circ  *CirculationService
	fines *FineService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, mock := newSQLMockDB(t)
	store := newMemStore()
	rm := &fakeRepoManager{s: store}
	c := &clock{t: day(2024, 1, 1).Add(10 * time.Hour)}
	cfg := testConfig()

	circ := NewCirculationService(db, rm, cfg, logging.Nop())
	circ.now = c.now
	fs := NewFineService(db, rm, cfg, logging.Nop())
	fs.now = c.now

	return &fixture{store: store, mock: mock, clock: c, circ: circ, fines: fs}
}

func (f *fixture) commits(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectCommit()
	}
}

func (f *fixture) rollbacks(n int) {
	for i := 0; i < n; i++ {
		f.mock.ExpectBegin()
		f.mock.ExpectRollback()
	}
}

func (f *fixture) verify(t *testing.T) {
	t.Helper()
	if err := f.mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
