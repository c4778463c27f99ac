package loan

import (
	"booklend/internal/event"
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

type TxMock struct {
	pgx.Tx
}

var _ Store = (*MockStore)(nil)
var _ InventoryLedger = (*MockLedger)(nil)

func (m *MockStore) BeginTx(ctx context.Context) (pgx.Tx, error) {
	args := m.Called(ctx)
	var tx pgx.Tx
	if args.Get(0) != nil {
		tx = args.Get(0).(pgx.Tx)
	}
	return tx, args.Error(1)
}

func (m *MockStore) CommitTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockStore) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockStore) LockBorrowerInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) error {
	args := m.Called(ctx, tx, borrowerID)
	return args.Error(0)
}

func (m *MockStore) HasActiveLoanInTx(ctx context.Context, tx pgx.Tx, borrowerID, bookID int64) (bool, error) {
	args := m.Called(ctx, tx, borrowerID, bookID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) CountActiveInTx(ctx context.Context, tx pgx.Tx, borrowerID int64) (int, error) {
	args := m.Called(ctx, tx, borrowerID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CountActiveByBookInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	args := m.Called(ctx, tx, bookID)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) CreateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) (*Loan, error) {
	args := m.Called(ctx, tx, loan)
	var l *Loan
	if args.Get(0) != nil {
		l = args.Get(0).(*Loan)
	}
	return l, args.Error(1)
}

func (m *MockStore) GetLoanForUpdateInTx(ctx context.Context, tx pgx.Tx, loanID int64) (*Loan, error) {
	args := m.Called(ctx, tx, loanID)
	var l *Loan
	if args.Get(0) != nil {
		l = args.Get(0).(*Loan)
	}
	return l, args.Error(1)
}

func (m *MockStore) UpdateLoanInTx(ctx context.Context, tx pgx.Tx, loan *Loan) error {
	args := m.Called(ctx, tx, loan)
	return args.Error(0)
}

func (m *MockStore) FindByBorrower(ctx context.Context, borrowerID int64) ([]*Loan, error) {
	args := m.Called(ctx, borrowerID)
	var loans []*Loan
	if args.Get(0) != nil {
		loans = args.Get(0).([]*Loan)
	}
	return loans, args.Error(1)
}

func (m *MockStore) FindOverdue(ctx context.Context, asOf time.Time) ([]*Loan, error) {
	args := m.Called(ctx, asOf)
	var loans []*Loan
	if args.Get(0) != nil {
		loans = args.Get(0).([]*Loan)
	}
	return loans, args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) StockForUpdateInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	args := m.Called(ctx, tx, bookID)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) TryDecrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	args := m.Called(ctx, tx, bookID)
	return args.Int(0), args.Error(1)
}

func (m *MockLedger) IncrementInTx(ctx context.Context, tx pgx.Tx, bookID int64) (int, error) {
	args := m.Called(ctx, tx, bookID)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishLoanEvent(ctx context.Context, evt event.LoanEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}
