package handler

import (
	"booklend/internal/domain/book"
	"booklend/internal/domain/identity"
	"booklend/internal/domain/loan"
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/mock"
)

var testLogger = slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

type MockReservationService struct {
	mock.Mock
}

func (m *MockReservationService) Borrow(ctx context.Context, who identity.Identity, bookID int64, due loan.DueDateRequest) (*loan.Loan, error) {
	args := m.Called(ctx, who, bookID, due)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReservationService) Renew(ctx context.Context, who identity.Identity, loanID int64, due loan.DueDateRequest) (*loan.Loan, error) {
	args := m.Called(ctx, who, loanID, due)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReservationService) Return(ctx context.Context, who identity.Identity, loanID int64) (*loan.Loan, error) {
	args := m.Called(ctx, who, loanID)
	if l, ok := args.Get(0).(*loan.Loan); ok {
		return l, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReservationService) ListMine(ctx context.Context, who identity.Identity) ([]*loan.Loan, error) {
	args := m.Called(ctx, who)
	if loans, ok := args.Get(0).([]*loan.Loan); ok {
		return loans, args.Error(1)
	}
	return nil, args.Error(1)
}

type MockBookService struct {
	mock.Mock
}

func (m *MockBookService) GetBook(ctx context.Context, bookID int64) (*book.Book, error) {
	args := m.Called(ctx, bookID)
	if b, ok := args.Get(0).(*book.Book); ok {
		return b, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBookService) ListBooks(ctx context.Context, filter book.Filter) ([]*book.Book, error) {
	args := m.Called(ctx, filter)
	if books, ok := args.Get(0).([]*book.Book); ok {
		return books, args.Error(1)
	}
	return nil, args.Error(1)
}

// newRequest builds a request carrying chi URL params and, when who is authenticated, an identity.
func newRequest(method, target, body string, who identity.Identity, params map[string]string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)

	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if who.Authenticated() {
		ctx = identity.WithIdentity(ctx, who)
	}
	return req.WithContext(ctx)
}
