package handler

import (
	"booklend/internal/api/handler/dto"
	"booklend/internal/domain/identity"
	"booklend/internal/domain/loan"
	"booklend/internal/pkg/apperrors"
	"booklend/internal/pkg/clock"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var borrower = identity.New(7, identity.RoleUser)

func sampleLoan() *loan.Loan {
	return &loan.Loan{
		ID:         100,
		BorrowerID: 7,
		BookID:     3,
		RentalDate: clock.MustDate("2024-01-01"),
		DueDate:    clock.MustDate("2024-01-15"),
		BookTitle:  "Dune",
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRentalHandlerBorrow(t *testing.T) {
	t.Run("creates a loan", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.RelativeDays(10)).Return(sampleLoan(), nil).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3,"days":10}`, borrower, nil))

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "100", resp.ID)
		assert.Equal(t, "2024-01-15", resp.DueDate)
		assert.Equal(t, "ACTIVE", resp.Status)
		svc.AssertExpectations(t)
	})

	t.Run("explicit due date wins over days", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.ExplicitDueDate("2024-01-20")).Return(sampleLoan(), nil).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3,"days":10,"dueDate":"2024-01-20"}`, borrower, nil))

		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("non-positive days use the default period", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.DefaultDueDate()).Return(sampleLoan(), nil).Twice()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3,"days":0}`, borrower, nil))
		assert.Equal(t, http.StatusCreated, rec.Code)

		rec = httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3,"days":-4}`, borrower, nil))
		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("rejects malformed body", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":"three"}`, borrower, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.CodeInvalidArgument, decodeError(t, rec).Error.Code)
		svc.AssertNotCalled(t, "Borrow", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects unknown fields", func(t *testing.T) {
		h := NewRentalHandler(new(MockReservationService), testLogger)

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3,"copies":2}`, borrower, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects missing book id", func(t *testing.T) {
		h := NewRentalHandler(new(MockReservationService), testLogger)

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"days":3}`, borrower, nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	denials := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.ErrUnauthenticated, http.StatusUnauthorized, apperrors.CodeUnauthenticated},
		{fmt.Errorf("%w: book 3", apperrors.ErrNotFound), http.StatusNotFound, apperrors.CodeNotFound},
		{fmt.Errorf("%w: currently borrowed by 2 readers", apperrors.ErrOutOfStock), http.StatusConflict, apperrors.CodeOutOfStock},
		{apperrors.ErrDuplicateActiveLoan, http.StatusConflict, apperrors.CodeDuplicateActiveLoan},
		{apperrors.ErrLoanLimitExceeded, http.StatusConflict, apperrors.CodeLoanLimitExceeded},
		{apperrors.ErrInvalidDate, http.StatusBadRequest, apperrors.CodeInvalidDate},
		{apperrors.ErrConflict, http.StatusConflict, apperrors.CodeConflict},
		{errors.New("connection reset"), http.StatusInternalServerError, apperrors.CodeInternal},
	}
	for _, tt := range denials {
		t.Run("maps "+tt.code, func(t *testing.T) {
			svc := new(MockReservationService)
			h := NewRentalHandler(svc, testLogger)
			svc.On("Borrow", mock.Anything, mock.Anything, int64(3), loan.DefaultDueDate()).Return(nil, tt.err).Once()

			rec := httptest.NewRecorder()
			h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3}`, borrower, nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error.Code)
		})
	}

	t.Run("out of stock message names the readers", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.DefaultDueDate()).
			Return(nil, fmt.Errorf("%w: currently borrowed by 2 readers", apperrors.ErrOutOfStock)).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3}`, borrower, nil))

		assert.Contains(t, decodeError(t, rec).Error.Message, "currently borrowed by 2 readers")
	})

	t.Run("internal errors are not leaked", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.DefaultDueDate()).
			Return(nil, fmt.Errorf("%w: password authentication failed", apperrors.ErrDatabase)).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3}`, borrower, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "password")
	})

	t.Run("wrapped database errors are not leaked", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, borrower, int64(3), loan.DefaultDueDate()).
			Return(nil, apperrors.WrapDatabaseError(errors.New("relation loans does not exist"), "postgres error code 42P01")).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3}`, borrower, nil))

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "relation")
		assert.Equal(t, apperrors.CodeInternal, decodeError(t, rec).Error.Code)
	})

	t.Run("anonymous caller reaches the workflow", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Borrow", mock.Anything, identity.Identity{}, int64(3), loan.DefaultDueDate()).Return(nil, apperrors.ErrUnauthenticated).Once()

		rec := httptest.NewRecorder()
		h.Borrow(rec, newRequest(http.MethodPost, "/api/rentals", `{"bookId":3}`, identity.Identity{}, nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		svc.AssertExpectations(t)
	})
}

func TestRentalHandlerListMine(t *testing.T) {
	svc := new(MockReservationService)
	h := NewRentalHandler(svc, testLogger)
	returned := sampleLoan()
	returned.ID, returned.Returned = 101, true
	svc.On("ListMine", mock.Anything, borrower).Return([]*loan.Loan{sampleLoan(), returned}, nil).Once()

	rec := httptest.NewRecorder()
	h.ListMine(rec, newRequest(http.MethodGet, "/api/rentals/my", "", borrower, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp []dto.LoanResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "RETURNED", resp[1].Status)
	svc.AssertExpectations(t)
}

func TestRentalHandlerListMineEmpty(t *testing.T) {
	svc := new(MockReservationService)
	h := NewRentalHandler(svc, testLogger)
	svc.On("ListMine", mock.Anything, borrower).Return([]*loan.Loan{}, nil).Once()

	rec := httptest.NewRecorder()
	h.ListMine(rec, newRequest(http.MethodGet, "/api/rentals/my", "", borrower, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRentalHandlerRenew(t *testing.T) {
	t.Run("renews with default period when body is empty", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		renewed := sampleLoan()
		renewed.DueDate = clock.MustDate("2024-01-22")
		svc.On("Renew", mock.Anything, borrower, int64(100), loan.DefaultDueDate()).Return(renewed, nil).Once()

		rec := httptest.NewRecorder()
		h.Renew(rec, newRequest(http.MethodPost, "/api/rentals/100/renew", "", borrower, map[string]string{"loanID": "100"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "2024-01-22", resp.DueDate)
		svc.AssertExpectations(t)
	})

	t.Run("renews to an explicit date", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Renew", mock.Anything, borrower, int64(100), loan.ExplicitDueDate("2024-02-01")).Return(sampleLoan(), nil).Once()

		rec := httptest.NewRecorder()
		h.Renew(rec, newRequest(http.MethodPost, "/api/rentals/100/renew", `{"dueDate":"2024-02-01"}`, borrower, map[string]string{"loanID": "100"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("invalid loan id", func(t *testing.T) {
		h := NewRentalHandler(new(MockReservationService), testLogger)

		rec := httptest.NewRecorder()
		h.Renew(rec, newRequest(http.MethodPost, "/api/rentals/abc/renew", "", borrower, map[string]string{"loanID": "abc"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("someone else's loan", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Renew", mock.Anything, borrower, int64(100), loan.DefaultDueDate()).Return(nil, apperrors.ErrForbidden).Once()

		rec := httptest.NewRecorder()
		h.Renew(rec, newRequest(http.MethodPost, "/api/rentals/100/renew", "", borrower, map[string]string{"loanID": "100"}))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("already returned", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Renew", mock.Anything, borrower, int64(100), loan.DefaultDueDate()).Return(nil, apperrors.ErrAlreadyReturned).Once()

		rec := httptest.NewRecorder()
		h.Renew(rec, newRequest(http.MethodPost, "/api/rentals/100/renew", "", borrower, map[string]string{"loanID": "100"}))

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.CodeAlreadyReturned, decodeError(t, rec).Error.Code)
	})
}

func TestRentalHandlerReturn(t *testing.T) {
	t.Run("returns the loan", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		returned := sampleLoan()
		returned.Returned = true
		svc.On("Return", mock.Anything, borrower, int64(100)).Return(returned, nil).Once()

		rec := httptest.NewRecorder()
		h.Return(rec, newRequest(http.MethodPost, "/api/rentals/100/return", "", borrower, map[string]string{"loanID": "100"}))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.True(t, resp.Returned)
		svc.AssertExpectations(t)
	})

	t.Run("unknown loan", func(t *testing.T) {
		svc := new(MockReservationService)
		h := NewRentalHandler(svc, testLogger)
		svc.On("Return", mock.Anything, borrower, int64(404)).Return(nil, apperrors.ErrNotFound).Once()

		rec := httptest.NewRecorder()
		h.Return(rec, newRequest(http.MethodPost, "/api/rentals/404/return", "", borrower, map[string]string{"loanID": "404"}))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-positive loan id", func(t *testing.T) {
		h := NewRentalHandler(new(MockReservationService), testLogger)

		rec := httptest.NewRecorder()
		h.Return(rec, newRequest(http.MethodPost, "/api/rentals/0/return", "", borrower, map[string]string{"loanID": "0"}))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
