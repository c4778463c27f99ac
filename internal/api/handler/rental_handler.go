package handler

import (
	"booklend/internal/api/handler/dto"
	"booklend/internal/domain/identity"
	"booklend/internal/domain/loan"
	"log/slog"
	"net/http"
)

type RentalHandler struct {
	service loan.ReservationService
	logger  *slog.Logger
}

func NewRentalHandler(s loan.ReservationService, l *slog.Logger) *RentalHandler {
	return &RentalHandler{
		service: s,
		logger:  l.With("component", "RentalHandler"),
	}
}

// caller returns the identity resolved by the auth middleware. An anonymous caller is passed
// through and rejected by the workflow.
func caller(r *http.Request) identity.Identity {
	who, _ := identity.FromContext(r.Context())
	return who
}

// Borrow reserves one copy of a book for the caller.
//
// @Summary Borrow a book
// @Description Creates an active loan and takes one copy off the shelf. Supply either `days` or `dueDate` (YYYY-MM-DD); with neither the default borrowing period applies.
// @Tags Rentals
// @Accept json
// @Produce json
// @Param request body dto.RentalRequest true "Rental request"
// @Success 201 {object} dto.LoanResponse "Loan created"
// @Failure 400 {object} dto.ErrorResponse "Invalid request or INVALID_DATE"
// @Failure 401 {object} dto.ErrorResponse "UNAUTHENTICATED"
// @Failure 404 {object} dto.ErrorResponse "Book not found"
// @Failure 409 {object} dto.ErrorResponse "OUT_OF_STOCK, DUPLICATE_ACTIVE_LOAN, LOAN_LIMIT_EXCEEDED or CONFLICT"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/rentals [post]
// @Security BearerAuth
func (h *RentalHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req dto.RentalRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, invalidArgument(err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	created, err := h.service.Borrow(r.Context(), caller(r), req.BookID, req.DueDateRequest())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLoanResponse(created))
}

// ListMine lists every loan of the caller, active and returned.
//
// @Summary List my loans
// @Tags Rentals
// @Produce json
// @Success 200 {array} dto.LoanResponse "Loans of the caller"
// @Failure 401 {object} dto.ErrorResponse "UNAUTHENTICATED"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/rentals/my [get]
// @Security BearerAuth
func (h *RentalHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ListMine(r.Context(), caller(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}

// Renew extends the due date of one of the caller's active loans.
//
// @Summary Renew a loan
// @Description Without `days` or `dueDate` the default renewal period is added to the current due date.
// @Tags Rentals
// @Accept json
// @Produce json
// @Param loanID path int true "Loan ID"
// @Param request body dto.RenewRequest false "Renewal request"
// @Success 200 {object} dto.LoanResponse "Loan renewed"
// @Failure 400 {object} dto.ErrorResponse "Invalid request or INVALID_DATE"
// @Failure 401 {object} dto.ErrorResponse "UNAUTHENTICATED"
// @Failure 403 {object} dto.ErrorResponse "Loan belongs to another borrower"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "ALREADY_RETURNED or CONFLICT"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/rentals/{loanID}/renew [post]
// @Security BearerAuth
func (h *RentalHandler) Renew(w http.ResponseWriter, r *http.Request) {
	loanID, err := getIDFromURL(r, "loanID")
	if err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	var req dto.RenewRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, invalidArgument(err))
			return
		}
	}

	renewed, err := h.service.Renew(r.Context(), caller(r), loanID, req.DueDateRequest())
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanResponse(renewed))
}

// Return closes one of the caller's active loans and puts the copy back on the shelf.
//
// @Summary Return a loan
// @Tags Rentals
// @Produce json
// @Param loanID path int true "Loan ID"
// @Success 200 {object} dto.LoanResponse "Loan returned"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 401 {object} dto.ErrorResponse "UNAUTHENTICATED"
// @Failure 403 {object} dto.ErrorResponse "Loan belongs to another borrower"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 409 {object} dto.ErrorResponse "ALREADY_RETURNED or CONFLICT"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/rentals/{loanID}/return [post]
// @Security BearerAuth
func (h *RentalHandler) Return(w http.ResponseWriter, r *http.Request) {
	loanID, err := getIDFromURL(r, "loanID")
	if err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	returned, err := h.service.Return(r.Context(), caller(r), loanID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewLoanResponse(returned))
}
