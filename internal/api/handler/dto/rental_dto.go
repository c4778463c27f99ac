package dto

import (
	"booklend/internal/domain/loan"
	"booklend/internal/pkg/clock"
	"fmt"
	"strconv"
	"time"
)

type RentalRequest struct {
	BookID  int64  `json:"bookId"`
	Days    *int   `json:"days,omitempty"`
	DueDate string `json:"dueDate,omitempty"`
}

func (r *RentalRequest) Validate() error {
	if r.BookID <= 0 {
		return fmt.Errorf("bookId must be a positive number")
	}
	return nil
}

func (r *RentalRequest) DueDateRequest() loan.DueDateRequest {
	return loan.NewDueDateRequest(r.Days, r.DueDate)
}

type RenewRequest struct {
	Days    *int   `json:"days,omitempty"`
	DueDate string `json:"dueDate,omitempty"`
}

func (r *RenewRequest) DueDateRequest() loan.DueDateRequest {
	return loan.NewDueDateRequest(r.Days, r.DueDate)
}

type LoanResponse struct {
	ID         string    `json:"id"`
	BorrowerID string    `json:"borrowerId"`
	BookID     string    `json:"bookId"`
	BookTitle  string    `json:"bookTitle,omitempty"`
	BookAuthor string    `json:"bookAuthor,omitempty"`
	RentalDate string    `json:"rentalDate"`
	DueDate    string    `json:"dueDate"`
	Returned   bool      `json:"returned"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func NewLoanResponse(l *loan.Loan) LoanResponse {
	return LoanResponse{
		ID:         strconv.FormatInt(l.ID, 10),
		BorrowerID: strconv.FormatInt(l.BorrowerID, 10),
		BookID:     strconv.FormatInt(l.BookID, 10),
		BookTitle:  l.BookTitle,
		BookAuthor: l.BookAuthor,
		RentalDate: l.RentalDate.Format(clock.DateLayout),
		DueDate:    l.DueDate.Format(clock.DateLayout),
		Returned:   l.Returned,
		Status:     string(l.Status()),
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func NewLoanListResponse(loans []*loan.Loan) []LoanResponse {
	resp := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		resp = append(resp, NewLoanResponse(l))
	}
	return resp
}
