package handler

import (
	"booklend/internal/api/handler/dto"
	"booklend/internal/domain/book"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
)

type BookHandler struct {
	service book.BookService
	logger  *slog.Logger
}

func NewBookHandler(s book.BookService, l *slog.Logger) *BookHandler {
	return &BookHandler{
		service: s,
		logger:  l.With("component", "BookHandler"),
	}
}

// GetBook returns one catalog entry.
//
// @Summary Get a book
// @Tags Books
// @Produce json
// @Param bookID path int true "Book ID"
// @Success 200 {object} dto.BookResponse "Book"
// @Failure 400 {object} dto.ErrorResponse "Invalid book ID"
// @Failure 404 {object} dto.ErrorResponse "Book not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/books/{bookID} [get]
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID, err := getIDFromURL(r, "bookID")
	if err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	b, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewBookResponse(b))
}

// ListBooks lists the catalog.
//
// @Summary List books
// @Tags Books
// @Produce json
// @Param genre query string false "Genre, case-insensitive"
// @Param q query string false "Substring of title or author"
// @Param inStock query bool false "Only books with a copy on the shelf"
// @Param limit query int false "Page size (default 50, max 200)"
// @Param offset query int false "Page offset"
// @Success 200 {array} dto.BookResponse "Books"
// @Failure 400 {object} dto.ErrorResponse "Invalid query parameters"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/books [get]
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	filter, err := parseBookFilter(r)
	if err != nil {
		respondError(w, invalidArgument(err))
		return
	}

	books, err := h.service.ListBooks(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, dto.NewBookListResponse(books))
}

func parseBookFilter(r *http.Request) (book.Filter, error) {
	q := r.URL.Query()
	filter := book.Filter{
		Genre: q.Get("genre"),
		Query: q.Get("q"),
	}

	if v := q.Get("inStock"); v != "" {
		inStock, err := strconv.ParseBool(v)
		if err != nil {
			return book.Filter{}, fmt.Errorf("inStock must be true or false")
		}
		filter.InStockOnly = inStock
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return book.Filter{}, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	return filter, nil
}
