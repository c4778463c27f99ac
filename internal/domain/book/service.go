package book

import (
	"booklend/internal/pkg/apperrors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

type BookService interface {
	GetBook(ctx context.Context, bookID int64) (*Book, error)
	ListBooks(ctx context.Context, filter Filter) ([]*Book, error)
}

var _ BookService = (*bookService)(nil)

type bookService struct {
	repo   Reader
	logger *slog.Logger
}

func NewBookService(repo Reader, logger *slog.Logger) BookService {
	if repo == nil {
		panic("book repository cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &bookService{
		repo:   repo,
		logger: logger.With(slog.String("component", "bookService")),
	}
}

func (s *bookService) GetBook(ctx context.Context, bookID int64) (*Book, error) {
	logCtx := s.logger.With(slog.Int64("bookID", bookID))
	if bookID <= 0 {
		logCtx.WarnContext(ctx, "Rejected non-positive book ID")
		return nil, apperrors.NewValidationError("bookID", "must be a positive integer")
	}

	b, err := s.repo.FindByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logCtx.WarnContext(ctx, "Book not found")
			return nil, err
		}
		logCtx.ErrorContext(ctx, "Repository error finding book", slog.Any("error", err))
		return nil, fmt.Errorf("failed to get book %d: %w", bookID, err)
	}

	return b, nil
}

func (s *bookService) ListBooks(ctx context.Context, filter Filter) ([]*Book, error) {
	filter.Genre = strings.TrimSpace(filter.Genre)
	filter.Query = strings.TrimSpace(filter.Query)
	filter = filter.Normalized()

	s.logger.DebugContext(ctx, "Listing books",
		slog.String("genre", filter.Genre),
		slog.String("query", filter.Query),
		slog.Bool("inStockOnly", filter.InStockOnly),
	)

	books, err := s.repo.FindAll(ctx, filter)
	if err != nil {
		s.logger.ErrorContext(ctx, "Repository error listing books", slog.Any("error", err))
		return nil, fmt.Errorf("failed to list books: %w", err)
	}

	s.logger.InfoContext(ctx, "Listed books", slog.Int("count", len(books)))
	return books, nil
}
