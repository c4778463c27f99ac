package book

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockReader struct {
	mock.Mock
}

func (m *MockReader) FindByID(ctx context.Context, bookID int64) (*Book, error) {
	args := m.Called(ctx, bookID)
	var b *Book
	if args.Get(0) != nil {
		b = args.Get(0).(*Book)
	}
	return b, args.Error(1)
}

func (m *MockReader) FindAll(ctx context.Context, filter Filter) ([]*Book, error) {
	args := m.Called(ctx, filter)
	var books []*Book
	if args.Get(0) != nil {
		books = args.Get(0).([]*Book)
	}
	return books, args.Error(1)
}
