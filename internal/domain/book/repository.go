package book

import "context"

// Reader is read-only catalog access. Stock mutation goes through loan.InventoryLedger.
type Reader interface {
	FindByID(ctx context.Context, bookID int64) (*Book, error)

	FindAll(ctx context.Context, filter Filter) ([]*Book, error)
}
