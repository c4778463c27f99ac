package book

import "time"

type Book struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Genre         string    `json:"genre"`
	Summary       string    `json:"summary"`
	StockCount    int       `json:"stockCount"`
	ImageFilename string    `json:"imageFilename,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (b *Book) InStock() bool {
	return b.StockCount > 0
}

// Filter narrows a catalog listing. Zero values mean "no restriction".
type Filter struct {
	Genre       string
	Query       string
	InStockOnly bool
	Limit       int
	Offset      int
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

func (f Filter) Normalized() Filter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
