package dto

import (
	"booklend/internal/domain/book"
	"strconv"
)

type BookResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	Author        string `json:"author"`
	Genre         string `json:"genre"`
	Summary       string `json:"summary,omitempty"`
	StockCount    int    `json:"stockCount"`
	Available     bool   `json:"available"`
	ImageFilename string `json:"imageFilename,omitempty"`
}

func NewBookResponse(b *book.Book) BookResponse {
	return BookResponse{
		ID:            strconv.FormatInt(b.ID, 10),
		Title:         b.Title,
		Author:        b.Author,
		Genre:         b.Genre,
		Summary:       b.Summary,
		StockCount:    b.StockCount,
		Available:     b.InStock(),
		ImageFilename: b.ImageFilename,
	}
}

func NewBookListResponse(books []*book.Book) []BookResponse {
	resp := make([]BookResponse, 0, len(books))
	for _, b := range books {
		resp = append(resp, NewBookResponse(b))
	}
	return resp
}
