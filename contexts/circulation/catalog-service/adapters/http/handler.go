package httpadapter

import (
	"context"
	"log/slog"
	"time"

	"circulate/contexts/circulation/catalog-service/application"
	"circulate/contexts/circulation/catalog-service/ports"
	httptransport "circulate/contexts/circulation/catalog-service/transport/http"
	"circulate/internal/shared/identity"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) CreateBookHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.CreateBookRequest,
) (httptransport.BookResponse, error) {
	book, err := h.Service.CreateBook(ctx, principal, ports.CreateBookInput{
		Title:       req.Title,
		Author:      req.Author,
		ISBN:        req.ISBN,
		TotalCopies: req.TotalCopies,
	})
	if err != nil {
		return httptransport.BookResponse{}, err
	}
	return httptransport.BookResponse{
		Status: "success",
		Data:   toBookDTO(book),
	}, nil
}

func (h Handler) GetBookHandler(
	ctx context.Context,
	bookID string,
) (httptransport.BookResponse, error) {
	book, err := h.Service.GetBook(ctx, bookID)
	if err != nil {
		return httptransport.BookResponse{}, err
	}
	return httptransport.BookResponse{
		Status: "success",
		Data:   toBookDTO(book),
	}, nil
}

func (h Handler) ListBooksHandler(ctx context.Context) (httptransport.ListBooksResponse, error) {
	books, err := h.Service.ListBooks(ctx)
	if err != nil {
		return httptransport.ListBooksResponse{}, err
	}
	resp := httptransport.ListBooksResponse{
		Status: "success",
		Data:   make([]httptransport.BookDTO, 0, len(books)),
	}
	for _, book := range books {
		resp.Data = append(resp.Data, toBookDTO(book))
	}
	return resp, nil
}

func (h Handler) AdjustCopiesHandler(
	ctx context.Context,
	principal identity.Principal,
	bookID string,
	req httptransport.AdjustCopiesRequest,
) (httptransport.BookResponse, error) {
	book, err := h.Service.AdjustTotalCopies(ctx, principal, bookID, req.Delta)
	if err != nil {
		return httptransport.BookResponse{}, err
	}
	return httptransport.BookResponse{
		Status: "success",
		Data:   toBookDTO(book),
	}, nil
}

func (h Handler) RemoveBookHandler(
	ctx context.Context,
	principal identity.Principal,
	bookID string,
) (httptransport.RemoveBookResponse, error) {
	if err := h.Service.RemoveBook(ctx, principal, bookID); err != nil {
		return httptransport.RemoveBookResponse{}, err
	}
	return httptransport.RemoveBookResponse{Status: "success"}, nil
}

func toBookDTO(book ports.Book) httptransport.BookDTO {
	return httptransport.BookDTO{
		BookID:          book.BookID,
		Title:           book.Title,
		Author:          book.Author,
		ISBN:            book.ISBN,
		TotalCopies:     book.TotalCopies,
		AvailableCopies: book.AvailableCopies,
		CreatedAt:       book.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       book.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
