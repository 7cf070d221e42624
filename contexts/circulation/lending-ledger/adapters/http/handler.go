package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"circulate/contexts/circulation/lending-ledger/application"
	"circulate/contexts/circulation/lending-ledger/ports"
	httptransport "circulate/contexts/circulation/lending-ledger/transport/http"
	"circulate/internal/shared/identity"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) BorrowHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.BorrowRequest,
) (httptransport.BorrowResponse, error) {
	var borrowing ports.Borrowing
	var err error
	if patronID := strings.TrimSpace(req.PatronID); patronID != "" && patronID != strings.TrimSpace(principal.ID) {
		borrowing, err = h.Service.BorrowFor(ctx, principal, patronID, req.BookID)
	} else {
		borrowing, err = h.Service.Borrow(ctx, principal, req.BookID)
	}
	if err != nil {
		return httptransport.BorrowResponse{}, err
	}
	return httptransport.BorrowResponse{
		Status: "success",
		Data:   toBorrowingDTO(borrowing),
	}, nil
}

func (h Handler) ReturnHandler(
	ctx context.Context,
	principal identity.Principal,
	borrowingID string,
) (httptransport.ReturnResponse, error) {
	borrowing, status, err := h.Service.Return(ctx, principal, borrowingID)
	if err != nil {
		return httptransport.ReturnResponse{}, err
	}
	resp := httptransport.ReturnResponse{Status: "success"}
	resp.Data.Borrowing = toBorrowingDTO(borrowing)
	resp.Data.Fine = toStatusDTO(status)
	return resp, nil
}

func (h Handler) StatusHandler(
	ctx context.Context,
	borrowingID string,
) (httptransport.LoanStatusResponse, error) {
	status, err := h.Service.Status(ctx, borrowingID, time.Time{})
	if err != nil {
		return httptransport.LoanStatusResponse{}, err
	}
	return httptransport.LoanStatusResponse{
		Status: "success",
		Data:   toStatusDTO(status),
	}, nil
}

func (h Handler) ListOwnHandler(
	ctx context.Context,
	principal identity.Principal,
) (httptransport.ListBorrowingsResponse, error) {
	items, err := h.Service.ListOpenForPatron(ctx, principal.ID)
	if err != nil {
		return httptransport.ListBorrowingsResponse{}, err
	}
	return toListResponse(items), nil
}

func (h Handler) ListAllHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.ListBorrowingsRequest,
) (httptransport.ListBorrowingsResponse, error) {
	items, err := h.Service.ListAll(ctx, principal, ports.ListFilter{
		BookID:   req.BookID,
		PatronID: req.PatronID,
		OpenOnly: req.OpenOnly,
	})
	if err != nil {
		return httptransport.ListBorrowingsResponse{}, err
	}
	return toListResponse(items), nil
}

func toListResponse(items []ports.Borrowing) httptransport.ListBorrowingsResponse {
	resp := httptransport.ListBorrowingsResponse{
		Status: "success",
		Data:   make([]httptransport.BorrowingDTO, 0, len(items)),
	}
	for _, item := range items {
		resp.Data = append(resp.Data, toBorrowingDTO(item))
	}
	return resp
}

func toBorrowingDTO(borrowing ports.Borrowing) httptransport.BorrowingDTO {
	dto := httptransport.BorrowingDTO{
		BorrowingID: borrowing.BorrowingID,
		BookID:      borrowing.BookID,
		PatronID:    borrowing.PatronID,
		BorrowedAt:  borrowing.BorrowedAt.UTC().Format(time.RFC3339),
		DueAt:       borrowing.DueAt.UTC().Format(time.RFC3339),
	}
	if borrowing.ReturnedAt != nil {
		dto.ReturnedAt = borrowing.ReturnedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toStatusDTO(status ports.LoanStatus) httptransport.LoanStatusDTO {
	return httptransport.LoanStatusDTO{
		BorrowingID: status.BorrowingID,
		IsOverdue:   status.IsOverdue,
		DaysOverdue: status.DaysOverdue,
		FineAmount:  status.FineAmount,
	}
}
