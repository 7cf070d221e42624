package httpadapter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"circulate/contexts/identity-access/admin-access-authority/application"
	domainerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	"circulate/contexts/identity-access/admin-access-authority/ports"
	httptransport "circulate/contexts/identity-access/admin-access-authority/transport/http"
	"circulate/internal/shared/identity"
)

type Handler struct {
	Service application.Service
	Logger  *slog.Logger
}

func (h Handler) PromoteHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.PromoteRequest,
) (httptransport.GrantResponse, error) {
	grant, err := h.Service.Promote(ctx, principal, req.Email)
	if err != nil {
		return httptransport.GrantResponse{}, err
	}
	return toGrantResponse(grant), nil
}

func (h Handler) ActivateHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.ActivateRequest,
) (httptransport.GrantResponse, error) {
	var expiresAt *time.Time
	if raw := strings.TrimSpace(req.ExpiresAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return httptransport.GrantResponse{}, domainerrors.ErrInvalidInput
		}
		expiresAt = &parsed
	}
	grant, err := h.Service.Activate(ctx, principal, req.Email, expiresAt)
	if err != nil {
		return httptransport.GrantResponse{}, err
	}
	return toGrantResponse(grant), nil
}

func (h Handler) DeactivateHandler(
	ctx context.Context,
	principal identity.Principal,
	req httptransport.DeactivateRequest,
) (httptransport.GrantResponse, error) {
	grant, err := h.Service.Deactivate(ctx, principal, req.Email)
	if err != nil {
		return httptransport.GrantResponse{}, err
	}
	return toGrantResponse(grant), nil
}

func (h Handler) BootstrapHandler(
	ctx context.Context,
	req httptransport.BootstrapRequest,
) (httptransport.GrantResponse, error) {
	grant, err := h.Service.Bootstrap(ctx, req.Email)
	if err != nil {
		return httptransport.GrantResponse{}, err
	}
	return toGrantResponse(grant), nil
}

func (h Handler) ListAdminsHandler(
	ctx context.Context,
	principal identity.Principal,
) (httptransport.ListGrantsResponse, error) {
	grants, err := h.Service.ListAdmins(ctx, principal)
	if err != nil {
		return httptransport.ListGrantsResponse{}, err
	}
	resp := httptransport.ListGrantsResponse{
		Status: "success",
		Data:   make([]httptransport.GrantDTO, 0, len(grants)),
	}
	for _, grant := range grants {
		resp.Data = append(resp.Data, toGrantDTO(grant))
	}
	return resp, nil
}

func toGrantResponse(grant ports.Grant) httptransport.GrantResponse {
	return httptransport.GrantResponse{
		Status: "success",
		Data:   toGrantDTO(grant),
	}
}

func toGrantDTO(grant ports.Grant) httptransport.GrantDTO {
	dto := httptransport.GrantDTO{
		AdminEmail: grant.AdminEmail,
		Status:     string(grant.Status),
		GrantedBy:  grant.GrantedBy,
		GrantedAt:  grant.GrantedAt.UTC().Format(time.RFC3339),
	}
	if grant.ExpiresAt != nil {
		dto.ExpiresAt = grant.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return dto
}
