package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	catalogservice "circulate/contexts/circulation/catalog-service"
	catalogerrors "circulate/contexts/circulation/catalog-service/domain/errors"
	cataloghttp "circulate/contexts/circulation/catalog-service/transport/http"
	lendingledger "circulate/contexts/circulation/lending-ledger"
	ledgererrors "circulate/contexts/circulation/lending-ledger/domain/errors"
	ledgerhttp "circulate/contexts/circulation/lending-ledger/transport/http"
	adminaccessauthority "circulate/contexts/identity-access/admin-access-authority"
	authorityerrors "circulate/contexts/identity-access/admin-access-authority/domain/errors"
	authorityhttp "circulate/contexts/identity-access/admin-access-authority/transport/http"
	"circulate/internal/shared/identity"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "circulate/internal/platform/httpserver/docs"
)

type Server struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	addr      string
	ledger    lendingledger.Module
	catalog   catalogservice.Module
	authority adminaccessauthority.Module
}

func New(
	ledger lendingledger.Module,
	catalog catalogservice.Module,
	authority adminaccessauthority.Module,
	logger *slog.Logger,
	addr string,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    logger,
		addr:      addr,
		ledger:    ledger,
		catalog:   catalog,
		authority: authority,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.mux)
}

// Handler exposes the route table; used by httptest in integration tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /api/borrowings", s.handleBorrow)
	s.mux.HandleFunc("GET /api/borrowings", s.handleListOwnBorrowings)
	s.mux.HandleFunc("PUT /api/borrowings/{borrowing_id}/return", s.handleReturn)
	s.mux.HandleFunc("GET /api/borrowings/{borrowing_id}/status", s.handleLoanStatus)
	s.mux.HandleFunc("GET /api/admin/borrowings", s.handleListAllBorrowings)

	s.mux.HandleFunc("POST /api/books", s.handleCreateBook)
	s.mux.HandleFunc("GET /api/books", s.handleListBooks)
	s.mux.HandleFunc("GET /api/books/{book_id}", s.handleGetBook)
	s.mux.HandleFunc("PATCH /api/books/{book_id}/copies", s.handleAdjustCopies)
	s.mux.HandleFunc("DELETE /api/books/{book_id}", s.handleRemoveBook)

	s.mux.HandleFunc("POST /api/admin/promote", s.handlePromoteAdmin)
	s.mux.HandleFunc("POST /api/admin/activate", s.handleActivateAdmin)
	s.mux.HandleFunc("POST /api/admin/deactivate", s.handleDeactivateAdmin)
	s.mux.HandleFunc("POST /api/admin/bootstrap", s.handleBootstrapAdmin)
	s.mux.HandleFunc("GET /api/admin/list", s.handleListAdmins)
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeLedgerError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req ledgerhttp.BorrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeLedgerError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.ledger.Handler.BorrowHandler(r.Context(), principal, req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeLedgerError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	borrowingID := r.PathValue("borrowing_id")
	resp, err := s.ledger.Handler.ReturnHandler(r.Context(), principal, borrowingID)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLoanStatus(w http.ResponseWriter, r *http.Request) {
	borrowingID := r.PathValue("borrowing_id")
	resp, err := s.ledger.Handler.StatusHandler(r.Context(), borrowingID)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListOwnBorrowings(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeLedgerError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.ledger.Handler.ListOwnHandler(r.Context(), principal)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAllBorrowings(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeLedgerError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	query := r.URL.Query()
	req := ledgerhttp.ListBorrowingsRequest{
		BookID:   query.Get("book_id"),
		PatronID: query.Get("patron_id"),
		OpenOnly: query.Get("open_only") == "true",
	}

	resp, err := s.ledger.Handler.ListAllHandler(r.Context(), principal, req)
	if err != nil {
		writeLedgerDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeCatalogError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req cataloghttp.CreateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCatalogError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.catalog.Handler.CreateBookHandler(r.Context(), principal, req)
	if err != nil {
		writeCatalogDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("book_id")
	resp, err := s.catalog.Handler.GetBookHandler(r.Context(), bookID)
	if err != nil {
		writeCatalogDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	resp, err := s.catalog.Handler.ListBooksHandler(r.Context())
	if err != nil {
		writeCatalogDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdjustCopies(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeCatalogError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req cataloghttp.AdjustCopiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeCatalogError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	bookID := r.PathValue("book_id")
	resp, err := s.catalog.Handler.AdjustCopiesHandler(r.Context(), principal, bookID, req)
	if err != nil {
		writeCatalogDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRemoveBook(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeCatalogError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	bookID := r.PathValue("book_id")
	resp, err := s.catalog.Handler.RemoveBookHandler(r.Context(), principal, bookID)
	if err != nil {
		writeCatalogDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePromoteAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeAuthorityError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req authorityhttp.PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthorityError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.authority.Handler.PromoteHandler(r.Context(), principal, req)
	if err != nil {
		writeAuthorityDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActivateAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeAuthorityError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req authorityhttp.ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthorityError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.authority.Handler.ActivateHandler(r.Context(), principal, req)
	if err != nil {
		writeAuthorityDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeactivateAdmin(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeAuthorityError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	var req authorityhttp.DeactivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthorityError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.authority.Handler.DeactivateHandler(r.Context(), principal, req)
	if err != nil {
		writeAuthorityDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBootstrapAdmin(w http.ResponseWriter, r *http.Request) {
	var req authorityhttp.BootstrapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuthorityError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.authority.Handler.BootstrapHandler(r.Context(), req)
	if err != nil {
		writeAuthorityDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAdmins(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(r)
	if !ok {
		writeAuthorityError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required")
		return
	}

	resp, err := s.authority.Handler.ListAdminsHandler(r.Context(), principal)
	if err != nil {
		writeAuthorityDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeLedgerDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledgererrors.ErrInvalidInput):
		writeLedgerError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ledgererrors.ErrBookNotFound):
		writeLedgerError(w, http.StatusNotFound, "book_not_found", err.Error())
	case errors.Is(err, ledgererrors.ErrBorrowingNotFound):
		writeLedgerError(w, http.StatusNotFound, "borrowing_not_found", err.Error())
	case errors.Is(err, ledgererrors.ErrBookUnavailable):
		writeLedgerError(w, http.StatusConflict, "book_unavailable", err.Error())
	case errors.Is(err, ledgererrors.ErrAlreadyBorrowed):
		writeLedgerError(w, http.StatusConflict, "already_borrowed", err.Error())
	case errors.Is(err, ledgererrors.ErrAlreadyReturned):
		writeLedgerError(w, http.StatusConflict, "already_returned", err.Error())
	case errors.Is(err, ledgererrors.ErrAccessDenied):
		writeLedgerError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, ledgererrors.ErrConflict):
		writeLedgerError(w, http.StatusConflict, "conflict", err.Error())
	default:
		writeLedgerError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeCatalogDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalogerrors.ErrInvalidInput):
		writeCatalogError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, catalogerrors.ErrBookNotFound):
		writeCatalogError(w, http.StatusNotFound, "book_not_found", err.Error())
	case errors.Is(err, catalogerrors.ErrDuplicateISBN):
		writeCatalogError(w, http.StatusConflict, "duplicate_isbn", err.Error())
	case errors.Is(err, catalogerrors.ErrInvalidOperation):
		writeCatalogError(w, http.StatusUnprocessableEntity, "invalid_operation", err.Error())
	case errors.Is(err, catalogerrors.ErrAccessDenied):
		writeCatalogError(w, http.StatusForbidden, "access_denied", err.Error())
	default:
		writeCatalogError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeAuthorityDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authorityerrors.ErrInvalidInput):
		writeAuthorityError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, authorityerrors.ErrAdminNotFound):
		writeAuthorityError(w, http.StatusNotFound, "admin_not_found", err.Error())
	case errors.Is(err, authorityerrors.ErrAlreadyGranted):
		writeAuthorityError(w, http.StatusConflict, "already_granted", err.Error())
	case errors.Is(err, authorityerrors.ErrInvalidTransition),
		errors.Is(err, authorityerrors.ErrInvalidOperation):
		writeAuthorityError(w, http.StatusUnprocessableEntity, "invalid_operation", err.Error())
	case errors.Is(err, authorityerrors.ErrAccessDenied):
		writeAuthorityError(w, http.StatusForbidden, "access_denied", err.Error())
	default:
		writeAuthorityError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeLedgerError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, ledgerhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeCatalogError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, cataloghttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeAuthorityError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, authorityhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// resolvePrincipal reads the identity the gateway injected. Authentication
// itself is external; the backend trusts these headers.
func resolvePrincipal(r *http.Request) (identity.Principal, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		return identity.Principal{}, false
	}
	return identity.Principal{
		ID:    userID,
		Email: strings.TrimSpace(r.Header.Get("X-User-Email")),
		Role:  identity.ParseRole(r.Header.Get("X-User-Role")),
	}, true
}
