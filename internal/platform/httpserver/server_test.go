package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	catalogservice "circulate/contexts/circulation/catalog-service"
	lendingledger "circulate/contexts/circulation/lending-ledger"
	ledgerports "circulate/contexts/circulation/lending-ledger/ports"
	adminaccessauthority "circulate/contexts/identity-access/admin-access-authority"
)

func newTestServer(t *testing.T) (*httptest.Server, lendingledger.Module) {
	t.Helper()

	authority := adminaccessauthority.NewInMemoryModule(nil)
	ledger := lendingledger.NewInMemoryModule(authority.Service, nil)
	catalog := catalogservice.NewInMemoryModule(authority.Service, nil)

	server := New(ledger, catalog, authority, nil, ":0")
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts, ledger
}

func doJSON(t *testing.T, method string, url string, body any, headers map[string]string) *http.Response {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func adminHeaders() map[string]string {
	return map[string]string{
		"X-User-Id":    "admin-1",
		"X-User-Email": "root@example.com",
		"X-User-Role":  "ADMIN",
	}
}

func patronHeaders(id string) map[string]string {
	return map[string]string{
		"X-User-Id":   id,
		"X-User-Role": "PATRON",
	}
}

func TestBorrowReturnOverHTTP(t *testing.T) {
	ts, ledger := newTestServer(t)

	ledger.Store.SeedBook(ledgerports.BookProjection{
		BookID:          "book-1",
		Title:           "Designing Data-Intensive Applications",
		TotalCopies:     1,
		AvailableCopies: 1,
	})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/borrowings",
		map[string]string{"book_id": "book-1"}, patronHeaders("patron-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("borrow returned %d", resp.StatusCode)
	}
	var borrowResp struct {
		Data struct {
			BorrowingID string `json:"borrowing_id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&borrowResp); err != nil {
		t.Fatalf("decode borrow response: %v", err)
	}
	if borrowResp.Data.BorrowingID == "" {
		t.Fatalf("expected a borrowing id")
	}

	// The single copy is gone; a second borrow conflicts.
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/borrowings",
		map[string]string{"book_id": "book-1"}, patronHeaders("patron-2"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for an unavailable book, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/borrowings/"+borrowResp.Data.BorrowingID+"/status", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/borrowings/"+borrowResp.Data.BorrowingID+"/return",
		nil, patronHeaders("patron-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("return returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPut, ts.URL+"/api/borrowings/"+borrowResp.Data.BorrowingID+"/return",
		nil, patronHeaders("patron-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a double return, got %d", resp.StatusCode)
	}
}

func TestBorrowRequiresIdentityHeader(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/borrowings",
		map[string]string{"book_id": "book-1"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without X-User-Id, got %d", resp.StatusCode)
	}
}

func TestCatalogMutationsAreAdminGated(t *testing.T) {
	ts, _ := newTestServer(t)

	createBody := map[string]any{
		"title":        "Refactoring",
		"author":       "Fowler",
		"isbn":         "978-0134757599",
		"total_copies": 2,
	}

	// No grant on record yet: even the ADMIN role header is refused.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/books", createBody, adminHeaders())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 before bootstrap, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/bootstrap",
		map[string]string{"email": "root@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bootstrap returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/books", createBody, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create book returned %d after bootstrap", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/books", createBody, adminHeaders())
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate isbn, got %d", resp.StatusCode)
	}

	// Reads stay public.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/books", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list books returned %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/books", map[string]any{
		"title":        "Another",
		"author":       "Writer",
		"isbn":         "978-1",
		"total_copies": 1,
	}, patronHeaders("patron-1"))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for a patron create, got %d", resp.StatusCode)
	}
}

func TestAdminGrantLifecycleOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/admin/bootstrap",
		map[string]string{"email": "root@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bootstrap returned %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/bootstrap",
		map[string]string{"email": "second@example.com"}, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for a second bootstrap, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/promote",
		map[string]string{"email": "helper@example.com"}, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("promote returned %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/activate",
		map[string]string{"email": "helper@example.com"}, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activate returned %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/activate",
		map[string]string{"email": "helper@example.com"}, adminHeaders())
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 re-activating an active grant, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/list", nil, adminHeaders())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list admins returned %d", resp.StatusCode)
	}
	var listResp struct {
		Data []struct {
			AdminEmail string `json:"admin_email"`
			Status     string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listResp.Data) != 2 {
		t.Fatalf("expected 2 grants, got %d", len(listResp.Data))
	}
}
