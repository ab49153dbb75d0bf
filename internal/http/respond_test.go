package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDecodeJSONBody_AllowsPayloadWithinLimit(t *testing.T) {
	body := strings.NewReader(`{"email":"john.doe@lge.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", body)
	rec := httptest.NewRecorder()

	var dst map[string]string
	if err := decodeJSONBody(rec, req, &dst); err != nil {
		t.Fatalf("decodeJSONBody returned error: %v", err)
	}
	if dst["email"] != "john.doe@lge.com" {
		t.Fatalf("expected key to be decoded, got %v", dst)
	}
}

func TestDecodeJSONBody_RejectsPayloadExceedingLimit(t *testing.T) {
	var b strings.Builder
	b.Grow(int(maxJSONBodyBytes) + 32)
	b.WriteString(`{"data":"`)
	for i := int64(0); i < maxJSONBodyBytes; i++ {
		b.WriteByte('a')
	}
	b.WriteString(`"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(b.String()))
	rec := httptest.NewRecorder()

	var dst map[string]string
	err := decodeJSONBody(rec, req, &dst)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !strings.Contains(err.Error(), "payload too large") {
		t.Fatalf("unexpected error: %v", err)
	}

	writeJSONError(rec, err)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d", rec.Code)
	}
}

func TestClientIPFromRequestRemoteAddr(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.RemoteAddr = "192.168.1.100:12345"

	if ip := clientIPFromRequest(req); ip != "192.168.1.100" {
		t.Fatalf("expected IP 192.168.1.100, got %s", ip)
	}
}

func TestClientIPFromRequestNoPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/auth/state", nil)
	req.RemoteAddr = "192.168.1.100"

	if ip := clientIPFromRequest(req); ip != "192.168.1.100" {
		t.Fatalf("expected IP 192.168.1.100, got %s", ip)
	}
}
