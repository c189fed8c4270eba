package errmodel

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAndFrom(t *testing.T) {
	e := Validation("missing_field", "field missing", map[string]any{"field": "sensor_id"})
	if e.Category != CategoryValidation || e.Code != "missing_field" {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
}

func TestFromPlainErrorIsSystem(t *testing.T) {
	ce := From(errors.New("boom"))
	if ce.Category != CategorySystem || ce.Code != "internal" {
		t.Fatalf("unexpected: %#v", ce)
	}
}

func TestCauseIsReportedInMessage(t *testing.T) {
	e := Connectivity("connect_exhausted", "could not connect", nil, errors.New("dial tcp: refused"))
	if !strings.Contains(e.Error(), "dial tcp: refused") {
		t.Fatalf("error=%q should mention cause", e.Error())
	}
	if !IsCategory(e, CategoryConnectivity) || !IsCode(e, "connect_exhausted") {
		t.Fatalf("category/code helpers disagree: %#v", e)
	}
}

func TestWriteHTTP_StatusAndEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	WriteHTTP(rr, req, Connectivity("degraded", "store unreachable", nil, nil))
	if rr.Code != 503 {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"category\":\"connectivity\"") {
		t.Fatalf("body missing category: %s", body)
	}
	if !strings.Contains(body, "\"code\":\"degraded\"") {
		t.Fatalf("body missing code: %s", body)
	}
}
