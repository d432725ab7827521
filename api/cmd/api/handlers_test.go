package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"riverpulse/shared/logx"
)

func TestListDevicesRejectsUnknownStatus(t *testing.T) {
	s := &apiServer{log: logx.New("api-test", "test", "", "error")}
	mux := http.NewServeMux()
	s.routes(mux)

	req := httptest.NewRequest(http.MethodGet, "/devices?status=sleeping", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rr.Code)
	}
}
