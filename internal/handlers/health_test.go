package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name           string
		checks         map[string]HealthCheck
		expectedStatus int
		wantStatus     string
		wantIssues     int
	}{
		{
			name:           "all healthy",
			checks:         map[string]HealthCheck{"storage": ok, "vector_store": ok},
			expectedStatus: http.StatusOK,
			wantStatus:     "healthy",
		},
		{
			name:           "one dependency down",
			checks:         map[string]HealthCheck{"storage": ok, "vector_store": down},
			expectedStatus: http.StatusServiceUnavailable,
			wantStatus:     "unhealthy",
			wantIssues:     1,
		},
		{
			name:           "no checks",
			checks:         nil,
			expectedStatus: http.StatusOK,
			wantStatus:     "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.checks).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.expectedStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectedStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantStatus || len(resp.Issues) != tt.wantIssues || len(resp.Checks) != len(tt.checks) {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}
