package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewHTTPClient(server.URL, "test-token", 5*time.Second, zap.NewNop())
}

func TestPatchSendsJSONWithAuth(t *testing.T) {
	var gotMethod, gotPath, gotAuth, gotContentType string
	var gotBody map[string]interface{}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Write([]byte(`{"data":{"id":"m-1"}}`))
	})

	data, err := c.Patch(context.Background(), "/milestones/m-1", map[string]interface{}{"isCompleted": true})
	if err != nil {
		t.Fatalf("Patch() error = %v", err)
	}

	if gotMethod != http.MethodPatch {
		t.Errorf("method = %s, want PATCH", gotMethod)
	}
	if gotPath != "/milestones/m-1" {
		t.Errorf("path = %s, want /milestones/m-1", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("authorization = %q, want bearer token", gotAuth)
	}
	if gotContentType != "application/json" {
		t.Errorf("content type = %q, want application/json", gotContentType)
	}
	if gotBody["isCompleted"] != true {
		t.Errorf("body = %v, want isCompleted true", gotBody)
	}
	if string(data) != `{"id":"m-1"}` {
		t.Errorf("data = %s, want the unwrapped envelope payload", data)
	}
}

func TestPostReturnsTopLevelPayloadWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"operations_processed":1,"successful":1}`))
	})

	data, err := c.Post(context.Background(), "/milestones/sync", map[string]interface{}{})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	var result struct {
		OperationsProcessed int `json:"operations_processed"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("response should round-trip: %v", err)
	}
	if result.OperationsProcessed != 1 {
		t.Errorf("operations_processed = %d, want 1", result.OperationsProcessed)
	}
}

func TestNon2xxBecomesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("percentage out of range"))
	})

	_, err := c.Patch(context.Background(), "/milestones/m-1", map[string]interface{}{"percentageValue": 150})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Patch() error = %v, want APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", apiErr.StatusCode)
	}
	if apiErr.Message != "percentage out of range" {
		t.Errorf("message = %q, want the response body", apiErr.Message)
	}
}

func TestTransportFailureReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()
	c := NewHTTPClient(server.URL, "", time.Second, zap.NewNop())

	if _, err := c.Patch(context.Background(), "/milestones/m-1", nil); err == nil {
		t.Fatal("Patch() against a closed server should fail")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"server error", &APIError{StatusCode: 500}, true},
		{"bad gateway", &APIError{StatusCode: 502}, true},
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unprocessable", &APIError{StatusCode: 422}, false},
		{"not found", &APIError{StatusCode: 404}, false},
		{"transport failure", errors.New("connection refused"), true},
		{"context canceled", context.Canceled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
