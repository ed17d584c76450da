package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080")
	if c.BaseURL != "http://localhost:8080" {
		t.Errorf("expected BaseURL 'http://localhost:8080', got %s", c.BaseURL)
	}
	if c.HTTPClient.Timeout != 30*time.Second {
		t.Errorf("expected timeout 30s, got %v", c.HTTPClient.Timeout)
	}
	if c.AuthToken != "" {
		t.Errorf("expected empty AuthToken, got %s", c.AuthToken)
	}
}

func TestNewAuthenticatedClient(t *testing.T) {
	c := NewAuthenticatedClient("http://localhost:8080", "test-token")
	if c.AuthToken != "test-token" {
		t.Errorf("expected AuthToken 'test-token', got %s", c.AuthToken)
	}
}

func TestSubmitBuildRequestSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/requests" {
			t.Errorf("expected path /api/requests, got %s", r.URL.Path)
		}
		var req SubmitRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.BuilderName != "compile" {
			t.Errorf("expected builder name compile, got %s", req.BuilderName)
		}
		json.NewEncoder(w).Encode(SubmitResponse{RequestID: 42})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	resp, err := c.SubmitBuildRequest(SubmitRequest{BuildsetID: 1, BuilderName: "compile"})
	if err != nil {
		t.Fatalf("SubmitBuildRequest: %v", err)
	}
	if resp.RequestID != 42 {
		t.Errorf("expected request id 42, got %d", resp.RequestID)
	}
}

func TestSubmitBuildRequestSendsAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("expected bearer token header, got %q", r.Header.Get("Authorization"))
		}
		json.NewEncoder(w).Encode(SubmitResponse{RequestID: 1})
	}))
	defer server.Close()

	c := NewAuthenticatedClient(server.URL, "test-token")
	if _, err := c.SubmitBuildRequest(SubmitRequest{BuildsetID: 1, BuilderName: "compile"}); err != nil {
		t.Fatalf("SubmitBuildRequest: %v", err)
	}
}

func TestGetBuilderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BuilderStatus{Name: "compile", BigState: "idle"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	status, err := c.GetBuilderStatus("compile")
	if err != nil {
		t.Fatalf("GetBuilderStatus: %v", err)
	}
	if status.BigState != "idle" {
		t.Errorf("expected idle, got %s", status.BigState)
	}
}

func TestHealthCheckNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if err := c.HealthCheck(); err == nil {
		t.Fatal("expected error for non-2xx health check")
	}
}

func TestWaitForIdleTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(BuilderStatus{Name: "compile", BigState: "building"})
	}))
	defer server.Close()

	c := NewClient(server.URL)
	if _, err := c.WaitForIdle("compile", 10*time.Millisecond); err == nil {
		t.Fatal("expected timeout error")
	}
}
