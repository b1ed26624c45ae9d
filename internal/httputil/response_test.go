package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteJSON(recorder, http.StatusCreated, map[string]any{"id": "abc", "hasMore": true})

	if got := recorder.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if recorder.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", recorder.Code)
	}
	var decoded map[string]any
	if err := json.NewDecoder(recorder.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded["id"] != "abc" || decoded["hasMore"] != true {
		t.Errorf("unexpected body %v", decoded)
	}
}

func TestWriteError(t *testing.T) {
	recorder := httptest.NewRecorder()

	WriteError(recorder, http.StatusBadGateway, "Could not load videos")

	var body ErrorBody
	if err := json.NewDecoder(recorder.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if recorder.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", recorder.Code)
	}
	if body.Error != "Could not load videos" {
		t.Errorf("error = %q", body.Error)
	}
}

func TestDecodeJSON(t *testing.T) {
	var payload struct {
		Category string `json:"category"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"category":"podcasts"}`))
	if err := DecodeJSON(req, &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Category != "podcasts" {
		t.Errorf("category = %q, want podcasts", payload.Category)
	}

	empty := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := DecodeJSON(empty, &payload); err != nil {
		t.Errorf("empty body should decode, got %v", err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"category":`))
	if err := DecodeJSON(bad, &payload); err == nil {
		t.Error("expected error for truncated JSON")
	}
}
