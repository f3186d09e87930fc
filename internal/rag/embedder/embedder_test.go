package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestEmbedOne_BearerAuthAndSuccess(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected Authorization header Bearer secret, got %q", got)
		}
		var req embedReq
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 1 {
			t.Fatalf("expected single-chunk input, got %d", len(req.Input))
		}
		resp := embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{0.1, 0.2, 0.3}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	e := NewHTTPEmbedder(Config{BaseURL: ts.URL, Path: "/embeddings", Model: "m", APIHeader: "Authorization", APIKey: "secret"}, 3, ts.Client(), DefaultRetryConfig())
	vec, retries, rateLimited, err := e.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retries != 0 || rateLimited {
		t.Fatalf("expected no retries on first-try success, got retries=%d rateLimited=%v", retries, rateLimited)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3-dim vector, got %d", len(vec))
	}
}

func TestEmbedOne_RetriesOnRateLimitThenSucceeds(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		resp := embedResp{Data: []struct {
			Embedding []float32 `json:"embedding"`
		}{{Embedding: []float32{1}}}}
		json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	retry := RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	e := NewHTTPEmbedder(Config{BaseURL: ts.URL, Path: "/", Model: "m"}, 1, ts.Client(), retry)
	_, retries, rateLimited, err := e.EmbedOne(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rateLimited {
		t.Fatalf("expected rate-limited flag to be set")
	}
	if retries != 2 {
		t.Fatalf("expected 2 retries before success, got %d", retries)
	}
}

func TestEmbedOne_NonTransientErrorFailsFast(t *testing.T) {
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid model"}`))
	}))
	defer ts.Close()

	e := NewHTTPEmbedder(Config{BaseURL: ts.URL, Path: "/", Model: "m"}, 1, ts.Client(), DefaultRetryConfig())
	_, _, rateLimited, err := e.EmbedOne(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if rateLimited {
		t.Fatalf("400 should not be classified as rate limited")
	}
	if calls != 1 {
		t.Fatalf("expected no retries on non-transient 4xx, got %d calls", calls)
	}
}

func TestEmbedOne_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	retry := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	e := NewHTTPEmbedder(Config{BaseURL: ts.URL, Path: "/", Model: "m"}, 1, ts.Client(), retry)
	_, retries, _, err := e.EmbedOne(context.Background(), "hello")
	if err == nil {
		t.Fatalf("expected error after exhausting retries")
	}
	if retries != retry.MaxAttempts {
		t.Fatalf("expected retries=%d, got %d", retry.MaxAttempts, retries)
	}
}

func TestDeterministicEmbedder_IsStableAcrossCalls(t *testing.T) {
	d := NewDeterministic(32, true, 7)
	v1, _, _, _ := d.EmbedOne(context.Background(), "hello world")
	v2, _, _, _ := d.EmbedOne(context.Background(), "hello world")
	if len(v1) != 32 {
		t.Fatalf("expected dim 32, got %d", len(v1))
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected deterministic output, differed at index %d", i)
		}
	}
}

func TestDeterministicEmbedder_DifferentTextDiffers(t *testing.T) {
	d := NewDeterministic(32, false, 0)
	v1, _, _, _ := d.EmbedOne(context.Background(), "alpha")
	v2, _, _, _ := d.EmbedOne(context.Background(), "beta")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatalf("expected different text to produce different vectors")
	}
}
