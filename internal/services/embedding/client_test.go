package embedding_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"curator/internal/services"
	"curator/internal/services/embedding"
)

func TestEmbedBatchesAndOrders(t *testing.T) {
	var batchSizes []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("unexpected model %q", req.Model)
		}
		batchSizes = append(batchSizes, len(req.Input))
		data := make([]map[string]any, len(req.Input))
		// Answer out of order; the client must reassemble by index.
		for i := range req.Input {
			j := len(req.Input) - 1 - i
			data[i] = map[string]any{"index": j, "embedding": []float64{float64(j)}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	client := embedding.NewClient(server.URL, "", "test-model", embedding.WithBatchSize(2))
	vectors, err := client.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vectors) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != 1 || vec[0] != float64(i%2) {
			t.Fatalf("vector %d out of order: %v", i, vec)
		}
	}
	if len(batchSizes) != 2 || batchSizes[0] != 2 || batchSizes[1] != 1 {
		t.Fatalf("unexpected batching %v", batchSizes)
	}
}

func TestEmbedCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}))
	defer server.Close()

	client := embedding.NewClient(server.URL, "", "m")
	_, err := client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestEmbedRateLimitIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := embedding.NewClient(server.URL, "", "m")
	_, err := client.Embed(context.Background(), []string{"a"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if services.Permanent(err) {
		t.Fatal("rate limits must be retryable")
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	client := embedding.NewClient("http://unused.invalid", "", "m")
	vectors, err := client.Embed(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Fatalf("expected nil result for empty input, got %v %v", vectors, err)
	}
}
