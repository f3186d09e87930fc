// Package embedder converts chunk text into embedding vectors over HTTP,
// retrying transient and rate-limit failures with jittered exponential
// backoff per §4.8.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/corpusrag/ragcore/internal/observability"
)

// Embedder converts a single chunk's text into its embedding vector.
type Embedder interface {
	// EmbedOne embeds a single chunk, retrying internally on transient and
	// rate-limit errors. It returns the vector plus diagnostics for the
	// caller's metrics: how many retries were needed and whether any of
	// them were due to rate limiting.
	EmbedOne(ctx context.Context, text string) (vector []float32, retries int, wasRateLimited bool, err error)
	// Name returns a model identifier string, used in chunk ID derivation.
	Name() string
	// Dimension returns the embedding dimensionality.
	Dimension() int
	// Ping checks that the embedding service is reachable.
	Ping(ctx context.Context) error
}

// RetryConfig controls the jittered exponential backoff applied to
// transient and rate-limit errors, per §4.8 and the GLOSSARY.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the spec's stated backoff schedule: base=1s,
// capped at 30s, up to 5 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Config describes the embedding HTTP endpoint.
type Config struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string // "Authorization" sends "Bearer <key>"; any other name is sent verbatim
	Timeout   time.Duration
}

type embedReq struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// HTTPEmbedder is the production Embedder, grounded on the teacher's
// embedding HTTP client: one chunk per request, Bearer-style auth, a
// `{data:[{embedding}]}` response shape.
type HTTPEmbedder struct {
	cfg    Config
	dim    int
	client *http.Client
	retry  RetryConfig
}

// NewHTTPEmbedder constructs an HTTPEmbedder for the given endpoint config.
func NewHTTPEmbedder(cfg Config, dim int, client *http.Client, retry RetryConfig) *HTTPEmbedder {
	if client == nil {
		client = http.DefaultClient
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryConfig()
	}
	return &HTTPEmbedder{cfg: cfg, dim: dim, client: client, retry: retry}
}

func (e *HTTPEmbedder) Name() string   { return e.cfg.Model }
func (e *HTTPEmbedder) Dimension() int { return e.dim }

func (e *HTTPEmbedder) Ping(ctx context.Context) error {
	_, _, _, err := e.EmbedOne(ctx, "ping")
	if err != nil {
		return fmt.Errorf("embedding endpoint reachability check failed: %w", err)
	}
	return nil
}

func (e *HTTPEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, int, bool, error) {
	var lastErr error
	wasRateLimited := false

	for attempt := 1; attempt <= e.retry.MaxAttempts; attempt++ {
		vec, err := e.call(ctx, text)
		if err == nil {
			return vec, attempt - 1, wasRateLimited, nil
		}
		lastErr = err

		rl := isRateLimited(err)
		if rl {
			wasRateLimited = true
		}
		if !rl && !isTransient(err) {
			return nil, attempt - 1, wasRateLimited, err
		}
		if attempt == e.retry.MaxAttempts {
			break
		}

		delay := e.backoff(attempt)
		select {
		case <-ctx.Done():
			return nil, attempt, wasRateLimited, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, e.retry.MaxAttempts, wasRateLimited, fmt.Errorf("embedding failed after %d attempts: %w", e.retry.MaxAttempts, lastErr)
}

// backoff computes min(maxDelay, base*2^(attempt-1) + U(0, 0.5*base*2^(attempt-1))).
func (e *HTTPEmbedder) backoff(attempt int) time.Duration {
	exp := float64(e.retry.BaseDelay) * math.Pow(2, float64(attempt-1))
	jitter := rand.Float64() * 0.5 * exp
	d := time.Duration(exp + jitter)
	if d > e.retry.MaxDelay {
		d = e.retry.MaxDelay
	}
	return d
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("embeddings error: %d: %s", e.status, e.body)
}

func (e *HTTPEmbedder) call(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(embedReq{Model: e.cfg.Model, Input: []string{text}, EncodingFormat: "float"})
	if err != nil {
		return nil, err
	}
	timeout := e.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := e.cfg.BaseURL + e.cfg.Path
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if e.cfg.APIHeader == "Authorization" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	} else if e.cfg.APIHeader != "" {
		req.Header.Set(e.cfg.APIHeader, e.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, &httpError{status: resp.StatusCode, body: string(observability.RedactJSON(body))}
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}
	if len(er.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding count: got %d, want 1", len(er.Data))
	}
	return er.Data[0].Embedding, nil
}

// isRateLimited matches the GLOSSARY's rate-limit signal: HTTP 429, or a
// body mentioning rate limiting or quota exhaustion.
func isRateLimited(err error) bool {
	he, ok := err.(*httpError)
	if !ok {
		return false
	}
	if he.status == http.StatusTooManyRequests {
		return true
	}
	lower := strings.ToLower(he.body)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota exceeded")
}

// isTransient covers connection failures and 5xx responses; everything
// else (4xx other than 429, malformed response) is a per-chunk fatal error.
func isTransient(err error) bool {
	he, ok := err.(*httpError)
	if !ok {
		// network-level errors (timeouts, connection refused, DNS) surface
		// without an httpError wrapper and are worth retrying.
		return true
	}
	return he.status/100 == 5
}

// DeterministicEmbedder is a seeded, hash-based Embedder for tests and
// offline runs, grounded on the teacher's deterministicEmbedder: byte
// 3-gram hashing into a fixed-size vector, optionally L2-normalized.
type DeterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministic constructs a DeterministicEmbedder of the given dimension.
func NewDeterministic(dim int, normalize bool, seed uint64) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &DeterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *DeterministicEmbedder) Name() string   { return "deterministic" }
func (d *DeterministicEmbedder) Dimension() int { return d.dim }
func (d *DeterministicEmbedder) Ping(_ context.Context) error { return nil }

func (d *DeterministicEmbedder) EmbedOne(_ context.Context, text string) ([]float32, int, bool, error) {
	v := make([]float32, d.dim)
	b := []byte(text)
	if len(b) == 0 {
		return v, 0, false, nil
	}
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	if d.normalize {
		var sum float64
		for _, x := range v {
			sum += float64(x) * float64(x)
		}
		if sum > 0 {
			inv := float32(1.0 / math.Sqrt(sum))
			for i := range v {
				v[i] *= inv
			}
		}
	}
	return v, 0, false, nil
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
