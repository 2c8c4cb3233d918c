package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FinBERTConfig configures the HTTP model backend.
type FinBERTConfig struct {
	// Endpoint is the inference sidecar base URL.
	Endpoint string
	// ModelID names the hosted model (e.g. ProsusAI/finbert).
	ModelID string
	// Timeout bounds every sidecar call.
	Timeout time.Duration
}

// FinBERT is the default Model realization. It talks to an inference sidecar
// hosting the financial-domain transformer: /tokenize for encodings and
// /forward for per-class logits. The sidecar picks the compute device; this
// client is device-agnostic.
type FinBERT struct {
	cfg       FinBERTConfig
	client    *http.Client
	maxTokens int
}

// readyResponse is the sidecar's readiness payload.
type readyResponse struct {
	Model          string `json:"model"`
	MaxInputTokens int    `json:"max_input_tokens"`
	Device         string `json:"device"`
}

// NewFinBERT connects to the inference sidecar and verifies the model is
// loaded. Failure here means the classifier cannot be constructed.
func NewFinBERT(ctx context.Context, cfg FinBERTConfig) (*FinBERT, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	m := &FinBERT{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}

	ready, err := m.ready(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if ready.Model != "" && ready.Model != cfg.ModelID {
		return nil, fmt.Errorf("%w: sidecar serves %q, want %q", ErrModelLoad, ready.Model, cfg.ModelID)
	}
	if ready.MaxInputTokens < 1 {
		return nil, fmt.Errorf("%w: sidecar reported no token budget", ErrModelLoad)
	}
	m.maxTokens = ready.MaxInputTokens

	return m, nil
}

// ready fetches the sidecar's readiness state.
func (m *FinBERT) ready(ctx context.Context) (*readyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.Endpoint+"/ready", nil)
	if err != nil {
		return nil, fmt.Errorf("create ready request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sidecar unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sidecar not ready: status %d", resp.StatusCode)
	}

	var ready readyResponse
	if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
		return nil, fmt.Errorf("decode ready response: %w", err)
	}
	return &ready, nil
}

// Tokenize encodes text via the sidecar tokenizer.
func (m *FinBERT) Tokenize(text string) (Encoding, error) {
	reqBody := struct {
		Model string `json:"model"`
		Text  string `json:"text"`
	}{Model: m.cfg.ModelID, Text: text}

	var enc Encoding
	if err := m.post(context.Background(), "/tokenize", reqBody, &enc); err != nil {
		return Encoding{}, fmt.Errorf("tokenize: %w", err)
	}
	return enc, nil
}

// Forward runs one batched forward pass and returns per-example logits.
func (m *FinBERT) Forward(ctx context.Context, batch []Encoding) ([]Logits, error) {
	reqBody := struct {
		Model string     `json:"model"`
		Batch []Encoding `json:"batch"`
	}{Model: m.cfg.ModelID, Batch: batch}

	var respBody struct {
		Logits []Logits `json:"logits"`
	}
	if err := m.post(ctx, "/forward", reqBody, &respBody); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForward, err)
	}
	if len(respBody.Logits) != len(batch) {
		return nil, fmt.Errorf("%w: got %d logits for %d inputs", ErrForward, len(respBody.Logits), len(batch))
	}
	return respBody.Logits, nil
}

// MaxInputTokens returns the sidecar-reported token budget.
func (m *FinBERT) MaxInputTokens() int {
	return m.maxTokens
}

// Close releases idle connections.
func (m *FinBERT) Close() error {
	m.client.CloseIdleConnections()
	return nil
}

// post sends a JSON request and decodes the JSON response.
func (m *FinBERT) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar returned %d: %s", resp.StatusCode, truncateBody(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func truncateBody(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
