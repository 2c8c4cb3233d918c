package sentiment

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/finbert-ci/collector/pkg/reporting"
)

// Model is the capability set the engine needs from a classifier backend:
// tokenization with an attention mask, a batched forward pass producing
// per-class logits in the fixed order [positive, negative, neutral], and the
// backend's input-length budget.
type Model interface {
	Tokenize(text string) (Encoding, error)
	Forward(ctx context.Context, batch []Encoding) ([]Logits, error)
	MaxInputTokens() int
	Close() error
}

// Encoding is a tokenized input: token ids and the matching attention mask.
type Encoding struct {
	IDs  []int `json:"ids"`
	Mask []int `json:"mask"`
}

// Logits are raw per-class scores in the order [positive, negative, neutral].
type Logits [3]float64

// BatchObserver receives per-batch timing. The metrics registry implements
// it; a nil observer disables observation.
type BatchObserver interface {
	ObserveSentimentBatch(size int, elapsed time.Duration)
	SentimentError(kind string)
}

// EngineConfig tunes the batching engine.
type EngineConfig struct {
	// BatchSize is the number of texts per forward call.
	BatchSize int
	// MaxTextChars truncates input before tokenization. This is on top of
	// the model's own token budget, not instead of it.
	MaxTextChars int
}

// Engine batches texts through a Model. A failed forward call degrades that
// batch to neutral results and the run continues; per-input tokenization
// failures degrade only the affected input.
type Engine struct {
	model    Model
	cfg      EngineConfig
	logger   *reporting.Logger
	observer BatchObserver
}

// NewEngine wraps model with the batching front-end.
func NewEngine(model Model, cfg EngineConfig, logger *reporting.Logger, observer BatchObserver) *Engine {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 8
	}
	if cfg.MaxTextChars < 1 {
		cfg.MaxTextChars = 400
	}
	return &Engine{model: model, cfg: cfg, logger: logger, observer: observer}
}

// Analyze classifies texts in configured-size batches. The returned slice is
// order- and length-matched to texts. The error return is reserved for
// context cancellation; model failures degrade to neutral results.
func (e *Engine) Analyze(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))

	// Indices of texts that actually need the model.
	pending := make([]int, 0, len(texts))
	encodings := make([]Encoding, 0, len(texts))

	for i, text := range texts {
		prepared := e.prepare(text)
		if prepared == "" {
			results[i] = neutralResult()
			continue
		}
		enc, err := e.model.Tokenize(prepared)
		if err != nil {
			e.logger.Warn("tokenization failed, using neutral result", "error", err)
			e.observeError("tokenize")
			results[i] = neutralResult()
			continue
		}
		pending = append(pending, i)
		encodings = append(encodings, e.clamp(enc))
	}

	for start := 0; start < len(pending); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + e.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		e.forwardBatch(ctx, encodings[start:end], pending[start:end], results)
	}

	return results, nil
}

// AnalyzeOne classifies a single text.
func (e *Engine) AnalyzeOne(ctx context.Context, text string) (Result, error) {
	results, err := e.Analyze(ctx, []string{text})
	if err != nil {
		return Result{}, err
	}
	return results[0], nil
}

// Close releases the underlying model.
func (e *Engine) Close() error {
	return e.model.Close()
}

// forwardBatch runs one forward call and fills results at the given indices.
// A failed call yields neutral results for the whole batch.
func (e *Engine) forwardBatch(ctx context.Context, batch []Encoding, indices []int, results []Result) {
	start := time.Now()
	logits, err := e.model.Forward(ctx, batch)
	elapsed := time.Since(start)

	if e.observer != nil {
		e.observer.ObserveSentimentBatch(len(batch), elapsed)
	}

	if err != nil || len(logits) != len(batch) {
		if err == nil {
			err = fmt.Errorf("%w: got %d logits for %d inputs", ErrForward, len(logits), len(batch))
		}
		e.logger.Error("forward pass failed, degrading batch to neutral",
			"batch_size", len(batch), "error", err)
		e.observeError("forward")
		for _, idx := range indices {
			results[idx] = neutralResult()
		}
		return
	}

	for i, idx := range indices {
		p, n, u := softmax(logits[i])
		results[idx] = resultFromProbs(p, n, u)
	}
}

// prepare trims and applies the character ceiling. The ceiling counts runes,
// never splitting a multi-byte character.
func (e *Engine) prepare(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > e.cfg.MaxTextChars {
		runes := []rune(text)
		text = string(runes[:e.cfg.MaxTextChars])
	}
	return text
}

// clamp enforces the model's token budget on an encoding.
func (e *Engine) clamp(enc Encoding) Encoding {
	max := e.model.MaxInputTokens()
	if max > 0 && len(enc.IDs) > max {
		enc.IDs = enc.IDs[:max]
		if len(enc.Mask) > max {
			enc.Mask = enc.Mask[:max]
		}
	}
	return enc
}

func (e *Engine) observeError(kind string) {
	if e.observer != nil {
		e.observer.SentimentError(kind)
	}
}
