// Package sentiment classifies financial text into positive, negative, or
// neutral using a batched model wrapper. The Analyzer interface has two
// realizations: Engine, which drives a real model, and Neutral, a stub used
// when classification is disabled.
package sentiment

import (
	"context"
	"errors"
	"math"
	"strings"
)

// Labels in the model's fixed class order.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Sentinel errors for classifier failure classes.
var (
	ErrModelLoad = errors.New("sentiment: model load failed")
	ErrForward   = errors.New("sentiment: forward pass failed")
)

// Result is the classification outcome for one input text. Positive,
// Negative and Neutral sum to ~1; Confidence equals the probability of
// Label; Score is Positive minus Negative.
type Result struct {
	Label      string
	Confidence float64
	Positive   float64
	Negative   float64
	Neutral    float64
	Score      float64
}

// Analyzer is the classification surface used by the pipeline.
type Analyzer interface {
	// Analyze classifies texts, preserving order and length.
	Analyze(ctx context.Context, texts []string) ([]Result, error)
	// AnalyzeOne classifies a single text.
	AnalyzeOne(ctx context.Context, text string) (Result, error)
	Close() error
}

// neutralResult is the fallback used for empty input, disabled
// classification, and failed batches.
func neutralResult() Result {
	return Result{
		Label:      LabelNeutral,
		Confidence: 1.0,
		Neutral:    1.0,
	}
}

// resultFromProbs builds a Result from the three class probabilities,
// breaking argmax ties in the order neutral, positive, negative.
func resultFromProbs(positive, negative, neutral float64) Result {
	label := LabelNeutral
	confidence := neutral
	if positive > confidence {
		label = LabelPositive
		confidence = positive
	}
	if negative > confidence {
		label = LabelNegative
		confidence = negative
	}
	return Result{
		Label:      label,
		Confidence: confidence,
		Positive:   positive,
		Negative:   negative,
		Neutral:    neutral,
		Score:      positive - negative,
	}
}

// softmax converts logits to probabilities, shifted by the max for
// numerical stability.
func softmax(logits Logits) (float64, float64, float64) {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	var sum float64
	var exps [3]float64
	for i, v := range logits {
		exps[i] = math.Exp(v - max)
		sum += exps[i]
	}
	return exps[0] / sum, exps[1] / sum, exps[2] / sum
}

// CombineText joins a submission title and body into the classifier input:
// title and body separated by a single space, outer whitespace trimmed.
func CombineText(title, body string) string {
	return strings.TrimSpace(strings.TrimSpace(title) + " " + strings.TrimSpace(body))
}

// Neutral is the Analyzer used when classification is disabled. Every input
// maps to a neutral result without touching any model.
type Neutral struct{}

// NewNeutral returns the disabled-classification stub.
func NewNeutral() *Neutral {
	return &Neutral{}
}

// Analyze returns a neutral result per input.
func (n *Neutral) Analyze(_ context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))
	for i := range results {
		results[i] = neutralResult()
	}
	return results, nil
}

// AnalyzeOne returns a neutral result.
func (n *Neutral) AnalyzeOne(_ context.Context, _ string) (Result, error) {
	return neutralResult(), nil
}

// Close is a no-op.
func (n *Neutral) Close() error {
	return nil
}
