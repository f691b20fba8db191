package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/breaker"
	"github.com/linnemanlabs/erpath/internal/llm"
	"github.com/linnemanlabs/erpath/internal/severity"
)

var tracer = otel.Tracer("github.com/linnemanlabs/erpath/internal/triage")

const classifyResponseTokens = 300

var (
	// ErrMalformedResponse is returned when classifier output is not the
	// expected JSON object.
	ErrMalformedResponse = errors.New("malformed classifier response")

	// ErrInvalidLevel is returned when classifier output names an unknown level.
	ErrInvalidLevel = errors.New("classifier returned invalid level")
)

// Classifier is the external classification collaborator.
type Classifier interface {
	Classify(ctx context.Context, a Assessment) (*ExternalResult, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, a Assessment) (*ExternalResult, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, a Assessment) (*ExternalResult, error) {
	return f(ctx, a)
}

// FallbackReasonFor maps a classifier error onto the reason recorded on the
// rule-only decision.
func FallbackReasonFor(err error) FallbackReason {
	switch {
	case err == nil:
		return FallbackNone
	case errors.Is(err, breaker.ErrOpen):
		return FallbackCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return FallbackTimeout
	case errors.Is(err, ErrInvalidLevel):
		return FallbackInvalidLevel
	case errors.Is(err, ErrMalformedResponse):
		return FallbackMalformed
	default:
		return FallbackUnavailable
	}
}

type classificationWire struct {
	TriageLevel *string `json:"triageLevel"`
	Reasoning   *string `json:"reasoning"`
}

// DecodeClassification strictly decodes `{"triageLevel": ..., "reasoning": ...}`.
// Unknown fields, missing fields, wrong types and trailing data are rejected.
// A markdown code fence around the object is tolerated.
func DecodeClassification(text string) (*ExternalResult, error) {
	body := llm.StripCodeFence(text)
	if body == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedResponse)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var w classificationWire
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedResponse)
	}
	if w.TriageLevel == nil {
		return nil, fmt.Errorf("%w: missing triageLevel", ErrMalformedResponse)
	}
	if w.Reasoning == nil {
		return nil, fmt.Errorf("%w: missing reasoning", ErrMalformedResponse)
	}

	lvl, err := severity.Parse(*w.TriageLevel)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLevel, err)
	}

	return &ExternalResult{Level: lvl, Rationale: strings.TrimSpace(*w.Reasoning)}, nil
}

// LLMClassifier classifies assessments with an LLM provider.
type LLMClassifier struct {
	provider llm.Provider
	breaker  *breaker.Breaker
	timeout  time.Duration
	logger   log.Logger
}

// NewLLMClassifier creates a classifier. breaker may be nil; a zero timeout
// leaves the caller's deadline in charge.
func NewLLMClassifier(provider llm.Provider, b *breaker.Breaker, timeout time.Duration, logger log.Logger) *LLMClassifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &LLMClassifier{
		provider: provider,
		breaker:  b,
		timeout:  timeout,
		logger:   logger,
	}
}

// Classify sends the serialized assessment to the provider and decodes the reply.
func (c *LLMClassifier) Classify(ctx context.Context, a Assessment) (*ExternalResult, error) {
	ctx, span := tracer.Start(ctx, "triage.classify")
	defer span.End()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	prompt, err := buildClassifyPrompt(a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := breaker.Do(ctx, c.breaker, func(ctx context.Context) (*llm.Response, error) {
		return c.provider.Send(ctx, &llm.Request{
			MaxTokens: classifyResponseTokens,
			System:    classifySystemPrompt,
			Messages:  []llm.Message{llm.UserText(prompt)},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("classifier call: %w", err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)

	result, err := DecodeClassification(resp.Text())
	if err != nil {
		c.logger.Warn(ctx, "classifier returned unusable response", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("erpath.triage.external_level", result.Level.String()))
	return result, nil
}

const classifySystemPrompt = `You are a medical triage assistant.
The user will provide medical symptom data (where fields can be missing).
Please return valid JSON only.
The JSON must have the shape:
{
    "triageLevel": "LEVEL_I" | "LEVEL_II" | "LEVEL_III" | "LEVEL_IV" | "LEVEL_V",
    "reasoning": "Short explanation of why"
}

The triageLevel must be one of LEVEL_I, LEVEL_II, LEVEL_III, LEVEL_IV, or LEVEL_V.
Return only JSON. No extra text.`

func buildClassifyPrompt(a Assessment) (string, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("marshal assessment: %w", err)
	}
	var b bytes.Buffer
	b.WriteString("Patient data (JSON format):\n\n")
	b.Write(data)
	b.WriteString("\n\nPlease analyze the patient's condition and respond with JSON only.")
	return b.String(), nil
}
