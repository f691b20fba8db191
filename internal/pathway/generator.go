package pathway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/erpath/internal/breaker"
	"github.com/linnemanlabs/erpath/internal/facility"
	"github.com/linnemanlabs/erpath/internal/llm"
	"github.com/linnemanlabs/erpath/internal/severity"
)

var tracer = otel.Tracer("github.com/linnemanlabs/erpath/internal/pathway")

const generateResponseTokens = 2000

// Request is what a generator needs to build a pathway.
type Request struct {
	Facility facility.Facility
	Level    severity.Level
	At       time.Time
}

// Generator produces pathway guidance for a facility and level.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Guidance, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Guidance, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Guidance, error) {
	return f(ctx, req)
}

// LLMGenerator generates guidance with an LLM provider.
type LLMGenerator struct {
	provider llm.Provider
	breaker  *breaker.Breaker
	timeout  time.Duration
	logger   log.Logger
}

// NewLLMGenerator creates a generator. breaker may be nil.
func NewLLMGenerator(provider llm.Provider, b *breaker.Breaker, timeout time.Duration, logger log.Logger) *LLMGenerator {
	if logger == nil {
		logger = log.Nop()
	}
	return &LLMGenerator{provider: provider, breaker: b, timeout: timeout, logger: logger}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, req Request) (*Guidance, error) {
	ctx, span := tracer.Start(ctx, "pathway.generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("erpath.facility.id", req.Facility.ID),
		attribute.String("erpath.triage.level", req.Level.String()),
	)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt, err := buildGeneratePrompt(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := breaker.Do(ctx, g.breaker, func(ctx context.Context) (*llm.Response, error) {
		return g.provider.Send(ctx, &llm.Request{
			MaxTokens: generateResponseTokens,
			System:    generateSystemPrompt,
			Messages:  []llm.Message{llm.UserText(prompt)},
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generator call: %w", err)
	}

	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.Int("gen_ai.usage.input_tokens", resp.Usage.InputTokens),
		attribute.Int("gen_ai.usage.output_tokens", resp.Usage.OutputTokens),
	)

	guidance, err := DecodeGuidance(resp.Text())
	if err != nil {
		g.logger.Warn(ctx, "generator returned unusable guidance", "error", err, "stop_reason", resp.StopReason)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("erpath.pathway.steps", len(guidance.Pathway)))
	return guidance, nil
}

const generateSystemPrompt = `You are an emergency department navigation assistant.
Given a hospital, the patient's triage level and the current time, describe the
steps the patient will go through from arrival to being seen.
Return valid JSON only, with the shape:
{
    "currentStep": "name of the step the patient is at now",
    "estimatedTotalDuration": "human readable duration",
    "pathway": [
        {
            "step": "step name",
            "status": "pending" | "active" | "completed",
            "location": "where in the hospital",
            "instructions": "what the patient should do",
            "estimatedDuration": "human readable duration",
            "estimatedStartTime": "HH:MM",
            "whatToExpect": "what will happen",
            "requirements": ["item"],
            "tips": ["tip"]
        }
    ]
}
Return only JSON. No extra text.`

func buildGeneratePrompt(req Request) (string, error) {
	payload := struct {
		Hospital    facility.Facility `json:"hospital"`
		TriageLevel string            `json:"triageLevel"`
		Label       string            `json:"triageLabel"`
		Timestamp   string            `json:"timestamp"`
	}{
		Hospital:    req.Facility,
		TriageLevel: req.Level.String(),
		Label:       req.Level.Label(),
		Timestamp:   req.At.UTC().Format(time.RFC3339),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal pathway request: %w", err)
	}
	return "Pathway request (JSON format):\n\n" + string(data) + "\n\nRespond with JSON only.", nil
}
