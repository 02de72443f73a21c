package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	variationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aluno",
		Subsystem: "ai",
		Name:      "variation_duration_seconds",
		Help:      "Duration of LLM variation requests",
	}, []string{"model"})

	variationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aluno",
		Subsystem: "ai",
		Name:      "variation_failures_total",
		Help:      "Number of failed LLM variation requests",
	}, []string{"model"})
)

// Variation count bounds accepted by the generator.
const (
	MinVariations = 3
	MaxVariations = 10
)

// topUpBuffer pads the second request so a few more bad variants can be
// filtered out without a third round trip.
const topUpBuffer = 2

var placeholderPattern = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// ChatCompleter is the slice of the OpenAI client the generator needs.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// GeneratorConfig defines configuration for the variation generator.
type GeneratorConfig struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// Generator produces rewordings of a message template while preserving every
// {placeholder} of the original. It may return fewer items than requested;
// the caller surfaces that as a warning.
type Generator struct {
	client ChatCompleter
	cfg    GeneratorConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGenerator builds a generator backed by the OpenAI chat completion API.
func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	client := openai.NewClientWithConfig(openai.DefaultConfig(cfg.APIKey))
	return newGeneratorWithClient(client, cfg), nil
}

// NewGeneratorWithClient builds a generator over an existing completer.
// Used by tests to substitute the LLM.
func NewGeneratorWithClient(client ChatCompleter, cfg GeneratorConfig) *Generator {
	return newGeneratorWithClient(client, cfg)
}

func newGeneratorWithClient(client ChatCompleter, cfg GeneratorConfig) *Generator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Generator{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/aluno-go-api/pkg/ai"),
		logger: logger,
	}
}

// Generate requests count rewordings of template. Variants that drop any
// placeholder of the original are discarded; one top-up round is issued when
// the first batch comes up short.
func (g *Generator) Generate(parent context.Context, template string, count int) ([]string, error) {
	if count < MinVariations || count > MaxVariations {
		return nil, fmt.Errorf("variation count must be between %d and %d", MinVariations, MaxVariations)
	}

	ctx, span := g.tracer.Start(parent, "ai.generate_variations", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("count", count),
	))
	defer span.End()

	required := ExtractPlaceholders(template)

	variants, err := g.request(ctx, template, count)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	kept := filterVariants(variants, required)
	if len(kept) < count {
		missing := count - len(kept)
		topUp, err := g.request(ctx, template, missing+topUpBuffer)
		if err != nil {
			g.logger.Warn().Err(err).Msg("variation top-up request failed")
		} else {
			kept = append(kept, filterVariants(topUp, required)...)
		}
	}

	if len(kept) > count {
		kept = kept[:count]
	}

	span.SetAttributes(attribute.Int("returned", len(kept)))
	return kept, nil
}

func (g *Generator) request(ctx context.Context, template string, count int) ([]string, error) {
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: variationSystemPrompt()},
			{Role: openai.ChatMessageRoleUser, Content: buildVariationPrompt(template, count)},
		},
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, request)
	variationDuration.WithLabelValues(g.cfg.Model).Observe(time.Since(start).Seconds())
	if err != nil {
		variationFailures.WithLabelValues(g.cfg.Model).Inc()
		return nil, fmt.Errorf("llm variations: %w", err)
	}

	if len(resp.Choices) == 0 {
		variationFailures.WithLabelValues(g.cfg.Model).Inc()
		return nil, fmt.Errorf("no choices returned from llm")
	}

	variants, err := parseVariationResponse(resp.Choices[0].Message.Content)
	if err != nil {
		variationFailures.WithLabelValues(g.cfg.Model).Inc()
		return nil, err
	}

	return variants, nil
}

func variationSystemPrompt() string {
	return "You rewrite WhatsApp message templates in Brazilian Portuguese. Rules: never alter, remove or rename " +
		"{placeholder} tokens; never add information that is not in the original message; keep the tone friendly " +
		"and concise. Respond with a JSON array of strings and nothing else."
}

func buildVariationPrompt(template string, count int) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("Write %d variations of the following message. ", count))
	builder.WriteString("Every {placeholder} must appear unchanged in every variation.\n\n")
	builder.WriteString(template)
	return builder.String()
}

// parseVariationResponse accepts strictly a JSON array of strings.
func parseVariationResponse(content string) ([]string, error) {
	var variants []string
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &variants); err != nil {
		return nil, fmt.Errorf("parse variation json: %w", err)
	}

	return variants, nil
}

// ExtractPlaceholders returns the set of {word} tokens in the template.
func ExtractPlaceholders(template string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, match := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		out[match[1]] = struct{}{}
	}
	return out
}

// filterVariants keeps only variants whose placeholder set contains every
// required placeholder.
func filterVariants(variants []string, required map[string]struct{}) []string {
	kept := make([]string, 0, len(variants))
	for _, variant := range variants {
		have := ExtractPlaceholders(variant)
		ok := true
		for name := range required {
			if _, present := have[name]; !present {
				ok = false
				break
			}
		}
		if ok && strings.TrimSpace(variant) != "" {
			kept = append(kept, variant)
		}
	}
	return kept
}
