package mlmodel

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/prodest/prodest-ml-stack/internal/svcutil"
)

// LLMModel is a reference Model implementation backed by an OpenAI-compatible
// chat completion endpoint, wrapped in a circuit breaker so a flaky
// upstream degrades gracefully instead of stalling every job dispatched to
// it.
type LLMModel struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	cb      *svcutil.CircuitBreaker
}

// LLMConfig configures NewLLMModel. LLMConfigFromEnv fills it from
// environment variables; NewLLMModel applies no defaults of its own.
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	HTTPReferer string
	XTitle      string
}

// LLMConfigFromEnv reads the OPENROUTER_* environment variables.
func LLMConfigFromEnv() LLMConfig {
	timeoutMs := 120000
	if t := os.Getenv("AI_TIMEOUT_MS"); t != "" {
		if parsed, err := strconv.Atoi(t); err == nil {
			timeoutMs = parsed
		}
	}
	model := os.Getenv("OPENROUTER_MODEL")
	if model == "" {
		model = "openai/gpt-4o-mini"
	}
	return LLMConfig{
		APIKey:      os.Getenv("OPENROUTER_API_KEY"),
		BaseURL:     "https://openrouter.ai/api/v1",
		Model:       model,
		Timeout:     time.Duration(timeoutMs) * time.Millisecond,
		HTTPReferer: "https://prodest-ml-stack.local",
		XTitle:      "prodest-ml-stack",
	}
}

type refererTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *refererTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("HTTP-Referer", t.referer)
	req.Header.Set("X-Title", t.title)
	return t.base.RoundTrip(req)
}

// NewLLMModel builds a reference Model around an OpenAI-compatible client.
func NewLLMModel(cfg LLMConfig) (*LLMModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm model: APIKey is required")
	}
	oaCfg := openai.DefaultConfig(cfg.APIKey)
	oaCfg.BaseURL = cfg.BaseURL
	oaCfg.HTTPClient = &http.Client{
		Transport: &refererTransport{base: http.DefaultTransport, referer: cfg.HTTPReferer, title: cfg.XTitle},
	}
	return &LLMModel{
		client:  openai.NewClientWithConfig(oaCfg),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		cb:      svcutil.NewCircuitBreaker("llm-model", 5, 60*time.Second),
	}, nil
}

func (m *LLMModel) complete(ctx context.Context, system, user string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var reply string
	err := m.cb.Call(func() error {
		resp, err := m.client.CreateChatCompletion(timeoutCtx, openai.ChatCompletionRequest{
			Model: m.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("llm model: empty completion")
		}
		reply = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return reply, nil
}

// Predict asks the model to classify/transform each item in dataset,
// returning one string prediction per input item.
func (m *LLMModel) Predict(ctx context.Context, dataset []any) (any, error) {
	out := make([]any, 0, len(dataset))
	for _, item := range dataset {
		reply, err := m.complete(ctx, "You are a prediction model. Respond with a single short label.", fmt.Sprint(item))
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(reply))
	}
	return out, nil
}

// Evaluate runs Predict over features, scores each prediction against its
// target by exact string match, and returns a metrics mapping.
func (m *LLMModel) Evaluate(ctx context.Context, features, targets []any) (any, error) {
	correct := 0
	preds, err := m.Predict(ctx, features)
	if err != nil {
		return nil, err
	}
	predList, _ := preds.([]any)
	for i := range targets {
		if i < len(predList) && fmt.Sprint(predList[i]) == fmt.Sprint(targets[i]) {
			correct++
		}
	}
	total := len(targets)
	accuracy := 0.0
	if total > 0 {
		accuracy = float64(correct) / float64(total)
	}
	return map[string]any{
		"accuracy": accuracy,
		"total":    total,
		"correct":  correct,
	}, nil
}

// GetFeedback computes a simple accuracy-style metric between yPred and
// yTrue for the api_metrics-wrapped feedback payload.
func (m *LLMModel) GetFeedback(ctx context.Context, yPred, yTrue []any) (any, error) {
	matches := 0
	n := len(yPred)
	if len(yTrue) < n {
		n = len(yTrue)
	}
	for i := 0; i < n; i++ {
		if fmt.Sprint(yPred[i]) == fmt.Sprint(yTrue[i]) {
			matches++
		}
	}
	agreement := 0.0
	if n > 0 {
		agreement = float64(matches) / float64(n)
	}
	return map[string]any{
		"agreement": agreement,
		"n":         n,
	}, nil
}

// GetModelInfo returns static metadata about the reference model.
func (m *LLMModel) GetModelInfo(ctx context.Context) (any, error) {
	return map[string]any{
		"backend": m.model,
		"kind":    "llm-reference",
	}, nil
}

// GetModelVersion returns the configured upstream model name as the version.
func (m *LLMModel) GetModelVersion(ctx context.Context) (string, error) {
	return m.model, nil
}
