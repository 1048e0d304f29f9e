// Package enrich performs the auxiliary caller-risk lookup: given a call or
// meeting target identifier, ask an LLM for a quick risk assessment to attach
// to alerts. The lookup is strictly best-effort with first-result-or-none
// semantics: a slow or failing provider yields "no result" and must never
// delay session activation.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anyllm "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	"github.com/mozilla-ai/any-llm-go/providers/openai"
)

// Level grades the looked-up risk.
type Level string

const (
	LevelUnknown Level = "unknown"
	LevelLow     Level = "low"
	LevelMedium  Level = "medium"
	LevelHigh    Level = "high"
)

// Risk is the result of one caller-risk lookup.
type Risk struct {
	Target  string
	Level   Level
	Summary string
}

const systemPrompt = `You assess the phishing risk of a phone number or meeting identifier.
Respond with a single JSON object: {"level": "low"|"medium"|"high", "summary": "<one sentence>"}.
Do not include any other text.`

// completeFunc produces the model's raw text answer for one prompt.
// Split out so tests can run without a real provider.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// Lookup asks a configured LLM provider about target identifiers.
type Lookup struct {
	complete completeFunc
	timeout  time.Duration
}

// Option configures a [Lookup].
type Option func(*Lookup)

// WithTimeout bounds each lookup. The default is 5 seconds.
func WithTimeout(d time.Duration) Option {
	return func(l *Lookup) {
		if d > 0 {
			l.timeout = d
		}
	}
}

// WithCompleteFunc replaces the provider call. Test hook.
func WithCompleteFunc(fn completeFunc) Option {
	return func(l *Lookup) {
		if fn != nil {
			l.complete = fn
		}
	}
}

// New creates a risk lookup backed by the named provider. providerName is one
// of "openai", "anthropic", "gemini", "ollama", "mistral", "groq". An empty
// apiKey falls back to the provider's environment variable.
func New(providerName, model, apiKey string, opts ...Option) (*Lookup, error) {
	if model == "" {
		return nil, fmt.Errorf("enrich: model must not be empty")
	}

	var llmOpts []anyllm.Option
	if apiKey != "" {
		llmOpts = append(llmOpts, anyllm.WithAPIKey(apiKey))
	}
	backend, err := createBackend(providerName, llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("enrich: create %q backend: %w", providerName, err)
	}

	l := &Lookup{
		complete: func(ctx context.Context, prompt string) (string, error) {
			temp := 0.0
			resp, err := backend.Completion(ctx, anyllm.CompletionParams{
				Model: model,
				Messages: []anyllm.Message{
					{Role: anyllm.RoleSystem, Content: systemPrompt},
					{Role: anyllm.RoleUser, Content: prompt},
				},
				Temperature: &temp,
			})
			if err != nil {
				return "", err
			}
			if len(resp.Choices) == 0 {
				return "", fmt.Errorf("empty choices in response")
			}
			return resp.Choices[0].Message.ContentString(), nil
		},
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// createBackend creates the underlying any-llm-go provider.
func createBackend(providerName string, opts ...anyllm.Option) (anyllm.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return openai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: openai, anthropic, gemini, ollama, mistral, groq", providerName)
	}
}

// Lookup asks for a risk assessment of target. The boolean is false when no
// usable result arrived within the timeout — callers proceed without one.
func (l *Lookup) Lookup(ctx context.Context, target string) (Risk, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	text, err := l.complete(ctx, "Assess: "+target)
	if err != nil {
		slog.Debug("risk lookup yielded no result", "target", target, "err", err)
		return Risk{Target: target, Level: LevelUnknown}, false
	}

	risk, err := parseRisk(target, text)
	if err != nil {
		slog.Debug("risk lookup returned unparseable answer", "target", target, "err", err)
		return Risk{Target: target, Level: LevelUnknown}, false
	}
	return risk, true
}

// parseRisk interprets the model's answer, tolerating a markdown code fence.
func parseRisk(target, text string) (Risk, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	var parsed struct {
		Level   string `json:"level"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &parsed); err != nil {
		return Risk{}, err
	}

	level := Level(strings.ToLower(parsed.Level))
	switch level {
	case LevelLow, LevelMedium, LevelHigh:
	default:
		level = LevelUnknown
	}
	return Risk{Target: target, Level: level, Summary: parsed.Summary}, nil
}
