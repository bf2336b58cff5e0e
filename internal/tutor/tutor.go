// Package tutor generates conversation replies, practice sentences and
// answer evaluations with a chat-completion provider.
//
// Completion failures for replies and evaluations are logged and replaced
// by an apology so the conversation keeps flowing. Problem generation has
// nothing sensible to fall back to and returns the error instead.
package tutor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/parley/internal/observe"
	"github.com/MrWong99/parley/internal/speech"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/types"
)

const (
	// HistoryLimit is the number of prior log entries sent with a
	// conversation reply: five learner/tutor exchanges.
	HistoryLimit = 10

	// Temperature is the sampling temperature of every completion.
	Temperature = 0.5
)

// Generator is the response generator. It is safe for concurrent use.
type Generator struct {
	llm      llm.Provider
	provider string
	metrics  *observe.Metrics

	mu      sync.RWMutex
	prompts *compiled
	apology string
}

// Option configures a [Generator].
type Option func(*generatorConfig)

type generatorConfig struct {
	prompts  Prompts
	apology  string
	provider string
	metrics  *observe.Metrics
}

// WithPrompts overrides the prompt templates. Empty fields keep the defaults.
func WithPrompts(p Prompts) Option {
	return func(c *generatorConfig) { c.prompts = p }
}

// WithApology overrides [DefaultApology].
func WithApology(text string) Option {
	return func(c *generatorConfig) { c.apology = text }
}

// WithProviderName labels metrics and errors.
func WithProviderName(name string) Option {
	return func(c *generatorConfig) { c.provider = name }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *generatorConfig) { c.metrics = m }
}

// New creates a [Generator]. It fails only when a prompt template does not parse.
func New(p llm.Provider, opts ...Option) (*Generator, error) {
	cfg := generatorConfig{provider: "llm"}
	for _, o := range opts {
		o(&cfg)
	}
	tmpl, err := compile(cfg.prompts)
	if err != nil {
		return nil, err
	}
	if cfg.apology == "" {
		cfg.apology = DefaultApology
	}
	if cfg.metrics == nil {
		cfg.metrics = observe.DefaultMetrics()
	}
	return &Generator{
		llm:      p,
		provider: cfg.provider,
		metrics:  cfg.metrics,
		prompts:  tmpl,
		apology:  cfg.apology,
	}, nil
}

// SetPrompts swaps the prompt templates. On a parse error the current
// templates stay in place.
func (g *Generator) SetPrompts(p Prompts) error {
	tmpl, err := compile(p)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.prompts = tmpl
	g.mu.Unlock()
	return nil
}

// SetApology replaces the apology text. Empty restores [DefaultApology].
func (g *Generator) SetApology(text string) {
	if text == "" {
		text = DefaultApology
	}
	g.mu.Lock()
	g.apology = text
	g.mu.Unlock()
}

// Apology returns the text used in place of a failed reply.
func (g *Generator) Apology() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.apology
}

func (g *Generator) templates() *compiled {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.prompts
}

// GenerateReply sends system, the last [HistoryLimit] entries of history and
// input to the completion provider. An empty input is omitted. On failure
// the apology is returned and the error is logged.
func (g *Generator) GenerateReply(ctx context.Context, system, input string, history []types.Message) string {
	reply, err := g.complete(ctx, BuildMessages(system, input, history))
	if err != nil {
		observe.Logger(ctx).Warn("completion failed, sending apology", "provider", g.provider, "error", err)
		return g.Apology()
	}
	return reply
}

// Converse answers a free-conversation turn at the learner's level.
func (g *Generator) Converse(ctx context.Context, level, input string, history []types.Message) string {
	system, err := render(g.templates().conversation, levelData{Level: level})
	if err != nil {
		observe.Logger(ctx).Error("conversation prompt", "error", err)
		return g.Apology()
	}
	return g.GenerateReply(ctx, system, input, history)
}

// GenerateProblem creates one practice sentence for level. Unlike replies,
// a failed completion is returned as a [*speech.RemoteServiceError] because
// an apology cannot stand in for a practice sentence.
func (g *Generator) GenerateProblem(ctx context.Context, level string) (string, error) {
	system, err := render(g.templates().problem, levelData{Level: level})
	if err != nil {
		return "", err
	}
	out, err := g.complete(ctx, BuildMessages(system, "", nil))
	if err != nil {
		return "", &speech.RemoteServiceError{Op: "complete", Provider: g.provider, Err: err}
	}
	problem := strings.Trim(out, " \t\r\n\"“”")
	if problem == "" {
		return "", &speech.RemoteServiceError{Op: "complete", Provider: g.provider, Err: errors.New("empty practice sentence")}
	}
	return problem, nil
}

// GenerateEvaluation asks for free-text feedback comparing answer with
// reference. The result is for display only.
func (g *Generator) GenerateEvaluation(ctx context.Context, reference, answer string) string {
	system, err := render(g.templates().evaluation, evaluationData{Reference: reference, Answer: answer})
	if err != nil {
		observe.Logger(ctx).Error("evaluation prompt", "error", err)
		return g.Apology()
	}
	return g.GenerateReply(ctx, system, "", nil)
}

// BuildMessages assembles a completion request: the system instruction,
// then at most [HistoryLimit] of the most recent history entries, then the
// new input if non-empty.
func BuildMessages(system, input string, history []types.Message) []types.Message {
	if len(history) > HistoryLimit {
		history = history[len(history)-HistoryLimit:]
	}
	msgs := make([]types.Message, 0, len(history)+2)
	msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: system})
	msgs = append(msgs, history...)
	if input != "" {
		msgs = append(msgs, types.Message{Role: types.RoleUser, Content: input})
	}
	return msgs
}

func (g *Generator) complete(ctx context.Context, msgs []types.Message) (reply string, err error) {
	ctx, span := observe.StartSpan(ctx, "tutor.complete")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	resp, err := g.llm.Complete(ctx, llm.CompletionRequest{
		Messages:    msgs,
		Temperature: Temperature,
	})
	g.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = errors.New("empty completion")
	}
	if err != nil {
		g.metrics.RecordProviderRequest(ctx, g.provider, "llm", "error")
		g.metrics.RecordProviderError(ctx, g.provider, "llm")
		return "", err
	}
	g.metrics.RecordProviderRequest(ctx, g.provider, "llm", "ok")
	return strings.TrimSpace(resp.Content), nil
}
