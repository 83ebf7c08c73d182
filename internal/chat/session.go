package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/metrics"
	"github.com/JakeFAU/sitechat/internal/retriever"
)

const (
	// SystemPrompt seeds every conversation turn.
	SystemPrompt = "You are a helpful assistant. Be straightforward and helpful. Keep your answers short and to the point. You answer in the language spoken to you."
	// SearchToolName is the retrieval tool advertised to the model.
	SearchToolName = "search_context"
	// FailureMessage is the single fragment shown to the caller when a turn fails.
	FailureMessage = "Error processing your request."

	defaultTemperature = 0.7
)

var (
	// ErrToolArguments reports tool arguments that could not be used.
	ErrToolArguments = errors.New("invalid tool arguments")
	// ErrRetrieval reports a failed search tool invocation.
	ErrRetrieval = errors.New("retrieval failed")
)

// Searcher is the retrieval collaborator invoked by the search tool.
type Searcher interface {
	Search(ctx context.Context, domain, query string, k int) ([]retriever.Passage, error)
}

// Orchestrator creates per-domain sessions sharing one model and searcher.
type Orchestrator struct {
	model       Model
	searcher    Searcher
	logger      *zap.Logger
	temperature float32
	limit       int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithSearchLimit sets how many passages the tool returns.
func WithSearchLimit(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.limit = k
		}
	}
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(model Model, searcher Searcher, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		model:       model,
		searcher:    searcher,
		logger:      logger,
		temperature: defaultTemperature,
		limit:       retriever.DefaultLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Session returns the chat-ready handle for domain.
func (o *Orchestrator) Session(domain string) *Session {
	return &Session{o: o, domain: domain, logger: o.logger.With(zap.String("domain", domain))}
}

// Session answers questions about a single domain. It holds no per-turn state,
// so concurrent Ask calls are independent.
type Session struct {
	o      *Orchestrator
	domain string
	logger *zap.Logger
}

// Domain returns the domain the session answers for.
func (s *Session) Domain() string {
	return s.domain
}

// SearchTool returns the tool advertised for domain.
func SearchTool(domain string) Tool {
	return Tool{
		Name:        SearchToolName,
		Description: "Use this tool to get more context about what you don't know. This tool allows you to have access to all the data of the website " + domain,
		Parameters: []Parameter{{
			Name:        "query",
			Type:        "string",
			Description: "The search query to use for fetching data from the database",
			Required:    true,
		}},
	}
}

// Turn is the conversation built while answering one question.
type Turn struct {
	Messages []Message
}

// Ask streams the answer to question. Content fragments are yielded with a nil
// error as they arrive. A failed turn yields FailureMessage once with the
// cause and stops. Breaking out of the range releases the model stream.
func (s *Session) Ask(ctx context.Context, question string) iter.Seq2[string, error] {
	seq, _ := s.AskTurn(ctx, question)
	return seq
}

// AskTurn is Ask that also exposes the conversation. The turn is complete
// once the sequence has been fully consumed.
func (s *Session) AskTurn(ctx context.Context, question string) (iter.Seq2[string, error], *Turn) {
	turn := &Turn{Messages: []Message{
		{Role: RoleSystem, Content: SystemPrompt},
		{Role: RoleUser, Content: question},
	}}
	seq := func(yield func(string, error) bool) {
		s.run(ctx, turn, yield)
	}
	return seq, turn
}

func (s *Session) run(ctx context.Context, turn *Turn, yield func(string, error) bool) {
	first := Request{
		Messages:    turn.Messages,
		Tools:       []Tool{SearchTool(s.domain)},
		ToolMode:    ToolModeAny,
		Temperature: s.o.temperature,
	}

	var transcript strings.Builder
	var call *ToolCall
	for ev, err := range s.o.model.Stream(ctx, first) {
		if err != nil {
			s.fail(yield, fmt.Errorf("stream response: %w", err))
			return
		}
		switch e := ev.(type) {
		case EventContent:
			transcript.WriteString(e.Text)
			if !yield(e.Text, nil) {
				return
			}
		case EventToolCall:
			transcript.WriteString(e.Text)
			latched := e.Call
			call = &latched
		}
		if call != nil {
			break
		}
	}

	if call == nil {
		turn.Messages = append(turn.Messages, Message{Role: RoleAssistant, Content: transcript.String()})
		return
	}
	turn.Messages = append(turn.Messages, Message{Role: RoleAssistant, Content: transcript.String(), ToolCall: call})

	query, err := parseQuery(*call)
	if err != nil {
		metrics.ObserveToolCall("bad_arguments")
		s.fail(yield, err)
		return
	}

	passages, err := s.o.searcher.Search(ctx, s.domain, query, s.o.limit)
	if err != nil {
		metrics.ObserveToolCall("error")
		s.fail(yield, fmt.Errorf("%w: %w", ErrRetrieval, err))
		return
	}
	metrics.ObserveToolCall("ok")
	s.logger.Debug("search tool answered", zap.String("query", query), zap.Int("passages", len(passages)))

	turn.Messages = append(turn.Messages, Message{
		Role:       RoleTool,
		Name:       call.Name,
		Content:    passagesText(passages),
		ToolCallID: call.ID,
	})

	second := Request{
		Messages:    turn.Messages,
		ToolMode:    ToolModeNone,
		Temperature: s.o.temperature,
	}
	var answer strings.Builder
	for ev, err := range s.o.model.Stream(ctx, second) {
		if err != nil {
			s.fail(yield, fmt.Errorf("stream final response: %w", err))
			return
		}
		e, ok := ev.(EventContent)
		if !ok {
			continue
		}
		answer.WriteString(e.Text)
		if !yield(e.Text, nil) {
			return
		}
	}
	turn.Messages = append(turn.Messages, Message{Role: RoleAssistant, Content: answer.String()})
}

func (s *Session) fail(yield func(string, error) bool, err error) {
	s.logger.Warn("chat turn failed", zap.Error(err))
	yield(FailureMessage, err)
}

func parseQuery(call ToolCall) (string, error) {
	if call.Name != SearchToolName {
		return "", fmt.Errorf("%w: unknown tool %q", ErrToolArguments, call.Name)
	}
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return "", fmt.Errorf("%w: %w", ErrToolArguments, err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("%w: empty query", ErrToolArguments)
	}
	return args.Query, nil
}

func passagesText(passages []retriever.Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n")
}
