// Package gemini adapts Google Gemini to the chat model and embedder contracts.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/sitechat/internal/chat"
	"github.com/JakeFAU/sitechat/internal/crawler"
)

const (
	// DefaultChatModel is used when no chat model is configured.
	DefaultChatModel = "gemini-2.5-flash"
	// DefaultEmbeddingModel is used when no embedding model is configured.
	DefaultEmbeddingModel = "text-embedding-004"

	embedBatch = 100
)

var (
	_ chat.Model       = (*Client)(nil)
	_ crawler.Embedder = (*Client)(nil)
)

// Config configures the Gemini client.
type Config struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	// BaseURL overrides the API endpoint.
	BaseURL string
}

// Client implements chat.Model and crawler.Embedder.
type Client struct {
	client     *genai.Client
	chatModel  string
	embedModel string
	logger     *zap.Logger
}

// NewClient connects to the Gemini API.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: api key required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("connect to gemini: %w", err)
	}
	return New(client, cfg.ChatModel, cfg.EmbeddingModel, logger), nil
}

// New wraps an existing genai client.
func New(client *genai.Client, chatModel, embeddingModel string, logger *zap.Logger) *Client {
	if chatModel == "" {
		chatModel = DefaultChatModel
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{client: client, chatModel: chatModel, embedModel: embeddingModel, logger: logger}
}

// Model returns the embedding model name.
func (c *Client) Model() string {
	return c.embedModel
}

// Embed returns one vector per text, batching requests.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedBatch {
		end := min(start+embedBatch, len(texts))
		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
		resp, err := c.client.Models.EmbedContent(ctx, c.embedModel, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("embed content: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			vectors = append(vectors, e.Values)
		}
	}
	return vectors, nil
}

// Stream opens a streaming completion and converts each response into chat events.
func (c *Client) Stream(ctx context.Context, req chat.Request) iter.Seq2[chat.Event, error] {
	return func(yield func(chat.Event, error) bool) {
		contents, system, err := toContents(req.Messages)
		if err != nil {
			yield(nil, err)
			return
		}
		cfg := toConfig(req, system)
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.chatModel, contents, cfg) {
			if err != nil {
				yield(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			for _, ev := range eventsFrom(resp) {
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func toContents(messages []chat.Message) ([]*genai.Content, *genai.Content, error) {
	var system *genai.Content
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			system = genai.NewContentFromText(m.Content, genai.RoleUser)
		case chat.RoleUser:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case chat.RoleAssistant:
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, &genai.Part{Text: m.Content})
			}
			if m.ToolCall != nil {
				var args map[string]any
				if m.ToolCall.Arguments != "" {
					if err := json.Unmarshal([]byte(m.ToolCall.Arguments), &args); err != nil {
						return nil, nil, fmt.Errorf("decode %s arguments: %w", m.ToolCall.Name, err)
					}
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   m.ToolCall.ID,
					Name: m.ToolCall.Name,
					Args: args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case chat.RoleTool:
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: map[string]any{"output": m.Content},
				},
			}}, genai.RoleUser))
		}
	}
	return contents, system, nil
}

func toConfig(req chat.Request, system *genai.Content) *genai.GenerateContentConfig {
	temp := req.Temperature
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: system,
		Temperature:       &temp,
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, toDeclaration(t))
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	mode := genai.FunctionCallingConfigModeAny
	if req.ToolMode == chat.ToolModeNone {
		mode = genai.FunctionCallingConfigModeNone
	}
	if len(req.Tools) > 0 || req.ToolMode == chat.ToolModeNone {
		cfg.ToolConfig = &genai.ToolConfig{FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode}}
	}
	return cfg
}

func toDeclaration(t chat.Tool) *genai.FunctionDeclaration {
	schema := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(t.Parameters)),
	}
	for _, p := range t.Parameters {
		schema.Properties[p.Name] = &genai.Schema{
			Type:        genai.Type(strings.ToUpper(p.Type)),
			Description: p.Description,
		}
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  schema,
	}
}

// eventsFrom converts one streamed response. Text parts become content events
// until a function call appears; the call carries the text seen alongside it.
func eventsFrom(resp *genai.GenerateContentResponse) []chat.Event {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	var events []chat.Event
	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}
			return append(events, chat.EventToolCall{
				Call: chat.ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
				Text: text.String(),
			})
		}
		if part.Text != "" {
			text.WriteString(part.Text)
		}
	}
	if text.Len() > 0 {
		events = append(events, chat.EventContent{Text: text.String()})
	}
	return events
}
