package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/sitechat/internal/chat"
)

func TestToContentsMapsRoles(t *testing.T) {
	t.Parallel()

	contents, system, err := toContents([]chat.Message{
		{Role: chat.RoleSystem, Content: chat.SystemPrompt},
		{Role: chat.RoleUser, Content: "Do you ship?"},
		{Role: chat.RoleAssistant, Content: "Let me check.", ToolCall: &chat.ToolCall{ID: "c1", Name: chat.SearchToolName, Arguments: `{"query":"shipping"}`}},
		{Role: chat.RoleTool, Name: chat.SearchToolName, ToolCallID: "c1", Content: "Free shipping."},
	})
	require.NoError(t, err)

	require.NotNil(t, system)
	require.Equal(t, chat.SystemPrompt, system.Parts[0].Text)
	require.Len(t, contents, 3)

	require.Equal(t, "user", contents[0].Role)
	require.Equal(t, "Do you ship?", contents[0].Parts[0].Text)

	require.Equal(t, "model", contents[1].Role)
	require.Equal(t, "Let me check.", contents[1].Parts[0].Text)
	call := contents[1].Parts[1].FunctionCall
	require.Equal(t, "c1", call.ID)
	require.Equal(t, map[string]any{"query": "shipping"}, call.Args)

	require.Equal(t, "user", contents[2].Role)
	resp := contents[2].Parts[0].FunctionResponse
	require.Equal(t, chat.SearchToolName, resp.Name)
	require.Equal(t, map[string]any{"output": "Free shipping."}, resp.Response)
}

func TestToContentsRejectsMalformedToolArguments(t *testing.T) {
	t.Parallel()

	_, _, err := toContents([]chat.Message{
		{Role: chat.RoleUser, Content: "Do you ship?"},
		{Role: chat.RoleAssistant, ToolCall: &chat.ToolCall{ID: "c1", Name: chat.SearchToolName, Arguments: `{"query":`}},
	})
	require.ErrorContains(t, err, "decode search_context arguments")

	contents, _, err := toContents([]chat.Message{
		{Role: chat.RoleAssistant, ToolCall: &chat.ToolCall{ID: "c2", Name: chat.SearchToolName}},
	})
	require.NoError(t, err)
	require.Nil(t, contents[0].Parts[0].FunctionCall.Args)
}

func TestToConfigAdvertisesTools(t *testing.T) {
	t.Parallel()

	cfg := toConfig(chat.Request{
		Tools:       []chat.Tool{chat.SearchTool("example.com")},
		ToolMode:    chat.ToolModeAny,
		Temperature: 0.7,
	}, nil)

	require.InDelta(t, 0.7, *cfg.Temperature, 1e-6)
	require.Len(t, cfg.Tools, 1)
	decl := cfg.Tools[0].FunctionDeclarations[0]
	require.Equal(t, "search_context", decl.Name)
	require.Equal(t, genai.TypeObject, decl.Parameters.Type)
	require.Equal(t, genai.TypeString, decl.Parameters.Properties["query"].Type)
	require.Equal(t, []string{"query"}, decl.Parameters.Required)
	require.Equal(t, genai.FunctionCallingConfigModeAny, cfg.ToolConfig.FunctionCallingConfig.Mode)

	none := toConfig(chat.Request{ToolMode: chat.ToolModeNone}, nil)
	require.Empty(t, none.Tools)
	require.Equal(t, genai.FunctionCallingConfigModeNone, none.ToolConfig.FunctionCallingConfig.Mode)
}

func TestEventsFrom(t *testing.T) {
	t.Parallel()

	text := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: "Hel"}, {Text: "lo"}, {Text: "hidden", Thought: true}}},
	}}}
	require.Equal(t, []chat.Event{chat.EventContent{Text: "Hello"}}, eventsFrom(text))

	call := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{
			{Text: "Checking. "},
			{FunctionCall: &genai.FunctionCall{Name: "search_context", Args: map[string]any{"query": "boots"}}},
			{Text: "after"},
		}},
	}}}
	require.Equal(t, []chat.Event{chat.EventToolCall{
		Call: chat.ToolCall{Name: "search_context", Arguments: `{"query":"boots"}`},
		Text: "Checking. ",
	}}, eventsFrom(call))

	require.Empty(t, eventsFrom(&genai.GenerateContentResponse{}))
	require.Empty(t, eventsFrom(nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestStreamOverHTTP(t *testing.T) {
	t.Parallel()

	var body map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "streamGenerateContent")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, token := range []string{"Free ", "shipping."} {
			fmt.Fprintf(w, "data: {\"candidates\":[{\"content\":{\"role\":\"model\",\"parts\":[{\"text\":%q}]}}]}\n\n", token)
		}
	})

	var got []string
	for ev, err := range c.Stream(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleSystem, Content: "sys"}, {Role: chat.RoleUser, Content: "q"}},
		ToolMode: chat.ToolModeNone,
	}) {
		require.NoError(t, err)
		got = append(got, ev.(chat.EventContent).Text)
	}

	require.Equal(t, "Free shipping.", strings.Join(got, ""))
	require.Contains(t, body, "systemInstruction")
}

func TestEmbedOverHTTP(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Requests []json.RawMessage `json:"requests"`
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &req)

		embeddings := make([]map[string]any, len(req.Requests))
		for i := range embeddings {
			embeddings[i] = map[string]any{"values": []float32{float32(i), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": embeddings})
	})

	vectors, err := c.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{0, 1}, {1, 1}}, vectors)
	require.Equal(t, DefaultEmbeddingModel, c.Model())
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), Config{}, nil)
	require.Error(t, err)
}
