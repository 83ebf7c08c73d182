package elasticsearch_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/vectorstore"
	"github.com/JakeFAU/sitechat/internal/vectorstore/elasticsearch"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

// mockTransport answers every request with the response produced by fn and
// records what was sent.
type mockTransport struct {
	mu       sync.Mutex
	requests []recordedRequest
	fn       func(req *http.Request) (int, string)
}

func (t *mockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
	}
	t.mu.Lock()
	t.requests = append(t.requests, recordedRequest{Method: req.Method, Path: req.URL.Path, Body: string(body)})
	t.mu.Unlock()

	status, payload := t.fn(req)
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewBufferString(payload)),
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}, "Content-Type": []string{"application/json"}},
		Request:    req,
	}, nil
}

func (t *mockTransport) last() recordedRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requests[len(t.requests)-1]
}

func newStore(t *testing.T, fn func(req *http.Request) (int, string)) (*elasticsearch.Store, *mockTransport) {
	t.Helper()
	transport := &mockTransport{fn: fn}
	client, err := es.NewClient(es.Config{Transport: transport})
	require.NoError(t, err)
	return elasticsearch.New(client, "sitechat-", zap.NewNop()), transport
}

func TestExists(t *testing.T) {
	t.Parallel()

	store, transport := newStore(t, func(req *http.Request) (int, string) {
		if strings.Contains(req.URL.Path, "example_com") {
			return http.StatusOK, ""
		}
		return http.StatusNotFound, ""
	})

	ok, err := store.Exists(context.Background(), "example_com")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, http.MethodHead, transport.last().Method)
	require.Equal(t, "/sitechat-example_com", transport.last().Path)

	ok, err = store.Exists(context.Background(), "other_org")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateSendsDenseVectorMapping(t *testing.T) {
	t.Parallel()

	store, transport := newStore(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"acknowledged":true}`
	})

	require.NoError(t, store.Create(context.Background(), "example_com", 768))

	req := transport.last()
	require.Equal(t, http.MethodPut, req.Method)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	props := body["mappings"].(map[string]any)["properties"].(map[string]any)
	embedding := props["embedding"].(map[string]any)
	require.Equal(t, "dense_vector", embedding["type"])
	require.EqualValues(t, 768, embedding["dims"])
	require.Equal(t, "cosine", embedding["similarity"])
}

func TestCreateToleratesExistingIndex(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, func(*http.Request) (int, string) {
		return http.StatusBadRequest, `{"error":{"type":"resource_already_exists_exception"},"status":400}`
	})
	require.NoError(t, store.Create(context.Background(), "example_com", 3))
}

func TestUpsertWritesBulkNDJSON(t *testing.T) {
	t.Parallel()

	store, transport := newStore(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"errors":false,"items":[]}`
	})

	err := store.Upsert(context.Background(), "example_com", []vectorstore.Point{
		{ID: "a", Vector: []float32{1, 0}, Text: "hello", SourceURL: "https://example.com/"},
		{ID: "b", Vector: []float32{0, 1}, Text: "world", SourceURL: "https://example.com/b"},
	})
	require.NoError(t, err)

	req := transport.last()
	require.Equal(t, "/sitechat-example_com/_bulk", req.Path)
	lines := strings.Split(strings.TrimSpace(req.Body), "\n")
	require.Len(t, lines, 4)
	require.JSONEq(t, `{"index":{"_id":"a"}}`, lines[0])
	require.JSONEq(t, `{"text":"hello","source_url":"https://example.com/","embedding":[1,0]}`, lines[1])
}

func TestBulkItemFailureIsReported(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"errors":true,"items":[{"index":{"_id":"a","status":400,"error":{"type":"mapper_parsing_exception"}}}]}`
	})

	err := store.Upsert(context.Background(), "example_com", []vectorstore.Point{{ID: "a", Vector: []float32{1}}})
	require.ErrorContains(t, err, "mapper_parsing_exception")
}

func TestDeleteIgnoresMissingDocuments(t *testing.T) {
	t.Parallel()

	store, transport := newStore(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"errors":true,"items":[{"delete":{"_id":"gone","status":404}}]}`
	})

	require.NoError(t, store.Delete(context.Background(), "example_com", []string{"gone"}))
	require.JSONEq(t, `{"delete":{"_id":"gone"}}`, strings.TrimSpace(transport.last().Body))
}

func TestQueryRunsKNNSearch(t *testing.T) {
	t.Parallel()

	store, transport := newStore(t, func(*http.Request) (int, string) {
		return http.StatusOK, `{"hits":{"hits":[
			{"_id":"a","_score":0.98,"_source":{"text":"shoes","source_url":"https://example.com/"}},
			{"_id":"b","_score":0.71,"_source":{"text":"boots","source_url":"https://example.com/b"}}
		]}}`
	})

	hits, err := store.Query(context.Background(), "example_com", []float32{0.5, 0.5}, 2)
	require.NoError(t, err)
	require.Equal(t, []vectorstore.Hit{
		{ID: "a", Text: "shoes", SourceURL: "https://example.com/", Score: 0.98},
		{ID: "b", Text: "boots", SourceURL: "https://example.com/b", Score: 0.71},
	}, hits)

	req := transport.last()
	require.Equal(t, "/sitechat-example_com/_search", req.Path)
	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	knn := body["knn"].(map[string]any)
	require.Equal(t, "embedding", knn["field"])
	require.EqualValues(t, 2, knn["k"])
	require.EqualValues(t, 100, knn["num_candidates"])
}

func TestQueryMissingIndex(t *testing.T) {
	t.Parallel()

	store, _ := newStore(t, func(*http.Request) (int, string) {
		return http.StatusNotFound, `{"error":{"type":"index_not_found_exception"},"status":404}`
	})

	_, err := store.Query(context.Background(), "example_com", []float32{1}, 5)
	require.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}
