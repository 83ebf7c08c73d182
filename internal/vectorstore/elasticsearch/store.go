// Package elasticsearch stores chunk embeddings in Elasticsearch dense_vector
// indices and answers similarity queries with kNN search.
package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitechat/internal/vectorstore"
)

const (
	vectorField     = "embedding"
	minCandidates   = 100
	candidateFactor = 10
)

// Config describes how to reach the cluster.
type Config struct {
	Addresses   []string
	Username    string
	Password    string
	IndexPrefix string
	MaxRetries  int
}

// Store implements vectorstore.Store on top of an Elasticsearch cluster.
type Store struct {
	client *es.Client
	prefix string
	logger *zap.Logger
}

// NewClient builds a go-elasticsearch client from cfg.
func NewClient(cfg Config) (*es.Client, error) {
	addresses := make([]string, 0, len(cfg.Addresses))
	for _, addr := range cfg.Addresses {
		if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
			addr = "http://" + addr
		}
		addresses = append(addresses, addr)
	}
	client, err := es.NewClient(es.Config{
		Addresses:  addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return client, nil
}

// New wraps an existing client. prefix is prepended to every index name.
func New(client *es.Client, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) index(collection string) string {
	return strings.ToLower(s.prefix + collection)
}

// Exists reports whether the collection's index exists.
func (s *Store) Exists(ctx context.Context, collection string) (bool, error) {
	res, err := s.client.Indices.Exists([]string{s.index(collection)}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", s.index(collection), err)
	}
	defer s.close(res)

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("check index %s: %s", s.index(collection), res.String())
	}
}

// Create makes the index with a cosine dense_vector mapping of dimension dim.
func (s *Store) Create(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("create %s: dimension must be positive", collection)
	}
	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				vectorField: map[string]any{
					"type":       "dense_vector",
					"dims":       dim,
					"index":      true,
					"similarity": "cosine",
				},
				"text":       map[string]any{"type": "text"},
				"source_url": map[string]any{"type": "keyword"},
			},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(mapping); err != nil {
		return fmt.Errorf("encode mapping: %w", err)
	}

	idx := s.index(collection)
	res, err := s.client.Indices.Create(
		idx,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(&buf),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", idx, err)
	}
	defer s.close(res)

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		if strings.Contains(string(body), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index %s: [%d] %s", idx, res.StatusCode, string(body))
	}
	s.logger.Info("created vector index", zap.String("index", idx), zap.Int("dims", dim))
	return nil
}

type document struct {
	Text      string    `json:"text"`
	SourceURL string    `json:"source_url"`
	Embedding []float32 `json:"embedding"`
}

// Upsert indexes points by id using the bulk API.
func (s *Store) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range points {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_id": p.ID}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(document{Text: p.Text, SourceURL: p.SourceURL, Embedding: p.Vector}); err != nil {
			return fmt.Errorf("encode document %s: %w", p.ID, err)
		}
	}
	return s.bulk(ctx, collection, &buf)
}

// Delete removes points by id. Ids that are not present are ignored.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"delete": map[string]any{"_id": id}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
	}
	return s.bulk(ctx, collection, &buf)
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string          `json:"_id"`
		Status int             `json:"status"`
		Error  json.RawMessage `json:"error"`
	} `json:"items"`
}

func (s *Store) bulk(ctx context.Context, collection string, body io.Reader) error {
	idx := s.index(collection)
	res, err := s.client.Bulk(
		body,
		s.client.Bulk.WithContext(ctx),
		s.client.Bulk.WithIndex(idx),
		s.client.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return fmt.Errorf("bulk %s: %w", idx, err)
	}
	defer s.close(res)

	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("bulk %s: %w", idx, vectorstore.ErrCollectionNotFound)
	}
	if res.IsError() {
		return fmt.Errorf("bulk %s: %s", idx, res.String())
	}

	var decoded bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !decoded.Errors {
		return nil
	}
	for _, item := range decoded.Items {
		for op, result := range item {
			if op == "delete" && result.Status == http.StatusNotFound {
				continue
			}
			if result.Status >= http.StatusMultipleChoices {
				return fmt.Errorf("bulk %s %s %s: [%d] %s", idx, op, result.ID, result.Status, string(result.Error))
			}
		}
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string   `json:"_id"`
			Score  float64  `json:"_score"`
			Source document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query runs an approximate kNN search for the k nearest points.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, k int) ([]vectorstore.Hit, error) {
	if k <= 0 {
		k = 1
	}
	query := map[string]any{
		"size": k,
		"knn": map[string]any{
			"field":          vectorField,
			"query_vector":   vector,
			"k":              k,
			"num_candidates": max(k*candidateFactor, minCandidates),
		},
		"_source": []string{"text", "source_url"},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(query); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	idx := s.index(collection)
	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(idx),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", idx, err)
	}
	defer s.close(res)

	if res.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("search %s: %w", idx, vectorstore.ErrCollectionNotFound)
	}
	if res.IsError() {
		return nil, fmt.Errorf("search %s: %s", idx, res.String())
	}

	var decoded searchResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	hits := make([]vectorstore.Hit, 0, len(decoded.Hits.Hits))
	for _, h := range decoded.Hits.Hits {
		hits = append(hits, vectorstore.Hit{
			ID:        h.ID,
			Text:      h.Source.Text,
			SourceURL: h.Source.SourceURL,
			Score:     h.Score,
		})
	}
	return hits, nil
}

func (s *Store) close(res *esapi.Response) {
	if err := res.Body.Close(); err != nil {
		s.logger.Warn("close elasticsearch response", zap.Error(err))
	}
}
