package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/pkg/es"
)

type stubSentimentClient struct {
	score float64
	err   error
}

func (c stubSentimentClient) Analyze(context.Context, string) (float64, error) {
	return c.score, c.err
}

type memorySentimentStore struct {
	records map[string]model.SentimentRecord
	writes  int
	err     error
}

func newMemorySentimentStore() *memorySentimentStore {
	return &memorySentimentStore{records: map[string]model.SentimentRecord{}}
}

func (s *memorySentimentStore) Put(_ context.Context, messageID string, r model.SentimentRecord) error {
	if s.err != nil {
		return s.err
	}
	s.writes++
	s.records[messageID] = r
	return nil
}

func TestSentimentPipelineRecordsScore(t *testing.T) {
	store := newMemorySentimentStore()
	p := NewSentimentPipeline(stubSentimentClient{score: 0.64}, store, 0)

	p.Record(context.Background(), "m1", "I love this")

	r, ok := store.records["m1"]
	if !ok || len(store.records) != 1 {
		t.Fatalf("expected one record for m1, got %+v", store.records)
	}
	if r.Sentence != "I love this" || r.Sentiment != 0.64 || r.Date.IsZero() {
		t.Fatalf("unexpected record: %+v", r)
	}
}

func TestSentimentPipelineKeepsOneRecordPerMessage(t *testing.T) {
	store := newMemorySentimentStore()
	p := NewSentimentPipeline(stubSentimentClient{score: -0.2}, store, 0)
	ctx := context.Background()

	// 同一条消息被重试处理三次
	for i := 0; i < 3; i++ {
		p.Record(ctx, "m1", "this is broken")
	}
	p.Record(ctx, "m2", "thanks")

	if len(store.records) != 2 {
		t.Fatalf("expected one record per message, got %d: %+v", len(store.records), store.records)
	}
}

func TestSentimentPipelineSwallowsFailures(t *testing.T) {
	store := newMemorySentimentStore()
	NewSentimentPipeline(stubSentimentClient{err: errors.New("down")}, store, 0).Record(context.Background(), "m1", "hi")
	if store.writes != 0 {
		t.Fatal("nothing should be stored when analysis fails")
	}

	failing := &memorySentimentStore{err: errors.New("es down")}
	NewSentimentPipeline(stubSentimentClient{score: 0.1}, failing, 0).Record(context.Background(), "m1", "hi")
}

func TestSentimentPipelineSkipsBlankText(t *testing.T) {
	store := newMemorySentimentStore()
	NewSentimentPipeline(stubSentimentClient{score: 0.1}, store, 0).Record(context.Background(), "m1", "   ")
	if store.writes != 0 {
		t.Fatal("blank text should be skipped")
	}
}

func TestSentimentStoreUsesMessageIDAsDocumentID(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Write([]byte(`{"result":"updated"}`))
	}))
	defer srv.Close()

	client, err := es.NewClient(config.ElasticsearchConfig{Addresses: srv.URL})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store := NewSentimentStore(client, "messages")
	for i := 0; i < 2; i++ {
		if err := store.Put(context.Background(), "m1", model.SentimentRecord{Sentence: "hi"}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if len(paths) != 2 || paths[0] != "PUT /messages/_doc/m1" || paths[1] != paths[0] {
		t.Fatalf("retries should overwrite the same document, got %v", paths)
	}
}
