package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"answer-desk/internal/model"
)

type memoryKnowledge struct {
	mu       sync.Mutex
	entries  map[string]model.KnowledgeEntry
	failOn   string
	inFlight int32
	maxSeen  int32
}

func newMemoryKnowledge() *memoryKnowledge {
	return &memoryKnowledge{entries: map[string]model.KnowledgeEntry{}}
}

func (k *memoryKnowledge) Search(context.Context, string, int) ([]model.Candidate, error) {
	return nil, nil
}

func (k *memoryKnowledge) Index(_ context.Context, e model.KnowledgeEntry) error {
	cur := atomic.AddInt32(&k.inFlight, 1)
	defer atomic.AddInt32(&k.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&k.maxSeen)
		if cur <= prev || atomic.CompareAndSwapInt32(&k.maxSeen, prev, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	if e.Question == k.failOn {
		return errors.New("index failed")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.entries[e.DocumentID()] = e
	return nil
}

type memoryObjects map[string]string

func (m memoryObjects) Open(_ context.Context, bucket, object string) (io.ReadCloser, error) {
	body, ok := m[bucket+"/"+object]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestLoadIndexesWithBoundedConcurrency(t *testing.T) {
	k := newMemoryKnowledge()
	l := NewKnowledgeLoader(k, nil, 5)

	var entries []model.KnowledgeEntry
	for i := 0; i < 20; i++ {
		entries = append(entries, model.KnowledgeEntry{Question: strings.Repeat("q", i+1), Answer: "a"})
	}
	n, err := l.Load(context.Background(), entries)
	if err != nil || n != 20 {
		t.Fatalf("load: n=%d err=%v", n, err)
	}
	if atomic.LoadInt32(&k.maxSeen) > 5 {
		t.Fatalf("concurrency exceeded: %d", k.maxSeen)
	}
}

func TestLoadIsIdempotentByQuestion(t *testing.T) {
	k := newMemoryKnowledge()
	l := NewKnowledgeLoader(k, nil, 5)
	entries := []model.KnowledgeEntry{{Question: "hi", Answer: "a"}, {Question: "hi", Answer: "b"}}

	if _, err := l.Load(context.Background(), entries); err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(k.entries) != 1 {
		t.Fatalf("same question must map to one document, got %d", len(k.entries))
	}
}

func TestLoadSkipsIncompleteAndReportsFailure(t *testing.T) {
	k := newMemoryKnowledge()
	k.failOn = "bad"
	l := NewKnowledgeLoader(k, nil, 5)

	_, err := l.Load(context.Background(), []model.KnowledgeEntry{
		{Question: "", Answer: "a"},
		{Question: "bad", Answer: "a"},
	})
	if err == nil {
		t.Fatal("expected index failure to be reported")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	if err := os.WriteFile(path, []byte(`[{"question":"q1","answer":"a1"},{"question":"q2","answer":"a2"}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	n, err := NewKnowledgeLoader(newMemoryKnowledge(), nil, 5).LoadFile(context.Background(), path)
	if err != nil || n != 2 {
		t.Fatalf("load file: n=%d err=%v", n, err)
	}
}

func TestLoadObject(t *testing.T) {
	objects := memoryObjects{"kb/knowledgebase.json": `[{"question":"q1","answer":"a1"}]`}
	l := NewKnowledgeLoader(newMemoryKnowledge(), objects, 5)

	n, err := l.LoadObject(context.Background(), "kb", "knowledgebase.json")
	if err != nil || n != 1 {
		t.Fatalf("load object: n=%d err=%v", n, err)
	}
	if _, err := l.LoadObject(context.Background(), "kb", "missing.json"); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := NewKnowledgeLoader(newMemoryKnowledge(), nil, 5).LoadObject(context.Background(), "kb", "x"); err == nil {
		t.Fatal("expected error without object storage")
	}
}
