package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"answer-desk/internal/model"
	"answer-desk/internal/service"

	"github.com/segmentio/kafka-go"
)

type stubOrchestrator struct {
	mu         sync.Mutex
	errFor     map[string]error
	exhaustErr error
	handled    []model.MessageEvent
	exhausted  []string
}

func (o *stubOrchestrator) HandleBatch(_ context.Context, events []model.MessageEvent) []error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handled = append(o.handled, events...)
	errs := make([]error, len(events))
	for i, ev := range events {
		errs[i] = o.errFor[ev.MessageID]
	}
	return errs
}

func (o *stubOrchestrator) Reconcile(context.Context, string) error { return nil }

func (o *stubOrchestrator) Exhaust(_ context.Context, messageID string, _ error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exhausted = append(o.exhausted, messageID)
	return o.exhaustErr
}

type memoryAttempts struct {
	counts map[string]int64
	err    error
}

func (a *memoryAttempts) Increment(_ context.Context, id string) (int64, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.counts[id]++
	return a.counts[id], nil
}

func (a *memoryAttempts) Reset(_ context.Context, id string) error {
	delete(a.counts, id)
	return nil
}

type recordingPublisher struct {
	events   []model.MessageEvent
	attempts int
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, value interface{}) error {
	p.attempts++
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, value.(model.MessageEvent))
	return nil
}

func kafkaMessage(t *testing.T, ev model.MessageEvent) kafka.Message {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafka.Message{Key: []byte(ev.MessageID), Value: data}
}

func TestProcessorSkipsMalformedMessages(t *testing.T) {
	orch := &stubOrchestrator{}
	p := NewProcessor(orch, &memoryAttempts{counts: map[string]int64{}}, &recordingPublisher{}, 3)

	pending := p.HandleBatch(context.Background(), []kafka.Message{
		{Value: []byte("not json")},
		kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m1", model.StateUnanswered)),
	})

	if len(orch.handled) != 1 || orch.handled[0].MessageID != "m1" {
		t.Fatalf("expected only the valid event to be handled, got %+v", orch.handled)
	}
	if len(pending) != 0 {
		t.Fatalf("malformed and handled messages can be committed, pending=%v", pending)
	}
}

func TestProcessorRequeuesUntilExhausted(t *testing.T) {
	orch := &stubOrchestrator{errFor: map[string]error{"m1": errors.New("nlp timeout")}}
	attempts := &memoryAttempts{counts: map[string]int64{}}
	pub := &recordingPublisher{}
	p := NewProcessor(orch, attempts, pub, 3)
	ctx := context.Background()

	batch := []kafka.Message{kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m1", model.StateUnanswered))}
	for i := 0; i < 2; i++ {
		if pending := p.HandleBatch(ctx, batch); len(pending) != 0 {
			t.Fatalf("requeued events can be committed, pending=%v", pending)
		}
	}

	if len(pub.events) != 2 || pub.events[1].Kind != model.EventRetry || pub.events[1].Attempt != 2 {
		t.Fatalf("expected two retry events, got %+v", pub.events)
	}
	if len(orch.exhausted) != 0 {
		t.Fatal("should not be exhausted before max attempts")
	}

	p.HandleBatch(ctx, batch)
	if len(orch.exhausted) != 1 || orch.exhausted[0] != "m1" {
		t.Fatalf("expected m1 to be exhausted, got %v", orch.exhausted)
	}
	if len(pub.events) != 2 {
		t.Fatal("exhausted events must not be requeued")
	}
	if _, ok := attempts.counts["m1"]; ok {
		t.Fatal("attempt counter should be reset after exhaustion")
	}
}

func TestProcessorDoesNotRetryPermanentErrors(t *testing.T) {
	permanent := fmt.Errorf("%w: bad recipient", service.ErrDispatchRejected)
	orch := &stubOrchestrator{errFor: map[string]error{"m1": permanent}}
	pub := &recordingPublisher{}
	p := NewProcessor(orch, &memoryAttempts{counts: map[string]int64{}}, pub, 3)

	p.HandleBatch(context.Background(), []kafka.Message{
		kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m1", model.StateApproved)),
	})

	if len(pub.events) != 0 || len(orch.exhausted) != 0 {
		t.Fatalf("permanent errors must be dropped, events=%v exhausted=%v", pub.events, orch.exhausted)
	}
}

func TestProcessorFallsBackToEventAttemptWithoutRedis(t *testing.T) {
	orch := &stubOrchestrator{errFor: map[string]error{"m1": errors.New("timeout")}}
	attempts := &memoryAttempts{counts: map[string]int64{}, err: errors.New("redis down")}
	pub := &recordingPublisher{}
	p := NewProcessor(orch, attempts, pub, 3)

	ev := model.NewMessageEvent(model.EventRetry, "m1", model.StateUnanswered)
	ev.Attempt = 2
	p.HandleBatch(context.Background(), []kafka.Message{kafkaMessage(t, ev)})

	if len(orch.exhausted) != 1 {
		t.Fatalf("event attempt counter should drive exhaustion, exhausted=%v", orch.exhausted)
	}
}

func TestProcessorResetsCounterOnSuccess(t *testing.T) {
	orch := &stubOrchestrator{}
	attempts := &memoryAttempts{counts: map[string]int64{"m1": 2}}
	p := NewProcessor(orch, attempts, &recordingPublisher{}, 3)

	p.HandleBatch(context.Background(), []kafka.Message{
		kafkaMessage(t, model.NewMessageEvent(model.EventRetry, "m1", model.StateUnanswered)),
	})
	if _, ok := attempts.counts["m1"]; ok {
		t.Fatal("counter should be reset after success")
	}
}

func TestProcessorHoldsEventWhenRequeueFails(t *testing.T) {
	orch := &stubOrchestrator{errFor: map[string]error{"m1": errors.New("nlp timeout")}}
	pub := &recordingPublisher{err: errors.New("broker unavailable")}
	p := NewProcessor(orch, &memoryAttempts{counts: map[string]int64{}}, pub, 3)

	ok := kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m0", model.StateUnanswered))
	failing := kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m1", model.StateUnanswered))
	pending := p.HandleBatch(context.Background(), []kafka.Message{ok, failing})

	if pub.attempts != 1 || len(orch.exhausted) != 0 {
		t.Fatalf("expected one failed requeue and no exhaustion, publish=%d exhausted=%v", pub.attempts, orch.exhausted)
	}
	if len(pending) != 1 || string(pending[0].Key) != "m1" {
		t.Fatalf("event that could not be requeued must stay uncommitted, pending=%v", pending)
	}
}

func TestProcessorHoldsBatchOnShutdown(t *testing.T) {
	orch := &stubOrchestrator{errFor: map[string]error{
		"m1": context.Canceled,
		"m2": fmt.Errorf("load message m2: %w", context.Canceled),
	}}
	attempts := &memoryAttempts{counts: map[string]int64{}}
	pub := &recordingPublisher{}
	p := NewProcessor(orch, attempts, pub, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pending := p.HandleBatch(ctx, []kafka.Message{
		kafkaMessage(t, model.NewMessageEvent(model.EventInsert, "m1", model.StateUnanswered)),
		kafkaMessage(t, model.NewMessageEvent(model.EventRetry, "m2", model.StateUnanswered)),
	})

	if len(pending) != 2 {
		t.Fatalf("interrupted events must stay uncommitted, pending=%v", pending)
	}
	if pub.attempts != 0 || len(orch.exhausted) != 0 || len(attempts.counts) != 0 {
		t.Fatalf("shutdown must not count attempts or requeue, publish=%d exhausted=%v counts=%v",
			pub.attempts, orch.exhausted, attempts.counts)
	}
}

func TestProcessorHoldsEventWhenExhaustFails(t *testing.T) {
	orch := &stubOrchestrator{
		errFor:     map[string]error{"m1": errors.New("timeout")},
		exhaustErr: errors.New("mysql unavailable"),
	}
	attempts := &memoryAttempts{counts: map[string]int64{"m1": 2}}
	p := NewProcessor(orch, attempts, &recordingPublisher{}, 3)

	pending := p.HandleBatch(context.Background(), []kafka.Message{
		kafkaMessage(t, model.NewMessageEvent(model.EventRetry, "m1", model.StateUnanswered)),
	})
	if len(pending) != 1 {
		t.Fatalf("event must be redelivered when exhaustion fails, pending=%v", pending)
	}
	if attempts.counts["m1"] != 3 {
		t.Fatalf("counter must survive a failed exhaustion, got %d", attempts.counts["m1"])
	}
}
