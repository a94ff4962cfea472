package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/pkg/slack"
)

func testConfig() *config.Config {
	return &config.Config{
		Answer: config.AnswerConfig{
			ConfidenceThreshold: 0.02,
			MaxQueryLength:      230,
			CandidateSize:       5,
			FallbackText:        config.DefaultFallbackText,
			RejectionText:       config.DefaultRejectionText,
		},
		Orchestrator: config.OrchestratorConfig{
			Concurrency:      5,
			DispatchAttempts: 3,
			DispatchBackoff:  time.Millisecond,
		},
		Slack:     config.SlackConfig{WebhookURL: "http://slack.test/hook", ChannelID: "C-moderation"},
		Messenger: config.MessengerConfig{PageID: "page-1"},
	}
}

// fakeMessageRepo 是内存版的 MessageRepository，条件写语义与数据库实现一致。
type fakeMessageRepo struct {
	mu       sync.Mutex
	messages map[string]*model.Message
	failures map[string]string
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{messages: map[string]*model.Message{}, failures: map[string]string{}}
}

func (r *fakeMessageRepo) Create(_ context.Context, msg *model.Message) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[msg.MessageID]; ok {
		return false, nil
	}
	cp := *msg
	r.messages[msg.MessageID] = &cp
	return true, nil
}

func (r *fakeMessageRepo) FindByID(_ context.Context, messageID string) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok {
		return nil, repository.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (r *fakeMessageRepo) Transition(_ context.Context, messageID string, t model.Transition) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok || msg.AnswerState != t.From {
		return false, nil
	}
	msg.AnswerState = t.To
	if t.AnswerText != nil {
		msg.AnswerText = model.StringPtr(*t.AnswerText)
	}
	if t.Resolution != "" {
		msg.Resolution = t.Resolution
	}
	if t.Relevant != nil {
		msg.Relevant = model.BoolPtr(*t.Relevant)
	}
	if t.Reason != "" {
		msg.FailureReason = t.Reason
	}
	return true, nil
}

func (r *fakeMessageRepo) MarkDispatched(_ context.Context, messageID string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.messages[messageID]
	if !ok || msg.Dispatched {
		return false, nil
	}
	msg.Dispatched = true
	msg.DispatchedAt = &at
	return true, nil
}

func (r *fakeMessageRepo) RecordFailure(_ context.Context, messageID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[messageID] = reason
	if msg, ok := r.messages[messageID]; ok {
		msg.FailureReason = reason
	}
	return nil
}

func (r *fakeMessageRepo) FindRecentByChannel(_ context.Context, channelID string, limit int) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Message
	for _, msg := range r.messages {
		if msg.ChannelID == channelID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeMessageRepo) seed(msg model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := msg
	r.messages[msg.MessageID] = &cp
}

func (r *fakeMessageRepo) get(id string) model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.messages[id]
}

type fakeStemmer struct {
	err   error
	calls int32
}

// Stem 原样返回输入。
func (s *fakeStemmer) Stem(_ context.Context, sentence string) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return "", s.err
	}
	return sentence, nil
}

type fakeKnowledge struct {
	mu         sync.Mutex
	candidates []model.Candidate
	err        error
	queries    []string
}

func (k *fakeKnowledge) Search(_ context.Context, query string, _ int) ([]model.Candidate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.queries = append(k.queries, query)
	return k.candidates, k.err
}

func (k *fakeKnowledge) Index(context.Context, model.KnowledgeEntry) error { return nil }

type fakePoster struct {
	mu    sync.Mutex
	posts []slack.Message
	err   error
}

func (p *fakePoster) PostMessage(_ context.Context, _ string, msg slack.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.posts = append(p.posts, msg)
	return nil
}

func (p *fakePoster) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.posts)
}

type fakePendingRepo struct {
	mu      sync.Mutex
	pending map[string]repository.PendingApproval
}

func newFakePendingRepo() *fakePendingRepo {
	return &fakePendingRepo{pending: map[string]repository.PendingApproval{}}
}

func (r *fakePendingRepo) Save(_ context.Context, p repository.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[p.MessageID] = p
	return nil
}

func (r *fakePendingRepo) Get(_ context.Context, messageID string) (*repository.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[messageID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *fakePendingRepo) Delete(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, messageID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []model.MessageEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, _ string, value interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if ev, ok := value.(model.MessageEvent); ok {
		p.events = append(p.events, ev)
	}
	return nil
}

func (p *fakePublisher) kinds() []model.EventKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.EventKind
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type sentMessage struct {
	recipient string
	text      string
}

// fakeDispatcher 按顺序返回 errs 中的错误，之后全部成功。
type fakeDispatcher struct {
	mu       sync.Mutex
	errs     []error
	sent     []sentMessage
	attempts int
	delay    time.Duration

	inFlight    int32
	maxInFlight int32
}

func (d *fakeDispatcher) Dispatch(_ context.Context, recipientID, text string) error {
	cur := atomic.AddInt32(&d.inFlight, 1)
	defer atomic.AddInt32(&d.inFlight, -1)
	for {
		prev := atomic.LoadInt32(&d.maxInFlight)
		if cur <= prev || atomic.CompareAndSwapInt32(&d.maxInFlight, prev, cur) {
			break
		}
	}
	if d.delay > 0 {
		time.Sleep(d.delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts++
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return err
		}
	}
	d.sent = append(d.sent, sentMessage{recipient: recipientID, text: text})
	return nil
}

func (d *fakeDispatcher) sentTo(recipient string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, s := range d.sent {
		if s.recipient == recipient {
			out = append(out, s.text)
		}
	}
	return out
}

type fakeSentiment struct {
	mu    sync.Mutex
	ids   []string
	texts []string
}

func (s *fakeSentiment) Record(_ context.Context, messageID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, messageID)
	s.texts = append(s.texts, text)
}

type fakeNotifier struct {
	mu      sync.Mutex
	notices []model.OperatorNotice
}

func (n *fakeNotifier) Notify(_ context.Context, notice model.OperatorNotice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notices)
}

// harness 把真实的引擎、网关和编排器接到内存依赖上。
type harness struct {
	cfg        *config.Config
	repo       *fakeMessageRepo
	stemmer    *fakeStemmer
	knowledge  *fakeKnowledge
	poster     *fakePoster
	pending    *fakePendingRepo
	publisher  *fakePublisher
	dispatcher *fakeDispatcher
	sentiment  *fakeSentiment
	notifier   *fakeNotifier

	gateway      ApprovalGateway
	engine       AnswerEngine
	orchestrator Orchestrator
	messages     MessageService
}

func newHarness() *harness {
	h := &harness{
		cfg:        testConfig(),
		repo:       newFakeMessageRepo(),
		stemmer:    &fakeStemmer{},
		knowledge:  &fakeKnowledge{},
		poster:     &fakePoster{},
		pending:    newFakePendingRepo(),
		publisher:  &fakePublisher{},
		dispatcher: &fakeDispatcher{},
		sentiment:  &fakeSentiment{},
		notifier:   &fakeNotifier{},
	}
	h.gateway = NewApprovalGateway(h.repo, h.pending, h.poster, h.publisher, h.cfg)
	h.engine = NewAnswerEngine(h.stemmer, h.knowledge, h.gateway, h.repo, h.cfg)
	h.orchestrator = NewOrchestrator(h.repo, h.engine, h.sentiment, h.dispatcher, h.notifier, h.cfg)
	h.messages = NewMessageService(h.repo, h.publisher, h.notifier, h.cfg)
	return h
}

func unanswered(id, sender, text string) model.Message {
	return model.Message{
		MessageID:   id,
		ChannelID:   "page-1",
		SenderID:    sender,
		RawText:     text,
		ReceivedAt:  time.Now().UTC(),
		AnswerState: model.StateUnanswered,
	}
}
