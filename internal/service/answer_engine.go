package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"answer-desk/internal/config"
	"answer-desk/internal/model"
	"answer-desk/internal/repository"
	"answer-desk/pkg/log"
	"answer-desk/pkg/nlp"
)

// Outcome 是置信度策略给出的结论。
type Outcome string

const (
	OutcomeAutoAnswer    Outcome = "auto_answer"
	OutcomeFallback      Outcome = "fallback"
	OutcomeNeedsApproval Outcome = "needs_approval"
)

// AnswerDecision 是对一条 unanswered 消息做出的决定。
type AnswerDecision struct {
	Outcome    Outcome
	State      model.AnswerState
	AnswerText string
	Relevant   bool
	Score      float64
	// Terminal 为 true 时消息已可发送。
	Terminal bool
	// Applied 为 false 表示条件写落空，其他处理者已推进了状态。
	Applied bool
}

// ApprovalRequester 将低置信度答案提交人工审核。
type ApprovalRequester interface {
	RequestApproval(ctx context.Context, req model.ApprovalRequest) error
}

// AnswerEngine 为 unanswered 消息计算答案并写入状态。
type AnswerEngine interface {
	Decide(ctx context.Context, msg *model.Message) (*AnswerDecision, error)
}

var punctuation = regexp.MustCompile(`[^\w\s]`)

// NormalizeText 去掉标点，只保留单词字符和空白。
func NormalizeText(text string) string {
	return punctuation.ReplaceAllString(text, "")
}

// TruncateQuery 按字符数截断检索串。
func TruncateQuery(text string, max int) string {
	text = strings.TrimSpace(text)
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}

// Classify 对按相关度排序的候选做置信度判定。分数相同时取排名在前的候选。
func Classify(candidates []model.Candidate, threshold float64) (Outcome, *model.Candidate) {
	if len(candidates) == 0 {
		return OutcomeFallback, nil
	}
	best := candidates[0]
	if best.Score >= threshold {
		return OutcomeAutoAnswer, &best
	}
	return OutcomeNeedsApproval, &best
}

type answerEngine struct {
	stemmer   nlp.Client
	knowledge KnowledgeService
	approvals ApprovalRequester
	repo      repository.MessageRepository
	answerCfg config.AnswerConfig
	timeouts  config.TimeoutConfig
	channelID string
}

// NewAnswerEngine 创建一个新的 AnswerEngine 实例。
func NewAnswerEngine(
	stemmer nlp.Client,
	knowledge KnowledgeService,
	approvals ApprovalRequester,
	repo repository.MessageRepository,
	cfg *config.Config,
) AnswerEngine {
	return &answerEngine{
		stemmer:   stemmer,
		knowledge: knowledge,
		approvals: approvals,
		repo:      repo,
		answerCfg: cfg.Answer,
		timeouts:  cfg.Timeouts,
		channelID: cfg.Slack.ChannelID,
	}
}

// Decide 依次执行去标点、词干化、截断、检索和置信度判定，然后以条件写推进状态。
// 低置信度时先发出审核提示再写 needs_approval：提示重复发出是无害的，
// 决定端的条件写保证只有一次生效。
func (e *answerEngine) Decide(ctx context.Context, msg *model.Message) (*AnswerDecision, error) {
	if msg.AnswerState != model.StateUnanswered {
		return nil, fmt.Errorf("message %s is %s, expected %s", msg.MessageID, msg.AnswerState, model.StateUnanswered)
	}

	normalized := NormalizeText(msg.RawText)

	stemCtx, cancel := withTimeout(ctx, e.timeouts.Stemmer)
	stemmed, err := e.stemmer.Stem(stemCtx, normalized)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("stem message %s: %w", msg.MessageID, err)
	}

	var candidates []model.Candidate
	query := TruncateQuery(stemmed, e.answerCfg.MaxQueryLength)
	if query != "" {
		searchCtx, cancel := withTimeout(ctx, e.timeouts.Search)
		candidates, err = e.knowledge.Search(searchCtx, query, e.answerCfg.CandidateSize)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("search knowledge base for %s: %w", msg.MessageID, err)
		}
	}

	outcome, best := Classify(candidates, e.answerCfg.ConfidenceThreshold)
	decision := &AnswerDecision{Outcome: outcome}
	if best != nil {
		decision.Score = best.Score
	}

	var transition model.Transition
	switch outcome {
	case OutcomeAutoAnswer:
		decision.State, decision.AnswerText, decision.Relevant, decision.Terminal = model.StateApproved, best.Answer, true, true
		transition = model.Transition{
			From: model.StateUnanswered, To: model.StateApproved,
			AnswerText: model.StringPtr(best.Answer), Resolution: model.ResolutionAuto, Relevant: model.BoolPtr(true),
		}
	case OutcomeFallback:
		decision.State, decision.AnswerText, decision.Relevant, decision.Terminal = model.StateRejected, e.answerCfg.FallbackText, false, true
		transition = model.Transition{
			From: model.StateUnanswered, To: model.StateRejected,
			AnswerText: model.StringPtr(e.answerCfg.FallbackText), Resolution: model.ResolutionAuto, Relevant: model.BoolPtr(false),
		}
	case OutcomeNeedsApproval:
		decision.State, decision.AnswerText = model.StateNeedsApproval, best.Answer
		req := model.ApprovalRequest{
			MessageID:      msg.MessageID,
			Question:       normalized,
			ProposedAnswer: best.Answer,
			Destination:    e.channelID,
		}
		if err := e.approvals.RequestApproval(ctx, req); err != nil {
			return nil, fmt.Errorf("request approval for %s: %w", msg.MessageID, err)
		}
		transition = model.Transition{
			From: model.StateUnanswered, To: model.StateNeedsApproval,
			AnswerText: model.StringPtr(best.Answer),
		}
	}

	applied, err := e.repo.Transition(ctx, msg.MessageID, transition)
	if err != nil {
		return nil, fmt.Errorf("write %s for %s: %w", transition.To, msg.MessageID, err)
	}
	decision.Applied = applied
	if !applied {
		log.Warnf("[AnswerEngine] 条件写落空，消息已被其他处理者推进, messageID: %s", msg.MessageID)
		return decision, nil
	}

	log.Infow("[AnswerEngine] 状态迁移",
		"messageID", msg.MessageID,
		"from", model.StateUnanswered,
		"to", decision.State,
		"outcome", outcome,
		"score", decision.Score,
		"query", query,
	)
	return decision, nil
}
