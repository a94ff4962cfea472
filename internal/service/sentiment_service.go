package service

import (
	"context"
	"strings"
	"time"

	"answer-desk/internal/model"
	"answer-desk/pkg/es"
	"answer-desk/pkg/log"
	"answer-desk/pkg/sentiment"

	"github.com/elastic/go-elasticsearch/v8"
)

// SentimentPipeline 对消息文本做情感打分并记录。它不返回错误：
// 失败只记日志，永远不影响消息状态机。每条消息至多保留一条记录。
type SentimentPipeline interface {
	Record(ctx context.Context, messageID, text string)
}

// SentimentStore 写入情感记录，同一 messageID 重复写入时覆盖。
type SentimentStore interface {
	Put(ctx context.Context, messageID string, record model.SentimentRecord) error
}

type esSentimentStore struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewSentimentStore 创建基于 Elasticsearch 的情感记录存储。
func NewSentimentStore(esClient *elasticsearch.Client, indexName string) SentimentStore {
	return &esSentimentStore{esClient: esClient, indexName: indexName}
}

// Put 以 messageID 作为文档 ID 写入，重试不会产生重复记录。
func (s *esSentimentStore) Put(ctx context.Context, messageID string, record model.SentimentRecord) error {
	return es.IndexDocument(ctx, s.esClient, s.indexName, messageID, record)
}

type sentimentPipeline struct {
	client  sentiment.Client
	store   SentimentStore
	timeout time.Duration
	now     func() time.Time
}

// NewSentimentPipeline 创建一个新的 SentimentPipeline 实例。
func NewSentimentPipeline(client sentiment.Client, store SentimentStore, timeout time.Duration) SentimentPipeline {
	return &sentimentPipeline{client: client, store: store, timeout: timeout, now: time.Now}
}

func (p *sentimentPipeline) Record(ctx context.Context, messageID, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	callCtx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	score, err := p.client.Analyze(callCtx, text)
	if err != nil {
		log.Warnf("[SentimentPipeline] 情感分析失败，已忽略: %v", err)
		return
	}

	record := model.SentimentRecord{Sentence: text, Sentiment: score, Date: p.now().UTC()}
	if err := p.store.Put(callCtx, messageID, record); err != nil {
		log.Warnf("[SentimentPipeline] 写入情感记录失败，已忽略, messageID: %s, error: %v", messageID, err)
		return
	}
	log.Infof("[SentimentPipeline] 情感分析完成, messageID: %s, score: %.4f", messageID, score)
}

// withTimeout 在 d > 0 时为外部调用设置超时。
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
