// Package service 提供了知识库检索相关的业务逻辑。
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"answer-desk/internal/model"
	"answer-desk/pkg/es"
	"answer-desk/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// KnowledgeService 接口定义了知识库的检索与写入。
type KnowledgeService interface {
	Search(ctx context.Context, query string, size int) ([]model.Candidate, error)
	Index(ctx context.Context, entry model.KnowledgeEntry) error
}

type knowledgeService struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(esClient *elasticsearch.Client, indexName string) KnowledgeService {
	return &knowledgeService{esClient: esClient, indexName: indexName}
}

// Search 用词干化后的文本匹配 question 字段，按相关度降序返回候选答案。
func (s *knowledgeService) Search(ctx context.Context, query string, size int) ([]model.Candidate, error) {
	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"match": map[string]interface{}{
				"question": query,
			},
		},
		"size": size,
	}

	hits, err := es.Search(ctx, s.esClient, s.indexName, esQuery)
	if err != nil {
		log.Errorf("[KnowledgeService] 检索知识库失败, query: '%s', error: %v", query, err)
		return nil, err
	}

	candidates := make([]model.Candidate, 0, len(hits))
	for _, hit := range hits {
		var entry model.KnowledgeEntry
		if err := json.Unmarshal(hit.Source, &entry); err != nil {
			return nil, fmt.Errorf("failed to decode knowledge entry %s: %w", hit.ID, err)
		}
		candidates = append(candidates, model.Candidate{
			Score:    hit.Score,
			Question: entry.Question,
			Answer:   entry.Answer,
		})
	}
	log.Infof("[KnowledgeService] 检索完成, query: '%s', 命中 %d 条", query, len(candidates))
	return candidates, nil
}

// Index 以问题哈希为 ID 写入一条问答，重复写入覆盖同一文档。
func (s *knowledgeService) Index(ctx context.Context, entry model.KnowledgeEntry) error {
	if err := es.IndexDocument(ctx, s.esClient, s.indexName, entry.DocumentID(), entry); err != nil {
		return fmt.Errorf("failed to index knowledge entry %s: %w", entry.DocumentID(), err)
	}
	return nil
}
