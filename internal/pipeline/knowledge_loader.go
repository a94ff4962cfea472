package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"answer-desk/internal/model"
	"answer-desk/internal/service"
	"answer-desk/pkg/log"

	"golang.org/x/sync/errgroup"
)

// ObjectOpener 从对象存储读取知识库文件，由 storage.Store 实现。
type ObjectOpener interface {
	Open(ctx context.Context, bucket, object string) (io.ReadCloser, error)
}

// KnowledgeLoader 将问答对批量写入知识库索引。
type KnowledgeLoader struct {
	knowledge   service.KnowledgeService
	objects     ObjectOpener
	concurrency int
}

// NewKnowledgeLoader 创建一个新的 KnowledgeLoader 实例，objects 可为 nil。
func NewKnowledgeLoader(knowledge service.KnowledgeService, objects ObjectOpener, concurrency int) *KnowledgeLoader {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &KnowledgeLoader{knowledge: knowledge, objects: objects, concurrency: concurrency}
}

// Load 并发写入问答对，跳过问题或答案为空的条目。返回成功写入的条数。
func (l *KnowledgeLoader) Load(ctx context.Context, entries []model.KnowledgeEntry) (int, error) {
	var indexed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.concurrency)

	for _, entry := range entries {
		if strings.TrimSpace(entry.Question) == "" || strings.TrimSpace(entry.Answer) == "" {
			log.Warnf("[KnowledgeLoader] 跳过不完整的问答对: %+v", entry)
			continue
		}
		entry := entry
		g.Go(func() error {
			if err := l.knowledge.Index(gctx, entry); err != nil {
				return err
			}
			atomic.AddInt64(&indexed, 1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Errorf("[KnowledgeLoader] 写入知识库失败, 已写入 %d 条, error: %v", indexed, err)
		return int(indexed), err
	}
	log.Infof("[KnowledgeLoader] 知识库写入完成, 共 %d 条", indexed)
	return int(indexed), nil
}

// LoadReader 解析 JSON 数组格式的问答对并写入。
func (l *KnowledgeLoader) LoadReader(ctx context.Context, r io.Reader) (int, error) {
	var entries []model.KnowledgeEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("failed to decode knowledge file: %w", err)
	}
	return l.Load(ctx, entries)
}

// LoadFile 从本地文件加载问答对。
func (l *KnowledgeLoader) LoadFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open knowledge file: %w", err)
	}
	defer f.Close()
	log.Infof("[KnowledgeLoader] 从文件加载知识库: %s", path)
	return l.LoadReader(ctx, f)
}

// LoadObject 从对象存储加载问答对。
func (l *KnowledgeLoader) LoadObject(ctx context.Context, bucket, object string) (int, error) {
	if l.objects == nil {
		return 0, fmt.Errorf("object storage is not configured")
	}
	rc, err := l.objects.Open(ctx, bucket, object)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	log.Infof("[KnowledgeLoader] 从对象存储加载知识库: %s/%s", bucket, object)
	return l.LoadReader(ctx, rc)
}
