// Package model 定义了与数据库表对应的 Go 结构体。
package model

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// KnowledgeEntry 代表存储在知识库索引中的问答对，问题已预先词干化。
type KnowledgeEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// DocumentID 以问题的 MD5 作为文档 ID，保证重复导入是幂等的。
func (e KnowledgeEntry) DocumentID() string {
	sum := md5.Sum([]byte(e.Question))
	return hex.EncodeToString(sum[:])
}

// Candidate 是知识库检索返回的一条候选答案。
type Candidate struct {
	Score    float64 `json:"score"`
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
}

// SentimentRecord 是追加写入情感索引的一条记录，与 Message 状态机无关。
type SentimentRecord struct {
	Sentence  string    `json:"sentence"`
	Sentiment float64   `json:"sentiment"`
	Date      time.Time `json:"date"`
}
