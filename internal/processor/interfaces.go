package processor

import (
	"context"

	"github.com/cloudwego/eino/components/embedding"

	"resume-match-go/internal/types"
)

// TextEmbedder 文本向量化接口 (符合 cloudwego/eino 规范)
type TextEmbedder interface {
	// EmbedStrings 将文本转换为向量表示
	EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error)

	// ModelVersion 返回嵌入模型标识，用于缓存一致性校验
	ModelVersion() string
}

// MatchEnricher 岗位-简历富化评估能力
type MatchEnricher interface {
	EnrichMatch(ctx context.Context, jobDescription string, resumeText string, similarity float64) (*types.Enrichment, error)
}

// VectorIndex 向量索引能力，按命名空间隔离
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, records []types.VectorRecord) error
	Search(ctx context.Context, namespace string, queryVector []float64, topK int, filter map[string]interface{}) ([]types.SearchResult, error)
	FetchByKeys(ctx context.Context, namespace string, keys []string) ([]types.VectorRecord, error)
	DeleteByKeys(ctx context.Context, namespace string, keys []string) error
	DeleteByFilter(ctx context.Context, namespace string, field string, value interface{}) error
}

// EventPublisher 管道事件发布能力。发布失败只记日志，不中断主流程。
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, data interface{}) error
}

// TextArchive 简历全文归档能力
type TextArchive interface {
	ArchiveResumeText(ctx context.Context, resumeID string, text string) (string, error)
	DeleteResumeText(ctx context.Context, resumeID string) error
}
