package constants

import "time"

const (
	// 分块窗口参数（以子词token计）
	ChunkWindowTokens  = 500
	ChunkOverlapTokens = 50

	// 向量索引命名空间（逻辑分区，对应Qdrant的collection）
	NamespaceJobs    = "jobs"
	NamespaceResumes = "resumes"

	// 向量键格式（必须与下游消费方保持逐字节一致）
	JobVectorKeyFormat         = "job-%s"    // job-<jobID>
	ResumeChunkVectorKeyFormat = "res-%s-%d" // res-<resumeID>-<chunkIndex>
)

// 分数档位阈值（下界为闭区间）：API过滤、分析统计和前端徽章共用
const (
	ScoreExcellentMin = 0.80
	ScoreGoodMin      = 0.60
	ScoreFairMin      = 0.40
)

const (
	// Redis键
	JobVectorCachePrefix    = "job_vec:"    // job_vec:<jobID> -> 序列化向量
	ResumeTextMD5SetPrefix  = "resume_md5:" // resume_md5:<jobID> -> 该岗位下已收录简历全文MD5集合
	JobVectorCacheDuration  = 24 * time.Hour
	ResumeMD5RecordDuration = 30 * 24 * time.Hour
)

const (
	// RabbitMQ事件
	PipelineEventsExchange   = "pipeline.events"
	JobIngestedRoutingKey    = "job.ingested"
	ResumeIngestedRoutingKey = "resume.ingested"
	JobMatchedRoutingKey     = "job.matched"
)

const (
	// 匹配默认参数
	DefaultMatchTopK       = 10
	DefaultComparisonLimit = 10
	MaxComparisonLimit     = 100
)
