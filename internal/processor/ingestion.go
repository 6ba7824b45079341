package processor

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

var ingestTracer = otel.Tracer("resume-match-go/processor/ingest")

// embedConcurrency 分块向量化的并发上限
const embedConcurrency = 4

// Store 处理器需要的关系存储能力，由storage.MySQL实现
type Store interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	UpsertJobVector(ctx context.Context, jobVector *models.JobVector) error
	GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error)
	CreateResumeWithChunks(ctx context.Context, resume *models.Resume, chunks []models.ResumeChunk) error
	GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error)
	ListResumesByJob(ctx context.Context, jobID string) ([]models.Resume, error)
	GetComparisonsByJobAndResumes(ctx context.Context, jobID string, resumeIDs []string) (map[string]*models.Comparison, error)
	UpsertComparison(ctx context.Context, comparison *models.Comparison) error
	DeleteResumeCascade(ctx context.Context, resumeID string) ([]int, error)
	DeleteResumesByJobCascade(ctx context.Context, jobID string) ([]string, error)
	DeleteJobCascade(ctx context.Context, jobID string) ([]string, error)
}

// VectorCache 岗位向量缓存与简历去重能力，由storage.Redis实现
type VectorCache interface {
	GetJobVector(ctx context.Context, jobID string) ([]float64, string, error)
	SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error
	DeleteJobVector(ctx context.Context, jobID string) error
	CheckAndAddResumeTextMD5(ctx context.Context, jobID string, md5Hex string) (bool, error)
	RemoveResumeTextMD5(ctx context.Context, jobID string, md5Hex string) error
	DeleteResumeMD5Set(ctx context.Context, jobID string) error
}

// IngestionProcessor 负责岗位与简历的摄取管道：
// 校验、分块、向量化、落库、写向量索引，以及旁路的缓存、归档和事件。
type IngestionProcessor struct {
	store    Store
	vectors  VectorIndex
	embedder TextEmbedder
	chunker  *parser.TokenChunker

	// 旁路依赖，nil表示未启用
	cache   VectorCache
	events  EventPublisher
	archive TextArchive
}

// IngestionOption 摄取处理器的配置选项
type IngestionOption func(*IngestionProcessor)

// WithIngestionCache 启用岗位向量缓存与简历去重
func WithIngestionCache(cache VectorCache) IngestionOption {
	return func(p *IngestionProcessor) {
		p.cache = cache
	}
}

// WithIngestionEvents 启用管道事件通知
func WithIngestionEvents(events EventPublisher) IngestionOption {
	return func(p *IngestionProcessor) {
		p.events = events
	}
}

// WithIngestionArchive 启用简历全文归档
func WithIngestionArchive(archive TextArchive) IngestionOption {
	return func(p *IngestionProcessor) {
		p.archive = archive
	}
}

// NewIngestionProcessor 创建摄取处理器
func NewIngestionProcessor(store Store, vectors VectorIndex, embedder TextEmbedder, chunker *parser.TokenChunker, options ...IngestionOption) *IngestionProcessor {
	p := &IngestionProcessor{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
		chunker:  chunker,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// IngestJob 摄取一个岗位：向量化岗位描述并落库。
// 向量化失败时不会留下任何岗位数据。
func (p *IngestionProcessor) IngestJob(ctx context.Context, title string, jdText string) (*models.Job, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingest.Job")
	defer span.End()

	title = strings.TrimSpace(title)
	jdText = strings.TrimSpace(jdText)
	if title == "" {
		return nil, NewValidationError("岗位标题不能为空")
	}
	if jdText == "" {
		return nil, NewValidationError("岗位描述不能为空")
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	jobID := newUUID.String()
	span.SetAttributes(attribute.String("job.id", jobID))

	// 先向量化，失败时不写任何状态
	embeddings, err := p.embedder.EmbedStrings(ctx, []string{jdText})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewUpstreamError(jobID, "embed_job", err.Error())
	}
	if len(embeddings) != 1 {
		return nil, NewUpstreamError(jobID, "embed_job", fmt.Sprintf("期望1个向量，实际%d个", len(embeddings)))
	}
	jobVector := embeddings[0]

	job := &models.Job{
		JobID:              jobID,
		Title:              title,
		JobDescriptionText: jdText,
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("写入岗位失败: %w", err)
	}

	// 写向量索引。行已落库，这里失败会留下无向量的岗位，
	// 匹配时会以岗位向量不存在报出。
	record := types.VectorRecord{
		Key:      fmt.Sprintf(constants.JobVectorKeyFormat, jobID),
		Vector:   jobVector,
		Metadata: map[string]interface{}{"jobId": jobID},
	}
	if err := p.vectors.Upsert(ctx, constants.NamespaceJobs, []types.VectorRecord{record}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewUpstreamError(jobID, "index_job_vector", err.Error())
	}

	// 关系型向量兜底行
	vectorBytes, err := models.VectorToBytes(jobVector)
	if err == nil {
		err = p.store.UpsertJobVector(ctx, &models.JobVector{
			JobID:                 jobID,
			VectorRepresentation:  vectorBytes,
			EmbeddingModelVersion: p.embedder.ModelVersion(),
		})
	}
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("写入岗位向量兜底行失败")
	}

	if p.cache != nil {
		if err := p.cache.SetJobVector(ctx, jobID, jobVector, p.embedder.ModelVersion()); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("写入岗位向量缓存失败")
		}
	}

	p.publishEvent(ctx, constants.JobIngestedRoutingKey, map[string]interface{}{
		"job_id": jobID,
		"title":  title,
	})

	span.SetStatus(codes.Ok, "")
	return job, nil
}

// IngestResume 摄取一份简历：分块、逐块向量化、事务落库、写向量索引。
// 返回的布尔值为true表示同岗位下已有相同全文的简历，本次被跳过。
func (p *IngestionProcessor) IngestResume(ctx context.Context, jobID string, candidateName string, resumeText string) (*models.Resume, bool, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingest.Resume")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	candidateName = strings.TrimSpace(candidateName)
	if jobID == "" {
		return nil, false, NewValidationError("jobID不能为空")
	}
	if candidateName == "" {
		return nil, false, NewValidationError("候选人姓名不能为空")
	}
	if strings.TrimSpace(resumeText) == "" {
		return nil, false, NewValidationError("简历全文不能为空")
	}

	if _, err := p.store.GetJobByID(ctx, jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrJobNotFound
		}
		return nil, false, fmt.Errorf("查询岗位失败: %w", err)
	}

	// 同岗位下全文去重
	textMD5 := ""
	if p.cache != nil {
		sum := md5.Sum([]byte(resumeText))
		textMD5 = hex.EncodeToString(sum[:])
		duplicate, err := p.cache.CheckAndAddResumeTextMD5(ctx, jobID, textMD5)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("简历去重检查失败，跳过去重")
			textMD5 = ""
		} else if duplicate {
			span.AddEvent("duplicate_resume_skipped")
			span.SetStatus(codes.Ok, "duplicate skipped")
			return nil, true, nil
		}
	}

	chunks := p.chunker.Chunk(resumeText)
	if len(chunks) == 0 {
		p.rollbackDedup(ctx, jobID, textMD5)
		return nil, false, NewValidationError("简历全文没有可分块的内容")
	}
	span.SetAttributes(attribute.Int("chunk.count", len(chunks)))

	embeddings, err := p.embedChunks(ctx, chunks)
	if err != nil {
		p.rollbackDedup(ctx, jobID, textMD5)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, NewUpstreamError(jobID, "embed_resume_chunks", err.Error())
	}

	newUUID, err := uuid.NewV7()
	if err != nil {
		p.rollbackDedup(ctx, jobID, textMD5)
		return nil, false, fmt.Errorf("生成UUIDv7失败: %w", err)
	}
	resumeID := newUUID.String()
	span.SetAttributes(attribute.String("resume.id", resumeID))

	resume := &models.Resume{
		ResumeID:      resumeID,
		JobID:         jobID,
		CandidateName: candidateName,
		FullText:      resumeText,
	}
	chunkRows := make([]models.ResumeChunk, len(chunks))
	for i, chunkText := range chunks {
		embeddingBytes, err := models.VectorToBytes(embeddings[i])
		if err != nil {
			p.rollbackDedup(ctx, jobID, textMD5)
			return nil, false, fmt.Errorf("序列化分块向量失败: %w", err)
		}
		chunkRows[i] = models.ResumeChunk{
			ResumeID:   resumeID,
			ChunkIndex: i,
			ChunkText:  chunkText,
			Embedding:  embeddingBytes,
		}
	}

	if err := p.store.CreateResumeWithChunks(ctx, resume, chunkRows); err != nil {
		p.rollbackDedup(ctx, jobID, textMD5)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}

	// 向量索引写在事务之外。这里失败会留下无向量的简历，
	// 该简历在匹配中不可见，重新摄取可修复。
	records := make([]types.VectorRecord, len(chunks))
	for i := range chunks {
		records[i] = types.VectorRecord{
			Key:    fmt.Sprintf(constants.ResumeChunkVectorKeyFormat, resumeID, i),
			Vector: embeddings[i],
			Metadata: map[string]interface{}{
				"jobId":      jobID,
				"resumeId":   resumeID,
				"chunkIndex": i,
			},
		}
	}
	if err := p.vectors.Upsert(ctx, constants.NamespaceResumes, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, NewUpstreamError(resumeID, "index_resume_vectors", err.Error())
	}

	if p.archive != nil {
		if _, err := p.archive.ArchiveResumeText(ctx, resumeID, resumeText); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("归档简历全文失败")
		}
	}

	p.publishEvent(ctx, constants.ResumeIngestedRoutingKey, map[string]interface{}{
		"job_id":      jobID,
		"resume_id":   resumeID,
		"chunk_count": len(chunks),
	})

	span.SetStatus(codes.Ok, "")
	return resume, false, nil
}

// embedChunks 并发向量化全部分块，任一失败则整体失败
func (p *IngestionProcessor) embedChunks(ctx context.Context, chunks []string) ([][]float64, error) {
	embeddings := make([][]float64, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for i, chunkText := range chunks {
		g.Go(func() error {
			result, err := p.embedder.EmbedStrings(gctx, []string{chunkText})
			if err != nil {
				return fmt.Errorf("向量化分块%d失败: %w", i, err)
			}
			if len(result) != 1 {
				return fmt.Errorf("向量化分块%d: 期望1个向量，实际%d个", i, len(result))
			}
			embeddings[i] = result[0]
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// rollbackDedup 摄取失败时把MD5从去重集合中撤销，避免挡住重试
func (p *IngestionProcessor) rollbackDedup(ctx context.Context, jobID string, textMD5 string) {
	if p.cache == nil || textMD5 == "" {
		return
	}
	if err := p.cache.RemoveResumeTextMD5(ctx, jobID, textMD5); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("撤销简历MD5登记失败")
	}
}

// DeleteResume 删除一份简历及其全部关联数据
func (p *IngestionProcessor) DeleteResume(ctx context.Context, resumeID string) error {
	ctx, span := ingestTracer.Start(ctx, "Ingest.DeleteResume")
	defer span.End()
	span.SetAttributes(attribute.String("resume.id", resumeID))

	if resumeID == "" {
		return NewValidationError("resumeID不能为空")
	}

	resume, err := p.store.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResumeNotFound
		}
		return fmt.Errorf("查询简历失败: %w", err)
	}

	chunkIndexes, err := p.store.DeleteResumeCascade(ctx, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrResumeNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	keys := make([]string, len(chunkIndexes))
	for i, chunkIndex := range chunkIndexes {
		keys[i] = fmt.Sprintf(constants.ResumeChunkVectorKeyFormat, resumeID, chunkIndex)
	}
	if err := p.vectors.DeleteByKeys(ctx, constants.NamespaceResumes, keys); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("清理简历向量失败，留存孤儿向量点")
	}

	if p.cache != nil {
		sum := md5.Sum([]byte(resume.FullText))
		if err := p.cache.RemoveResumeTextMD5(ctx, resume.JobID, hex.EncodeToString(sum[:])); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("清理简历去重记录失败")
		}
	}

	if p.archive != nil {
		if err := p.archive.DeleteResumeText(ctx, resumeID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("清理简历归档失败")
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteResumesByJob 删除岗位下的全部简历及关联数据，返回删除的简历数
func (p *IngestionProcessor) DeleteResumesByJob(ctx context.Context, jobID string) (int, error) {
	ctx, span := ingestTracer.Start(ctx, "Ingest.DeleteResumesByJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	if jobID == "" {
		return 0, NewValidationError("jobID不能为空")
	}
	if _, err := p.store.GetJobByID(ctx, jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrJobNotFound
		}
		return 0, fmt.Errorf("查询岗位失败: %w", err)
	}

	resumeIDs, err := p.store.DeleteResumesByJobCascade(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if err := p.vectors.DeleteByFilter(ctx, constants.NamespaceResumes, "jobId", jobID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("按岗位清理简历向量失败，留存孤儿向量点")
	}

	if p.cache != nil {
		if err := p.cache.DeleteResumeMD5Set(ctx, jobID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("清理岗位去重集合失败")
		}
	}

	if p.archive != nil {
		for _, resumeID := range resumeIDs {
			if err := p.archive.DeleteResumeText(ctx, resumeID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("清理简历归档失败")
			}
		}
	}

	span.SetAttributes(attribute.Int("resumes.deleted", len(resumeIDs)))
	span.SetStatus(codes.Ok, "")
	return len(resumeIDs), nil
}

// DeleteJob 删除岗位及其全部关联数据：简历、分块、比较记录、
// 两个命名空间里的向量点、缓存和归档。
func (p *IngestionProcessor) DeleteJob(ctx context.Context, jobID string) error {
	ctx, span := ingestTracer.Start(ctx, "Ingest.DeleteJob")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	if jobID == "" {
		return NewValidationError("jobID不能为空")
	}

	resumeIDs, err := p.store.DeleteJobCascade(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	jobKey := fmt.Sprintf(constants.JobVectorKeyFormat, jobID)
	if err := p.vectors.DeleteByKeys(ctx, constants.NamespaceJobs, []string{jobKey}); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("清理岗位向量失败，留存孤儿向量点")
	}
	if err := p.vectors.DeleteByFilter(ctx, constants.NamespaceResumes, "jobId", jobID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("按岗位清理简历向量失败，留存孤儿向量点")
	}

	if p.cache != nil {
		if err := p.cache.DeleteJobVector(ctx, jobID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("清理岗位向量缓存失败")
		}
		if err := p.cache.DeleteResumeMD5Set(ctx, jobID); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("清理岗位去重集合失败")
		}
	}

	if p.archive != nil {
		for _, resumeID := range resumeIDs {
			if err := p.archive.DeleteResumeText(ctx, resumeID); err != nil {
				logger.Ctx(ctx).Warn().Err(err).Str("resume_id", resumeID).Msg("清理简历归档失败")
			}
		}
	}

	span.SetAttributes(attribute.Int("resumes.deleted", len(resumeIDs)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// publishEvent 尽力而为地发布管道事件
func (p *IngestionProcessor) publishEvent(ctx context.Context, routingKey string, payload map[string]interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJSON(ctx, routingKey, payload); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("routing_key", routingKey).Msg("发布管道事件失败")
	}
}
