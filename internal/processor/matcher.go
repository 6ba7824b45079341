package processor

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

var matchTracer = otel.Tracer("resume-match-go/processor/match")

// degradedSummary LLM富化不可用时写入比较记录的摘要
const degradedSummary = "自动评估不可用，分数来自向量相似度。"

// MatchProcessor 负责匹配运行：解析岗位向量、检索相似简历分块、
// 按简历聚合最高分、对新简历做LLM富化并持久化比较记录。
type MatchProcessor struct {
	store    Store
	vectors  VectorIndex
	enricher MatchEnricher
	embedder TextEmbedder

	// 旁路依赖，nil表示未启用
	cache  VectorCache
	events EventPublisher
}

// MatchOption 匹配处理器的配置选项
type MatchOption func(*MatchProcessor)

// WithMatchCache 启用岗位向量缓存
func WithMatchCache(cache VectorCache) MatchOption {
	return func(p *MatchProcessor) {
		p.cache = cache
	}
}

// WithMatchEvents 启用管道事件通知
func WithMatchEvents(events EventPublisher) MatchOption {
	return func(p *MatchProcessor) {
		p.events = events
	}
}

// NewMatchProcessor 创建匹配处理器
func NewMatchProcessor(store Store, vectors VectorIndex, enricher MatchEnricher, embedder TextEmbedder, options ...MatchOption) *MatchProcessor {
	p := &MatchProcessor{
		store:    store,
		vectors:  vectors,
		enricher: enricher,
		embedder: embedder,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// RunMatching 对一个岗位执行一次匹配运行。
// 已有比较记录的简历直接复用（缓存命中），其余简历走LLM富化；
// 富化失败降级为纯相似度结果。结果按相似度降序返回。
func (p *MatchProcessor) RunMatching(ctx context.Context, jobID string, userID string, topK int) ([]types.MatchResult, error) {
	ctx, span := matchTracer.Start(ctx, "Match.Run")
	defer span.End()
	span.SetAttributes(attribute.String("job.id", jobID))

	if jobID == "" {
		return nil, NewValidationError("jobID不能为空")
	}
	if topK <= 0 {
		topK = constants.DefaultMatchTopK
	}
	if topK > constants.MaxComparisonLimit {
		topK = constants.MaxComparisonLimit
	}
	span.SetAttributes(attribute.Int("match.top_k", topK))

	job, err := p.store.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("查询岗位失败: %w", err)
	}

	resumes, err := p.store.ListResumesByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("查询岗位简历失败: %w", err)
	}
	if len(resumes) == 0 {
		return nil, ErrNoResumes
	}
	resumesByID := make(map[string]*models.Resume, len(resumes))
	for i := range resumes {
		resumesByID[resumes[i].ResumeID] = &resumes[i]
	}

	jobVector, err := p.resolveJobVector(ctx, jobID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// 检索简历分块，按岗位过滤
	hits, err := p.vectors.Search(ctx, constants.NamespaceResumes, jobVector, topK,
		map[string]interface{}{"jobId": jobID})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, NewUpstreamError(jobID, "search_resumes", err.Error())
	}
	if len(hits) == 0 {
		return nil, ErrNoMatches
	}
	span.SetAttributes(attribute.Int("search.hits", len(hits)))

	// 同一简历的多个分块命中只保留最高分
	bestByResume := aggregateBestByResume(hits)
	if len(bestByResume) == 0 {
		return nil, ErrNoMatches
	}

	resumeIDs := make([]string, 0, len(bestByResume))
	for resumeID := range bestByResume {
		resumeIDs = append(resumeIDs, resumeID)
	}

	existing, err := p.store.GetComparisonsByJobAndResumes(ctx, jobID, resumeIDs)
	if err != nil {
		return nil, fmt.Errorf("查询已有比较记录失败: %w", err)
	}

	results := make([]types.MatchResult, 0, len(bestByResume))
	enrichedCount := 0
	cachedCount := 0

	for resumeID, similarity := range bestByResume {
		resume, ok := resumesByID[resumeID]
		if !ok {
			// 向量索引里有但关系库里没有的简历，跳过（删除路径的已知窗口）
			logger.Ctx(ctx).Warn().Str("resume_id", resumeID).Msg("向量命中的简历不在关系库中，跳过")
			continue
		}

		if comparison, hit := existing[resumeID]; hit {
			cachedCount++
			results = append(results, comparisonToResult(comparison, resume.CandidateName, true))
			continue
		}

		// 新简历走富化，失败降级为纯相似度结果
		comparison := p.enrichOne(ctx, job, resume, similarity, userID)
		if err := p.store.UpsertComparison(ctx, comparison); err != nil {
			return nil, fmt.Errorf("持久化比较记录失败: %w", err)
		}
		enrichedCount++
		results = append(results, comparisonToResult(comparison, resume.CandidateName, false))
	}

	if len(results) == 0 {
		return nil, ErrNoMatches
	}

	// 最终排序按向量相似度降序
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if p.events != nil {
		if err := p.events.PublishJSON(ctx, constants.JobMatchedRoutingKey, map[string]interface{}{
			"job_id":       jobID,
			"result_count": len(results),
			"cached_count": cachedCount,
		}); err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("发布匹配完成事件失败")
		}
	}

	span.SetAttributes(
		attribute.Int("match.results", len(results)),
		attribute.Int("match.cached", cachedCount),
		attribute.Int("match.enriched", enrichedCount),
	)
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// resolveJobVector 解析岗位向量，按 Redis缓存 -> 向量索引 -> 关系兜底行 的顺序。
// 缓存的模型版本与当前嵌入模型不一致时视为未命中。
func (p *MatchProcessor) resolveJobVector(ctx context.Context, jobID string) ([]float64, error) {
	if p.cache != nil {
		vector, modelVersion, err := p.cache.GetJobVector(ctx, jobID)
		if err == nil {
			if modelVersion == p.embedder.ModelVersion() {
				return vector, nil
			}
			logger.Ctx(ctx).Warn().
				Str("job_id", jobID).
				Str("cached_version", modelVersion).
				Str("current_version", p.embedder.ModelVersion()).
				Msg("岗位向量缓存的模型版本过期，回源")
		}
	}

	key := fmt.Sprintf(constants.JobVectorKeyFormat, jobID)
	records, err := p.vectors.FetchByKeys(ctx, constants.NamespaceJobs, []string{key})
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("从向量索引取岗位向量失败，尝试关系兜底行")
	} else if len(records) == 1 && len(records[0].Vector) > 0 {
		p.backfillCache(ctx, jobID, records[0].Vector)
		return records[0].Vector, nil
	}

	jobVectorRow, err := p.store.GetJobVectorByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJobEmbedding
		}
		return nil, fmt.Errorf("查询岗位向量兜底行失败: %w", err)
	}
	vector, err := models.VectorFromBytes(jobVectorRow.VectorRepresentation)
	if err != nil {
		return nil, fmt.Errorf("解码岗位向量兜底行失败: %w", err)
	}
	p.backfillCache(ctx, jobID, vector)
	return vector, nil
}

// backfillCache 回填岗位向量缓存，尽力而为
func (p *MatchProcessor) backfillCache(ctx context.Context, jobID string, vector []float64) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetJobVector(ctx, jobID, vector, p.embedder.ModelVersion()); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Msg("回填岗位向量缓存失败")
	}
}

// enrichOne 对单个新简历做LLM富化，失败时构造降级的比较记录
func (p *MatchProcessor) enrichOne(ctx context.Context, job *models.Job, resume *models.Resume, similarity float64, userID string) *models.Comparison {
	comparison := &models.Comparison{
		UserID:     userID,
		JobID:      job.JobID,
		ResumeID:   resume.ResumeID,
		Similarity: similarity,
	}

	enrichment, err := p.enricher.EnrichMatch(ctx, job.JobDescriptionText, resume.FullText, similarity)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("resume_id", resume.ResumeID).
			Msg("富化评估失败，降级为纯相似度结果")
		fallbackScore := similarity
		comparison.FitScore = &fallbackScore
		comparison.MatchingSkills, _ = models.StringsToJSON(nil)
		comparison.MissingSkills, _ = models.StringsToJSON(nil)
		comparison.Summary = degradedSummary
		return comparison
	}

	fitScore := enrichment.FitScore
	comparison.FitScore = &fitScore
	comparison.MatchingSkills, _ = models.StringsToJSON(enrichment.MatchingSkills)
	comparison.MissingSkills, _ = models.StringsToJSON(enrichment.MissingSkills)
	comparison.Summary = enrichment.Summary
	return comparison
}

// aggregateBestByResume 把分块命中聚合为每份简历的最高相似度
func aggregateBestByResume(hits []types.SearchResult) map[string]float64 {
	best := make(map[string]float64)
	for _, hit := range hits {
		resumeID, ok := hit.Metadata["resumeId"].(string)
		if !ok || resumeID == "" {
			continue
		}
		if current, exists := best[resumeID]; !exists || hit.Score > current {
			best[resumeID] = hit.Score
		}
	}
	return best
}

// comparisonToResult 把比较记录转换为匹配结果
func comparisonToResult(c *models.Comparison, candidateName string, cached bool) types.MatchResult {
	return types.MatchResult{
		ResumeID:       c.ResumeID,
		CandidateName:  candidateName,
		Similarity:     c.Similarity,
		FitScore:       c.FitScore,
		MatchingSkills: c.MatchingSkillsList(),
		MissingSkills:  c.MissingSkillsList(),
		Summary:        c.Summary,
		Cached:         cached,
	}
}
