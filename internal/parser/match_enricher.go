package parser

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	einoschema "github.com/cloudwego/eino/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

var enricherTracer = otel.Tracer("resume-match-go/parser/enricher")

// LLMMatchEnricher 用LLM对一对岗位-简历生成富化评估：
// 匹配/缺失技能、摘要和精细分数。
type LLMMatchEnricher struct {
	llmModel       model.ToolCallingChatModel
	promptTemplate string
	timeout        time.Duration
}

// MatchEnricherOption 定义LLMMatchEnricher的配置选项
type MatchEnricherOption func(*LLMMatchEnricher)

// WithCustomPromptTemplate 允许使用自定义提示词模板。
// 模板必须依次包含三个占位符：岗位描述(%s)、简历全文(%s)、相似度百分数(%.1f)。
func WithCustomPromptTemplate(template string) MatchEnricherOption {
	return func(e *LLMMatchEnricher) {
		e.promptTemplate = template
	}
}

// WithEvalTimeout 设置单次评估的超时
func WithEvalTimeout(timeout time.Duration) MatchEnricherOption {
	return func(e *LLMMatchEnricher) {
		e.timeout = timeout
	}
}

// NewLLMMatchEnricher 创建富化评估器
func NewLLMMatchEnricher(llmModel model.ToolCallingChatModel, options ...MatchEnricherOption) *LLMMatchEnricher {
	e := &LLMMatchEnricher{
		llmModel: llmModel,
		timeout:  60 * time.Second,
	}
	e.generatePromptTemplate()

	for _, option := range options {
		option(e)
	}
	return e
}

// generatePromptTemplate 生成默认的评估提示词模板
func (e *LLMMatchEnricher) generatePromptTemplate() {
	e.promptTemplate = `请评估以下候选人简历与岗位描述的匹配情况。

【岗位描述】
%s

【候选人简历】
%s

【向量相似度】
该简历与岗位的语义相似度为 %.1f%%（基于向量检索，仅供参考）。

请严格按以下JSON格式输出评估结果，不要输出任何其他内容：
{
  "matching_skills": ["候选人具备且岗位要求的技能"],
  "missing_skills": ["岗位要求但候选人简历中未体现的技能"],
  "summary": "不超过100字的匹配情况摘要",
  "fit_score": 0.0到1.0之间的精细匹配分数
}

要求：
1. matching_skills 和 missing_skills 必须是字符串数组，没有则给空数组
2. fit_score 必须是0到1之间的小数，综合考虑技能覆盖、经验深度和岗位要求
3. summary 简明扼要，说明匹配的核心依据和主要差距
4. 只输出JSON对象本身`
}

const enricherSystemMessage = "你是一位资深的AI招聘助手，专注于分析岗位描述和候选人简历的匹配度。你的输出永远是一个合法的JSON对象。"

// EnrichMatch 执行一次岗位-简历富化评估。
// fit_score越界时回退为传入的相似度，其余字段照常保留。
// 返回错误意味着LLM调用失败或输出无法解析，由调用方降级。
func (e *LLMMatchEnricher) EnrichMatch(ctx context.Context, jobDescription string, resumeText string, similarity float64) (*types.Enrichment, error) {
	if e.llmModel == nil {
		return nil, fmt.Errorf("llmModel未初始化")
	}

	ctx, span := enricherTracer.Start(ctx, "MatchEnricher.EnrichMatch",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.Float64("match.similarity", similarity),
		attribute.Int("resume.text_length", len(resumeText)),
	)

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	userContent := fmt.Sprintf(e.promptTemplate, jobDescription, resumeText, similarity*100)
	messages := []*einoschema.Message{
		einoschema.SystemMessage(enricherSystemMessage),
		einoschema.UserMessage(userContent),
	}

	response, err := e.llmModel.Generate(ctx, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("LLM调用失败: %w", err)
	}
	if response == nil || response.Content == "" {
		err := fmt.Errorf("LLM返回空响应")
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	enrichment, err := ParseEnrichment(response.Content)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, fmt.Errorf("解析富化结果失败: %w", err)
	}

	if enrichment.FitScore < 0 || enrichment.FitScore > 1 {
		logger.Ctx(ctx).Warn().
			Float64("fit_score", enrichment.FitScore).
			Float64("similarity", similarity).
			Msg("fit_score越界，回退为向量相似度")
		span.AddEvent("fit_score_out_of_range", trace.WithAttributes(
			attribute.Float64("fit_score", enrichment.FitScore),
		))
		enrichment.FitScore = similarity
	}

	span.SetStatus(codes.Ok, "")
	return enrichment, nil
}
