package processor

import (
	"errors"
	"fmt"
)

// 定义基础错误类型。API层依据这些哨兵错误映射HTTP状态码。
var (
	ErrValidation      = errors.New("请求参数非法")
	ErrJobNotFound     = errors.New("岗位不存在")
	ErrResumeNotFound  = errors.New("简历不存在")
	ErrNoJobEmbedding  = errors.New("岗位向量不存在")
	ErrNoResumes       = errors.New("岗位下没有简历")
	ErrNoMatches       = errors.New("向量检索没有命中任何简历")
	ErrDuplicateResume = errors.New("相同内容的简历已存在")
	ErrUpstreamFailed  = errors.New("上游服务调用失败")
	ErrMalformedOutput = errors.New("模型输出无法解析")
)

// PipelineError 包含阶段信息的管道错误
type PipelineError struct {
	EntityID string // jobID 或 resumeID
	Op       string // 失败的阶段
	BaseErr  error
	Detail   string
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, ID:%s): %s", e.BaseErr, e.Op, e.EntityID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, ID:%s)", e.BaseErr, e.Op, e.EntityID)
}

func (e *PipelineError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// NewUpstreamError 上游（嵌入服务、向量索引、LLM）调用失败
func NewUpstreamError(entityID, op, detail string) error {
	return &PipelineError{
		EntityID: entityID,
		Op:       op,
		BaseErr:  ErrUpstreamFailed,
		Detail:   detail,
	}
}

// NewValidationError 输入校验失败
func NewValidationError(detail string) error {
	return &PipelineError{
		Op:      "validate",
		BaseErr: ErrValidation,
		Detail:  detail,
	}
}
