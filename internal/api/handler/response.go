package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/processor"
)

// statusAndCode 把管道错误映射为HTTP状态码和机器可读的错误码
func statusAndCode(err error) (int, string) {
	switch {
	case errors.Is(err, processor.ErrValidation):
		return consts.StatusBadRequest, "VALIDATION"
	case errors.Is(err, processor.ErrJobNotFound):
		return consts.StatusNotFound, "JOB_NOT_FOUND"
	case errors.Is(err, processor.ErrResumeNotFound):
		return consts.StatusNotFound, "RESUME_NOT_FOUND"
	case errors.Is(err, processor.ErrNoJobEmbedding):
		return consts.StatusNotFound, "NO_JOB_EMBEDDING"
	case errors.Is(err, processor.ErrNoResumes):
		return consts.StatusNotFound, "NO_RESUMES"
	case errors.Is(err, processor.ErrNoMatches):
		return consts.StatusNotFound, "NO_MATCHES"
	case errors.Is(err, processor.ErrUpstreamFailed):
		return consts.StatusBadGateway, "UPSTREAM_FAILED"
	case errors.Is(err, processor.ErrMalformedOutput):
		return consts.StatusInternalServerError, "MALFORMED_MODEL_OUTPUT"
	default:
		return consts.StatusInternalServerError, "INTERNAL"
	}
}

// writeError 统一错误响应体 {"code","error"}
func writeError(ctx context.Context, c *app.RequestContext, err error) {
	status, code := statusAndCode(err)
	if status >= consts.StatusInternalServerError {
		logger.Ctx(ctx).Error().Err(err).Str("path", string(c.Path())).Msg("请求处理失败")
	} else {
		logger.Ctx(ctx).Debug().Err(err).Str("path", string(c.Path())).Msg("请求被拒绝")
	}
	c.JSON(status, utils.H{"code": code, "error": err.Error()})
}

// writeBadRequest 请求体/参数解析失败的快捷响应
func writeBadRequest(c *app.RequestContext, message string) {
	c.JSON(consts.StatusBadRequest, utils.H{"code": "VALIDATION", "error": message})
}
