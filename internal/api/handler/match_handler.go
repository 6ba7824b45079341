package handler

import (
	"context"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/types"
)

// userIDHeader 匹配与历史查询共用的用户标识请求头
const userIDHeader = "X-User-ID"

// MatchRunner 匹配运行能力，由processor.MatchProcessor实现
type MatchRunner interface {
	RunMatching(ctx context.Context, jobID string, userID string, topK int) ([]types.MatchResult, error)
}

// MatchHandler 触发匹配运行
type MatchHandler struct {
	matcher MatchRunner
}

func NewMatchHandler(matcher MatchRunner) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

type runMatchRequest struct {
	UserID string `json:"user_id"`
	TopK   int    `json:"top_k"`
}

// HandleRunMatch POST /jobs/:job_id/match
// user_id取请求体，缺省回退到X-User-ID请求头。
func (h *MatchHandler) HandleRunMatch(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	var req runMatchRequest
	if err := c.BindAndValidate(&req); err != nil {
		writeBadRequest(c, "请求体解析失败")
		return
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = strings.TrimSpace(string(c.GetHeader(userIDHeader)))
	}
	if userID == "" {
		writeBadRequest(c, "user_id不能为空")
		return
	}

	results, err := h.matcher.RunMatching(ctx, jobID, userID, req.TopK)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":  jobID,
		"count":   len(results),
		"results": results,
	})
}
