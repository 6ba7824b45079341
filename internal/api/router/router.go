package router

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-match-go/internal/api/handler"
)

// Handlers 路由注册需要的全部处理器
type Handlers struct {
	Job        *handler.JobHandler
	Resume     *handler.ResumeHandler
	Match      *handler.MatchHandler
	Comparison *handler.ComparisonHandler
	Stats      *handler.StatsHandler
}

// RegisterRoutes 注册API路由。apiKey非空时对业务路由启用Bearer鉴权，
// 健康检查始终放行。
func RegisterRoutes(h *server.Hertz, apiKey string, handlers Handlers) {
	api := h.Group("/api/v1")

	// 健康检查注册在鉴权中间件之前
	api.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})

	if apiKey != "" {
		api.Use(keyauth.New(
			keyauth.WithKeyLookUp("header:Authorization", "Bearer"),
			keyauth.WithValidator(func(ctx context.Context, c *app.RequestContext, key string) (bool, error) {
				return key == apiKey, nil
			}),
		))
	}

	api.POST("/jobs", handlers.Job.HandleCreateJob)
	api.GET("/jobs", handlers.Job.HandleListJobs)
	api.GET("/jobs/:job_id", handlers.Job.HandleGetJob)
	api.DELETE("/jobs/:job_id", handlers.Job.HandleDeleteJob)

	api.POST("/jobs/:job_id/resumes", handlers.Resume.HandleCreateResume)
	api.GET("/jobs/:job_id/resumes", handlers.Resume.HandleListResumes)
	// 静态路径先注册，优先于:resume_id参数路由
	api.DELETE("/jobs/:job_id/resumes/bulk-delete", handlers.Resume.HandleBulkDeleteResumes)
	api.GET("/jobs/:job_id/resumes/:resume_id", handlers.Resume.HandleGetResume)
	api.DELETE("/jobs/:job_id/resumes/:resume_id", handlers.Resume.HandleDeleteResume)

	api.POST("/jobs/:job_id/match", handlers.Match.HandleRunMatch)
	api.GET("/jobs/:job_id/comparisons", handlers.Comparison.HandleListComparisons)
	api.GET("/history", handlers.Comparison.HandleHistory)
	api.GET("/stats", handlers.Stats.HandleStats)
}
