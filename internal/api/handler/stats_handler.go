package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-match-go/internal/constants"
)

// VectorCounter 向量索引的点数统计能力，由storage.Qdrant实现
type VectorCounter interface {
	CountPoints(ctx context.Context, namespace string) (int64, error)
}

// StatsReader 关系库侧的统计能力，由storage.MySQL实现
type StatsReader interface {
	CountJobs(ctx context.Context) (int64, error)
	CountResumes(ctx context.Context) (int64, error)
	CountComparisons(ctx context.Context) (int64, error)
}

// StatsHandler 运行状态统计
type StatsHandler struct {
	vectors VectorCounter
	reader  StatsReader
}

func NewStatsHandler(vectors VectorCounter, reader StatsReader) *StatsHandler {
	return &StatsHandler{vectors: vectors, reader: reader}
}

// HandleStats GET /stats
func (h *StatsHandler) HandleStats(ctx context.Context, c *app.RequestContext) {
	jobCount, err := h.reader.CountJobs(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	resumeCount, err := h.reader.CountResumes(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	comparisonCount, err := h.reader.CountComparisons(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	jobPoints, err := h.vectors.CountPoints(ctx, constants.NamespaceJobs)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	resumePoints, err := h.vectors.CountPoints(ctx, constants.NamespaceResumes)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"jobs":        jobCount,
		"resumes":     resumeCount,
		"comparisons": comparisonCount,
		"vector_points": utils.H{
			constants.NamespaceJobs:    jobPoints,
			constants.NamespaceResumes: resumePoints,
		},
	})
}
