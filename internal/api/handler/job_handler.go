package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage/models"
)

// JobIngestor 岗位侧写入能力，由processor.IngestionProcessor实现
type JobIngestor interface {
	IngestJob(ctx context.Context, title string, jdText string) (*models.Job, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// JobReader 岗位侧读取能力，由storage.MySQL实现
type JobReader interface {
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
	CountResumesByJob(ctx context.Context, jobID string) (int64, error)
}

// JobHandler 岗位的增删查
type JobHandler struct {
	ingestor JobIngestor
	reader   JobReader
}

func NewJobHandler(ingestor JobIngestor, reader JobReader) *JobHandler {
	return &JobHandler{ingestor: ingestor, reader: reader}
}

type createJobRequest struct {
	Title  string `json:"title"`
	JDText string `json:"jd_text"`
}

// HandleCreateJob POST /jobs
func (h *JobHandler) HandleCreateJob(ctx context.Context, c *app.RequestContext) {
	var req createJobRequest
	if err := c.BindAndValidate(&req); err != nil {
		writeBadRequest(c, "请求体解析失败")
		return
	}

	job, err := h.ingestor.IngestJob(ctx, req.Title, req.JDText)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id": job.JobID,
		"title":  job.Title,
	})
}

// HandleListJobs GET /jobs
func (h *JobHandler) HandleListJobs(ctx context.Context, c *app.RequestContext) {
	jobs, err := h.reader.ListJobs(ctx)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	items := make([]utils.H, 0, len(jobs))
	for i := range jobs {
		items = append(items, utils.H{
			"job_id":     jobs[i].JobID,
			"title":      jobs[i].Title,
			"created_at": jobs[i].CreatedAt,
		})
	}
	c.JSON(consts.StatusOK, utils.H{"jobs": items, "total": len(items)})
}

// HandleGetJob GET /jobs/:job_id
func (h *JobHandler) HandleGetJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	job, err := h.reader.GetJobByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(ctx, c, processor.ErrJobNotFound)
			return
		}
		writeError(ctx, c, err)
		return
	}

	resumeCount, err := h.reader.CountResumesByJob(ctx, jobID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":       job.JobID,
		"title":        job.Title,
		"jd_text":      job.JobDescriptionText,
		"created_at":   job.CreatedAt,
		"resume_count": resumeCount,
	})
}

// HandleDeleteJob DELETE /jobs/:job_id
func (h *JobHandler) HandleDeleteJob(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	if err := h.ingestor.DeleteJob(ctx, jobID); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "status": "DELETED"})
}
