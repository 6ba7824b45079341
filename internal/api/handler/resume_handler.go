package handler

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage/models"
)

// ResumeIngestor 简历侧写入能力，由processor.IngestionProcessor实现
type ResumeIngestor interface {
	IngestResume(ctx context.Context, jobID string, candidateName string, resumeText string) (*models.Resume, bool, error)
	DeleteResume(ctx context.Context, resumeID string) error
	DeleteResumesByJob(ctx context.Context, jobID string) (int, error)
}

// ResumeReader 简历侧读取能力，由storage.MySQL实现
type ResumeReader interface {
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error)
	ListResumesByJob(ctx context.Context, jobID string) ([]models.Resume, error)
}

// ResumeArchive 归档文本读取能力，由storage.MinIO实现
type ResumeArchive interface {
	GetResumeText(ctx context.Context, resumeID string) (string, error)
}

// ResumeHandler 简历的摄取、查询与删除
type ResumeHandler struct {
	ingestor ResumeIngestor
	reader   ResumeReader
	archive  ResumeArchive // 可为nil，此时详情接口直接返回库内全文
}

func NewResumeHandler(ingestor ResumeIngestor, reader ResumeReader, archive ResumeArchive) *ResumeHandler {
	return &ResumeHandler{ingestor: ingestor, reader: reader, archive: archive}
}

type createResumeRequest struct {
	CandidateName string `json:"candidate_name"`
	FullText      string `json:"full_text"`
}

// HandleCreateResume POST /jobs/:job_id/resumes
func (h *ResumeHandler) HandleCreateResume(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	var req createResumeRequest
	if err := c.BindAndValidate(&req); err != nil {
		writeBadRequest(c, "请求体解析失败")
		return
	}

	resume, duplicate, err := h.ingestor.IngestResume(ctx, jobID, req.CandidateName, req.FullText)
	if err != nil {
		writeError(ctx, c, err)
		return
	}
	if duplicate {
		c.JSON(consts.StatusOK, utils.H{
			"job_id": jobID,
			"status": "DUPLICATE_SKIPPED",
		})
		return
	}

	c.JSON(consts.StatusOK, utils.H{
		"resume_id": resume.ResumeID,
		"job_id":    jobID,
		"status":    "CREATED",
	})
}

// HandleListResumes GET /jobs/:job_id/resumes
func (h *ResumeHandler) HandleListResumes(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	if _, err := h.reader.GetJobByID(ctx, jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(ctx, c, processor.ErrJobNotFound)
			return
		}
		writeError(ctx, c, err)
		return
	}

	resumes, err := h.reader.ListResumesByJob(ctx, jobID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	items := make([]utils.H, 0, len(resumes))
	for i := range resumes {
		items = append(items, utils.H{
			"resume_id":      resumes[i].ResumeID,
			"candidate_name": resumes[i].CandidateName,
			"created_at":     resumes[i].CreatedAt,
		})
	}
	c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "resumes": items, "total": len(items)})
}

// HandleGetResume GET /jobs/:job_id/resumes/:resume_id
func (h *ResumeHandler) HandleGetResume(ctx context.Context, c *app.RequestContext) {
	resumeID := c.Param("resume_id")

	resume, err := h.reader.GetResumeByID(ctx, resumeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(ctx, c, processor.ErrResumeNotFound)
			return
		}
		writeError(ctx, c, err)
		return
	}

	// 归档可用时以归档文本为准，读不到则回退库内全文
	fullText := resume.FullText
	if h.archive != nil {
		if archived, err := h.archive.GetResumeText(ctx, resumeID); err != nil {
			logger.Ctx(ctx).Debug().Err(err).Str("resume_id", resumeID).Msg("读取归档文本失败，回退库内全文")
		} else {
			fullText = archived
		}
	}

	c.JSON(consts.StatusOK, utils.H{
		"resume_id":      resume.ResumeID,
		"job_id":         resume.JobID,
		"candidate_name": resume.CandidateName,
		"full_text":      fullText,
		"created_at":     resume.CreatedAt,
	})
}

// HandleDeleteResume DELETE /jobs/:job_id/resumes/:resume_id
func (h *ResumeHandler) HandleDeleteResume(ctx context.Context, c *app.RequestContext) {
	resumeID := c.Param("resume_id")

	if err := h.ingestor.DeleteResume(ctx, resumeID); err != nil {
		writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"resume_id": resumeID, "status": "DELETED"})
}

type bulkDeleteRequest struct {
	ResumeIDs []string `json:"resume_ids"`
	DeleteAll bool     `json:"delete_all"`
}

// HandleBulkDeleteResumes DELETE /jobs/:job_id/resumes/bulk-delete
func (h *ResumeHandler) HandleBulkDeleteResumes(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	var req bulkDeleteRequest
	if err := c.BindAndValidate(&req); err != nil {
		writeBadRequest(c, "请求体解析失败")
		return
	}
	if !req.DeleteAll && len(req.ResumeIDs) == 0 {
		writeBadRequest(c, "resume_ids为空且未指定delete_all")
		return
	}

	if req.DeleteAll {
		count, err := h.ingestor.DeleteResumesByJob(ctx, jobID)
		if err != nil {
			writeError(ctx, c, err)
			return
		}
		c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "deleted_count": count})
		return
	}

	deleted := 0
	for _, resumeID := range req.ResumeIDs {
		if err := h.ingestor.DeleteResume(ctx, resumeID); err != nil {
			if errors.Is(err, processor.ErrResumeNotFound) {
				logger.Ctx(ctx).Debug().Str("resume_id", resumeID).Msg("批量删除目标不存在，跳过")
				continue
			}
			writeError(ctx, c, err)
			return
		}
		deleted++
	}
	c.JSON(consts.StatusOK, utils.H{"job_id": jobID, "deleted_count": deleted})
}
