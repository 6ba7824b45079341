package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"gorm.io/gorm"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
)

// ComparisonReader 比较记录读取能力，由storage.MySQL实现
type ComparisonReader interface {
	GetJobByID(ctx context.Context, jobID string) (*models.Job, error)
	ListComparisonsByJob(ctx context.Context, jobID string, opts storage.ComparisonQueryOptions) ([]storage.ComparisonWithCandidate, int64, error)
	ListComparisonsByUser(ctx context.Context, userID string) ([]storage.ComparisonWithCandidate, error)
}

// ComparisonHandler 比较记录的分页查询与历史查询
type ComparisonHandler struct {
	reader ComparisonReader
}

func NewComparisonHandler(reader ComparisonReader) *ComparisonHandler {
	return &ComparisonHandler{reader: reader}
}

// comparisonItem 比较记录的响应行
type comparisonItem struct {
	JobID          string    `json:"job_id"`
	ResumeID       string    `json:"resume_id"`
	CandidateName  string    `json:"candidate_name"`
	Similarity     float64   `json:"similarity"`
	FitScore       *float64  `json:"fit_score,omitempty"`
	EffectiveScore float64   `json:"effective_score"`
	ScoreBucket    string    `json:"score_bucket"`
	MatchingSkills []string  `json:"matching_skills"`
	MissingSkills  []string  `json:"missing_skills"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

func toComparisonItem(row *storage.ComparisonWithCandidate) comparisonItem {
	return comparisonItem{
		JobID:          row.JobID,
		ResumeID:       row.ResumeID,
		CandidateName:  row.CandidateName,
		Similarity:     row.Similarity,
		FitScore:       row.FitScore,
		EffectiveScore: row.EffectiveScore(),
		ScoreBucket:    row.ScoreBucket(),
		MatchingSkills: row.MatchingSkillsList(),
		MissingSkills:  row.MissingSkillsList(),
		Summary:        row.Summary,
		CreatedAt:      row.CreatedAt,
	}
}

// normalizeComparisonQuery 把原始查询参数规整为存储层查询选项。
// 非法的sort_by/sort_order/score_filter报错而不是静默吞掉。
func normalizeComparisonQuery(pageStr, limitStr, sortBy, sortOrder, search, scoreFilter string) (storage.ComparisonQueryOptions, error) {
	opts := storage.ComparisonQueryOptions{
		Page:   1,
		Limit:  constants.DefaultComparisonLimit,
		SortBy: "fit",
	}

	if pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil || page < 1 {
			return opts, fmt.Errorf("page必须是正整数: %q", pageStr)
		}
		opts.Page = page
	}
	if limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			return opts, fmt.Errorf("limit必须是正整数: %q", limitStr)
		}
		if limit > constants.MaxComparisonLimit {
			limit = constants.MaxComparisonLimit
		}
		opts.Limit = limit
	}

	switch sortBy {
	case "", "fit":
		opts.SortBy = "fit"
	case "similarity", "candidate", "created_at":
		opts.SortBy = sortBy
	default:
		return opts, fmt.Errorf("无效的sort_by: %q", sortBy)
	}

	switch sortOrder {
	case "", "desc":
		opts.SortOrder = "desc"
	case "asc":
		opts.SortOrder = "asc"
	default:
		return opts, fmt.Errorf("无效的sort_order: %q", sortOrder)
	}

	opts.Search = strings.ToLower(strings.TrimSpace(search))

	switch scoreFilter {
	case "", "all":
		opts.ScoreFilter = ""
	case "excellent", "good", "fair", "poor":
		opts.ScoreFilter = scoreFilter
	default:
		return opts, fmt.Errorf("无效的score_filter: %q", scoreFilter)
	}

	return opts, nil
}

// pageAnalytics 当前页的分档统计与平均有效分
func pageAnalytics(items []comparisonItem) utils.H {
	buckets := map[string]int{
		"excellent": 0,
		"good":      0,
		"fair":      0,
		"poor":      0,
	}
	sum := 0.0
	for i := range items {
		buckets[items[i].ScoreBucket]++
		sum += items[i].EffectiveScore
	}
	average := 0.0
	if len(items) > 0 {
		average = sum / float64(len(items))
	}
	return utils.H{
		"buckets":       buckets,
		"average_score": average,
	}
}

// HandleListComparisons GET /jobs/:job_id/comparisons
func (h *ComparisonHandler) HandleListComparisons(ctx context.Context, c *app.RequestContext) {
	jobID := c.Param("job_id")

	opts, err := normalizeComparisonQuery(
		c.Query("page"),
		c.Query("limit"),
		c.Query("sort_by"),
		c.Query("sort_order"),
		c.Query("search"),
		c.Query("score_filter"),
	)
	if err != nil {
		writeBadRequest(c, err.Error())
		return
	}

	if _, err := h.reader.GetJobByID(ctx, jobID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(ctx, c, processor.ErrJobNotFound)
			return
		}
		writeError(ctx, c, err)
		return
	}

	rows, total, err := h.reader.ListComparisonsByJob(ctx, jobID, opts)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	items := make([]comparisonItem, 0, len(rows))
	for i := range rows {
		items = append(items, toComparisonItem(&rows[i]))
	}

	c.JSON(consts.StatusOK, utils.H{
		"job_id":      jobID,
		"page":        opts.Page,
		"limit":       opts.Limit,
		"total":       total,
		"comparisons": items,
		"analytics":   pageAnalytics(items),
	})
}

// HandleHistory GET /history，用户标识取X-User-ID请求头
func (h *ComparisonHandler) HandleHistory(ctx context.Context, c *app.RequestContext) {
	userID := strings.TrimSpace(string(c.GetHeader(userIDHeader)))
	if userID == "" {
		writeBadRequest(c, "缺少X-User-ID请求头")
		return
	}

	rows, err := h.reader.ListComparisonsByUser(ctx, userID)
	if err != nil {
		writeError(ctx, c, err)
		return
	}

	items := make([]comparisonItem, 0, len(rows))
	for i := range rows {
		items = append(items, toComparisonItem(&rows[i]))
	}

	c.JSON(consts.StatusOK, utils.H{
		"user_id": userID,
		"total":   len(items),
		"history": items,
	})
}
