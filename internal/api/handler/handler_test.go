package handler

import (
	"testing"

	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
)

func TestStatusAndCode(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"校验失败", processor.NewValidationError("标题为空"), consts.StatusBadRequest, "VALIDATION"},
		{"岗位不存在", processor.ErrJobNotFound, consts.StatusNotFound, "JOB_NOT_FOUND"},
		{"简历不存在", processor.ErrResumeNotFound, consts.StatusNotFound, "RESUME_NOT_FOUND"},
		{"岗位向量不存在", processor.ErrNoJobEmbedding, consts.StatusNotFound, "NO_JOB_EMBEDDING"},
		{"岗位下没有简历", processor.ErrNoResumes, consts.StatusNotFound, "NO_RESUMES"},
		{"检索无命中", processor.ErrNoMatches, consts.StatusNotFound, "NO_MATCHES"},
		{"上游失败", processor.NewUpstreamError("job-1", "embed", "timeout"), consts.StatusBadGateway, "UPSTREAM_FAILED"},
		{"模型输出不可解析", processor.ErrMalformedOutput, consts.StatusInternalServerError, "MALFORMED_MODEL_OUTPUT"},
		{"未知错误", assert.AnError, consts.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusAndCode(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestNormalizeComparisonQueryDefaults(t *testing.T) {
	opts, err := normalizeComparisonQuery("", "", "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, opts.Page)
	assert.Equal(t, 10, opts.Limit)
	assert.Equal(t, "fit", opts.SortBy)
	assert.Equal(t, "desc", opts.SortOrder)
	assert.Empty(t, opts.Search)
	assert.Empty(t, opts.ScoreFilter)
}

func TestNormalizeComparisonQueryValues(t *testing.T) {
	opts, err := normalizeComparisonQuery("3", "25", "candidate", "asc", " Zhang ", "good")
	require.NoError(t, err)
	assert.Equal(t, 3, opts.Page)
	assert.Equal(t, 25, opts.Limit)
	assert.Equal(t, "candidate", opts.SortBy)
	assert.Equal(t, "asc", opts.SortOrder)
	assert.Equal(t, "zhang", opts.Search)
	assert.Equal(t, "good", opts.ScoreFilter)
}

func TestNormalizeComparisonQueryLimitCap(t *testing.T) {
	opts, err := normalizeComparisonQuery("", "500", "", "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 100, opts.Limit)
}

// score_filter=all 等价于不过滤
func TestNormalizeComparisonQueryScoreFilterAll(t *testing.T) {
	opts, err := normalizeComparisonQuery("", "", "", "", "", "all")
	require.NoError(t, err)
	assert.Empty(t, opts.ScoreFilter)
}

func TestNormalizeComparisonQueryInvalid(t *testing.T) {
	cases := [][6]string{
		{"0", "", "", "", "", ""},
		{"abc", "", "", "", "", ""},
		{"", "-5", "", "", "", ""},
		{"", "", "rank", "", "", ""},
		{"", "", "", "upward", "", ""},
		{"", "", "", "", "", "great"},
	}
	for _, args := range cases {
		_, err := normalizeComparisonQuery(args[0], args[1], args[2], args[3], args[4], args[5])
		assert.Error(t, err, "参数组合 %v 应报错", args)
	}
}

func TestPageAnalytics(t *testing.T) {
	score := func(v float64) *float64 { return &v }
	items := []comparisonItem{
		{EffectiveScore: 0.9, ScoreBucket: "excellent", FitScore: score(0.9)},
		{EffectiveScore: 0.8, ScoreBucket: "excellent", FitScore: score(0.8)},
		{EffectiveScore: 0.5, ScoreBucket: "fair", FitScore: score(0.5)},
		{EffectiveScore: 0.2, ScoreBucket: "poor", FitScore: score(0.2)},
	}

	analytics := pageAnalytics(items)
	buckets := analytics["buckets"].(map[string]int)
	assert.Equal(t, 2, buckets["excellent"])
	assert.Equal(t, 0, buckets["good"])
	assert.Equal(t, 1, buckets["fair"])
	assert.Equal(t, 1, buckets["poor"])
	assert.InDelta(t, 0.6, analytics["average_score"].(float64), 1e-9)
}

func TestPageAnalyticsEmpty(t *testing.T) {
	analytics := pageAnalytics(nil)
	buckets := analytics["buckets"].(map[string]int)
	assert.Equal(t, 0, buckets["excellent"])
	assert.Equal(t, 0.0, analytics["average_score"].(float64))
}

// 有效分和档位经由Comparison模型方法计算，fitScore缺失时回退相似度
func TestToComparisonItemFallback(t *testing.T) {
	skills, err := models.StringsToJSON([]string{"Go"})
	require.NoError(t, err)
	row := storage.ComparisonWithCandidate{
		Comparison: models.Comparison{
			JobID:          "job-1",
			ResumeID:       "res-a",
			Similarity:     0.72,
			MatchingSkills: skills,
		},
		CandidateName: "张三",
	}

	item := toComparisonItem(&row)
	assert.Nil(t, item.FitScore)
	assert.InDelta(t, 0.72, item.EffectiveScore, 1e-9)
	assert.Equal(t, "good", item.ScoreBucket)
	assert.Equal(t, []string{"Go"}, item.MatchingSkills)
	assert.Equal(t, []string{}, item.MissingSkills)
	assert.Equal(t, "张三", item.CandidateName)
}
