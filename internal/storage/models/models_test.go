package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

// TestEffectiveScore 有效分数的合并规则：fitScore优先，缺失回退similarity
func TestEffectiveScore(t *testing.T) {
	withFit := &Comparison{Similarity: 0.5, FitScore: f64(0.9)}
	assert.Equal(t, 0.9, withFit.EffectiveScore())

	withoutFit := &Comparison{Similarity: 0.5}
	assert.Equal(t, 0.5, withoutFit.EffectiveScore())

	// fitScore为0也是有效值，不应回退
	zeroFit := &Comparison{Similarity: 0.5, FitScore: f64(0)}
	assert.Equal(t, 0.0, zeroFit.EffectiveScore())
}

// TestBucketForScore 档位边界：下界为闭区间
func TestBucketForScore(t *testing.T) {
	cases := []struct {
		score  float64
		bucket string
	}{
		{0.8, "excellent"},
		{0.79999, "good"},
		{0.95, "excellent"},
		{0.6, "good"},
		{0.59999, "fair"},
		{0.4, "fair"},
		{0.39999, "poor"},
		{0.0, "poor"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.bucket, BucketForScore(tc.score), "score=%v", tc.score)
	}
}

// TestScoreBucketUsesEffectiveScore 分档走有效分数而不是similarity
func TestScoreBucketUsesEffectiveScore(t *testing.T) {
	c := &Comparison{Similarity: 0.3, FitScore: f64(0.85)}
	assert.Equal(t, "excellent", c.ScoreBucket())

	c2 := &Comparison{Similarity: 0.3}
	assert.Equal(t, "poor", c2.ScoreBucket())
}

// TestSkillsRoundTrip JSON列与字符串切片的互转
func TestSkillsRoundTrip(t *testing.T) {
	j, err := StringsToJSON([]string{"Go", "Postgres"})
	require.NoError(t, err)

	c := &Comparison{MatchingSkills: j}
	assert.Equal(t, []string{"Go", "Postgres"}, c.MatchingSkillsList())

	// nil切片序列化为空数组而不是null
	empty, err := StringsToJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(empty))

	// 列为空或损坏时返回空切片
	broken := &Comparison{MissingSkills: []byte("{oops")}
	assert.Equal(t, []string{}, broken.MissingSkillsList())
	assert.Equal(t, []string{}, (&Comparison{}).MissingSkillsList())
}

// TestVectorBytesRoundTrip 向量列编码
func TestVectorBytesRoundTrip(t *testing.T) {
	v := []float64{0.1, -0.2, 0.3}
	data, err := VectorToBytes(v)
	require.NoError(t, err)

	back, err := VectorFromBytes(data)
	require.NoError(t, err)
	assert.Equal(t, v, back)

	_, err = VectorFromBytes([]byte("not-json"))
	assert.Error(t, err)
}
