package types

// VectorRecord 是写入向量索引的一条记录
type VectorRecord struct {
	// Key 外部稳定键，如 "job-<jobID>" 或 "res-<resumeID>-<chunkIndex>"
	Key      string
	Vector   []float64
	Metadata map[string]interface{}
}

// SearchResult 向量索引查询返回的一条命中
type SearchResult struct {
	Key      string                 // 外部稳定键（从payload还原）
	Score    float64                // 相似度分数，[0,1]
	Metadata map[string]interface{} // 载荷数据
}

// Enrichment LLM富化评估的结果，四个字段与提示词约定的JSON一一对应
type Enrichment struct {
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Summary        string   `json:"summary"`
	FitScore       float64  `json:"fit_score"`
}

// MatchResult 匹配运行中单份简历的最终结果行
type MatchResult struct {
	ResumeID       string   `json:"resume_id"`
	CandidateName  string   `json:"candidate_name"`
	Similarity     float64  `json:"similarity"`
	FitScore       *float64 `json:"fit_score,omitempty"`
	MatchingSkills []string `json:"matching_skills"`
	MissingSkills  []string `json:"missing_skills"`
	Summary        string   `json:"summary"`
	// Cached 为true表示复用了既有的比较记录，未重新调用LLM
	Cached bool `json:"cached"`
}

// EffectiveScore 排序/分档使用的有效分数：优先fitScore，缺失时回退similarity
func (r *MatchResult) EffectiveScore() float64 {
	if r.FitScore != nil {
		return *r.FitScore
	}
	return r.Similarity
}
