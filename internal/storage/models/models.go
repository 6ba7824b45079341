package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"resume-match-go/internal/constants"
)

// Job 岗位信息表
type Job struct {
	JobID              string    `gorm:"type:char(36);primaryKey" json:"job_id"`
	Title              string    `gorm:"type:varchar(255);not null" json:"title"`
	JobDescriptionText string    `gorm:"type:text;not null" json:"jd_text"`
	CreatedAt          time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)" json:"created_at"`
	UpdatedAt          time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime" json:"-"`
}

func (Job) TableName() string {
	return "jobs"
}

// JobVector 岗位描述向量的关系型缓存。向量索引是主来源，这里是兜底。
// 注意：岗位描述被编辑后向量不会自动刷新（已知的陈旧策略）。
type JobVector struct {
	JobID                 string    `gorm:"type:char(36);primaryKey"`
	VectorRepresentation  []byte    `gorm:"type:mediumblob;not null"` // JSON序列化后的向量
	EmbeddingModelVersion string    `gorm:"type:varchar(100);not null"`
	CreatedAt             time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt             time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`

	Job Job `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (JobVector) TableName() string {
	return "job_vectors"
}

// Resume 简历表。全文一经创建不可变。
type Resume struct {
	ResumeID      string    `gorm:"type:char(36);primaryKey" json:"resume_id"`
	JobID         string    `gorm:"type:char(36);not null;index:idx_resumes_job_id" json:"job_id"`
	CandidateName string    `gorm:"type:varchar(255);not null" json:"candidate_name"`
	FullText      string    `gorm:"type:text;not null" json:"-"`
	CreatedAt     time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)" json:"created_at"`

	Job *Job `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (Resume) TableName() string {
	return "resumes"
}

// ResumeChunk 简历分块表。chunk_index是分块窗口在原文中出现的次序，
// 除了构成向量键 res-<resumeID>-<chunkIndex> 外没有其他用途。
type ResumeChunk struct {
	ChunkDBID  uint64    `gorm:"primaryKey;autoIncrement"`
	ResumeID   string    `gorm:"type:char(36);not null;index:idx_rc_resume_id;uniqueIndex:idx_rc_resume_chunk,priority:1"`
	ChunkIndex int       `gorm:"not null;uniqueIndex:idx_rc_resume_chunk,priority:2"`
	ChunkText  string    `gorm:"type:text;not null"`
	Embedding  []byte    `gorm:"type:mediumblob;not null"` // JSON序列化后的向量
	CreatedAt  time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`

	Resume *Resume `gorm:"foreignKey:ResumeID;references:ResumeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

func (ResumeChunk) TableName() string {
	return "resume_chunks"
}

// Comparison 岗位-简历比较结果表。
// (job_id, resume_id) 唯一索引把"比较记录当缓存"的语义落到约束上，
// 并发匹配运行重复判定同一简历为新时由upsert兜底，不会产生重复行。
type Comparison struct {
	ComparisonID   uint64         `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID         string         `gorm:"type:char(36);not null;index:idx_comp_user_id" json:"user_id"`
	JobID          string         `gorm:"type:char(36);not null;uniqueIndex:idx_comp_job_resume,priority:1" json:"job_id"`
	ResumeID       string         `gorm:"type:char(36);not null;index:idx_comp_resume_id;uniqueIndex:idx_comp_job_resume,priority:2" json:"resume_id"`
	Similarity     float64        `gorm:"type:double;not null" json:"similarity"`
	FitScore       *float64       `gorm:"type:double" json:"fit_score,omitempty"`
	MatchingSkills datatypes.JSON `gorm:"type:json" json:"matching_skills"`
	MissingSkills  datatypes.JSON `gorm:"type:json" json:"missing_skills"`
	Summary        string         `gorm:"type:text" json:"summary"`
	CreatedAt      time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)" json:"created_at"`

	Job    *Job    `gorm:"foreignKey:JobID;references:JobID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	Resume *Resume `gorm:"foreignKey:ResumeID;references:ResumeID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
}

func (Comparison) TableName() string {
	return "comparisons"
}

// EffectiveScore 排序与分档统一使用的有效分数：fitScore优先，缺失回退similarity。
// 所有读分数的调用点都必须走这里，不要在调用侧手写空值合并。
func (c *Comparison) EffectiveScore() float64 {
	if c.FitScore != nil {
		return *c.FitScore
	}
	return c.Similarity
}

// ScoreBucket 有效分数所属档位
func (c *Comparison) ScoreBucket() string {
	return BucketForScore(c.EffectiveScore())
}

// BucketForScore 分数→档位。下界为闭区间：0.8→excellent，0.6→good，0.4→fair。
func BucketForScore(score float64) string {
	switch {
	case score >= constants.ScoreExcellentMin:
		return "excellent"
	case score >= constants.ScoreGoodMin:
		return "good"
	case score >= constants.ScoreFairMin:
		return "fair"
	default:
		return "poor"
	}
}

// MatchingSkillsList 反序列化matching_skills列
func (c *Comparison) MatchingSkillsList() []string {
	return jsonToStrings(c.MatchingSkills)
}

// MissingSkillsList 反序列化missing_skills列
func (c *Comparison) MissingSkillsList() []string {
	return jsonToStrings(c.MissingSkills)
}

func jsonToStrings(j datatypes.JSON) []string {
	if len(j) == 0 {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal(j, &out); err != nil {
		return []string{}
	}
	return out
}

// StringsToJSON 将字符串切片序列化为JSON列值
func StringsToJSON(items []string) (datatypes.JSON, error) {
	if items == nil {
		items = []string{}
	}
	bytes, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

// VectorToBytes 向量的列存储编码
func VectorToBytes(vector []float64) ([]byte, error) {
	return json.Marshal(vector)
}

// VectorFromBytes 向量的列存储解码
func VectorFromBytes(data []byte) ([]float64, error) {
	var vector []float64
	if err := json.Unmarshal(data, &vector); err != nil {
		return nil, err
	}
	return vector, nil
}
