package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/parser"
)

func newTestChunker(t *testing.T) *parser.TokenChunker {
	t.Helper()
	chunker, err := parser.NewTokenChunker(config.ChunkerConfig{
		WindowTokens:  20,
		OverlapTokens: 5,
		Encoding:      "cl100k_base",
	})
	require.NoError(t, err)
	return chunker
}

func newIngestorUnderTest(t *testing.T, store *fakeStore, vectors *fakeVectorIndex, options ...IngestionOption) *IngestionProcessor {
	t.Helper()
	embedder := &fakeEmbedder{vector: []float64{0.1, 0.2, 0.3}}
	return NewIngestionProcessor(store, vectors, embedder, newTestChunker(t), options...)
}

// TestIngestJobValidation 空标题或空描述被拒绝
func TestIngestJobValidation(t *testing.T) {
	ingestor := newIngestorUnderTest(t, newFakeStore(), newFakeVectorIndex())

	_, err := ingestor.IngestJob(context.Background(), "", "有效的岗位描述")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ingestor.IngestJob(context.Background(), "Go工程师", "   ")
	assert.ErrorIs(t, err, ErrValidation)
}

// TestIngestJobSuccess 岗位摄取写齐行、向量点、兜底行、缓存和事件
func TestIngestJobSuccess(t *testing.T) {
	store := newFakeStore()
	vectors := newFakeVectorIndex()
	cache := newFakeCache()
	publisher := &fakePublisher{}

	ingestor := newIngestorUnderTest(t, store, vectors,
		WithIngestionCache(cache),
		WithIngestionEvents(publisher),
	)

	job, err := ingestor.IngestJob(context.Background(), "Go工程师", "负责后端服务开发。")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.NotEmpty(t, job.JobID)

	// 岗位行与向量兜底行
	assert.Contains(t, store.jobs, job.JobID)
	assert.Contains(t, store.jobVectors, job.JobID)
	assert.Equal(t, "test-embed-v1", store.jobVectors[job.JobID].EmbeddingModelVersion)

	// 向量点键格式 job-<jobID>
	expectedKey := fmt.Sprintf(constants.JobVectorKeyFormat, job.JobID)
	record, ok := vectors.records[constants.NamespaceJobs][expectedKey]
	require.True(t, ok, "向量索引中应存在 %s", expectedKey)
	assert.Equal(t, job.JobID, record.Metadata["jobId"])

	// 缓存与事件
	assert.Contains(t, cache.vectors, job.JobID)
	assert.Equal(t, []string{constants.JobIngestedRoutingKey}, publisher.events)
}

// TestIngestJobEmbedFailure 向量化失败时不留下任何岗位数据
func TestIngestJobEmbedFailure(t *testing.T) {
	store := newFakeStore()
	vectors := newFakeVectorIndex()
	embedder := &fakeEmbedder{err: errors.New("quota exceeded")}
	ingestor := NewIngestionProcessor(store, vectors, embedder, newTestChunker(t))

	_, err := ingestor.IngestJob(context.Background(), "Go工程师", "负责后端服务开发。")
	assert.ErrorIs(t, err, ErrUpstreamFailed)
	assert.Empty(t, store.jobs)
	assert.Empty(t, vectors.records)
}

// TestIngestResumeSuccess 简历摄取产出分块行和带元数据的向量点
func TestIngestResumeSuccess(t *testing.T) {
	store := newFakeStore()
	seedJob(store, "job-1")
	vectors := newFakeVectorIndex()
	archive := newFakeArchive()
	publisher := &fakePublisher{}

	ingestor := newIngestorUnderTest(t, store, vectors,
		WithIngestionArchive(archive),
		WithIngestionEvents(publisher),
	)

	resumeText := "五年Go后端开发经验，负责过订单系统和支付网关，熟悉MySQL、Redis和Kafka，有高并发调优经验。"
	resume, duplicate, err := ingestor.IngestResume(context.Background(), "job-1", "张三", resumeText)
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, resume)

	chunks := store.chunks[resume.ResumeID]
	require.NotEmpty(t, chunks)

	// 每个分块一个向量点，键格式 res-<resumeID>-<chunkIndex>
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.ChunkIndex)
		key := fmt.Sprintf(constants.ResumeChunkVectorKeyFormat, resume.ResumeID, i)
		record, ok := vectors.records[constants.NamespaceResumes][key]
		require.True(t, ok, "缺少向量点 %s", key)
		assert.Equal(t, "job-1", record.Metadata["jobId"])
		assert.Equal(t, resume.ResumeID, record.Metadata["resumeId"])
	}

	assert.Equal(t, resumeText, archive.archived[resume.ResumeID])
	assert.Equal(t, []string{constants.ResumeIngestedRoutingKey}, publisher.events)
}

// TestIngestResumeDuplicate 同岗位下相同全文的简历被跳过
func TestIngestResumeDuplicate(t *testing.T) {
	store := newFakeStore()
	seedJob(store, "job-1")
	cache := newFakeCache()
	ingestor := newIngestorUnderTest(t, store, newFakeVectorIndex(), WithIngestionCache(cache))

	text := "五年Go后端开发经验，熟悉MySQL。"
	first, duplicate, err := ingestor.IngestResume(context.Background(), "job-1", "张三", text)
	require.NoError(t, err)
	assert.False(t, duplicate)
	require.NotNil(t, first)

	second, duplicate, err := ingestor.IngestResume(context.Background(), "job-1", "李四", text)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Nil(t, second)
	assert.Len(t, store.resumes, 1)
}

// TestIngestResumeJobNotFound 目标岗位不存在
func TestIngestResumeJobNotFound(t *testing.T) {
	ingestor := newIngestorUnderTest(t, newFakeStore(), newFakeVectorIndex())

	_, _, err := ingestor.IngestResume(context.Background(), "missing", "张三", "内容")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// TestIngestResumeEmbedFailureRollsBackDedup 向量化失败时撤销去重登记
func TestIngestResumeEmbedFailureRollsBackDedup(t *testing.T) {
	store := newFakeStore()
	seedJob(store, "job-1")
	cache := newFakeCache()
	embedder := &fakeEmbedder{err: errors.New("embedding down")}
	ingestor := NewIngestionProcessor(store, newFakeVectorIndex(), embedder, newTestChunker(t),
		WithIngestionCache(cache))

	text := "五年Go后端开发经验。"
	_, _, err := ingestor.IngestResume(context.Background(), "job-1", "张三", text)
	assert.ErrorIs(t, err, ErrUpstreamFailed)

	// MD5登记被撤销，修复后重试不会被判为重复
	assert.Empty(t, cache.md5Sets["job-1"])
}

// TestDeleteResume 级联删除行、向量点、去重记录和归档
func TestDeleteResume(t *testing.T) {
	store := newFakeStore()
	seedJob(store, "job-1")
	vectors := newFakeVectorIndex()
	cache := newFakeCache()
	archive := newFakeArchive()

	ingestor := newIngestorUnderTest(t, store, vectors,
		WithIngestionCache(cache),
		WithIngestionArchive(archive),
	)

	resume, _, err := ingestor.IngestResume(context.Background(), "job-1", "张三",
		"五年Go后端开发经验，熟悉MySQL、Redis和Kafka。")
	require.NoError(t, err)

	require.NoError(t, ingestor.DeleteResume(context.Background(), resume.ResumeID))

	assert.NotContains(t, store.resumes, resume.ResumeID)
	assert.Empty(t, vectors.records[constants.NamespaceResumes])
	assert.Empty(t, cache.md5Sets["job-1"])
	assert.Contains(t, archive.deleted, resume.ResumeID)
}

// TestDeleteResumeNotFound 删除不存在的简历
func TestDeleteResumeNotFound(t *testing.T) {
	ingestor := newIngestorUnderTest(t, newFakeStore(), newFakeVectorIndex())
	err := ingestor.DeleteResume(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrResumeNotFound)
}

// TestDeleteJob 删除岗位连带简历、两个命名空间的向量点和缓存
func TestDeleteJob(t *testing.T) {
	store := newFakeStore()
	vectors := newFakeVectorIndex()
	cache := newFakeCache()
	archive := newFakeArchive()

	ingestor := newIngestorUnderTest(t, store, vectors,
		WithIngestionCache(cache),
		WithIngestionArchive(archive),
	)

	job, err := ingestor.IngestJob(context.Background(), "Go工程师", "负责后端服务开发。")
	require.NoError(t, err)
	resume, _, err := ingestor.IngestResume(context.Background(), job.JobID, "张三", "五年Go后端开发经验。")
	require.NoError(t, err)

	require.NoError(t, ingestor.DeleteJob(context.Background(), job.JobID))

	assert.Empty(t, store.jobs)
	assert.Empty(t, store.jobVectors)
	assert.Empty(t, store.resumes)
	assert.Empty(t, vectors.records[constants.NamespaceJobs])
	assert.Empty(t, vectors.records[constants.NamespaceResumes])
	assert.Empty(t, cache.vectors)
	assert.Empty(t, cache.md5Sets)
	assert.Contains(t, archive.deleted, resume.ResumeID)

	err = ingestor.DeleteJob(context.Background(), job.JobID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

// TestDeleteResumesByJob 按岗位批量删除
func TestDeleteResumesByJob(t *testing.T) {
	store := newFakeStore()
	seedJob(store, "job-1")
	vectors := newFakeVectorIndex()
	cache := newFakeCache()

	ingestor := newIngestorUnderTest(t, store, vectors, WithIngestionCache(cache))

	_, _, err := ingestor.IngestResume(context.Background(), "job-1", "张三", "第一份简历内容，Go和MySQL。")
	require.NoError(t, err)
	_, _, err = ingestor.IngestResume(context.Background(), "job-1", "李四", "第二份简历内容，Java和Oracle。")
	require.NoError(t, err)

	deleted, err := ingestor.DeleteResumesByJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)
	assert.Empty(t, store.resumes)
	assert.Empty(t, vectors.records[constants.NamespaceResumes])
	assert.Empty(t, cache.md5Sets)
}
