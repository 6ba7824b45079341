package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"gorm.io/gorm"

	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// fakeStore 内存版关系存储
type fakeStore struct {
	mu          sync.Mutex
	jobs        map[string]*models.Job
	jobVectors  map[string]*models.JobVector
	resumes     map[string]*models.Resume
	chunks      map[string][]models.ResumeChunk
	comparisons map[string]*models.Comparison // key: jobID|resumeID

	upsertedComparisons []*models.Comparison
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:        make(map[string]*models.Job),
		jobVectors:  make(map[string]*models.JobVector),
		resumes:     make(map[string]*models.Resume),
		chunks:      make(map[string][]models.ResumeChunk),
		comparisons: make(map[string]*models.Comparison),
	}
}

func comparisonKey(jobID, resumeID string) string {
	return jobID + "|" + resumeID
}

func (s *fakeStore) CreateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.JobID] = job
	return nil
}

func (s *fakeStore) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return job, nil
}

func (s *fakeStore) UpsertJobVector(ctx context.Context, jobVector *models.JobVector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobVectors[jobVector.JobID] = jobVector
	return nil
}

func (s *fakeStore) GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	jv, ok := s.jobVectors[jobID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return jv, nil
}

func (s *fakeStore) CreateResumeWithChunks(ctx context.Context, resume *models.Resume, chunks []models.ResumeChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resumes[resume.ResumeID] = resume
	s.chunks[resume.ResumeID] = chunks
	return nil
}

func (s *fakeStore) GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resume, ok := s.resumes[resumeID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return resume, nil
}

func (s *fakeStore) ListResumesByJob(ctx context.Context, jobID string) ([]models.Resume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Resume
	for _, resume := range s.resumes {
		if resume.JobID == jobID {
			out = append(out, *resume)
		}
	}
	return out, nil
}

func (s *fakeStore) GetComparisonsByJobAndResumes(ctx context.Context, jobID string, resumeIDs []string) (map[string]*models.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*models.Comparison)
	for _, resumeID := range resumeIDs {
		if c, ok := s.comparisons[comparisonKey(jobID, resumeID)]; ok {
			out[resumeID] = c
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertComparison(ctx context.Context, comparison *models.Comparison) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comparisons[comparisonKey(comparison.JobID, comparison.ResumeID)] = comparison
	s.upsertedComparisons = append(s.upsertedComparisons, comparison)
	return nil
}

func (s *fakeStore) DeleteResumeCascade(ctx context.Context, resumeID string) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resume, ok := s.resumes[resumeID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	var indexes []int
	for _, chunk := range s.chunks[resumeID] {
		indexes = append(indexes, chunk.ChunkIndex)
	}
	delete(s.resumes, resumeID)
	delete(s.chunks, resumeID)
	delete(s.comparisons, comparisonKey(resume.JobID, resumeID))
	return indexes, nil
}

func (s *fakeStore) DeleteResumesByJobCascade(ctx context.Context, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted []string
	for resumeID, resume := range s.resumes {
		if resume.JobID == jobID {
			deleted = append(deleted, resumeID)
			delete(s.resumes, resumeID)
			delete(s.chunks, resumeID)
			delete(s.comparisons, comparisonKey(jobID, resumeID))
		}
	}
	return deleted, nil
}

func (s *fakeStore) DeleteJobCascade(ctx context.Context, jobID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return nil, gorm.ErrRecordNotFound
	}
	var deleted []string
	for resumeID, resume := range s.resumes {
		if resume.JobID == jobID {
			deleted = append(deleted, resumeID)
			delete(s.resumes, resumeID)
			delete(s.chunks, resumeID)
			delete(s.comparisons, comparisonKey(jobID, resumeID))
		}
	}
	delete(s.jobs, jobID)
	delete(s.jobVectors, jobID)
	return deleted, nil
}

// fakeVectorIndex 内存版向量索引
type fakeVectorIndex struct {
	mu      sync.Mutex
	records map[string]map[string]types.VectorRecord // namespace -> key -> record

	searchResults []types.SearchResult
	searchErr     error
	upsertErr     error

	deletedKeys    []string
	deletedFilters []string
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{records: make(map[string]map[string]types.VectorRecord)}
}

func (v *fakeVectorIndex) Upsert(ctx context.Context, namespace string, records []types.VectorRecord) error {
	if v.upsertErr != nil {
		return v.upsertErr
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.records[namespace] == nil {
		v.records[namespace] = make(map[string]types.VectorRecord)
	}
	for _, record := range records {
		v.records[namespace][record.Key] = record
	}
	return nil
}

// Search 预设了searchResults时原样返回；否则对已写入的向量点
// 按过滤条件计算余弦相似度并降序截取topK。
func (v *fakeVectorIndex) Search(ctx context.Context, namespace string, queryVector []float64, topK int, filter map[string]interface{}) ([]types.SearchResult, error) {
	if v.searchErr != nil {
		return nil, v.searchErr
	}
	if v.searchResults != nil {
		return v.searchResults, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	var out []types.SearchResult
	for key, record := range v.records[namespace] {
		matched := true
		for field, value := range filter {
			if record.Metadata[field] != value {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, types.SearchResult{
			Key:      key,
			Score:    cosineSimilarity(queryVector, record.Vector),
			Metadata: record.Metadata,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (v *fakeVectorIndex) FetchByKeys(ctx context.Context, namespace string, keys []string) ([]types.VectorRecord, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []types.VectorRecord
	for _, key := range keys {
		if record, ok := v.records[namespace][key]; ok {
			out = append(out, record)
		}
	}
	return out, nil
}

func (v *fakeVectorIndex) DeleteByKeys(ctx context.Context, namespace string, keys []string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, key := range keys {
		delete(v.records[namespace], key)
		v.deletedKeys = append(v.deletedKeys, key)
	}
	return nil
}

func (v *fakeVectorIndex) DeleteByFilter(ctx context.Context, namespace string, field string, value interface{}) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletedFilters = append(v.deletedFilters, fmt.Sprintf("%s/%s=%v", namespace, field, value))
	for key, record := range v.records[namespace] {
		if record.Metadata[field] == value {
			delete(v.records[namespace], key)
		}
	}
	return nil
}

// fakeEmbedder 返回固定向量；vectorsByText可按文本指定向量，用于区分相似度
type fakeEmbedder struct {
	vector        []float64
	vectorsByText map[string][]float64
	err           error

	mu    sync.Mutex
	calls int
}

func (e *fakeEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if vector, ok := e.vectorsByText[text]; ok {
			out[i] = vector
			continue
		}
		out[i] = e.vector
	}
	return out, nil
}

func (e *fakeEmbedder) ModelVersion() string {
	return "test-embed-v1"
}

// fakeEnricher 可编程的富化评估器
type fakeEnricher struct {
	mu     sync.Mutex
	calls  int
	result *types.Enrichment
	err    error
}

func (e *fakeEnricher) EnrichMatch(ctx context.Context, jobDescription string, resumeText string, similarity float64) (*types.Enrichment, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// fakeCache 内存版向量缓存与去重
type fakeCache struct {
	mu         sync.Mutex
	vectors    map[string][]float64
	versions   map[string]string
	md5Sets    map[string]map[string]bool
	getErr     error
	setCount   int
	checkCount int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		vectors:  make(map[string][]float64),
		versions: make(map[string]string),
		md5Sets:  make(map[string]map[string]bool),
	}
}

func (c *fakeCache) GetJobVector(ctx context.Context, jobID string) ([]float64, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, "", c.getErr
	}
	vector, ok := c.vectors[jobID]
	if !ok {
		return nil, "", fmt.Errorf("miss")
	}
	return vector, c.versions[jobID], nil
}

func (c *fakeCache) SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[jobID] = vector
	c.versions[jobID] = modelVersion
	c.setCount++
	return nil
}

func (c *fakeCache) DeleteJobVector(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.vectors, jobID)
	delete(c.versions, jobID)
	return nil
}

func (c *fakeCache) CheckAndAddResumeTextMD5(ctx context.Context, jobID string, md5Hex string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checkCount++
	if c.md5Sets[jobID] == nil {
		c.md5Sets[jobID] = make(map[string]bool)
	}
	if c.md5Sets[jobID][md5Hex] {
		return true, nil
	}
	c.md5Sets[jobID][md5Hex] = true
	return false, nil
}

func (c *fakeCache) RemoveResumeTextMD5(ctx context.Context, jobID string, md5Hex string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.md5Sets[jobID], md5Hex)
	return nil
}

func (c *fakeCache) DeleteResumeMD5Set(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.md5Sets, jobID)
	return nil
}

// fakePublisher 记录发布的事件
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePublisher) PublishJSON(ctx context.Context, routingKey string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

// fakeArchive 记录归档操作
type fakeArchive struct {
	mu       sync.Mutex
	archived map[string]string
	deleted  []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{archived: make(map[string]string)}
}

func (a *fakeArchive) ArchiveResumeText(ctx context.Context, resumeID string, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived[resumeID] = text
	return "resumes/" + resumeID + ".txt", nil
}

func (a *fakeArchive) DeleteResumeText(ctx context.Context, resumeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.archived, resumeID)
	a.deleted = append(a.deleted, resumeID)
	return nil
}
