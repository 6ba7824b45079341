package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"resume-match-go/internal/config"
	"resume-match-go/internal/storage/models"
)

var mysqlTracer = otel.Tracer("resume-match-go/storage/mysql")

// GormTracingPlugin 是一个GORM插件，用于向OpenTelemetry中添加数据库操作的追踪点
type GormTracingPlugin struct {
	tracer   trace.Tracer
	dbName   string
	dbSystem string
}

// Name 返回插件名称
func (p *GormTracingPlugin) Name() string {
	return "GormOpenTelemetryPlugin"
}

// Initialize 注册GORM回调以启用追踪
func (p *GormTracingPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()

	if err := cb.Create().Before("gorm:create").Register("otel:before_create", p.before("CREATE")); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("otel:after_create", p.after()); err != nil {
		return err
	}

	if err := cb.Query().Before("gorm:query").Register("otel:before_query", p.before("SELECT")); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("otel:after_query", p.after()); err != nil {
		return err
	}

	if err := cb.Update().Before("gorm:update").Register("otel:before_update", p.before("UPDATE")); err != nil {
		return err
	}
	if err := cb.Update().After("gorm:update").Register("otel:after_update", p.after()); err != nil {
		return err
	}

	if err := cb.Delete().Before("gorm:delete").Register("otel:before_delete", p.before("DELETE")); err != nil {
		return err
	}
	if err := cb.Delete().After("gorm:delete").Register("otel:after_delete", p.after()); err != nil {
		return err
	}

	if err := cb.Raw().Before("gorm:raw").Register("otel:before_raw", p.before("RAW")); err != nil {
		return err
	}
	if err := cb.Raw().After("gorm:raw").Register("otel:after_raw", p.after()); err != nil {
		return err
	}

	return nil
}

type gormSpanKey struct{}

// before 返回在GORM操作之前执行的回调函数
func (p *GormTracingPlugin) before(operation string) func(db *gorm.DB) {
	return func(db *gorm.DB) {
		ctx := db.Statement.Context
		if ctx == nil {
			ctx = context.Background()
		}

		tableName := db.Statement.Table
		if tableName == "" {
			tableName = "unknown"
		}

		spanName := fmt.Sprintf("%s %s", operation, tableName)
		newCtx, _ := p.tracer.Start(ctx, spanName,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				semconv.DBSystemMySQL,
				attribute.String("db.name", p.dbName),
				attribute.String("db.operation", operation),
				attribute.String("db.sql.table", tableName),
			),
		)

		db.Statement.Context = newCtx
	}
}

// after 返回在GORM操作之后执行的回调函数
func (p *GormTracingPlugin) after() func(db *gorm.DB) {
	return func(db *gorm.DB) {
		span := trace.SpanFromContext(db.Statement.Context)
		if !span.IsRecording() {
			return
		}
		defer span.End()

		span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))

		if db.Error != nil {
			if errors.Is(db.Error, gorm.ErrRecordNotFound) {
				// 未命中记录是业务正常分支，不算错误
				span.SetAttributes(attribute.String("error.type", "record_not_found"))
				span.SetStatus(codes.Ok, "record not found")
			} else {
				span.SetAttributes(attribute.String("error.type", "database_error"))
				span.RecordError(db.Error)
				span.SetStatus(codes.Error, db.Error.Error())
			}
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}

// NewGormTracingPlugin 创建一个新的GORM追踪插件
func NewGormTracingPlugin(dbName string) *GormTracingPlugin {
	return &GormTracingPlugin{
		tracer:   mysqlTracer,
		dbName:   dbName,
		dbSystem: "mysql",
	}
}

// MySQL 提供关系数据库功能
type MySQL struct {
	db  *gorm.DB
	cfg *config.MySQLConfig
}

// NewMySQL 创建MySQL客户端并自动迁移表结构
func NewMySQL(cfg *config.MySQLConfig) (*MySQL, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MySQL配置不能为空")
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&timeout=%ds&readTimeout=%ds&writeTimeout=%ds",
		cfg.Username, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
		cfg.ConnectTimeoutSeconds, cfg.ReadTimeoutSeconds, cfg.WriteTimeoutSeconds)

	var logLevel logger.LogLevel
	switch cfg.LogLevel {
	case 1:
		logLevel = logger.Silent
	case 2:
		logLevel = logger.Error
	case 3:
		logLevel = logger.Warn
	case 4:
		logLevel = logger.Info
	default:
		logLevel = logger.Error
	}

	gormConfig := &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   logger.Default.LogMode(logLevel),
		PrepareStmt:                              true,
		NowFunc: func() time.Time {
			return time.Now().Local()
		},
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("连接MySQL失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute)

	m := &MySQL{
		db:  db,
		cfg: cfg,
	}

	if err := db.Use(NewGormTracingPlugin(cfg.Database)); err != nil {
		return nil, fmt.Errorf("注册追踪插件失败: %w", err)
	}

	if err := m.autoMigrateSchema(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("自动迁移数据库结构失败: %w", err)
	}

	return m, nil
}

// autoMigrateSchema 使用GORM自动迁移数据库表结构
func (m *MySQL) autoMigrateSchema() error {
	// 迁移阶段关闭SQL日志打印
	silentLogger := logger.New(
		log.New(log.Writer(), "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	silentDB := m.db.Session(&gorm.Session{Logger: silentLogger})

	err := silentDB.AutoMigrate(
		&models.Job{},
		&models.JobVector{},
		&models.Resume{},
		&models.ResumeChunk{},
		&models.Comparison{},
	)
	if err != nil {
		return fmt.Errorf("GORM自动迁移失败: %w", err)
	}
	return nil
}

// DB 返回GORM数据库连接实例
func (m *MySQL) DB() *gorm.DB {
	return m.db
}

// Close 关闭数据库连接
func (m *MySQL) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	return sqlDB.Close()
}

// CreateJob 创建岗位记录
func (m *MySQL) CreateJob(ctx context.Context, job *models.Job) error {
	return m.db.WithContext(ctx).Create(job).Error
}

// GetJobByID 通过JobID获取岗位记录
func (m *MySQL) GetJobByID(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs 按创建时间倒序列出所有岗位
func (m *MySQL) ListJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := m.db.WithContext(ctx).Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// CountJobs 统计岗位总数
func (m *MySQL) CountJobs(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.Job{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountResumes 统计简历总数
func (m *MySQL) CountResumes(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.Resume{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// CountComparisons 统计比较记录总数
func (m *MySQL) CountComparisons(ctx context.Context) (int64, error) {
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.Comparison{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertJobVector 保存岗位向量的关系型缓存。重复摄取同一岗位时覆盖旧值。
func (m *MySQL) UpsertJobVector(ctx context.Context, jobVector *models.JobVector) error {
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"vector_representation", "embedding_model_version", "updated_at"}),
		}).Create(jobVector).Error
}

// GetJobVectorByID 通过JobID获取岗位向量缓存行
func (m *MySQL) GetJobVectorByID(ctx context.Context, jobID string) (*models.JobVector, error) {
	var jobVector models.JobVector
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).First(&jobVector).Error; err != nil {
		return nil, err
	}
	return &jobVector, nil
}

// CreateResumeWithChunks 在一个事务中写入简历及其全部分块。
// 分块按chunk_index升序写入；任一失败则整体回滚，不会留下半截简历。
func (m *MySQL) CreateResumeWithChunks(ctx context.Context, resume *models.Resume, chunks []models.ResumeChunk) error {
	ctx, span := mysqlTracer.Start(ctx, "MySQL.CreateResumeWithChunks",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		semconv.DBSystemMySQL,
		attribute.String("db.name", m.cfg.Database),
		attribute.String("resume.id", resume.ResumeID),
		attribute.Int("chunk.count", len(chunks)),
	)

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(resume).Error; err != nil {
			return fmt.Errorf("写入简历失败: %w", err)
		}
		if len(chunks) > 0 {
			if err := tx.Create(&chunks).Error; err != nil {
				return fmt.Errorf("写入简历分块失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetResumeByID 通过ResumeID获取简历记录
func (m *MySQL) GetResumeByID(ctx context.Context, resumeID string) (*models.Resume, error) {
	var resume models.Resume
	if err := m.db.WithContext(ctx).Where("resume_id = ?", resumeID).First(&resume).Error; err != nil {
		return nil, err
	}
	return &resume, nil
}

// ListResumesByJob 列出岗位下的全部简历
func (m *MySQL) ListResumesByJob(ctx context.Context, jobID string) ([]models.Resume, error) {
	var resumes []models.Resume
	if err := m.db.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at ASC").Find(&resumes).Error; err != nil {
		return nil, err
	}
	return resumes, nil
}

// CountResumesByJob 统计岗位下的简历数量
func (m *MySQL) CountResumesByJob(ctx context.Context, jobID string) (int64, error) {
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.Resume{}).Where("job_id = ?", jobID).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// ListChunkIndexes 列出简历的全部chunk_index，升序
func (m *MySQL) ListChunkIndexes(ctx context.Context, resumeID string) ([]int, error) {
	var indexes []int
	err := m.db.WithContext(ctx).Model(&models.ResumeChunk{}).
		Where("resume_id = ?", resumeID).
		Order("chunk_index ASC").
		Pluck("chunk_index", &indexes).Error
	if err != nil {
		return nil, err
	}
	return indexes, nil
}

// DeleteResumeCascade 在一个事务中删除简历及其分块与比较记录。
// 返回被删除简历的分块索引，供调用方清理向量索引。
func (m *MySQL) DeleteResumeCascade(ctx context.Context, resumeID string) ([]int, error) {
	chunkIndexes, err := m.ListChunkIndexes(ctx, resumeID)
	if err != nil {
		return nil, fmt.Errorf("读取简历分块索引失败: %w", err)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resume_id = ?", resumeID).Delete(&models.Comparison{}).Error; err != nil {
			return fmt.Errorf("删除比较记录失败: %w", err)
		}
		if err := tx.Where("resume_id = ?", resumeID).Delete(&models.ResumeChunk{}).Error; err != nil {
			return fmt.Errorf("删除简历分块失败: %w", err)
		}
		result := tx.Where("resume_id = ?", resumeID).Delete(&models.Resume{})
		if result.Error != nil {
			return fmt.Errorf("删除简历失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunkIndexes, nil
}

// DeleteResumesByJobCascade 在一个事务中删除岗位下全部简历及关联数据。
// 返回被删除的简历ID，供调用方清理向量索引与归档。
func (m *MySQL) DeleteResumesByJobCascade(ctx context.Context, jobID string) ([]string, error) {
	var resumeIDs []string
	err := m.db.WithContext(ctx).Model(&models.Resume{}).
		Where("job_id = ?", jobID).
		Pluck("resume_id", &resumeIDs).Error
	if err != nil {
		return nil, fmt.Errorf("读取岗位简历ID失败: %w", err)
	}
	if len(resumeIDs) == 0 {
		return []string{}, nil
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.Comparison{}).Error; err != nil {
			return fmt.Errorf("删除比较记录失败: %w", err)
		}
		if err := tx.Where("resume_id IN ?", resumeIDs).Delete(&models.ResumeChunk{}).Error; err != nil {
			return fmt.Errorf("删除简历分块失败: %w", err)
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.Resume{}).Error; err != nil {
			return fmt.Errorf("删除简历失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resumeIDs, nil
}

// DeleteJobCascade 在一个事务中删除岗位及其向量兜底行、全部简历、
// 分块与比较记录。返回被删除的简历ID，供调用方清理向量索引与归档。
func (m *MySQL) DeleteJobCascade(ctx context.Context, jobID string) ([]string, error) {
	var resumeIDs []string
	err := m.db.WithContext(ctx).Model(&models.Resume{}).
		Where("job_id = ?", jobID).
		Pluck("resume_id", &resumeIDs).Error
	if err != nil {
		return nil, fmt.Errorf("读取岗位简历ID失败: %w", err)
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.Comparison{}).Error; err != nil {
			return fmt.Errorf("删除比较记录失败: %w", err)
		}
		if len(resumeIDs) > 0 {
			if err := tx.Where("resume_id IN ?", resumeIDs).Delete(&models.ResumeChunk{}).Error; err != nil {
				return fmt.Errorf("删除简历分块失败: %w", err)
			}
			if err := tx.Where("job_id = ?", jobID).Delete(&models.Resume{}).Error; err != nil {
				return fmt.Errorf("删除简历失败: %w", err)
			}
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.JobVector{}).Error; err != nil {
			return fmt.Errorf("删除岗位向量兜底行失败: %w", err)
		}
		result := tx.Where("job_id = ?", jobID).Delete(&models.Job{})
		if result.Error != nil {
			return fmt.Errorf("删除岗位失败: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resumeIDs, nil
}

// UpsertComparison 保存比较记录。(job_id, resume_id)冲突时整行覆盖，
// 并发匹配运行写同一键只会留下最后一次的结果。
func (m *MySQL) UpsertComparison(ctx context.Context, comparison *models.Comparison) error {
	return m.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "job_id"}, {Name: "resume_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_id", "similarity", "fit_score", "matching_skills", "missing_skills", "summary",
			}),
		}).Create(comparison).Error
}

// GetComparisonsByJobAndResumes 取出岗位下指定简历的已有比较记录，
// 用于匹配运行的缓存命中判定。
func (m *MySQL) GetComparisonsByJobAndResumes(ctx context.Context, jobID string, resumeIDs []string) (map[string]*models.Comparison, error) {
	result := make(map[string]*models.Comparison, len(resumeIDs))
	if len(resumeIDs) == 0 {
		return result, nil
	}

	var comparisons []models.Comparison
	err := m.db.WithContext(ctx).
		Where("job_id = ? AND resume_id IN ?", jobID, resumeIDs).
		Find(&comparisons).Error
	if err != nil {
		return nil, err
	}
	for i := range comparisons {
		result[comparisons[i].ResumeID] = &comparisons[i]
	}
	return result, nil
}

// ComparisonQueryOptions 比较记录分页查询参数
type ComparisonQueryOptions struct {
	Page        int
	Limit       int
	SortBy      string // fit | similarity | candidate | created_at
	SortOrder   string // asc | desc
	Search      string // 候选人姓名子串，大小写不敏感
	ScoreFilter string // excellent | good | fair | poor，空串表示不过滤
}

// ComparisonWithCandidate 比较记录连带候选人姓名
type ComparisonWithCandidate struct {
	models.Comparison
	CandidateName string `gorm:"column:candidate_name"`
}

// effectiveScoreExpr 与 models.Comparison.EffectiveScore 保持一致的SQL表达式
const effectiveScoreExpr = "COALESCE(comparisons.fit_score, comparisons.similarity)"

// ListComparisonsByJob 分页查询岗位下的比较记录，连表取候选人姓名。
// 返回记录页和过滤后的总数。
func (m *MySQL) ListComparisonsByJob(ctx context.Context, jobID string, opts ComparisonQueryOptions) ([]ComparisonWithCandidate, int64, error) {
	query := m.db.WithContext(ctx).Model(&models.Comparison{}).
		Select("comparisons.*, resumes.candidate_name AS candidate_name").
		Joins("JOIN resumes ON resumes.resume_id = comparisons.resume_id").
		Where("comparisons.job_id = ?", jobID)

	if opts.Search != "" {
		query = query.Where("LOWER(resumes.candidate_name) LIKE ?", "%"+opts.Search+"%")
	}

	if opts.ScoreFilter != "" {
		min, max, ok := scoreFilterRange(opts.ScoreFilter)
		if !ok {
			return nil, 0, fmt.Errorf("无效的分数档位: %s", opts.ScoreFilter)
		}
		query = query.Where(effectiveScoreExpr+" >= ?", min)
		if max > 0 {
			query = query.Where(effectiveScoreExpr+" < ?", max)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var sortColumn string
	switch opts.SortBy {
	case "similarity":
		sortColumn = "comparisons.similarity"
	case "candidate":
		sortColumn = "resumes.candidate_name"
	case "created_at":
		sortColumn = "comparisons.created_at"
	default: // fit
		sortColumn = effectiveScoreExpr
	}
	direction := "DESC"
	if opts.SortOrder == "asc" {
		direction = "ASC"
	}
	query = query.Order(sortColumn + " " + direction)

	offset := (opts.Page - 1) * opts.Limit
	var rows []ComparisonWithCandidate
	if err := query.Offset(offset).Limit(opts.Limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// scoreFilterRange 档位名到有效分数区间。最高档无上界，max返回0表示不设上界。
func scoreFilterRange(bucket string) (min float64, max float64, ok bool) {
	switch bucket {
	case "excellent":
		return 0.80, 0, true
	case "good":
		return 0.60, 0.80, true
	case "fair":
		return 0.40, 0.60, true
	case "poor":
		return 0, 0.40, true
	default:
		return 0, 0, false
	}
}

// ListComparisonsByUser 按时间倒序列出某用户发起的全部历史比较记录
func (m *MySQL) ListComparisonsByUser(ctx context.Context, userID string) ([]ComparisonWithCandidate, error) {
	var rows []ComparisonWithCandidate
	err := m.db.WithContext(ctx).Model(&models.Comparison{}).
		Select("comparisons.*, resumes.candidate_name AS candidate_name").
		Joins("JOIN resumes ON resumes.resume_id = comparisons.resume_id").
		Where("comparisons.user_id = ?", userID).
		Order("comparisons.created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
