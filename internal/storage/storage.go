package storage

import (
	"context"
	"fmt"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖。
// MySQL和Qdrant是硬依赖，初始化失败直接返回错误；
// Redis、RabbitMQ、MinIO是旁路能力，未配置或失败时对应字段为nil。
type Storage struct {
	// 关系型数据库
	MySQL *MySQL

	// 向量数据库
	Qdrant *Qdrant

	// 键值存储
	Redis *Redis

	// 消息队列
	RabbitMQ *RabbitMQ

	// 对象存储
	MinIO *MinIO
}

// NewStorage 创建存储管理器
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	storage := &Storage{}
	var err error

	storage.MySQL, err = NewMySQL(&cfg.MySQL)
	if err != nil {
		return nil, fmt.Errorf("初始化MySQL失败: %w", err)
	}
	logger.Info().Str("database", cfg.MySQL.Database).Msg("MySQL客户端初始化成功")

	storage.Qdrant, err = NewQdrant(&cfg.Qdrant, []string{constants.NamespaceJobs, constants.NamespaceResumes})
	if err != nil {
		storage.MySQL.Close()
		return nil, fmt.Errorf("初始化Qdrant失败: %w", err)
	}
	logger.Info().Str("endpoint", cfg.Qdrant.Endpoint).Msg("Qdrant客户端初始化成功")

	if cfg.Redis.Address != "" {
		storage.Redis, err = NewRedisAdapter(&cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，向量缓存与去重不可用")
			storage.Redis = nil
		}
	} else {
		logger.Info().Msg("Redis未配置，跳过初始化")
	}

	if cfg.RabbitMQ.URL != "" {
		storage.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，管道事件不可用")
			storage.RabbitMQ = nil
		}
	} else {
		logger.Info().Msg("RabbitMQ未配置，跳过初始化")
	}

	if cfg.MinIO.Endpoint != "" {
		storage.MinIO, err = NewMinIO(&cfg.MinIO)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化MinIO失败，简历归档不可用")
			storage.MinIO = nil
		}
	} else {
		logger.Info().Msg("MinIO未配置，跳过初始化")
	}

	return storage, nil
}

// Close 关闭所有存储连接
func (s *Storage) Close() {
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭Redis连接失败")
		}
	}
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Warn().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
}
