package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
)

// ErrNotFound 缓存或存储未命中
var ErrNotFound = errors.New("storage: not found")

// Redis 提供缓存与去重功能
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedisAdapter 创建Redis客户端连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis配置不能为空")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis地址不能为空")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		// 连接池设置
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		// 超时设置
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
	}

	client := redis.NewClient(opt)

	// 添加OpenTelemetry钩子, 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("为Redis注册OpenTelemetry钩子失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("连接Redis失败 %s: %w", cfg.Address, err)
	}

	return &Redis{
		Client: client,
		config: cfg,
	}, nil
}

// Close 关闭Redis连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查Redis连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Ping(ctx).Err()
}

// SetJobVector 将岗位向量和模型版本存入Redis HASH。
// 向量和模型版本放在同一个key下，读取时校验版本。
func (r *Redis) SetJobVector(ctx context.Context, jobID string, vector []float64, modelVersion string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}

	cacheKey := constants.JobVectorCachePrefix + jobID

	vectorJSON, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}

	pipe := r.Client.Pipeline()
	pipe.HSet(ctx, cacheKey, "vector", vectorJSON)
	pipe.HSet(ctx, cacheKey, "model_version", modelVersion)
	pipe.Expire(ctx, cacheKey, constants.JobVectorCacheDuration)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入岗位向量缓存失败: %w", err)
	}
	return nil
}

// GetJobVector 从Redis HASH读取岗位向量和模型版本。未命中返回ErrNotFound。
func (r *Redis) GetJobVector(ctx context.Context, jobID string) ([]float64, string, error) {
	if r.Client == nil {
		return nil, "", fmt.Errorf("redis客户端未初始化")
	}

	cacheKey := constants.JobVectorCachePrefix + jobID

	vals, err := r.Client.HMGet(ctx, cacheKey, "vector", "model_version").Result()
	if err != nil {
		return nil, "", err
	}
	if len(vals) < 2 || vals[0] == nil {
		return nil, "", fmt.Errorf("岗位向量缓存未命中，jobID=%s: %w", jobID, ErrNotFound)
	}

	vectorJSON, ok := vals[0].(string)
	if !ok || vectorJSON == "" {
		return nil, "", fmt.Errorf("向量缓存格式错误")
	}
	var vector []float64
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, "", fmt.Errorf("反序列化向量失败: %w", err)
	}

	modelVersion, _ := vals[1].(string)
	return vector, modelVersion, nil
}

// DeleteJobVector 删除岗位向量缓存
func (r *Redis) DeleteJobVector(ctx context.Context, jobID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Del(ctx, constants.JobVectorCachePrefix+jobID).Err()
}

// CheckAndAddResumeTextMD5 原子性地检查并登记简历全文MD5。
// 返回true表示同岗位下已存在相同全文的简历，调用方应跳过摄取。
func (r *Redis) CheckAndAddResumeTextMD5(ctx context.Context, jobID string, md5Hex string) (bool, error) {
	if r.Client == nil {
		return false, fmt.Errorf("redis客户端未初始化")
	}

	setKey := constants.ResumeTextMD5SetPrefix + jobID

	pipe := r.Client.Pipeline()
	addCmd := pipe.SAdd(ctx, setKey, md5Hex)
	pipe.ExpireNX(ctx, setKey, constants.ResumeMD5RecordDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("登记简历MD5失败: %w", err)
	}

	// SAdd返回0表示成员已存在
	added, err := addCmd.Result()
	if err != nil {
		return false, err
	}
	return added == 0, nil
}

// RemoveResumeTextMD5 从岗位的去重集合中移除一个MD5，简历删除后调用
func (r *Redis) RemoveResumeTextMD5(ctx context.Context, jobID string, md5Hex string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.SRem(ctx, constants.ResumeTextMD5SetPrefix+jobID, md5Hex).Err()
}

// DeleteResumeMD5Set 删除岗位的整个去重集合，批量删除简历后调用
func (r *Redis) DeleteResumeMD5Set(ctx context.Context, jobID string) error {
	if r.Client == nil {
		return fmt.Errorf("redis客户端未初始化")
	}
	return r.Client.Del(ctx, constants.ResumeTextMD5SetPrefix+jobID).Err()
}
