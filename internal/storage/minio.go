package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"resume-match-go/internal/config"
)

// MinIO 简历全文归档存储。归档是旁路能力，失败不影响主流程。
type MinIO struct {
	client       *minio.Client
	resumeBucket string
}

// NewMinIO 创建MinIO客户端并确保归档桶存在
func NewMinIO(cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio配置不能为空")
	}
	if cfg.ResumeBucket == "" {
		return nil, fmt.Errorf("minio归档桶名不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{
		client:       client,
		resumeBucket: cfg.ResumeBucket,
	}

	if err := m.ensureBucketExists(context.Background(), cfg.ResumeBucket, cfg.Location); err != nil {
		return nil, err
	}
	return m, nil
}

// ensureBucketExists 确保桶存在，不存在则创建
func (m *MinIO) ensureBucketExists(ctx context.Context, bucketName, location string) error {
	exists, err := m.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("检查桶 %s 是否存在失败: %w", bucketName, err)
	}
	if !exists {
		if err := m.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: location}); err != nil {
			return fmt.Errorf("创建桶 %s 失败: %w", bucketName, err)
		}
	}
	return nil
}

// resumeObjectName 简历归档对象名
func resumeObjectName(resumeID string) string {
	return fmt.Sprintf("resumes/%s.txt", resumeID)
}

// ArchiveResumeText 归档简历全文
func (m *MinIO) ArchiveResumeText(ctx context.Context, resumeID string, text string) (string, error) {
	objectName := resumeObjectName(resumeID)
	_, err := m.client.PutObject(ctx, m.resumeBucket, objectName,
		strings.NewReader(text), int64(len(text)),
		minio.PutObjectOptions{ContentType: "text/plain"})
	if err != nil {
		return "", fmt.Errorf("归档简历文本失败: %w", err)
	}
	return objectName, nil
}

// GetResumeText 读取已归档的简历全文
func (m *MinIO) GetResumeText(ctx context.Context, resumeID string) (string, error) {
	obj, err := m.client.GetObject(ctx, m.resumeBucket, resumeObjectName(resumeID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("读取归档对象失败: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("读取归档内容失败: %w", err)
	}
	return string(data), nil
}

// DeleteResumeText 删除已归档的简历全文
func (m *MinIO) DeleteResumeText(ctx context.Context, resumeID string) error {
	err := m.client.RemoveObject(ctx, m.resumeBucket, resumeObjectName(resumeID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除归档对象失败: %w", err)
	}
	return nil
}
