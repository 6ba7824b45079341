package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadConfig 验证YAML配置能被正确加载，且缺省值被填充
func TestLoadConfig(t *testing.T) {
	yamlContent := `
qdrant:
  endpoint: "http://localhost:6333"
  collection_prefix: "match_"
  dimension: 768
mysql:
  host: "127.0.0.1"
  port: 3306
  database: "resume_match"
chunker:
  window_tokens: 200
  overlap_tokens: 20
`
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err, "无法创建临时目录")
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err, "无法写入临时配置文件")

	config, err := LoadConfig(configPath)
	require.NoError(t, err, "加载配置不应返回错误")
	require.NotNil(t, config)

	assert.Equal(t, "http://localhost:6333", config.Qdrant.Endpoint)
	assert.Equal(t, 768, config.Qdrant.Dimension)
	assert.Equal(t, "127.0.0.1", config.MySQL.Host)
	assert.Equal(t, 200, config.Chunker.WindowTokens)
	assert.Equal(t, 20, config.Chunker.OverlapTokens)

	// 未配置项应使用缺省值
	assert.Equal(t, ":8080", config.Server.Address)
	assert.Equal(t, "cl100k_base", config.Chunker.Encoding)
	assert.Equal(t, "pipeline.events", config.RabbitMQ.EventsExchange)
}

// TestLoadConfigEnricherModelDefault enricher未指定模型时继承aliyun.model
func TestLoadConfigEnricherModelDefault(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte("aliyun:\n  model: \"qwen-max\"\n"), 0644)
	require.NoError(t, err)

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "qwen-max", config.Enricher.ModelName)

	// 显式配置的enricher.modelName不被覆盖
	err = os.WriteFile(configPath, []byte("aliyun:\n  model: \"qwen-max\"\nenricher:\n  modelName: \"qwen-plus\"\n"), 0644)
	require.NoError(t, err)

	config, err = LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "qwen-plus", config.Enricher.ModelName)
}

// TestLoadConfigEnvOverride 验证环境变量覆盖敏感配置项
func TestLoadConfigEnvOverride(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "config-test")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "config.yaml")
	err = os.WriteFile(configPath, []byte("aliyun:\n  api_key: \"from-file\"\n"), 0644)
	require.NoError(t, err)

	t.Setenv("ALIYUN_API_KEY", "from-env")

	config, err := LoadConfig(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", config.Aliyun.APIKey)
}

// TestLoadConfigMissingFile 验证配置文件缺失时报错
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	assert.Error(t, err)
}

// TestGetDuration 验证时长解析及缺省回退
func TestGetDuration(t *testing.T) {
	assert.Equal(t, 30*time.Second, GetDuration("30s", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("", time.Minute))
	assert.Equal(t, time.Minute, GetDuration("not-a-duration", time.Minute))
}
