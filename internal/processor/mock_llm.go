package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// MockLLMModel 是 model.ToolCallingChatModel 的模拟实现。
// 未配置LLM密钥时服务用它兜底，测试中也用它构造可控回复。
type MockLLMModel struct {
	// 模拟响应，为空时返回一个形如富化结果的缺省JSON
	MockResponse string
	// 预设错误，非nil时Generate直接返回该错误
	Err error

	mu         sync.Mutex
	callCount  int
	boundTools []*schema.ToolInfo
}

// defaultMockEnrichment 缺省回复，保持富化结果的字段结构
const defaultMockEnrichment = `{"matching_skills":[],"missing_skills":[],"summary":"未配置LLM，返回占位评估结果。","fit_score":0.5}`

// Generate 实现model.ChatModel接口
func (m *MockLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.callCount++
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	content := m.MockResponse
	if content == "" {
		content = defaultMockEnrichment
	}
	return schema.AssistantMessage(content, nil), nil
}

// Stream 实现model.ChatModel接口
func (m *MockLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("MockLLMModel不支持流式响应")
}

// WithTools 实现 model.ToolCallingChatModel 接口
func (m *MockLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	m.boundTools = tools
	m.mu.Unlock()
	return m, nil
}

// CallCount 返回Generate被调用的次数
func (m *MockLLMModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}
