package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-match-go/internal/logger"
)

const (
	// DashScope的OpenAI兼容chat completions端点
	defaultChatAPIURL    = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultChatModelName = "qwen-plus"
	defaultChatTimeout   = 90 * time.Second
)

// chatCompletionRequest OpenAI兼容的请求体
type chatCompletionRequest struct {
	Model       string            `json:"model"`
	Messages    []*schema.Message `json:"messages"`
	Temperature float64           `json:"temperature,omitempty"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Tools       []chatTool        `json:"tools,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"` // 固定为"function"
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatCompletionMessage struct {
	Role      string         `json:"role"`
	Content   *string        `json:"content"` // 存在tool_calls时可能为null
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatCompletionChoice struct {
	Index        int                   `json:"index"`
	Message      chatCompletionMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
}

// AliyunChatModel 通过OpenAI兼容端点访问通义千问的聊天模型，
// 实现eino的model.ToolCallingChatModel接口。
type AliyunChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	boundTools  []chatTool
}

// AliyunChatModelOption 聊天模型的配置选项
type AliyunChatModelOption func(*AliyunChatModel)

// WithChatTemperature 设置采样温度
func WithChatTemperature(temperature float64) AliyunChatModelOption {
	return func(m *AliyunChatModel) {
		m.temperature = temperature
	}
}

// WithChatMaxTokens 设置单次生成的token上限
func WithChatMaxTokens(maxTokens int) AliyunChatModelOption {
	return func(m *AliyunChatModel) {
		m.maxTokens = maxTokens
	}
}

// WithChatTimeout 设置单次调用超时
func WithChatTimeout(timeout time.Duration) AliyunChatModelOption {
	return func(m *AliyunChatModel) {
		m.httpClient.Timeout = timeout
	}
}

// NewAliyunChatModel 创建通义千问聊天模型客户端
func NewAliyunChatModel(apiKey string, modelName string, apiURL string, options ...AliyunChatModelOption) (*AliyunChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultChatModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = defaultChatAPIURL
	}

	m := &AliyunChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: defaultChatTimeout},
	}
	for _, option := range options {
		option(m)
	}
	return m, nil
}

// Generate 实现model.ChatModel接口
func (m *AliyunChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	reqPayload := chatCompletionRequest{
		Model:       m.modelName,
		Messages:    messages,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}
	if len(m.boundTools) > 0 {
		reqPayload.Tools = m.boundTools
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	logger.Ctx(ctx).Debug().
		Str("model", m.modelName).
		Int("message_count", len(messages)).
		Msg("发送chat completions请求")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API请求失败，状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化API响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("API返回空choices")
	}

	apiMessage := resp.Choices[0].Message
	content := ""
	if apiMessage.Content != nil {
		content = *apiMessage.Content
	}

	result := &schema.Message{
		Role:    schema.RoleType(apiMessage.Role),
		Content: content,
	}
	if result.Role == "" {
		result.Role = schema.Assistant
	}
	if len(apiMessage.ToolCalls) > 0 {
		result.ToolCalls = make([]schema.ToolCall, len(apiMessage.ToolCalls))
		for i, tc := range apiMessage.ToolCalls {
			result.ToolCalls[i] = schema.ToolCall{
				ID: tc.ID,
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			}
		}
	}
	return result, nil
}

// Stream 实现model.ChatModel接口。富化评估只用Generate，流式未实现。
func (m *AliyunChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("AliyunChatModel未实现流式生成")
}

// WithTools 实现model.ToolCallingChatModel接口。
// 工具参数schema取ToolInfo的名称与描述，参数结构传空对象。
func (m *AliyunChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	clone := *m
	clone.boundTools = make([]chatTool, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}
		clone.boundTools = append(clone.boundTools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        toolInfo.Name,
				Description: toolInfo.Desc,
				Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
			},
		})
	}
	return &clone, nil
}

var _ model.ToolCallingChatModel = (*AliyunChatModel)(nil)
