package parser

import (
	"context"
	"fmt"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChatModel 返回预设回复或错误的聊天模型
type stubChatModel struct {
	response string
	err      error
	messages []*schema.Message
}

func (s *stubChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	s.messages = messages
	if s.err != nil {
		return nil, s.err
	}
	return schema.AssistantMessage(s.response, nil), nil
}

func (s *stubChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stub不支持流式响应")
}

func (s *stubChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return s, nil
}

func TestEnrichMatchSuccess(t *testing.T) {
	stub := &stubChatModel{
		response: `{"matching_skills":["Go","MySQL"],"missing_skills":["Kubernetes"],"summary":"后端经验扎实，缺少容器编排经验。","fit_score":0.72}`,
	}
	enricher := NewLLMMatchEnricher(stub)

	enrichment, err := enricher.EnrichMatch(context.Background(), "后端工程师岗位", "五年Go开发经验", 0.65)
	require.NoError(t, err)
	require.NotNil(t, enrichment)

	assert.Equal(t, []string{"Go", "MySQL"}, enrichment.MatchingSkills)
	assert.Equal(t, []string{"Kubernetes"}, enrichment.MissingSkills)
	assert.InDelta(t, 0.72, enrichment.FitScore, 1e-9)

	// 提示词应包含岗位描述、简历全文和相似度百分数
	require.Len(t, stub.messages, 2)
	assert.Equal(t, schema.System, stub.messages[0].Role)
	assert.Contains(t, stub.messages[1].Content, "后端工程师岗位")
	assert.Contains(t, stub.messages[1].Content, "五年Go开发经验")
	assert.Contains(t, stub.messages[1].Content, "65.0%")
}

func TestEnrichMatchLLMError(t *testing.T) {
	stub := &stubChatModel{err: fmt.Errorf("上游超时")}
	enricher := NewLLMMatchEnricher(stub)

	_, err := enricher.EnrichMatch(context.Background(), "岗位", "简历", 0.5)
	assert.ErrorContains(t, err, "LLM调用失败")
}

func TestEnrichMatchEmptyResponse(t *testing.T) {
	stub := &stubChatModel{response: ""}
	enricher := NewLLMMatchEnricher(stub)

	_, err := enricher.EnrichMatch(context.Background(), "岗位", "简历", 0.5)
	assert.ErrorContains(t, err, "空响应")
}

func TestEnrichMatchUnparseableOutput(t *testing.T) {
	stub := &stubChatModel{response: "抱歉，我无法完成这个评估。"}
	enricher := NewLLMMatchEnricher(stub)

	_, err := enricher.EnrichMatch(context.Background(), "岗位", "简历", 0.5)
	assert.ErrorContains(t, err, "解析富化结果失败")
}

func TestEnrichMatchFitScoreOutOfRange(t *testing.T) {
	stub := &stubChatModel{
		response: `{"matching_skills":[],"missing_skills":[],"summary":"分数越界样例。","fit_score":1.5}`,
	}
	enricher := NewLLMMatchEnricher(stub)

	enrichment, err := enricher.EnrichMatch(context.Background(), "岗位", "简历", 0.58)
	require.NoError(t, err)
	// 越界分数回退为传入的相似度
	assert.InDelta(t, 0.58, enrichment.FitScore, 1e-9)
}

func TestEnrichMatchNilModel(t *testing.T) {
	enricher := NewLLMMatchEnricher(nil)
	_, err := enricher.EnrichMatch(context.Background(), "岗位", "简历", 0.5)
	assert.Error(t, err)
}
