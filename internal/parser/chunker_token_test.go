package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/config"
)

func newTestChunker(t *testing.T, window, overlap int) *TokenChunker {
	t.Helper()
	chunker, err := NewTokenChunker(config.ChunkerConfig{
		WindowTokens:  window,
		OverlapTokens: overlap,
		Encoding:      "cl100k_base",
	})
	require.NoError(t, err)
	return chunker
}

// expectedChunkCount 按窗口参数计算期望分块数
func expectedChunkCount(tokenCount, window, overlap int) int {
	if tokenCount == 0 {
		return 0
	}
	if tokenCount <= window {
		return 1
	}
	stride := window - overlap
	return (tokenCount - overlap + stride - 1) / stride
}

// TestChunkShortText 不超过一个窗口的文本产出单个分块
func TestChunkShortText(t *testing.T) {
	chunker := newTestChunker(t, 500, 50)

	text := "Go工程师，五年后端开发经验，熟悉MySQL和Redis。"
	chunks := chunker.Chunk(text)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

// TestChunkEmptyText 空白文本产出零个分块
func TestChunkEmptyText(t *testing.T) {
	chunker := newTestChunker(t, 500, 50)

	assert.Empty(t, chunker.Chunk(""))
	assert.Empty(t, chunker.Chunk("   \n\t  "))
}

// TestChunkLongText 长文本的分块数符合窗口步长公式，且相邻分块有重叠
func TestChunkLongText(t *testing.T) {
	chunker := newTestChunker(t, 20, 5)

	text := strings.Repeat("resume matching pipeline with vector search and skill analysis. ", 30)
	tokenCount := chunker.CountTokens(text)
	require.Greater(t, tokenCount, 20, "测试文本必须超过一个窗口")

	chunks := chunker.Chunk(text)
	assert.Equal(t, expectedChunkCount(tokenCount, 20, 5), len(chunks))

	// 每个分块不超过窗口大小
	for i, chunk := range chunks {
		assert.LessOrEqual(t, chunker.CountTokens(chunk), 20, "chunk %d 超出窗口", i)
	}
}

// TestChunkDeterministic 同样输入产出同样的分块序列
func TestChunkDeterministic(t *testing.T) {
	chunker := newTestChunker(t, 20, 5)

	text := strings.Repeat("backend engineer with golang and kubernetes experience. ", 20)
	first := chunker.Chunk(text)
	second := chunker.Chunk(text)
	assert.Equal(t, first, second)
}

// TestNewTokenChunkerValidation 非法窗口参数被拒绝
func TestNewTokenChunkerValidation(t *testing.T) {
	_, err := NewTokenChunker(config.ChunkerConfig{WindowTokens: 0, OverlapTokens: 0})
	assert.Error(t, err)

	_, err = NewTokenChunker(config.ChunkerConfig{WindowTokens: 10, OverlapTokens: 10})
	assert.Error(t, err)

	_, err = NewTokenChunker(config.ChunkerConfig{WindowTokens: 10, OverlapTokens: -1})
	assert.Error(t, err)
}
