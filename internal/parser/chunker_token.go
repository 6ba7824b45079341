package parser

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"resume-match-go/internal/config"
)

func init() {
	// 使用离线BPE字典，避免首次编码时联网下载
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// TokenChunker 把长文本切成带重叠的token窗口。
// 同样的文本和参数永远产出同样的分块序列，chunk_index由此保持稳定。
type TokenChunker struct {
	encoding *tiktoken.Tiktoken
	window   int
	overlap  int
}

// NewTokenChunker 创建分块器
func NewTokenChunker(cfg config.ChunkerConfig) (*TokenChunker, error) {
	if cfg.WindowTokens <= 0 {
		return nil, fmt.Errorf("窗口大小必须为正: %d", cfg.WindowTokens)
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.WindowTokens {
		return nil, fmt.Errorf("重叠大小必须满足 0 <= overlap < window: overlap=%d, window=%d",
			cfg.OverlapTokens, cfg.WindowTokens)
	}

	encodingName := cfg.Encoding
	if encodingName == "" {
		encodingName = "cl100k_base"
	}
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("加载tiktoken编码 %s 失败: %w", encodingName, err)
	}

	return &TokenChunker{
		encoding: encoding,
		window:   cfg.WindowTokens,
		overlap:  cfg.OverlapTokens,
	}, nil
}

// Chunk 切分文本。相邻窗口重叠overlap个token，步长为window-overlap。
// 非空文本至少产出一个分块；空白文本产出零个分块。
func (c *TokenChunker) Chunk(text string) []string {
	if strings.TrimSpace(text) == "" {
		return []string{}
	}

	tokens := c.encoding.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return []string{}
	}

	stride := c.window - c.overlap
	chunks := make([]string, 0, (len(tokens)+stride-1)/stride)
	for start := 0; ; start += stride {
		end := start + c.window
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, c.encoding.Decode(tokens[start:end]))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// CountTokens 统计文本的token数
func (c *TokenChunker) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}
