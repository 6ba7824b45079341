package parser

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"resume-match-go/internal/types"
)

// ParseEnrichment 从LLM的原始回复中解析富化结果。
// 解析是严格的：四个字段必须齐全且类型正确，否则返回错误，
// 由调用方决定降级策略。fit_score越界不在这里处理。
func ParseEnrichment(raw string) (*types.Enrichment, error) {
	processed := strings.TrimPrefix(raw, "\uFEFF")
	processed = stripCodeFences(processed)

	jsonStr := extractJSONObject(processed)
	if jsonStr == "" {
		return nil, fmt.Errorf("回复中未找到JSON对象: %s", truncateForError(processed))
	}
	if !utf8.ValidString(jsonStr) {
		jsonStr = strings.ToValidUTF8(jsonStr, "")
	}

	fields, err := unmarshalObjectFields(jsonStr)
	if err != nil {
		// 解析失败 -> 自动修复再试一次
		fixed := sanitizeJSON(jsonStr)
		fields, err = unmarshalObjectFields(fixed)
		if err != nil {
			return nil, fmt.Errorf("JSON解析失败: %w. 原始内容: %s", err, truncateForError(jsonStr))
		}
	}

	enrichment := &types.Enrichment{}

	rawSkills, ok := fields["matching_skills"]
	if !ok {
		return nil, fmt.Errorf("缺少字段 matching_skills")
	}
	if err := json.Unmarshal(rawSkills, &enrichment.MatchingSkills); err != nil {
		return nil, fmt.Errorf("字段 matching_skills 类型错误: %w", err)
	}

	rawMissing, ok := fields["missing_skills"]
	if !ok {
		return nil, fmt.Errorf("缺少字段 missing_skills")
	}
	if err := json.Unmarshal(rawMissing, &enrichment.MissingSkills); err != nil {
		return nil, fmt.Errorf("字段 missing_skills 类型错误: %w", err)
	}

	rawSummary, ok := fields["summary"]
	if !ok {
		return nil, fmt.Errorf("缺少字段 summary")
	}
	if err := json.Unmarshal(rawSummary, &enrichment.Summary); err != nil {
		return nil, fmt.Errorf("字段 summary 类型错误: %w", err)
	}
	if strings.TrimSpace(enrichment.Summary) == "" {
		return nil, fmt.Errorf("字段 summary 不能为空")
	}

	rawScore, ok := fields["fit_score"]
	if !ok {
		return nil, fmt.Errorf("缺少字段 fit_score")
	}
	if err := json.Unmarshal(rawScore, &enrichment.FitScore); err != nil {
		return nil, fmt.Errorf("字段 fit_score 类型错误: %w", err)
	}

	if enrichment.MatchingSkills == nil {
		enrichment.MatchingSkills = []string{}
	}
	if enrichment.MissingSkills == nil {
		enrichment.MissingSkills = []string{}
	}

	return enrichment, nil
}

// unmarshalObjectFields 把JSON对象展开为字段表，保留字段原文供逐个校验类型
func unmarshalObjectFields(jsonStr string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(jsonStr), &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// stripCodeFences 剥掉Markdown代码围栏。LLM经常把JSON包在```json ... ```里。
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	trimmed = strings.TrimPrefix(trimmed, "```")
	// 围栏后可能跟语言标记，如 ```json
	if idx := strings.Index(trimmed, "\n"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return trimmed
}

// extractJSONObject 用花括号配对从文本中提取第一个完整的JSON对象
func extractJSONObject(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	level := 0
	inStr := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inStr {
				escaped = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				level++
			}
		case '}':
			if !inStr {
				level--
				if level == 0 {
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// sanitizeJSON 会遍历 src，将任何位于字符串字面量内部但并非"真正结束"的双引号写成 \"，
// 以保证整个 JSON 在 Go 端能够正常反序列化。
// 它通过检查下一个非空白字符是否为 :, ], }, 或 , 来判断该 " 是否为字符串的结束。
func sanitizeJSON(src string) string {
	var b strings.Builder
	inStr := false
	escaped := false

	for i := 0; i < len(src); i++ {
		c := src[i]

		if c == '"' && !escaped {
			if !inStr {
				inStr = true
				b.WriteByte(c)
			} else {
				j := i + 1
				for j < len(src) && (src[j] == ' ' || src[j] == '\t' || src[j] == '\n' || src[j] == '\r') {
					j++
				}
				if j < len(src) && (src[j] == ':' || src[j] == ',' || src[j] == ']' || src[j] == '}') {
					inStr = false
					b.WriteByte(c)
				} else {
					b.WriteString("\\\"")
				}
			}
			escaped = false
		} else if c == '\\' && !escaped {
			escaped = true
			b.WriteByte(c)
		} else {
			escaped = false
			b.WriteByte(c)
		}
	}
	return b.String()
}

func truncateForError(s string) string {
	const maxLen = 300
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
