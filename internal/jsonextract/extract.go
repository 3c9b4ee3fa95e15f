package jsonextract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/BaSui01/standforge/types"
)

// ErrNoObject 文本中没有任何可解析的 JSON 对象
var ErrNoObject = errors.New("no JSON object found")

// Extract 提取第一个可解析的 JSON 对象
func Extract(text string) (map[string]any, error) {
	var out map[string]any
	if err := ExtractInto(text, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExtractInto 提取第一个可解析的 JSON 对象并解码到 dst
func ExtractInto(text string, dst any) error {
	span, ok := Locate(text)
	if !ok {
		return types.NewParseError(text, ErrNoObject)
	}
	if err := json.Unmarshal([]byte(span), dst); err != nil {
		return types.NewParseError(text, err)
	}
	return nil
}

// Locate 返回文本中第一个合法 JSON 对象的原文片段
func Locate(text string) (string, bool) {
	first := strings.IndexByte(text, '{')
	last := strings.LastIndexByte(text, '}')
	if first < 0 || last <= first {
		return "", false
	}

	if candidate := text[first : last+1]; isObject(candidate) {
		return candidate, true
	}

	for _, span := range balancedSpans(text[first:]) {
		if isObject(span) {
			return span, true
		}
	}
	return "", false
}

// balancedSpans 按出现顺序返回所有顶层平衡的 {...} 片段
func balancedSpans(text string) []string {
	var (
		spans    []string
		depth    int
		start    int
		inString bool
		escaped  bool
	)

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// 顶层之外的引号属于散文，不进入字符串状态
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				spans = append(spans, text[start:i+1])
			}
		}
	}
	return spans
}

func isObject(s string) bool {
	s = strings.TrimSpace(s)
	return len(s) > 1 && s[0] == '{' && json.Valid([]byte(s))
}
