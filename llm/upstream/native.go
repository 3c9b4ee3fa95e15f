package upstream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 📤 原生方言请求
// =============================================================================

type nativeBlob struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type nativePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *nativeBlob `json:"inline_data,omitempty"`
}

type nativeContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []nativePart `json:"parts"`
}

type nativeGenerationConfig struct {
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type nativeSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type nativeRequest struct {
	Contents         []nativeContent         `json:"contents"`
	GenerationConfig *nativeGenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []nativeSafetySetting   `json:"safetySettings,omitempty"`
}

// imageSafetySettings 图像请求关闭四类内容过滤
var imageSafetySettings = []nativeSafetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

// =============================================================================
// 📥 原生方言响应
// =============================================================================

// nativeRespBlob 同时接受 snake_case 与 camelCase 命名
type nativeRespBlob struct {
	MimeSnake string `json:"mime_type"`
	MimeCamel string `json:"mimeType"`
	Data      string `json:"data"`
}

func (b *nativeRespBlob) mimeType() string {
	if b.MimeSnake != "" {
		return b.MimeSnake
	}
	return b.MimeCamel
}

type nativeRespPart struct {
	Text        string          `json:"text"`
	InlineSnake *nativeRespBlob `json:"inline_data"`
	InlineCamel *nativeRespBlob `json:"inlineData"`
}

func (p nativeRespPart) inline() *nativeRespBlob {
	if p.InlineSnake != nil && p.InlineSnake.Data != "" {
		return p.InlineSnake
	}
	if p.InlineCamel != nil && p.InlineCamel.Data != "" {
		return p.InlineCamel
	}
	return nil
}

type nativeResponse struct {
	Candidates []struct {
		Content struct {
			Parts []nativeRespPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	// 部分代理会把原生接口转成 OpenAI 格式返回
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// imageURLPattern 文本中出现的图像链接（含 DALL-E blob 域名）
var imageURLPattern = regexp.MustCompile(`https?://[^\s)]+(?:\.png|\.jpg|\.jpeg|\.webp)|https?://oaidalleapiprodscus[^\s)]+`)

func nativeURL(base, model string) string {
	return joinURL(base, "/v1beta/models/"+url.PathEscape(model)+":generateContent")
}

func nativeHeaders(ep Endpoint) map[string]string {
	return map[string]string{"x-goog-api-key": ep.APIKey}
}

func (c *Client) nativeText(ctx context.Context, ep Endpoint, prompt TextPrompt) (string, error) {
	text := prompt.User
	if prompt.System != "" {
		text = prompt.System + "\n" + prompt.User
	}

	parts := []nativePart{{Text: text}}
	if att := prompt.Attachment; att != nil && len(att.Data) > 0 {
		parts = append(parts, nativePart{InlineData: &nativeBlob{
			MimeType: att.MimeType,
			Data:     base64.StdEncoding.EncodeToString(att.Data),
		}})
	}

	req := nativeRequest{Contents: []nativeContent{{Role: "user", Parts: parts}}}
	if prompt.JSONMode {
		req.GenerationConfig = &nativeGenerationConfig{ResponseMimeType: "application/json"}
	}

	data, err := c.post(ctx, ep, nativeURL(ep.BaseURL, ep.Model), req, nativeHeaders(ep))
	if err != nil {
		return "", err
	}
	return parseNativeText(data)
}

func (c *Client) nativeImage(ctx context.Context, ep Endpoint, prompt string) (types.ImageArtifact, error) {
	req := nativeRequest{
		Contents:         []nativeContent{{Role: "user", Parts: []nativePart{{Text: prompt}}}},
		GenerationConfig: &nativeGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
		SafetySettings:   imageSafetySettings,
	}

	data, err := c.post(ctx, ep, nativeURL(ep.BaseURL, ep.Model), req, nativeHeaders(ep))
	if err != nil {
		return types.ImageArtifact{}, err
	}
	return parseNativeImage(data)
}

func decodeNative(data []byte) (*nativeResponse, error) {
	var resp nativeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, types.NewMalformedResponseError("upstream response is not JSON", string(data)).WithCause(err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, types.NewMalformedResponseError("prompt blocked: "+resp.PromptFeedback.BlockReason, string(data))
	}
	return &resp, nil
}

func parseNativeText(data []byte) (string, error) {
	resp, err := decodeNative(data)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 {
		for _, p := range resp.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if sb.Len() == 0 && len(resp.Choices) > 0 {
		sb.WriteString(resp.Choices[0].Message.Content)
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", types.NewMalformedResponseError("upstream response has no text", string(data))
	}
	return sb.String(), nil
}

func parseNativeImage(data []byte) (types.ImageArtifact, error) {
	resp, err := decodeNative(data)
	if err != nil {
		return types.ImageArtifact{}, err
	}
	if len(resp.Candidates) == 0 {
		return types.ImageArtifact{}, types.NewMalformedResponseError("upstream response has no candidates", string(data))
	}

	parts := resp.Candidates[0].Content.Parts
	for _, p := range parts {
		if blob := p.inline(); blob != nil {
			return types.InlineImage(blob.mimeType(), blob.Data), nil
		}
	}

	texts := make([]string, 0, len(parts))
	for _, p := range parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if u := imageURLPattern.FindString(strings.Join(texts, "\n")); u != "" {
		return types.RemoteImage(u), nil
	}

	return types.ImageArtifact{}, types.NewMalformedResponseError("upstream response has no image", string(data))
}

// =============================================================================
// 🔁 透传代理
// =============================================================================

// Proxy 以原生格式调用文本模型并原样返回状态码与响应体。
// 上游返回非 2xx 时 err 为 nil，状态码与响应体透传给调用方。
func (c *Client) Proxy(ctx context.Context, model, prompt string) (int, []byte, error) {
	ep := c.cfg.Text
	ep.Dialect = DialectNativeJSON
	switch {
	case model != "":
		ep.Model = model
	case c.cfg.ProxyModel != "":
		ep.Model = c.cfg.ProxyModel
	}

	ctx, finish := c.instrument(ctx, "proxy", ep)

	req := nativeRequest{Contents: []nativeContent{{Parts: []nativePart{{Text: prompt}}}}}
	status, body, err := c.do(ctx, ep, nativeURL(ep.BaseURL, ep.Model), req, nativeHeaders(ep))
	switch {
	case err != nil:
		finish(err)
		return 0, nil, err
	case status < 200 || status >= 300:
		finish(MapHTTPError(status, body, ep.Dialect.String()))
	default:
		finish(nil)
	}
	return status, body, nil
}
