package upstream

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/BaSui01/standforge/types"
)

// OpenAI 兼容请求/响应类型，只保留本服务用到的字段

type chatContentBlock struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

// chatMessage.Content 为 string 或 []chatContentBlock
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string              `json:"model"`
	Messages       []chatMessage       `json:"messages"`
	ResponseFormat *chatResponseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageGenerationResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func bearerHeaders(ep Endpoint) map[string]string {
	return map[string]string{"Authorization": "Bearer " + ep.APIKey}
}

func (c *Client) openAIText(ctx context.Context, ep Endpoint, prompt TextPrompt) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}

	if att := prompt.Attachment; att != nil && len(att.Data) > 0 {
		messages = append(messages, chatMessage{Role: "user", Content: []chatContentBlock{
			{Type: "text", Text: prompt.User},
			{Type: "image_url", ImageURL: &chatImageURL{URL: att.DataURI()}},
		}})
	} else {
		messages = append(messages, chatMessage{Role: "user", Content: prompt.User})
	}

	req := chatRequest{Model: ep.Model, Messages: messages}
	if prompt.JSONMode {
		req.ResponseFormat = &chatResponseFormat{Type: "json_object"}
	}

	data, err := c.post(ctx, ep, joinURL(ep.BaseURL, "/v1/chat/completions"), req, bearerHeaders(ep))
	if err != nil {
		return "", err
	}
	return parseChatText(data)
}

func (c *Client) openAIImage(ctx context.Context, ep Endpoint, prompt string) (types.ImageArtifact, error) {
	req := imageGenerationRequest{
		Model:  ep.Model,
		Prompt: prompt,
		N:      1,
		Size:   "1024x1024",
	}

	data, err := c.post(ctx, ep, joinURL(ep.BaseURL, "/v1/images/generations"), req, bearerHeaders(ep))
	if err != nil {
		return types.ImageArtifact{}, err
	}
	return parseImageGeneration(data)
}

func parseChatText(data []byte) (string, error) {
	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", types.NewMalformedResponseError("upstream response is not JSON", string(data)).WithCause(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", types.NewMalformedResponseError("upstream response has no choices", string(data))
	}
	return resp.Choices[0].Message.Content, nil
}

func parseImageGeneration(data []byte) (types.ImageArtifact, error) {
	var resp imageGenerationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.ImageArtifact{}, types.NewMalformedResponseError("upstream response is not JSON", string(data)).WithCause(err)
	}
	if len(resp.Data) == 0 {
		return types.ImageArtifact{}, types.NewMalformedResponseError("upstream response has no data", string(data))
	}

	switch first := resp.Data[0]; {
	case first.URL != "":
		return types.RemoteImage(first.URL), nil
	case first.B64JSON != "":
		return types.InlineImage("image/png", first.B64JSON), nil
	}
	return types.ImageArtifact{}, types.NewMalformedResponseError("upstream image has neither url nor b64_json", string(data))
}
