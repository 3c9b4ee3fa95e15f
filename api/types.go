package api

import (
	"encoding/json"

	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 生成接口类型
// =============================================================================

// 动作名称
const (
	ActionProfile = "profile"
	ActionImage   = "image"
)

// GenerateRequest 表示 POST /generate 请求。
// @Description 生成请求结构
type GenerateRequest struct {
	// 动作: profile 或 image
	Action string `json:"action" example:"profile"`
	// 动作参数，profile 为 GenerationRequest，image 为 ImagePayload
	Payload json.RawMessage `json:"payload"`
}

// ImagePayload 表示 action=image 的参数。
// @Description 图像生成参数
type ImagePayload struct {
	// 替身外貌描述
	Appearance string `json:"appearance" example:"深红色的猫型人形替身"`
}

// ImageResult 表示图像接口返回的唯一 JSON 对象。
// @Description 图像结果（成功时 imageData，失败时 error 与可选 raw）
type ImageResult struct {
	ImageData string `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// =============================================================================
// 文本代理类型
// =============================================================================

// TextProxyRequest 表示 POST /generate-text 请求。
// @Description 文本代理请求结构
type TextProxyRequest struct {
	// 提示词
	Prompt string `json:"prompt" example:"用一句话介绍替身" binding:"required"`
	// 模型名称，为空时使用服务端默认模型
	Model string `json:"model,omitempty" example:"gemini-3-flash-preview"`
}

// =============================================================================
// 替身流与历史类型
// =============================================================================

// StreamError 流式接口的最后一行或最后一条消息（生成失败时）。
// @Description 流式错误结构
type StreamError struct {
	// 错误消息
	Error string `json:"error"`
	// 错误代码
	Code string `json:"code,omitempty" example:"UPSTREAM_ERROR"`
	// 上游原始响应
	Raw string `json:"raw,omitempty"`
}

// StandListResponse 表示历史列表。
// @Description 历史列表响应
type StandListResponse struct {
	// 最新的在前
	Stands []types.MergedArtifact `json:"stands"`
	// 条数
	Count int `json:"count" example:"10"`
}

// =============================================================================
// 错误类型
// =============================================================================

// ErrorBody 边缘接口（/generate、/generate-text）使用的扁平错误体。
// @Description 扁平错误结构
type ErrorBody struct {
	// 人类可读的错误消息
	Error string `json:"error" example:"Invalid action"`
	// 上游原始响应
	Raw string `json:"raw,omitempty"`
}

// ErrorResponse表示错误响应。
// @Description 错误响应结构
type ErrorResponse struct {
	// 错误详情
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 表示错误详细信息。
// @Description 错误详细结构
type ErrorDetail struct {
	// 错误代码
	Code string `json:"code" example:"INVALID_REQUEST"`
	// 人类可读的错误消息
	Message string `json:"message" example:"Invalid request parameters"`
	// HTTP 状态码
	HTTPStatus int `json:"http_status,omitempty" example:"400"`
	// 请求是否可以重试
	Retryable bool `json:"retryable,omitempty" example:"false"`
	// 返回错误的提供者
	Provider string `json:"provider,omitempty" example:"native"`
}
