package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/api"
	"github.com/BaSui01/standforge/types"
)

// 请求体大小上限
const (
	DefaultMaxBodyBytes = 1 << 20
	// 含参考图的生成请求
	StandMaxBodyBytes = 8 << 20
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Retryable  bool   `json:"retryable,omitempty"`
	HTTPStatus int    `json:"-"` // 不序列化到 JSON
}

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入成功响应
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError 写入错误响应（从 types.Error）
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(err.Code)
	}

	errorInfo := &ErrorInfo{
		Code:       string(err.Code),
		Message:    err.Message,
		Retryable:  err.Retryable,
		HTTPStatus: status,
	}

	if logger != nil {
		logger.Error("API error",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success:   false,
		Error:     errorInfo,
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage 写入简单错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	err := types.NewError(code, message).WithHTTPStatus(status)
	WriteError(w, err, logger)
}

// WriteFlatError 写入扁平错误体 {"error": "..."}
func WriteFlatError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, api.ErrorBody{Error: message})
}

// writeFlatFromError 把任意错误写成扁平错误体，上游原始响应放在 raw 字段
func writeFlatFromError(w http.ResponseWriter, err error, logger *zap.Logger) {
	status := statusOf(err)
	body := api.ErrorBody{Error: err.Error()}
	if e, ok := types.AsError(err); ok {
		body.Error = e.Message
		body.Raw = e.Raw
	}
	if logger != nil {
		logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	WriteJSON(w, status, body)
}

// toAPIError 把任意错误转换为 types.Error
func toAPIError(err error) *types.Error {
	if e, ok := types.AsError(err); ok {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewTimeoutError("request timed out", err)
	}
	return types.NewError(types.ErrInternalError, "internal error").WithCause(err)
}

// statusOf 错误对应的 HTTP 状态码
func statusOf(err error) int {
	e := toAPIError(err)
	if e.HTTPStatus >= 400 {
		return e.HTTPStatus
	}
	return mapErrorCodeToHTTPStatus(e.Code)
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	// 4xx 客户端错误
	case types.ErrInvalidRequest:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case types.ErrRateLimited, types.ErrQuotaExhausted:
		return http.StatusTooManyRequests

	// 5xx 服务端错误
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrModelOverloaded, types.ErrServiceUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrMalformedResponse, types.ErrParse:
		return http.StatusBadGateway
	case types.ErrInternalError, types.ErrInvalidTransition, types.ErrConfiguration:
		return http.StatusInternalServerError

	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限，拒绝未知字段），失败时写出错误响应
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	return decodeJSONBodyLimit(w, r, dst, DefaultMaxBodyBytes, logger)
}

func decodeJSONBodyLimit(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64, logger *zap.Logger) error {
	if err := decodeJSON(w, r, dst, limit); err != nil {
		var apiErr *types.Error
		if !errors.As(err, &apiErr) {
			apiErr = types.NewError(types.ErrInvalidRequest, "invalid JSON body").WithCause(err)
		}
		WriteError(w, apiErr.WithHTTPStatus(http.StatusBadRequest), logger)
		return apiErr
	}
	return nil
}

// decodeJSON 只解码不写响应，供扁平错误体的接口使用
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}, limit int64) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewError(types.ErrInvalidRequest, "request body is empty")
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return types.NewError(types.ErrInvalidRequest,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)).WithCause(err)
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ValidateContentType 验证 Content-Type
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		err := types.NewError(types.ErrInvalidRequest, "Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType)
		WriteError(w, err, logger)
		return false
	}
	return true
}
