package upstream

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/BaSui01/standforge/llm/retry"
	"github.com/BaSui01/standforge/types"
)

// MapHTTPError 将上游非 2xx 响应映射为带重试标记的 *types.Error。
// Raw 保留完整响应体，额度耗尽优先于状态码判断。
func MapHTTPError(status int, body []byte, provider string) *types.Error {
	raw := string(body)
	detail := ReadErrorMessage(body)

	if retry.IsQuotaMessage(raw) {
		return types.NewQuotaExhaustedError(status, raw).WithProvider(provider)
	}

	e := types.NewUpstreamError(status, raw).WithProvider(provider)
	if detail != "" {
		e.Message = fmt.Sprintf("upstream returned status %d: %s", status, detail)
	}

	switch status {
	case http.StatusTooManyRequests:
		e.Code = types.ErrRateLimited
		e.Retryable = true
	case http.StatusServiceUnavailable:
		e.Code = types.ErrServiceUnavailable
		e.Retryable = true
	case 529:
		e.Code = types.ErrModelOverloaded
		e.Retryable = true
	case http.StatusBadGateway, http.StatusGatewayTimeout:
		e.Retryable = true
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Code = types.ErrUnauthorized
	}
	return e
}

// ReadErrorMessage 提取 {"error":{"message":...}} 中的消息，失败返回空串
func ReadErrorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Status  string `json:"status"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return ""
	}

	switch {
	case errResp.Error.Status != "":
		return fmt.Sprintf("%s (status: %s)", errResp.Error.Message, errResp.Error.Status)
	case errResp.Error.Type != "":
		return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
	}
	return errResp.Error.Message
}
