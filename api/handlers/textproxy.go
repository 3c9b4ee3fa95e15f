package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/api"
)

// =============================================================================
// 🔁 POST /generate-text
// =============================================================================

// TextProxy 原生格式透传（由 upstream.Client 实现）
type TextProxy interface {
	Proxy(ctx context.Context, model, prompt string) (int, []byte, error)
}

// TextProxyHandler 处理 /generate-text
type TextProxyHandler struct {
	proxy         TextProxy
	keyConfigured bool
	logger        *zap.Logger
}

// NewTextProxyHandler 创建 /generate-text 处理器
func NewTextProxyHandler(proxy TextProxy, keyConfigured bool, logger *zap.Logger) *TextProxyHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TextProxyHandler{
		proxy:         proxy,
		keyConfigured: keyConfigured,
		logger:        logger.With(zap.String("handler", "generate_text")),
	}
}

// HandleGenerateText 原样返回上游状态码与响应体
// @Summary 文本生成代理
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.TextProxyRequest true "代理请求"
// @Success 200 {object} map[string]any "上游原始响应"
// @Failure 400 {object} api.ErrorBody "缺少 prompt"
// @Failure 500 {object} api.ErrorBody "未配置 API Key"
// @Router /generate-text [post]
func (h *TextProxyHandler) HandleGenerateText(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS,POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		WriteFlatError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.keyConfigured {
		WriteFlatError(w, http.StatusInternalServerError, "Server Error: API Key not configured")
		return
	}

	var req api.TextProxyRequest
	if err := decodeJSON(w, r, &req, DefaultMaxBodyBytes); err != nil {
		WriteFlatError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		WriteFlatError(w, http.StatusBadRequest, "Missing prompt in request body")
		return
	}

	status, body, err := h.proxy.Proxy(r.Context(), req.Model, req.Prompt)
	if err != nil {
		writeFlatFromError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("write proxy response failed", zap.Error(err))
	}
}
