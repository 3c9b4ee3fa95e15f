package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/api"
	"github.com/BaSui01/standforge/internal/history"
	"github.com/BaSui01/standforge/internal/orchestrator"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🌟 /api/v1/stands
// =============================================================================

// Streamer 生成快照流（由 orchestrator.Orchestrator 实现）
type Streamer interface {
	Stream(ctx context.Context, req types.GenerationRequest) <-chan orchestrator.Event
}

// StandHandler 快照流与历史记录接口
type StandHandler struct {
	streamer       Streamer
	store          history.Store
	originPatterns []string
	logger         *zap.Logger
}

// StandOption 可选项
type StandOption func(*StandHandler)

// WithOriginPatterns 允许跨域 WebSocket 握手的来源（websocket.AcceptOptions.OriginPatterns）
func WithOriginPatterns(patterns ...string) StandOption {
	return func(h *StandHandler) { h.originPatterns = patterns }
}

// NewStandHandler 创建处理器；store 为 nil 时历史接口返回 503
func NewStandHandler(streamer Streamer, store history.Store, logger *zap.Logger, opts ...StandOption) *StandHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &StandHandler{
		streamer: streamer,
		store:    store,
		logger:   logger.With(zap.String("handler", "stands")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register 在 mux 上注册全部路由
func (h *StandHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/stands", h.HandleCreate)
	mux.HandleFunc("GET /api/v1/stands/ws", h.HandleWebSocket)
	mux.HandleFunc("GET /api/v1/stands", h.HandleList)
	mux.HandleFunc("GET /api/v1/stands/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /api/v1/stands/{id}", h.HandleDelete)
	mux.HandleFunc("DELETE /api/v1/stands", h.HandleClear)
}

// =============================================================================
// 📡 NDJSON 快照流
// =============================================================================

// HandleCreate 生成一个替身，每个快照一行 JSON；失败时最后一行为 {"error": ...}
// @Summary 生成替身（NDJSON 流）
// @Tags 替身
// @Accept json
// @Produce application/x-ndjson
// @Param request body types.GenerationRequest true "生成请求"
// @Success 200 {object} orchestrator.Snapshot "每行一个快照"
// @Failure 400 {object} Response "无效请求"
// @Router /api/v1/stands [post]
func (h *StandHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req types.GenerationRequest
	if err := decodeJSONBodyLimit(w, r, &req, StandMaxBodyBytes, h.logger); err != nil {
		return
	}
	if err := orchestrator.ValidateRequest(req); err != nil {
		WriteError(w, toAPIError(err), h.logger)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Debug("clear write deadline failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	enc := json.NewEncoder(w)
	for ev := range h.streamer.Stream(r.Context(), req) {
		var line any = ev.Snapshot
		if ev.Err != nil {
			line = streamError(ev.Err)
		}
		if err := enc.Encode(line); err != nil {
			// 客户端已断开，Stream 会随请求 ctx 取消
			h.logger.Debug("ndjson write failed", zap.Error(err))
			return
		}
		_ = rc.Flush()
	}
}

func streamError(err error) api.StreamError {
	e := toAPIError(err)
	return api.StreamError{Error: e.Message, Code: string(e.Code), Raw: e.Raw}
}

// =============================================================================
// 🔌 WebSocket 快照流
// =============================================================================

// 关闭原因不超过 123 字节
const (
	closeReasonInvalid = "invalid generation request"
	closeReasonFailed  = "generation failed"
)

// HandleWebSocket 客户端先发送一个 GenerationRequest，服务端逐条推送快照后正常关闭
// @Summary 生成替身（WebSocket）
// @Tags 替身
// @Router /api/v1/stands/ws [get]
func (h *StandHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(StandMaxBodyBytes)

	readCtx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	_, data, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		h.logger.Debug("websocket read failed", zap.Error(err))
		return
	}

	var req types.GenerationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.writeMessage(r.Context(), conn, api.StreamError{Error: "invalid JSON: " + err.Error(), Code: string(types.ErrInvalidRequest)})
		conn.Close(websocket.StatusUnsupportedData, closeReasonInvalid)
		return
	}
	if err := orchestrator.ValidateRequest(req); err != nil {
		h.writeMessage(r.Context(), conn, streamError(err))
		conn.Close(websocket.StatusPolicyViolation, closeReasonInvalid)
		return
	}

	// 之后客户端不应再发消息；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	for ev := range h.streamer.Stream(ctx, req) {
		if ev.Err != nil {
			h.writeMessage(ctx, conn, streamError(ev.Err))
			conn.Close(websocket.StatusInternalError, closeReasonFailed)
			return
		}
		if err := h.writeMessage(ctx, conn, ev.Snapshot); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "")
}

func (h *StandHandler) writeMessage(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		h.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}

// =============================================================================
// 📚 历史记录
// =============================================================================

func (h *StandHandler) historyEnabled(w http.ResponseWriter) bool {
	if h.store == nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, types.ErrServiceUnavailable, "history is disabled", h.logger)
		return false
	}
	return true
}

// HandleList 最新的在前，?limit= 限制条数
// @Summary 历史列表
// @Tags 替身
// @Produce json
// @Param limit query int false "条数上限"
// @Success 200 {object} api.StandListResponse
// @Router /api/v1/stands [get]
func (h *StandHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "limit must be a non-negative integer", h.logger)
			return
		}
		limit = n
	}

	stands, err := h.store.List(r.Context(), limit)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "list history failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, api.StandListResponse{Stands: stands, Count: len(stands)})
}

// HandleGet 按 id 读取
// @Summary 读取历史记录
// @Tags 替身
// @Produce json
// @Param id path string true "记录 id"
// @Success 200 {object} types.MergedArtifact
// @Failure 404 {object} Response
// @Router /api/v1/stands/{id} [get]
func (h *StandHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	stand, err := h.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	WriteSuccess(w, stand)
}

// HandleDelete 按 id 删除
// @Summary 删除历史记录
// @Tags 替身
// @Param id path string true "记录 id"
// @Success 204
// @Failure 404 {object} Response
// @Router /api/v1/stands/{id} [delete]
func (h *StandHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClear 清空历史
// @Summary 清空历史记录
// @Tags 替身
// @Success 204
// @Router /api/v1/stands [delete]
func (h *StandHandler) HandleClear(w http.ResponseWriter, r *http.Request) {
	if !h.historyEnabled(w) {
		return
	}
	if err := h.store.Clear(r.Context()); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *StandHandler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "stand not found", h.logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "history operation failed").WithCause(err), h.logger)
}
