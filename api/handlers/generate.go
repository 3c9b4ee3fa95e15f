package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/api"
	"github.com/BaSui01/standforge/internal/orchestrator"
	"github.com/BaSui01/standforge/internal/relay"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🎨 POST /generate
// =============================================================================

// StandService /generate 需要的编排能力（由 orchestrator.Orchestrator 实现）
type StandService interface {
	Profile(ctx context.Context, req types.GenerationRequest) (orchestrator.ProfileResult, error)
	Image(ctx context.Context, appearance string) (types.ImageArtifact, error)
}

// GenerateOptions /generate 行为开关
type GenerateOptions struct {
	// StreamImage 为 true 时图像动作走流式中继，否则同步返回
	StreamImage bool
	// KeyConfigured 上游 API Key 是否已配置
	KeyConfigured bool
}

// GenerateHandler 处理 /generate
type GenerateHandler struct {
	svc    StandService
	relay  *relay.Relay
	opts   GenerateOptions
	logger *zap.Logger
}

// NewGenerateHandler 创建 /generate 处理器
func NewGenerateHandler(svc StandService, rl *relay.Relay, opts GenerateOptions, logger *zap.Logger) *GenerateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerateHandler{
		svc:    svc,
		relay:  rl,
		opts:   opts,
		logger: logger.With(zap.String("handler", "generate")),
	}
}

// HandleGenerate 按 action 分派
// @Summary 生成档案或图像
// @Tags 生成
// @Accept json
// @Produce json
// @Param request body api.GenerateRequest true "生成请求"
// @Success 200 {object} orchestrator.ProfileResult "档案（action=profile）"
// @Success 200 {object} api.ImageResult "图像（action=image）"
// @Failure 400 {object} api.ErrorBody "无效动作"
// @Failure 405 {object} api.ErrorBody "方法不允许"
// @Failure 500 {object} api.ErrorBody "未配置 API Key"
// @Router /generate [post]
func (h *GenerateHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteFlatError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !h.opts.KeyConfigured {
		WriteFlatError(w, http.StatusInternalServerError, "Server configuration error: Missing API Key")
		return
	}

	var req api.GenerateRequest
	if err := decodeJSON(w, r, &req, StandMaxBodyBytes); err != nil {
		WriteFlatError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Action {
	case api.ActionProfile:
		h.profile(w, r, req.Payload)
	case api.ActionImage:
		h.image(w, r, req.Payload)
	default:
		WriteFlatError(w, http.StatusBadRequest, "Invalid action")
	}
}

func (h *GenerateHandler) profile(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var req types.GenerationRequest
	if err := unmarshalPayload(payload, &req); err != nil {
		WriteFlatError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}

	res, err := h.svc.Profile(r.Context(), req)
	if err != nil {
		writeFlatFromError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (h *GenerateHandler) image(w http.ResponseWriter, r *http.Request, payload json.RawMessage) {
	var p api.ImagePayload
	if err := unmarshalPayload(payload, &p); err != nil {
		WriteFlatError(w, http.StatusBadRequest, "invalid payload: "+err.Error())
		return
	}
	appearance := strings.TrimSpace(p.Appearance)
	if appearance == "" {
		WriteFlatError(w, http.StatusBadRequest, "appearance is required")
		return
	}

	task := func(ctx context.Context) (types.ImageArtifact, error) {
		return h.svc.Image(ctx, appearance)
	}
	if h.opts.StreamImage {
		h.relay.Serve(w, r, task)
		return
	}
	h.relay.Respond(w, r, task)
}

func unmarshalPayload(payload json.RawMessage, dst any) error {
	if len(payload) == 0 {
		return json.Unmarshal([]byte("{}"), dst)
	}
	return json.Unmarshal(payload, dst)
}
