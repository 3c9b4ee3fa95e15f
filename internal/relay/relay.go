package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

// 流结果标签（指标）
const (
	OutcomeSuccess       = "success"
	OutcomeUpstreamError = "upstream_error"
	OutcomeLocalError    = "error"
	OutcomeClientGone    = "client_gone"
)

// Result 写入响应体的唯一 JSON 对象
type Result struct {
	ImageData string `json:"imageData,omitempty"`
	Error     string `json:"error,omitempty"`
	Raw       string `json:"raw,omitempty"`
}

// Task 后台执行的图像调用
type Task func(ctx context.Context) (types.ImageArtifact, error)

// Recorder 中继指标（metrics.Collector 实现）
type Recorder interface {
	RecordRelayStream(outcome string)
}

// Relay 流式中继
type Relay struct {
	keepAlive time.Duration
	recorder  Recorder
	logger    *zap.Logger
}

// Option 中继选项
type Option func(*Relay)

// WithRecorder 注入指标记录器
func WithRecorder(r Recorder) Option {
	return func(rl *Relay) { rl.recorder = r }
}

// New 创建中继；keepAlive <= 0 时不发送保活空白
func New(keepAlive time.Duration, logger *zap.Logger, opts ...Option) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &Relay{
		keepAlive: keepAlive,
		logger:    logger.With(zap.String("component", "relay")),
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// =============================================================================
// 📡 流式
// =============================================================================

// Serve 立即写出响应头，后台执行 task，结束时写入一个 JSON 对象
func (rl *Relay) Serve(w http.ResponseWriter, r *http.Request, task Task) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc := http.NewResponseController(w)
	// 清除服务器写超时，流的时长只受任务本身限制
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		rl.logger.Debug("clear write deadline failed", zap.Error(err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		rl.logger.Debug("initial flush failed", zap.Error(err))
	}

	done := make(chan Result, 1)
	go func() {
		img, err := task(ctx)
		// 缓冲为 1，处理函数已返回时结果留在通道里被丢弃
		done <- toResult(img, err)
	}()

	var tick <-chan time.Time
	if rl.keepAlive > 0 {
		ticker := time.NewTicker(rl.keepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case res := <-done:
			rl.write(w, rc, res)
			return
		case <-tick:
			if _, err := w.Write([]byte(" ")); err != nil {
				rl.clientGone(err)
				return
			}
			if err := rc.Flush(); err != nil {
				rl.clientGone(err)
				return
			}
		case <-ctx.Done():
			rl.clientGone(ctx.Err())
			return
		}
	}
}

func (rl *Relay) write(w http.ResponseWriter, rc *http.ResponseController, res Result) {
	data, err := json.Marshal(res)
	if err != nil {
		data = []byte(`{"error":"failed to encode result"}`)
	}
	if _, err := w.Write(data); err != nil {
		rl.clientGone(err)
		return
	}
	if err := rc.Flush(); err != nil {
		rl.logger.Debug("final flush failed", zap.Error(err))
	}
	rl.record(outcomeOf(res))
}

// clientGone 流已关闭，结果丢弃
func (rl *Relay) clientGone(err error) {
	rl.logger.Debug("relay stream closed before result was written", zap.Error(err))
	rl.record(OutcomeClientGone)
}

func (rl *Relay) record(outcome string) {
	if rl.recorder != nil {
		rl.recorder.RecordRelayStream(outcome)
	}
}

// =============================================================================
// 🔁 同步
// =============================================================================

// Respond 同步执行 task 并按结果设置状态码
func (rl *Relay) Respond(w http.ResponseWriter, r *http.Request, task Task) {
	img, err := task(r.Context())
	res := toResult(img, err)

	status := http.StatusOK
	switch {
	case err == nil && res.Error == "":
	case res.Raw != "":
		status = http.StatusBadGateway
		if e, ok := types.AsError(err); ok && e.HTTPStatus >= 400 {
			status = e.HTTPStatus
		}
	default:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		rl.logger.Debug("write response failed", zap.Error(err))
	}
	rl.record(outcomeOf(res))
}

// =============================================================================
// 🧩 结果
// =============================================================================

func toResult(img types.ImageArtifact, err error) Result {
	if err != nil {
		if e, ok := types.AsError(err); ok && e.Raw != "" {
			return Result{Error: e.Message, Raw: e.Raw}
		}
		return Result{Error: err.Error()}
	}
	if img.IsFailed() || img.IsPending() {
		return Result{Error: "image generation returned no image"}
	}
	return Result{ImageData: img.String()}
}

func outcomeOf(res Result) string {
	switch {
	case res.Error == "":
		return OutcomeSuccess
	case res.Raw != "":
		return OutcomeUpstreamError
	default:
		return OutcomeLocalError
	}
}
