package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/internal/ctxkeys"
	"github.com/BaSui01/standforge/internal/tlsutil"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🔀 方言
// =============================================================================

// Dialect 上游请求/响应格式，封闭枚举
type Dialect int

const (
	// DialectNativeJSON Gemini 原生 generateContent 格式
	DialectNativeJSON Dialect = iota + 1
	// DialectOpenAICompatible OpenAI 兼容格式
	DialectOpenAICompatible
)

// String 返回方言名，用作指标 label
func (d Dialect) String() string {
	switch d {
	case DialectNativeJSON:
		return "native"
	case DialectOpenAICompatible:
		return "openai"
	default:
		return "unknown"
	}
}

// DetectDialect 模型 id 中包含 "gemini"（不区分大小写）时使用原生方言
func DetectDialect(model string) Dialect {
	if strings.Contains(strings.ToLower(model), "gemini") {
		return DialectNativeJSON
	}
	return DialectOpenAICompatible
}

// ParseDialect 解析配置中的方言设置，"auto" 或空值按模型 id 推断
func ParseDialect(setting, model string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(setting)) {
	case "", "auto":
		return DetectDialect(model), nil
	case "native", "gemini", "native_json":
		return DialectNativeJSON, nil
	case "openai", "openai_compatible", "openai-compatible":
		return DialectOpenAICompatible, nil
	default:
		return 0, fmt.Errorf("unknown upstream dialect %q", setting)
	}
}

// =============================================================================
// ⚙️ 配置
// =============================================================================

// Endpoint 一个上游端点
type Endpoint struct {
	Dialect Dialect
	BaseURL string
	APIKey  string
	Model   string
}

// Config 适配器配置
type Config struct {
	Text  Endpoint
	Image Endpoint
	// ProxyModel /generate-text 未指定模型时使用
	ProxyModel string
	// Timeout 单次 HTTP 调用超时（0 表示仅受 ctx 控制）
	Timeout    time.Duration
	HTTPClient *http.Client
}

// TextPrompt 一次文本调用的输入
type TextPrompt struct {
	System string
	User   string
	// Model 覆盖端点默认模型
	Model      string
	Attachment *types.ReferenceImage
	// JSONMode 要求上游直接返回 JSON
	JSONMode bool
}

// Adapter 上游调用契约
type Adapter interface {
	CallText(ctx context.Context, prompt TextPrompt) (string, error)
	CallImage(ctx context.Context, prompt string) (types.ImageArtifact, error)
}

// Recorder 上游请求指标
type Recorder interface {
	RecordUpstreamRequest(dialect, kind, outcome string, duration time.Duration)
}

// =============================================================================
// 🌐 客户端
// =============================================================================

// Client 实现 Adapter，按端点方言分派
type Client struct {
	cfg      Config
	http     *http.Client
	logger   *zap.Logger
	recorder Recorder
	obs      *observer
}

// Option 客户端选项
type Option func(*Client)

// WithRecorder 注入 Prometheus 指标记录器
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New 创建上游客户端
func New(cfg Config, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = tlsutil.SecureHTTPClient(cfg.Timeout)
	}

	c := &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger.With(zap.String("component", "upstream")),
		obs:    newObserver(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config 返回客户端配置
func (c *Client) Config() Config { return c.cfg }

// CallText 调用文本模型，返回模型的原始文本输出
func (c *Client) CallText(ctx context.Context, prompt TextPrompt) (text string, err error) {
	ep := c.cfg.Text
	if prompt.Model != "" {
		ep.Model = prompt.Model
	}

	ctx, finish := c.instrument(ctx, "text", ep)
	defer func() { finish(err) }()

	switch ep.Dialect {
	case DialectNativeJSON:
		return c.nativeText(ctx, ep, prompt)
	case DialectOpenAICompatible:
		return c.openAIText(ctx, ep, prompt)
	default:
		return "", types.NewError(types.ErrConfiguration, "text endpoint has no dialect")
	}
}

// CallImage 调用图像模型
func (c *Client) CallImage(ctx context.Context, prompt string) (img types.ImageArtifact, err error) {
	ep := c.cfg.Image

	ctx, finish := c.instrument(ctx, "image", ep)
	defer func() { finish(err) }()

	switch ep.Dialect {
	case DialectNativeJSON:
		return c.nativeImage(ctx, ep, prompt)
	case DialectOpenAICompatible:
		return c.openAIImage(ctx, ep, prompt)
	default:
		return types.FailedImage(), types.NewError(types.ErrConfiguration, "image endpoint has no dialect")
	}
}

// instrument 开启 span 并在结束时记录指标
func (c *Client) instrument(ctx context.Context, kind string, ep Endpoint) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := c.obs.start(ctx, kind, ep)

	return ctx, func(err error) {
		duration := time.Since(start)
		outcome := outcomeOf(err)

		c.obs.end(ctx, span, kind, ep, outcome, duration, err)
		if c.recorder != nil {
			c.recorder.RecordUpstreamRequest(ep.Dialect.String(), kind, outcome, duration)
		}

		fields := []zap.Field{
			zap.String("kind", kind),
			zap.String("dialect", ep.Dialect.String()),
			zap.String("model", ep.Model),
			zap.Duration("duration", duration),
		}
		fields = append(fields, ctxkeys.LogFields(ctx)...)
		if err != nil {
			c.logger.Warn("upstream call failed", append(fields, zap.Error(err))...)
			return
		}
		c.logger.Debug("upstream call succeeded", fields...)
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	if code := types.GetErrorCode(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}

// maxResponseBytes 图像响应可能包含较大的 base64 内容
const maxResponseBytes = 64 << 20

// post 发送 JSON 请求，非 2xx 映射为结构化错误
func (c *Client) post(ctx context.Context, ep Endpoint, url string, payload any, headers map[string]string) ([]byte, error) {
	status, data, err := c.do(ctx, ep, url, payload, headers)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, MapHTTPError(status, data, ep.Dialect.String())
	}
	return data, nil
}

// do 发送 JSON 请求并返回状态码与响应体，仅网络层失败返回 error
func (c *Client) do(ctx context.Context, ep Endpoint, url string, payload any, headers map[string]string) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, transportError(ctx, err, ep)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, transportError(ctx, err, ep)
	}
	return resp.StatusCode, data, nil
}

// transportError 网络层错误：超时映射为 TIMEOUT，取消原样返回，其余不重试
func transportError(ctx context.Context, err error, ep Endpoint) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return types.NewTimeoutError("upstream call timed out", err).WithProvider(ep.Dialect.String())
	case errors.Is(err, context.Canceled):
		return err
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewTimeoutError("upstream call timed out", err).WithProvider(ep.Dialect.String())
	}
	return types.NewError(types.ErrUpstreamError, "upstream request failed").
		WithCause(err).
		WithProvider(ep.Dialect.String())
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
