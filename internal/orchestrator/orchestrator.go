package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/standforge/internal/ctxkeys"
	"github.com/BaSui01/standforge/llm/retry"
	"github.com/BaSui01/standforge/llm/upstream"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// ⚙️ 配置与依赖
// =============================================================================

// ProfileFailurePolicy 档案阶段失败时的处理方式
type ProfileFailurePolicy string

const (
	// ProfileFailureFatal 档案失败则整体失败，取消图像调用，不落盘
	ProfileFailureFatal ProfileFailurePolicy = "fatal"
	// ProfileFailureDegrade 以概念结果补齐档案，标记 ProfileIncomplete
	ProfileFailureDegrade ProfileFailurePolicy = "degrade"
)

// 生成结果标签（指标）
const (
	OutcomeSuccess  = "success"
	OutcomeCacheHit = "cache_hit"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Config 编排器配置
type Config struct {
	ProfileFailure ProfileFailurePolicy
	// ImageTimeout 图像一路的总超时（含重试）
	ImageTimeout time.Duration
	// Retry 三次上游调用共用的重试策略，nil 时使用默认策略
	Retry *retry.RetryPolicy
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ProfileFailure: ProfileFailureFatal,
		ImageTimeout:   2 * time.Minute,
		Retry:          retry.DefaultRetryPolicy(),
	}
}

// Cache 结果缓存端口（cache.FingerprintCache 实现）
type Cache interface {
	Get(ctx context.Context, req types.GenerationRequest) (types.MergedArtifact, bool)
	Put(ctx context.Context, req types.GenerationRequest, artifact types.MergedArtifact) error
}

// HistoryWriter 历史写入端口（history.Store 实现）
type HistoryWriter interface {
	Put(ctx context.Context, artifact types.MergedArtifact) error
}

// Recorder 生成指标（metrics.Collector 实现）
type Recorder interface {
	RecordGeneration(outcome string, duration time.Duration)
	RecordStateTransition(fromState, toState string)
	RecordRetry(operation string)
}

// Snapshot 推送给调用方的不可变快照
type Snapshot struct {
	Seq      int                  `json:"seq"`
	State    State                `json:"state"`
	Artifact types.MergedArtifact `json:"artifact"`
}

// Observer 接收快照；同一次生成内按顺序串行调用
type Observer func(Snapshot)

// =============================================================================
// 🎯 编排器
// =============================================================================

// Orchestrator 生成流程编排器，可被多个请求并发使用
type Orchestrator struct {
	adapter  upstream.Adapter
	cfg      Config
	cache    Cache
	history  HistoryWriter
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// Option 编排器选项
type Option func(*Orchestrator)

// WithCache 注入指纹缓存
func WithCache(c Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithHistory 注入历史存储
func WithHistory(h HistoryWriter) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithRecorder 注入指标记录器
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithIDGenerator 注入 id 生成器
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New 创建编排器
func New(adapter upstream.Adapter, cfg Config, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProfileFailure == "" {
		cfg.ProfileFailure = ProfileFailureFatal
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = 2 * time.Minute
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryPolicy()
	}

	o := &Orchestrator{
		adapter: adapter,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "orchestrator")),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ValidateRequest 校验生成请求
func ValidateRequest(req types.GenerationRequest) error {
	if err := validate.Struct(req); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error()).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}

// =============================================================================
// 🚀 生成
// =============================================================================

// Generate 执行一次生成，按顺序把快照交给 observe（可为 nil），返回最终产物
func (o *Orchestrator) Generate(ctx context.Context, req types.GenerationRequest, observe Observer) (types.MergedArtifact, error) {
	start := time.Now()
	if err := ValidateRequest(req); err != nil {
		return types.MergedArtifact{}, err
	}

	r := o.newRun(observe)
	artifact, outcome, err := o.run(ctx, req, r)
	reqFields := ctxkeys.LogFields(ctx)

	duration := time.Since(start)
	if o.recorder != nil {
		o.recorder.RecordGeneration(outcome, duration)
	}
	if err != nil {
		o.logger.Error("generation failed", append(reqFields,
			zap.String("state", string(r.machine.State())),
			zap.Duration("duration", duration),
			zap.Error(err),
		)...)
		return types.MergedArtifact{}, err
	}

	o.logger.Info("generation completed", append(reqFields,
		zap.String("id", artifact.ID),
		zap.String("name", artifact.Name),
		zap.String("outcome", outcome),
		zap.Bool("image_failed", artifact.Image.IsFailed()),
		zap.Duration("duration", duration),
	)...)
	return artifact, nil
}

// run 单次生成的可变状态
type run struct {
	machine *machine
	observe Observer
	mu      sync.Mutex
	seq     int
}

func (o *Orchestrator) newRun(observe Observer) *run {
	r := &run{observe: observe}
	r.machine = newMachine(func(from, to State) {
		if o.recorder != nil {
			o.recorder.RecordStateTransition(string(from), string(to))
		}
		o.logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	})
	return r
}

// emit 推送快照；快照是深拷贝
func (r *run) emit(state State, artifact types.MergedArtifact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if r.observe != nil {
		r.observe(Snapshot{Seq: r.seq, State: state, Artifact: artifact.Clone()})
	}
}

func (o *Orchestrator) run(ctx context.Context, req types.GenerationRequest, r *run) (types.MergedArtifact, string, error) {
	// 1. 缓存命中：重新写入历史，不调用上游
	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, req); ok {
			cached.Timestamp = o.now()
			o.writeHistory(ctx, cached)
			if err := r.machine.Transition(StatePersisted); err != nil {
				return types.MergedArtifact{}, OutcomeFailed, err
			}
			r.emit(StatePersisted, cached)
			return cached, OutcomeCacheHit, nil
		}
	}

	// 2. 概念阶段
	if err := r.machine.Transition(StateConceptPending); err != nil {
		return types.MergedArtifact{}, OutcomeFailed, err
	}
	concept, err := o.concept(ctx, req)
	if err != nil {
		r.machine.Fail()
		return types.MergedArtifact{}, OutcomeFailed, err
	}

	// 3. 名字快照
	if err := r.machine.Transition(StateProfileAndImagePending); err != nil {
		return types.MergedArtifact{}, OutcomeFailed, err
	}
	base := types.MergedArtifact{
		ID:          o.newID(),
		UserName:    req.UserName,
		Timestamp:   o.now(),
		Appearance:  concept.Appearance,
		FullProfile: types.FullProfile{Name: concept.Name},
		Image:       types.PendingImage(),
	}
	r.emit(StateProfileAndImagePending, base)

	// 4-5. 档案与图像并发
	final, err := o.arms(ctx, req, concept, base, r)
	if err != nil {
		r.machine.Fail()
		return types.MergedArtifact{}, OutcomeFailed, err
	}

	// 6. 落盘后推送完整快照
	o.persist(ctx, req, final)
	if err := r.machine.Transition(StatePersisted); err != nil {
		return types.MergedArtifact{}, OutcomeFailed, err
	}
	r.emit(StatePersisted, final)

	if final.ProfileIncomplete {
		return final, OutcomeDegraded, nil
	}
	return final, OutcomeSuccess, nil
}

// arms 档案与图像两路；图像一路在档案完成后才合并
func (o *Orchestrator) arms(ctx context.Context, req types.GenerationRequest, concept types.ConceptResult, base types.MergedArtifact, r *run) (types.MergedArtifact, error) {
	g, gctx := errgroup.WithContext(ctx)
	profileDone := make(chan struct{})

	var (
		profile    types.FullProfile
		incomplete bool
		final      types.MergedArtifact
	)

	g.Go(func() error {
		defer close(profileDone)

		p, err := o.profile(gctx, req, concept)
		if err != nil {
			if o.cfg.ProfileFailure != ProfileFailureDegrade {
				return err
			}
			o.logger.Warn("profile failed, degrading", zap.String("name", concept.Name), zap.Error(err))
			p = degradedProfile(concept)
			incomplete = true
		}
		if err := r.machine.Transition(StateProfileReady); err != nil {
			return err
		}

		snap := base.Clone()
		snap.FullProfile = p.Clone()
		snap.ProfileIncomplete = incomplete
		r.emit(StateProfileReady, snap)

		profile = p
		return nil
	})

	g.Go(func() error {
		img := o.image(gctx, concept.Appearance)

		// 图像先到时先记 IMAGE_READY，再等档案
		r.machine.tryTransition(StateProfileAndImagePending, StateImageReady)
		<-profileDone
		if err := gctx.Err(); err != nil {
			return err
		}

		merged := base.Clone()
		merged.FullProfile = profile.Clone()
		merged.ProfileIncomplete = incomplete
		merged.Image = img
		if err := r.machine.Transition(StateMerged); err != nil {
			return err
		}
		final = merged
		return nil
	})

	if err := g.Wait(); err != nil {
		return types.MergedArtifact{}, err
	}
	return final, nil
}

// =============================================================================
// 📞 三次上游调用
// =============================================================================

func (o *Orchestrator) retryer(operation string) retry.Retryer {
	p := *o.cfg.Retry
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		if o.recorder != nil {
			o.recorder.RecordRetry(operation)
		}
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}
	}
	return retry.NewBackoffRetryer(&p, o.logger.With(zap.String("operation", operation)))
}

func (o *Orchestrator) concept(ctx context.Context, req types.GenerationRequest) (types.ConceptResult, error) {
	prompt := conceptPrompt(req)
	text, err := retry.Do(ctx, o.retryer("concept"), func() (string, error) {
		return o.adapter.CallText(ctx, prompt)
	})
	if err != nil {
		return types.ConceptResult{}, err
	}
	return parseConcept(text)
}

func (o *Orchestrator) profile(ctx context.Context, req types.GenerationRequest, concept types.ConceptResult) (types.FullProfile, error) {
	prompt := profilePrompt(req, concept)
	text, err := retry.Do(ctx, o.retryer("profile"), func() (string, error) {
		return o.adapter.CallText(ctx, prompt)
	})
	if err != nil {
		return types.FullProfile{}, err
	}
	return parseProfile(text, concept)
}

// image 不返回错误：失败与超时都降级为 failed
func (o *Orchestrator) image(ctx context.Context, appearance string) types.ImageArtifact {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ImageTimeout)
	defer cancel()

	img, err := o.Image(ctx, appearance)
	switch {
	case err == nil && !img.IsPending():
		return img
	case errors.Is(err, context.DeadlineExceeded) || types.IsErrorCode(err, types.ErrTimeout):
		o.logger.Warn("image generation timed out", zap.Duration("timeout", o.cfg.ImageTimeout))
	case err != nil:
		o.logger.Warn("image generation failed", zap.Error(err))
	default:
		o.logger.Warn("image generation returned no image")
	}
	return types.FailedImage()
}

// Image 只执行图像调用（带重试），错误原样返回给调用方
func (o *Orchestrator) Image(ctx context.Context, appearance string) (types.ImageArtifact, error) {
	prompt := imagePrompt(appearance)
	return retry.Do(ctx, o.retryer("image"), func() (types.ImageArtifact, error) {
		return o.adapter.CallImage(ctx, prompt)
	})
}

// =============================================================================
// 💾 落盘
// =============================================================================

// persist 写入缓存与历史；失败只记录日志
func (o *Orchestrator) persist(ctx context.Context, req types.GenerationRequest, artifact types.MergedArtifact) {
	if o.cache != nil {
		if err := o.cache.Put(ctx, req, artifact); err != nil {
			o.logger.Warn("cache write failed", zap.String("id", artifact.ID), zap.Error(err))
		}
	}
	o.writeHistory(ctx, artifact)
}

func (o *Orchestrator) writeHistory(ctx context.Context, artifact types.MergedArtifact) {
	if o.history == nil {
		return
	}
	if err := o.history.Put(ctx, artifact); err != nil {
		o.logger.Warn("history write failed", zap.String("id", artifact.ID), zap.Error(err))
	}
}

// =============================================================================
// 📜 仅档案（POST /generate action=profile）
// =============================================================================

// ProfileResult 概念 + 档案，不含图像
type ProfileResult struct {
	types.FullProfile
	Appearance string `json:"appearance"`
	Reasoning  string `json:"reasoning,omitempty"`
}

// Profile 只执行概念与档案两步，不读写缓存与历史
func (o *Orchestrator) Profile(ctx context.Context, req types.GenerationRequest) (ProfileResult, error) {
	if err := ValidateRequest(req); err != nil {
		return ProfileResult{}, err
	}

	concept, err := o.concept(ctx, req)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("concept: %w", err)
	}
	p, err := o.profile(ctx, req, concept)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("profile: %w", err)
	}
	return ProfileResult{FullProfile: p, Appearance: concept.Appearance, Reasoning: concept.Reasoning}, nil
}
