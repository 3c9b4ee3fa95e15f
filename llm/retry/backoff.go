package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

// Strategy 退避策略
type Strategy string

const (
	// StrategyLinear 线性退避：delay = attempt * BaseDelay
	StrategyLinear Strategy = "linear"
	// StrategyExponential 指数退避：delay = BaseDelay * 2^(attempt-1)，受 MaxDelay 限制
	StrategyExponential Strategy = "exponential"
)

// RetryPolicy 定义重试策略配置
type RetryPolicy struct {
	MaxAttempts int           // 总尝试次数（含第一次）
	BaseDelay   time.Duration // 基础延迟
	MaxDelay    time.Duration // 最大延迟（0 表示不限制）
	Strategy    Strategy      // 退避策略
	Jitter      bool          // 仅对指数退避生效，±25%

	// Classifier 判断错误是否为瞬时错误，nil 时使用 Classify
	Classifier func(error) bool
	// OnRetry 每次重试前回调，attempt 从 1 开始
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep 可注入的等待函数，返回非 nil 表示等待被取消
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy 返回默认的重试策略：3 次尝试，线性 2s / 4s
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Strategy:    StrategyLinear,
	}
}

// Retryer 重试器接口
type Retryer interface {
	// Do 执行函数，失败时根据策略重试
	Do(ctx context.Context, fn func() error) error

	// DoWithResult 执行函数并返回结果，失败时根据策略重试
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// backoffRetryer 基于退避策略的重试器实现
type backoffRetryer struct {
	policy RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer 创建重试器，policy 为 nil 时使用默认策略
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := *policy
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Strategy == "" {
		p.Strategy = StrategyLinear
	}
	if p.Classifier == nil {
		p.Classifier = Classify
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}

	return &backoffRetryer{
		policy: p,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do 实现 Retryer.Do
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult 实现 Retryer.DoWithResult
// 尝试耗尽后原样返回最后一次的错误
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			retryIndex := attempt - 1
			delay := r.CalculateDelay(retryIndex)

			r.logger.Warn("upstream call failed, retrying",
				zap.Int("attempt", retryIndex),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(retryIndex, lastErr, delay)
			}

			if err := r.policy.Sleep(ctx, delay); err != nil {
				return nil, err
			}
		}

		result, err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.Classifier(err) {
			r.logger.Debug("error is not transient", zap.Error(err))
			return nil, err
		}
	}

	r.logger.Warn("retry attempts exhausted",
		zap.Int("attempts", r.policy.MaxAttempts),
		zap.Error(lastErr),
	)
	return nil, lastErr
}

// CalculateDelay 计算第 retryIndex 次重试（从 1 开始）前的延迟
func (r *backoffRetryer) CalculateDelay(retryIndex int) time.Duration {
	return r.policy.Delay(retryIndex)
}

// Delay 按策略计算第 retryIndex 次重试前的延迟
func (p RetryPolicy) Delay(retryIndex int) time.Duration {
	if retryIndex < 1 {
		return 0
	}

	var delay float64
	switch p.Strategy {
	case StrategyExponential:
		delay = float64(p.BaseDelay) * math.Pow(2, float64(retryIndex-1))
		if p.Jitter {
			jitter := delay * 0.25
			delay += (rand.Float64()*2 - 1) * jitter
		}
	default:
		delay = float64(p.BaseDelay) * float64(retryIndex)
	}

	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// =============================================================================
// 瞬时错误分类
// =============================================================================

var transientMarkers = []string{
	"overload",
	"503",
	"unavailable",
	"rate limit",
	"ratelimit",
	"resource_exhausted",
	"too many requests",
}

var quotaMarkers = []string{
	"quota exhausted",
	"remainquota",
	"insufficient_quota",
	"exceeded your current quota",
}

// IsTransient 默认分类器：模型过载、服务不可用、限流视为瞬时错误；
// 额度耗尽与 context 取消不重试。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if e, ok := types.AsError(err); ok {
		switch e.Code {
		case types.ErrQuotaExhausted, types.ErrTimeout, types.ErrParse:
			return false
		case types.ErrModelOverloaded, types.ErrServiceUnavailable, types.ErrRateLimited:
			return true
		}
		if e.Retryable || e.HTTPStatus == http.StatusServiceUnavailable {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	if IsQuotaMessage(msg) {
		return false
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsQuotaMessage 判断文本是否表示账户额度耗尽
func IsQuotaMessage(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range quotaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// RetryableError 强制标记为可重试的错误包装
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryableError 检查错误是否被 WrapRetryable 包装
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// WrapRetryable 将错误包装为可重试错误
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Classify 组合分类器：WrapRetryable 包装过的错误总是重试，其余交给 IsTransient
func Classify(err error) bool {
	return IsRetryableError(err) || IsTransient(err)
}
