package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

const (
	// DefaultTTL 缓存记录有效期
	DefaultTTL = 55 * time.Minute
	// KeyPrefix 存储键前缀
	KeyPrefix = "standforge:stand:"
)

// fingerprintFields 参与缓存身份的字段，字段顺序即序列化顺序
type fingerprintFields struct {
	Song           string `json:"song"`
	Color          string `json:"color"`
	Personality    string `json:"personality"`
	UserName       string `json:"userName"`
	ReferenceImage string `json:"referenceImageSha256,omitempty"`
}

// Fingerprint 返回请求的规范化 JSON 序列化
func Fingerprint(req types.GenerationRequest) string {
	f := fingerprintFields{
		Song:        req.Song,
		Color:       req.Color,
		Personality: req.Personality,
		UserName:    req.UserName,
	}
	if req.ReferenceImage != nil && len(req.ReferenceImage.Data) > 0 {
		sum := sha256.Sum256(req.ReferenceImage.Data)
		f.ReferenceImage = hex.EncodeToString(sum[:])
	}

	// 仅含字符串字段，Marshal 不会失败
	data, _ := json.Marshal(f)
	return string(data)
}

// Key 指纹对应的存储键
func Key(fingerprint string) string {
	sum := sha256.Sum256([]byte(fingerprint))
	return KeyPrefix + hex.EncodeToString(sum[:])
}

// Record 缓存记录
type Record struct {
	Fingerprint string               `json:"fingerprint"`
	CreatedAt   time.Time            `json:"createdAt"`
	Payload     types.MergedArtifact `json:"payload"`
}

// Recorder 缓存命中指标
type Recorder interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// =============================================================================
// 🔑 指纹缓存
// =============================================================================

// FingerprintCache 按请求指纹缓存完整生成结果
type FingerprintCache struct {
	store    Store
	backend  string
	ttl      time.Duration
	now      func() time.Time
	recorder Recorder
	logger   *zap.Logger
}

// Option 指纹缓存选项
type Option func(*FingerprintCache)

// WithTTL 覆盖默认有效期
func WithTTL(ttl time.Duration) Option {
	return func(c *FingerprintCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock 注入时钟
func WithClock(now func() time.Time) Option {
	return func(c *FingerprintCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithRecorder 注入指标记录器
func WithRecorder(r Recorder) Option {
	return func(c *FingerprintCache) { c.recorder = r }
}

// NewFingerprintCache 创建指纹缓存，store 为 nil 时缓存被禁用
func NewFingerprintCache(store Store, backend string, logger *zap.Logger, opts ...Option) *FingerprintCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &FingerprintCache{
		store:   store,
		backend: backend,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "fingerprint_cache")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled 是否配置了存储
func (c *FingerprintCache) Enabled() bool { return c != nil && c.store != nil }

// TTL 记录有效期
func (c *FingerprintCache) TTL() time.Duration { return c.ttl }

// Get 查找缓存，过期记录在此处删除。存储错误按未命中处理。
func (c *FingerprintCache) Get(ctx context.Context, req types.GenerationRequest) (types.MergedArtifact, bool) {
	if !c.Enabled() {
		return types.MergedArtifact{}, false
	}

	fp := Fingerprint(req)
	key := Key(fp)

	raw, err := c.store.Get(ctx, key)
	if err != nil {
		if !IsCacheMiss(err) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		c.miss()
		return types.MergedArtifact{}, false
	}

	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Fingerprint != fp {
		c.logger.Warn("discarding unreadable cache record", zap.String("key", key), zap.Error(err))
		c.evict(ctx, key)
		c.miss()
		return types.MergedArtifact{}, false
	}

	if c.now().Sub(rec.CreatedAt) > c.ttl {
		c.logger.Debug("cache record expired", zap.String("key", key), zap.Time("created_at", rec.CreatedAt))
		c.evict(ctx, key)
		c.miss()
		return types.MergedArtifact{}, false
	}

	c.hit()
	return rec.Payload, true
}

// Put 写入完整生成结果
func (c *FingerprintCache) Put(ctx context.Context, req types.GenerationRequest, artifact types.MergedArtifact) error {
	if !c.Enabled() {
		return nil
	}

	fp := Fingerprint(req)
	rec := Record{
		Fingerprint: fp,
		CreatedAt:   c.now(),
		Payload:     artifact,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}

	if err := c.store.Set(ctx, Key(fp), string(data), c.ttl); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	return nil
}

// Ping 检查底层存储
func (c *FingerprintCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Ping(ctx)
}

// Close 关闭底层存储
func (c *FingerprintCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.store.Close()
}

func (c *FingerprintCache) evict(ctx context.Context, key string) {
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Warn("cache evict failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *FingerprintCache) hit() {
	if c.recorder != nil {
		c.recorder.RecordCacheHit(c.backend)
	}
}

func (c *FingerprintCache) miss() {
	if c.recorder != nil {
		c.recorder.RecordCacheMiss(c.backend)
	}
}
