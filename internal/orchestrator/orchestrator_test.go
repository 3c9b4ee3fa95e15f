package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/internal/cache"
	"github.com/BaSui01/standforge/internal/history"
	"github.com/BaSui01/standforge/llm/retry"
	"github.com/BaSui01/standforge/testutil"
	"github.com/BaSui01/standforge/testutil/fixtures"
	"github.com/BaSui01/standforge/testutil/mocks"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🧰 测试装配
// =============================================================================

type harness struct {
	adapter  *mocks.MockAdapter
	cache    *cache.FingerprintCache
	history  *history.MemoryStore
	sleeper  *testutil.SleepRecorder
	clock    *testutil.FakeClock
	recorder *fakeRecorder
	orch     *Orchestrator
}

type harnessOption func(*Config)

func newHarness(t *testing.T, adapter *mocks.MockAdapter, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		adapter:  adapter,
		sleeper:  testutil.NewSleepRecorder(),
		clock:    testutil.NewFakeClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)),
		recorder: &fakeRecorder{},
		history:  history.NewMemoryStore(history.Policy{MaxItems: 10, Dedupe: true}, zap.NewNop()),
	}
	h.cache = cache.NewFingerprintCache(cache.NewMemoryStore(h.clock.Now), "memory", zap.NewNop(),
		cache.WithClock(h.clock.Now))

	policy := retry.DefaultRetryPolicy()
	policy.Sleep = h.sleeper.Sleep

	cfg := Config{
		ProfileFailure: ProfileFailureFatal,
		ImageTimeout:   time.Second,
		Retry:          policy,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h.orch = h.build(adapter, cfg)
	return h
}

func (h *harness) build(adapter *mocks.MockAdapter, cfg Config) *Orchestrator {
	return New(adapter, cfg, zap.NewNop(),
		WithCache(h.cache),
		WithHistory(h.history),
		WithRecorder(h.recorder),
		WithClock(h.clock.Now),
	)
}

func happyAdapter() *mocks.MockAdapter {
	return mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(fixtures.ProfileJSON)).
		WithImage(mocks.Image(fixtures.InlineImage()))
}

type snapshotLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapshotLog) observe(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapshotLog) all() []Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Snapshot(nil), l.snaps...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	outcomes    []string
	transitions []string
	retries     map[string]int
}

func (f *fakeRecorder) RecordGeneration(outcome string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, outcome)
}

func (f *fakeRecorder) RecordStateTransition(from, to string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transitions = append(f.transitions, from+">"+to)
}

func (f *fakeRecorder) RecordRetry(operation string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retries == nil {
		f.retries = make(map[string]int)
	}
	f.retries[operation]++
}

// =============================================================================
// 🎬 端到端场景
// =============================================================================

func TestGenerate_ThreeOrderedSnapshotsOnMiss(t *testing.T) {
	h := newHarness(t, happyAdapter())
	ctx := testutil.TestContext(t)
	log := &snapshotLog{}

	final, err := h.orch.Generate(ctx, fixtures.KillerQueenRequest(), log.observe)
	require.NoError(t, err)

	snaps := log.all()
	require.Len(t, snaps, 3)

	// 名字快照
	assert.Equal(t, 1, snaps[0].Seq)
	assert.Equal(t, StateProfileAndImagePending, snaps[0].State)
	assert.Equal(t, "Killer Queen (杀手皇后)", snaps[0].Artifact.Name)
	assert.Equal(t, "Jotaro", snaps[0].Artifact.UserName)
	assert.Empty(t, snaps[0].Artifact.AbilityName)
	assert.True(t, snaps[0].Artifact.Image.IsPending())

	// 档案快照
	assert.Equal(t, StateProfileReady, snaps[1].State)
	assert.Equal(t, "败者食尘", snaps[1].Artifact.AbilityName)
	assert.Len(t, snaps[1].Artifact.Mechanics, 2)
	assert.Equal(t, types.GradeA, snaps[1].Artifact.Stats.Power)
	assert.True(t, snaps[1].Artifact.Image.IsPending())

	// 完整快照
	assert.Equal(t, StatePersisted, snaps[2].State)
	assert.Equal(t, types.ImageInline, snaps[2].Artifact.Image.Kind)
	assert.Equal(t, "败者食尘", snaps[2].Artifact.AbilityName)

	// 三个快照同一个 id
	assert.Equal(t, final.ID, snaps[0].Artifact.ID)
	assert.Equal(t, final.ID, snaps[2].Artifact.ID)

	all, err := history.AllByTimeDesc(ctx, h.history)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, final.ID, all[0].ID)
	assert.Equal(t, final.FullProfile, all[0].FullProfile)
	assert.Equal(t, final.Image.String(), all[0].Image.String())

	assert.Equal(t, 2, h.adapter.TextCalls())
	assert.Equal(t, 1, h.adapter.ImageCalls())
	assert.Equal(t, []string{OutcomeSuccess}, h.recorder.outcomes)
}

func TestGenerate_CacheHitSkipsUpstream(t *testing.T) {
	h := newHarness(t, happyAdapter())
	ctx := testutil.TestContext(t)
	req := fixtures.KillerQueenRequest()

	first, err := h.orch.Generate(ctx, req, nil)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)

	// 第二次使用空脚本的适配器：任何上游调用都会失败
	empty := mocks.NewMockAdapter()
	second := h.build(empty, Config{Retry: retry.DefaultRetryPolicy()})

	log := &snapshotLog{}
	got, err := second.Generate(ctx, req, log.observe)
	require.NoError(t, err)

	assert.Zero(t, empty.Calls())
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.FullProfile, got.FullProfile)

	snaps := log.all()
	require.Len(t, snaps, 1)
	assert.Equal(t, StatePersisted, snaps[0].State)

	// 重新写入历史：同一条记录，时间戳刷新
	all, err := history.AllByTimeDesc(ctx, h.history)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, first.ID, all[0].ID)
	assert.True(t, all[0].Timestamp.After(first.Timestamp))
}

func TestGenerate_CacheExpiresAfterTTL(t *testing.T) {
	adapter := happyAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(fixtures.ProfileJSON)).
		WithImage(mocks.Image(fixtures.InlineImage()))
	h := newHarness(t, adapter)
	ctx := testutil.TestContext(t)

	_, err := h.orch.Generate(ctx, fixtures.KillerQueenRequest(), nil)
	require.NoError(t, err)

	h.clock.Advance(56 * time.Minute)

	_, err = h.orch.Generate(ctx, fixtures.KillerQueenRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, adapter.TextCalls())
	assert.Equal(t, 2, adapter.ImageCalls())
}

func TestGenerate_ImageTimeoutDegradesToFailed(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(fixtures.ProfileJSON)).
		WithImage(mocks.Hang())
	h := newHarness(t, adapter, func(c *Config) { c.ImageTimeout = 50 * time.Millisecond })
	ctx := testutil.TestContext(t)
	log := &snapshotLog{}

	final, err := h.orch.Generate(ctx, fixtures.KillerQueenRequest(), log.observe)
	require.NoError(t, err)

	assert.True(t, final.Image.IsFailed())
	assert.Equal(t, "failed", final.Image.String())
	assert.Equal(t, "败者食尘", final.AbilityName)
	assert.Equal(t, "将触碰过的任何物体变为炸弹", final.Description)
	assert.Len(t, log.all(), 3)

	stored, err := h.history.Get(ctx, final.ID)
	require.NoError(t, err)
	assert.True(t, stored.Image.IsFailed())
}

func TestGenerate_ConceptRetriesTransientFailures(t *testing.T) {
	overloaded := types.NewUpstreamError(503, `{"error":{"message":"The model is overloaded"}}`)
	adapter := mocks.NewMockAdapter().
		WithText(
			mocks.Fail(overloaded),
			mocks.Fail(overloaded),
			mocks.Text(fixtures.ConceptJSON),
			mocks.Text(fixtures.ProfileJSON),
		).
		WithImage(mocks.Image(fixtures.InlineImage()))
	h := newHarness(t, adapter)

	final, err := h.orch.Generate(testutil.TestContext(t), fixtures.KillerQueenRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Killer Queen (杀手皇后)", final.Name)

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, h.sleeper.Delays())
	assert.Equal(t, 2, h.recorder.retries["concept"])
}

// =============================================================================
// 💥 失败路径
// =============================================================================

func TestGenerate_ConceptFailureIsFatal(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text("抱歉，我无法完成这个请求。"))
	h := newHarness(t, adapter)
	log := &snapshotLog{}

	_, err := h.orch.Generate(testutil.TestContext(t), fixtures.KillerQueenRequest(), log.observe)
	require.Error(t, err)
	assert.Equal(t, types.ErrParse, types.GetErrorCode(err))

	assert.Empty(t, log.all(), "no partial artifact without a concept")
	assert.Zero(t, adapter.ImageCalls())
	assert.Empty(t, h.sleeper.Delays(), "parse errors are not retried")
	assert.Contains(t, h.recorder.transitions, "CONCEPT_PENDING>FAILED")
	assert.Equal(t, []string{OutcomeFailed}, h.recorder.outcomes)
}

func TestGenerate_QuotaExhaustedNotRetried(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Fail(types.NewQuotaExhaustedError(403, "RemainQuota: 0")))
	h := newHarness(t, adapter)

	_, err := h.orch.Generate(testutil.TestContext(t), fixtures.KillerQueenRequest(), nil)
	assert.Equal(t, types.ErrQuotaExhausted, types.GetErrorCode(err))
	assert.Equal(t, 1, adapter.TextCalls())
	assert.Empty(t, h.sleeper.Delays())
}

func TestGenerate_ProfileFailureFatal(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(`{"abilityName": "x"}`)).
		WithImage(mocks.Hang())
	h := newHarness(t, adapter, func(c *Config) { c.ImageTimeout = time.Minute })
	ctx := testutil.TestContext(t)
	log := &snapshotLog{}

	start := time.Now()
	_, err := h.orch.Generate(ctx, fixtures.KillerQueenRequest(), log.observe)
	require.Error(t, err)
	assert.Equal(t, types.ErrMalformedResponse, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), 30*time.Second, "image arm is cancelled")

	assert.Len(t, log.all(), 1)
	all, err := h.history.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, hit := h.cache.Get(ctx, fixtures.KillerQueenRequest())
	assert.False(t, hit)
}

func TestGenerate_ProfileFailureDegrade(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Fail(errors.New("connection reset"))).
		WithImage(mocks.Image(fixtures.InlineImage()))
	h := newHarness(t, adapter, func(c *Config) { c.ProfileFailure = ProfileFailureDegrade })
	ctx := testutil.TestContext(t)
	log := &snapshotLog{}

	final, err := h.orch.Generate(ctx, fixtures.KillerQueenRequest(), log.observe)
	require.NoError(t, err)

	assert.True(t, final.ProfileIncomplete)
	assert.Equal(t, "Killer Queen (杀手皇后)", final.Name)
	assert.Equal(t, "深红色的猫型人形替身，双手带有骷髅纹样的护甲", final.Appearance)
	assert.Empty(t, final.AbilityName)
	assert.Equal(t, types.GradeNone, final.Stats.Power)
	assert.Equal(t, types.ImageInline, final.Image.Kind)

	snaps := log.all()
	require.Len(t, snaps, 3)
	assert.True(t, snaps[1].Artifact.ProfileIncomplete)

	_, err = h.history.Get(ctx, final.ID)
	assert.NoError(t, err)
	assert.Equal(t, []string{OutcomeDegraded}, h.recorder.outcomes)
}

func TestGenerate_InvalidRequest(t *testing.T) {
	adapter := mocks.NewMockAdapter()
	h := newHarness(t, adapter)

	req := fixtures.KillerQueenRequest()
	req.Song = ""
	_, err := h.orch.Generate(testutil.TestContext(t), req, nil)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	assert.Zero(t, adapter.Calls())
}

func TestGenerate_ImageFirstWaitsForProfile(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(
			mocks.Text(fixtures.ConceptJSON),
			mocks.Result{Text: fixtures.ProfileJSON, Delay: 100 * time.Millisecond},
		).
		WithImage(mocks.Image(fixtures.InlineImage()))
	h := newHarness(t, adapter)
	log := &snapshotLog{}

	final, err := h.orch.Generate(testutil.TestContext(t), fixtures.KillerQueenRequest(), log.observe)
	require.NoError(t, err)

	snaps := log.all()
	require.Len(t, snaps, 3)
	assert.True(t, snaps[1].Artifact.Image.IsPending())
	assert.Equal(t, "败者食尘", final.AbilityName)
	assert.Equal(t, types.ImageInline, final.Image.Kind)
	assert.Contains(t, h.recorder.transitions, "PROFILE_AND_IMAGE_PENDING>IMAGE_READY")
	assert.Contains(t, h.recorder.transitions, "IMAGE_READY>PROFILE_READY")
}

func TestGenerate_SnapshotsAreIndependentCopies(t *testing.T) {
	h := newHarness(t, happyAdapter())
	log := &snapshotLog{}

	_, err := h.orch.Generate(testutil.TestContext(t), fixtures.KillerQueenRequest(), log.observe)
	require.NoError(t, err)

	snaps := log.all()
	snaps[1].Artifact.Mechanics[0].Title = "changed"
	assert.NotEqual(t, "changed", snaps[2].Artifact.Mechanics[0].Title)
}

func TestGenerate_ReferenceImageAttachedToConcept(t *testing.T) {
	h := newHarness(t, happyAdapter())
	req := fixtures.KillerQueenRequest()
	req.ReferenceImage = &types.ReferenceImage{MimeType: "image/png", Data: []byte{1, 2, 3}}

	_, err := h.orch.Generate(testutil.TestContext(t), req, nil)
	require.NoError(t, err)

	prompts := h.adapter.TextPrompts()
	require.Len(t, prompts, 2)
	assert.Same(t, req.ReferenceImage, prompts[0].Attachment)
	assert.Nil(t, prompts[1].Attachment)
	assert.True(t, prompts[0].JSONMode)
	assert.Contains(t, prompts[1].User, "Killer Queen (杀手皇后)")

	images := h.adapter.ImagePrompts()
	require.Len(t, images, 1)
	assert.True(t, strings.Contains(images[0], "深红色的猫型人形替身"))
}

// =============================================================================
// 📡 Stream / Profile
// =============================================================================

func TestStream(t *testing.T) {
	h := newHarness(t, happyAdapter())

	events := testutil.Collect(h.orch.Stream(testutil.TestContext(t), fixtures.KillerQueenRequest()))
	require.Len(t, events, 3)
	for i, ev := range events {
		require.NoError(t, ev.Err)
		require.NotNil(t, ev.Snapshot)
		assert.Equal(t, i+1, ev.Snapshot.Seq)
	}
	assert.Equal(t, StatePersisted, events[2].Snapshot.State)
}

func TestStream_ErrorIsLastEvent(t *testing.T) {
	h := newHarness(t, mocks.NewMockAdapter().WithText(mocks.Text("no json here")))

	events := testutil.Collect(h.orch.Stream(context.Background(), fixtures.KillerQueenRequest()))
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Snapshot)
	assert.Error(t, events[0].Err)
}

func TestProfile(t *testing.T) {
	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(fixtures.ProfileJSON))
	h := newHarness(t, adapter)

	res, err := h.orch.Profile(testutil.TestContext(t), fixtures.KillerQueenRequest())
	require.NoError(t, err)
	assert.Equal(t, "Killer Queen (杀手皇后)", res.Name)
	assert.Equal(t, "败者食尘", res.AbilityName)
	assert.Equal(t, "深红色的猫型人形替身，双手带有骷髅纹样的护甲", res.Appearance)
	assert.Zero(t, adapter.ImageCalls())

	all, err := h.history.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, all, "profile-only calls are not persisted")
}

func TestImage_ReturnsUpstreamErrorVerbatim(t *testing.T) {
	upstreamErr := types.NewUpstreamError(400, `{"error":{"message":"bad prompt"}}`)
	adapter := mocks.NewMockAdapter().WithImage(mocks.Fail(upstreamErr))
	h := newHarness(t, adapter)

	_, err := h.orch.Image(testutil.TestContext(t), "深红色的猫型人形替身")
	require.Error(t, err)

	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, `{"error":{"message":"bad prompt"}}`, e.Raw)
	assert.Equal(t, 1, adapter.ImageCalls(), "client errors are not retried")
	assert.Contains(t, adapter.ImagePrompts()[0], "深红色的猫型人形替身")
}
