package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/config"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🧪 公共契约测试（内存 / SQLite）
// =============================================================================

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func stand(id, name string, offset time.Duration) types.MergedArtifact {
	return types.MergedArtifact{
		ID:         id,
		UserName:   "Jotaro",
		Timestamp:  baseTime.Add(offset),
		Appearance: "crimson armour",
		FullProfile: types.FullProfile{
			Name:        name,
			AbilityName: name + " ability",
			Type:        "近距离型",
			Description: "stops time for a moment",
			Mechanics:   []types.Mechanic{{Title: "触发", Content: "touch"}},
			Limitations: []string{"5 seconds"},
			BattleCry:   "ORA ORA",
			Quote:       "やれやれだぜ",
			Stats: types.Stats{
				Power: types.GradeA, Speed: types.GradeA, Range: types.GradeC,
				Durability: types.GradeA, Precision: types.GradeA, Potential: types.GradeInfinite,
			},
		},
		Image: types.InlineImage("image/png", "iVBORw0KGgo="),
	}
}

type storeFactory func(t *testing.T, policy Policy) Store

func sqliteStore(t *testing.T, policy Policy) Store {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.History = config.HistoryConfig{Backend: "database", MaxItems: policy.MaxItems, Dedupe: policy.Dedupe}
	cfg.Database = config.DatabaseConfig{
		Driver:      "sqlite",
		Name:        filepath.Join(t.TempDir(), "history.db"),
		AutoMigrate: true,
	}

	s, err := Open(context.Background(), cfg, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func memoryStore(t *testing.T, policy Policy) Store {
	s := NewMemoryStore(policy, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func forEachStore(t *testing.T, fn func(t *testing.T, newStore storeFactory)) {
	for name, factory := range map[string]storeFactory{
		"memory": memoryStore,
		"sqlite": sqliteStore,
	} {
		t.Run(name, func(t *testing.T) { fn(t, factory) })
	}
}

func ids(items []types.MergedArtifact) []string {
	out := make([]string, 0, len(items))
	for _, a := range items {
		out = append(out, a.ID)
	}
	return out
}

func TestStore_PutAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{})

		require.NoError(t, s.Put(ctx, stand("a", "Star Platinum", 0)))
		require.NoError(t, s.Put(ctx, stand("b", "The World", time.Minute)))
		require.NoError(t, s.Put(ctx, stand("c", "Killer Queen", 2*time.Minute)))

		all, err := AllByTimeDesc(ctx, s)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b", "a"}, ids(all))

		limited, err := s.List(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"c", "b"}, ids(limited))
	})
}

func TestStore_RoundTripsArtifact(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{})

		want := stand("a", "Star Platinum", 0)
		require.NoError(t, s.Put(ctx, want))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, want.FullProfile, got.FullProfile)
		assert.Equal(t, want.Appearance, got.Appearance)
		assert.Equal(t, want.UserName, got.UserName)
		assert.Equal(t, want.Image.String(), got.Image.String())
		assert.True(t, want.Timestamp.Equal(got.Timestamp))
	})
}

func TestStore_AssignsIDAndTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{})

		a := stand("", "Hierophant Green", 0)
		a.Timestamp = time.Time{}
		require.NoError(t, s.Put(ctx, a))

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Len(t, all[0].ID, 36)
		assert.False(t, all[0].Timestamp.IsZero())
	})
}

func TestStore_UpsertByID(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{Dedupe: true})

		require.NoError(t, s.Put(ctx, stand("a", "Star Platinum", 0)))
		require.NoError(t, s.Put(ctx, stand("b", "The World", time.Minute)))

		// 缓存命中重新写入：同 id，时间戳刷新后排到最前
		refreshed := stand("a", "Star Platinum", 5*time.Minute)
		require.NoError(t, s.Put(ctx, refreshed))

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, ids(all))
		assert.True(t, all[0].Timestamp.Equal(refreshed.Timestamp))
	})
}

func TestStore_DedupeSkipsSameNameAndAbility(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{Dedupe: true})

		require.NoError(t, s.Put(ctx, stand("a", "Star Platinum", 0)))
		require.NoError(t, s.Put(ctx, stand("b", "Star Platinum", time.Minute)))

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, ids(all))
	})
}

func TestStore_WithoutDedupeKeepsBoth(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{})

		require.NoError(t, s.Put(ctx, stand("a", "Star Platinum", 0)))
		require.NoError(t, s.Put(ctx, stand("b", "Star Platinum", time.Minute)))

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})
}

func TestStore_RetentionKeepsNewest(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{MaxItems: 3})

		for i := 0; i < 5; i++ {
			a := stand(fmt.Sprintf("id-%d", i), fmt.Sprintf("Stand %d", i), time.Duration(i)*time.Minute)
			require.NoError(t, s.Put(ctx, a))
		}

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-4", "id-3", "id-2"}, ids(all))

		_, err = s.Get(ctx, "id-0")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeleteAndClear(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{})

		require.NoError(t, s.Put(ctx, stand("a", "Star Platinum", 0)))
		require.NoError(t, s.Put(ctx, stand("b", "The World", time.Minute)))

		require.NoError(t, s.Delete(ctx, "a"))
		assert.ErrorIs(t, s.Delete(ctx, "a"), ErrNotFound)

		_, err := s.Get(ctx, "a")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.Clear(ctx))
		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, all)

		assert.NoError(t, s.Ping(ctx))
	})
}

func TestImport_OrdersByTimestamp(t *testing.T) {
	forEachStore(t, func(t *testing.T, newStore storeFactory) {
		ctx := context.Background()
		s := newStore(t, Policy{MaxItems: 2})

		// 输入乱序，保留策略应留下最新的两条
		n, err := Import(ctx, s, []types.MergedArtifact{
			stand("new", "C", 2*time.Minute),
			stand("old", "A", 0),
			stand("mid", "B", time.Minute),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		all, err := s.List(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"new", "mid"}, ids(all))
	})
}

// =============================================================================
// 🧠 内存后端特有
// =============================================================================

func TestMemoryStore_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Policy{}, zap.NewNop())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(ctx, stand("a", "A", 0)), ErrStoreClosed)
	_, err := s.List(ctx, 0)
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, s.Ping(ctx), ErrStoreClosed)
}

func TestMemoryStore_SameTimestampOrdersByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Policy{}, zap.NewNop())

	require.NoError(t, s.Put(ctx, stand("a", "A", 0)))
	require.NoError(t, s.Put(ctx, stand("b", "B", 0)))

	all, err := s.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids(all))
}

// =============================================================================
// 🏭 Open
// =============================================================================

func TestOpen_Backends(t *testing.T) {
	ctx := context.Background()

	cfg := config.DefaultConfig()
	cfg.History.Backend = "none"
	s, err := Open(ctx, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.Nil(t, s)

	cfg.History.Backend = "memory"
	s, err = Open(ctx, cfg, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	cfg.History.Backend = "cassandra"
	_, err = Open(ctx, cfg, nil, zap.NewNop())
	assert.ErrorContains(t, err, "unknown backend")
}

type fakeRecorder struct {
	queries []string
}

func (f *fakeRecorder) RecordDBConnections(string, int, int) {}

func (f *fakeRecorder) RecordDBQuery(database, operation string, _ time.Duration) {
	f.queries = append(f.queries, database+":"+operation)
}

func TestGormStore_RecordsQueries(t *testing.T) {
	ctx := context.Background()
	cfg := config.DefaultConfig()
	cfg.Database = config.DatabaseConfig{
		Driver:      "sqlite",
		Name:        filepath.Join(t.TempDir(), "metrics.db"),
		AutoMigrate: true,
	}

	rec := &fakeRecorder{}
	s, err := Open(ctx, cfg, rec, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, stand("a", "A", 0)))
	_, err = s.List(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"sqlite:put", "sqlite:list"}, rec.queries)
}
