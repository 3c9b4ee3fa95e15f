package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/standforge/types"
)

// MemoryStore 进程内历史存储
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]standRecord
	policy  Policy
	now     func() time.Time
	logger  *zap.Logger
	closed  bool
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(policy Policy, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		records: make(map[string]standRecord),
		policy:  policy,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "history_memory")),
	}
}

// Put 写入或覆盖
func (s *MemoryStore) Put(ctx context.Context, artifact types.MergedArtifact) error {
	rec, err := encodeRecord(normalize(artifact, s.now()))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if s.policy.Dedupe {
		for id, existing := range s.records {
			if id != rec.ID && existing.Name == rec.Name && existing.AbilityName == rec.AbilityName {
				s.logger.Debug("duplicate stand skipped",
					zap.String("name", rec.Name), zap.String("existing_id", id))
				return nil
			}
		}
	}

	s.records[rec.ID] = rec

	if s.policy.MaxItems > 0 && len(s.records) > s.policy.MaxItems {
		for _, stale := range s.sortedLocked()[s.policy.MaxItems:] {
			delete(s.records, stale.ID)
		}
	}
	return nil
}

// List 按时间倒序
func (s *MemoryStore) List(ctx context.Context, limit int) ([]types.MergedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	sorted := s.sortedLocked()
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return decodeRecords(sorted)
}

// Get 按 id 读取
func (s *MemoryStore) Get(ctx context.Context, id string) (types.MergedArtifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.MergedArtifact{}, ErrStoreClosed
	}

	rec, ok := s.records[id]
	if !ok {
		return types.MergedArtifact{}, ErrNotFound
	}
	return decodeRecord(rec)
}

// Delete 按 id 删除
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

// Clear 清空
func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.records = make(map[string]standRecord)
	return nil
}

// Ping 总是可用，关闭后返回 ErrStoreClosed
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close 关闭存储
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// sortedLocked 最新在前；时间相同时按 id 倒序
func (s *MemoryStore) sortedLocked() []standRecord {
	out := make([]standRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GeneratedAt != out[j].GeneratedAt {
			return out[i].GeneratedAt > out[j].GeneratedAt
		}
		return out[i].ID > out[j].ID
	})
	return out
}
