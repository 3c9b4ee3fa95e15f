package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/standforge/internal/database"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🗄️ GORM 历史存储
// =============================================================================

// QueryRecorder 记录查询耗时（由 metrics.Collector 实现）
type QueryRecorder interface {
	RecordDBQuery(database, operation string, duration time.Duration)
}

// GormStore 基于 stands 表的历史存储
type GormStore struct {
	pool     *database.PoolManager
	policy   Policy
	logger   *zap.Logger
	recorder QueryRecorder
	dbName   string
	now      func() time.Time
}

// GormOption GormStore 可选项
type GormOption func(*GormStore)

// WithQueryRecorder 上报查询耗时
func WithQueryRecorder(r QueryRecorder) GormOption {
	return func(s *GormStore) { s.recorder = r }
}

// NewGormStore 创建 GORM 存储；表结构需已由迁移创建
func NewGormStore(pool *database.PoolManager, policy Policy, logger *zap.Logger, opts ...GormOption) (*GormStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("history: pool is required")
	}
	s := &GormStore{
		pool:   pool,
		policy: policy,
		logger: logger.With(zap.String("component", "history_gorm")),
		dbName: pool.DB().Dialector.Name(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put 覆盖写入，并在同一事务内应用去重与保留策略
func (s *GormStore) Put(ctx context.Context, artifact types.MergedArtifact) error {
	defer s.observe("put", time.Now())

	rec, err := encodeRecord(normalize(artifact, s.now()))
	if err != nil {
		return err
	}

	return s.pool.WithTransaction(ctx, func(tx *gorm.DB) error {
		if s.policy.Dedupe {
			var dup int64
			if err := tx.Model(&standRecord{}).
				Where("name = ? AND ability_name = ? AND id <> ?", rec.Name, rec.AbilityName, rec.ID).
				Count(&dup).Error; err != nil {
				return fmt.Errorf("history dedupe check: %w", err)
			}
			if dup > 0 {
				s.logger.Debug("duplicate stand skipped", zap.String("name", rec.Name))
				return nil
			}
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&rec).Error; err != nil {
			return fmt.Errorf("history upsert: %w", err)
		}

		if s.policy.MaxItems > 0 {
			var ids []string
			if err := tx.Model(&standRecord{}).
				Order("generated_at DESC").Order("id DESC").
				Pluck("id", &ids).Error; err != nil {
				return fmt.Errorf("history retention scan: %w", err)
			}
			if len(ids) > s.policy.MaxItems {
				if err := tx.Where("id IN ?", ids[s.policy.MaxItems:]).Delete(&standRecord{}).Error; err != nil {
					return fmt.Errorf("history retention delete: %w", err)
				}
			}
		}
		return nil
	})
}

// List 按时间倒序
func (s *GormStore) List(ctx context.Context, limit int) ([]types.MergedArtifact, error) {
	defer s.observe("list", time.Now())

	q := s.pool.DB().WithContext(ctx).Order("generated_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var records []standRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	return decodeRecords(records)
}

// Get 按 id 读取
func (s *GormStore) Get(ctx context.Context, id string) (types.MergedArtifact, error) {
	defer s.observe("get", time.Now())

	var rec standRecord
	err := s.pool.DB().WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.MergedArtifact{}, ErrNotFound
	}
	if err != nil {
		return types.MergedArtifact{}, fmt.Errorf("history get: %w", err)
	}
	return decodeRecord(rec)
}

// Delete 按 id 删除
func (s *GormStore) Delete(ctx context.Context, id string) error {
	defer s.observe("delete", time.Now())

	res := s.pool.DB().WithContext(ctx).Where("id = ?", id).Delete(&standRecord{})
	if res.Error != nil {
		return fmt.Errorf("history delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear 删除全部记录
func (s *GormStore) Clear(ctx context.Context) error {
	defer s.observe("clear", time.Now())

	err := s.pool.DB().WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&standRecord{}).Error
	if err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}

// Ping 检查数据库连接
func (s *GormStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close 关闭连接池
func (s *GormStore) Close() error {
	return s.pool.Close()
}

func (s *GormStore) observe(op string, start time.Time) {
	if s.recorder != nil {
		s.recorder.RecordDBQuery(s.dbName, op, time.Since(start))
	}
}
