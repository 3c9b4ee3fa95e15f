package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🎯 接口与错误
// =============================================================================

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("history: record not found")
	// ErrStoreClosed 存储已关闭
	ErrStoreClosed = errors.New("history: store closed")
)

// Store 历史记录存储
type Store interface {
	// Put 按 id 写入或覆盖，随后应用保留与去重策略
	Put(ctx context.Context, artifact types.MergedArtifact) error
	// List 按时间倒序返回，limit <= 0 表示全部
	List(ctx context.Context, limit int) ([]types.MergedArtifact, error)
	// Get 按 id 读取
	Get(ctx context.Context, id string) (types.MergedArtifact, error)
	// Delete 按 id 删除，不存在时返回 ErrNotFound
	Delete(ctx context.Context, id string) error
	// Clear 删除全部记录
	Clear(ctx context.Context) error
	// Ping 检查后端可用
	Ping(ctx context.Context) error
	// Close 释放连接
	Close() error
}

// Policy 保留与去重策略
type Policy struct {
	// MaxItems 最多保留条数，0 表示不限
	MaxItems int
	// Dedupe 已存在同名同能力的其它记录时忽略新记录
	Dedupe bool
}

// AllByTimeDesc 返回全部记录，最新的在前
func AllByTimeDesc(ctx context.Context, s Store) ([]types.MergedArtifact, error) {
	return s.List(ctx, 0)
}

// Import 按时间正序逐条写入，返回成功写入的条数
func Import(ctx context.Context, s Store, items []types.MergedArtifact) (int, error) {
	sorted := make([]types.MergedArtifact, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	n := 0
	for _, item := range sorted {
		if err := s.Put(ctx, item); err != nil {
			return n, fmt.Errorf("import %q: %w", item.ID, err)
		}
		n++
	}
	return n, nil
}

// =============================================================================
// 📦 存储记录
// =============================================================================

// schemaVersion 载荷编码版本
const schemaVersion = 1

// standRecord 一行 / 一个文档；载荷为完整产物的 JSON
type standRecord struct {
	ID            string `gorm:"column:id;primaryKey;size:36" bson:"_id"`
	Name          string `gorm:"column:name;size:255" bson:"name"`
	AbilityName   string `gorm:"column:ability_name;size:255" bson:"ability_name"`
	UserName      string `gorm:"column:user_name;size:100" bson:"user_name"`
	GeneratedAt   int64  `gorm:"column:generated_at" bson:"generated_at"`
	Payload       string `gorm:"column:payload" bson:"payload"`
	SchemaVersion int    `gorm:"column:schema_version;default:1" bson:"schema_version"`
}

// TableName 表名
func (standRecord) TableName() string { return "stands" }

// normalize 补齐 id 与时间戳
func normalize(a types.MergedArtifact, now time.Time) types.MergedArtifact {
	out := a.Clone()
	if out.ID == "" {
		out.ID = uuid.NewString()
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now
	}
	return out
}

func encodeRecord(a types.MergedArtifact) (standRecord, error) {
	payload, err := json.Marshal(a)
	if err != nil {
		return standRecord{}, fmt.Errorf("encode artifact %q: %w", a.ID, err)
	}
	return standRecord{
		ID:            a.ID,
		Name:          a.Name,
		AbilityName:   a.AbilityName,
		UserName:      a.UserName,
		GeneratedAt:   a.Timestamp.UnixMilli(),
		Payload:       string(payload),
		SchemaVersion: schemaVersion,
	}, nil
}

func decodeRecord(r standRecord) (types.MergedArtifact, error) {
	var a types.MergedArtifact
	if err := json.Unmarshal([]byte(r.Payload), &a); err != nil {
		return types.MergedArtifact{}, fmt.Errorf("decode record %q: %w", r.ID, err)
	}
	a.ID = r.ID
	a.Timestamp = time.UnixMilli(r.GeneratedAt).UTC()
	return a, nil
}

func decodeRecords(records []standRecord) ([]types.MergedArtifact, error) {
	out := make([]types.MergedArtifact, 0, len(records))
	for _, r := range records {
		a, err := decodeRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
