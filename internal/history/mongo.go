package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/BaSui01/standforge/config"
	"github.com/BaSui01/standforge/types"
)

// =============================================================================
// 🍃 MongoDB 历史存储
// =============================================================================

// MongoStore 单集合历史存储，_id 即产物 id
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	policy     Policy
	timeout    time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewMongoStore 连接 MongoDB 并确保索引存在
func NewMongoStore(ctx context.Context, cfg config.MongoConfig, policy Policy, logger *zap.Logger) (*MongoStore, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("history: mongo uri is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(cfg.URI).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("history: mongo connect: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		policy:     policy,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "history_mongo")),
		now:        time.Now,
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("history: mongo ping: %w", err)
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	s.logger.Info("mongo history store connected",
		zap.String("database", cfg.Database),
		zap.String("collection", cfg.Collection),
	)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "generated_at", Value: -1}}},
		{Keys: bson.D{{Key: "name", Value: 1}, {Key: "ability_name", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("history: mongo indexes: %w", err)
	}
	return nil
}

// Put 覆盖写入，再应用去重与保留策略
func (s *MongoStore) Put(ctx context.Context, artifact types.MergedArtifact) error {
	rec, err := encodeRecord(normalize(artifact, s.now()))
	if err != nil {
		return err
	}

	if s.policy.Dedupe {
		n, err := s.collection.CountDocuments(ctx, bson.D{
			{Key: "name", Value: rec.Name},
			{Key: "ability_name", Value: rec.AbilityName},
			{Key: "_id", Value: bson.D{{Key: "$ne", Value: rec.ID}}},
		})
		if err != nil {
			return fmt.Errorf("history dedupe check: %w", err)
		}
		if n > 0 {
			s.logger.Debug("duplicate stand skipped", zap.String("name", rec.Name))
			return nil
		}
	}

	_, err = s.collection.ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: rec.ID}},
		rec,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("history upsert: %w", err)
	}

	if s.policy.MaxItems > 0 {
		return s.trim(ctx)
	}
	return nil
}

// trim 删除超出保留条数的旧记录
func (s *MongoStore) trim(ctx context.Context) error {
	cursor, err := s.collection.Find(ctx, bson.D{}, options.Find().
		SetSort(newestFirst()).
		SetSkip(int64(s.policy.MaxItems)).
		SetProjection(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return fmt.Errorf("history retention scan: %w", err)
	}

	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("history retention scan: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make([]string, 0, len(stale))
	for _, d := range stale {
		ids = append(ids, d.ID)
	}
	if _, err := s.collection.DeleteMany(ctx, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}); err != nil {
		return fmt.Errorf("history retention delete: %w", err)
	}
	return nil
}

// List 按时间倒序
func (s *MongoStore) List(ctx context.Context, limit int) ([]types.MergedArtifact, error) {
	opts := options.Find().SetSort(newestFirst())
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}

	var records []standRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("history list: %w", err)
	}
	return decodeRecords(records)
}

// Get 按 id 读取
func (s *MongoStore) Get(ctx context.Context, id string) (types.MergedArtifact, error) {
	var rec standRecord
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.MergedArtifact{}, ErrNotFound
	}
	if err != nil {
		return types.MergedArtifact{}, fmt.Errorf("history get: %w", err)
	}
	return decodeRecord(rec)
}

// Delete 按 id 删除
func (s *MongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return fmt.Errorf("history delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Clear 删除全部文档
func (s *MongoStore) Clear(ctx context.Context) error {
	if _, err := s.collection.DeleteMany(ctx, bson.D{}); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}

// Ping 检查主节点可达
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close 断开连接
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func newestFirst() bson.D {
	return bson.D{{Key: "generated_at", Value: -1}, {Key: "_id", Value: -1}}
}
