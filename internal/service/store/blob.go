package store

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kapu/liver-scraper-go/pkg/errors"
)

// Captured images are stored as raw bytes under the blob key with the
// content type in a sidecar key, so a read returns both together.

func contentTypeKey(key string) string {
	return key + ":content_type"
}

func (s *RedisStore) PutBlob(ctx context.Context, key string, data []byte, contentType string) error {
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, data, 0)
	pipe.Set(ctx, contentTypeKey(key), contentType, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Error("Blob put failed", zap.String("key", key), zap.Error(err))
		return errors.NewCacheError("blob put failed", "set", key, err)
	}
	return nil
}

func (s *RedisStore) GetBlob(ctx context.Context, key string) ([]byte, string, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, "", false, nil
	}
	if err != nil {
		s.logger.Error("Blob get failed", zap.String("key", key), zap.Error(err))
		return nil, "", false, errors.NewCacheError("blob get failed", "get", key, err)
	}

	contentType, err := s.client.Get(ctx, contentTypeKey(key)).Result()
	if err == redis.Nil {
		contentType = "image/jpeg"
	} else if err != nil {
		return nil, "", false, errors.NewCacheError("blob content type get failed", "get", key, err)
	}

	return data, contentType, true, nil
}

func (s *RedisStore) BlobExists(ctx context.Context, key string) (bool, error) {
	return s.Exists(ctx, key)
}
