package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// IdempotencyTTL is how long a completed dispatch result is retained
	// for replay against the same Idempotency-Key.
	IdempotencyTTL = 24 * time.Hour

	// processingTTL bounds the lock held while a dispatch is in flight.
	processingTTL = 5 * time.Minute

	processingMarker = "processing"
)

// ErrDuplicateRequest indicates a dispatch with the same idempotency key is
// currently in flight.
var ErrDuplicateRequest = errors.New("duplicate request: idempotency key already reserved")

// DispatchResult is the cached outcome of an idempotent dispatch request.
type DispatchResult struct {
	TemplateID string `json:"template_id"`
	StatusCode int    `json:"status_code"`
	CreatedAt  int64  `json:"created_at"`
}

// IdempotencyService deduplicates template dispatch requests using Redis.
// A retried send with the same Idempotency-Key replays the original result
// instead of dispatching twice.
type IdempotencyService struct {
	client *Client
	logger *zap.Logger
}

// NewIdempotencyService creates an idempotency service.
func NewIdempotencyService(client *Client, logger *zap.Logger) *IdempotencyService {
	return &IdempotencyService{client: client, logger: logger}
}

func (s *IdempotencyService) buildKey(templateID, idempotencyKey string) string {
	return fmt.Sprintf("dispatch:%s:%s", templateID, idempotencyKey)
}

// Check retrieves a cached dispatch result. Returns (nil, nil) when the key
// is unknown, or ErrDuplicateRequest while a dispatch is in flight.
func (s *IdempotencyService) Check(ctx context.Context, templateID, idempotencyKey string) (*DispatchResult, error) {
	key := s.buildKey(templateID, idempotencyKey)

	val, err := s.client.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	if val == processingMarker {
		return nil, ErrDuplicateRequest
	}

	var result DispatchResult
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		s.logger.Error("failed to unmarshal dispatch result", zap.Error(err))
		return nil, fmt.Errorf("invalid cached result: %w", err)
	}

	s.logger.Debug("idempotency cache hit",
		zap.String("template_id", templateID),
	)

	return &result, nil
}

// Store saves the result of a completed dispatch.
func (s *IdempotencyService) Store(ctx context.Context, templateID, idempotencyKey string, result *DispatchResult) error {
	key := s.buildKey(templateID, idempotencyKey)

	if result.CreatedAt == 0 {
		result.CreatedAt = time.Now().Unix()
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := s.client.rdb.Set(ctx, key, data, IdempotencyTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}

	return nil
}

// Reserve acquires the in-flight lock with SET NX. Returns false when the
// key already exists.
func (s *IdempotencyService) Reserve(ctx context.Context, templateID, idempotencyKey string) (bool, error) {
	key := s.buildKey(templateID, idempotencyKey)

	set, err := s.client.rdb.SetNX(ctx, key, processingMarker, processingTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}

	return set, nil
}

// CheckOrReserve returns a cached result if one exists, otherwise reserves
// the key for this request. ErrDuplicateRequest means another dispatch with
// this key is in flight.
func (s *IdempotencyService) CheckOrReserve(ctx context.Context, templateID, idempotencyKey string) (*DispatchResult, error) {
	result, err := s.Check(ctx, templateID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if result != nil {
		return result, nil
	}

	reserved, err := s.Reserve(ctx, templateID, idempotencyKey)
	if err != nil {
		return nil, err
	}
	if !reserved {
		return nil, ErrDuplicateRequest
	}

	return nil, nil
}

// Release drops the in-flight lock after a failed dispatch so the caller
// can retry with the same key.
func (s *IdempotencyService) Release(ctx context.Context, templateID, idempotencyKey string) error {
	return s.client.rdb.Del(ctx, s.buildKey(templateID, idempotencyKey)).Err()
}
