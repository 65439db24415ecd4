package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type classListRepository interface {
	FindByID(ctx context.Context, id string) (*models.Class, error)
	List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error)
}

type detailCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ClassService serves directory reads over classes. Details are cached
// briefly in Redis; seat counts shown here are informational, the capacity
// ledger never reads this path.
type ClassService struct {
	repo     classListRepository
	cache    detailCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewClassService constructs ClassService. cache may be nil.
func NewClassService(repo classListRepository, cache detailCache, cacheTTL time.Duration, logger *zap.Logger) *ClassService {
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClassService{repo: repo, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Get returns a class by ID, read through the cache.
func (s *ClassService) Get(ctx context.Context, id string) (*models.Class, error) {
	key := classCacheKey(id)
	if s.cache != nil {
		var cached models.Class
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("class cache read failed", zap.String("class_id", id), zap.Error(err))
		}
	}

	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.ErrClassNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, class, s.cacheTTL); err != nil {
			s.logger.Warn("class cache write failed", zap.String("class_id", id), zap.Error(err))
		}
	}
	return class, nil
}

// List returns classes with pagination metadata.
func (s *ClassService) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, *models.Pagination, error) {
	classes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list classes")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return classes, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

func classCacheKey(id string) string {
	return fmt.Sprintf("class:detail:%s", id)
}
