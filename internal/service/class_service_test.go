package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type cacheStub struct {
	store map[string][]byte
	hits  int
	sets  int
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	c.store[key] = raw
	c.sets++
	return nil
}

type classListStub struct {
	classes map[string]*models.Class
	finds   int
}

func (s *classListStub) FindByID(ctx context.Context, id string) (*models.Class, error) {
	s.finds++
	class, ok := s.classes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return class, nil
}

func (s *classListStub) List(ctx context.Context, filter models.ClassFilter) ([]models.Class, int, error) {
	var out []models.Class
	for _, c := range s.classes {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func TestClassServiceGetPopulatesCache(t *testing.T) {
	repo := &classListStub{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", Name: "Alpha", Track: models.TrackChurch, Capacity: 5, Active: true},
	}}
	cache := &cacheStub{}
	svc := NewClassService(repo, cache, time.Minute, nil)

	class, err := svc.Get(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", class.Name)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, 1, repo.finds)

	// Second read is served from the cache.
	class, err = svc.Get(context.Background(), "class-1")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", class.Name)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, repo.finds)
}

func TestClassServiceGetUnknownClass(t *testing.T) {
	repo := &classListStub{classes: map[string]*models.Class{}}
	svc := NewClassService(repo, nil, time.Minute, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.True(t, appErrors.Is(err, appErrors.ErrClassNotFound))
}

func TestClassServiceListPaginates(t *testing.T) {
	repo := &classListStub{classes: map[string]*models.Class{
		"class-1": {ID: "class-1", Name: "Alpha", Track: models.TrackChurch, Capacity: 5, Active: true},
		"class-2": {ID: "class-2", Name: "Beta", Track: models.TrackInstitute, Capacity: 5, Active: true},
	}}
	svc := NewClassService(repo, nil, time.Minute, nil)

	classes, pagination, err := svc.List(context.Background(), models.ClassFilter{})
	require.NoError(t, err)
	assert.Len(t, classes, 2)
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 20, pagination.PageSize)
}
