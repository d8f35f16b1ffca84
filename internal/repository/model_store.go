package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	domrepo "FinSignal/internal/domain/repository"
	"FinSignal/internal/services/modelio"
	pkgcache "FinSignal/pkg/cache"
)

// FileModelStore keeps model blobs under dir/<symbol>/<model>.bin.
type FileModelStore struct {
	dir string
}

// NewFileModelStore creates a store rooted at dir.
func NewFileModelStore(dir string) *FileModelStore {
	return &FileModelStore{dir: dir}
}

var _ domrepo.ModelStore = (*FileModelStore)(nil)

func (s *FileModelStore) SaveBlob(_ context.Context, symbol, model string, blob []byte) error {
	path, err := s.path(symbol, model)
	if err != nil {
		return err
	}
	return modelio.WriteFile(path, blob)
}

func (s *FileModelStore) LoadBlob(_ context.Context, symbol, model string) ([]byte, error) {
	path, err := s.path(symbol, model)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", domrepo.ErrModelNotFound, symbol, model)
	}
	if err != nil {
		return nil, fmt.Errorf("read model blob: %w", err)
	}
	return blob, nil
}

func (s *FileModelStore) path(symbol, model string) (string, error) {
	if !safeSegment(symbol) || !safeSegment(model) {
		return "", fmt.Errorf("invalid model key %q/%q", symbol, model)
	}
	return filepath.Join(s.dir, strings.ToUpper(symbol), model+".bin"), nil
}

func safeSegment(s string) bool {
	return s != "" && s != "." && s != ".." && !strings.ContainsAny(s, `/\`)
}

// RedisModelStore keeps model blobs in Redis so several engine replicas share them.
type RedisModelStore struct {
	cache *pkgcache.RedisCache
	ttl   time.Duration
}

// NewRedisModelStore creates the store; ttl 0 keeps blobs until overwritten.
func NewRedisModelStore(cache *pkgcache.RedisCache, ttl time.Duration) *RedisModelStore {
	return &RedisModelStore{cache: cache, ttl: ttl}
}

var _ domrepo.ModelStore = (*RedisModelStore)(nil)

func (s *RedisModelStore) SaveBlob(ctx context.Context, symbol, model string, blob []byte) error {
	if err := s.cache.SetBytes(ctx, modelKey(symbol, model), blob, s.ttl); err != nil {
		return fmt.Errorf("save model blob: %w", err)
	}
	return nil
}

func (s *RedisModelStore) LoadBlob(ctx context.Context, symbol, model string) ([]byte, error) {
	blob, err := s.cache.GetBytes(ctx, modelKey(symbol, model))
	if errors.Is(err, pkgcache.ErrCacheMiss) {
		return nil, fmt.Errorf("%w: %s/%s", domrepo.ErrModelNotFound, symbol, model)
	}
	if err != nil {
		return nil, fmt.Errorf("load model blob: %w", err)
	}
	return blob, nil
}

func modelKey(symbol, model string) string {
	return pkgcache.GenerateKey("model", strings.ToUpper(symbol), model)
}
