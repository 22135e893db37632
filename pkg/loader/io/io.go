package io

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/OFFIS-RIT/ontograph/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// IOSourceLoader loads files directly from the local filesystem with caching.
type IOSourceLoader struct {
	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewIOSourceLoader creates a new filesystem-based file loader.
func NewIOSourceLoader() *IOSourceLoader {
	return &IOSourceLoader{
		cache: make(map[string][]byte),
	}
}

// GetFileBytes reads the file content from the filesystem. Results are cached.
func (l *IOSourceLoader) GetFileBytes(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := os.ReadFile(file.Location)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Location, err)
		}

		l.cacheMu.Lock()
		l.cache[key] = result
		l.cacheMu.Unlock()

		return result, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}
