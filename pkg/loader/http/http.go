package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"

	"golang.org/x/sync/singleflight"
)

const (
	defaultTimeout  = 5 * time.Minute
	defaultRetries  = 3
	defaultBackoff  = 2 * time.Second
	defaultMaxBytes = 2 << 30
)

// StatusError is returned for a response outside the 2xx range.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// HTTPSourceLoader downloads source releases over HTTP. Failed requests are
// retried with exponential backoff and successful downloads are cached.
type HTTPSourceLoader struct {
	client   *http.Client
	retries  int
	backoff  time.Duration
	maxBytes int64

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewHTTPSourceLoaderParams configures an HTTPSourceLoader. Zero values select
// a five minute timeout, three attempts and a two second initial backoff.
type NewHTTPSourceLoaderParams struct {
	Client   *http.Client
	Timeout  time.Duration
	Retries  int
	Backoff  time.Duration
	MaxBytes int64
}

// NewHTTPSourceLoader creates a new HTTP-based file loader.
func NewHTTPSourceLoader(params NewHTTPSourceLoaderParams) *HTTPSourceLoader {
	client := params.Client
	if client == nil {
		timeout := params.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	retries := params.Retries
	if retries <= 0 {
		retries = defaultRetries
	}
	backoff := params.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultBackoff
	}
	maxBytes := params.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPSourceLoader{
		client:   client,
		retries:  retries,
		backoff:  backoff,
		maxBytes: maxBytes,
		cache:    make(map[string][]byte),
	}
}

// GetFileBytes fetches file.Location. Results are cached.
func (l *HTTPSourceLoader) GetFileBytes(ctx context.Context, file loader.SourceFile) ([]byte, error) {
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

		attempt := 0
		result, err := util.RetryWithBackoff(ctx, l.retries, l.backoff, func(ctx context.Context) ([]byte, error) {
			attempt++
			data, err := l.fetch(ctx, file.Location)
			if err != nil && attempt < l.retries {
				logger.Warn("[Loader] Download failed, retrying", "url", file.Location, "attempt", attempt, "err", err)
			}
			return data, err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", file.Location, err)
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

func (l *HTTPSourceLoader) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "ontograph")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, l.maxBytes)
	}
	return data, nil
}
