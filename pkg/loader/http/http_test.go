package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/loader"
)

func TestGetFileBytesRetriesAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	l := NewHTTPSourceLoader(NewHTTPSourceLoaderParams{Retries: 3, Backoff: -1})
	file := loader.SourceFile{ID: "pubchem", Location: srv.URL + "/hierarchy.json", Loader: l}

	data, err := file.GetBytes(context.Background())
	if err != nil {
		t.Fatalf("GetBytes: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", data)
	}
	if _, err := file.GetBytes(context.Background()); err != nil {
		t.Fatalf("GetBytes (cached): %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 requests (one retry, then cache), got %d", got)
	}
}

func TestGetFileBytesStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	l := NewHTTPSourceLoader(NewHTTPSourceLoaderParams{Retries: 2, Backoff: -1})
	_, err := l.GetFileBytes(context.Background(), loader.SourceFile{Location: srv.URL})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}

func TestGetFileBytesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	l := NewHTTPSourceLoader(NewHTTPSourceLoaderParams{Retries: 1, MaxBytes: 4})
	if _, err := l.GetFileBytes(context.Background(), loader.SourceFile{Location: srv.URL}); err == nil {
		t.Fatalf("expected size limit error")
	}
}
