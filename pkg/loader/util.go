package loader

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// CacheKey generates a unique cache key for a SourceFile based on its ID and
// location.
func CacheKey(file SourceFile) string {
	return file.ID + ":" + file.Location
}

// Scheme returns "s3", "http" or "file" for a location.
func Scheme(location string) string {
	switch {
	case strings.HasPrefix(location, "s3://"):
		return "s3"
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return "http"
	}
	return "file"
}

// SplitS3Location splits s3://bucket/key into bucket and key.
func SplitS3Location(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 location: %s", location)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 location needs a bucket and a key: %s", location)
	}
	return bucket, key, nil
}

// FileTypeOf derives the file type from the extension of location, ignoring a
// trailing .gz.
func FileTypeOf(location string) SourceFileType {
	base := strings.ToLower(path.Base(location))
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = strings.TrimSuffix(base, ".gz")
	switch path.Ext(base) {
	case ".csv", ".tsv":
		return SourceFileTypeCSV
	case ".zip":
		return SourceFileTypeZip
	case ".json":
		return SourceFileTypeJSON
	case ".obo":
		return SourceFileTypeOBO
	}
	return SourceFileTypeFile
}

// MaybeGunzip returns data decompressed when it starts with the gzip magic
// bytes and unchanged otherwise.
func MaybeGunzip(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open gzip stream: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

// RouterLoader dispatches to a loader per location scheme.
type RouterLoader struct {
	loaders map[string]SourceFileLoader
}

// NewRouterLoader creates a loader that picks one of the given loaders by the
// scheme of a file's location. A nil entry disables that scheme.
func NewRouterLoader(file, s3, http SourceFileLoader) *RouterLoader {
	loaders := make(map[string]SourceFileLoader, 3)
	if file != nil {
		loaders["file"] = file
	}
	if s3 != nil {
		loaders["s3"] = s3
	}
	if http != nil {
		loaders["http"] = http
	}
	return &RouterLoader{loaders: loaders}
}

// GetFileBytes implements SourceFileLoader.
func (r *RouterLoader) GetFileBytes(ctx context.Context, file SourceFile) ([]byte, error) {
	scheme := Scheme(file.Location)
	l, ok := r.loaders[scheme]
	if !ok {
		return nil, fmt.Errorf("no loader configured for %s locations: %s", scheme, file.Location)
	}
	return l.GetFileBytes(ctx, file)
}
