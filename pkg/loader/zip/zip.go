package zip

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	"github.com/OFFIS-RIT/ontograph/pkg/loader/csv"

	"golang.org/x/sync/singleflight"
)

// Tables maps a table name to its parsed rows. The name is the base name of
// the archive member without its extension.
type Tables map[string][]common.Row

// Table returns the rows of name or an error naming the missing table.
func (t Tables) Table(name string) ([]common.Row, error) {
	rows, ok := t[name]
	if !ok {
		return nil, fmt.Errorf("archive has no table %q", name)
	}
	return rows, nil
}

// ZipTableLoader reads zip archives of CSV tables through a base loader.
type ZipTableLoader struct {
	loader loader.SourceFileLoader

	cache   map[string]Tables
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewZipTableLoader creates a new ZipTableLoader with the given base loader.
func NewZipTableLoader(loader loader.SourceFileLoader) *ZipTableLoader {
	return &ZipTableLoader{
		loader: loader,
		cache:  make(map[string]Tables),
	}
}

// GetTables retrieves the archive and parses every .csv member.
func (l *ZipTableLoader) GetTables(ctx context.Context, file loader.SourceFile) (Tables, error) {
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

		content, err := l.loader.GetFileBytes(ctx, file)
		if err != nil {
			return nil, err
		}
		tables, err := ReadTables(content)
		if err != nil {
			return nil, fmt.Errorf("failed to read archive %s: %w", file.Location, err)
		}

		l.cacheMu.Lock()
		l.cache[key] = tables
		l.cacheMu.Unlock()

		return tables, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(Tables), nil
}

// ReadTables parses every .csv member of a zip archive. Directories and other
// members are ignored.
func ReadTables(content []byte) (Tables, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, err
	}

	tables := make(Tables)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(path.Base(f.Name), ".") {
			continue
		}
		base := path.Base(f.Name)
		if !strings.EqualFold(path.Ext(base), ".csv") {
			continue
		}
		name := strings.TrimSuffix(base, path.Ext(base))

		data, err := readMember(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		rows, err := csv.ParseRows(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		tables[name] = rows
	}
	return tables, nil
}

func readMember(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
