package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// ErrEmpty is returned for content without a header row.
var ErrEmpty = errors.New("CSV file is empty or contains no valid data")

// CSVRowLoader loads CSV files through a base loader and parses them into
// rows keyed by header. Parsed rows are cached.
type CSVRowLoader struct {
	loader loader.SourceFileLoader
	comma  rune

	cache   map[string][]common.Row
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewCSVRowLoader creates a new CSVRowLoader with the given base loader.
func NewCSVRowLoader(loader loader.SourceFileLoader) *CSVRowLoader {
	return &CSVRowLoader{
		loader: loader,
		comma:  ',',
		cache:  make(map[string][]common.Row),
	}
}

// NewTSVRowLoader creates a CSVRowLoader for tab separated files.
func NewTSVRowLoader(loader loader.SourceFileLoader) *CSVRowLoader {
	l := NewCSVRowLoader(loader)
	l.comma = '\t'
	return l
}

// GetRows retrieves and parses the file.
func (l *CSVRowLoader) GetRows(ctx context.Context, file loader.SourceFile) ([]common.Row, error) {
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
		content, err = loader.MaybeGunzip(content)
		if err != nil {
			return nil, err
		}

		rows, err := parseRows(content, l.comma)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file.Location, err)
		}

		l.cacheMu.Lock()
		l.cache[key] = rows
		l.cacheMu.Unlock()

		return rows, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]common.Row), nil
}

// ParseRows parses comma separated content. The first non-empty record is the
// header; every later record becomes a Row keyed by header name. Short
// records leave the missing columns empty, and fully blank records are
// skipped.
func ParseRows(content []byte) ([]common.Row, error) {
	return parseRows(content, ',')
}

func parseRows(content []byte, comma rune) ([]common.Row, error) {
	content = bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var header []string
	var rows []common.Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlank(record) {
			continue
		}
		if header == nil {
			header = make([]string, len(record))
			for i, h := range record {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}

		row := make(common.Row, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}

	if header == nil {
		return nil, ErrEmpty
	}
	return rows, nil
}

func isBlank(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
