package pgx

import (
	"context"
	"sync"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

const defaultCopyChunkSize = 5000

// OntologyDBStorage implements store.OntologyStorage on PostgreSQL. Nodes and
// edges are kept in insertion order with their attributes as jsonb, so a
// loaded ontology serializes exactly like the one that was saved.
type OntologyDBStorage struct {
	conn      pgxIConn
	chunkSize int
	dbLock    sync.Mutex
}

type OntologyDBStorageOption func(*OntologyDBStorage)

// WithChunkSize sets how many node or edge rows are copied per statement.
func WithChunkSize(n int) OntologyDBStorageOption {
	return func(s *OntologyDBStorage) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// NewOntologyDBStorageWithConnection creates an OntologyDBStorage on an
// existing connection or pool.
func NewOntologyDBStorageWithConnection(
	conn pgxIConn,
	opts ...OntologyDBStorageOption,
) *OntologyDBStorage {
	s := &OntologyDBStorage{
		conn:      conn,
		chunkSize: defaultCopyChunkSize,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}
