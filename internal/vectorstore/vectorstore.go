package vectorstore

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kry4r/embedstore/internal/embedding"
	"go.uber.org/zap"
)

// Stable error kinds. Callers branch on these with errors.Is; the HTTP
// layer maps each to a distinct status code.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidInput   = errors.New("invalid input")
	ErrSchemaMismatch = errors.New("embedding dimension mismatch")
	ErrUpstream       = errors.New("upstream failure")
)

// Service manages the model registry, the store catalog and the per-store
// embedding tables. It holds no state of its own; every read re-derives
// from PostgreSQL.
type Service struct {
	db       *pgxpool.Pool
	embedder embedding.Provider
	logger   *zap.Logger
}

// New creates a Service on top of a connection pool and an embedding provider.
func New(db *pgxpool.Pool, embedder embedding.Provider, logger *zap.Logger) *Service {
	return &Service{db: db, embedder: embedder, logger: logger}
}

// identRe is the grammar for store ids and metadata filter keys. Store ids
// become physical table names by direct interpolation into DDL and DML, so
// this whitelist is the injection defense and must hold before any SQL text
// is built.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// reservedTables are catalog tables a store may never shadow.
var reservedTables = map[string]bool{
	"embeddings_models": true,
	"stores":            true,
}

// maxIdentLen is PostgreSQL's identifier length limit.
const maxIdentLen = 63

func validateStoreID(id string) error {
	if !identRe.MatchString(id) {
		return fmt.Errorf("%w: store id %q must match %s", ErrInvalidInput, id, identRe.String())
	}
	if len(id) > maxIdentLen {
		return fmt.Errorf("%w: store id %q exceeds %d bytes", ErrInvalidInput, id, maxIdentLen)
	}
	if reservedTables[id] {
		return fmt.Errorf("%w: store id %q is reserved", ErrInvalidInput, id)
	}
	return nil
}

func validateMetadataKey(key string) error {
	if !identRe.MatchString(key) {
		return fmt.Errorf("%w: metadata key %q must match %s", ErrInvalidInput, key, identRe.String())
	}
	return nil
}

// PostgreSQL error classes used to translate constraint violations into
// the stable error kinds.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgErrCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
