package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Store describes a named vector store. Each store owns exactly one
// physical table named after its id, created in the same transaction as
// the catalog row.
type Store struct {
	ID          string    `json:"id"`
	Model       string    `json:"model"`
	Description string    `json:"description"`
	Dimensions  int       `json:"dimensions"`
	CreatedAt   time.Time `json:"created_at"`
}

// StoreUpdate carries optional fields for UpdateStore. A store's model
// binding is fixed at creation; only the description can change.
type StoreUpdate struct {
	Description *string `json:"description"`
}

// CreateStore inserts the catalog row and provisions the store's table and
// cosine index in one transaction. DDL on the same identifier is serialized
// with a transaction-scoped advisory lock, so concurrent creates with the
// same id leave exactly one winner; the loser gets ErrConflict.
func (s *Service) CreateStore(ctx context.Context, id, modelID, description string) (*Store, error) {
	if err := validateStoreID(id); err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUpstream, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return nil, fmt.Errorf("%w: acquire ddl lock: %v", ErrUpstream, err)
	}

	st := &Store{ID: id, Model: modelID, Description: description}
	err = tx.QueryRow(ctx,
		`SELECT dimensions FROM embeddings_models WHERE id = $1`, modelID,
	).Scan(&st.Dimensions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, modelID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select model: %v", ErrUpstream, err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO stores (id, model, description, dimensions)
		 VALUES ($1, $2, $3, $4) RETURNING created_at`,
		st.ID, st.Model, st.Description, st.Dimensions,
	).Scan(&st.CreatedAt)
	if err != nil {
		if pgErrCode(err, pgUniqueViolation) {
			return nil, fmt.Errorf("%w: store %q already exists", ErrConflict, id)
		}
		return nil, fmt.Errorf("%w: insert store: %v", ErrUpstream, err)
	}

	// id passed validateStoreID above; identifiers cannot be bound as
	// parameters, so interpolation is the only option for DDL.
	ddl := fmt.Sprintf(`CREATE TABLE %s (
		id BIGSERIAL PRIMARY KEY,
		content TEXT NOT NULL UNIQUE,
		embedding vector(%d) NOT NULL,
		metadata JSONB,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`, id, st.Dimensions)
	if _, err := tx.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("%w: create table %s: %v", ErrUpstream, id, err)
	}

	idx := fmt.Sprintf(`CREATE INDEX %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`, id, id)
	if _, err := tx.Exec(ctx, idx); err != nil {
		return nil, fmt.Errorf("%w: create index on %s: %v", ErrUpstream, id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUpstream, err)
	}

	s.logger.Info("store created",
		zap.String("store", st.ID),
		zap.String("model", st.Model),
		zap.Int("dimensions", st.Dimensions),
	)
	return st, nil
}

// GetStore returns a store's catalog entry by id.
func (s *Service) GetStore(ctx context.Context, id string) (*Store, error) {
	st := &Store{}
	err := s.db.QueryRow(ctx,
		`SELECT id, model, description, dimensions, created_at
		 FROM stores WHERE id = $1`, id,
	).Scan(&st.ID, &st.Model, &st.Description, &st.Dimensions, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: store %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select store: %v", ErrUpstream, err)
	}
	return st, nil
}

// ListStores returns all stores ordered by id.
func (s *Service) ListStores(ctx context.Context) ([]Store, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, model, description, dimensions, created_at
		 FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list stores: %v", ErrUpstream, err)
	}
	defer rows.Close()

	var stores []Store
	for rows.Next() {
		var st Store
		if err := rows.Scan(&st.ID, &st.Model, &st.Description, &st.Dimensions, &st.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan store: %v", ErrUpstream, err)
		}
		stores = append(stores, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list stores: %v", ErrUpstream, err)
	}
	return stores, nil
}

// UpdateStore changes a store's description.
func (s *Service) UpdateStore(ctx context.Context, id string, upd StoreUpdate) (*Store, error) {
	st, err := s.GetStore(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Description == nil {
		return st, nil
	}
	st.Description = *upd.Description
	if _, err := s.db.Exec(ctx,
		`UPDATE stores SET description = $1 WHERE id = $2`,
		st.Description, id,
	); err != nil {
		return nil, fmt.Errorf("%w: update store: %v", ErrUpstream, err)
	}
	return st, nil
}

// DeleteStore drops the store's table and removes its catalog row in one
// transaction, under the same per-id advisory lock as CreateStore.
func (s *Service) DeleteStore(ctx context.Context, id string) error {
	if err := validateStoreID(id); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrUpstream, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
		return fmt.Errorf("%w: acquire ddl lock: %v", ErrUpstream, err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM stores WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: delete store: %v", ErrUpstream, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: store %q", ErrNotFound, id)
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, id)); err != nil {
		return fmt.Errorf("%w: drop table %s: %v", ErrUpstream, id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrUpstream, err)
	}
	s.logger.Info("store deleted", zap.String("store", id))
	return nil
}
