package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Model describes a registered embedding model. Dimensions is the fixed
// vector length the model produces; stores bound to the model copy it at
// creation time.
type Model struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Dimensions  int       `json:"dimensions"`
	CreatedAt   time.Time `json:"created_at"`
}

// ModelUpdate carries optional fields for UpdateModel. Nil means "keep".
type ModelUpdate struct {
	Description *string `json:"description"`
	Dimensions  *int    `json:"dimensions"`
}

// RegisterModel persists a new embedding model definition.
func (s *Service) RegisterModel(ctx context.Context, m Model) (*Model, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("%w: model id must not be empty", ErrInvalidInput)
	}
	if m.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidInput, m.Dimensions)
	}

	err := s.db.QueryRow(ctx,
		`INSERT INTO embeddings_models (id, description, dimensions)
		 VALUES ($1, $2, $3) RETURNING created_at`,
		m.ID, m.Description, m.Dimensions,
	).Scan(&m.CreatedAt)
	if err != nil {
		if pgErrCode(err, pgUniqueViolation) {
			return nil, fmt.Errorf("%w: model %q already exists", ErrConflict, m.ID)
		}
		return nil, fmt.Errorf("%w: insert model: %v", ErrUpstream, err)
	}

	s.logger.Info("model registered",
		zap.String("model", m.ID),
		zap.Int("dimensions", m.Dimensions),
	)
	return &m, nil
}

// GetModel returns a registered model by id.
func (s *Service) GetModel(ctx context.Context, id string) (*Model, error) {
	m := &Model{}
	err := s.db.QueryRow(ctx,
		`SELECT id, description, dimensions, created_at
		 FROM embeddings_models WHERE id = $1`, id,
	).Scan(&m.ID, &m.Description, &m.Dimensions, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select model: %v", ErrUpstream, err)
	}
	return m, nil
}

// ListModels returns all registered models ordered by id.
func (s *Service) ListModels(ctx context.Context) ([]Model, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, description, dimensions, created_at
		 FROM embeddings_models ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list models: %v", ErrUpstream, err)
	}
	defer rows.Close()

	var models []Model
	for rows.Next() {
		var m Model
		if err := rows.Scan(&m.ID, &m.Description, &m.Dimensions, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan model: %v", ErrUpstream, err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list models: %v", ErrUpstream, err)
	}
	return models, nil
}

// UpdateModel changes a model's description and, while no store references
// it, its dimensionality. Changing dimensions under a live store would
// desync the store's table schema, so it is rejected with ErrConflict.
func (s *Service) UpdateModel(ctx context.Context, id string, upd ModelUpdate) (*Model, error) {
	if upd.Dimensions != nil && *upd.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive, got %d", ErrInvalidInput, *upd.Dimensions)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %v", ErrUpstream, err)
	}
	defer tx.Rollback(ctx)

	m := &Model{}
	err = tx.QueryRow(ctx,
		`SELECT id, description, dimensions, created_at
		 FROM embeddings_models WHERE id = $1 FOR UPDATE`, id,
	).Scan(&m.ID, &m.Description, &m.Dimensions, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: model %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select model: %v", ErrUpstream, err)
	}

	if upd.Description != nil {
		m.Description = *upd.Description
	}
	if upd.Dimensions != nil && *upd.Dimensions != m.Dimensions {
		var refs int
		if err := tx.QueryRow(ctx,
			`SELECT count(*) FROM stores WHERE model = $1`, id,
		).Scan(&refs); err != nil {
			return nil, fmt.Errorf("%w: count references: %v", ErrUpstream, err)
		}
		if refs > 0 {
			return nil, fmt.Errorf("%w: model %q is referenced by %d store(s), dimensions are immutable", ErrConflict, id, refs)
		}
		m.Dimensions = *upd.Dimensions
	}

	if _, err := tx.Exec(ctx,
		`UPDATE embeddings_models SET description = $1, dimensions = $2 WHERE id = $3`,
		m.Description, m.Dimensions, id,
	); err != nil {
		return nil, fmt.Errorf("%w: update model: %v", ErrUpstream, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("%w: commit: %v", ErrUpstream, err)
	}
	return m, nil
}

// DeleteModel removes a model definition. A model still referenced by a
// store cannot be deleted.
func (s *Service) DeleteModel(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM embeddings_models WHERE id = $1`, id)
	if err != nil {
		if pgErrCode(err, pgForeignKeyViolation) {
			return fmt.Errorf("%w: model %q is referenced by a store", ErrConflict, id)
		}
		return fmt.Errorf("%w: delete model: %v", ErrUpstream, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: model %q", ErrNotFound, id)
	}
	s.logger.Info("model deleted", zap.String("model", id))
	return nil
}
