package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
)

// QueryOptions tunes a similarity query. MaxDistance, when set, drops rows
// whose cosine distance exceeds it; Metadata filters on exact matches of
// per-row metadata values.
type QueryOptions struct {
	Limit       int
	MaxDistance *float64
	Metadata    map[string]string
}

// QueryResult is one similarity hit. Distance is the cosine distance to the
// query vector; smaller is more similar.
type QueryResult struct {
	ID       int64   `json:"id"`
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// Query embeds the query text with the store's bound model and returns at
// most Limit rows ordered by ascending cosine distance, ties broken by
// insertion order.
func (s *Service) Query(ctx context.Context, storeID, text string, opts QueryOptions) ([]QueryResult, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, opts.Limit)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: query text must not be empty", ErrInvalidInput)
	}

	st, err := s.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := validateStoreID(st.ID); err != nil {
		return nil, err
	}
	for key := range opts.Metadata {
		if err := validateMetadataKey(key); err != nil {
			return nil, err
		}
	}

	vecs, err := s.embedder.Embed(ctx, st.Model, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding service: %v", ErrUpstream, err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: embedding service returned %d vectors for one text", ErrUpstream, len(vecs))
	}
	if len(vecs[0]) != st.Dimensions {
		return nil, fmt.Errorf("%w: model %q returned %d dimensions, store %q expects %d",
			ErrSchemaMismatch, st.Model, len(vecs[0]), st.ID, st.Dimensions)
	}

	args := []any{pgvector.NewVector(vecs[0])}
	var conds []string
	if opts.MaxDistance != nil {
		args = append(args, *opts.MaxDistance)
		conds = append(conds, fmt.Sprintf("embedding <=> $1 <= $%d", len(args)))
	}
	for key, value := range opts.Metadata {
		args = append(args, value)
		// key passed validateMetadataKey above.
		conds = append(conds, fmt.Sprintf("metadata ->> '%s' = $%d", key, len(args)))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, opts.Limit)

	sql := fmt.Sprintf(`SELECT id, content, embedding <=> $1 AS distance
		FROM %s
		%s
		ORDER BY embedding <=> $1, id
		LIMIT $%d`, st.ID, where, len(args))

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity query: %v", ErrUpstream, err)
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		var r QueryResult
		if err := rows.Scan(&r.ID, &r.Content, &r.Distance); err != nil {
			return nil, fmt.Errorf("%w: scan result: %v", ErrUpstream, err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: similarity query: %v", ErrUpstream, err)
	}
	return results, nil
}
