package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
)

// EmbedItem is one piece of content to ingest. When Query is set, its text
// is embedded instead of Content; Content remains the stored text and the
// deduplication key either way.
type EmbedItem struct {
	Content  string            `json:"content"`
	Query    string            `json:"query,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// EmbedResult reports the outcome for a single item. Inserted is false when
// the content already existed and the item was skipped. Err is set only for
// per-item failures inside a batch.
type EmbedResult struct {
	ID       int64
	Content  string
	Inserted bool
	Err      error
}

// BatchResult aggregates per-item results in input order.
type BatchResult struct {
	Results []EmbedResult
	Total   int
	Created int
	Skipped int
	Failed  int
}

// EmbedOne embeds a single item into the store's table. Ingestion is
// idempotent: content already present is skipped without calling the
// embedding service, and a concurrent insert losing the unique-constraint
// race is reported as skipped, not as an error.
func (s *Service) EmbedOne(ctx context.Context, storeID string, item EmbedItem) (*EmbedResult, error) {
	st, err := s.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := validateStoreID(st.ID); err != nil {
		return nil, err
	}
	res, err := s.embedInto(ctx, st, item)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// EmbedBatch embeds many items as one logical operation. Items are processed
// in input order; content repeated within the batch is embedded once and later
// occurrences are skipped, and one item's upstream failure does not abort the
// rest.
func (s *Service) EmbedBatch(ctx context.Context, storeID string, items []EmbedItem) (*BatchResult, error) {
	st, err := s.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if err := validateStoreID(st.ID); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", ErrInvalidInput)
	}

	batchID := uuid.New().String()
	logger := s.logger.With(zap.String("store", st.ID), zap.String("batch", batchID))

	// Prefetch contents already stored so duplicates cost no embedding call.
	contents := make([]string, 0, len(items))
	for _, item := range items {
		if item.Content != "" {
			contents = append(contents, item.Content)
		}
	}
	existing := make(map[string]int64, len(contents))
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT id, content FROM %s WHERE content = ANY($1)`, st.ID),
		contents,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: select existing content: %v", ErrUpstream, err)
	}
	for rows.Next() {
		var id int64
		var content string
		if err := rows.Scan(&id, &content); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan existing content: %v", ErrUpstream, err)
		}
		existing[content] = id
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: select existing content: %v", ErrUpstream, err)
	}

	batch := &BatchResult{
		Results: make([]EmbedResult, len(items)),
		Total:   len(items),
	}
	firstSeen := make(map[string]int, len(items))

	for i, item := range items {
		if item.Content == "" {
			batch.Results[i] = EmbedResult{Err: fmt.Errorf("%w: content must not be empty", ErrInvalidInput)}
			batch.Failed++
			continue
		}
		if id, ok := existing[item.Content]; ok {
			batch.Results[i] = EmbedResult{ID: id, Content: item.Content, Inserted: false}
			batch.Skipped++
			continue
		}
		if j, ok := firstSeen[item.Content]; ok {
			// Duplicate within the batch: mirror the first occurrence
			// without another embedding call.
			first := batch.Results[j]
			if first.Err != nil {
				batch.Results[i] = EmbedResult{Content: item.Content, Err: first.Err}
				batch.Failed++
			} else {
				batch.Results[i] = EmbedResult{ID: first.ID, Content: item.Content, Inserted: false}
				batch.Skipped++
			}
			continue
		}
		firstSeen[item.Content] = i

		res, err := s.embedInto(ctx, st, item)
		if err != nil {
			logger.Warn("batch item failed", zap.Int("index", i), zap.Error(err))
			batch.Results[i] = EmbedResult{Content: item.Content, Err: err}
			batch.Failed++
			continue
		}
		batch.Results[i] = *res
		if res.Inserted {
			batch.Created++
		} else {
			batch.Skipped++
		}
	}

	logger.Info("batch ingested",
		zap.Int("total", batch.Total),
		zap.Int("created", batch.Created),
		zap.Int("skipped", batch.Skipped),
		zap.Int("failed", batch.Failed),
	)
	return batch, nil
}

// embedInto performs the per-item check / embed / insert sequence against a
// resolved store. The caller has already validated st.ID.
func (s *Service) embedInto(ctx context.Context, st *Store, item EmbedItem) (*EmbedResult, error) {
	if item.Content == "" {
		return nil, fmt.Errorf("%w: content must not be empty", ErrInvalidInput)
	}

	var existingID int64
	err := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT id FROM %s WHERE content = $1`, st.ID),
		item.Content,
	).Scan(&existingID)
	if err == nil {
		return &EmbedResult{ID: existingID, Content: item.Content, Inserted: false}, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: select content: %v", ErrUpstream, err)
	}

	text := item.Content
	if item.Query != "" {
		text = item.Query
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

	var meta any
	if len(item.Metadata) > 0 {
		meta = item.Metadata
	}

	var id int64
	err = s.db.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (content, embedding, metadata)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (content) DO NOTHING
		 RETURNING id`, st.ID),
		item.Content, pgvector.NewVector(vecs[0]), meta,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost a concurrent insert race; the content now exists.
		if err := s.db.QueryRow(ctx,
			fmt.Sprintf(`SELECT id FROM %s WHERE content = $1`, st.ID),
			item.Content,
		).Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: select after conflict: %v", ErrUpstream, err)
		}
		return &EmbedResult{ID: id, Content: item.Content, Inserted: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: insert content: %v", ErrUpstream, err)
	}
	return &EmbedResult{ID: id, Content: item.Content, Inserted: true}, nil
}
