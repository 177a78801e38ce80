package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/kry4r/embedstore/internal/embedding"
	"github.com/kry4r/embedstore/internal/vectorstore"
	"go.uber.org/zap"
)

// fakeService is an in-memory StoreService used to exercise the HTTP layer
// without PostgreSQL. Behavior mirrors the real service's error kinds.
type fakeService struct {
	models map[string]vectorstore.Model
	stores map[string]vectorstore.Store
	rows   map[string]map[string]int64 // store id -> content -> row id
	nextID int64
}

func newFakeService() *fakeService {
	return &fakeService{
		models: map[string]vectorstore.Model{},
		stores: map[string]vectorstore.Store{},
		rows:   map[string]map[string]int64{},
	}
}

func (f *fakeService) RegisterModel(ctx context.Context, m vectorstore.Model) (*vectorstore.Model, error) {
	if m.Dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions", vectorstore.ErrInvalidInput)
	}
	if _, ok := f.models[m.ID]; ok {
		return nil, fmt.Errorf("%w: model %q", vectorstore.ErrConflict, m.ID)
	}
	f.models[m.ID] = m
	return &m, nil
}

func (f *fakeService) GetModel(ctx context.Context, id string) (*vectorstore.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", vectorstore.ErrNotFound, id)
	}
	return &m, nil
}

func (f *fakeService) ListModels(ctx context.Context) ([]vectorstore.Model, error) {
	out := make([]vectorstore.Model, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeService) UpdateModel(ctx context.Context, id string, upd vectorstore.ModelUpdate) (*vectorstore.Model, error) {
	m, ok := f.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", vectorstore.ErrNotFound, id)
	}
	if upd.Description != nil {
		m.Description = *upd.Description
	}
	f.models[id] = m
	return &m, nil
}

func (f *fakeService) DeleteModel(ctx context.Context, id string) error {
	if _, ok := f.models[id]; !ok {
		return fmt.Errorf("%w: model %q", vectorstore.ErrNotFound, id)
	}
	for _, st := range f.stores {
		if st.Model == id {
			return fmt.Errorf("%w: model %q is referenced", vectorstore.ErrConflict, id)
		}
	}
	delete(f.models, id)
	return nil
}

func (f *fakeService) CreateStore(ctx context.Context, id, modelID, description string) (*vectorstore.Store, error) {
	m, ok := f.models[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: model %q", vectorstore.ErrNotFound, modelID)
	}
	if _, ok := f.stores[id]; ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrConflict, id)
	}
	st := vectorstore.Store{ID: id, Model: modelID, Description: description, Dimensions: m.Dimensions}
	f.stores[id] = st
	f.rows[id] = map[string]int64{}
	return &st, nil
}

func (f *fakeService) GetStore(ctx context.Context, id string) (*vectorstore.Store, error) {
	st, ok := f.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, id)
	}
	return &st, nil
}

func (f *fakeService) ListStores(ctx context.Context) ([]vectorstore.Store, error) {
	out := make([]vectorstore.Store, 0, len(f.stores))
	for _, st := range f.stores {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeService) UpdateStore(ctx context.Context, id string, upd vectorstore.StoreUpdate) (*vectorstore.Store, error) {
	st, ok := f.stores[id]
	if !ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, id)
	}
	if upd.Description != nil {
		st.Description = *upd.Description
	}
	f.stores[id] = st
	return &st, nil
}

func (f *fakeService) DeleteStore(ctx context.Context, id string) error {
	if _, ok := f.stores[id]; !ok {
		return fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, id)
	}
	delete(f.stores, id)
	delete(f.rows, id)
	return nil
}

func (f *fakeService) EmbedOne(ctx context.Context, storeID string, item vectorstore.EmbedItem) (*vectorstore.EmbedResult, error) {
	if _, ok := f.stores[storeID]; !ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, storeID)
	}
	if item.Content == "" {
		return nil, fmt.Errorf("%w: content", vectorstore.ErrInvalidInput)
	}
	if id, ok := f.rows[storeID][item.Content]; ok {
		return &vectorstore.EmbedResult{ID: id, Content: item.Content, Inserted: false}, nil
	}
	f.nextID++
	f.rows[storeID][item.Content] = f.nextID
	return &vectorstore.EmbedResult{ID: f.nextID, Content: item.Content, Inserted: true}, nil
}

func (f *fakeService) EmbedBatch(ctx context.Context, storeID string, items []vectorstore.EmbedItem) (*vectorstore.BatchResult, error) {
	if _, ok := f.stores[storeID]; !ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, storeID)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: items", vectorstore.ErrInvalidInput)
	}
	batch := &vectorstore.BatchResult{Results: make([]vectorstore.EmbedResult, len(items)), Total: len(items)}
	for i, item := range items {
		res, err := f.EmbedOne(ctx, storeID, item)
		if err != nil {
			batch.Results[i] = vectorstore.EmbedResult{Content: item.Content, Err: err}
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
	return batch, nil
}

func (f *fakeService) Query(ctx context.Context, storeID, text string, opts vectorstore.QueryOptions) ([]vectorstore.QueryResult, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("%w: limit", vectorstore.ErrInvalidInput)
	}
	if _, ok := f.stores[storeID]; !ok {
		return nil, fmt.Errorf("%w: store %q", vectorstore.ErrNotFound, storeID)
	}
	var results []vectorstore.QueryResult
	for content, id := range f.rows[storeID] {
		d := 1.0
		if content == text {
			d = 0.0
		}
		results = append(results, vectorstore.QueryResult{ID: id, Content: content, Distance: d})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// fakeEmbedder serves the passthrough endpoints without a model server.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "missing" {
		return nil, fmt.Errorf("%w: %s", embedding.ErrModelUnknown, model)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func newTestServer(t *testing.T) (*fakeService, *httptest.Server) {
	t.Helper()
	svc := newFakeService()
	h := NewHandler(svc, fakeEmbedder{}, zap.NewNop())
	ts := httptest.NewServer(h.Router())
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body interface{}) *http.Response {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func getJSON(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func deleteReq(t *testing.T, ts *httptest.Server, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

// --- Tests ---

func TestHealthCheck(t *testing.T) {
	_, ts := newTestServer(t)

	resp := getJSON(t, ts, "/health")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	decodeJSON(t, resp, &body)
	if body["status"] != "healthy" {
		t.Errorf("expected status healthy, got %q", body["status"])
	}
}

func TestModelEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	// Register
	resp := postJSON(t, ts, "/v1/models", map[string]interface{}{
		"id": "bge-m3", "description": "multilingual", "dimensions": 1024,
	})
	if resp.StatusCode != 201 {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	var m vectorstore.Model
	decodeJSON(t, resp, &m)
	if m.ID != "bge-m3" || m.Dimensions != 1024 {
		t.Errorf("got %+v", m)
	}

	// Duplicate → 409
	resp = postJSON(t, ts, "/v1/models", map[string]interface{}{"id": "bge-m3", "dimensions": 1024})
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("duplicate: expected 409, got %d", resp.StatusCode)
	}

	// Bad dimensions → 400
	resp = postJSON(t, ts, "/v1/models", map[string]interface{}{"id": "zero", "dimensions": 0})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("zero dims: expected 400, got %d", resp.StatusCode)
	}

	// Get missing → 404
	resp = getJSON(t, ts, "/v1/models/nope")
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("missing: expected 404, got %d", resp.StatusCode)
	}

	// List
	resp = getJSON(t, ts, "/v1/models")
	var models []vectorstore.Model
	decodeJSON(t, resp, &models)
	if len(models) != 1 {
		t.Errorf("got %d models, want 1", len(models))
	}

	// Delete
	resp = deleteReq(t, ts, "/v1/models/bge-m3")
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Errorf("delete: expected 204, got %d", resp.StatusCode)
	}
}

func TestStoreEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts, "/v1/models", map[string]interface{}{"id": "m", "dimensions": 4}).Body.Close()

	// Unknown model → 404
	resp := postJSON(t, ts, "/v1/stores", map[string]interface{}{"id": "docs", "model": "ghost"})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("unknown model: expected 404, got %d", resp.StatusCode)
	}

	// Create
	resp = postJSON(t, ts, "/v1/stores", map[string]interface{}{"id": "docs", "model": "m", "description": "documents"})
	if resp.StatusCode != 201 {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var st vectorstore.Store
	decodeJSON(t, resp, &st)
	if st.Dimensions != 4 {
		t.Errorf("got dimensions %d, want 4", st.Dimensions)
	}

	// Duplicate → 409
	resp = postJSON(t, ts, "/v1/stores", map[string]interface{}{"id": "docs", "model": "m"})
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("duplicate: expected 409, got %d", resp.StatusCode)
	}

	// Model now referenced → delete is 409
	resp = deleteReq(t, ts, "/v1/models/m")
	resp.Body.Close()
	if resp.StatusCode != 409 {
		t.Errorf("referenced model delete: expected 409, got %d", resp.StatusCode)
	}

	// Update description
	resp = func() *http.Response {
		b, _ := json.Marshal(map[string]string{"description": "updated"})
		req, _ := http.NewRequest("PUT", ts.URL+"/v1/stores/docs", bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
		r, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("PUT: %v", err)
		}
		return r
	}()
	decodeJSON(t, resp, &st)
	if st.Description != "updated" {
		t.Errorf("got description %q", st.Description)
	}

	// Delete store, then model delete succeeds
	resp = deleteReq(t, ts, "/v1/stores/docs")
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Errorf("delete store: expected 204, got %d", resp.StatusCode)
	}
	resp = deleteReq(t, ts, "/v1/models/m")
	resp.Body.Close()
	if resp.StatusCode != 204 {
		t.Errorf("delete model: expected 204, got %d", resp.StatusCode)
	}
}

func TestEmbedEndpoints(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts, "/v1/models", map[string]interface{}{"id": "m", "dimensions": 4}).Body.Close()
	postJSON(t, ts, "/v1/stores", map[string]interface{}{"id": "docs", "model": "m"}).Body.Close()

	// Embed one
	resp := postJSON(t, ts, "/v1/stores/docs/embed", map[string]string{"content": "hello"})
	if resp.StatusCode != 200 {
		t.Fatalf("embed: expected 200, got %d", resp.StatusCode)
	}
	var one embedResponse
	decodeJSON(t, resp, &one)
	if !one.Inserted {
		t.Error("expected inserted=true")
	}

	// Idempotent re-embed
	resp = postJSON(t, ts, "/v1/stores/docs/embed", map[string]string{"content": "hello"})
	var again embedResponse
	decodeJSON(t, resp, &again)
	if again.Inserted {
		t.Error("expected inserted=false on duplicate")
	}
	if again.ID != one.ID {
		t.Errorf("got id %d, want %d", again.ID, one.ID)
	}

	// Unknown store → 404
	resp = postJSON(t, ts, "/v1/stores/ghost/embed", map[string]string{"content": "x"})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	// Batch preserves input order on the wire
	resp = postJSON(t, ts, "/v1/stores/docs/embed/batch", map[string]interface{}{
		"items": []map[string]string{
			{"content": "zeta"},
			{"content": "hello"},
			{"content": "alpha"},
		},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("batch: expected 200, got %d", resp.StatusCode)
	}
	var batch embedBatchResponse
	decodeJSON(t, resp, &batch)
	if batch.Total != 3 || batch.Created != 2 || batch.Skipped != 1 {
		t.Errorf("got total=%d created=%d skipped=%d", batch.Total, batch.Created, batch.Skipped)
	}
	want := []string{"zeta", "hello", "alpha"}
	for i, r := range batch.Results {
		if r.Content != want[i] {
			t.Errorf("result %d: got %q, want %q", i, r.Content, want[i])
		}
	}
}

func TestQueryEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	postJSON(t, ts, "/v1/models", map[string]interface{}{"id": "m", "dimensions": 4}).Body.Close()
	postJSON(t, ts, "/v1/stores", map[string]interface{}{"id": "docs", "model": "m"}).Body.Close()
	postJSON(t, ts, "/v1/stores/docs/embed", map[string]string{"content": "apple"}).Body.Close()
	postJSON(t, ts, "/v1/stores/docs/embed", map[string]string{"content": "banana"}).Body.Close()

	resp := postJSON(t, ts, "/v1/stores/docs/query", map[string]interface{}{"query": "apple", "limit": 1})
	if resp.StatusCode != 200 {
		t.Fatalf("query: expected 200, got %d", resp.StatusCode)
	}
	var qr queryResponse
	decodeJSON(t, resp, &qr)
	if qr.Count != 1 || len(qr.Results) != 1 {
		t.Fatalf("got count=%d results=%d", qr.Count, len(qr.Results))
	}
	if qr.Results[0].Content != "apple" {
		t.Errorf("got %q, want apple", qr.Results[0].Content)
	}

	// Negative limit → 400
	resp = postJSON(t, ts, "/v1/stores/docs/query", map[string]interface{}{"query": "apple", "limit": -1})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}

	// Unknown store → 404
	resp = postJSON(t, ts, "/v1/stores/ghost/query", map[string]interface{}{"query": "apple", "limit": 1})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestEmbeddingPassthrough(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts, "/v1/embeddings/query", map[string]string{"model": "m", "query": "hi"})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var q embedQueryResponse
	decodeJSON(t, resp, &q)
	if q.Dimensions != 3 || len(q.Embedding) != 3 {
		t.Errorf("got %+v", q)
	}

	resp = postJSON(t, ts, "/v1/embeddings/documents", map[string]interface{}{
		"model": "m", "documents": []string{"a", "b"},
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var d embedDocumentsResponse
	decodeJSON(t, resp, &d)
	if d.Count != 2 || len(d.Embeddings) != 2 {
		t.Errorf("got %+v", d)
	}
	if d.Embeddings[1].Index != 1 {
		t.Errorf("got index %d, want 1", d.Embeddings[1].Index)
	}

	// Unknown model → 404
	resp = postJSON(t, ts, "/v1/embeddings/query", map[string]string{"model": "missing", "query": "hi"})
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	// Missing fields → 400
	resp = postJSON(t, ts, "/v1/embeddings/query", map[string]string{"model": "m"})
	resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}
