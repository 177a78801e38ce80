package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kry4r/embedstore/internal/embedding"
	"github.com/kry4r/embedstore/internal/vectorstore"
	"go.uber.org/zap"
)

// Version is the service version reported by the root endpoint.
const Version = "0.1.0"

// StoreService is the subset of vectorstore.Service the HTTP layer uses.
type StoreService interface {
	RegisterModel(ctx context.Context, m vectorstore.Model) (*vectorstore.Model, error)
	GetModel(ctx context.Context, id string) (*vectorstore.Model, error)
	ListModels(ctx context.Context) ([]vectorstore.Model, error)
	UpdateModel(ctx context.Context, id string, upd vectorstore.ModelUpdate) (*vectorstore.Model, error)
	DeleteModel(ctx context.Context, id string) error

	CreateStore(ctx context.Context, id, modelID, description string) (*vectorstore.Store, error)
	GetStore(ctx context.Context, id string) (*vectorstore.Store, error)
	ListStores(ctx context.Context) ([]vectorstore.Store, error)
	UpdateStore(ctx context.Context, id string, upd vectorstore.StoreUpdate) (*vectorstore.Store, error)
	DeleteStore(ctx context.Context, id string) error

	EmbedOne(ctx context.Context, storeID string, item vectorstore.EmbedItem) (*vectorstore.EmbedResult, error)
	EmbedBatch(ctx context.Context, storeID string, items []vectorstore.EmbedItem) (*vectorstore.BatchResult, error)
	Query(ctx context.Context, storeID, text string, opts vectorstore.QueryOptions) ([]vectorstore.QueryResult, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc      StoreService
	embedder embedding.Provider
	logger   *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc StoreService, embedder embedding.Provider, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, embedder: embedder, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/", h.root)
	r.Get("/health", h.healthCheck)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/models", func(r chi.Router) {
			r.Post("/", h.registerModel)
			r.Get("/", h.listModels)
			r.Get("/{id}", h.getModel)
			r.Put("/{id}", h.updateModel)
			r.Delete("/{id}", h.deleteModel)
		})

		r.Route("/stores", func(r chi.Router) {
			r.Post("/", h.createStore)
			r.Get("/", h.listStores)
			r.Get("/{id}", h.getStore)
			r.Put("/{id}", h.updateStore)
			r.Delete("/{id}", h.deleteStore)
			r.Post("/{id}/embed", h.embedOne)
			r.Post("/{id}/embed/batch", h.embedBatch)
			r.Post("/{id}/query", h.queryStore)
		})

		r.Route("/embeddings", func(r chi.Router) {
			r.Post("/query", h.embedQuery)
			r.Post("/documents", h.embedDocuments)
		})
	})

	return r
}

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Embeddings Service", "version": Version})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// --- models ---

type registerModelRequest struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Dimensions  int    `json:"dimensions"`
}

func (h *Handler) registerModel(w http.ResponseWriter, r *http.Request) {
	var req registerModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	m, err := h.svc.RegisterModel(r.Context(), vectorstore.Model{
		ID:          req.ID,
		Description: req.Description,
		Dimensions:  req.Dimensions,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.ListModels(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if models == nil {
		models = []vectorstore.Model{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) updateModel(w http.ResponseWriter, r *http.Request) {
	var upd vectorstore.ModelUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	m, err := h.svc.UpdateModel(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- stores ---

type createStoreRequest struct {
	ID          string `json:"id"`
	Model       string `json:"model"`
	Description string `json:"description"`
}

func (h *Handler) createStore(w http.ResponseWriter, r *http.Request) {
	var req createStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	st, err := h.svc.CreateStore(r.Context(), req.ID, req.Model, req.Description)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (h *Handler) listStores(w http.ResponseWriter, r *http.Request) {
	stores, err := h.svc.ListStores(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if stores == nil {
		stores = []vectorstore.Store{}
	}
	writeJSON(w, http.StatusOK, stores)
}

func (h *Handler) getStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetStore(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) updateStore(w http.ResponseWriter, r *http.Request) {
	var upd vectorstore.StoreUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	st, err := h.svc.UpdateStore(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) deleteStore(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteStore(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- ingestion ---

type embedResponse struct {
	ID       int64  `json:"id"`
	Content  string `json:"content"`
	Inserted bool   `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

func (h *Handler) embedOne(w http.ResponseWriter, r *http.Request) {
	var item vectorstore.EmbedItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	res, err := h.svc.EmbedOne(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, embedResponse{
		ID:       res.ID,
		Content:  res.Content,
		Inserted: res.Inserted,
	})
}

type embedBatchRequest struct {
	Items []vectorstore.EmbedItem `json:"items"`
}

type embedBatchResponse struct {
	Results []embedResponse `json:"results"`
	Total   int             `json:"total"`
	Created int             `json:"created"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

func (h *Handler) embedBatch(w http.ResponseWriter, r *http.Request) {
	var req embedBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	batch, err := h.svc.EmbedBatch(r.Context(), chi.URLParam(r, "id"), req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}
	resp := embedBatchResponse{
		Results: make([]embedResponse, len(batch.Results)),
		Total:   batch.Total,
		Created: batch.Created,
		Skipped: batch.Skipped,
		Failed:  batch.Failed,
	}
	for i, res := range batch.Results {
		resp.Results[i] = embedResponse{
			ID:       res.ID,
			Content:  res.Content,
			Inserted: res.Inserted,
		}
		if res.Err != nil {
			resp.Results[i].Error = res.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- query ---

type queryRequest struct {
	Query       string            `json:"query"`
	Limit       int               `json:"limit"`
	MaxDistance *float64          `json:"max_distance,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type queryResponse struct {
	Query   string                    `json:"query"`
	Results []vectorstore.QueryResult `json:"results"`
	Count   int                       `json:"count"`
}

func (h *Handler) queryStore(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if req.Limit == 0 {
		req.Limit = 10
	}
	results, err := h.svc.Query(r.Context(), chi.URLParam(r, "id"), req.Query, vectorstore.QueryOptions{
		Limit:       req.Limit,
		MaxDistance: req.MaxDistance,
		Metadata:    req.Metadata,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	if results == nil {
		results = []vectorstore.QueryResult{}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Query:   req.Query,
		Results: results,
		Count:   len(results),
	})
}

// --- embedding passthrough ---

type embedQueryRequest struct {
	Model string `json:"model"`
	Query string `json:"query"`
}

type embedQueryResponse struct {
	Model      string    `json:"model"`
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
}

func (h *Handler) embedQuery(w http.ResponseWriter, r *http.Request) {
	var req embedQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if req.Model == "" || req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model and query are required"})
		return
	}
	vecs, err := h.embedder.Embed(r.Context(), req.Model, []string{req.Query})
	if err != nil {
		h.writeEmbedderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, embedQueryResponse{
		Model:      req.Model,
		Embedding:  vecs[0],
		Dimensions: len(vecs[0]),
	})
}

type embedDocumentsRequest struct {
	Model     string   `json:"model"`
	Documents []string `json:"documents"`
}

type documentEmbedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type embedDocumentsResponse struct {
	Model      string              `json:"model"`
	Embeddings []documentEmbedding `json:"embeddings"`
	Dimensions int                 `json:"dimensions"`
	Count      int                 `json:"count"`
}

func (h *Handler) embedDocuments(w http.ResponseWriter, r *http.Request) {
	var req embedDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if req.Model == "" || len(req.Documents) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model and documents are required"})
		return
	}
	vecs, err := h.embedder.Embed(r.Context(), req.Model, req.Documents)
	if err != nil {
		h.writeEmbedderError(w, err)
		return
	}
	resp := embedDocumentsResponse{
		Model:      req.Model,
		Embeddings: make([]documentEmbedding, len(vecs)),
		Count:      len(vecs),
	}
	for i, v := range vecs {
		resp.Embeddings[i] = documentEmbedding{Index: i, Embedding: v}
	}
	if len(vecs) > 0 {
		resp.Dimensions = len(vecs[0])
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- helpers ---

// writeError maps a service error to its HTTP status by error kind.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vectorstore.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, vectorstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, vectorstore.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, vectorstore.ErrSchemaMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, vectorstore.ErrUpstream):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		h.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody(err))
}

// writeEmbedderError maps a raw provider error for the passthrough endpoints.
func (h *Handler) writeEmbedderError(w http.ResponseWriter, err error) {
	if errors.Is(err, embedding.ErrModelUnknown) {
		writeJSON(w, http.StatusNotFound, errorBody(err))
		return
	}
	h.logger.Error("embedding request failed", zap.Error(err))
	writeJSON(w, http.StatusBadGateway, errorBody(err))
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
