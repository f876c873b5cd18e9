// Package handler exposes the searcher over JSON/HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/occupation"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/internal/searcher/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/NCO-Semantic-Search/pkg/middleware"
)

// Searcher is the part of searcher.Service the handlers call.
type Searcher interface {
	Search(ctx context.Context, req pipeline.Request) (*pipeline.Response, error)
	Similar(ctx context.Context, code, language string, limit int) ([]string, error)
	Suggest(ctx context.Context, prefix, language string, limit int) ([]string, error)
	Stats() searcher.Stats
}

type Handler struct {
	svc     Searcher
	catalog catalog.Browser
	logger  *slog.Logger
}

func New(svc Searcher, cat catalog.Browser) *Handler {
	return &Handler{
		svc:     svc,
		catalog: cat,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggest", h.Suggest)
	mux.HandleFunc("GET /api/v1/occupations/{code}", h.Occupation)
	mux.HandleFunc("GET /api/v1/occupations/{code}/similar", h.Similar)
	mux.HandleFunc("GET /api/v1/hierarchy/{level}/{value}", h.Hierarchy)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
}

// occupationView is a catalog record with its hierarchy spelled out.
type occupationView struct {
	occupation.Record
	Hierarchy map[occupation.Level]string `json:"hierarchy"`
}

// Occupation answers GET /api/v1/occupations/{code} from the catalog.
func (h *Handler) Occupation(w http.ResponseWriter, r *http.Request) {
	code, err := occupation.ParseCode(r.PathValue("code"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.catalog.Lookup(r.Context(), code)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, occupationView{Record: rec, Hierarchy: rec.Hierarchy()})
}

// Hierarchy answers GET /api/v1/hierarchy/{level}/{value}, e.g.
// /api/v1/hierarchy/minor_group/7532.
func (h *Handler) Hierarchy(w http.ResponseWriter, r *http.Request) {
	level := occupation.Level(r.PathValue("level"))
	value := r.PathValue("value")
	records, err := h.catalog.ByHierarchy(r.Context(), level, value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if records == nil {
		records = []occupation.Record{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"level":       level,
		"value":       value,
		"occupations": records,
	})
}

// Search answers GET /api/v1/search?q=&lang=&limit=&prefix=&min_confidence=.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	req := pipeline.Request{
		Text:     q.Get("q"),
		Language: q.Get("lang"),
		Limit:    limit,
		Prefix:   q.Get("prefix"),
	}
	if v := q.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "min_confidence must be a number")
			return
		}
		req.MinConfidence = f
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logger.Info("search served",
		"request_id", middleware.GetRequestID(r.Context()),
		"query_id", resp.QueryID,
		"results", len(resp.Results),
		"degraded", resp.Degraded,
		"cached", resp.Cached,
		"took_ms", resp.Took.Milliseconds(),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

// Similar answers GET /api/v1/occupations/{code}/similar?lang=&limit=.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	code := r.PathValue("code")
	codes, err := h.svc.Similar(r.Context(), code, r.URL.Query().Get("lang"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"code": code, "similar": codes})
}

// Suggest answers GET /api/v1/suggest?q=&lang=&limit=.
func (h *Handler) Suggest(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.intParam(w, r, "limit")
	if !ok {
		return
	}
	phrases, err := h.svc.Suggest(r.Context(), r.URL.Query().Get("q"), r.URL.Query().Get("lang"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if phrases == nil {
		phrases = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": phrases})
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.svc.Stats())
}

// intParam reads an optional integer query parameter; absent means 0.
func (h *Handler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			"request_id", middleware.GetRequestID(r.Context()),
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.writeError(w, r, status, err.Error())
}

func statusOf(err error) int {
	switch apperrors.KindOf(err) {
	case apperrors.KindInvalidInput:
		return http.StatusBadRequest
	case apperrors.KindNotFound:
		return http.StatusNotFound
	case apperrors.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": middleware.GetRequestID(r.Context()),
	})
}
