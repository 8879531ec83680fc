package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sashko-guz/kvstore/internal/errs"
	"github.com/sashko-guz/kvstore/internal/kv"
	"github.com/sashko-guz/kvstore/internal/metrics"
)

type KVHandler struct {
	service       *kv.Service
	maxValueBytes int64
}

// NewKVHandler serves reads and writes through service. maxValueBytes caps
// PUT values; 0 means no cap.
func NewKVHandler(service *kv.Service, maxValueBytes int64) *KVHandler {
	return &KVHandler{
		service:       service,
		maxValueBytes: maxValueBytes,
	}
}

// NewRouter mounts the key-value routes, /health and, when m is not nil,
// /metrics
func NewRouter(h *KVHandler, m *metrics.Metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog(m))
	r.Use(middleware.Recoverer)

	r.Get("/kv/*", h.HandleGet)
	r.Put("/kv/*", h.HandlePut)
	r.Get("/health", HandleHealth)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}
	return r
}

// HandleGet writes the raw stored bytes of the key in the URL path
func (h *KVHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromPath(w, r)
	if !ok {
		return
	}

	value, err := h.service.Read(r.Context(), key)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(value)
}

// HandlePut stores the request body, or the "value" query parameter when it
// is present, and answers with the stored length
func (h *KVHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := keyFromPath(w, r)
	if !ok {
		return
	}

	value, err := h.readValue(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || errors.Is(err, errValueTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "value too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	n, err := h.service.Write(r.Context(), key, value)
	if err != nil {
		writeStorageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, n)
}

var errValueTooLarge = errors.New("value too large")

func (h *KVHandler) readValue(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if query := r.URL.Query(); query.Has("value") {
		value := query.Get("value")
		if h.maxValueBytes > 0 && int64(len(value)) > h.maxValueBytes {
			return nil, errValueTooLarge
		}
		return []byte(value), nil
	}

	body := r.Body
	if h.maxValueBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxValueBytes)
	}
	value, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// keyFromPath returns the decoded wildcard of the route. chi matches against
// RawPath when the URL has one, and the wildcard is then still escaped.
func keyFromPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "*")
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(key)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid key encoding")
			return "", false
		}
		key = decoded
	}
	if key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return "", false
	}
	return key, true
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeStorageError maps the storage error kinds to status codes
func writeStorageError(w http.ResponseWriter, err error) {
	if errs.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "storage unavailable")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		httpLog.Errorf("failed to encode response: %v", err)
	}
}
