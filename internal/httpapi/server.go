// Package httpapi exposes search, business data and markup updates over
// HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roach88/replicant/internal/fashion"
	"github.com/roach88/replicant/internal/ir"
	"github.com/roach88/replicant/internal/pump"
	"github.com/roach88/replicant/internal/scatter"
)

// Searcher runs one scatter-gather search.
type Searcher interface {
	Search(ctx context.Context, q fashion.SearchQuery, timeout time.Duration) (scatter.SearchResponse[fashion.Item], error)
}

// BusinessData is the live catalog view.
type BusinessData interface {
	Current() ir.BusinessData[fashion.Catalog]
	WaitFor(ctx context.Context, w ir.Watermark) (ir.BusinessData[fashion.Catalog], error)
}

// Updater publishes markup updates.
type Updater interface {
	SendUpdate(ctx context.Context, u fashion.MarkupUpdate) (ir.Watermark, error)
}

// Options wires a handler.
type Options struct {
	Search         Searcher
	Data           BusinessData
	Updates        Updater
	State          func() pump.State
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
}

type server struct {
	opts Options
}

// NewHandler returns the routed API.
//
//	GET  /healthz
//	GET  /business-data
//	POST /markups[?wait=true]
//	GET  /search?type=&size=[&timeout_ms=]
func NewHandler(opts Options) http.Handler {
	s := &server{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logRequests)

	r.Get("/healthz", s.health)
	r.Get("/business-data", s.businessData)
	r.Post("/markups", s.postMarkups)
	r.Get("/search", s.search)
	return r
}

type searchResponse struct {
	RequestID             string         `json:"requestId"`
	Items                 []fashion.Item `json:"items"`
	ElapsedMS             int64          `json:"elapsedMs"`
	BusinessDataWatermark ir.Watermark   `json:"businessDataWatermark"`
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	state := pump.StateLive
	if s.opts.State != nil {
		state = s.opts.State()
	}
	status := http.StatusOK
	if state != pump.StateLive && state != pump.StateReplaying {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"status": http.StatusText(status), "pump": state.String()})
}

func (s *server) businessData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Data.Current())
}

func (s *server) postMarkups(w http.ResponseWriter, r *http.Request) {
	var updates []fashion.MarkupUpdate
	body := http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(body)
	raw := json.RawMessage{}
	if err := dec.Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &updates); err != nil {
			writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
			return
		}
	} else {
		var one fashion.MarkupUpdate
		if err := json.Unmarshal(raw, &one); err != nil {
			writeError(w, http.StatusBadRequest, "decode body: "+err.Error())
			return
		}
		updates = append(updates, one)
	}
	for _, u := range updates {
		if fashion.NormalizeType(u.ProductType) == "" {
			writeError(w, http.StatusBadRequest, "productType is required")
			return
		}
	}

	last := ir.NoWatermark
	for _, u := range updates {
		wm, err := s.opts.Updates.SendUpdate(r.Context(), u)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		last = wm
	}

	if r.URL.Query().Get("wait") == "true" && last != ir.NoWatermark {
		if _, err := s.opts.Data.WaitFor(r.Context(), last); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]ir.Watermark{"watermark": last})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]ir.Watermark{"watermark": last})
}

func (s *server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	productType := q.Get("type")
	if productType == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	size, err := strconv.Atoi(q.Get("size"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "size must be an integer")
		return
	}

	timeout := s.opts.DefaultTimeout
	if raw := q.Get("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			writeError(w, http.StatusBadRequest, "timeout_ms must be a positive integer")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	if s.opts.MaxTimeout > 0 && timeout > s.opts.MaxTimeout {
		timeout = s.opts.MaxTimeout
	}

	resp, err := s.opts.Search.Search(r.Context(), fashion.SearchQuery{ProductType: productType, Size: size}, timeout)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away.
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		RequestID:             resp.RequestID,
		Items:                 resp.Items,
		ElapsedMS:             resp.Elapsed.Milliseconds(),
		BusinessDataWatermark: resp.BusinessDataWatermark,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}
