// Package api exposes the push intake endpoint and the read-only event
// history over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/morrildl/providence/internal/db"
	"github.com/morrildl/providence/internal/ingest"
	"github.com/morrildl/providence/pkg/exchange"
)

const maxPushBody = 64 << 10

type Ingester interface {
	Process(ctx context.Context, msg *exchange.Message) (ingest.Outcome, error)
}

type History interface {
	ListEvents(ctx context.Context, opts db.ListOptions) iter.Seq2[db.Event, error]
	LatestMotion(ctx context.Context, which string) (string, bool, error)
	ClearAll(ctx context.Context) error
}

type API struct {
	Ingest  Ingester
	History History
}

type Config struct {
	Ingest  Ingester
	History History
}

func New(cfg Config) *API {
	return &API{Ingest: cfg.Ingest, History: cfg.History}
}

func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/heartbeat", a.Heartbeat)
	r.Post("/push", a.Push)
	r.Get("/events", a.ListEvents)
	r.Delete("/events", a.ClearEvents)
	r.Get("/motion/latest", a.LatestMotion)
	r.Get("/motion/{which}", a.LatestMotion)
	return r
}

// Serve runs the API on addr until ctx is cancelled.
func (a *API) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (a *API) Push(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPushBody)

	msg, err := decodePush(r)
	if err != nil {
		slog.Warn("Rejected push", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out, err := a.Ingest.Process(r.Context(), msg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, out)
}

func decodePush(r *http.Request) (*exchange.Message, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}
		return exchange.DecodeJSON(body)
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		fields[k] = r.PostForm.Get(k)
	}
	return exchange.Decode(fields)
}

type ListEventsResponse struct {
	Events []db.Event `json:"events"`
}

func (a *API) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := db.ListOptions{ExcludeTypes: r.URL.Query()["exclude"]}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	resp := ListEventsResponse{Events: []db.Event{}}
	for ev, err := range a.History.ListEvents(r.Context(), opts) {
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Events = append(resp.Events, ev)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) ClearEvents(w http.ResponseWriter, r *http.Request) {
	if err := a.History.ClearAll(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Event history cleared")
	w.WriteHeader(http.StatusNoContent)
}

type MotionResponse struct {
	Which     string `json:"which,omitempty"`
	Timestamp string `json:"ts"`
}

func (a *API) LatestMotion(w http.ResponseWriter, r *http.Request) {
	which := chi.URLParam(r, "which")
	ts, ok, err := a.History.LatestMotion(r.Context(), which)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "no motion recorded", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, MotionResponse{Which: which, Timestamp: ts})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "err", err)
	}
}
