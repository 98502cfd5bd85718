package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrWong99/sonichunter/internal/catalog"
	"github.com/MrWong99/sonichunter/internal/health"
	"github.com/MrWong99/sonichunter/internal/search"
)

// registerStatus adds GET /status, answering with the catalog counters.
func registerStatus(mux *http.ServeMux, c catalog.Counter) {
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		st, err := catalog.ReadStats(r.Context(), c)
		if err != nil {
			slog.Warn("status: read stats", "err", err)
			health.WriteJSON(w, http.StatusServiceUnavailable, errorBody{Error: "catalog unavailable"})
			return
		}
		health.WriteJSON(w, http.StatusOK, st)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

type trackBody struct {
	Artist          string `json:"artist"`
	Title           string `json:"title"`
	DurationSeconds int    `json:"duration_seconds"`
	ResolvedRef     string `json:"resolved_ref"`
}

type searchBody struct {
	Query    string      `json:"query"`
	Tracks   []trackBody `json:"tracks"`
	CacheHit bool        `json:"cache_hit"`
	Degraded bool        `json:"degraded,omitempty"`
}

// registerSearch adds GET /search?q=&limit=. The Cache-Control max-age
// follows the result's client TTL, so degraded answers expire quickly.
func registerSearch(mux *http.ServeMux, s *search.Service) {
	mux.HandleFunc("GET /search", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				health.WriteJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
				return
			}
			limit = n
		}

		res := s.Search(r.Context(), q, limit)
		body := searchBody{
			Query:    q,
			Tracks:   make([]trackBody, 0, len(res.Tracks)),
			CacheHit: res.CacheHit,
			Degraded: res.Degraded,
		}
		for _, t := range res.Tracks {
			body.Tracks = append(body.Tracks, trackBody{
				Artist:          t.Artist,
				Title:           t.Title,
				DurationSeconds: t.DurationSeconds,
				ResolvedRef:     t.ResolvedRef,
			})
		}

		w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", int(res.ClientTTL.Seconds())))
		status := http.StatusOK
		if res.Degraded {
			status = http.StatusServiceUnavailable
		}
		health.WriteJSON(w, status, body)
	})
}
