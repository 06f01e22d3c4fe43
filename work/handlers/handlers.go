// Package handlers exposes the catalog and the playback surfaces over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kptv-player/work/dispatch"
	"kptv-player/work/filter"
	"kptv-player/work/logger"
	"kptv-player/work/middleware"
	"kptv-player/work/player"
	"kptv-player/work/surface"
	"kptv-player/work/types"
	"kptv-player/work/utils"
)

var startTime = time.Now()

// Catalog is the part of catalog.Builder the API reads and refreshes.
type Catalog interface {
	Ingest(ctx context.Context) ([]*types.ContentEntry, error)
	Ingesting() bool
	IngestedAt() time.Time
	Lookup(id string) (*types.ContentEntry, bool)
	Groups() []string
	Find(q filter.Query) ([]*types.ContentEntry, error)
}

type catalogResponse struct {
	IngestedAt time.Time             `json:"ingestedAt"`
	Ingesting  bool                  `json:"ingesting"`
	Count      int                   `json:"count"`
	Entries    []*types.ContentEntry `json:"entries"`
}

type surfaceResponse struct {
	Surface      string                   `json:"surface"`
	Session      *player.Snapshot         `json:"session,omitempty"`
	Presentation *types.PresentationState `json:"presentation,omitempty"`
}

// StatsResponse summarizes the daemon for monitoring.
type StatsResponse struct {
	CatalogEntries int            `json:"catalogEntries"`
	CatalogGroups  int            `json:"catalogGroups"`
	IngestedAt     time.Time      `json:"ingestedAt"`
	Ingesting      bool           `json:"ingesting"`
	ActiveSessions int            `json:"activeSessions"`
	SessionStates  map[string]int `json:"sessionStates"`
	TotalStalls    int            `json:"totalStalls"`
	Uptime         string         `json:"uptime"`
	MemoryUsage    string         `json:"memoryUsage"`
	Goroutines     int            `json:"goroutines"`
}

type playResponse struct {
	Action  dispatch.Action     `json:"action"`
	Session *player.Snapshot    `json:"session,omitempty"`
	Entry   *types.ContentEntry `json:"entry,omitempty"`
}

// SetupRoutes registers the control API on router.
func SetupRoutes(router *mux.Router, cat Catalog, d *dispatch.Dispatcher) {
	router.Use(middleware.Logging, middleware.Gzip)

	router.HandleFunc("/catalog", HandleCatalog(cat)).Methods("GET")
	router.HandleFunc("/catalog/groups", HandleGroups(cat)).Methods("GET")
	router.HandleFunc("/catalog/refresh", HandleRefresh(cat)).Methods("POST")
	router.HandleFunc("/catalog/{id}", HandleEntry(cat)).Methods("GET")

	router.HandleFunc("/surfaces/{surface}", HandleSurface(d)).Methods("GET")
	router.HandleFunc("/surfaces/{surface}", HandleClose(d)).Methods("DELETE")
	router.HandleFunc("/surfaces/{surface}/play/{id}", HandlePlayContent(cat, d)).Methods("POST")
	router.HandleFunc("/surfaces/{surface}/level/{index:[0-9]+}", HandleSetLevel(d)).Methods("POST")
	router.HandleFunc("/surfaces/{surface}/pause", HandlePause(d)).Methods("POST")
	router.HandleFunc("/surfaces/{surface}/resume", HandleResume(d)).Methods("POST")
	router.HandleFunc("/surfaces/{surface}/dismiss", HandleDismiss(d)).Methods("POST")

	router.HandleFunc("/stats", HandleStats(cat, d)).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// HandleCatalog lists the catalog, narrowed by the type, group, q and exclude query
// parameters.
func HandleCatalog(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := r.URL.Query()
		entries, err := cat.Find(filter.Query{
			Type:    params.Get("type"),
			Group:   params.Get("group"),
			Include: params.Get("q"),
			Exclude: params.Get("exclude"),
		})
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if entries == nil {
			entries = []*types.ContentEntry{}
		}
		writeJSON(w, http.StatusOK, catalogResponse{
			IngestedAt: cat.IngestedAt(),
			Ingesting:  cat.Ingesting(),
			Count:      len(entries),
			Entries:    entries,
		})
	}
}

// HandleGroups returns the distinct group labels of the catalog in playlist order.
// An empty catalog yields an empty array, never null.
func HandleGroups(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groups := cat.Groups()
		if groups == nil {
			groups = []string{}
		}
		writeJSON(w, http.StatusOK, groups)
	}
}

// HandleEntry returns a single catalog entry by ID, or 404 when the current catalog
// does not contain it.
func HandleEntry(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, ok := cat.Lookup(mux.Vars(r)["id"])
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("content entry not found"))
			return
		}
		writeJSON(w, http.StatusOK, entry)
	}
}

// HandleRefresh runs an ingestion and replies once it finishes. A refresh while another
// is running is rejected with 409.
func HandleRefresh(cat Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := cat.Ingest(r.Context())
		if err != nil {
			var ingestErr *types.IngestionError
			switch {
			case errors.Is(err, types.ErrIngestionInProgress):
				writeError(w, http.StatusConflict, err)
			case errors.As(err, &ingestErr):
				writeError(w, http.StatusBadGateway, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"count":      len(entries),
			"ingestedAt": cat.IngestedAt(),
		})
	}
}

// HandlePlayContent dispatches the catalog entry {id} to surface {surface}.
//
// A series container answers with the open-container action and the entry itself, a
// playable entry with the snapshot of the session that replaced the surface's previous
// one. Unknown entries yield 404, entries without a playable source 422 and malformed
// surface ids 400.
func HandlePlayContent(cat Catalog, d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		entry, ok := cat.Lookup(vars["id"])
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("content entry not found"))
			return
		}

		// sessions outlive the request
		res, err := d.PlayContent(context.WithoutCancel(r.Context()), vars["surface"], entry)
		if err != nil {
			var unplayable *types.ContentUnplayableError
			switch {
			case errors.As(err, &unplayable):
				writeError(w, http.StatusUnprocessableEntity, err)
			case errors.Is(err, surface.ErrInvalidID):
				writeError(w, http.StatusBadRequest, err)
			default:
				writeError(w, http.StatusInternalServerError, err)
			}
			return
		}

		resp := playResponse{Action: res.Action}
		if res.Session != nil {
			snap := res.Session.Snapshot()
			resp.Session = &snap
		} else {
			resp.Entry = entry
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleStats reports catalog, session and process statistics.
func HandleStats(cat Catalog, d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all, err := cat.Find(filter.Query{})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		stats := StatsResponse{
			CatalogEntries: len(all),
			CatalogGroups:  len(cat.Groups()),
			IngestedAt:     cat.IngestedAt(),
			Ingesting:      cat.Ingesting(),
			SessionStates:  make(map[string]int),
			Uptime:         utils.FormatDuration(time.Since(startTime)),
			Goroutines:     runtime.NumGoroutine(),
		}
		for _, snap := range d.Snapshots() {
			stats.ActiveSessions++
			stats.SessionStates[snap.State.String()]++
			stats.TotalStalls += snap.StallCount
		}

		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		stats.MemoryUsage = utils.FormatBytes(int64(m.Alloc))

		writeJSON(w, http.StatusOK, stats)
	}
}

// HandleSurface reports the session and presentation state of a surface, or 404 when
// nothing is playing on it.
func HandleSurface(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["surface"]
		s, ok := d.Session(id)
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("no session on surface"))
			return
		}
		resp := surfaceResponse{Surface: id}
		snap := s.Snapshot()
		resp.Session = &snap
		if ps, ok := d.Presentation(id); ok {
			resp.Presentation = &ps
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleClose tears down the surface's session and answers 204, or 404 when the surface
// has no session.
func HandleClose(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Close(mux.Vars(r)["surface"]) {
			writeError(w, http.StatusNotFound, errors.New("no session on surface"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleDismiss handles a user dismissal of the surface: immersive presentation is
// left first, then the session is closed. It answers like HandleClose.
func HandleDismiss(d *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !d.Dismiss(mux.Vars(r)["surface"]) {
			writeError(w, http.StatusNotFound, errors.New("no session on surface"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleSetLevel pins the session to quality level {index}. Sessions in native
// playback have no levels and answer 422.
func HandleSetLevel(d *dispatch.Dispatcher) http.HandlerFunc {
	return withSession(d, func(w http.ResponseWriter, r *http.Request, s *player.Session) {
		index, err := strconv.Atoi(mux.Vars(r)["index"])
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := s.SetLevel(index); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

// HandlePause pauses the surface's session and returns its snapshot.
func HandlePause(d *dispatch.Dispatcher) http.HandlerFunc {
	return withSession(d, func(w http.ResponseWriter, r *http.Request, s *player.Session) {
		if err := s.Pause(); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

// HandleResume resumes a paused session and returns its snapshot.
func HandleResume(d *dispatch.Dispatcher) http.HandlerFunc {
	return withSession(d, func(w http.ResponseWriter, r *http.Request, s *player.Session) {
		if err := s.Play(); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Snapshot())
	})
}

// withSession resolves the {surface} session and hands it to next, answering 404 when
// there is none.
func withSession(d *dispatch.Dispatcher, next func(http.ResponseWriter, *http.Request, *player.Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := d.Session(mux.Vars(r)["surface"])
		if !ok {
			writeError(w, http.StatusNotFound, errors.New("no session on surface"))
			return
		}
		next(w, r, s)
	}
}

// writeSessionError maps session errors: 409 once closed, 422 for anything the
// current state does not allow.
func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, types.ErrSessionClosed) {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeError(w, http.StatusUnprocessableEntity, err)
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
