package server

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/precinct-map/internal/ingest"
	"github.com/sells-group/precinct-map/internal/metric"
	"github.com/sells-group/precinct-map/internal/precinct"
	"github.com/sells-group/precinct-map/internal/render"
	"github.com/sells-group/precinct-map/internal/resilience"
	"github.com/sells-group/precinct-map/pkg/overpass"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"precincts":   s.mgr.Set().Len(),
		"full_loaded": s.mgr.FullLoaded(),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	catalog := s.mgr.Catalog()
	type entry struct {
		metric.Metric
		Strategy string `json:"strategy"`
	}
	out := make([]entry, 0, len(catalog.Metrics()))
	for _, m := range catalog.Metrics() {
		out = append(out, entry{Metric: m, Strategy: m.Scheme().Static.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics": out,
		"chunks":  catalog.Chunks(),
	})
}

// renderOptions reads ?dynamic= and ?bbox=.
func renderOptions(r *http.Request) (render.Options, error) {
	var opts render.Options
	q := r.URL.Query()
	if d := q.Get("dynamic"); d != "" {
		dynamic, err := strconv.ParseBool(d)
		if err != nil {
			return opts, eris.New("server: dynamic must be a boolean")
		}
		opts.Dynamic = dynamic
	}
	if b := q.Get("bbox"); b != "" {
		vp, err := precinct.ParseViewport(b)
		if err != nil {
			return opts, err
		}
		if err := vp.Validate(); err != nil {
			return opts, err
		}
		opts.Viewport = &vp
	}
	return opts, nil
}

func (s *Server) metricParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := chi.URLParam(r, "metric")
	if _, ok := s.mgr.Catalog().Get(key); !ok {
		writeError(w, http.StatusNotFound, "unknown_metric", "unknown metric "+strconv.Quote(key))
		return "", false
	}
	return key, true
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	key, ok := s.metricParam(w, r)
	if !ok {
		return
	}
	opts, err := renderOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var out *render.Map
	err = s.mgr.View(func(set *precinct.Set) error {
		var err error
		out, err = render.Render(set, s.mgr.Catalog(), key, opts)
		return err
	})
	if errors.Is(err, ingest.ErrNotLoaded) {
		writeError(w, http.StatusServiceUnavailable, "not_loaded", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "render_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLegend(w http.ResponseWriter, r *http.Request) {
	key, ok := s.metricParam(w, r)
	if !ok {
		return
	}
	opts, err := renderOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var resp map[string]any
	err = s.mgr.View(func(set *precinct.Set) error {
		m, scale, n, err := render.Classify(set, s.mgr.Catalog(), key, opts)
		if err != nil {
			return err
		}
		resp = map[string]any{
			"metric":   m.Key,
			"title":    m.LegendTitle,
			"strategy": scale.Strategy.String(),
			"breaks":   scale.Breaks,
			"values":   n,
			"legend":   render.Legend(m, scale),
		}
		return nil
	})
	if errors.Is(err, ingest.ErrNotLoaded) {
		writeError(w, http.StatusServiceUnavailable, "not_loaded", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "classify_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrecinct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	active := r.URL.Query().Get("metric")

	var (
		info  render.InfoPanel
		found bool
	)
	err := s.mgr.View(func(set *precinct.Set) error {
		p, ok := set.Get(id)
		if ok {
			info, found = render.Info(p, s.mgr.Catalog(), active), true
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_loaded", err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "unknown precinct "+strconv.Quote(id))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleChunks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.ChunkStatus())
}

func (s *Server) handleFetchChunk(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if _, ok := s.mgr.Catalog().Chunk(key); !ok {
		writeError(w, http.StatusNotFound, "unknown_chunk", "unknown chunk "+strconv.Quote(key))
		return
	}
	if s.mgr.Set() == nil {
		writeError(w, http.StatusServiceUnavailable, "not_loaded", ingest.ErrNotLoaded.Error())
		return
	}
	if s.mgr.FullLoaded() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "chunk": key, "reason": ingest.StatusFull})
		return
	}
	fetch, err := s.mgr.StartChunk(key)
	switch {
	case errors.Is(err, ingest.ErrFetchRunning):
		writeError(w, http.StatusConflict, "already_running", err.Error())
		return
	case errors.Is(err, ingest.ErrNotLoaded):
		writeError(w, http.StatusServiceUnavailable, "not_loaded", err.Error())
		return
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, "fetch_unavailable", err.Error())
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := fetch.Run(s.ctx, nil)
		if err != nil {
			zap.L().Error("server: chunk fetch failed", zap.String("chunk", key), zap.Error(err))
			return
		}
		zap.L().Info("server: chunk fetch complete",
			zap.String("chunk", key),
			zap.Int("fetched", res.Fetched),
			zap.Int("failed", res.Failed),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "chunk": key})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := ingest.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	var buf bytes.Buffer
	rec, err := s.mgr.Export(r.Context(), &buf, format)
	if errors.Is(err, ingest.ErrNotLoaded) {
		writeError(w, http.StatusServiceUnavailable, "not_loaded", err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}

	name := "precinct_data_" + time.Now().UTC().Format("2006-01-02") + "." + format
	w.Header().Set("Content-Type", ingest.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("X-Export-ID", rec.ID)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if s.overlays == nil {
		writeError(w, http.StatusServiceUnavailable, "overlays_disabled", "overlays are not configured")
		return
	}
	kind, err := overpass.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_kind", err.Error())
		return
	}
	bbox := strings.TrimSpace(r.URL.Query().Get("bbox"))
	if bbox == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "bbox is required")
		return
	}
	vp, err := precinct.ParseViewport(bbox)
	if err == nil {
		err = vp.Validate()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	res, err := s.overlays.Load(r.Context(), kind, vp)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, resilience.ErrOpen) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "overlay_failed", err.Error())
		return
	}

	if res.Cached {
		w.Header().Set("X-Cache", "hit")
	} else {
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":       res.Kind,
		"key":        res.Key,
		"cached":     res.Cached,
		"fetched_at": res.FetchedAt,
		"features":   res.Collection(),
	})
}

func (s *Server) handleOverlayStats(w http.ResponseWriter, r *http.Request) {
	if s.overlays == nil {
		writeError(w, http.StatusServiceUnavailable, "overlays_disabled", "overlays are not configured")
		return
	}
	st, err := s.overlays.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stats_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleOverlayClear(w http.ResponseWriter, r *http.Request) {
	if s.overlays == nil {
		writeError(w, http.StatusServiceUnavailable, "overlays_disabled", "overlays are not configured")
		return
	}
	if err := s.overlays.Clear(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "clear_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
