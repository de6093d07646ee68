package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lead-scanner/internal/adapter"
	"github.com/lead-scanner/internal/category"
	apperrors "github.com/lead-scanner/internal/errors"
	"github.com/lead-scanner/internal/geo"
	"github.com/lead-scanner/internal/zone"
)

type zoneRequest struct {
	Bounds   geo.Bounds `json:"bounds"`
	Category string     `json:"category"`
}

type tileErrorView struct {
	Index    int        `json:"index"`
	Bounds   geo.Bounds `json:"bounds"`
	Attempts int        `json:"attempts"`
	Slow     bool       `json:"slow"`
	Error    string     `json:"error"`
}

type zoneSearchResponse struct {
	Assessment *zone.Assessment  `json:"assessment"`
	Elements   []adapter.Element `json:"elements"`
	Count      int               `json:"count"`
	Tiles      int               `json:"tiles"`
	TileErrors []tileErrorView   `json:"tileErrors"`
	Category   category.Category `json:"category"`
}

type zoneProgressLine struct {
	Type       string `json:"type"`
	TilesDone  int    `json:"tilesDone"`
	TilesTotal int    `json:"tilesTotal"`
	Count      int    `json:"count"`
	Failed     int    `json:"failed"`
}

// handleValidateZone handles POST /api/zones/validate
func (s *Server) handleValidateZone(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	assessment, err := zone.Validate(req.Bounds, s.config.ZoneLimits)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, assessment)
}

// handleZoneSearch handles POST /api/zones/search. With ?stream=true the
// answer is newline-delimited JSON: one progress line per finished batch,
// then the result.
func (s *Server) handleZoneSearch(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	cat, ok := category.Resolve(req.Category)
	if !ok {
		respondError(w, r, apperrors.NewInvalidParameterError("category", fmt.Sprintf("unknown category %q", req.Category)))
		return
	}
	// refuse malformed areas before committing to a streamed answer
	if _, err := zone.Validate(req.Bounds, s.config.ZoneLimits); err != nil {
		respondError(w, r, err)
		return
	}

	stream := r.URL.Query().Get("stream") == "true"
	flusher, canFlush := w.(http.Flusher)
	var enc *json.Encoder
	var onBatch func(zone.Progress)
	if stream {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		enc = json.NewEncoder(w)
		onBatch = func(p zone.Progress) {
			_ = enc.Encode(zoneProgressLine{
				Type:       "progress",
				TilesDone:  p.TilesDone,
				TilesTotal: p.TilesTotal,
				Count:      len(p.Elements),
				Failed:     p.Failed,
			})
			if canFlush {
				flusher.Flush()
			}
		}
	}

	result, err := s.zones.Retrieve(r.Context(), req.Bounds, cat, onBatch)
	if err != nil {
		if !stream {
			respondError(w, r, err)
			return
		}
		svcErr := apperrors.Categorize(err).ToServiceError()
		_ = enc.Encode(map[string]interface{}{"type": "error", "error": svcErr})
		return
	}

	resp := zoneSearchResponse{
		Assessment: result.Assessment,
		Elements:   result.Elements,
		Count:      len(result.Elements),
		Tiles:      result.Tiles,
		TileErrors: make([]tileErrorView, 0, len(result.TileErrors)),
		Category:   cat,
	}
	if resp.Elements == nil {
		resp.Elements = []adapter.Element{}
	}
	for _, te := range result.TileErrors {
		resp.TileErrors = append(resp.TileErrors, tileErrorView{
			Index:    te.Index,
			Bounds:   te.Bounds,
			Attempts: te.Attempts,
			Slow:     te.Slow,
			Error:    te.Error(),
		})
	}

	if !stream {
		respondJSON(w, http.StatusOK, resp)
		return
	}
	_ = enc.Encode(struct {
		Type string `json:"type"`
		zoneSearchResponse
	}{Type: "result", zoneSearchResponse: resp})
}
