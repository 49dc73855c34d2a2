package http

import (
	"errors"
	"fmt"
	"image"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"bigview/internal/cache"
	"bigview/internal/image_renderer"
	"bigview/internal/logger"
	"bigview/internal/viewer"
)

type sizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type scrollRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type zoomRequest struct {
	Phase string  `json:"phase"`
	Scale float64 `json:"scale"`
}

func (h *Handlers) HandleOpenView(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.asset(w, r)
	if !ok {
		return
	}
	var req sizeRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.Width <= 0 || req.Height <= 0 {
		http.Error(w, "Viewport size must be positive", http.StatusBadRequest)
		return
	}

	session, err := h.views.Open(r.Context(), asset, image.Pt(req.Width, req.Height))
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}
	state, err := session.State()
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

func (h *Handlers) HandleViewState(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeState(w, r)(session.State())
}

func (h *Handlers) HandleCloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.views.Close(mux.Vars(r)["id"]); err != nil {
		h.viewError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) HandleViewLayout(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req sizeRequest
	if !readJSON(w, r, &req) {
		return
	}
	h.writeState(w, r)(session.Layout(image.Pt(req.Width, req.Height)))
}

func (h *Handlers) HandleViewScroll(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req scrollRequest
	if !readJSON(w, r, &req) {
		return
	}
	h.writeState(w, r)(session.Scroll(image.Pt(req.X, req.Y)))
}

func (h *Handlers) HandleViewZoom(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	var req zoomRequest
	if !readJSON(w, r, &req) {
		return
	}
	h.writeState(w, r)(session.Zoom(req.Phase, req.Scale))
}

func (h *Handlers) HandleViewTiles(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	tiles, err := session.Tiles()
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	state, err := session.State()
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state": state,
		"tiles": tiles,
	})
}

func (h *Handlers) HandleViewTile(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	lod, _ := strconv.Atoi(vars["lod"])
	col, _ := strconv.Atoi(vars["col"])
	row, _ := strconv.Atoi(vars["row"])
	format, ok := parseFormat(vars["format"])
	if !ok {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	state, err := session.State()
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	if lod != state.LOD {
		http.Error(w, fmt.Sprintf("Stale level of detail %d, current is %d", lod, state.LOD), http.StatusConflict)
		return
	}

	// Tiles covering a whole cell look the same wherever the viewport is, so
	// only those are cached.
	cell := image_renderer.Cell(col, row, state.TileSize).Intersect(image.Rect(0, 0, state.ContentWidth, state.ContentHeight))
	visible := image.Rect(state.OffsetX, state.OffsetY, state.OffsetX+state.ViewportWidth, state.OffsetY+state.ViewportHeight)
	key := cache.TileKey{
		ImageKey: session.Asset.Key,
		Scale:    state.Scale,
		LOD:      lod,
		Col:      col,
		Row:      row,
		Format:   format,
	}
	cacheable := !cell.Empty() && cell.In(visible)
	tag := etag(key)

	if cacheable {
		if match := r.Header.Get("If-None-Match"); match == tag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if data, ok := h.tileCache.Get(key); ok {
			h.writeTile(w, r, format, cell, tag, data)
			return
		}
	}

	tile, err := session.Tile(col, row)
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	data, err := encode(tile.Bitmap, format)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to encode tile", zap.Error(err))
		http.Error(w, "Failed to encode tile", http.StatusInternalServerError)
		return
	}

	if cacheable && tile.Rect == cell {
		h.tileCache.Set(key, data)
	} else {
		tag = ""
	}
	h.writeTile(w, r, format, tile.Rect, tag, data)
}

func (h *Handlers) writeTile(w http.ResponseWriter, r *http.Request, format string, rect image.Rectangle, tag string, data []byte) {
	if tag != "" {
		w.Header().Set("ETag", tag)
		w.Header().Set("Cache-Control", "private, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Tile-Rect", fmt.Sprintf("%d,%d,%d,%d", rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy()))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(data)
}

func (h *Handlers) HandleViewFrame(w http.ResponseWriter, r *http.Request) {
	session, ok := h.session(w, r)
	if !ok {
		return
	}
	format, ok := parseFormat(mux.Vars(r)["format"])
	if !ok {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	frame, err := session.Frame()
	if err != nil {
		h.viewError(w, r, err)
		return
	}
	data, err := encode(frame, format)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to encode frame", zap.Error(err))
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*viewer.Session, bool) {
	session, err := h.views.Get(mux.Vars(r)["id"])
	if err != nil {
		h.viewError(w, r, err)
		return nil, false
	}
	return session, true
}

func (h *Handlers) writeState(w http.ResponseWriter, r *http.Request) func(viewer.State, error) {
	return func(state viewer.State, err error) {
		if err != nil {
			h.viewError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	}
}

func (h *Handlers) viewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, viewer.ErrSessionNotFound), errors.Is(err, viewer.ErrSessionClosed):
		http.Error(w, "View not found", http.StatusNotFound)
	case errors.Is(err, image_renderer.ErrInvalidPhase):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, image_renderer.ErrTileHidden):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		logger.FromContext(r.Context()).Error("View operation failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
