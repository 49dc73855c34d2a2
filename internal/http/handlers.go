package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bigview/internal/cache"
	"bigview/internal/config"
	"bigview/internal/decoder"
	"bigview/internal/image_list"
	"bigview/internal/logger"
	"bigview/internal/thumbnail"
	"bigview/internal/viewer"
)

type Handlers struct {
	config    *config.Config
	logger    *zap.Logger
	library   *image_list.Library
	pipeline  *thumbnail.Pipeline
	decoder   decoder.Decoder
	views     *viewer.Manager
	tileCache cache.TileCache
}

func New(config *config.Config, logger *zap.Logger, library *image_list.Library, pipeline *thumbnail.Pipeline, dec decoder.Decoder, views *viewer.Manager, tileCache cache.TileCache) *Handlers {
	return &Handlers{
		config:    config,
		logger:    logger,
		library:   library,
		pipeline:  pipeline,
		decoder:   dec,
		views:     views,
		tileCache: tileCache,
	}
}

// Router registers every route. The returned handler still needs the CORS
// and request logging middleware around it.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.MetricsMiddleware)

	r.HandleFunc("/healthz", h.HandleHealthz).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/images", h.HandleImages).Methods("GET")
	api.HandleFunc("/images/refresh", h.HandleRefresh).Methods("POST")
	api.HandleFunc("/images/{key}/meta", h.HandleImageMeta).Methods("GET")
	api.HandleFunc("/images/{key}/thumbnail", h.HandleThumbnail).Methods("GET", "HEAD")
	api.HandleFunc("/images/{key}/views", h.HandleOpenView).Methods("POST")

	api.HandleFunc("/views/{id}", h.HandleViewState).Methods("GET")
	api.HandleFunc("/views/{id}", h.HandleCloseView).Methods("DELETE")
	api.HandleFunc("/views/{id}/layout", h.HandleViewLayout).Methods("POST")
	api.HandleFunc("/views/{id}/scroll", h.HandleViewScroll).Methods("POST")
	api.HandleFunc("/views/{id}/zoom", h.HandleViewZoom).Methods("POST")
	api.HandleFunc("/views/{id}/tiles", h.HandleViewTiles).Methods("GET")
	api.HandleFunc("/views/{id}/tiles/{lod:[0-9]+}/{col:[0-9]+}/{row:[0-9]+}.{format}", h.HandleViewTile).Methods("GET", "HEAD")
	api.HandleFunc("/views/{id}/frame.{format}", h.HandleViewFrame).Methods("GET")

	return r
}

// Handler is the router wrapped in the CORS and request logging middleware.
func (h *Handlers) Handler() http.Handler {
	return h.CORSMiddleware(h.RequestLoggingMiddleware(h.Router()))
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type imageEntry struct {
	image_list.Asset
	Cached bool `json:"cached"`
}

func (h *Handlers) HandleImages(w http.ResponseWriter, r *http.Request) {
	assets := h.library.Assets()
	images := make([]imageEntry, 0, len(assets))
	for _, a := range assets {
		_, cached := h.pipeline.Cached(a.Key)
		images = append(images, imageEntry{Asset: a, Cached: cached})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loading": h.library.Loading(),
		"images":  images,
	})
}

func (h *Handlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	started := h.library.Refresh()
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"started": started,
	})
}

func (h *Handlers) HandleImageMeta(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.asset(w, r)
	if !ok {
		return
	}

	size, err := h.decoder.Dimensions(asset.SourcePath)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                asset.Name,
		"key":                 asset.Key,
		"bytes":               asset.Bytes,
		"width":               size.X,
		"height":              size.Y,
		"thumbnail_threshold": h.pipeline.Threshold(),
		"tile_size":           h.config.TileSize,
		"levels_of_detail":    h.config.LevelsOfDetail,
	})
}

func (h *Handlers) HandleThumbnail(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.asset(w, r)
	if !ok {
		return
	}
	format, ok := parseFormat(r.URL.Query().Get("format"))
	if !ok {
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	bitmap, err := h.pipeline.Fetch(r.Context(), asset)
	if err != nil {
		h.pipelineError(w, r, err)
		return
	}

	data, err := encode(bitmap, format)
	if err != nil {
		logger.FromContext(r.Context()).Error("Failed to encode thumbnail", zap.Error(err))
		http.Error(w, "Failed to encode image", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(format))
	w.Header().Set("Cache-Control", "no-cache")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Write(data)
}

func (h *Handlers) asset(w http.ResponseWriter, r *http.Request) (image_list.Asset, bool) {
	key := mux.Vars(r)["key"]
	asset, ok := h.library.AssetByKey(key)
	if !ok {
		http.Error(w, "Image not found", http.StatusNotFound)
		return image_list.Asset{}, false
	}
	return asset, true
}

// pipelineError maps decode failures onto HTTP statuses.
func (h *Handlers) pipelineError(w http.ResponseWriter, r *http.Request, err error) {
	reason := thumbnail.Reason(err)
	logger.FromContext(r.Context()).Warn("Image unavailable", zap.String("reason", reason), zap.Error(err))

	switch {
	case errors.Is(err, decoder.ErrSourceUnreadable):
		http.Error(w, "Image unreadable", http.StatusNotFound)
	case errors.Is(err, decoder.ErrMetadataUnavailable), errors.Is(err, decoder.ErrDecodeFailure):
		http.Error(w, "Image cannot be decoded: "+reason, http.StatusUnprocessableEntity)
	case r.Context().Err() != nil:
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Image unavailable", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}
