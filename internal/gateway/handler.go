package gateway

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"habitat/internal/bus"
	"habitat/internal/ingest"
	"habitat/internal/logger"
	"habitat/pkg/errors"
	"habitat/pkg/models"
)

// Bus is the part of bus.Server the gateway exposes over HTTP.
type Bus interface {
	State() bus.State
	String() string
	MessageCount() uint64
	QueueLen() int
	Describe() []bus.SinkInfo
	Load(name string) error
	Unload(name string) error
	Reload(name string) error
}

type Submitter interface {
	Submit(ctx context.Context, event models.UploadEvent, remoteAddr string, source string) (*ingest.Result, error)
}

// CacheSizer reports how many upload keys the deduplication cache holds.
type CacheSizer interface {
	CacheSize(ctx context.Context) (int, error)
}

type UploadResponse struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

type StatusResponse struct {
	State        string         `json:"state"`
	Summary      string         `json:"summary"`
	MessageCount uint64         `json:"message_count"`
	QueueLength  int            `json:"queue_length"`
	Sinks        []bus.SinkInfo `json:"sinks"`
	DedupCache   *int           `json:"dedup_cache_size,omitempty"`
}

type BaseHandler struct {
	Logger logger.Logger
}

func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	status := errors.ToHTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	} else {
		h.Logger.DebugwCtx(c.Request.Context(), "Request rejected", "error", err, "path", c.Request.URL.Path)
	}

	c.JSON(status, errors.ToErrorResponse(err))
}

type Handler struct {
	BaseHandler
	bus    Bus
	ingest Submitter
	cache  CacheSizer
}

// NewHandler accepts a nil cache when deduplication is disabled.
func NewHandler(b Bus, submitter Submitter, cache CacheSizer, log logger.Logger) *Handler {
	return &Handler{
		BaseHandler: BaseHandler{Logger: log},
		bus:         b,
		ingest:      submitter,
		cache:       cache,
	}
}

// RegisterRoutes mounts the API. ingestion wraps uploads; admin wraps the
// endpoints that change which sinks are loaded.
func (h *Handler) RegisterRoutes(router *gin.Engine, ingestion, admin []gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		messages := v1.Group("/messages", ingestion...)
		{
			messages.POST("", h.Upload)
		}

		v1.GET("/status", h.Status)
		v1.GET("/sinks", h.ListSinks)

		sinks := v1.Group("/sinks", admin...)
		{
			sinks.POST("/:name", h.LoadSink)
			sinks.DELETE("/:name", h.UnloadSink)
			sinks.POST("/:name/reload", h.ReloadSink)
		}
	}
}

// Upload godoc
// @Summary      Upload a message
// @Description  Submit received telemetry or listener information to the message bus
// @Tags         messages
// @Accept       json
// @Produce      json
// @Param        message  body      models.UploadEvent  true  "Upload"
// @Success      202      {object}  UploadResponse
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      503      {object}  errors.ErrorResponse
// @Router       /messages [post]
func (h *Handler) Upload(c *gin.Context) {
	var event models.UploadEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		h.HandleError(c, errors.ErrValidation.WithCause(err))
		return
	}

	// The sender is whoever connected, whatever the body claims.
	event.IP = ""
	result, err := h.ingest.Submit(c.Request.Context(), event, c.ClientIP(), "http")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, UploadResponse{
		ID:        result.Message.ID(),
		Duplicate: result.Duplicate,
	})
}

// Status godoc
// @Summary      Message server status
// @Tags         status
// @Produce      json
// @Success      200  {object}  StatusResponse
// @Router       /status [get]
func (h *Handler) Status(c *gin.Context) {
	resp := StatusResponse{
		State:        h.bus.State().String(),
		Summary:      h.bus.String(),
		MessageCount: h.bus.MessageCount(),
		QueueLength:  h.bus.QueueLen(),
		Sinks:        h.bus.Describe(),
	}

	if h.cache != nil {
		size, err := h.cache.CacheSize(c.Request.Context())
		if err != nil {
			h.Logger.WarnwCtx(c.Request.Context(), "Failed to read deduplication cache size", "error", err)
		} else {
			resp.DedupCache = &size
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListSinks godoc
// @Summary      List loaded sinks
// @Tags         sinks
// @Produce      json
// @Success      200  {array}  bus.SinkInfo
// @Router       /sinks [get]
func (h *Handler) ListSinks(c *gin.Context) {
	c.JSON(http.StatusOK, h.bus.Describe())
}

// LoadSink godoc
// @Summary      Load a sink
// @Description  Construct the registered sink and attach it to the message server
// @Tags         sinks
// @Produce      json
// @Param        name  path      string  true  "Registered sink name or alias"
// @Success      201   {array}   bus.SinkInfo
// @Failure      401   {object}  errors.ErrorResponse
// @Failure      403   {object}  errors.ErrorResponse
// @Failure      404   {object}  errors.ErrorResponse
// @Failure      409   {object}  errors.ErrorResponse
// @Failure      422   {object}  errors.ErrorResponse
// @Security     BearerAuth
// @Router       /sinks/{name} [post]
func (h *Handler) LoadSink(c *gin.Context) {
	if err := h.bus.Load(c.Param("name")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.bus.Describe())
}

// UnloadSink godoc
// @Summary      Unload a sink
// @Tags         sinks
// @Param        name  path  string  true  "Sink name or alias"
// @Success      204   "No Content"
// @Failure      404   {object}  errors.ErrorResponse
// @Security     BearerAuth
// @Router       /sinks/{name} [delete]
func (h *Handler) UnloadSink(c *gin.Context) {
	if err := h.bus.Unload(c.Param("name")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ReloadSink godoc
// @Summary      Reload a sink
// @Description  Replace a loaded sink with a fresh instance of its current registration
// @Tags         sinks
// @Produce      json
// @Param        name  path      string  true  "Sink name or alias"
// @Success      200   {array}   bus.SinkInfo
// @Failure      404   {object}  errors.ErrorResponse
// @Security     BearerAuth
// @Router       /sinks/{name}/reload [post]
func (h *Handler) ReloadSink(c *gin.Context) {
	if err := h.bus.Reload(c.Param("name")); err != nil {
		h.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.bus.Describe())
}
