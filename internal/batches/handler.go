package batches

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/shared/server/middleware"
	"resume-ingest/internal/shared/server/respond"
)

// multipart framing allowance on top of the file bytes
const formOverhead = 1 << 20

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches batch routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/batches", h.submit)
	rg.GET("/batches/:batchId", h.snapshot)
	rg.POST("/batches/:batchId/cancel", h.cancel)
}

func (h *Handler) submit(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	limits := h.Svc.Limits()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(limits.MaxFiles)*limits.MaxFileBytes+formOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "multipart form with files is required", nil)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "files is required", nil)
		return
	}

	uploads := make([]Upload, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, "unable to read file", nil)
			return
		}
		opened = append(opened, f)
		uploads = append(uploads, Upload{Name: fh.Filename, MimeType: fh.Header.Get("Content-Type"), Body: f})
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	batchID, err := h.Svc.Submit(ctx, userID, uploads)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, respond.CodeValidation, err.Error(), nil)
		case errors.Is(err, ErrUnavailable):
			respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, "batch processing is unavailable right now", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to submit batch", nil)
		}
		return
	}

	c.Set(middleware.BatchIDKey, batchID)
	respond.Accepted(c, gin.H{"batchId": batchID})
}

func (h *Handler) snapshot(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	batchID := c.Param("batchId")
	c.Set(middleware.BatchIDKey, batchID)

	view, err := h.Svc.Snapshot(c.Request.Context(), userID, batchID)
	if err != nil {
		h.fail(c, err, "failed to load batch")
		return
	}
	respond.OK(c, view)
}

func (h *Handler) cancel(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	batchID := c.Param("batchId")
	c.Set(middleware.BatchIDKey, batchID)

	if err := h.Svc.Cancel(c.Request.Context(), userID, batchID); err != nil {
		h.fail(c, err, "failed to cancel batch")
		return
	}
	respond.Accepted(c, gin.H{"batchId": batchID, "cancelRequested": true})
}

func (h *Handler) fail(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, respond.CodeNotFound, "batch not found", nil)
	case errors.Is(err, ErrUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, respond.CodeUnavailable, msg, nil)
	default:
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, msg, nil)
	}
}
