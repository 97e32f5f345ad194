package checkpoint

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"resume-ingest/internal/shared/server/middleware"
	"resume-ingest/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches checkpoint routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/checkpoint", h.resolve)
}

func (h *Handler) resolve(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	cp, err := h.Svc.Resolve(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			respond.Error(c, http.StatusUnauthorized, respond.CodeUnauthorized, "user identity is required", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, respond.CodeInternal, "failed to resolve checkpoint", nil)
		return
	}
	respond.OK(c, cp)
}
