package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/SergeiKhy/shortly/internal/middleware"
	"github.com/SergeiKhy/shortly/internal/models"
	"github.com/SergeiKhy/shortly/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type LinkHandler struct {
	links     service.LinkService
	ingestor  service.ClickIngestor
	analytics service.AnalyticsService
	baseURL   string
	logger    *zap.Logger
}

func NewLinkHandler(
	links service.LinkService,
	ingestor service.ClickIngestor,
	analytics service.AnalyticsService,
	baseURL string,
	logger *zap.Logger,
) *LinkHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkHandler{
		links:     links,
		ingestor:  ingestor,
		analytics: analytics,
		baseURL:   baseURL,
		logger:    logger,
	}
}

type CreateLinkRequest struct {
	URL        string     `json:"url" binding:"required,url"`
	CustomSlug string     `json:"custom_slug,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type UpdateLinkRequest struct {
	URL        *string    `json:"url,omitempty"`
	CustomSlug *string    `json:"custom_slug,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type LinkResponse struct {
	Slug        string     `json:"slug"`
	ShortURL    string     `json:"short_url"`
	OriginalURL string     `json:"original_url"`
	IsCustom    bool       `json:"is_custom"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *LinkHandler) linkResponse(link *models.Link) LinkResponse {
	return LinkResponse{
		Slug:        link.Slug,
		ShortURL:    h.baseURL + "/" + link.Slug,
		OriginalURL: link.OriginalURL,
		IsCustom:    link.IsCustom,
		ExpiresAt:   link.ExpiresAt,
		CreatedAt:   link.CreatedAt,
		UpdatedAt:   link.UpdatedAt,
	}
}

// CreateLink POST /api/v1/links
func (h *LinkHandler) CreateLink(c *gin.Context) {
	var req CreateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	input := &models.CreateLinkInput{
		OriginalURL: req.URL,
		ExpiresAt:   req.ExpiresAt,
	}
	if req.CustomSlug != "" {
		input.CustomSlug = &req.CustomSlug
	}
	if uid, ok := middleware.RequesterID(c); ok {
		input.UserID = &uid
	}

	link, err := h.links.Shorten(c.Request.Context(), input)
	if err != nil {
		h.writeServiceError(c, err, "Failed to create link")
		return
	}

	c.JSON(http.StatusCreated, h.linkResponse(link))
}

// Redirect GET /:slug — горячий путь
func (h *LinkHandler) Redirect(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_slug",
			Message: "Slug is required",
		})
		return
	}

	originalURL, err := h.links.Resolve(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:   "not_found",
				Message: "Link not found or expired",
			})
			return
		}
		h.logger.Error("Redirect store failure", zap.String("slug", slug), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Temporary failure, try again",
		})
		return
	}

	// Fire-and-forget: клик считается отправленным с момента возврата Enqueue
	h.ingestor.Enqueue(&models.ClickEvent{
		Slug:      slug,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
		Timestamp: time.Now(),
	})

	c.Redirect(http.StatusMovedPermanently, originalURL)
}

// GetLink GET /api/v1/links/:slug — публично минимум, владельцу всё
// вместе с живым счётчиком кликов
func (h *LinkHandler) GetLink(c *gin.Context) {
	slug := c.Param("slug")

	summary, err := h.links.GetLinkSummary(c.Request.Context(), slug)
	if err != nil {
		h.writeServiceError(c, err, "Failed to get link")
		return
	}

	uid, ok := middleware.RequesterID(c)
	if !ok || summary.UserID == nil || *summary.UserID != uid {
		c.JSON(http.StatusOK, gin.H{"short_url": summary.ShortURL})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// ListLinks GET /api/v1/links
func (h *LinkHandler) ListLinks(c *gin.Context) {
	uid, ok := middleware.RequesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "API key required",
		})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "15"))

	links, err := h.links.ListLinks(c.Request.Context(), models.ListLinksQuery{
		UserID:  uid,
		Search:  c.Query("search"),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.writeServiceError(c, err, "Failed to list links")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": links})
}

// UpdateLink PUT /api/v1/links/:slug
func (h *LinkHandler) UpdateLink(c *gin.Context) {
	slug := c.Param("slug")

	uid, ok := middleware.RequesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "API key required",
		})
		return
	}

	var req UpdateLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	link, err := h.links.UpdateLink(c.Request.Context(), slug, uid, &models.UpdateLinkInput{
		CustomSlug:  req.CustomSlug,
		OriginalURL: req.URL,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		h.writeServiceError(c, err, "Failed to update link")
		return
	}

	c.JSON(http.StatusOK, h.linkResponse(link))
}

// DeleteLink DELETE /api/v1/links/:slug
func (h *LinkHandler) DeleteLink(c *gin.Context) {
	slug := c.Param("slug")

	uid, ok := middleware.RequesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "API key required",
		})
		return
	}

	if err := h.links.DeleteLink(c.Request.Context(), slug, uid); err != nil {
		h.writeServiceError(c, err, "Failed to delete link")
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Link deleted successfully"})
}

// GetAnalytics GET /api/v1/links/:slug/analytics?start_date=&end_date=
func (h *LinkHandler) GetAnalytics(c *gin.Context) {
	slug := c.Param("slug")

	uid, ok := middleware.RequesterID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "API key required",
		})
		return
	}

	snapshot, err := h.analytics.GetAnalytics(
		c.Request.Context(),
		slug,
		uid,
		c.Query("start_date"),
		c.Query("end_date"),
	)
	if err != nil {
		h.writeServiceError(c, err, "Failed to get analytics")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snapshot})
}

// writeServiceError отображает таксономию ошибок сервиса на HTTP статусы.
// Транспортное представление решается только здесь, не внутри ядра.
func (h *LinkHandler) writeServiceError(c *gin.Context, err error, logMsg string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: "Link not found",
		})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "forbidden",
			Message: "You do not own this link",
		})
	case errors.Is(err, service.ErrSlugConflict):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "slug_conflict",
			Message: "Slug already taken",
		})
	case errors.Is(err, service.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_url",
			Message: "Invalid URL format",
		})
	case errors.Is(err, service.ErrInvalidSlug):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_slug",
			Message: "Custom slug must be 4-30 alphanumeric characters",
		})
	case errors.Is(err, service.ErrInvalidExpiry):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_expiry",
			Message: "Expiry must be in the future",
		})
	case errors.Is(err, service.ErrInvalidDateRange):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_date_range",
			Message: "Dates must be YYYY-MM-DD and start before end",
		})
	default:
		h.logger.Error(logMsg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: logMsg,
		})
	}
}
