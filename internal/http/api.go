package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"devgroup-bot/internal/domain"
	"devgroup-bot/internal/service"
	"devgroup-bot/internal/storage"
	"devgroup-bot/internal/tracker"
)

// Handler wires the management API routes to domain services.
type Handler struct {
	mirror    *tracker.Registry
	audio     *tracker.Registry
	whitelist service.WhitelistService
	admins    service.AdminService
	archive   storage.Archive // nil when archival is disabled
	tokens    *tokenIssuer
}

func NewHandler(
	mirror, audio *tracker.Registry,
	whitelist service.WhitelistService,
	admins service.AdminService,
	archive storage.Archive,
	jwtSecret string,
	tokenTTL time.Duration,
) *Handler {
	return &Handler{
		mirror:    mirror,
		audio:     audio,
		whitelist: whitelist,
		admins:    admins,
		archive:   archive,
		tokens:    newTokenIssuer(jwtSecret, tokenTTL),
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		api.POST("/auth/login", h.login)

		admin := api.Group("/admin", h.authMiddleware())
		{
			admin.GET("/transfers", h.listTransfers)
			admin.GET("/whitelist", h.listWhitelist)
			admin.POST("/whitelist", h.addWhitelist)
			admin.DELETE("/whitelist/:chat_id", h.removeWhitelist)
			admin.GET("/archive/objects", h.listArchive)
			admin.GET("/archive/objects/url", h.archiveObjectURL)
		}
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	admin, err := h.admins.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := h.tokens.issue(admin.ID, admin.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type transfersResponse struct {
	Mirror []domain.TransferSnapshot `json:"mirror"`
	Audio  []domain.TransferSnapshot `json:"audio"`
}

func (h *Handler) listTransfers(c *gin.Context) {
	resp := transfersResponse{
		Mirror: h.mirror.Snapshot(),
		Audio:  h.audio.Snapshot(),
	}
	if resp.Mirror == nil {
		resp.Mirror = []domain.TransferSnapshot{}
	}
	if resp.Audio == nil {
		resp.Audio = []domain.TransferSnapshot{}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listWhitelist(c *gin.Context) {
	entries, err := h.whitelist.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if entries == nil {
		entries = []domain.WhitelistEntry{}
	}
	c.JSON(http.StatusOK, entries)
}

type whitelistRequest struct {
	ChatID int64 `json:"chat_id" binding:"required"`
}

func (h *Handler) addWhitelist(c *gin.Context) {
	var req whitelistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.whitelist.Enable(c.Request.Context(), req.ChatID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"chat_id": req.ChatID})
}

func (h *Handler) removeWhitelist(c *gin.Context) {
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}
	removed, err := h.whitelist.Disable(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not whitelisted"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID})
}

func (h *Handler) listArchive(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive storage is not configured"})
		return
	}
	objects, err := h.archive.ListObjects(c.Request.Context(), c.Query("prefix"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if objects == nil {
		objects = []storage.ObjectInfo{}
	}
	c.JSON(http.StatusOK, objects)
}

func (h *Handler) archiveObjectURL(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "archive storage is not configured"})
		return
	}
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	expires := 15 * time.Minute
	if raw := c.Query("expires"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expires"})
			return
		}
		expires = time.Duration(secs) * time.Second
	}

	url, err := h.archive.ObjectURL(c.Request.Context(), key, expires)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "url": url, "expires_in": int(expires.Seconds())})
}
