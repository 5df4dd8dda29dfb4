package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"pdfchat/internal/auth"
	"pdfchat/internal/service/chat"
	"pdfchat/internal/storage"
)

// Handler wires HTTP routes to the chat service.
type Handler struct {
	chats  *chat.Service
	auth   *auth.Service
	health *HealthChecker
	log    *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(chats *chat.Service, authService *auth.Service, health *HealthChecker, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if health == nil {
		health = NewHealthChecker(Probe{Name: "store", Check: chats.Ping})
	}
	return &Handler{
		chats:  chats,
		auth:   authService,
		health: health,
		log:    log.Named("api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", h.healthCheck)

	chats := api.Group("/chats")
	chats.Use(h.auth.Middleware())
	chats.GET("", h.listChats)
	chats.POST("/save", h.saveChat)
	chats.GET("/:chatId", h.getChat)
	chats.DELETE("/:chatId", h.deleteChat)
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"message": "Authorization required"})
		return "", false
	}
	return userID, true
}

func (h *Handler) listChats(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chats, err := h.chats.List(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, "list chats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Chats retrieved successfully",
		"chats":   chats,
	})
}

func (h *Handler) getChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	record, err := h.chats.Get(c.Request.Context(), userID, c.Param("chatId"))
	if err != nil {
		h.writeError(c, "get chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Chat retrieved successfully",
		"chat":    record,
	})
}

func (h *Handler) saveChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req chat.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) || !strings.HasPrefix(typeErr.Field, "history") {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
			return
		}
		// Leave the rejection to Save so an unknown user still gets 404 first.
		req.History = nil
	}
	chatID, err := h.chats.Save(c.Request.Context(), userID, req)
	if err != nil {
		h.writeError(c, "save chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Chat saved successfully",
		"chatId":  chatID,
	})
}

func (h *Handler) deleteChat(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	chatID := c.Param("chatId")
	if err := h.chats.Delete(c.Request.Context(), userID, chatID); err != nil {
		h.writeError(c, "delete chat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "Chat deleted successfully",
		"chatId":  chatID,
	})
}

// writeError maps service errors onto status codes. Anything unclassified is
// logged and reported as a generic 500.
func (h *Handler) writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid history format"})
	case errors.Is(err, storage.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
	case errors.Is(err, storage.ErrChatNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Chat not found"})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	default:
		h.log.Error(op+" failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
	}
}
