package broker

import (
	"net/http"
	"strconv"

	"quickfix_notify/internal/notification"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// response mirrors the backend's standard envelope so the client's REST
// parsing works unchanged against the dev broker.
type response struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Router builds the gin engine: REST endpoints under /api/v1 and the push
// channel on /ws.
func (b *Broker) Router(mode string) *gin.Engine {
	gin.SetMode(mode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "message": "QuickFix dev broker is healthy!"})
	})

	router.GET("/ws", b.handleWS)

	v1 := router.Group("/api/v1")
	v1.POST("/admin/notifications", b.injectNotification)

	scoped := v1.Group("/:role/:user_id")
	scoped.Use(recipientParams())
	scoped.GET("/notifications", b.listNotifications)
	scoped.GET("/notifications/unread-count", b.unreadCount)
	scoped.POST("/notifications/:notification_id/mark-read", b.markRead)
	scoped.POST("/notifications/mark-all-read", b.markAllRead)
	scoped.DELETE("/notifications/:notification_id", b.deleteNotification)

	return router
}

// recipientParams validates and stashes the :role/:user_id pair.
func recipientParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := notification.Role(c.Param("role"))
		if !role.Valid() {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
				Code: "BAD_REQUEST", Message: "Unknown role."})
			return
		}
		userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{
				Code: "BAD_REQUEST", Message: "Invalid user id."})
			return
		}
		c.Set("role", role)
		c.Set("userID", userID)
		c.Next()
	}
}

func recipient(c *gin.Context) (notification.Role, int64) {
	return c.MustGet("role").(notification.Role), c.MustGet("userID").(int64)
}

func (b *Broker) listNotifications(c *gin.Context) {
	role, userID := recipient(c)
	c.JSON(http.StatusOK, response{
		Status:  "success",
		Message: "Notifications retrieved successfully.",
		Data:    b.List(role, userID),
	})
}

func (b *Broker) unreadCount(c *gin.Context) {
	role, userID := recipient(c)
	c.JSON(http.StatusOK, response{
		Status: "success",
		Data:   gin.H{"count": b.UnreadCount(role, userID)},
	})
}

func (b *Broker) markRead(c *gin.Context) {
	role, userID := recipient(c)
	id, err := strconv.ParseInt(c.Param("notification_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "Invalid notification id."})
		return
	}
	if !b.MarkRead(role, userID, id) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "Notification not found."})
		return
	}
	c.JSON(http.StatusOK, response{Status: "success", Message: "Notification marked as read successfully."})
}

func (b *Broker) markAllRead(c *gin.Context) {
	role, userID := recipient(c)
	updated := b.MarkAllRead(role, userID)
	c.JSON(http.StatusOK, response{
		Status:  "success",
		Message: "All notifications marked as read successfully.",
		Data:    gin.H{"updated": updated},
	})
}

func (b *Broker) deleteNotification(c *gin.Context) {
	role, userID := recipient(c)
	id, err := strconv.ParseInt(c.Param("notification_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Code: "BAD_REQUEST", Message: "Invalid notification id."})
		return
	}
	if !b.Delete(role, userID, id) {
		c.JSON(http.StatusNotFound, errorResponse{Code: "NOT_FOUND", Message: "Notification not found."})
		return
	}
	c.JSON(http.StatusOK, response{Status: "success", Message: "Notification deleted successfully."})
}

type injectRequest struct {
	RecipientID      int64             `json:"recipientId" binding:"required"`
	Role             string            `json:"role" binding:"required,oneof=user provider"`
	Kind             notification.Kind `json:"kind" binding:"required"`
	Title            string            `json:"title" binding:"required"`
	Message          string            `json:"message" binding:"required"`
	RelatedBookingID *int64            `json:"relatedBookingId"`
}

// injectNotification lets developers push a notification through the full
// pipeline: stored, then delivered to live subscribers.
func (b *Broker) injectNotification(c *gin.Context) {
	var req injectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}
	n := b.Create(notification.Role(req.Role), req.RecipientID, req.Kind, req.Title, req.Message, req.RelatedBookingID)
	b.logger.Info("Injected notification",
		zap.Int64("id", n.ID),
		zap.String("kind", string(n.Kind)),
		zap.Int64("recipientID", n.RecipientID),
	)
	c.JSON(http.StatusCreated, response{Status: "success", Message: "Notification created.", Data: n})
}
