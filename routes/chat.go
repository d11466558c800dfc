package routes

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/store"
	"docqa-platform/internal/workers"
	"docqa-platform/middleware"
	"docqa-platform/models"
	"docqa-platform/utils"
)

const maxQuestionLength = 2000

func SetupChatRoutes(router *gin.Engine, chatLogs *store.ChatLogStore, client *asynq.Client, rdb *redis.Client, authMiddleware *middleware.AuthMiddleware) {
	chat := router.Group("/chat")
	chat.Use(authMiddleware.RequireAuth())

	chat.POST("/ask", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			Question string `json:"question" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A question is required", gin.H{"error": err.Error()})
			return
		}

		question := strings.TrimSpace(req.Question)
		if question == "" {
			utils.RespondWithBadRequest(c, "A question is required", nil)
			return
		}
		if len(question) > maxQuestionLength {
			utils.RespondWithBadRequest(c, "Question too long", gin.H{"max_length": maxQuestionLength})
			return
		}

		chatLog, err := chatLogs.Create(c.Request.Context(), tenantID, question)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create chat", nil)
			return
		}

		task, err := queue.NewChatAskTask(chatLog.ID, tenantID, question)
		if err == nil {
			_, err = client.Enqueue(task)
		}
		if err != nil {
			chatLogs.SetFailed(c.Request.Context(), chatLog.ID, "")
			utils.RespondWithInternalError(c, "Failed to enqueue question", nil)
			return
		}

		logger.Info("Chat question accepted", "tenant_id", tenantID, "chat_id", chatLog.ID)
		c.JSON(http.StatusAccepted, gin.H{
			"chat_id": chatLog.ID,
			"status":  chatLog.Status,
		})
	})

	// SSE bridge for the answer stream. The worker publishes rewritten tokens
	// on the exchange's redis channel; this endpoint forwards them until the
	// end sentinel arrives.
	chat.GET("/stream/:chatId", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		chatID := c.Param("chatId")

		chatLog, err := chatLogs.Get(c.Request.Context(), tenantID, chatID)
		if errors.Is(err, store.ErrChatLogNotFound) {
			utils.RespondWithNotFound(c, "Chat not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load chat", nil)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		// Finished exchange: replay the stored answer in one event.
		if chatLog.Status == models.ChatStatusDone || chatLog.Status == models.ChatStatusFailed {
			if chatLog.Answer != "" {
				c.SSEvent("token", chatLog.Answer)
			}
			c.SSEvent("done", workers.EndSentinel)
			c.Writer.Flush()
			return
		}

		sub := rdb.Subscribe(c.Request.Context(), workers.ChatChannel(chatID))
		defer sub.Close()
		ch := sub.Channel()

		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-timeout.C:
				c.SSEvent("error", "stream timed out")
				c.Writer.Flush()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == workers.EndSentinel {
					c.SSEvent("done", workers.EndSentinel)
					c.Writer.Flush()
					return
				}
				c.SSEvent("token", msg.Payload)
				c.Writer.Flush()
			}
		}
	})

	chat.GET("/history", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		logs, err := chatLogs.ListRecent(c.Request.Context(), tenantID, limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load history", nil)
			return
		}

		out := make([]gin.H, len(logs))
		for i, log := range logs {
			out[i] = gin.H{
				"chat_id":    log.ID,
				"question":   log.Question,
				"answer":     log.Answer,
				"status":     log.Status,
				"created_at": log.CreatedAt,
			}
		}
		c.JSON(http.StatusOK, gin.H{"history": out})
	})
}
