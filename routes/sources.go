package routes

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"

	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/store"
	"docqa-platform/middleware"
	"docqa-platform/models"
	"docqa-platform/utils"
)

func SetupSourceRoutes(router *gin.Engine, cfg *config.Config, sources *store.SourceStore, jobs *store.JobStore, client *asynq.Client, authMiddleware *middleware.AuthMiddleware) {
	group := router.Group("/sources")
	group.Use(authMiddleware.RequireAuth())

	group.GET("", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		// First visit seeds a disconnected row per provider so the dashboard
		// always shows the full catalog.
		if err := sources.SeedDefaults(c.Request.Context(), tenantID); err != nil {
			utils.RespondWithInternalError(c, "Failed to load sources", nil)
			return
		}

		list, err := sources.List(c.Request.Context(), tenantID)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load sources", nil)
			return
		}

		out := make([]gin.H, len(list))
		for i, source := range list {
			out[i] = sourceResponse(&source)
		}
		c.JSON(http.StatusOK, gin.H{"sources": out})
	})

	group.POST("/notion/connect", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			APIKey   string `json:"api_key" binding:"required"`
			SyncCron string `json:"sync_cron"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "An api_key is required", gin.H{"error": err.Error()})
			return
		}

		syncCron := req.SyncCron
		if syncCron == "" {
			syncCron = cfg.NotionSyncCron
		}
		if err := validateCron(syncCron); err != nil {
			utils.RespondWithBadRequest(c, "Invalid sync_cron expression", gin.H{"error": err.Error()})
			return
		}

		err := sources.Connect(c.Request.Context(), tenantID, models.ProviderNotion, models.SourceMetadata{
			Notion: &models.NotionCredentials{APIKey: req.APIKey, SyncCron: syncCron},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to connect source", nil)
			return
		}

		// Kick off the initial full sync and hand the schedule to the worker.
		job, err := jobs.Create(c.Request.Context(), tenantID, queue.TaskNotionSync, models.JobMetadata{
			Notion: &models.NotionMetadata{Message: "initial sync"},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create sync job", nil)
			return
		}
		if err := enqueueAll(client,
			func() (*asynq.Task, error) { return queue.NewNotionSyncTask(job.ID, tenantID) },
			func() (*asynq.Task, error) { return queue.NewNotionScheduleTask(tenantID, syncCron) },
		); err != nil {
			jobs.SetFailed(c.Request.Context(), job.ID, fmt.Errorf("failed to enqueue: %w", err))
			utils.RespondWithInternalError(c, "Failed to enqueue sync", nil)
			return
		}

		logger.Info("Notion source connected", "tenant_id", tenantID, "cron", syncCron)
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
	})

	group.PATCH("/notion/schedule", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			SyncCron string `json:"sync_cron" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A sync_cron is required", gin.H{"error": err.Error()})
			return
		}
		if err := validateCron(req.SyncCron); err != nil {
			utils.RespondWithBadRequest(c, "Invalid sync_cron expression", gin.H{"error": err.Error()})
			return
		}

		err := sources.UpdateNotionCron(c.Request.Context(), tenantID, req.SyncCron)
		if errors.Is(err, store.ErrSourceNotFound) {
			utils.RespondWithNotFound(c, "Notion source is not connected")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to update schedule", nil)
			return
		}

		if err := enqueueAll(client,
			func() (*asynq.Task, error) { return queue.NewNotionScheduleTask(tenantID, req.SyncCron) },
		); err != nil {
			utils.RespondWithInternalError(c, "Failed to deliver schedule change", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sync_cron": req.SyncCron})
	})

	group.POST("/slack/connect", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			APIKey      string `json:"api_key" binding:"required"`
			ChannelName string `json:"channel_name" binding:"required"`
			ChannelID   string `json:"channel_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "api_key, channel_name and channel_id are required", gin.H{"error": err.Error()})
			return
		}

		err := sources.Connect(c.Request.Context(), tenantID, models.ProviderSlackBot, models.SourceMetadata{
			Slack: &models.SlackCredentials{
				APIKey:      req.APIKey,
				ChannelName: req.ChannelName,
				ChannelID:   req.ChannelID,
			},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to connect source", nil)
			return
		}

		if err := enqueueAll(client,
			func() (*asynq.Task, error) { return queue.NewSlackRegisterTask(tenantID) },
		); err != nil {
			utils.RespondWithInternalError(c, "Failed to start slack session", nil)
			return
		}

		logger.Info("Slack source connected", "tenant_id", tenantID, "channel", req.ChannelName)
		c.JSON(http.StatusOK, gin.H{"status": models.SourceConnected})
	})

	group.POST("/:provider/disconnect", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		provider := c.Param("provider")
		if !validProvider(provider) {
			utils.RespondWithBadRequest(c, "Unknown provider", gin.H{"providers": models.DefaultProviders})
			return
		}

		err := sources.Disconnect(c.Request.Context(), tenantID, provider)
		if errors.Is(err, store.ErrSourceNotFound) {
			utils.RespondWithNotFound(c, "Source not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to disconnect source", nil)
			return
		}

		// Tear down worker-side state for the session/schedule providers.
		switch provider {
		case models.ProviderSlackBot:
			enqueueAll(client, func() (*asynq.Task, error) { return queue.NewSlackRemoveTask(tenantID) })
		case models.ProviderNotion:
			enqueueAll(client, func() (*asynq.Task, error) { return queue.NewNotionScheduleTask(tenantID, "") })
		}

		c.JSON(http.StatusOK, gin.H{"status": models.SourceDisconnected})
	})
}

// sourceResponse hides credentials; only presence and shape are reported.
func sourceResponse(source *models.Source) gin.H {
	resp := gin.H{
		"provider": source.Provider,
		"status":   source.Status,
	}
	if source.LastSynced != nil {
		resp["last_synced"] = source.LastSynced
	}
	if source.Metadata.Notion != nil {
		resp["sync_cron"] = source.Metadata.Notion.SyncCron
	}
	if source.Metadata.Slack != nil {
		resp["channel_name"] = source.Metadata.Slack.ChannelName
	}
	return resp
}

func validProvider(provider string) bool {
	for _, p := range models.DefaultProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func validateCron(expr string) error {
	_, err := cron.ParseStandard(expr)
	return err
}

func enqueueAll(client *asynq.Client, builders ...func() (*asynq.Task, error)) error {
	for _, build := range builders {
		task, err := build()
		if err != nil {
			return err
		}
		if _, err := client.Enqueue(task); err != nil {
			return err
		}
	}
	return nil
}
