package routes

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/store"
	"docqa-platform/middleware"
	"docqa-platform/models"
	"docqa-platform/utils"
)

const maxProbeBatch = 50

func SetupAdminRoutes(router *gin.Engine, jobs *store.JobStore, inspector *queue.Inspector, client *asynq.Client, authMiddleware *middleware.AuthMiddleware) {
	admin := router.Group("/admin")
	admin.Use(authMiddleware.RequireAuth())

	admin.GET("/queues", func(c *gin.Context) {
		snapshots, err := inspector.AllQueues()
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to inspect queues", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queues": snapshots})
	})

	admin.GET("/queues/:name/tasks", func(c *gin.Context) {
		name := c.Param("name")
		if !knownQueue(name) {
			utils.RespondWithNotFound(c, "Unknown queue")
			return
		}

		tasks, err := inspector.ListTasks(name, c.DefaultQuery("state", "pending"))
		if err != nil {
			utils.RespondWithBadRequest(c, "Failed to list tasks", gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"queue": name, "tasks": tasks})
	})

	admin.DELETE("/queues/:name/tasks/:taskId", func(c *gin.Context) {
		name := c.Param("name")
		if !knownQueue(name) {
			utils.RespondWithNotFound(c, "Unknown queue")
			return
		}

		if err := inspector.DeleteTask(name, c.Param("taskId")); err != nil {
			utils.RespondWithNotFound(c, "Task not found or not deletable")
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": c.Param("taskId")})
	})

	// Enqueues a numbered batch of no-op probe tasks on one queue. Comparing
	// each probe's recorded observed position against its sequence shows
	// whether the queue dispatched in submission order.
	admin.POST("/probe", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			Queue string `json:"queue" binding:"required"`
			Count int    `json:"count"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A queue is required", gin.H{"error": err.Error()})
			return
		}
		if !knownQueue(req.Queue) {
			utils.RespondWithBadRequest(c, "Unknown queue", gin.H{"queues": allQueueNames()})
			return
		}
		count := req.Count
		if count <= 0 {
			count = 3
		}
		if count > maxProbeBatch {
			utils.RespondWithBadRequest(c, "Batch too large", gin.H{"max_count": maxProbeBatch})
			return
		}

		batchID := uuid.NewString()
		jobIDs := make([]string, 0, count)
		for seq := 1; seq <= count; seq++ {
			job, err := jobs.Create(c.Request.Context(), tenantID, queue.TaskOrderingProbe, models.JobMetadata{
				Probe: &models.ProbeMetadata{BatchID: batchID, Sequence: seq},
			})
			if err != nil {
				utils.RespondWithInternalError(c, "Failed to create probe job", nil)
				return
			}

			task, err := queue.NewOrderingProbeTask(req.Queue, job.ID, tenantID, batchID, seq)
			if err == nil {
				_, err = client.Enqueue(task)
			}
			if err != nil {
				jobs.SetFailed(c.Request.Context(), job.ID, fmt.Errorf("failed to enqueue: %w", err))
				utils.RespondWithInternalError(c, "Failed to enqueue probe", nil)
				return
			}
			jobIDs = append(jobIDs, job.ID)
		}

		logger.Info("Ordering probe dispatched", "tenant_id", tenantID, "queue", req.Queue, "batch_id", batchID, "count", count)
		c.JSON(http.StatusAccepted, gin.H{
			"batch_id": batchID,
			"queue":    req.Queue,
			"job_ids":  jobIDs,
		})
	})
}

func allQueueNames() []string {
	return append(append([]string{}, queue.SerializedQueues...), queue.ConcurrentQueues...)
}

func knownQueue(name string) bool {
	for _, known := range allQueueNames() {
		if known == name {
			return true
		}
	}
	return false
}
