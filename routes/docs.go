package routes

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/store"
	"docqa-platform/internal/workers"
	"docqa-platform/middleware"
	"docqa-platform/models"
	"docqa-platform/utils"
)

func SetupDocRoutes(router *gin.Engine, cfg *config.Config, jobs *store.JobStore, chunks *store.ChunkStore, client *asynq.Client, authMiddleware *middleware.AuthMiddleware) {
	docs := router.Group("/docs")
	docs.Use(authMiddleware.RequireAuth())

	docs.POST("/upload", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		file, err := c.FormFile("file")
		if err != nil {
			utils.RespondWithBadRequest(c, "A file is required", gin.H{"error": err.Error()})
			return
		}
		if file.Size > cfg.MaxFileSize {
			utils.RespondWithBadRequest(c, "File too large", gin.H{
				"max_bytes":  cfg.MaxFileSize,
				"file_bytes": file.Size,
			})
			return
		}
		if !supportedUpload(file.Filename) {
			utils.RespondWithBadRequest(c, "Unsupported file type", gin.H{
				"supported": workers.SupportedExtensions,
			})
			return
		}

		// Stage the upload under a collision-free name; the worker deletes it
		// after processing.
		stagedName := uuid.NewString() + strings.ToLower(filepath.Ext(file.Filename))
		stagedPath := filepath.Join(cfg.FileStorageDir, stagedName)
		if err := os.MkdirAll(cfg.FileStorageDir, 0o755); err != nil {
			utils.RespondWithInternalError(c, "Failed to prepare storage", nil)
			return
		}
		if err := c.SaveUploadedFile(file, stagedPath); err != nil {
			utils.RespondWithInternalError(c, "Failed to store file", gin.H{"error": err.Error()})
			return
		}

		job, err := jobs.Create(c.Request.Context(), tenantID, queue.TaskFileProcess, models.JobMetadata{
			Upload: &models.UploadMetadata{
				OriginalName: file.Filename,
				FilePath:     stagedPath,
				FileSize:     file.Size,
			},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create job", nil)
			return
		}

		task, err := queue.NewFileProcessTask(job.ID, tenantID, stagedPath, file.Filename)
		if err == nil {
			_, err = client.Enqueue(task)
		}
		if err != nil {
			jobs.SetFailed(c.Request.Context(), job.ID, fmt.Errorf("failed to enqueue: %w", err))
			utils.RespondWithInternalError(c, "Failed to enqueue job", nil)
			return
		}

		logger.Info("Upload accepted", "tenant_id", tenantID, "job_id", job.ID, "file", file.Filename)
		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
		})
	})

	docs.POST("/crawl-site", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A url is required", gin.H{"error": err.Error()})
			return
		}

		job, err := jobs.Create(c.Request.Context(), tenantID, queue.TaskSiteCrawl, models.JobMetadata{
			Crawl: &models.CrawlMetadata{SeedURL: req.URL},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create job", nil)
			return
		}

		task, err := queue.NewSiteCrawlTask(job.ID, tenantID, req.URL)
		if err == nil {
			_, err = client.Enqueue(task)
		}
		if err != nil {
			jobs.SetFailed(c.Request.Context(), job.ID, fmt.Errorf("failed to enqueue: %w", err))
			utils.RespondWithInternalError(c, "Failed to enqueue job", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
		})
	})

	docs.POST("/fetch-gdoc", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		var req struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "A url is required", gin.H{"error": err.Error()})
			return
		}

		docID, kind, err := workers.ParseGDocURL(req.URL)
		if err != nil {
			utils.RespondWithBadRequest(c, "Not a valid Google Docs url", gin.H{"error": err.Error()})
			return
		}

		job, err := jobs.Create(c.Request.Context(), tenantID, queue.TaskGDocFetch, models.JobMetadata{
			GDoc: &models.GDocMetadata{OriginalURL: req.URL, DocID: docID},
		})
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to create job", nil)
			return
		}

		task, err := queue.NewGDocFetchTask(job.ID, tenantID, docID, kind, req.URL)
		if err == nil {
			_, err = client.Enqueue(task)
		}
		if err != nil {
			jobs.SetFailed(c.Request.Context(), job.ID, fmt.Errorf("failed to enqueue: %w", err))
			utils.RespondWithInternalError(c, "Failed to enqueue job", nil)
			return
		}

		c.JSON(http.StatusAccepted, gin.H{
			"job_id": job.ID,
			"status": job.Status,
		})
	})

	docs.GET("/jobs", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

		list, err := jobs.ListRecent(c.Request.Context(), tenantID, c.Query("type"), limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to list jobs", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"jobs": list})
	})

	docs.GET("/jobs/:jobId", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)

		job, err := jobs.Get(c.Request.Context(), tenantID, c.Param("jobId"))
		if errors.Is(err, store.ErrJobNotFound) {
			utils.RespondWithNotFound(c, "Job not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load job", nil)
			return
		}
		c.JSON(http.StatusOK, jobResponse(job))
	})

	// SSE bridge: poll the job record and push status changes until the job
	// reaches a terminal state or the client goes away.
	docs.GET("/jobs/:jobId/stream", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		jobID := c.Param("jobId")

		if _, err := jobs.Get(c.Request.Context(), tenantID, jobID); err != nil {
			utils.RespondWithNotFound(c, "Job not found")
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		var lastProgress = -1
		var lastStatus string
		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-ticker.C:
			}

			job, err := jobs.Get(c.Request.Context(), tenantID, jobID)
			if err != nil {
				return
			}
			if job.Progress != lastProgress || job.Status != lastStatus {
				lastProgress = job.Progress
				lastStatus = job.Status
				c.SSEvent("progress", jobResponse(job))
				c.Writer.Flush()
			}
			if models.IsTerminalJobStatus(job.Status) {
				c.SSEvent("done", jobResponse(job))
				c.Writer.Flush()
				return
			}
		}
	})

	docs.GET("/search", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			utils.RespondWithBadRequest(c, "Query parameter q is required", nil)
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

		results, err := chunks.SearchText(c.Request.Context(), tenantID, query, limit)
		if err != nil {
			utils.RespondWithInternalError(c, "Search failed", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": chunkResponses(results)})
	})

	docs.GET("/snippets/:chunkId", func(c *gin.Context) {
		tenantID := middleware.GetTenantID(c)
		radius, _ := strconv.Atoi(c.DefaultQuery("radius", "1"))

		snippet, err := chunks.Snippet(c.Request.Context(), tenantID, c.Param("chunkId"), radius)
		if errors.Is(err, store.ErrChunkNotFound) {
			utils.RespondWithNotFound(c, "Chunk not found")
			return
		}
		if err != nil {
			utils.RespondWithInternalError(c, "Failed to load snippet", nil)
			return
		}
		c.JSON(http.StatusOK, gin.H{"chunks": chunkResponses(snippet)})
	})
}

func supportedUpload(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, supported := range workers.SupportedExtensions {
		if ext == supported {
			return true
		}
	}
	return false
}

func jobResponse(job *models.Job) gin.H {
	resp := gin.H{
		"job_id":     job.ID,
		"type":       job.Type,
		"status":     job.Status,
		"progress":   job.Progress,
		"metadata":   job.Metadata,
		"created_at": job.CreatedAt,
		"updated_at": job.UpdatedAt,
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	return resp
}

func chunkResponses(chunks []models.Chunk) []gin.H {
	out := make([]gin.H, len(chunks))
	for i, chunk := range chunks {
		out[i] = gin.H{
			"chunk_id": chunk.ChunkID,
			"doc_id":   chunk.DocID,
			"text":     chunk.Text,
			"source":   chunk.Source,
			"position": chunk.Position,
		}
	}
	return out
}
