package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/queue"
	"docqa-platform/internal/scheduler"
	"docqa-platform/internal/store"
	"docqa-platform/internal/telemetry"
	"docqa-platform/internal/vectorstore"
	"docqa-platform/internal/workers"
	"docqa-platform/services"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer(cfg, "docqa-worker")
		if err != nil {
			log.Fatal("Failed to init tracing:", err)
		}
		defer shutdown()
	}

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()
	db := mongoClient.Database(cfg.DBName)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	asynqClient := asynq.NewClient(config.AsynqRedisOpt(cfg))
	defer asynqClient.Close()

	gemini, err := ai.NewGeminiClient(cfg.GeminiAPIKey, cfg.EmbeddingModel, cfg.GenerationModel)
	if err != nil {
		log.Fatal("Failed to init Gemini client:", err)
	}
	defer gemini.Close()

	jobs := store.NewJobStore(db)
	chunks := store.NewChunkStore(db)
	sources := store.NewSourceStore(db)
	chatLogs := store.NewChatLogStore(db)

	vectors := vectorstore.NewMongoStore(db, cfg.VectorIndexName, cfg.VectorDimensions, cfg.VectorSearchEnabled)

	pipeline := &services.Pipeline{
		Embedder: gemini,
		Chunks:   chunks,
		Vectors:  vectors,
		Splitter: services.SplitterOptions{
			MaxChunkSize: cfg.MaxChunkSize,
			Overlap:      cfg.ChunkOverlap,
			MinChunkSize: cfg.MinChunkSize,
		},
	}

	answers := &services.AnswerService{
		Embedder:  gemini,
		Generator: gemini,
		Vectors:   vectors,
		TopK:      cfg.RetrievalTopK,
	}

	httpClient := &http.Client{Timeout: cfg.CrawlFetchTimeout}

	uploadWorker := workers.NewUploadWorker(jobs, pipeline)
	crawlWorker := workers.NewCrawlWorker(jobs, pipeline, httpClient, workers.CrawlOptions{
		DiscoveryLimit: cfg.CrawlDiscoveryLimit,
		HardCap:        cfg.CrawlHardCap,
		Delay:          cfg.CrawlDelay,
		FetchTimeout:   cfg.CrawlFetchTimeout,
		MaxFetchBytes:  cfg.CrawlMaxFetchBytes,
		MinContent:     cfg.CrawlMinContent,
		RenderJS:       cfg.CrawlRenderJS,
	})
	gdocWorker := workers.NewGDocWorker(jobs, pipeline, &http.Client{Timeout: cfg.GDocFetchTimeout}, workers.GDocOptions{
		FetchTimeout:  cfg.GDocFetchTimeout,
		MaxFetchBytes: cfg.GDocMaxFetchBytes,
	})
	notionWorker := workers.NewNotionWorker(jobs, sources, pipeline, cfg.NotionToken)
	chatWorker := workers.NewChatWorker(answers, chatLogs, workers.RedisPublisher{Client: rdb})
	slackWorker := workers.NewSlackWorker(sources, chatLogs, answers, cfg.SlackPollInterval)
	probeWorker := workers.NewProbeWorker(jobs, rdb)

	sched := scheduler.New(asynqClient)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.Reconcile(bootCtx, sources, cfg.NotionSyncCron); err != nil {
		logger.Error("Notion schedule reconciliation failed", "error", err)
	}
	if err := slackWorker.ReconcileSessions(bootCtx); err != nil {
		logger.Error("Slack session reconciliation failed", "error", err)
	}
	bootCancel()
	sched.Start()

	// Two servers: crawls and Notion syncs run strictly one at a time so a
	// tenant's long jobs never interleave; everything else shares a pool.
	serializedQueues := make(map[string]int, len(queue.SerializedQueues))
	for _, name := range queue.SerializedQueues {
		serializedQueues[name] = 1
	}
	concurrentQueues := make(map[string]int, len(queue.ConcurrentQueues))
	for _, name := range queue.ConcurrentQueues {
		concurrentQueues[name] = 1
	}

	serializedSrv := asynq.NewServer(config.AsynqRedisOpt(cfg), asynq.Config{
		Concurrency: 1,
		Queues:      serializedQueues,
	})
	concurrentSrv := asynq.NewServer(config.AsynqRedisOpt(cfg), asynq.Config{
		Concurrency: 10,
		Queues:      concurrentQueues,
	})

	serializedMux := asynq.NewServeMux()
	serializedMux.HandleFunc(queue.TaskSiteCrawl, crawlWorker.HandleSiteCrawl)
	serializedMux.HandleFunc(queue.TaskNotionSync, notionWorker.HandleNotionSync)
	serializedMux.HandleFunc(queue.TaskNotionSchedule, sched.HandleScheduleUpdate)
	serializedMux.HandleFunc(queue.TaskOrderingProbe, probeWorker.HandleOrderingProbe)

	concurrentMux := asynq.NewServeMux()
	concurrentMux.HandleFunc(queue.TaskFileProcess, uploadWorker.HandleFileProcess)
	concurrentMux.HandleFunc(queue.TaskGDocFetch, gdocWorker.HandleGDocFetch)
	concurrentMux.HandleFunc(queue.TaskChatAsk, chatWorker.HandleChatAsk)
	concurrentMux.HandleFunc(queue.TaskSlackRegister, slackWorker.HandleSlackRegister)
	concurrentMux.HandleFunc(queue.TaskSlackRemove, slackWorker.HandleSlackRemove)
	concurrentMux.HandleFunc(queue.TaskOrderingProbe, probeWorker.HandleOrderingProbe)

	go func() {
		if err := serializedSrv.Run(serializedMux); err != nil {
			log.Fatalf("Serialized worker server failed: %v", err)
		}
	}()
	go func() {
		if err := concurrentSrv.Run(concurrentMux); err != nil {
			log.Fatalf("Concurrent worker server failed: %v", err)
		}
	}()

	logger.Info("Worker started",
		"serialized_queues", queue.SerializedQueues,
		"concurrent_queues", queue.ConcurrentQueues)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down worker")

	serializedSrv.Shutdown()
	concurrentSrv.Shutdown()
	sched.Stop()
	slackWorker.Stop()

	logger.Info("Worker exited")
}
