// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"answer-desk/internal/config"
	"answer-desk/internal/handler"
	"answer-desk/internal/middleware"
	"answer-desk/internal/operator"
	"answer-desk/internal/pipeline"
	"answer-desk/internal/repository"
	"answer-desk/internal/service"
	"answer-desk/pkg/database"
	"answer-desk/pkg/es"
	"answer-desk/pkg/kafka"
	"answer-desk/pkg/log"
	"answer-desk/pkg/messenger"
	"answer-desk/pkg/nlp"
	"answer-desk/pkg/sentiment"
	"answer-desk/pkg/slack"
	"answer-desk/pkg/storage"
	"answer-desk/pkg/token"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const knowledgeLoadConcurrency = 5

func main() {
	// 1. 初始化配置
	configPath := os.Getenv("ANSWER_DESK_CONFIG")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、Elasticsearch、MinIO 和 Kafka
	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelInit()

	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatal("MySQL 初始化失败", err)
	}
	rdb, err := database.NewRedis(initCtx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}
	if err := es.EnsureIndex(initCtx, esClient, cfg.Elasticsearch.KnowledgeIndex, es.KnowledgeMapping); err != nil {
		log.Fatal("创建知识库索引失败", err)
	}
	if err := es.EnsureIndex(initCtx, esClient, cfg.Elasticsearch.SentimentIndex, es.SentimentMapping); err != nil {
		log.Fatal("创建情感记录索引失败", err)
	}

	// 对象存储只用于知识库重新加载，不可用时服务照常启动
	var objects pipeline.ObjectOpener
	if store, err := storage.NewMinIO(initCtx, cfg.MinIO); err != nil {
		log.Warnf("MinIO 不可用，知识库只能从本地文件加载: %v", err)
	} else {
		objects = store
	}

	producer := kafka.NewProducer(cfg.Kafka)

	// 4. 初始化 Repository
	messageRepo := repository.NewMessageRepository(db, cfg.Timeouts.Store)
	attemptRepo := repository.NewAttemptRepository(rdb)
	approvalRepo := repository.NewApprovalRepository(rdb)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.TokenExpireHours)
	hub := operator.NewHub()

	knowledgeService := service.NewKnowledgeService(esClient, cfg.Elasticsearch.KnowledgeIndex)
	gateway := service.NewApprovalGateway(messageRepo, approvalRepo, slack.NewClient(), producer, cfg)
	engine := service.NewAnswerEngine(nlp.NewClient(cfg.NLP), knowledgeService, gateway, messageRepo, cfg)
	sentimentPipeline := service.NewSentimentPipeline(
		sentiment.NewClient(cfg.Sentiment),
		service.NewSentimentStore(esClient, cfg.Elasticsearch.SentimentIndex),
		cfg.Timeouts.Sentiment,
	)
	dispatcher := service.NewResponseDispatcher(messenger.NewClient(cfg.Messenger), cfg.Timeouts.Dispatch)
	orchestrator := service.NewOrchestrator(messageRepo, engine, sentimentPipeline, dispatcher, hub, cfg)
	messageService := service.NewMessageService(messageRepo, producer, hub, cfg)

	// 6. 初始化事件处理管道和知识库加载器
	processor := pipeline.NewProcessor(orchestrator, attemptRepo, producer, cfg.Kafka.MaxAttempts)
	loader := pipeline.NewKnowledgeLoader(knowledgeService, objects, knowledgeLoadConcurrency)

	// 7. 启动后台 Kafka 消费者
	bgCtx, stopBackground := context.WithCancel(context.Background())
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		kafka.StartConsumer(bgCtx, cfg.Kafka, processor)
	}()

	// 7.1 导入知识库种子文件（幂等）
	go seedKnowledge(bgCtx, loader, cfg.Knowledge.SeedFile)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", healthz(db, rdb))

	// 9. 注册路由
	messageHandler := handler.NewMessageHandler(messageService)
	apiV1 := r.Group("/api/v1")
	{
		// 渠道 webhook 和审核回调不需要认证
		apiV1.POST("/messages", messageHandler.Ingest)
		apiV1.POST("/moderation/actions", handler.NewModerationHandler(gateway).Action)

		messages := apiV1.Group("/messages")
		messages.Use(middleware.OperatorAuth(jwtManager))
		{
			messages.GET("/recent", messageHandler.Recent)
			messages.GET("/:messageId", messageHandler.Get)
		}

		// WebSocket 无法携带授权头，token 放在 query 中
		apiV1.GET("/operator/stream", handler.NewOperatorHandler(hub, jwtManager).Stream)

		admin := apiV1.Group("/admin")
		admin.Use(middleware.OperatorAuth(jwtManager), middleware.AdminAuth())
		{
			admin.POST("/knowledge/reload", handler.NewAdminHandler(loader, cfg.Knowledge).ReloadKnowledge)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 先停消费者再关生产者：处理中的批次可能还会重新入队
	stopBackground()
	select {
	case <-consumerDone:
	case <-ctx.Done():
		log.Warnf("等待 Kafka 消费者退出超时")
	}
	if err := producer.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	if err := rdb.Close(); err != nil {
		log.Errorf("关闭 Redis 连接失败: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	log.Info("服务已优雅关闭")
}

// seedKnowledge 在启动时导入本地知识库文件，文件不存在则跳过。
func seedKnowledge(ctx context.Context, loader *pipeline.KnowledgeLoader, path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		log.Infof("seedKnowledge: 文件 '%s' 不存在或不可用，跳过初始化导入", path)
		return
	}
	n, err := loader.LoadFile(ctx, path)
	if err != nil {
		log.Warnf("seedKnowledge: 导入失败, 已写入 %d 条, err=%v", n, err)
		return
	}
	log.Infof("seedKnowledge: 导入完成, 共 %d 条", n)
}

// healthz 检查 MySQL 和 Redis 是否可用。
func healthz(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"mysql": "ok", "redis": "ok"}
		healthy := true
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status["mysql"] = "unavailable"
			healthy = false
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			status["redis"] = "unavailable"
			healthy = false
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"code": code, "message": "health", "data": status})
	}
}
