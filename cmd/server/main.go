// Package main 是辅导服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pai-tutor-go/internal/config"
	"pai-tutor-go/internal/handler"
	"pai-tutor-go/internal/middleware"
	"pai-tutor-go/internal/model"
	"pai-tutor-go/internal/repository"
	"pai-tutor-go/internal/tutor"
	"pai-tutor-go/pkg/database"
	"pai-tutor-go/pkg/eduapi"
	"pai-tutor-go/pkg/kafka"
	"pai-tutor-go/pkg/log"
	"pai-tutor-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	// 3. 可选依赖：Redis 缓存 AI 状态，MySQL 记录使用事件
	var statusRepo repository.StatusRepository
	if cfg.Database.Redis.Addr != "" {
		if err := database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB); err != nil {
			log.Warnf("Redis 不可用，AI 状态将不做缓存: %v", err)
		} else {
			statusRepo = repository.NewStatusRepository(database.RDB)
		}
	}

	var eventRepo repository.EventRepository
	if cfg.Database.MySQL.DSN != "" {
		if err := database.InitMySQL(cfg.Database.MySQL.DSN, &model.TutorEvent{}); err != nil {
			log.Warnf("MySQL 不可用，使用事件不会落库: %v", err)
		} else {
			eventRepo = repository.NewEventRepository(database.DB)
		}
	}

	// 4. Kafka：生产者发布使用事件，消费者把事件写入 MySQL
	publisher := kafka.NewProducer(cfg.Kafka)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	if cfg.Kafka.Enabled() && eventRepo != nil {
		go kafka.StartConsumer(consumerCtx, cfg.Kafka, eventRepo)
	}

	// 5. 组装 handler
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, time.Hour)
	newBackend := func(tok string) eduapi.Client {
		return eduapi.NewClient(cfg.Backend, tok)
	}
	tutorHandler := handler.NewTutorHandler(jwtManager, newBackend, publisher, tutor.SessionOptions{
		HistoryWindow:     cfg.Tutor.HistoryWindow,
		StripMarkers:      cfg.Tutor.StripMarkers,
		WelcomeMessage:    cfg.Tutor.WelcomeMessage,
		QuizQuestionCount: cfg.Tutor.Quiz.QuestionCount,
		DefaultDifficulty: cfg.Tutor.Quiz.DefaultDifficulty,
	})
	statusHandler := handler.NewStatusHandler(newBackend, statusRepo, eventRepo, cfg.Tutor.StatusCacheTTL)

	// 6. 路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/tutor/:token", tutorHandler.Handle)

	apiV1 := r.Group("/api/v1")
	tutorAPI := apiV1.Group("/tutor")
	tutorAPI.Use(middleware.AuthMiddleware(jwtManager))
	{
		tutorAPI.GET("/status", statusHandler.GetStatus)
		tutorAPI.GET("/usage", statusHandler.GetUsage)
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

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Shutdown 不会关闭被劫持的 WebSocket 连接，会话随进程退出一起销毁。
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	stopConsumer()
	if err := publisher.Close(); err != nil {
		log.Errorf("关闭 Kafka 生产者失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
