package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	"github.com/spf13/pflag"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/api/router"
	"resume-match-go/internal/config"
	appLogger "resume-match-go/internal/logger"
	"resume-match-go/internal/parser"
	"resume-match-go/internal/processor"
	"resume-match-go/internal/storage"
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "配置文件路径")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("加载配置失败")
	}

	appLogger.Init(appLogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(appLogger.Logger))
	appLogger.Info().Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化存储失败")
	}
	defer storageManager.Close()
	appLogger.Info().Msg("存储服务初始化成功")

	embedder, err := parser.NewAliyunEmbedder(cfg.Aliyun.APIKey, cfg.Aliyun.Embedding)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化Embedder失败")
	}
	appLogger.Info().Str("model", embedder.ModelVersion()).Msg("Embedder初始化成功")

	chunker, err := parser.NewTokenChunker(cfg.Chunker)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("初始化分块器失败")
	}
	appLogger.Info().
		Int("window_tokens", cfg.Chunker.WindowTokens).
		Int("overlap_tokens", cfg.Chunker.OverlapTokens).
		Msg("分块器初始化成功")

	// API密钥缺失时回退到mock模型，富化结果可解析但无业务价值
	var llmModel model.ToolCallingChatModel
	if cfg.Aliyun.APIKey != "" {
		llmModel, err = parser.NewAliyunChatModel(
			cfg.Aliyun.APIKey,
			cfg.Enricher.ModelName,
			cfg.Aliyun.BaseURL,
			parser.WithChatTemperature(cfg.Enricher.Temperature),
			parser.WithChatMaxTokens(cfg.Enricher.MaxTokens),
		)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("初始化聊天模型失败")
		}
		appLogger.Info().Str("model", cfg.Enricher.ModelName).Msg("聊天模型初始化成功")
	} else {
		llmModel = &processor.MockLLMModel{}
		appLogger.Warn().Msg("未配置API密钥，富化评估回退到MockLLMModel")
	}

	enricher := parser.NewLLMMatchEnricher(llmModel,
		parser.WithEvalTimeout(config.GetDuration(cfg.Enricher.EvalTimeout, 60*time.Second)))

	var ingestOptions []processor.IngestionOption
	var matchOptions []processor.MatchOption
	var resumeArchive handler.ResumeArchive
	if storageManager.Redis != nil {
		ingestOptions = append(ingestOptions, processor.WithIngestionCache(storageManager.Redis))
		matchOptions = append(matchOptions, processor.WithMatchCache(storageManager.Redis))
	}
	if storageManager.RabbitMQ != nil {
		ingestOptions = append(ingestOptions, processor.WithIngestionEvents(storageManager.RabbitMQ))
		matchOptions = append(matchOptions, processor.WithMatchEvents(storageManager.RabbitMQ))
	}
	if storageManager.MinIO != nil {
		ingestOptions = append(ingestOptions, processor.WithIngestionArchive(storageManager.MinIO))
		resumeArchive = storageManager.MinIO
	}

	ingestor := processor.NewIngestionProcessor(
		storageManager.MySQL, storageManager.Qdrant, embedder, chunker, ingestOptions...)
	matcher := processor.NewMatchProcessor(
		storageManager.MySQL, storageManager.Qdrant, enricher, embedder, matchOptions...)
	appLogger.Info().Msg("摄取与匹配处理器初始化成功")

	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
	)

	// 请求日志，并把应用logger放进请求上下文
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		c = appLogger.WithContext(c)
		start := time.Now()
		ctx.Next(c)
		appLogger.Ctx(c).Info().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("请求完成")
	})

	router.RegisterRoutes(h, cfg.Server.APIKey, router.Handlers{
		Job:        handler.NewJobHandler(ingestor, storageManager.MySQL),
		Resume:     handler.NewResumeHandler(ingestor, storageManager.MySQL, resumeArchive),
		Match:      handler.NewMatchHandler(matcher),
		Comparison: handler.NewComparisonHandler(storageManager.MySQL),
		Stats:      handler.NewStatsHandler(storageManager.Qdrant, storageManager.MySQL),
	})
	appLogger.Info().Str("address", cfg.Server.Address).Msg("HTTP路由注册成功，服务器启动中")

	go func() {
		if err := h.Run(); err != nil {
			appLogger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info().Msg("接收到终止信号，正在优雅退出")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("服务器关闭失败")
	}
	appLogger.Info().Msg("优雅退出完成")
}
