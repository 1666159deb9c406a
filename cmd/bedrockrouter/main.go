// Command bedrockrouter runs the request router: an HTTP surface for direct
// batch submissions and, when QUEUE_URL is set, an SQS consumer feeding the
// same processor.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	router "github.com/tessera-ops/bedrock-router"
	"github.com/tessera-ops/bedrock-router/internal/bedrock"
	"github.com/tessera-ops/bedrock-router/internal/cache"
	"github.com/tessera-ops/bedrock-router/internal/invocationlog"
	"github.com/tessera-ops/bedrock-router/internal/logging"
	"github.com/tessera-ops/bedrock-router/internal/server"
	"github.com/tessera-ops/bedrock-router/internal/sqsconsumer"
	"github.com/tessera-ops/bedrock-router/internal/version"
)

// backendInvoker routes agent IDs of the form "model/<modelID>" to direct
// foundation-model invocation and everything else to the agent runtime.
type backendInvoker struct {
	agents *bedrock.AgentInvoker
	models *bedrock.ModelInvoker
}

func (b backendInvoker) InvokeAgent(ctx context.Context, agentID, sessionID, inputText string) (string, error) {
	if modelID, ok := strings.CutPrefix(agentID, "model/"); ok {
		return b.models.InvokeModel(ctx, modelID, inputText)
	}
	return b.agents.InvokeAgent(ctx, agentID, sessionID, inputText)
}

func main() {
	logger := logging.Logger
	cfg := router.ConfigFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awscfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	// Cache store selection: accelerator endpoint first, then the table
	// directly; neither configured means caching is disabled.
	var store cache.Store
	switch {
	case cfg.RedisAddr != "":
		redisStore := cache.NewRedis(cfg.RedisAddr, os.Getenv("REDIS_PASSWORD"), 0)
		defer redisStore.Close()
		store = redisStore
		logger.Info("cache enabled", "store", "redis", "endpoint", cfg.RedisAddr)
	case cfg.CacheTable != "":
		store = cache.NewDynamo(dynamodb.NewFromConfig(awscfg), cfg.CacheTable)
		logger.Info("cache enabled", "store", "dynamodb", "table", cfg.CacheTable)
	default:
		logger.Info("cache disabled: no store configured")
	}

	invoker := backendInvoker{
		agents: bedrock.NewAgentInvoker(bedrockagentruntime.NewFromConfig(awscfg), cfg.AgentAliasID, logger),
		models: bedrock.NewModelInvoker(bedrockruntime.NewFromConfig(awscfg), logger),
	}

	processor := router.NewProcessor(cache.NewClient(store, logger), invoker, cfg.CacheTTL, logger)

	if dsn := cfg.InvocationLogDSN; dsn != "" {
		var writer *invocationlog.SQLWriter
		var err error
		if strings.HasPrefix(dsn, "postgres://") {
			writer, err = invocationlog.NewPostgresWriter(dsn)
		} else {
			writer, err = invocationlog.NewSQLiteWriter(strings.TrimPrefix(dsn, "sqlite:"))
		}
		if err != nil {
			log.Fatalf("Failed to open invocation log: %v", err)
		}
		defer writer.Close()
		processor.InvocationLog = writer
		logger.Info("invocation log enabled")
	}

	loadRouting := func() router.RoutingConfig {
		return router.LoadRoutingConfig(logger)
	}

	if cfg.QueueURL != "" {
		consumer := sqsconsumer.New(sqs.NewFromConfig(awscfg), cfg.QueueURL, processor, loadRouting, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sqs consumer stopped", "error", err.Error())
			}
		}()
		logger.Info("sqs consumer started", "queue", cfg.QueueURL)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Handler(processor, loadRouting),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err.Error())
		}
	}()

	logger.Info("bedrock-router listening", "version", version.Short(), "addr", srv.Addr, "region", cfg.Region)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stop()
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("server stopped")
}
