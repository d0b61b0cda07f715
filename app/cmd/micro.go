package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatbridge/app/api/routes"
	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/database"
	"github.com/chatbridge/pkg/domains/appointment"
	"github.com/chatbridge/pkg/domains/conversation"
	"github.com/chatbridge/pkg/domains/ingest"
	"github.com/chatbridge/pkg/domains/media"
	"github.com/chatbridge/pkg/domains/reply"
	"github.com/chatbridge/pkg/domains/session"
	"github.com/chatbridge/pkg/logger"
	"github.com/chatbridge/pkg/providers/ai"
	"github.com/chatbridge/pkg/providers/documents"
	"github.com/chatbridge/pkg/providers/objectstore"
	"github.com/chatbridge/pkg/providers/whatsapp"
	"github.com/chatbridge/pkg/realtime"
	"github.com/chatbridge/pkg/server"
	"github.com/chatbridge/pkg/utils"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const scannerMinRun = 4

func StartApp() {
	envErr := utils.LoadEnv()
	config := config.InitConfig()
	log := logger.New(config.Log)
	if envErr != nil {
		// Environment variables can be provided via Docker Compose or system
		log.Info().Msg(".env file not found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database.InitDB(config.Database, log)
	db := database.DBClient()

	var (
		pairing cache.PairingStore
		echo    cache.EchoSet
		limiter cache.RateLimiter
		rdb     *redis.Client
	)
	hub := realtime.NewHub(log)
	if config.Redis.Addr != "" {
		rdb = cache.NewClient(config.Redis)
		if err := cache.Ping(ctx, rdb); err != nil {
			log.Fatal().Err(err).Msg("redis unreachable")
		}
		pairing = cache.NewRedisPairingStore(rdb)
		echo = cache.NewRedisEchoSet(rdb, config.WhatsApp.EchoTTL)
		limiter = cache.NewRedisRateLimiter(rdb, config.RateLimit.Requests, config.RateLimit.Window)
		hub.UseRedis(rdb)
		if err := hub.StartRedisSubscriber(ctx); err != nil {
			log.Fatal().Err(err).Msg("realtime subscriber")
		}
		defer hub.StopRedisSubscriber()
	} else {
		pairing = cache.NewMemoryPairingStore()
		echo = cache.NewMemoryEchoSet(config.WhatsApp.EchoTTL)
		limiter = cache.NewMemoryRateLimiter(config.RateLimit.Requests, config.RateLimit.Window)
	}

	emitter := realtime.Multi{hub}
	if config.Events.AMQPURL != "" {
		publisher, err := realtime.NewAMQPPublisher(config.Events.AMQPURL, config.Events.Exchange, config.App.Name, log)
		if err != nil {
			log.Error().Err(err).Msg("event bus unavailable, realtime events stay local")
		} else {
			defer publisher.Close()
			emitter = append(emitter, publisher)
		}
	}

	var store media.ObjectStorage
	if config.Minio.Endpoint != "" {
		client, err := objectstore.NewClient(config.Minio)
		if err != nil {
			log.Fatal().Err(err).Msg("object storage client")
		}
		if err := objectstore.EnsureBucket(ctx, client, config.Minio.Bucket); err != nil {
			log.Fatal().Err(err).Str("bucket", config.Minio.Bucket).Msg("object storage bucket")
		}
		store = objectstore.New(client, config.Minio)
	}

	conversations := conversation.NewRepo(db)
	mediaPipeline := media.NewPipeline(
		config.Media,
		ai.NewTranscriber(config.AI),
		ai.NewVision(config.AI),
		documents.PDF{},
		documents.Scanner{MinRun: scannerMinRun},
		store,
		log,
	)

	provider, err := whatsapp.NewProvider(config.WhatsApp, log)
	if err != nil {
		log.Fatal().Err(err).Msg("whatsapp provider")
	}
	manager := session.NewManager(config.WhatsApp, session.NewRegistry(), session.Deps{
		Provider:          provider,
		Repo:              session.NewRepo(db),
		Contacts:          conversations,
		Pairing:           pairing,
		Echo:              echo,
		Emitter:           emitter,
		FallbackPersonaID: config.Reply.FallbackPersonaID,
	}, log)

	orchestrator := reply.NewOrchestrator(config.Reply, reply.Deps{
		Repo:      conversations,
		Sender:    manager,
		Primary:   completer(config.AI.Primary),
		Secondary: completer(config.AI.Secondary),
		Effects:   appointment.NewService(appointment.NewRepo(db), log),
		Emitter:   emitter,
	}, log)

	pipeline := ingest.NewPipeline(config.Media, ingest.Deps{
		Repo:     conversations,
		Accounts: manager,
		Media:    mediaPipeline,
		Replier:  orchestrator,
		Echo:     echo,
		Emitter:  emitter,
	}, log)
	manager.SetIngestor(pipeline)

	if err := manager.RestoreSessions(ctx); err != nil {
		log.Error().Err(err).Msg("restore sessions")
	}

	router := server.NewRouter(config.App, config.Allows, limiter, routes.WhatsAppDeps{
		Sessions:      manager,
		Replies:       orchestrator,
		Conversations: conversations,
		Hub:           hub,
		Validator:     utils.NewCustomValidator(),
	}, log)
	if err := server.LaunchHttpServer(ctx, config.App, router, log); err != nil {
		log.Error().Err(err).Msg("http server")
	}

	shutdown(manager, pipeline, log)
}

// shutdown closes every session without purging credentials, then waits for
// extractions and replies already in flight.
func shutdown(manager *session.Manager, pipeline *ingest.Pipeline, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("session shutdown")
	}

	done := make(chan struct{})
	go func() {
		pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("background work still running at exit")
	}
	log.Info().Msg("bye")
}

func completer(cfg config.AIProvider) reply.Completer {
	if cfg.APIKey == "" {
		return nil
	}
	return ai.NewCompleter(cfg)
}
