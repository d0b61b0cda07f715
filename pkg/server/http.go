package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/Depado/ginprom"
	"github.com/chatbridge/app/api/routes"
	"github.com/chatbridge/pkg/cache"
	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/middleware"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func NewRouter(appc config.App, allows config.Allows, limiter cache.RateLimiter, deps routes.WhatsAppDeps, log zerolog.Logger) *gin.Engine {
	app := gin.New()
	app.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("client_ip", c.ClientIP()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("proto", c.Request.Proto).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
	app.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	app.Use(gin.Recovery())
	app.Use(otelgin.Middleware(appc.Name))
	app.Use(middleware.ClaimIp())
	app.Use(cors.New(corsConfig(allows)))

	p := ginprom.New(
		ginprom.Engine(app),
		ginprom.Subsystem("gin"),
		ginprom.Path("/metrics"),
		ginprom.Ignore("/docs/*any"),
	)
	app.Use(p.Instrument())

	api := app.Group("/api/v1")

	// WhatsApp Routes
	routes.WhatsAppRoutes(api.Group("/whatsapp"), deps, middleware.CheckAuth(appc.JWTSecret), middleware.RateLimit(limiter))

	return app
}

func corsConfig(allows config.Allows) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Authorization", "X-Requested-With", "Origin", "Accept"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(allows.Methods) > 0 {
		cfg.AllowMethods = allows.Methods
	}
	if len(allows.Headers) > 0 {
		cfg.AllowHeaders = allows.Headers
	}
	if len(allows.Origins) > 0 {
		cfg.AllowOrigins = allows.Origins
	}
	return cfg
}

// LaunchHttpServer serves until ctx is cancelled, then drains in-flight
// requests for up to five seconds.
func LaunchHttpServer(ctx context.Context, appc config.App, handler http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort(appc.Host, appc.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server is running")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
