// Command server runs the multi-room chat backend: it wires the
// durable store, cache, bus, and every domain component together,
// serves the WebSocket upgrade endpoint plus a small admin HTTP surface,
// and shuts everything down in dependency order on SIGINT/SIGTERM.
// Grounded in the teacher's cmd/main.go wiring and gracefulShutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/dukepan/multi-rooms-chat-back/internal/bus"
	"github.com/dukepan/multi-rooms-chat-back/internal/cache"
	"github.com/dukepan/multi-rooms-chat-back/internal/config"
	"github.com/dukepan/multi-rooms-chat-back/internal/housekeeping"
	"github.com/dukepan/multi-rooms-chat-back/internal/hub"
	"github.com/dukepan/multi-rooms-chat-back/internal/logging"
	"github.com/dukepan/multi-rooms-chat-back/internal/messages"
	"github.com/dukepan/multi-rooms-chat-back/internal/metrics"
	"github.com/dukepan/multi-rooms-chat-back/internal/observability"
	"github.com/dukepan/multi-rooms-chat-back/internal/ratelimit"
	"github.com/dukepan/multi-rooms-chat-back/internal/rooms"
	"github.com/dukepan/multi-rooms-chat-back/internal/router"
	"github.com/dukepan/multi-rooms-chat-back/internal/store"
	"github.com/dukepan/multi-rooms-chat-back/internal/users"
	"github.com/dukepan/multi-rooms-chat-back/internal/wsauth"
)

const serviceVersion = "1.0.0"

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	cleanupOTel, err := observability.InitOpenTelemetry("multi-rooms-chat-back", serviceVersion)
	if err != nil {
		log.Fatal(ctx, "failed to init opentelemetry: %v", err)
	}

	db, err := store.NewPostgres(ctx, cfg.DatabaseURL, int32(cfg.DBPoolSize))
	if err != nil {
		log.Fatal(ctx, "failed to connect to postgres: %v", err)
	}

	var rdb *redis.Client
	var busImpl bus.Bus
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal(ctx, "invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal(ctx, "failed to connect to redis: %v", err)
		}
		busImpl = bus.NewRedisBus(rdb, log)
	} else {
		busImpl = bus.NewLocalBus()
	}

	chatCache := cache.New(rdb, log)
	userRegistry := users.New(db, chatCache)
	roomRegistry := rooms.New(db, chatCache, rooms.DefaultConfig())
	messageService := messages.New(db, chatCache, busImpl)
	limiter := ratelimit.New()
	connectionHub := hub.New(busImpl, log)

	rt := router.New(connectionHub, userRegistry, roomRegistry, messageService, limiter, log)
	connectionHub.SetHandler(rt.Handler())
	connectionHub.SetDisconnectHandler(rt.DisconnectHandler())

	janitor := housekeeping.New(db, log, 0)
	janitor.Start(ctx)

	var verifier *wsauth.Verifier
	if cfg.JWTRSAPublicKey != "" {
		verifier, err = wsauth.NewVerifier([]byte(cfg.JWTRSAPublicKey))
		if err != nil {
			log.Fatal(ctx, "invalid jwt public key: %v", err)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(connectionHub, verifier, log))
	mux.HandleFunc("/healthz", healthHandler(db))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}

	go func() {
		log.Info(ctx, "server listening on :%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, "http server failed: %v", err)
		}
	}()

	gracefulShutdown(ctx, log, httpServer, connectionHub, roomRegistry, limiter, janitor, busImpl, db, rdb, cleanupOTel, cfg.ShutdownDrainTimeout)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func wsHandler(h *hub.Hub, verifier *wsauth.Verifier, log *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier != nil {
			token := r.URL.Query().Get("token")
			if token == "" {
				http.Error(w, "missing token", http.StatusUnauthorized)
				return
			}
			if _, err := verifier.Verify(token); err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error(r.Context(), "websocket upgrade failed: %v", err)
			return
		}
		h.Register(conn)
	}
}

func healthHandler(db store.DurableStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// gracefulShutdown blocks until SIGINT/SIGTERM, then tears every
// dependency down in the reverse order it was started: stop accepting
// new HTTP connections, drain live WebSocket connections, stop the room
// sweeper and rate limiter janitor, close the bus and cache's Redis
// client, close the store pool, and finally flush OpenTelemetry.
func gracefulShutdown(
	ctx context.Context,
	log *logging.Logger,
	httpServer *http.Server,
	h *hub.Hub,
	roomRegistry *rooms.Registry,
	limiter *ratelimit.Limiter,
	janitor *housekeeping.Janitor,
	busImpl bus.Bus,
	db store.DurableStore,
	rdb *redis.Client,
	cleanupOTel func(context.Context) error,
	drainTimeout time.Duration,
) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info(ctx, "shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(ctx, drainTimeout+5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "http server shutdown error: %v", err)
	}

	h.Shutdown(drainTimeout)
	roomRegistry.Close()
	limiter.Close()
	janitor.Stop()
	janitor.Run(shutdownCtx)

	if err := busImpl.Close(); err != nil {
		log.Error(ctx, "bus close error: %v", err)
	}
	if rdb != nil {
		if err := rdb.Close(); err != nil {
			log.Error(ctx, "redis close error: %v", err)
		}
	}
	db.Close()

	if err := cleanupOTel(shutdownCtx); err != nil {
		log.Error(ctx, "opentelemetry cleanup error: %v", err)
	}

	log.Info(ctx, "shutdown complete")
}
