package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"vcgateway/internal/platform/config"
	"vcgateway/internal/platform/httpserver"
	"vcgateway/internal/platform/logger"
	"vcgateway/internal/platform/metrics"
	platformredis "vcgateway/internal/platform/redis"
	"vcgateway/internal/template"
	"vcgateway/internal/token"
	"vcgateway/internal/vcapi"
	"vcgateway/internal/vcrequest/handler"
	"vcgateway/internal/vcrequest/service"
	"vcgateway/internal/vcrequest/store"
	"vcgateway/pkg/platform/audit"
	auditkafka "vcgateway/pkg/platform/audit/store/kafka"
	auditmemory "vcgateway/pkg/platform/audit/store/memory"
	auditworker "vcgateway/pkg/platform/audit/worker"
)

const auditBuffer = 256

// main wires the dependencies and runs the server, the audit worker and
// the store janitor until a shutdown signal arrives. Business logic lives
// in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, janitor, err := buildStore(ctx, cfg)
	if err != nil {
		log.Error("store setup failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}

	publisher := audit.NewPublisher(auditBuffer, log)
	auditStore := auditmemory.New(1024)
	var sinks []audit.Store
	if cfg.KafkaBrokers != "" {
		kafkaSink, err := auditkafka.New(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka audit sink setup failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sinks = append(sinks, kafkaSink)
	}
	worker := auditworker.New(auditStore, publisher.Inbox(), log, sinks...)

	tokens := token.NewClientCredentials(token.Config{
		Endpoint:     cfg.TokenEndpoint,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scope:        cfg.Scope,
		Timeout:      cfg.UpstreamTimeout,
	}, m)

	svc := service.New(
		service.Config{PermissiveTransitions: cfg.PermissiveTransitions},
		st,
		tokens,
		vcapi.New(cfg.APIEndpoint, cfg.UpstreamTimeout, m),
		template.NewLoader(cfg.TemplateDir),
		log,
		m,
		publisher,
	)

	router := chi.NewRouter()
	handler.New(handler.Config{StrictPoll: cfg.StrictPoll}, svc, log, m).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting vcgateway", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		return httpserver.Shutdown(srv)
	})

	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if janitor != nil {
		g.Go(func() error {
			janitor(gctx, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

type janitorFunc func(ctx context.Context, log *slog.Logger)

// buildStore selects the correlation store backend. Redis and Postgres
// handle expiry natively or in the query; the memory backend also gets a
// periodic sweep so abandoned records do not pile up.
func buildStore(ctx context.Context, cfg config.Config) (store.Store, janitorFunc, error) {
	switch cfg.StoreBackend {
	case "redis":
		client, err := platformredis.New(cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("redis backend selected but VCGATEWAY_REDIS_URL is unset")
		}
		return store.NewRedisStore(client.Client, cfg.RecordTTL), nil, nil

	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(db, cfg.RecordTTL)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, err
		}
		janitor := func(ctx context.Context, log *slog.Logger) {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if _, err := pg.DeleteExpired(ctx, now); err != nil {
						log.Error("expired record sweep failed", "error", err)
					}
				}
			}
		}
		return pg, janitor, nil

	case "memory", "":
		mem := store.NewInMemoryStore(cfg.RecordTTL)
		janitor := func(ctx context.Context, log *slog.Logger) {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					if n := mem.DeleteExpired(ctx, now); n > 0 {
						log.Info("swept expired records", "count", n)
					}
				}
			}
		}
		return mem, janitor, nil

	default:
		return nil, nil, errors.New("unknown store backend: " + cfg.StoreBackend)
	}
}
