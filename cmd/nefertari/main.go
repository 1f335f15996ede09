package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ramses-tech/nefertari/internal/app"
	"github.com/ramses-tech/nefertari/internal/config"
	"github.com/ramses-tech/nefertari/internal/domain"
	"github.com/ramses-tech/nefertari/internal/es"
	"github.com/ramses-tech/nefertari/internal/indexer"
	logpkg "github.com/ramses-tech/nefertari/internal/logger"
	"github.com/ramses-tech/nefertari/internal/metrics"
	"github.com/ramses-tech/nefertari/internal/orm/redisorm"
	"github.com/ramses-tech/nefertari/internal/query"
	"github.com/ramses-tech/nefertari/internal/resource"
	"github.com/ramses-tech/nefertari/internal/version"
	"github.com/ramses-tech/nefertari/internal/view"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting nefertari API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("db_addrs", cfg.Database.Addrs),
		zap.String("es_hosts", cfg.Elasticsearch.Hosts),
	)

	registry := app.NewRegistry()

	store, err := redisorm.NewStore(redisorm.Config{
		Addrs:     cfg.Database.Addrs,
		Password:  cfg.Database.Password,
		KeyPrefix: cfg.Database.KeyPrefix,
	}, registry)
	if err != nil {
		logger.Fatal("Failed to create primary store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Primary store not ready", zap.Error(err))
	}
	logger.Info("Connected to primary store")

	esClient, err := es.NewClient(es.Config{
		Hosts:            cfg.Elasticsearch.Hosts,
		IndexName:        cfg.Elasticsearch.IndexName,
		Sniff:            cfg.Elasticsearch.Sniff,
		SniffIntervalSec: cfg.Elasticsearch.SniffIntervalSec,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create elasticsearch client", zap.Error(err))
	}
	translator := query.New(esClient, logger)

	// Build the resource tree — composition root
	tree := resource.NewTree(logger)

	newView := func(name string, acl view.ACL) *view.View {
		info, ok := registry.Resolve(name)
		if !ok {
			logger.Fatal("Unknown model", zap.String("model", name))
		}
		ix, err := indexer.New(esClient, registry, store, name, cfg.Elasticsearch.ChunkSize, logger)
		if err != nil {
			logger.Fatal("Failed to create indexer", zap.String("model", name), zap.Error(err))
		}
		return view.New(info, registry, translator, store, ix, view.Options{
			Auth:           cfg.Auth.Enabled,
			PublicMaxLimit: cfg.Auth.PublicMaxLimit,
			ACL:            acl,
			ObjectURL:      tree.ItemURL,
			Logger:         logger,
		})
	}

	// Users allow anonymous reads but require a principal for writes.
	usersACL := func(u *domain.User, action string) bool {
		switch action {
		case view.ActionIndex, view.ActionShow:
			return true
		default:
			return u != nil
		}
	}

	tree.MustAdd(nil, resource.Options{
		MemberName:     "story",
		CollectionName: "stories",
		View:           newView("Story", nil),
	})
	users := tree.MustAdd(nil, resource.Options{
		MemberName:     "user",
		CollectionName: "users",
		View:           newView("User", usersACL),
	})
	tree.MustAdd(users, resource.Options{
		MemberName: "profile",
		View:       newView("Profile", nil),
	})

	polyView := view.NewPolymorphic(tree.PolyMembers(), registry, translator, view.Options{
		Auth:           cfg.Auth.Enabled,
		PublicMaxLimit: cfg.Auth.PublicMaxLimit,
		ObjectURL:      tree.ItemURL,
		Logger:         logger,
	})

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(principalMiddleware())
	r.Use(metrics.Middleware())

	r.Get("/_health", healthHandler(store, esClient))
	r.Handle("/metrics", promhttp.Handler())

	tree.Register(r)
	tree.RegisterPolymorphic(r, polyView)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// healthHandler reports primary-store and elasticsearch reachability.
func healthHandler(store *redisorm.Store, esClient *es.Client) http.HandlerFunc {
	type health struct {
		Status        string `json:"status"`
		Database      string `json:"database"`
		Elasticsearch string `json:"elasticsearch"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		h := health{Status: "ok", Database: "ok", Elasticsearch: "ok"}
		status := http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			h.Status, h.Database = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		}
		if err := esClient.Ping(r.Context()); err != nil {
			h.Status, h.Elasticsearch = "degraded", err.Error()
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(h)
	}
}

// principalMiddleware resolves the request principal from trusted proxy
// headers. An absent X-Username means an anonymous caller.
func principalMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username := r.Header.Get("X-Username")
			if username == "" {
				next.ServeHTTP(w, r)
				return
			}
			u := &domain.User{Username: username}
			if groups := r.Header.Get("X-Groups"); groups != "" {
				for _, g := range strings.Split(groups, ",") {
					if g = strings.TrimSpace(g); g != "" {
						u.Groups = append(u.Groups, g)
					}
				}
			}
			next.ServeHTTP(w, r.WithContext(domain.ContextWithUser(r.Context(), u)))
		})
	}
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"title":   "Internal Server Error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
