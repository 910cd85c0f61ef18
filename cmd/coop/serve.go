package coop

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mariukha/CoopManager/pkg/coop"
	"github.com/mariukha/CoopManager/pkg/httputil"
	mw "github.com/mariukha/CoopManager/pkg/httputil/middleware"
	"github.com/mariukha/CoopManager/pkg/metrics"
	pg "github.com/mariukha/CoopManager/pkg/pgx"
	"github.com/mariukha/CoopManager/pkg/pgx/schema"
	"github.com/mariukha/CoopManager/pkg/rest"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const cleanupInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"rest"},
	Short:   "Start the REST API server",
	Long:    `Starts the REST API server in front of the cooperative schema`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("db.connString", "c", "", "PostgreSQL connection string")
	f.String("db.readConnString", "", "PostgreSQL connection string of a read replica")
	f.StringP("rest.listenAddr", "l", "", "REST server listen address")
	f.String("rest.baseURL", "", "Base URL for API endpoints")
	f.String("auth.jwtSecret", "", "HMAC secret for login tokens")
	f.Bool("auth.required", false, "Reject admin and resident requests without a token")
	f.String("metrics.addr", "", "Serve metrics on a separate address instead of /metrics")

	viper.BindPFlags(f)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.DB.ConnString == "" {
		return errors.New("PostgreSQL connection string required (db.connString)")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pools := pg.NewPoolManager()
	defer pools.Close()
	if err := pools.Add(ctx, pg.Pool{Name: pg.PoolPrimary, ConnString: cfg.DB.ConnString, MaxConns: cfg.DB.MaxConns}); err != nil {
		return err
	}
	if cfg.DB.ReadConnString != "" {
		if err := pools.Add(ctx, pg.Pool{Name: pg.PoolReplica, ConnString: cfg.DB.ReadConnString, MaxConns: cfg.DB.MaxConns}); err != nil {
			return err
		}
	}
	db, err := pools.Active()
	if err != nil {
		return err
	}
	reader, err := pools.Reader()
	if err != nil {
		return err
	}

	relations := append(append([]string{}, coop.Tables...), coop.ViewNames()...)
	relations = append(relations, coop.AuditLogTable)
	tables := schema.NewCache(db, cfg.DB.Schema, relations)
	if err := tables.Load(ctx); err != nil {
		return err
	}
	logger.Info("schema loaded", zap.Int("relations", len(tables.Names())))

	var wg sync.WaitGroup
	watchConnect := func(ctx context.Context) (*pgx.Conn, error) {
		return pgx.Connect(ctx, cfg.DB.ConnString)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tables.Watch(ctx, watchConnect, logger); err != nil && ctx.Err() == nil {
			logger.Error("schema watch stopped", zap.Error(err))
		}
	}()

	opts := rest.Options{
		DB:             db,
		Reader:         reader,
		Tables:         tables,
		Schema:         cfg.DB.Schema,
		AuthRequired:   cfg.Auth.Required,
		OpsCredentials: cfg.REST.BasicAuth,
	}
	if cfg.Auth.JWTSecret != "" {
		opts.Tokens = mw.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}
	if cfg.Auth.LoginRate > 0 {
		opts.LoginLimiter = mw.NewRateLimiter(cfg.Auth.LoginRate, cfg.Auth.LoginBurst)
		opts.LoginLimiter.StartCleanup(ctx, cleanupInterval)
	}
	if cfg.Cache.TTL > 0 {
		opts.Cache = mw.NewCache()
		opts.CacheTTL = cfg.Cache.TTL
		opts.Cache.StartCleanup(ctx, cleanupInterval)
	}
	if cfg.Metrics.Enabled {
		if cfg.Metrics.Addr == "" {
			opts.Metrics = metrics.Handler()
		} else {
			metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{Addr: cfg.Metrics.Addr, Logger: logger})
		}
	}

	routerOpts := []httputil.RouterOptions{
		httputil.WithServerOptions(func(s *http.Server) {
			s.ReadTimeout = cfg.REST.ReadTimeout
			s.WriteTimeout = cfg.REST.WriteTimeout
		}),
	}
	if cfg.REST.TLSCertFile != "" {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.REST.TLSCertFile, cfg.REST.TLSKeyFile))
	}
	router := httputil.NewRouter(routerOpts...)

	router.Use(mw.RequestID, mw.CORSWithOptions(corsOptions(cfg.REST.CORSOrigins)))
	if logLevel != "none" {
		router.Use(mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger}))
	}
	if cfg.Metrics.Enabled {
		router.Use(mw.Metrics)
	}
	rest.NewServer(opts).Register(router)

	errCh := make(chan error, 1)
	go func() {
		if err := router.ListenAndServe(cfg.REST.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Error("server error", zap.Error(err))
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := router.Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown", zap.Error(serr))
	}
	wg.Wait()
	logger.Info("server stopped")
	return err
}

// corsOptions keeps the default methods and headers and only narrows the
// allowed origins.
func corsOptions(origins []string) *mw.CORSOptions {
	if len(origins) == 0 {
		return nil
	}
	return &mw.CORSOptions{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept", "Origin", "Prefer", "Cache-Control", "X-Requested-With", mw.RequestIDHeader},
		ExposedHeaders:   []string{mw.RequestIDHeader, "Content-Range"},
		AllowCredentials: true,
	}
}
