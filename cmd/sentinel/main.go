package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/wilhg/sentinel/pkg/config"
	"github.com/wilhg/sentinel/pkg/conn"
	"github.com/wilhg/sentinel/pkg/engine"
	"github.com/wilhg/sentinel/pkg/errmodel"
	"github.com/wilhg/sentinel/pkg/logging"
	otto "github.com/wilhg/sentinel/pkg/otel"
	"github.com/wilhg/sentinel/pkg/replay"
	"github.com/wilhg/sentinel/pkg/store"
	"github.com/wilhg/sentinel/pkg/store/entstore"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion bool
		configPath  string
		migrate     bool
		replayPath  string
	)
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&configPath, "config", getEnv("SENTINEL_CONFIG", ""), "path to a YAML config file")
	flag.BoolVar(&migrate, "migrate", false, "create the database schema before starting")
	flag.StringVar(&replayPath, "replay", "", "replay a JSON reading capture offline, print the alerts and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("sentinel %s (commit=%s, date=%s)\n", version, commit, date)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 2
	}
	log, closeLog, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 2
	}
	defer closeLog()

	if replayPath != "" {
		return runReplay(replayPath, cfg, log, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otto.Init(ctx, otto.Config{ServiceName: "sentinel", ServiceVersion: version, UseStdout: cfg.Tracing.Stdout})
	if err != nil {
		log.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() { _ = shutdownTracing(context.Background()) }()
	}

	mgr := conn.NewManager(dialer(cfg.Database.URL, migrate || cfg.Database.Migrate, log),
		conn.WithRetry(cfg.Connect.Attempts, cfg.Connect.Delay),
		conn.WithLogger(log),
	)
	eng := engine.New(mgr, engine.WithConfig(cfg.Engine()), engine.WithLogger(log))

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: buildMux(eng), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("sentinel starting", zap.String("version", version), zap.String("http_addr", cfg.HTTP.Addr))

	runErr := eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)

	if runErr != nil {
		log.Error("monitor failed to start", zap.Error(runErr))
		return 1
	}
	return 0
}

// dialer opens the store and, once, creates the schema.
func dialer(url string, migrate bool, log *zap.Logger) conn.Dialer {
	migrated := false
	return func(ctx context.Context) (store.Store, error) {
		st, err := entstore.Open(ctx, url)
		if err != nil {
			return nil, err
		}
		if migrate && !migrated {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			migrated = true
			log.Info("database schema migrated", zap.String("dialect", st.Dialect()))
		}
		return st, nil
	}
}

func runReplay(path string, cfg *config.Config, log *zap.Logger, out io.Writer) int {
	f, err := os.Open(path)
	if err != nil {
		log.Error("open capture", zap.Error(err))
		return 1
	}
	defer f.Close()
	capture, err := replay.Load(f)
	if err != nil {
		log.Error("load capture", zap.Error(err))
		return 1
	}
	res, err := replay.Run(context.Background(), capture, cfg.Engine(), log)
	if err != nil {
		log.Error("replay failed", zap.Error(err))
		return 1
	}
	enc := json.NewEncoder(out)
	for _, a := range res.Alerts {
		_ = enc.Encode(map[string]any{
			"sensor_id":      a.SensorID,
			"observation_id": a.ObservationID,
			"alert_type":     a.AlertType,
			"description":    a.Description,
			"severity":       a.Severity,
			"score":          a.Score,
			"created_at":     a.CreatedAt,
		})
	}
	log.Info("replay finished",
		zap.Int("cycles", res.Cycles),
		zap.Int("valid", res.Fetched),
		zap.Int("rejected", res.Rejected),
		zap.Int("alerts", len(res.Alerts)),
	)
	return 0
}

type healthChecker interface {
	Health() error
}

func buildMux(h healthChecker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := h.Health(); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(mux, "sentinel")
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
