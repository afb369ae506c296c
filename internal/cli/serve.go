package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"can-bus-simulator/internal/api"
	"can-bus-simulator/internal/bus"
	"can-bus-simulator/internal/config"
	"can-bus-simulator/internal/database/clickhouse"
	"can-bus-simulator/internal/database/influxdb"
	"can-bus-simulator/internal/labels"
	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/messaging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/seed"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the simulator with its HTTP API",
		Long: `Runs the generation loop at MESSAGE_RATE and serves the HTTP API,
the WebSocket frame stream and Prometheus metrics on API_PORT.

Optional backends are enabled through configuration:
  REDIS_ENABLED       label and vehicle store
  CLICKHOUSE_ENABLED  frame and statistics archive
  INFLUXDB_ENABLED    time-series frame points
  NATS_ENABLED        frame fan-out to <NATS_SUBJECT>.<id>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, st.cfg, st.logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting CAN bus simulator",
		slog.Float64("rate", cfg.MessageRate),
		slog.Int("api_port", cfg.APIPort),
		slog.Bool("development_mode", cfg.DevelopmentMode))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	gen, err := newGenerator(cfg, nil, logger, m)
	if err != nil {
		return err
	}
	filter := newFilter(cfg, logger, m)

	b := bus.New(gen, filter, bus.Options{
		Rate:    cfg.MessageRate,
		Logger:  logger,
		Metrics: m,
	})
	defer func() {
		if err := b.Close(); err != nil {
			logger.Error("Error closing sinks", logging.Error(err))
		}
	}()

	cal := newCalibration(cfg, b, gen, logger, m)
	b.SetRecorder(cal)

	pb, err := newPlayback(cfg, gen, cfg.SequenceDir, logger, m)
	if err != nil {
		return err
	}
	defer func() { _ = pb.Stop() }()

	deps := api.Deps{
		Generator:   gen,
		Filter:      filter,
		Calibration: cal,
		Playback:    pb,
		Stream:      b,
		Gatherer:    reg,
		Metrics:     m,
	}

	if cfg.RedisEnabled {
		client, err := labels.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()

		manager := labels.NewManager(labels.NewRedisStore(client, cfg.RedisPrefix), gen, logger)
		if err := manager.Sync(ctx); err != nil {
			return err
		}
		b.SetLabeler(manager)
		deps.Labels = manager
		logger.Info("Label store connected", slog.String("url", cfg.RedisURL))
	}

	if cfg.DevelopmentMode {
		var store seed.LabelStore
		if deps.Labels != nil {
			store = deps.Labels
		}
		if _, err := seed.New(store, pb, 0, logger).Run(ctx); err != nil {
			logger.Error("Error creating test data", logging.Error(err))
		}
	}

	collector := bus.NewStatsCollector(filter, gen, cfg.StatsInterval, logger)
	deps.Stats = collector

	var statsWriter *clickhouse.StatsWriter
	if cfg.ClickHouseEnabled {
		chConfig := clickhouse.Config{
			Host:       cfg.ClickHouseHost,
			Port:       cfg.ClickHousePort,
			HTTPPort:   cfg.ClickHouseHTTPPort,
			Database:   cfg.ClickHouseDatabase,
			Username:   cfg.ClickHouseUsername,
			Password:   cfg.ClickHousePassword,
			Table:      cfg.ClickHouseTable,
			StatsTable: cfg.ClickHouseStatsTable,
		}

		conn, err := clickhouse.Open(chConfig)
		if err != nil {
			return err
		}
		writer, err := clickhouse.New(conn, chConfig, cfg.BatchSize, logger, m)
		if err != nil {
			conn.Close()
			return err
		}
		b.AddSink(writer)
		deps.Archive = writer
		deps.Exporter = writer

		statsWriter, err = clickhouse.NewStatsWriter(conn, cfg.ClickHouseStatsTable, max(cfg.BatchSize/10, 1), logger, m)
		if err != nil {
			return err
		}
		statsWriter.Start()
		defer statsWriter.Close()

		logger.Info("Frame archive enabled",
			slog.String("host", cfg.ClickHouseHost),
			slog.String("table", cfg.ClickHouseTable))
	}

	if cfg.InfluxDBEnabled {
		writer, err := influxdb.New(influxdb.Config{
			URL:      cfg.InfluxDBURL,
			Token:    cfg.InfluxDBToken,
			Database: cfg.InfluxDBDatabase,
		}, cfg.BatchSize, logger, m)
		if err != nil {
			return err
		}
		b.AddSink(writer)
		logger.Info("InfluxDB points enabled", slog.String("url", cfg.InfluxDBURL))
	}

	if cfg.NATSEnabled {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Subject = cfg.NATSSubject

		publisher, err := messaging.Connect(natsConfig, logger, m)
		if err != nil {
			return err
		}
		b.AddSink(publisher)
	}

	server := api.NewServer(api.ServerConfig{Port: cfg.APIPort}, deps, logger)

	collector.Start()
	defer collector.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return b.Run(gctx)
	})

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return forwardStats(gctx, collector.Stats(), statsWriter)
	})

	logger.Info("Simulator started", slog.String("api", fmt.Sprintf("http://localhost:%d/", cfg.APIPort)))

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Simulator stopped")
	return nil
}

// forwardStats hands collected statistics to the archive until ctx ends.
// Without an archive the snapshots are only logged.
func forwardStats(ctx context.Context, stats <-chan models.BusStats, writer *clickhouse.StatsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-stats:
			if !ok {
				return nil
			}
			slog.Debug("Collected bus statistics",
				slog.Uint64("total_frames", s.TotalFrames),
				slog.Int("distinct_ids", s.DistinctIDs),
				slog.Float64("frequency_hz", s.FrequencyHz))
			if writer != nil {
				writer.Write(s)
			}
		}
	}
}
