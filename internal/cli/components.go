package cli

import (
	"fmt"
	"log/slog"
	"math/rand"

	"can-bus-simulator/internal/calibration"
	"can-bus-simulator/internal/config"
	"can-bus-simulator/internal/definition"
	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/playback"
	"can-bus-simulator/internal/simulator"
	"can-bus-simulator/internal/sniffer"
)

// newCatalog returns the definition-driven catalog when a definition file
// is configured, and nil (the static noise table) otherwise
func newCatalog(cfg *config.Config, logger *slog.Logger) (simulator.Catalog, error) {
	if cfg.DefinitionFile == "" {
		return nil, nil
	}

	defs, err := definition.LoadFile(cfg.DefinitionFile)
	if err != nil {
		return nil, err
	}
	catalog, err := simulator.NewSignalCatalog(defs)
	if err != nil {
		return nil, fmt.Errorf("invalid frame definitions: %w", err)
	}

	logger.Info("Loaded frame definitions", logging.Path(cfg.DefinitionFile), logging.Count(len(defs)))
	return catalog, nil
}

// newGenerator builds the generator. A nil rng seeds from the clock.
func newGenerator(cfg *config.Config, rng *rand.Rand, logger *slog.Logger, m *metrics.Metrics) (*simulator.Generator, error) {
	catalog, err := newCatalog(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := simulator.Options{
		ActiveEventProbability: cfg.ActiveEventProbability,
		RandomEventProbability: cfg.RandomNoiseProbability,
		JitterProbability:      cfg.JitterProbability,
		DedupWindow:            cfg.DedupWindow,
		MaxRetries:             cfg.DedupRetries,
		Rand:                   rng,
		Logger:                 logger,
		Metrics:                m,
	}
	return simulator.NewGenerator(nil, catalog, opts), nil
}

func newFilter(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *sniffer.Filter {
	return sniffer.NewFilter(sniffer.Options{
		PerIDCapacity:  cfg.HistoryPerID,
		GlobalCapacity: cfg.HistoryGlobal,
		Logger:         logger,
		Metrics:        m,
	})
}

func newCalibration(cfg *config.Config, sampler calibration.Sampler, sink calibration.EventSink, logger *slog.Logger, m *metrics.Metrics) *calibration.Engine {
	return calibration.NewEngine(sampler, sink, calibration.Options{
		BaselineDuration: cfg.CalibrationBaseline,
		PollInterval:     cfg.CalibrationPoll,
		Window:           cfg.CalibrationWindow,
		Logger:           logger,
		Metrics:          m,
	})
}

// newPlayback creates the playback engine and loads dir when set
func newPlayback(cfg *config.Config, injector playback.Injector, dir string, logger *slog.Logger, m *metrics.Metrics) (*playback.Engine, error) {
	engine := playback.NewEngine(injector, playback.Options{
		StopTimeout: cfg.PlaybackStopTimeout,
		Logger:      logger,
		Metrics:     m,
	})
	if dir == "" {
		return engine, nil
	}
	if _, err := engine.LoadDir(dir); err != nil {
		return nil, err
	}
	return engine, nil
}
