package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// StatsWriter handles writing bus statistics to ClickHouse
type StatsWriter struct {
	conn       driver.Conn
	tableName  string
	batchSize  int
	batch      []models.BusStats
	batchChan  chan models.BusStats
	ctx        context.Context
	cancel     context.CancelFunc
	flushTimer *time.Ticker
	done       chan struct{}
	startOnce  sync.Once
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewStatsWriter creates a new ClickHouse statistics writer
func NewStatsWriter(conn driver.Conn, tableName string, batchSize int, logger *slog.Logger, m *metrics.Metrics) (*StatsWriter, error) {
	if batchSize <= 0 {
		batchSize = 10
	}

	if err := conn.Exec(context.Background(), createStatsTableQuery(tableName)); err != nil {
		return nil, fmt.Errorf("failed to create stats table: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &StatsWriter{
		conn:       conn,
		tableName:  tableName,
		batchSize:  batchSize,
		batch:      make([]models.BusStats, 0, batchSize),
		batchChan:  make(chan models.BusStats, batchSize*2),
		ctx:        ctx,
		cancel:     cancel,
		flushTimer: time.NewTicker(5 * time.Second),
		done:       make(chan struct{}),
		logger:     logging.OrDefault(logger).With(logging.Component("clickhouse-stats")),
		metrics:    m,
	}, nil
}

func createStatsTableQuery(tableName string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			total_frames UInt64,
			distinct_ids UInt32,
			frequency_hz Float64,
			queue_depth UInt32,
			active_events UInt32,

			-- per-id frequency over the stats window
			ids Array(String),
			id_counts Array(UInt32),
			id_frequencies Array(Float64)
		) ENGINE = MergeTree()
		ORDER BY timestamp
		PARTITION BY toYYYYMMDD(timestamp)
		SETTINGS index_granularity = 8192
	`, tableName)
}

// Start begins processing and writing statistics
func (w *StatsWriter) Start() {
	w.startOnce.Do(func() {
		go w.writeLoop()
	})
}

func (w *StatsWriter) writeLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return

		case stat := <-w.batchChan:
			w.batch = append(w.batch, stat)
			if len(w.batch) >= w.batchSize {
				w.flushAndLog()
			}

		case <-w.flushTimer.C:
			w.flushAndLog()
		}
	}
}

func (w *StatsWriter) drain() {
	for {
		select {
		case stat := <-w.batchChan:
			w.batch = append(w.batch, stat)
		default:
			w.flushAndLog()
			return
		}
	}
}

func (w *StatsWriter) flushAndLog() {
	if err := w.flush(); err != nil {
		w.metrics.SinkError(sinkName)
		w.logger.Error("stats flush failed", logging.Count(len(w.batch)), logging.Error(err))
		w.batch = w.batch[:0]
	}
}

// flush writes the current batch to ClickHouse
func (w *StatsWriter) flush() error {
	if len(w.batch) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, stat := range w.batch {
		if err := batch.Append(statsRow(stat)...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Debug("flushed statistics", logging.Count(len(w.batch)))
	w.batch = w.batch[:0]
	return nil
}

// statsRow maps a snapshot onto the column order of the stats table
func statsRow(stat models.BusStats) []any {
	ids := make([]string, 0, len(stat.PerID))
	counts := make([]uint32, 0, len(stat.PerID))
	freqs := make([]float64, 0, len(stat.PerID))
	for _, s := range stat.PerID {
		ids = append(ids, s.ID)
		counts = append(counts, uint32(s.Count))
		freqs = append(freqs, s.FrequencyHz)
	}

	return []any{
		stat.Timestamp,
		stat.TotalFrames,
		uint32(stat.DistinctIDs),
		stat.FrequencyHz,
		uint32(stat.QueueDepth),
		uint32(stat.ActiveEvents),
		ids,
		counts,
		freqs,
	}
}

// Write queues statistics for writing
func (w *StatsWriter) Write(stat models.BusStats) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}

	select {
	case w.batchChan <- stat:
	default:
		w.logger.Warn("stats batch channel full, dropping record")
	}
}

// Close flushes pending statistics and stops the writer
func (w *StatsWriter) Close() error {
	w.cancel()
	w.flushTimer.Stop()
	w.startOnce.Do(func() { close(w.done) })
	<-w.done
	return nil
}
