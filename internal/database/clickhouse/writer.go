package clickhouse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const sinkName = "clickhouse"

// Writer archives accepted frames to ClickHouse in batches
type Writer struct {
	conn       driver.Conn
	config     Config
	batchSize  int
	batch      []models.AnnotatedFrame
	batchChan  chan models.AnnotatedFrame
	ctx        context.Context
	cancel     context.CancelFunc
	flushTimer *time.Ticker
	done       chan struct{}
	startOnce  sync.Once
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Open connects to ClickHouse and verifies the connection
func Open(config Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", config.Host, config.Port)},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return conn, nil
}

// New creates a new ClickHouse frame writer on an open connection
func New(conn driver.Conn, config Config, batchSize int, logger *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	if err := conn.Exec(context.Background(), createFramesTableQuery(config.Table)); err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		conn:       conn,
		config:     config,
		batchSize:  batchSize,
		batch:      make([]models.AnnotatedFrame, 0, batchSize),
		batchChan:  make(chan models.AnnotatedFrame, batchSize*2),
		ctx:        ctx,
		cancel:     cancel,
		flushTimer: time.NewTicker(1 * time.Second),
		done:       make(chan struct{}),
		logger:     logging.OrDefault(logger).With(logging.Component("clickhouse-writer")),
		metrics:    m,
	}, nil
}

func createFramesTableQuery(tableName string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp DateTime64(6),
			can_id UInt32,
			id String,
			data String,
			event String,
			label String,
			injected Bool,
			change_detected Bool
		) ENGINE = MergeTree()
		ORDER BY (timestamp, can_id)
		PARTITION BY toYYYYMMDD(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 1 MONTH
		SETTINGS index_granularity = 8192
	`, tableName)
}

// Start begins processing and writing frames
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		go w.writeLoop()
	})
}

func (w *Writer) writeLoop() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return

		case frame := <-w.batchChan:
			w.batch = append(w.batch, frame)
			if len(w.batch) >= w.batchSize {
				w.flushAndLog()
			}

		case <-w.flushTimer.C:
			w.flushAndLog()
		}
	}
}

// drain flushes whatever is still queued when the writer shuts down
func (w *Writer) drain() {
	for {
		select {
		case frame := <-w.batchChan:
			w.batch = append(w.batch, frame)
		default:
			w.flushAndLog()
			return
		}
	}
}

func (w *Writer) flushAndLog() {
	if err := w.flush(); err != nil {
		w.metrics.SinkError(sinkName)
		w.logger.Error("flush failed", logging.Count(len(w.batch)), logging.Error(err))
		w.batch = w.batch[:0]
	}
}

// flush writes the current batch to ClickHouse
func (w *Writer) flush() error {
	if len(w.batch) == 0 {
		return nil
	}

	// A fresh context lets the final flush succeed after cancel.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.config.Table))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, frame := range w.batch {
		if err := batch.Append(frameRow(frame)...); err != nil {
			return fmt.Errorf("failed to append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	w.logger.Debug("flushed frames", logging.Count(len(w.batch)))
	w.batch = w.batch[:0]
	return nil
}

// frameRow maps a frame onto the column order of the frames table
func frameRow(frame models.AnnotatedFrame) []any {
	canID, err := models.ParseID(frame.ID)
	if err != nil {
		canID = 0
	}
	return []any{
		frame.Time(),
		canID,
		frame.ID,
		frame.Payload,
		frame.Event,
		frame.Label,
		frame.Injected,
		frame.ChangeDetected,
	}
}

// Write queues a frame for writing
func (w *Writer) Write(frame models.AnnotatedFrame) {
	select {
	case <-w.ctx.Done():
		return
	default:
	}

	select {
	case w.batchChan <- frame:
	default:
		w.metrics.SinkError(sinkName)
		w.logger.Warn("batch channel full, dropping frame", logging.FrameID(frame.ID))
	}
}

// Close flushes pending frames and closes the ClickHouse connection
func (w *Writer) Close() error {
	w.cancel()
	w.flushTimer.Stop()

	// A writer that never started has no loop to close done.
	w.startOnce.Do(func() { close(w.done) })
	<-w.done

	if w.conn != nil {
		return w.conn.Close()
	}
	return nil
}

// Conn returns the underlying ClickHouse connection
func (w *Writer) Conn() driver.Conn {
	return w.conn
}

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatParquet ExportFormat = "Parquet"
	FormatCSV     ExportFormat = "CSVWithNames"
)

// ExportOptions contains options for exporting archived frames
type ExportOptions struct {
	Format      ExportFormat
	StartTime   time.Time
	EndTime     time.Time
	Compression string // snappy, lz4, brotli, zstd, gzip, none - default: zstd
}

// exportQuery builds the SELECT ... FORMAT statement sent over the HTTP interface
func exportQuery(tableName string, opts ExportOptions) string {
	if opts.Compression == "" {
		opts.Compression = "zstd"
	}

	format := opts.Format
	settings := ""
	switch format {
	case FormatCSV:
	default:
		format = FormatParquet
		settings = fmt.Sprintf("SETTINGS output_format_parquet_compression_method='%s'", opts.Compression)
	}

	return fmt.Sprintf(`
		SELECT
			timestamp,
			id,
			data,
			event,
			label,
			injected,
			change_detected
		FROM %s
		WHERE timestamp >= '%s' AND timestamp < '%s'
		ORDER BY timestamp
		FORMAT %s
		%s
	`,
		tableName,
		opts.StartTime.UTC().Format("2006-01-02 15:04:05"),
		opts.EndTime.UTC().Format("2006-01-02 15:04:05"),
		format,
		settings,
	)
}

// ExportToWriter streams archived frames to writer in the requested format
// through the ClickHouse HTTP interface
func (w *Writer) ExportToWriter(ctx context.Context, writer io.Writer, opts ExportOptions) error {
	port := w.config.HTTPPort
	if port == 0 {
		port = 8123
	}

	params := url.Values{}
	params.Set("query", exportQuery(w.config.Table, opts))
	params.Set("database", w.config.Database)
	if w.config.Username != "" {
		params.Set("user", w.config.Username)
		params.Set("password", w.config.Password)
	}

	fullURL := fmt.Sprintf("http://%s:%d/?%s", w.config.Host, port, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build export request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute HTTP query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ClickHouse HTTP query failed with status %d", resp.StatusCode)
	}

	written, err := io.Copy(writer, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to copy export data: %w", err)
	}

	w.logger.Info("exported frames", slog.Int64("bytes", written), slog.String("format", string(opts.Format)))
	return nil
}
