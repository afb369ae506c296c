package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/metrics"
	"can-bus-simulator/internal/models"

	"github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
)

const (
	sinkName           = "influxdb"
	defaultMeasurement = "can_frames"
)

// Writer handles writing accepted frames to InfluxDB as points
type Writer struct {
	client      *influxdb3.Client
	measurement string
	batchSize   int
	batch       []models.AnnotatedFrame
	batchChan   chan models.AnnotatedFrame
	ctx         context.Context
	cancel      context.CancelFunc
	flushTimer  *time.Ticker
	done        chan struct{}
	startOnce   sync.Once
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// New creates a new InfluxDB writer
func New(config Config, batchSize int, logger *slog.Logger, m *metrics.Metrics) (*Writer, error) {
	client, err := influxdb3.New(influxdb3.ClientConfig{
		Host:     config.URL,
		Token:    config.Token,
		Database: config.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create InfluxDB client: %w", err)
	}

	if batchSize <= 0 {
		batchSize = 100
	}
	measurement := config.Measurement
	if measurement == "" {
		measurement = defaultMeasurement
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Writer{
		client:      client,
		measurement: measurement,
		batchSize:   batchSize,
		batch:       make([]models.AnnotatedFrame, 0, batchSize),
		batchChan:   make(chan models.AnnotatedFrame, batchSize*2),
		ctx:         ctx,
		cancel:      cancel,
		flushTimer:  time.NewTicker(1 * time.Second),
		done:        make(chan struct{}),
		logger:      logging.OrDefault(logger).With(logging.Component("influxdb-writer")),
		metrics:     m,
	}, nil
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

// flush writes the current batch to InfluxDB
func (w *Writer) flush() error {
	if len(w.batch) == 0 {
		return nil
	}

	points := make([]*influxdb3.Point, 0, len(w.batch))
	for _, frame := range w.batch {
		tags, fields := pointData(frame)
		points = append(points, influxdb3.NewPoint(w.measurement, tags, fields, frame.Time()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("failed to write points: %w", err)
	}

	w.logger.Debug("flushed frames", logging.Count(len(w.batch)))
	w.batch = w.batch[:0]
	return nil
}

// pointData splits a frame into point tags and fields. Payload bytes become
// data_N fields and decoded signals become signal_<name> fields.
func pointData(frame models.AnnotatedFrame) (map[string]string, map[string]any) {
	tags := map[string]string{
		"can_id": frame.ID,
	}
	if frame.Event != "" {
		tags["event"] = frame.Event
	}
	if frame.Label != "" {
		tags["label"] = frame.Label
	}

	fields := map[string]any{
		"data":            frame.Payload,
		"injected":        frame.Injected,
		"change_detected": frame.ChangeDetected,
	}
	if canID, err := models.ParseID(frame.ID); err == nil {
		fields["can_id_decimal"] = int64(canID)
	}
	if data, err := models.DecodePayload(frame.Payload); err == nil {
		for i, b := range data {
			fields[fmt.Sprintf("data_%d", i)] = int64(b)
		}
	}
	for name, v := range frame.Signals {
		fields["signal_"+name] = v
	}

	return tags, fields
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

// Close flushes pending frames and closes the InfluxDB client
func (w *Writer) Close() error {
	w.cancel()
	w.flushTimer.Stop()
	w.startOnce.Do(func() { close(w.done) })
	<-w.done

	if w.client != nil {
		return w.client.Close()
	}
	return nil
}
