package bus

import (
	"log/slog"
	"sync"
	"time"

	"can-bus-simulator/internal/logging"
	"can-bus-simulator/internal/models"
	"can-bus-simulator/internal/sniffer"
)

// Gauges reports generator state for statistics snapshots
type Gauges interface {
	QueueDepth() int
	ActiveEvents() []string
}

// StatsCollector periodically samples filter activity into BusStats
type StatsCollector struct {
	filter    *sniffer.Filter
	gauges    Gauges
	interval  time.Duration
	statsChan chan models.BusStats
	stopChan  chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	now       func() time.Time
	logger    *slog.Logger
}

// NewStatsCollector creates a new statistics collector
func NewStatsCollector(filter *sniffer.Filter, gauges Gauges, interval time.Duration, logger *slog.Logger) *StatsCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StatsCollector{
		filter:    filter,
		gauges:    gauges,
		interval:  interval,
		statsChan: make(chan models.BusStats, 10),
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
		now:       time.Now,
		logger:    logging.OrDefault(logger).With(logging.Component("stats-collector")),
	}
}

// Start begins collecting statistics
func (sc *StatsCollector) Start() {
	sc.startOnce.Do(func() {
		go sc.collectLoop()
	})
}

// Stop stops the collector and closes its channel
func (sc *StatsCollector) Stop() {
	sc.stopOnce.Do(func() {
		close(sc.stopChan)
		sc.startOnce.Do(func() { close(sc.done) })
		<-sc.done
		close(sc.statsChan)
	})
}

// Stats returns the channel for receiving statistics
func (sc *StatsCollector) Stats() <-chan models.BusStats {
	return sc.statsChan
}

func (sc *StatsCollector) collectLoop() {
	defer close(sc.done)

	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.emit(sc.Collect())
		case <-sc.stopChan:
			return
		}
	}
}

func (sc *StatsCollector) emit(stats models.BusStats) {
	select {
	case sc.statsChan <- stats:
	default:
		sc.logger.Warn("stats channel full, dropping statistics")
	}
}

// Collect takes one snapshot over the trailing interval
func (sc *StatsCollector) Collect() models.BusStats {
	filterStats := sc.filter.Stats()
	global := sc.filter.AnalyzeFrequency("", sc.interval)

	stats := models.BusStats{
		Timestamp:   sc.now(),
		TotalFrames: filterStats.Accepted,
		DistinctIDs: filterStats.DistinctIDs,
		FrequencyHz: global.FrequencyHz,
	}
	if sc.gauges != nil {
		stats.QueueDepth = sc.gauges.QueueDepth()
		stats.ActiveEvents = len(sc.gauges.ActiveEvents())
	}

	for _, id := range sc.filter.IDs() {
		freq := sc.filter.AnalyzeFrequency(id, sc.interval)
		if freq.Count == 0 {
			continue
		}
		stats.PerID = append(stats.PerID, models.IDStats{
			ID:          id,
			Count:       freq.Count,
			FrequencyHz: freq.FrequencyHz,
		})
	}

	return stats
}
