package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matiastonello92/pecora/internal/platform/database"
	"github.com/prometheus/client_golang/prometheus"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// Registerer receives pecora_audit_events_total when set.
	Registerer prometheus.Registerer
}

// AsyncLogger implements Logger with a buffered channel drained by one
// worker that writes batches. Event outcomes are counted as written, failed
// or dropped.
type AsyncLogger struct {
	events   chan Event
	store    *Store
	db       database.Querier
	cfg      LoggerConfig
	logger   *slog.Logger
	outcomes *prometheus.CounterVec

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewAsyncLogger creates and starts an async audit logger.
func NewAsyncLogger(db database.Querier, store *Store, cfg LoggerConfig, logger *slog.Logger) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &AsyncLogger{
		events: make(chan Event, cfg.BufferSize),
		store:  store,
		db:     db,
		cfg:    cfg,
		logger: logger,
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pecora_audit_events_total",
			Help: "Audit events by outcome",
		}, []string{"outcome"}),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(l.outcomes)
	}

	go l.run()
	return l
}

// Log enqueues an audit event. It never blocks; when the buffer is full the
// event is dropped.
func (l *AsyncLogger) Log(ctx context.Context, event Event) {
	select {
	case l.events <- event:
	default:
		l.outcomes.WithLabelValues("dropped").Inc()
		l.logger.WarnContext(ctx, "audit buffer full, dropping event", "action", event.Action)
	}
}

// Close writes what is buffered and stops the worker. It is safe to call
// more than once.
func (l *AsyncLogger) Close() error {
	l.closeOnce.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *AsyncLogger) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, l.cfg.BatchSize)
	for {
		select {
		case e := <-l.events:
			batch = append(batch, e)
			if len(batch) < l.cfg.BatchSize {
				continue
			}
		case <-ticker.C:
		case <-l.stop:
			l.write(append(batch, l.drain()...))
			return
		}
		l.write(batch)
		batch = batch[:0]
	}
}

func (l *AsyncLogger) write(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.store.InsertBatch(ctx, l.db, events); err != nil {
		l.outcomes.WithLabelValues("failed").Add(float64(len(events)))
		l.logger.Error("writing audit batch", "error", err, "count", len(events))
		return
	}
	l.outcomes.WithLabelValues("written").Add(float64(len(events)))
}

func (l *AsyncLogger) drain() []Event {
	var events []Event
	for {
		select {
		case e := <-l.events:
			events = append(events, e)
		default:
			return events
		}
	}
}
