// Package monitoring provides the logger and metrics service injected into every component.
package monitoring

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Level       string // debug, info, warn, error
	Format      string // text or json
	SentryDSN   string
	Environment string
	Release     string
}

// Monitor writes structured logs through logrus, reports errors to Sentry when a
// DSN is configured and keeps in-process counters.
type Monitor struct {
	Logger *logrus.Logger
	hub    *sentry.Hub

	mu       sync.Mutex
	counters map[string]int64
}

func New(cfg Config) (*Monitor, error) {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	m := &Monitor{Logger: logger, counters: make(map[string]int64)}

	if cfg.SentryDSN != "" {
		client, err := sentry.NewClient(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
			Release:     cfg.Release,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to init sentry: %w", err)
		}
		m.hub = sentry.NewHub(client, sentry.NewScope())
	}
	return m, nil
}

// NewWithLogger wraps an existing logger with Sentry disabled.
func NewWithLogger(logger *logrus.Logger) *Monitor {
	return &Monitor{Logger: logger, counters: make(map[string]int64)}
}

// NewNop discards all output.
func NewNop() *Monitor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewWithLogger(logger)
}

// LogEvent logs events with structured context
func (m *Monitor) LogEvent(eventType string, data map[string]interface{}) {
	log := m.Logger.WithField("event_type", eventType)
	for k, v := range data {
		log = log.WithField(k, v)
	}
	log.Info("Event occurred")

	if m.hub != nil {
		m.hub.AddBreadcrumb(&sentry.Breadcrumb{
			Type:      "info",
			Category:  eventType,
			Data:      data,
			Timestamp: time.Now(),
		}, nil)
	}
}

// LogError logs errors with structured context to both console and Sentry
func (m *Monitor) LogError(errorType string, err error, context map[string]interface{}) {
	log := m.Logger.WithFields(logrus.Fields{
		"error_type": errorType,
		"error":      err.Error(),
	})
	for k, v := range context {
		log = log.WithField(k, v)
	}
	log.Error("Error occurred")
	m.Incr("errors."+errorType, 1)

	if m.hub != nil {
		m.hub.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("error_type", errorType)
			for k, v := range context {
				scope.SetExtra(k, v)
			}
			m.hub.CaptureException(err)
		})
	}
}

// Incr adds delta to the named counter.
func (m *Monitor) Incr(name string, delta int64) {
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

// Snapshot returns a copy of every counter.
func (m *Monitor) Snapshot() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

// CounterNames returns the counter names in sorted order.
func (m *Monitor) CounterNames() []string {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Flush waits up to timeout for buffered Sentry events and logs the final counters.
// It reports false if events were still pending when the timeout expired.
func (m *Monitor) Flush(timeout time.Duration) bool {
	snap := m.Snapshot()
	if len(snap) > 0 {
		fields := logrus.Fields{}
		for k, v := range snap {
			fields[k] = v
		}
		m.Logger.WithFields(fields).Info("Final counters")
	}
	if m.hub == nil {
		return true
	}
	return m.hub.Flush(timeout)
}
