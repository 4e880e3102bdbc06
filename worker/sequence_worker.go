// Package worker runs the periodic background jobs of the server.
package worker

import (
	"context"
	"time"

	"leadpilot/monitoring"
	"leadpilot/sequence"
)

const (
	DefaultSequenceInterval = time.Minute
	DefaultBatchSize        = 50
)

// SequenceWorker runs a batch pass over eligible leads on every tick.
type SequenceWorker struct {
	processor *sequence.Processor
	monitor   *monitoring.Monitor

	Interval  time.Duration
	BatchSize int
}

func NewSequenceWorker(processor *sequence.Processor, monitor *monitoring.Monitor) *SequenceWorker {
	return &SequenceWorker{
		processor: processor,
		monitor:   monitor,
		Interval:  DefaultSequenceInterval,
		BatchSize: DefaultBatchSize,
	}
}

func (w *SequenceWorker) Start(ctx context.Context) {
	w.monitor.Logger.Info("Sequence worker started")
	run(ctx, w.Interval, func() { w.RunOnce(ctx) })
	w.monitor.Logger.Info("Sequence worker shutting down")
}

func (w *SequenceWorker) RunOnce(ctx context.Context) sequence.PassResult {
	result, err := w.processor.Run(ctx, w.BatchSize)
	if err != nil {
		w.monitor.LogError("sequence_worker", err, nil)
	}
	return result
}

// run calls fn on every tick until ctx is cancelled.
func run(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
