package engine

import (
	"context"

	"github.com/go-logr/logr"

	"github.com/boostd/boostd/internal/metrics"
	"github.com/boostd/boostd/internal/models"
)

// reportItem is a batch to deliver, or a barrier closed once every batch
// queued before it was delivered.
type reportItem struct {
	partition int
	entries   []models.ReportEntry
	done      chan struct{}
}

// reportSink delivers report batches on its own goroutine so partition
// workers never wait on the reporter. Batches keep the order in which
// partitions handed them over.
type reportSink struct {
	reporter Reporter
	queue    *mailbox[reportItem]
	logger   logr.Logger
	metrics  *metrics.Metrics
}

func newReportSink(o *options) *reportSink {
	return &reportSink{
		reporter: o.reporter,
		queue: newMailbox(func(it reportItem) {
			if it.done != nil {
				close(it.done)
			}
		}),
		logger:  o.logger.WithName("reports"),
		metrics: o.metrics,
	}
}

func (s *reportSink) enqueue(partition int, entries []models.ReportEntry) {
	if !s.queue.push(reportItem{partition: partition, entries: entries}) {
		s.logger.Info("dropping report batch after shutdown", "partition", partition, "entries", len(entries))
	}
}

// barrier returns a channel closed once everything queued so far was
// delivered.
func (s *reportSink) barrier() (chan struct{}, bool) {
	done := make(chan struct{})
	if !s.queue.push(reportItem{done: done}) {
		return nil, false
	}
	return done, true
}

func (s *reportSink) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			// batches already handed over are still delivered
			s.drain(context.WithoutCancel(ctx))
			s.queue.close()
			return nil
		case <-s.queue.ready:
			s.drain(ctx)
		}
	}
}

func (s *reportSink) drain(ctx context.Context) {
	for {
		it, ok := s.queue.pop()
		if !ok {
			return
		}
		if it.done != nil {
			close(it.done)
			continue
		}
		err := s.reporter.Report(ctx, it.entries)
		s.metrics.IncReport(err == nil)
		if err != nil {
			s.logger.Error(err, "external report failed", "partition", it.partition, "entries", len(it.entries))
		}
	}
}
