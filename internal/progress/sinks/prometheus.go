package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// PrometheusSink exports crawl job counters derived from lifecycle events.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec
	itemsTotal    prometheus.Counter
	pausesTotal   *prometheus.CounterVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_jobs_started_total",
			Help: "Crawl jobs started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_jobs_completed_total",
			Help: "Crawl jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_jobs_running",
			Help: "Crawl jobs currently running.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_job_runtime_seconds",
			Help:    "Wall time per completed crawl job.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		itemsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_items_extracted_total",
			Help: "Items extracted by successful crawl jobs.",
		}),
		pausesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_target_pauses_total",
			Help: "Targets paused after exceeding the error budget.",
		}, []string{"target"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.itemsTotal,
		s.pausesTotal,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register lifecycle collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Kind {
		case progress.KindCrawlStart:
			s.jobsStarted.Inc()
			if s.track(evt.JobID, true) {
				s.jobsRunning.Inc()
			}
		case progress.KindCrawlSuccess:
			s.complete(evt, "success")
			s.itemsTotal.Add(float64(evt.Items))
		case progress.KindCrawlError:
			s.complete(evt, "error")
		case progress.KindTargetPaused:
			s.pausesTotal.WithLabelValues(evt.TargetID).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) complete(evt progress.Event, result string) {
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

// track records a job start or completion and reports whether it changed state.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
