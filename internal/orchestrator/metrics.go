package orchestrator

import (
	"time"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// metricsLocked returns the metrics for targetID, creating them. Callers hold s.mu.
func (s *Service) metricsLocked(targetID string) *crawler.CrawlerMetrics {
	m, ok := s.metrics[targetID]
	if !ok {
		m = &crawler.CrawlerMetrics{}
		s.metrics[targetID] = m
	}
	return m
}

func (s *Service) recordStart(targetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(targetID)
	m.TotalCrawls++
	m.InFlight++
}

func (s *Service) recordSuccess(targetID string, d time.Duration, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(targetID)
	m.InFlight--
	m.SuccessfulCrawls++
	// Running mean over successful crawls.
	m.AverageDuration += (d - m.AverageDuration) / time.Duration(m.SuccessfulCrawls)
	ts := at
	m.LastSuccess = &ts
}

func (s *Service) recordFailure(targetID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metricsLocked(targetID)
	m.InFlight--
	m.FailedCrawls++
	if err != nil {
		m.LastError = err.Error()
	}
}

// Metrics returns a copy of the target's metrics and whether any exist.
func (s *Service) Metrics(targetID string) (crawler.CrawlerMetrics, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[targetID]
	if !ok {
		return crawler.CrawlerMetrics{}, false
	}
	out := *m
	if m.LastSuccess != nil {
		ts := *m.LastSuccess
		out.LastSuccess = &ts
	}
	return out, true
}
