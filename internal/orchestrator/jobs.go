package orchestrator

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// JobInfo describes the latest crawl job of a target.
type JobInfo struct {
	JobID      string            `json:"job_id,omitempty"`
	TargetID   string            `json:"target_id"`
	Status     crawler.JobStatus `json:"status"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type job struct {
	id      string
	running atomic.Bool
	stopped chan struct{}
	info    JobInfo
}

// stop clears the running flag and wakes any retry backoff. It reports
// whether this call did the stopping.
func (j *job) stop() bool {
	if !j.running.CompareAndSwap(true, false) {
		return false
	}
	close(j.stopped)
	return true
}

// backoffContext returns a child of ctx that ends when the job is stopped.
func (j *job) backoffContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-j.stopped:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// beginJob moves the target's job to RUNNING or fails with ErrAlreadyRunning.
func (s *Service) beginJob(targetID string) (*job, error) {
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[targetID]; ok && current.info.Status == crawler.JobStatusRunning {
		return nil, fmt.Errorf("target %s job %s: %w", targetID, current.id, crawler.ErrAlreadyRunning)
	}
	started := s.deps.Clock.Now()
	j := &job{
		id:      id,
		stopped: make(chan struct{}),
		info: JobInfo{
			JobID:     id,
			TargetID:  targetID,
			Status:    crawler.JobStatusRunning,
			StartedAt: &started,
		},
	}
	j.running.Store(true)
	s.jobs[targetID] = j
	return j, nil
}

func (s *Service) finishJob(targetID string, j *job, status crawler.JobStatus, err error) {
	finished := s.deps.Clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	j.running.Store(false)
	j.info.Status = status
	j.info.FinishedAt = &finished
	if err != nil {
		j.info.Error = err.Error()
	}
}

// Start runs a crawl of targetID in the background and returns its job ID.
// A target whose job is already running fails fast with ErrAlreadyRunning.
func (s *Service) Start(ctx context.Context, targetID string) (string, error) {
	target, err := s.deps.Store.GetTarget(ctx, targetID)
	if err != nil {
		return "", err
	}
	j, err := s.beginJob(targetID)
	if err != nil {
		return "", err
	}
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.run(runCtx, target, j); err != nil {
			s.logger.Debug("background crawl ended with error",
				zap.String("target_id", targetID),
				zap.String("job_id", j.id),
				zap.Error(err),
			)
		}
	}()
	return j.id, nil
}

// Stop asks the running job of targetID to stop at its next page or retry
// boundary. A retry backoff in progress ends at once.
// It reports whether a job was running; stopping an idle target does nothing.
func (s *Service) Stop(targetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[targetID]
	if !ok || j.info.Status != crawler.JobStatusRunning {
		return false
	}
	return j.stop()
}

// StopAll asks every running job to stop and returns how many were asked.
func (s *Service) StopAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	stopped := 0
	for _, j := range s.jobs {
		if j.info.Status == crawler.JobStatusRunning && j.stop() {
			stopped++
		}
	}
	return stopped
}

// JobStatus returns the latest job of targetID. Targets that never ran are IDLE.
func (s *Service) JobStatus(targetID string) JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[targetID]
	if !ok {
		return JobInfo{TargetID: targetID, Status: crawler.JobStatusIdle}
	}
	return j.info
}
