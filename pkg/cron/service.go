// Package cron runs persisted jobs, mainly the follow-up reminders sent to
// new contacts. Jobs survive restarts in a JSON store.
package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"shopbot/pkg/lifecycle"
	"shopbot/pkg/logger"
)

const (
	defaultRunLoopMinSleep              = 1 * time.Second
	defaultRunLoopMaxSleep              = 30 * time.Second
	defaultRetryBackoffBase             = 30 * time.Second
	defaultRetryBackoffMax              = 30 * time.Minute
	defaultMaxConsecutiveFailureRetries = 5
)

const (
	PayloadReminder = "reminder"
	PayloadMessage  = "message"
)

type RuntimeOptions struct {
	RunLoopMinSleep              time.Duration
	RunLoopMaxSleep              time.Duration
	RetryBackoffBase             time.Duration
	RetryBackoffMax              time.Duration
	MaxConsecutiveFailureRetries int64
	MaxWorkers                   int
}

func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		RunLoopMinSleep:              defaultRunLoopMinSleep,
		RunLoopMaxSleep:              defaultRunLoopMaxSleep,
		RetryBackoffBase:             defaultRetryBackoffBase,
		RetryBackoffMax:              defaultRetryBackoffMax,
		MaxConsecutiveFailureRetries: defaultMaxConsecutiveFailureRetries,
		MaxWorkers:                   1,
	}
}

func normalizeRuntimeOptions(opts RuntimeOptions) RuntimeOptions {
	def := DefaultRuntimeOptions()

	if opts.RunLoopMinSleep <= 0 {
		opts.RunLoopMinSleep = def.RunLoopMinSleep
	}
	if opts.RunLoopMaxSleep <= 0 {
		opts.RunLoopMaxSleep = def.RunLoopMaxSleep
	}
	if opts.RunLoopMinSleep > opts.RunLoopMaxSleep {
		opts.RunLoopMinSleep = opts.RunLoopMaxSleep
	}
	if opts.RetryBackoffBase <= 0 {
		opts.RetryBackoffBase = def.RetryBackoffBase
	}
	if opts.RetryBackoffMax <= 0 {
		opts.RetryBackoffMax = def.RetryBackoffMax
	}
	if opts.RetryBackoffBase > opts.RetryBackoffMax {
		opts.RetryBackoffBase = opts.RetryBackoffMax
	}
	if opts.MaxConsecutiveFailureRetries < 0 {
		opts.MaxConsecutiveFailureRetries = def.MaxConsecutiveFailureRetries
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = def.MaxWorkers
	}
	return opts
}

// Payload is what a job does when it fires: send Message to the chat
// address To.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	To      string `json:"to"`
}

type JobState struct {
	NextRunAtMS         *int64 `json:"nextRunAtMs,omitempty"`
	LastRunAtMS         *int64 `json:"lastRunAtMs,omitempty"`
	LastStatus          string `json:"lastStatus,omitempty"`
	LastError           string `json:"lastError,omitempty"`
	LastDurationMS      int64  `json:"lastDurationMs,omitempty"`
	LastScheduleDelayMS int64  `json:"lastScheduleDelayMs,omitempty"`
	TotalRuns           int64  `json:"totalRuns,omitempty"`
	TotalFailures       int64  `json:"totalFailures,omitempty"`
	ConsecutiveFailures int64  `json:"consecutiveFailures,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMS    int64    `json:"createdAtMs"`
	UpdatedAtMS    int64    `json:"updatedAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun"`
}

type jobStore struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// JobHandler executes a due job. A returned error schedules a retry with
// exponential backoff.
type JobHandler func(ctx context.Context, job Job) error

type Status struct {
	Running          bool   `json:"running"`
	Jobs             int    `json:"jobs"`
	EnabledJobs      int    `json:"enabledJobs"`
	NextWakeAtMS     *int64 `json:"nextWakeAtMs,omitempty"`
	TotalRuns        int64  `json:"totalRuns"`
	TotalFailures    int64  `json:"totalFailures"`
	LatestDelayMS    int64  `json:"latestDelayMs"`
	LatestDurationMS int64  `json:"latestDurationMs"`
}

type Service struct {
	storePath string
	store     *jobStore
	onJob     JobHandler
	opts      RuntimeOptions
	running   map[string]struct{}
	mu        sync.RWMutex
	runner    *lifecycle.LoopRunner
}

func NewService(storePath string, onJob JobHandler) *Service {
	s := &Service{
		storePath: storePath,
		onJob:     onJob,
		opts:      DefaultRuntimeOptions(),
		running:   make(map[string]struct{}),
		runner:    lifecycle.NewLoopRunner(),
	}
	if err := s.loadStore(); err != nil {
		logger.WarnCF("cron", "Failed to load job store, starting empty", map[string]interface{}{
			"path":            storePath,
			logger.FieldError: err.Error(),
		})
	}
	return s
}

func (s *Service) SetRuntimeOptions(opts RuntimeOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opts = normalizeRuntimeOptions(opts)
}

func (s *Service) Start(ctx context.Context) error {
	if s.runner.Running() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadStore(); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	if changed := s.recomputeNextRuns(); changed {
		if err := s.saveStore(); err != nil {
			return fmt.Errorf("failed to save store: %w", err)
		}
	}

	s.runner.Start(ctx, s.runLoop)
	logger.InfoCF("cron", "Job scheduler started", map[string]interface{}{
		"jobs": len(s.store.Jobs),
	})
	return nil
}

// Reload replaces the in-memory jobs with the store on disk, picking up edits
// made by another process. Jobs already executing finish against the reloaded
// entry with the same ID.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadStore(); err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	if s.recomputeNextRuns() {
		if err := s.saveStore(); err != nil {
			return fmt.Errorf("failed to save store: %w", err)
		}
	}
	logger.InfoCF("cron", "Job store reloaded", map[string]interface{}{
		"jobs": len(s.store.Jobs),
	})
	return nil
}

func (s *Service) Stop() {
	if s.runner.Stop() {
		logger.InfoC("cron", "Job scheduler stopped")
	}
}

func (s *Service) runLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(s.nextSleepDuration(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.checkJobs(ctx)
		}
	}
}

func (s *Service) checkJobs(ctx context.Context) {
	if !s.runner.Running() {
		return
	}

	s.mu.RLock()
	now := time.Now().UnixMilli()
	var dueIDs []string
	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= now {
			dueIDs = append(dueIDs, job.ID)
		}
	}
	s.mu.RUnlock()

	if len(dueIDs) == 0 {
		return
	}

	opts := s.getRuntimeOptions()
	var changed bool
	var changedMu sync.Mutex
	sem := make(chan struct{}, opts.MaxWorkers)
	var wg sync.WaitGroup
	for _, jobID := range dueIDs {
		if !s.markJobRunning(jobID) {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() {
				<-sem
				s.unmarkJobRunning(id)
			}()
			if s.executeJobByID(ctx, id) {
				changedMu.Lock()
				changed = true
				changedMu.Unlock()
			}
		}(jobID)
	}
	wg.Wait()

	if !changed {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.saveStore(); err != nil {
		logger.ErrorCF("cron", "Failed to persist job store", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
}

func (s *Service) executeJobByID(ctx context.Context, jobID string) bool {
	s.mu.RLock()
	idx := s.findJobIndexLocked(jobID)
	if idx < 0 {
		s.mu.RUnlock()
		return false
	}
	snapshot := s.store.Jobs[idx]
	if !snapshot.Enabled || snapshot.State.NextRunAtMS == nil {
		s.mu.RUnlock()
		return false
	}
	plannedRun := *snapshot.State.NextRunAtMS
	s.mu.RUnlock()

	startTime := time.Now().UnixMilli()
	execStart := time.Now()

	var err error
	if s.onJob != nil {
		err = s.onJob(ctx, snapshot)
	}
	durationMS := time.Since(execStart).Milliseconds()

	s.mu.Lock()
	defer s.mu.Unlock()

	idx = s.findJobIndexLocked(jobID)
	if idx < 0 {
		return false
	}
	job := &s.store.Jobs[idx]
	if !job.Enabled {
		return false
	}

	job.State.LastRunAtMS = &startTime
	job.UpdatedAtMS = time.Now().UnixMilli()
	job.State.LastDurationMS = durationMS
	job.State.LastScheduleDelayMS = max(0, startTime-plannedRun)
	job.State.TotalRuns++

	if err != nil {
		job.State.LastStatus = "error"
		job.State.LastError = err.Error()
		job.State.TotalFailures++
		job.State.ConsecutiveFailures++
		logger.WarnCF("cron", "Job failed", map[string]interface{}{
			logger.FieldJobID: job.ID,
			"name":            job.Name,
			"failures":        job.State.ConsecutiveFailures,
			logger.FieldError: err.Error(),
		})
	} else {
		job.State.LastStatus = "ok"
		job.State.LastError = ""
		job.State.ConsecutiveFailures = 0
		logger.InfoCF("cron", "Job executed", map[string]interface{}{
			logger.FieldJobID: job.ID,
			"name":            job.Name,
		})
	}

	if err != nil && job.State.ConsecutiveFailures <= s.opts.MaxConsecutiveFailureRetries {
		retryAt := time.Now().Add(computeRetryBackoff(job.State.ConsecutiveFailures, s.opts.RetryBackoffBase, s.opts.RetryBackoffMax)).UnixMilli()
		job.State.NextRunAtMS = &retryAt
		return true
	}

	if job.Schedule.Kind == KindAt {
		if job.DeleteAfterRun {
			s.removeJobLocked(job.ID)
		} else {
			job.Enabled = false
			job.State.NextRunAtMS = nil
		}
	} else {
		job.State.NextRunAtMS = nextRunAfter(&job.Schedule, plannedRun, time.Now().UnixMilli())
	}
	return true
}

// recomputeNextRuns refreshes every enabled job's next run. One-shot jobs
// that came due while the process was down still fire once.
func (s *Service) recomputeNextRuns() bool {
	changed := false
	now := time.Now().UnixMilli()
	for i := range s.store.Jobs {
		job := &s.store.Jobs[i]
		old := job.State.NextRunAtMS

		if job.Enabled {
			switch {
			case job.Schedule.Kind != KindAt:
				job.State.NextRunAtMS = nextRunAfter(&job.Schedule, now, now)
			case job.State.LastRunAtMS == nil && job.Schedule.AtMS != nil:
				at := *job.Schedule.AtMS
				job.State.NextRunAtMS = &at
			}
			// retries of one-shot jobs keep their stored time
		}

		if (old == nil) != (job.State.NextRunAtMS == nil) ||
			(old != nil && job.State.NextRunAtMS != nil && *old != *job.State.NextRunAtMS) {
			changed = true
		}
	}
	return changed
}

func (s *Service) nextWakeMSLocked() *int64 {
	var nextWake *int64
	for _, job := range s.store.Jobs {
		if job.Enabled && job.State.NextRunAtMS != nil {
			if nextWake == nil || *job.State.NextRunAtMS < *nextWake {
				nextWake = job.State.NextRunAtMS
			}
		}
	}
	return nextWake
}

func (s *Service) loadStore() error {
	s.store = &jobStore{Version: 1, Jobs: []Job{}}

	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, s.store)
}

// saveStore writes the store through a synced temp file and a rename so a
// crash never leaves a truncated file.
func (s *Service) saveStore() error {
	dir := filepath.Dir(s.storePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s.store, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := s.storePath + ".tmp"
	tmpFile, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.storePath); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if dirFile, err := os.Open(dir); err == nil {
		_ = dirFile.Sync()
		_ = dirFile.Close()
	}
	return nil
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload, deleteAfterRun bool) (*Job, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	if payload.To == "" {
		return nil, errors.New("job payload requires a recipient")
	}
	if payload.Kind == "" {
		payload.Kind = PayloadMessage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	job := Job{
		ID:       uuid.NewString(),
		Name:     name,
		Enabled:  true,
		Schedule: schedule,
		Payload:  payload,
		State: JobState{
			NextRunAtMS: nextRunAfter(&schedule, now, now),
		},
		CreatedAtMS:    now,
		UpdatedAtMS:    now,
		DeleteAfterRun: deleteAfterRun,
	}

	s.store.Jobs = append(s.store.Jobs, job)
	if err := s.saveStore(); err != nil {
		return nil, err
	}
	return &job, nil
}

// ScheduleReminder registers a one-shot reminder for to, due after delay.
// A pending reminder for the same recipient is reused.
func (s *Service) ScheduleReminder(to string, delay time.Duration, message string) (*Job, error) {
	s.mu.RLock()
	for _, job := range s.store.Jobs {
		if job.Enabled && job.Payload.Kind == PayloadReminder && job.Payload.To == to {
			existing := job
			s.mu.RUnlock()
			return &existing, nil
		}
	}
	s.mu.RUnlock()

	job, err := s.AddJob("reminder:"+to, At(time.Now().Add(delay)), Payload{
		Kind:    PayloadReminder,
		Message: message,
		To:      to,
	}, true)
	if err != nil {
		return nil, err
	}
	logger.InfoCF("cron", "Reminder scheduled", map[string]interface{}{
		logger.FieldJobID:  job.ID,
		logger.FieldChatID: to,
		"due_in":           delay.String(),
	})
	return job, nil
}

func (s *Service) RemoveJob(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.removeJobLocked(jobID) {
		return false
	}
	if err := s.saveStore(); err != nil {
		logger.ErrorCF("cron", "Failed to persist job store", map[string]interface{}{
			logger.FieldError: err.Error(),
		})
	}
	return true
}

func (s *Service) removeJobLocked(jobID string) bool {
	idx := s.findJobIndexLocked(jobID)
	if idx < 0 {
		return false
	}
	last := len(s.store.Jobs) - 1
	s.store.Jobs[idx] = s.store.Jobs[last]
	s.store.Jobs = s.store.Jobs[:last]
	return true
}

func (s *Service) findJobIndexLocked(jobID string) int {
	for i := range s.store.Jobs {
		if s.store.Jobs[i].ID == jobID {
			return i
		}
	}
	return -1
}

func (s *Service) EnableJob(jobID string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findJobIndexLocked(jobID)
	if idx < 0 {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	job := &s.store.Jobs[idx]
	job.Enabled = enabled
	job.UpdatedAtMS = time.Now().UnixMilli()
	if enabled {
		now := time.Now().UnixMilli()
		job.State.NextRunAtMS = nextRunAfter(&job.Schedule, now, now)
	} else {
		job.State.NextRunAtMS = nil
	}
	if err := s.saveStore(); err != nil {
		return nil, err
	}
	out := *job
	return &out, nil
}

func (s *Service) ListJobs(includeDisabled bool) []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Job, 0, len(s.store.Jobs))
	for _, job := range s.store.Jobs {
		if includeDisabled || job.Enabled {
			out = append(out, job)
		}
	}
	return out
}

func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:      s.runner.Running(),
		Jobs:         len(s.store.Jobs),
		NextWakeAtMS: s.nextWakeMSLocked(),
	}
	for _, job := range s.store.Jobs {
		if job.Enabled {
			st.EnabledJobs++
		}
		st.TotalRuns += job.State.TotalRuns
		st.TotalFailures += job.State.TotalFailures
		st.LatestDelayMS = max(st.LatestDelayMS, job.State.LastScheduleDelayMS)
		st.LatestDurationMS = max(st.LatestDurationMS, job.State.LastDurationMS)
	}
	return st
}

func (s *Service) nextSleepDuration(now time.Time) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nextWake := s.nextWakeMSLocked()
	if nextWake == nil {
		return s.opts.RunLoopMaxSleep
	}

	sleep := time.UnixMilli(*nextWake).Sub(now)
	if sleep < s.opts.RunLoopMinSleep {
		return s.opts.RunLoopMinSleep
	}
	if sleep > s.opts.RunLoopMaxSleep {
		return s.opts.RunLoopMaxSleep
	}
	return sleep
}

func (s *Service) getRuntimeOptions() RuntimeOptions {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

func (s *Service) markJobRunning(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[jobID]; ok {
		return false
	}
	s.running[jobID] = struct{}{}
	return true
}

func (s *Service) unmarkJobRunning(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, jobID)
}

func computeRetryBackoff(consecutiveFailures int64, base, maxBackoff time.Duration) time.Duration {
	if base <= 0 {
		base = defaultRetryBackoffBase
	}
	if maxBackoff <= 0 {
		maxBackoff = defaultRetryBackoffMax
	}
	if base > maxBackoff {
		base = maxBackoff
	}

	if consecutiveFailures <= 0 {
		return base
	}
	shift := min(consecutiveFailures-1, 16)
	backoff := time.Duration(float64(base) * math.Pow(2, float64(shift)))
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}
