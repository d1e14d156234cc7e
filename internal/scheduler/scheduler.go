package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"datasync-backend/internal/metrics"
	"datasync-backend/internal/rules"
)

// Registry owns one ticker goroutine per scheduled rule and a shared worker
// pool that executes the evaluations.
type Registry struct {
	mu        sync.Mutex
	jobs      map[string]*Job
	queue     chan jobRun
	evaluator *Evaluator
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	tick      func(intervalSeconds int) time.Duration
}

type Job struct {
	rule    rules.AlertRule
	stop    chan struct{}
	running atomic.Bool
}

type JobInfo struct {
	RuleID               string `json:"ruleId"`
	RuleName             string `json:"ruleName"`
	CheckIntervalSeconds int    `json:"checkIntervalSeconds"`
}

type jobRun struct {
	job *Job
}

func NewRegistry(evaluator *Evaluator, workers, queueSize int, logger *slog.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	reg := &Registry{
		jobs:      map[string]*Job{},
		queue:     make(chan jobRun, queueSize),
		evaluator: evaluator,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		tick: func(intervalSeconds int) time.Duration {
			return time.Duration(intervalSeconds) * time.Second
		},
	}
	for i := 0; i < workers; i++ {
		go reg.worker()
	}
	return reg
}

func (r *Registry) Stop() {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, job := range r.jobs {
		close(job.stop)
	}
	r.jobs = map[string]*Job{}
}

// Schedule registers a rule, replacing any existing job for the same id. The
// replaced job's in-flight result, if any, is discarded.
func (r *Registry) Schedule(rule rules.AlertRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.jobs[rule.ID]; ok {
		close(existing.stop)
	}
	job := &Job{rule: rule, stop: make(chan struct{})}
	r.jobs[rule.ID] = job
	go r.runTicker(job)
}

func (r *Registry) Unschedule(ruleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job, ok := r.jobs[ruleID]; ok {
		close(job.stop)
		delete(r.jobs, ruleID)
	}
}

// Reconcile makes the scheduled set match the given rules exactly. Used at
// startup and when a bus gap is suspected.
func (r *Registry) Reconcile(desired []rules.AlertRule) {
	want := make(map[string]struct{}, len(desired))
	for _, rule := range desired {
		want[rule.ID] = struct{}{}
		r.Schedule(rule)
	}
	r.mu.Lock()
	stale := []string{}
	for id := range r.jobs {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	r.mu.Unlock()
	for _, id := range stale {
		r.Unschedule(id)
	}
}

func (r *Registry) ListJobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobInfo, 0, len(r.jobs))
	for id, job := range r.jobs {
		jobs = append(jobs, JobInfo{
			RuleID:               id,
			RuleName:             job.rule.RuleName,
			CheckIntervalSeconds: job.rule.CheckInterval,
		})
	}
	return jobs
}

func (r *Registry) runTicker(job *Job) {
	ticker := time.NewTicker(r.tick(job.rule.CheckInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// One evaluation per rule at a time. A tick that lands
			// while the previous run is still in flight is skipped,
			// not queued.
			if !job.running.CompareAndSwap(false, true) {
				metrics.TicksSkippedTotal.Inc()
				r.logger.Warn("tick skipped, previous run still in flight",
					slog.String("rule_id", job.rule.ID),
					slog.String("rule_name", job.rule.RuleName),
				)
				continue
			}
			select {
			case r.queue <- jobRun{job: job}:
			case <-job.stop:
				job.running.Store(false)
				return
			case <-r.ctx.Done():
				job.running.Store(false)
				return
			}
		case <-job.stop:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) worker() {
	for {
		select {
		case run := <-r.queue:
			r.execute(run)
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) execute(run jobRun) {
	defer run.job.running.Store(false)
	discarded := func() bool {
		select {
		case <-run.job.stop:
			return true
		default:
			return false
		}
	}
	r.evaluator.Evaluate(r.ctx, run.job.rule, discarded)
}
