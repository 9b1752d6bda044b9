package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"quantbot-core/internal/logger"
)

// Job is a periodic task posted into the monitor event queue.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func()
}

// Scheduler fires jobs on independent tickers. Job bodies never run on the
// ticker goroutine: each firing is handed to post, which queues it on the
// event loop.
type Scheduler struct {
	jobs []Job
	post func(func()) bool
	log  *logrus.Entry
}

// NewScheduler creates a scheduler that queues firings through post.
// post returns false once the loop has stopped.
func NewScheduler(post func(func()) bool, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{post: post, log: log}
}

// Every registers fn to fire every interval. Non-positive intervals are ignored.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	if interval <= 0 {
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: fn})
}

// Jobs returns the registered jobs.
func (s *Scheduler) Jobs() []Job {
	return s.jobs
}

// Run starts one ticker per job and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if !s.post(job.Run) {
						return
					}
					s.log.WithField("job", job.Name).Debug("job queued")
				}
			}
		}(job)
	}
	wg.Wait()
}
