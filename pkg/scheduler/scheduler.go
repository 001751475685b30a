package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/newmatik/esocore-gatewaycore/pkg/redis"
)

// Scheduler owns the one gocron.Scheduler driving every periodic task in
// the process (heartbeat, telemetry flush, sensor poll, OTA poll) and
// the EventQueue interrupt-time input is funneled through. Grounded on
// ClusterCockpit-cc-backend's internal/taskmanager package, which wraps
// the same library the same way: one package-level scheduler, one
// RegisterXxx call per periodic concern.
type Scheduler struct {
	cron  gocron.Scheduler
	log   *log.Logger
	Queue *EventQueue
	redis *redis.Client
}

// New constructs a Scheduler. redisClient may be nil, in which case
// PublishStat is a no-op (useful in tests).
func New(logger *log.Logger, redisClient *redis.Client, queueCapacity int) (*Scheduler, error) {
	// One job at a time: a task that comes due while another runs waits.
	cron, err := gocron.NewScheduler(gocron.WithLimitConcurrentJobs(1, gocron.LimitModeWait))
	if err != nil {
		return nil, err
	}
	return &Scheduler{cron: cron, log: logger, Queue: NewEventQueue(queueCapacity), redis: redisClient}, nil
}

// RegisterPeriodic installs fn to run every interval, bounding it with a
// slice-duration context. The single-threaded cooperative model has no
// way to forcibly preempt a running task, so slice overruns are
// logged, not enforced; well-behaved tasks select on ctx.Done().
func (s *Scheduler) RegisterPeriodic(name string, interval, slice time.Duration, fn func(ctx context.Context)) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), slice)
			defer cancel()
			start := time.Now()
			fn(ctx)
			if elapsed := time.Since(start); elapsed > slice {
				s.log.Printf("task %s ran %s, exceeding its %s slice", name, elapsed, slice)
			}
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		s.log.Printf("register periodic task %s failed: %v", name, err)
	}
	return err
}

// Start begins executing every registered periodic task.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop drains any pending interrupt-time events and shuts the
// underlying cron scheduler down.
func (s *Scheduler) Stop() error {
	dropped := 0
	s.Queue.Drain(func(Event) { dropped++ })
	if dropped > 0 {
		s.log.Printf("dropped %d unprocessed interrupt-time events at shutdown", dropped)
	}
	return s.cron.Shutdown()
}

// PublishStat writes and publishes one integer counter to Redis,
// exporting subsystem state to the rest of the gateway.
func (s *Scheduler) PublishStat(key, field string, value int) {
	if s.redis == nil {
		return
	}
	if err := s.redis.WriteAndPublishInt(key, field, value); err != nil {
		s.log.Printf("publish stat %s.%s failed: %v", key, field, err)
	}
}

// PublishStats writes a whole snapshot of named counters in one pass.
func (s *Scheduler) PublishStats(key string, fields map[string]int) {
	for field, value := range fields {
		s.PublishStat(key, field, value)
	}
}
