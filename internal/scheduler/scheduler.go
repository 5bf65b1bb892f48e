// Package scheduler runs fleet discovery at startup and on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"argus/internal/discovery"
	"argus/internal/models"
)

// Discoverer runs one discovery cycle.
type Discoverer interface {
	Run(ctx context.Context) (models.Fleet, error)
}

// Triggerer is told when a new fleet is available.
type Triggerer interface {
	Trigger()
}

type Scheduler struct {
	discoverer Discoverer
	after      Triggerer
	interval   time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	cycleNotify chan struct{}
}

type Option func(*Scheduler)

// WithTrigger asks t for an immediate poll after every completed cycle.
func WithTrigger(t Triggerer) Option {
	return func(s *Scheduler) {
		s.after = t
	}
}

// New schedules d every interval. A non-positive interval runs discovery
// once at startup only.
func New(d Discoverer, interval time.Duration, opts ...Option) *Scheduler {
	sch := &Scheduler{
		discoverer: d,
		interval:   interval,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch
}

// Start runs the scheduler: immediate discovery on startup, then every interval.
func (sch *Scheduler) Start(ctx context.Context) {
	sch.startOnce.Do(func() {
		ctx, sch.cancel = context.WithCancel(ctx)
		go sch.run(ctx)
	})
}

func (sch *Scheduler) Stop() {
	if sch.cancel != nil {
		sch.cancel()
		<-sch.done
	}
}

func (sch *Scheduler) run(ctx context.Context) {
	defer close(sch.done)

	sch.RunOnce(ctx)
	if sch.interval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(sch.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sch.RunOnce(ctx)
		}
	}
}

// RunOnce runs a single discovery cycle. A cycle already in progress, such
// as one started from the API, is left alone.
func (sch *Scheduler) RunOnce(ctx context.Context) {
	defer sch.notify()

	startTime := time.Now()
	servers, err := sch.discoverer.Run(ctx)
	switch {
	case errors.Is(err, discovery.ErrAlreadyRunning):
		log.Println("scheduler: discovery already running, skipping")
		return
	case err != nil:
		log.Printf("scheduler: discovery failed: %v", err)
		return
	}
	log.Printf("scheduler: discovery completed - %d servers (took %v)", len(servers), time.Since(startTime).Round(time.Millisecond))

	if sch.after != nil {
		sch.after.Trigger()
	}
}

func (sch *Scheduler) notify() {
	if sch.cycleNotify == nil {
		return
	}
	select {
	case sch.cycleNotify <- struct{}{}:
	default:
	}
}
