package task

import (
	"context"
	"sync"
	"time"
)

const defaultSchedulerInterval = time.Minute

// RunnerFunc performs one pass of background work.
type RunnerFunc func(context.Context)

// Scheduler runs a RunnerFunc on a fixed interval and whenever Trigger is called.
// Triggers that arrive while a pass is running collapse into one follow-up pass.
type Scheduler struct {
	interval      time.Duration
	runner        RunnerFunc
	trigger       chan struct{}
	runOnShutdown bool
	controlMutex  sync.Mutex
	cancel        context.CancelFunc
	done          chan struct{}
}

func NewScheduler(interval time.Duration, runner RunnerFunc) *Scheduler {
	if interval <= 0 {
		interval = defaultSchedulerInterval
	}
	return &Scheduler{
		interval: interval,
		runner:   runner,
		trigger:  make(chan struct{}, 1),
	}
}

// WithFinalRun makes Stop perform one last pass after the loop exits.
func (scheduler *Scheduler) WithFinalRun() *Scheduler {
	scheduler.runOnShutdown = true
	return scheduler
}

func (scheduler *Scheduler) Start(ctx context.Context) {
	if scheduler == nil || scheduler.runner == nil {
		return
	}
	scheduler.controlMutex.Lock()
	if scheduler.cancel != nil {
		scheduler.controlMutex.Unlock()
		return
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	scheduler.cancel = cancel
	done := make(chan struct{})
	scheduler.done = done
	scheduler.controlMutex.Unlock()

	go scheduler.loop(runtimeCtx, done)
}

// Running reports whether the loop has been started and not stopped.
func (scheduler *Scheduler) Running() bool {
	if scheduler == nil {
		return false
	}
	scheduler.controlMutex.Lock()
	defer scheduler.controlMutex.Unlock()
	return scheduler.cancel != nil
}

func (scheduler *Scheduler) Trigger() {
	if scheduler == nil {
		return
	}
	select {
	case scheduler.trigger <- struct{}{}:
	default:
	}
}

func (scheduler *Scheduler) Stop() {
	if scheduler == nil {
		return
	}
	scheduler.controlMutex.Lock()
	cancel := scheduler.cancel
	done := scheduler.done
	scheduler.cancel = nil
	scheduler.done = nil
	scheduler.controlMutex.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (scheduler *Scheduler) loop(ctx context.Context, done chan struct{}) {
	timer := time.NewTimer(scheduler.interval)
	defer close(done)
	defer stopTimer(timer)

	for {
		select {
		case <-ctx.Done():
			if scheduler.runOnShutdown {
				scheduler.run(context.WithoutCancel(ctx))
			}
			return
		case <-scheduler.trigger:
			scheduler.run(ctx)
		case <-timer.C:
			scheduler.run(ctx)
		}
		stopTimer(timer)
		timer.Reset(scheduler.interval)
	}
}

func (scheduler *Scheduler) run(ctx context.Context) {
	if scheduler.runner == nil {
		return
	}
	scheduler.runner(ctx)
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
