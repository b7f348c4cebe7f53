package queue

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"

	"rag-content-pipeline/internal/logger"
	"rag-content-pipeline/models"
	"rag-content-pipeline/services"
)

// Sweeper periodically re-enqueues pending experiments so runs dropped
// before enqueueing (crashed API, lost task) still get picked up. The
// pending->running compare-and-swap makes double enqueueing harmless.
type Sweeper struct {
	scheduler   *gocron.Scheduler
	client      *asynq.Client
	experiments services.ExperimentStore
	interval    time.Duration
}

func NewSweeper(client *asynq.Client, experiments services.ExperimentStore, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()

	return &Sweeper{
		scheduler:   s,
		client:      client,
		experiments: experiments,
		interval:    interval,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.scheduler.Every(s.interval).Tag("pending-experiments").Do(s.sweep)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	logger.Info("pending-experiment sweeper started", "interval", s.interval.String())
	return nil
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

func (s *Sweeper) sweep() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pending, err := s.experiments.ListByStatus(ctx, models.ExperimentPending)
	if err != nil {
		logger.Error("sweep failed to list pending experiments", "error", err)
		return err
	}

	for _, exp := range pending {
		// Only resurrect experiments old enough that their original
		// enqueue has clearly been lost.
		if time.Since(exp.CreatedAt) < s.interval {
			continue
		}
		task, err := NewEvaluateTask(exp.ID.Hex())
		if err != nil {
			logger.Error("sweep failed to build task", "experiment", exp.ID.Hex(), "error", err)
			continue
		}
		if _, err := s.client.EnqueueContext(ctx, task); err != nil {
			logger.Error("sweep failed to enqueue", "experiment", exp.ID.Hex(), "error", err)
			continue
		}
		logger.Info("re-enqueued pending experiment", "experiment", exp.ID.Hex(), "name", exp.Name)
	}
	return nil
}
