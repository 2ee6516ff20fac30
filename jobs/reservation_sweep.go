package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
)

const (
	// TaskReservationSweep releases reservations whose expiry passed.
	TaskReservationSweep = "reservation:sweep"

	defaultSweepBatch = 500
	sweepLockTTL      = 5 * time.Minute
)

// ReservationSweepPayload configures a sweep run.
type ReservationSweepPayload struct {
	BatchSize int `json:"batch_size,omitempty"`
}

// ReservationSweeper releases lapsed reservations in batches.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context, asOf time.Time, limit int) (int, error)
}

// SweepLocker serialises sweep runs across workers.
type SweepLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*cache.Lease, error)
}

// ReservationSweepJob coordinates the expiry sweep.
type ReservationSweepJob struct {
	Service ReservationSweeper
	Locker  SweepLocker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReservationSweepJob constructs the job handler.
func NewReservationSweepJob(service ReservationSweeper, locker SweepLocker, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewReservationSweepTask constructs an Asynq task for the expiry sweep.
func NewReservationSweepTask(batchSize int) (*asynq.Task, error) {
	body, err := json.Marshal(ReservationSweepPayload{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReservationSweep, body, asynq.Queue(QueueDefault), asynq.MaxRetry(1)), nil
}

// Handle executes the sweep. A run that finds the lock held exits quietly; the
// next tick picks up whatever is left.
func (j *ReservationSweepJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("reservation sweep: dependencies not configured")
	}
	var payload ReservationSweepPayload
	if len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	_, err := j.Run(ctx, payload.BatchSize)
	return err
}

// Run sweeps until a batch comes back short and returns the number released.
func (j *ReservationSweepJob) Run(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = defaultSweepBatch
	}
	if j.Locker != nil {
		lease, err := j.Locker.Acquire(ctx, shared.ReservationSweepLockKey, sweepLockTTL)
		if errors.Is(err, cache.ErrLockHeld) {
			j.log().Info("reservation sweep already running")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				j.log().Warn("release sweep lock", slog.Any("error", err))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskReservationSweep)
	asOf := j.now()
	total := 0
	for {
		swept, err := j.Service.SweepExpired(ctx, asOf, batchSize)
		if err != nil {
			j.log().Error("sweep reservations", slog.Int("released", total), slog.Any("error", err))
			return total, tracker.End(err)
		}
		total += swept
		j.Metrics.AddExpired(swept)
		if swept < batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		j.log().Info("released expired reservations", slog.Int("count", total), slog.Time("as_of", asOf))
	}
	return total, tracker.End(nil)
}

func (j *ReservationSweepJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *ReservationSweepJob) log() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
